package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Mobeen-Dev/indexer-seo/internal/domain"
)

// minCredentialLen guards against placeholder values; anything shorter
// cannot be a real encrypted credential.
const minCredentialLen = 10

// Reason vocabulary recorded on provider reports. The detail behind a
// failure stays in the provider result's error field.
const (
	reasonMissingCredentials = "missing_credentials"
	reasonFailed             = "failed"
)

// DispatchService runs a prepared batch against Google and Bing. The two
// providers are isolated: each reports its own outcome and a failure on one
// side never blocks the other.
type DispatchService struct {
	Google   domain.GoogleSubmitter
	Bing     domain.BingSubmitter
	Next     domain.JobEnqueuer
	Validate *validator.Validate
}

// NewDispatchService constructs a DispatchService with its dependencies.
func NewDispatchService(g domain.GoogleSubmitter, b domain.BingSubmitter, next domain.JobEnqueuer) DispatchService {
	return DispatchService{Google: g, Bing: b, Next: next, Validate: validator.New()}
}

func credentialValid(c string) bool { return len(c) > minCredentialLen }

// Handle processes one indexing batch. A shop with no valid credentials
// completes without producing a reconciliation job; otherwise both provider
// reports are forwarded to the result stage even when either side failed.
func (s DispatchService) Handle(ctx domain.Context, jobID string, data []byte) (Outcome, error) {
	var job domain.UrlIndexBatchJob
	if err := json.Unmarshal(data, &job); err != nil {
		return Outcome{}, fmt.Errorf("op=dispatch.handle: %w: %v", domain.ErrInvalidPayload, err)
	}
	if err := s.Validate.Struct(job); err != nil {
		return Outcome{}, fmt.Errorf("op=dispatch.handle: %w: %v", domain.ErrInvalidPayload, err)
	}

	googleValid := credentialValid(job.Auth.GoogleConfig)
	bingValid := credentialValid(job.Auth.BingAPIKey)
	if !googleValid && !bingValid {
		slog.Warn("no valid credentials for shop",
			slog.String("shop", job.Shop),
			slog.String("job_id", jobID))
		return Outcome{Message: "No valid credentials"}, nil
	}

	google := domain.GoogleReport{Reason: reasonMissingCredentials}
	if googleValid {
		res := s.Google.ProcessJob(ctx, job)
		google = domain.GoogleReport{Executed: true, Success: res.Success, Result: &res}
		if !res.Success {
			google.Reason = reasonFailed
		}
	}

	bing := domain.BingReport{Reason: reasonMissingCredentials}
	if bingValid {
		res := s.Bing.ProcessJob(ctx, job)
		bing = domain.BingReport{Executed: true, Success: res.Success, Result: &res}
		if !res.Success {
			bing.Reason = reasonFailed
		}
	}

	// Provider quota was already spent; only a shutdown may abandon the job
	// before the reconciliation stage is seeded.
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}

	result := domain.IndexResultJob{
		Shop:        job.Shop,
		JobID:       jobID,
		ProcessedAt: time.Now().UTC(),
		Google:      google,
		Bing:        bing,
	}
	nextID, err := s.Next.Enqueue(ctx, job.Shop, result)
	if err != nil {
		return Outcome{}, fmt.Errorf("op=dispatch.handle: enqueue: %w", err)
	}

	slog.Info("provider dispatch completed",
		slog.String("shop", job.Shop),
		slog.String("job_id", jobID),
		slog.String("next_job_id", nextID),
		slog.Bool("google_executed", google.Executed),
		slog.Bool("bing_executed", bing.Executed))

	return Outcome{
		Message:       "Provider dispatch completed",
		URLsProcessed: job.Actions.Total(),
		Extra: map[string]string{
			"google_executed": strconv.FormatBool(google.Executed),
			"bing_executed":   strconv.FormatBool(bing.Executed),
			"next_job_id":     nextID,
		},
	}, nil
}
