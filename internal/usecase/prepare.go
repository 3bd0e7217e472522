// Package usecase contains the stage services of the indexing pipeline:
// data preparation, provider dispatch and result reconciliation.
package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/Mobeen-Dev/indexer-seo/internal/domain"
)

// Outcome is what a stage reports on a successful terminal update.
type Outcome struct {
	Message       string
	URLsProcessed int
	Extra         map[string]string
}

// defaultProviderLimit applies when a shop has no googleLimit/bingLimit
// setting at preparation time.
const defaultProviderLimit = 200

// fetchHeadroom widens the DB fetch past the provider limit so quota
// rejections surface downstream instead of being silently trimmed.
const fetchHeadroom = 1.05

// PrepareService builds indexing batches: it loads shop credentials, fetches
// pending URLs and hands the batch to the dispatch stage.
type PrepareService struct {
	Auth     domain.AuthRepository
	URLs     domain.URLRepository
	Next     domain.JobEnqueuer
	Validate *validator.Validate

	// FilterGoogleIndexed restricts the fetch to rows Google has not
	// confirmed yet.
	FilterGoogleIndexed bool
}

// NewPrepareService constructs a PrepareService with its dependencies.
func NewPrepareService(a domain.AuthRepository, u domain.URLRepository, next domain.JobEnqueuer, filterGoogleIndexed bool) PrepareService {
	return PrepareService{
		Auth:                a,
		URLs:                u,
		Next:                next,
		Validate:            validator.New(),
		FilterGoogleIndexed: filterGoogleIndexed,
	}
}

// Handle processes one seed job. Missing auth and empty URL sets complete
// the job with an explanatory message instead of failing it; both are
// expected states, not errors.
func (s PrepareService) Handle(ctx domain.Context, jobID string, data []byte) (Outcome, error) {
	var seed domain.SeedJob
	if err := json.Unmarshal(data, &seed); err != nil {
		return Outcome{}, fmt.Errorf("op=prepare.handle: %w: %v", domain.ErrInvalidPayload, err)
	}
	if err := s.Validate.Struct(seed); err != nil {
		return Outcome{}, fmt.Errorf("op=prepare.handle: %w: %v", domain.ErrInvalidPayload, err)
	}

	auth, err := s.Auth.Get(ctx, seed.Shop)
	if errors.Is(err, domain.ErrNotFound) {
		slog.Warn("no auth for shop", slog.String("shop", seed.Shop), slog.String("job_id", jobID))
		return Outcome{Message: "No Auth"}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("op=prepare.handle: %w", err)
	}

	bingLimit := auth.Settings.BingLimitOr(defaultProviderLimit)
	googleLimit := auth.Settings.GoogleLimitOr(defaultProviderLimit)
	finalLimit := int(float64(max(bingLimit, googleLimit)) * fetchHeadroom)

	entries, err := s.URLs.FetchPending(ctx, seed.Shop, finalLimit, s.FilterGoogleIndexed)
	if err != nil {
		return Outcome{}, fmt.Errorf("op=prepare.handle: %w", err)
	}

	var actions domain.ActionSet
	for _, e := range entries {
		item := domain.UrlItem{WebURL: e.WebURL, Attempts: e.Attempts}
		switch e.IndexAction {
		case domain.ActionIndex:
			actions.Index = append(actions.Index, item)
		case domain.ActionDelete:
			actions.Delete = append(actions.Delete, item)
		}
	}

	if actions.Total() == 0 {
		slog.Info("no pending URLs", slog.String("shop", seed.Shop), slog.String("job_id", jobID))
		return Outcome{Message: "No URLs to process"}, nil
	}

	batch := domain.UrlIndexBatchJob{
		JobType: domain.JobTypeURLIndexingBatch,
		Version: 1,
		Shop:    seed.Shop,
		Auth:    auth,
		Actions: actions,
	}
	nextID, err := s.Next.Enqueue(ctx, seed.Shop, batch)
	if err != nil {
		return Outcome{}, fmt.Errorf("op=prepare.handle: enqueue: %w", err)
	}

	slog.Info("indexing batch queued",
		slog.String("shop", seed.Shop),
		slog.String("job_id", jobID),
		slog.String("next_job_id", nextID),
		slog.Int("index", len(actions.Index)),
		slog.Int("delete", len(actions.Delete)),
		slog.Int("limit", finalLimit))

	return Outcome{
		Message:       "Indexing batch queued",
		URLsProcessed: actions.Total(),
		Extra:         map[string]string{"next_job_id": nextID},
	}, nil
}
