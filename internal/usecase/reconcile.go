package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/Mobeen-Dev/indexer-seo/internal/domain"
)

// ReconcileService writes provider confirmations back to the URL store. The
// flag semantics are monotonic: a confirmed flag is only ever flipped to
// true, and a row completes only once both providers have confirmed in the
// same run.
type ReconcileService struct {
	URLs     domain.URLRepository
	Validate *validator.Validate
}

// NewReconcileService constructs a ReconcileService with its dependencies.
func NewReconcileService(u domain.URLRepository) ReconcileService {
	return ReconcileService{URLs: u, Validate: validator.New()}
}

// splitConfirmations partitions confirmed URLs into both/google-only/
// bing-only sets.
func splitConfirmations(googleURLs, bingURLs []string) (both, googleOnly, bingOnly []string) {
	bingSet := make(map[string]struct{}, len(bingURLs))
	for _, u := range bingURLs {
		bingSet[u] = struct{}{}
	}
	googleSet := make(map[string]struct{}, len(googleURLs))
	for _, u := range googleURLs {
		googleSet[u] = struct{}{}
		if _, ok := bingSet[u]; ok {
			both = append(both, u)
		} else {
			googleOnly = append(googleOnly, u)
		}
	}
	for _, u := range bingURLs {
		if _, ok := googleSet[u]; !ok {
			bingOnly = append(bingOnly, u)
		}
	}
	return both, googleOnly, bingOnly
}

// Handle processes one reconciliation job: three bulk updates, one per
// confirmation set.
func (s ReconcileService) Handle(ctx domain.Context, jobID string, data []byte) (Outcome, error) {
	var job domain.IndexResultJob
	if err := json.Unmarshal(data, &job); err != nil {
		return Outcome{}, fmt.Errorf("op=reconcile.handle: %w: %v", domain.ErrInvalidPayload, err)
	}
	if err := s.Validate.Struct(job); err != nil {
		return Outcome{}, fmt.Errorf("op=reconcile.handle: %w: %v", domain.ErrInvalidPayload, err)
	}

	googleURLs := job.Google.SuccessfulURLs()
	bingURLs := job.Bing.SuccessfulURLs()
	both, googleOnly, bingOnly := splitConfirmations(googleURLs, bingURLs)

	slog.Info("reconciling indexing results",
		slog.String("shop", job.Shop),
		slog.String("job_id", jobID),
		slog.Int("both", len(both)),
		slog.Int("google_only", len(googleOnly)),
		slog.Int("bing_only", len(bingOnly)))

	nBoth, err := s.URLs.MarkIndexedBoth(ctx, job.Shop, both)
	if err != nil {
		return Outcome{}, fmt.Errorf("op=reconcile.handle: both: %w", err)
	}
	nGoogle, err := s.URLs.MarkGoogleIndexed(ctx, job.Shop, googleOnly)
	if err != nil {
		return Outcome{}, fmt.Errorf("op=reconcile.handle: google: %w", err)
	}
	nBing, err := s.URLs.MarkBingIndexed(ctx, job.Shop, bingOnly)
	if err != nil {
		return Outcome{}, fmt.Errorf("op=reconcile.handle: bing: %w", err)
	}

	total := len(both) + len(googleOnly) + len(bingOnly)
	slog.Info("reconciliation completed",
		slog.String("shop", job.Shop),
		slog.String("job_id", jobID),
		slog.Int64("updated_both", nBoth),
		slog.Int64("updated_google", nGoogle),
		slog.Int64("updated_bing", nBing))

	return Outcome{
		Message:       "Indexing results saved",
		URLsProcessed: total,
		Extra: map[string]string{
			"updated_both":   strconv.FormatInt(nBoth, 10),
			"updated_google": strconv.FormatInt(nGoogle, 10),
			"updated_bing":   strconv.FormatInt(nBing, 10),
		},
	}, nil
}
