package postgres

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"

	"github.com/Mobeen-Dev/indexer-seo/internal/domain"
)

// URLRepo reads pending URL entries and applies reconciliation updates.
// Bulk updates retry a few times with backoff because they run at the very
// end of the pipeline, after quota has already been spent with the providers.
type URLRepo struct {
	Pool PgxPool

	// newBackOff is swapped in tests to avoid multi-second waits.
	newBackOff func() backoff.BackOff
}

// NewURLRepo constructs a URLRepo with the given pool.
func NewURLRepo(p PgxPool) *URLRepo {
	return &URLRepo{Pool: p, newBackOff: defaultUpdateBackOff}
}

// defaultUpdateBackOff allows 3 attempts total, waiting between 4s and 10s.
func defaultUpdateBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 4 * time.Second
	bo.MaxInterval = 10 * time.Second
	return backoff.WithMaxRetries(bo, 2)
}

// FetchPending returns up to limit pending URLs for a shop, excluding IGNORE
// entries, most-attempted first. When onlyNotGoogleIndexed is set, rows whose
// Google flag is already true are filtered out as well.
func (r *URLRepo) FetchPending(ctx domain.Context, shop string, limit int, onlyNotGoogleIndexed bool) ([]domain.UrlEntry, error) {
	tracer := otel.Tracer("repo.urls")
	ctx, span := tracer.Start(ctx, "urls.FetchPending")
	defer span.End()
	q := `SELECT "webUrl", "indexAction", COALESCE(attempts,0) FROM "UrlEntry" WHERE shop=$1 AND status=$2 AND "indexAction" <> $3`
	if onlyNotGoogleIndexed {
		q += ` AND "isGoogleIndexed" = FALSE`
	}
	q += ` ORDER BY attempts DESC LIMIT $4`
	rows, err := r.Pool.Query(ctx, q, shop, domain.UrlPending, domain.ActionIgnore, limit)
	if err != nil {
		return nil, fmt.Errorf("op=urls.fetch_pending: %w", err)
	}
	defer rows.Close()
	var entries []domain.UrlEntry
	for rows.Next() {
		var e domain.UrlEntry
		if err := rows.Scan(&e.WebURL, &e.IndexAction, &e.Attempts); err != nil {
			return nil, fmt.Errorf("op=urls.fetch_pending: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=urls.fetch_pending: rows: %w", err)
	}
	return entries, nil
}

// MarkIndexedBoth marks URLs confirmed by both providers: flips both flags,
// completes the row and stamps lastIndexedAt.
func (r *URLRepo) MarkIndexedBoth(ctx domain.Context, shop string, urls []string) (int64, error) {
	tracer := otel.Tracer("repo.urls")
	ctx, span := tracer.Start(ctx, "urls.MarkIndexedBoth")
	defer span.End()
	q := `UPDATE "UrlEntry" SET "isGoogleIndexed"=TRUE, "isBingIndexed"=TRUE, status=$3, "lastIndexedAt"=$4 WHERE shop=$1 AND "webUrl" = ANY($2)`
	return r.bulkUpdate(ctx, "urls.mark_both", q, shop, urls, domain.UrlCompleted, time.Now().UTC())
}

// MarkGoogleIndexed flips the Google flag and stamps lastIndexedAt on rows
// whose flag is still false.
func (r *URLRepo) MarkGoogleIndexed(ctx domain.Context, shop string, urls []string) (int64, error) {
	tracer := otel.Tracer("repo.urls")
	ctx, span := tracer.Start(ctx, "urls.MarkGoogleIndexed")
	defer span.End()
	q := `UPDATE "UrlEntry" SET "isGoogleIndexed"=TRUE, "lastIndexedAt"=$3 WHERE shop=$1 AND "webUrl" = ANY($2) AND "isGoogleIndexed" = FALSE`
	return r.bulkUpdate(ctx, "urls.mark_google", q, shop, urls, time.Now().UTC())
}

// MarkBingIndexed flips the Bing flag on rows whose flag is still false.
// Bing confirmations alone do not stamp lastIndexedAt.
func (r *URLRepo) MarkBingIndexed(ctx domain.Context, shop string, urls []string) (int64, error) {
	tracer := otel.Tracer("repo.urls")
	ctx, span := tracer.Start(ctx, "urls.MarkBingIndexed")
	defer span.End()
	q := `UPDATE "UrlEntry" SET "isBingIndexed"=TRUE WHERE shop=$1 AND "webUrl" = ANY($2) AND "isBingIndexed" = FALSE`
	return r.bulkUpdate(ctx, "urls.mark_bing", q, shop, urls)
}

func (r *URLRepo) bulkUpdate(ctx domain.Context, op, q, shop string, urls []string, extra ...any) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	args := append([]any{shop, urls}, extra...)
	var affected int64
	err := backoff.Retry(func() error {
		tag, err := r.Pool.Exec(ctx, q, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	}, backoff.WithContext(r.newBackOff(), ctx))
	if err != nil {
		return 0, fmt.Errorf("op=%s: %w", op, err)
	}
	return affected, nil
}
