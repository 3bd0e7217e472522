// Package google submits URL notifications to the Google Indexing API.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/indexing/v3"
	"google.golang.org/api/option"

	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/observability"
	"github.com/Mobeen-Dev/indexer-seo/internal/domain"
)

const (
	// batchSize stays well under the API's 1000-notification ceiling.
	batchSize   = 100
	maxParallel = 10
	// defaultDailyLimit applies when the shop has no googleLimit setting.
	defaultDailyLimit = 10
	// quotaHeadroom lets a few extra URLs through so quota rejections are
	// observed and recorded rather than silently avoided.
	quotaHeadroom = 1.10

	actionURLUpdated = "URL_UPDATED"
	actionURLDeleted = "URL_DELETED"
)

// Client dispatches prepared batches to the Indexing API. Credentials arrive
// encrypted inside the job and are decrypted per run.
type Client struct {
	decryptor domain.Decryptor

	// newService is swapped in tests to point the generated client at a
	// local server.
	newService func(ctx context.Context, credentialsJSON []byte) (*indexing.Service, error)
}

// NewClient builds a Client around the given credential decryptor.
func NewClient(d domain.Decryptor) *Client {
	return &Client{
		decryptor: d,
		newService: func(ctx context.Context, credentialsJSON []byte) (*indexing.Service, error) {
			return indexing.NewService(ctx,
				option.WithCredentialsJSON(credentialsJSON),
				option.WithScopes(indexing.IndexingScope),
			)
		},
	}
}

type target struct {
	url      string
	action   string
	attempts int
}

// ProcessJob submits the job's URLs to Google. Per-URL failures land inside
// the result; only setup problems (decrypt, auth) abort the whole run, and
// even those are reported in the result rather than as an error so the Bing
// half of the job is never suppressed.
func (c *Client) ProcessJob(ctx domain.Context, job domain.UrlIndexBatchJob) domain.GoogleJobResult {
	res := domain.GoogleJobResult{JobType: job.JobType, Shop: job.Shop}

	raw, err := c.decryptor.Decrypt(job.Auth.GoogleConfig)
	if err != nil {
		res.Error = fmt.Sprintf("decrypt googleConfig: %v", err)
		return res
	}
	if !json.Valid([]byte(raw)) {
		res.Error = "googleConfig is not a valid service account document"
		return res
	}

	svc, err := c.newService(ctx, []byte(raw))
	if err != nil {
		res.Error = fmt.Sprintf("google auth: %v", err)
		return res
	}

	limit := job.Auth.Settings.GoogleLimitOr(defaultDailyLimit)
	effective := int(float64(limit) * quotaHeadroom)
	targets := prepareTargets(job.Actions, effective)

	batch := &domain.GoogleBatchResult{
		TotalURLs: len(targets),
		StartTime: time.Now().UTC(),
	}
	res.Success = true
	res.Results = batch

	slog.Info("google job started",
		slog.String("shop", job.Shop),
		slog.Int("urls", len(targets)),
		slog.Int("limit", limit),
		slog.Int("with_buffer", effective))

	var mu sync.Mutex
	for start := 0; start < len(targets); start += batchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+batchSize, len(targets))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallel)
		for _, t := range targets[start:end] {
			t := t
			g.Go(func() error {
				r := c.publish(gctx, svc, t)
				observability.URLsSubmittedTotal.WithLabelValues("google", string(r.Status)).Inc()
				mu.Lock()
				batch.Add(r)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}
	batch.Finalize()

	slog.Info("google job completed",
		slog.String("shop", job.Shop),
		slog.Int("successful", batch.Successful),
		slog.Int("failed", batch.Failed),
		slog.Int("quota_exceeded", batch.QuotaExceeded))
	return res
}

// prepareTargets flattens the action set into publish targets, INDEX first,
// truncated at the effective limit.
func prepareTargets(actions domain.ActionSet, effective int) []target {
	var targets []target
	for _, it := range actions.Index {
		if len(targets) >= effective {
			break
		}
		targets = append(targets, target{url: it.WebURL, action: actionURLUpdated, attempts: it.Attempts})
	}
	for _, it := range actions.Delete {
		if len(targets) >= effective {
			break
		}
		targets = append(targets, target{url: it.WebURL, action: actionURLDeleted, attempts: it.Attempts})
	}
	return targets
}

func (c *Client) publish(ctx context.Context, svc *indexing.Service, t target) domain.URLResult {
	start := time.Now()
	_, err := svc.UrlNotifications.Publish(&indexing.UrlNotification{
		Url:  t.url,
		Type: t.action,
	}).Context(ctx).Do()
	observability.ProviderRequestDuration.WithLabelValues("google").Observe(time.Since(start).Seconds())

	r := domain.URLResult{
		URL:       t.url,
		Action:    t.action,
		Attempts:  t.attempts,
		Timestamp: time.Now().UTC(),
	}
	if err == nil {
		r.Status = domain.StatusSuccess
		r.HTTPStatus = http.StatusOK
		return r
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		r.HTTPStatus = gerr.Code
		if gerr.Code == http.StatusTooManyRequests {
			r.Status = domain.StatusQuotaExceeded
			r.ErrorMessage = "API quota exceeded"
			slog.Warn("google quota exceeded", slog.String("url", t.url))
			return r
		}
		r.Status = domain.StatusFailed
		r.ErrorMessage = gerr.Message
		slog.Error("google publish failed",
			slog.String("url", t.url),
			slog.Int("status", gerr.Code),
			slog.String("error", gerr.Message))
		return r
	}

	r.Status = domain.StatusFailed
	r.ErrorMessage = err.Error()
	slog.Error("google publish error", slog.String("url", t.url), slog.Any("error", err))
	return r
}
