// Package bing submits URL batches to the Bing Webmaster SubmitUrlbatch API.
package bing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/observability"
	"github.com/Mobeen-Dev/indexer-seo/internal/domain"
)

const (
	defaultEndpoint = "https://ssl.bing.com/webmaster/api.svc/json/SubmitUrlbatch"
	// batchSize stays under Bing's recommended 225-250 URLs per submission.
	batchSize         = 225
	defaultDailyLimit = 10
	defaultRetryLimit = 3
	quotaHeadroom     = 1.10
)

// retryDelays index by attempt number; the last entry repeats.
var retryDelays = []time.Duration{1 * time.Second, 12 * time.Second, 24 * time.Second}

// Client dispatches URL batches to Bing. The API key arrives encrypted
// inside the job and is decrypted per run.
type Client struct {
	decryptor      domain.Decryptor
	httpClient     *http.Client
	endpoint       string
	requestTimeout time.Duration
	maxConcurrent  int

	// sleep is swapped in tests to skip real retry delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client around the given credential decryptor.
func NewClient(d domain.Decryptor, requestTimeout time.Duration, maxConcurrent int) *Client {
	return &Client{
		decryptor:      d,
		httpClient:     &http.Client{},
		endpoint:       defaultEndpoint,
		requestTimeout: requestTimeout,
		maxConcurrent:  maxConcurrent,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// normalizeSiteURL converts a shop domain to the site URL format Bing
// expects: http, www-prefixed, no trailing slash.
func normalizeSiteURL(raw string) string {
	s := strings.ReplaceAll(raw, "https://", "")
	s = strings.ReplaceAll(s, "http://", "")
	s = strings.TrimRight(s, "/")
	if !strings.HasPrefix(s, "www.") {
		s = "www." + s
	}
	return "http://" + s
}

// prepareURLs flattens INDEX actions up to the effective limit. Bing has no
// delete endpoint, so DELETE actions are logged and skipped.
func prepareURLs(actions domain.ActionSet, effective int) []string {
	var urls []string
	for _, it := range actions.Index {
		if len(urls) >= effective {
			break
		}
		urls = append(urls, it.WebURL)
	}
	if n := len(actions.Delete); n > 0 {
		slog.Warn("bing does not support URL deletion, skipping DELETE actions",
			slog.Int("count", n))
	}
	return urls
}

// ProcessJob submits the job's INDEX URLs to Bing in chunks. Chunk failures
// land inside the result; only setup problems (decrypt) abort the run, and
// even those are reported in the result rather than as an error so the
// Google half of the job is never suppressed.
func (c *Client) ProcessJob(ctx domain.Context, job domain.UrlIndexBatchJob) domain.BingJobResult {
	res := domain.BingJobResult{JobType: job.JobType, Shop: job.Shop}

	apiKey, err := c.decryptor.Decrypt(job.Auth.BingAPIKey)
	if err != nil {
		res.Error = fmt.Sprintf("decrypt bingApiKey: %v", err)
		return res
	}

	siteURL := normalizeSiteURL(job.Shop)
	limit := job.Auth.Settings.BingLimitOr(defaultDailyLimit)
	retryLimit := job.Auth.Settings.RetryLimitOr(defaultRetryLimit)
	effective := int(float64(limit) * quotaHeadroom)
	urls := prepareURLs(job.Actions, effective)

	batch := &domain.BingBatchResult{StartTime: time.Now().UTC()}
	res.Success = true
	res.Results = batch

	if len(urls) == 0 {
		slog.Warn("bing job has no URLs to process", slog.String("shop", job.Shop))
		batch.Finalize()
		return res
	}

	batch.TotalURLs = len(urls)
	var chunks [][]string
	for start := 0; start < len(urls); start += batchSize {
		chunks = append(chunks, urls[start:min(start+batchSize, len(urls))])
	}
	batch.TotalBatches = len(chunks)

	slog.Info("bing job started",
		slog.String("shop", job.Shop),
		slog.String("site_url", siteURL),
		slog.Int("urls", len(urls)),
		slog.Int("batches", len(chunks)),
		slog.Int("limit", limit),
		slog.Int("with_buffer", effective))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			r := c.submitBatch(gctx, apiKey, siteURL, chunk, i+1, retryLimit)
			observability.URLsSubmittedTotal.WithLabelValues("bing", string(r.Status)).Add(float64(r.URLCount))
			mu.Lock()
			batch.Add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	batch.Finalize()

	slog.Info("bing job completed",
		slog.String("shop", job.Shop),
		slog.Int("successful_batches", batch.SuccessfulBatches),
		slog.Int("failed_batches", batch.FailedBatches),
		slog.Int("rate_limited", batch.RateLimited),
		slog.Int("quota_exceeded", batch.QuotaExceeded))
	return res
}

func (c *Client) submitBatch(ctx context.Context, apiKey, siteURL string, urls []string, batchNumber, retryLimit int) domain.BingBatchURLResult {
	result := domain.BingBatchURLResult{
		BatchNumber: batchNumber,
		URLs:        urls,
		URLCount:    len(urls),
	}

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		result.Timestamp = time.Now().UTC()

		slog.Info("submitting bing batch",
			slog.Int("batch", batchNumber),
			slog.Int("urls", len(urls)),
			slog.Int("attempt", attempt))

		status, data, err := c.post(ctx, apiKey, siteURL, urls)
		if err != nil {
			if ctx.Err() != nil {
				result.Status = domain.StatusFailed
				result.ErrorMessage = "cancelled"
				return result
			}
			slog.Error("bing batch transport error",
				slog.Int("batch", batchNumber),
				slog.Any("error", err))
			if attempt < retryLimit && c.retryAfter(ctx, attempt) {
				continue
			}
			result.Status = domain.StatusFailed
			result.ErrorMessage = fmt.Sprintf("request error: %v", err)
			return result
		}

		result.HTTPStatus = status
		result.ResponseData = data

		switch {
		case status == http.StatusOK:
			result.Status = domain.StatusSuccess
			return result
		case status == http.StatusTooManyRequests:
			slog.Warn("bing rate limited", slog.Int("batch", batchNumber))
			if attempt < retryLimit && c.retryAfter(ctx, attempt) {
				continue
			}
			result.Status = domain.StatusRateLimited
			result.ErrorMessage = "Rate limit exceeded"
			return result
		case status == http.StatusForbidden:
			slog.Error("bing quota exceeded or invalid API key", slog.Int("batch", batchNumber))
			result.Status = domain.StatusQuotaExceeded
			result.ErrorMessage = "Quota exceeded or invalid API key"
			return result
		default:
			slog.Error("bing batch failed",
				slog.Int("batch", batchNumber),
				slog.Int("status", status))
			if status >= http.StatusInternalServerError && attempt < retryLimit && c.retryAfter(ctx, attempt) {
				continue
			}
			result.Status = domain.StatusFailed
			result.ErrorMessage = fmt.Sprintf("HTTP %d", status)
			return result
		}
	}
}

// retryAfter sleeps for the attempt's backoff delay; false means the context
// died while waiting.
func (c *Client) retryAfter(ctx context.Context, attempt int) bool {
	delay := retryDelays[min(attempt, len(retryDelays)-1)]
	slog.Info("retrying bing batch", slog.Duration("after", delay))
	return c.sleep(ctx, delay) == nil
}

func (c *Client) post(ctx context.Context, apiKey, siteURL string, urls []string) (int, any, error) {
	body, err := json.Marshal(map[string]any{
		"siteUrl": siteURL,
		"urlList": urls,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("op=bing.post: marshal: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	endpoint := c.endpoint + "?apikey=" + url.QueryEscape(apiKey)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("op=bing.post: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	observability.ProviderRequestDuration.WithLabelValues("bing").Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, nil, fmt.Errorf("op=bing.post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, nil
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		data = map[string]string{"raw_response": string(raw)}
	}
	return resp.StatusCode, data, nil
}
