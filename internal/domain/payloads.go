package domain

import "time"

// Stage payloads. These are the JSON documents stored under the envelope
// "data" field; the stream entry itself only carries routing.

// JobTypeURLIndexingBatch tags the L1 output envelope. The jobType/version
// pair is the migration hook for future payload revisions.
const JobTypeURLIndexingBatch = "URL_INDEXING_BATCH"

// SeedJob is the scheduler's L1 input payload.
type SeedJob struct {
	Shop        string    `json:"shop" validate:"required"`
	Action      string    `json:"action"`
	Priority    string    `json:"priority"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// UrlIndexBatchJob is the L2 input payload: per-shop auth (credentials still
// encrypted) plus the pending URLs partitioned by action.
type UrlIndexBatchJob struct {
	JobType string    `json:"jobType" validate:"required,eq=URL_INDEXING_BATCH"`
	Version int       `json:"version" validate:"required"`
	Shop    string    `json:"shop" validate:"required"`
	Auth    Auth      `json:"auth"`
	Actions ActionSet `json:"actions"`
}

// Result statuses shared by both providers.
type ResultStatus string

const (
	StatusSuccess       ResultStatus = "success"
	StatusFailed        ResultStatus = "failed"
	StatusQuotaExceeded ResultStatus = "quota_exceeded"
	StatusRateLimited   ResultStatus = "rate_limited"
	StatusSkipped       ResultStatus = "skipped"
)

// URLResult is the outcome of a single Google publish call.
type URLResult struct {
	URL          string       `json:"url"`
	Action       string       `json:"action"`
	Status       ResultStatus `json:"status"`
	Attempts     int          `json:"attempts"`
	ErrorMessage string       `json:"error_message,omitempty"`
	HTTPStatus   int          `json:"http_status,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// GoogleBatchResult aggregates per-URL outcomes for one job.
type GoogleBatchResult struct {
	TotalURLs     int         `json:"total_urls"`
	Successful    int         `json:"successful"`
	Failed        int         `json:"failed"`
	QuotaExceeded int         `json:"quota_exceeded"`
	Skipped       int         `json:"skipped"`
	StartTime     time.Time   `json:"start_time"`
	EndTime       *time.Time  `json:"end_time,omitempty"`
	Results       []URLResult `json:"results"`
}

// Add records a URL result and updates the counters.
func (b *GoogleBatchResult) Add(r URLResult) {
	b.Results = append(b.Results, r)
	switch r.Status {
	case StatusSuccess:
		b.Successful++
	case StatusFailed:
		b.Failed++
	case StatusQuotaExceeded:
		b.QuotaExceeded++
	case StatusSkipped:
		b.Skipped++
	}
}

// Finalize stamps the end time.
func (b *GoogleBatchResult) Finalize() {
	now := time.Now().UTC()
	b.EndTime = &now
}

// BingBatchURLResult is the outcome of one submitted chunk.
type BingBatchURLResult struct {
	BatchNumber  int          `json:"batch_number"`
	URLs         []string     `json:"urls"`
	URLCount     int          `json:"url_count"`
	Status       ResultStatus `json:"status"`
	Attempts     int          `json:"attempts"`
	ErrorMessage string       `json:"error_message,omitempty"`
	HTTPStatus   int          `json:"http_status,omitempty"`
	ResponseData any          `json:"response_data,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// BingBatchResult aggregates per-chunk outcomes for one job.
type BingBatchResult struct {
	TotalURLs         int                  `json:"total_urls"`
	TotalBatches      int                  `json:"total_batches"`
	SuccessfulBatches int                  `json:"successful_batches"`
	FailedBatches     int                  `json:"failed_batches"`
	SuccessfulURLs    int                  `json:"successful_urls"`
	FailedURLs        int                  `json:"failed_urls"`
	QuotaExceeded     int                  `json:"quota_exceeded"`
	RateLimited       int                  `json:"rate_limited"`
	Skipped           int                  `json:"skipped"`
	StartTime         time.Time            `json:"start_time"`
	EndTime           *time.Time           `json:"end_time,omitempty"`
	Results           []BingBatchURLResult `json:"results"`
}

// Add records a chunk result and updates the counters.
func (b *BingBatchResult) Add(r BingBatchURLResult) {
	b.Results = append(b.Results, r)
	switch r.Status {
	case StatusSuccess:
		b.SuccessfulBatches++
		b.SuccessfulURLs += r.URLCount
	case StatusFailed:
		b.FailedBatches++
		b.FailedURLs += r.URLCount
	case StatusQuotaExceeded:
		b.QuotaExceeded++
		b.FailedURLs += r.URLCount
	case StatusRateLimited:
		b.RateLimited++
		b.FailedURLs += r.URLCount
	case StatusSkipped:
		b.Skipped++
	}
}

// Finalize stamps the end time.
func (b *BingBatchResult) Finalize() {
	now := time.Now().UTC()
	b.EndTime = &now
}

// GoogleJobResult wraps a provider run; Success=false with Error set means
// the run aborted before any URL outcome was produced.
type GoogleJobResult struct {
	Success bool               `json:"success"`
	Error   string             `json:"error,omitempty"`
	JobType string             `json:"job_type,omitempty"`
	Shop    string             `json:"shop,omitempty"`
	Results *GoogleBatchResult `json:"results,omitempty"`
}

// BingJobResult wraps a Bing provider run.
type BingJobResult struct {
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	JobType string           `json:"job_type,omitempty"`
	Shop    string           `json:"shop,omitempty"`
	Results *BingBatchResult `json:"results,omitempty"`
}

// GoogleReport is the Google half of the L3 input envelope.
type GoogleReport struct {
	Executed bool             `json:"executed"`
	Success  bool             `json:"success,omitempty"`
	Result   *GoogleJobResult `json:"result,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

// BingReport is the Bing half of the L3 input envelope.
type BingReport struct {
	Executed bool           `json:"executed"`
	Success  bool           `json:"success,omitempty"`
	Result   *BingJobResult `json:"result,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// IndexResultJob is the L3 input payload produced by the dispatch worker.
type IndexResultJob struct {
	Shop        string       `json:"shop" validate:"required"`
	JobID       string       `json:"job_id"`
	ProcessedAt time.Time    `json:"processed_at"`
	Google      GoogleReport `json:"google"`
	Bing        BingReport   `json:"bing"`
}

// SuccessfulURLs returns the Google URLs confirmed with status success and
// HTTP 200.
func (g GoogleReport) SuccessfulURLs() []string {
	if !g.Executed || !g.Success || g.Result == nil || g.Result.Results == nil {
		return nil
	}
	var urls []string
	for _, r := range g.Result.Results.Results {
		if r.Status == StatusSuccess && r.HTTPStatus == 200 {
			urls = append(urls, r.URL)
		}
	}
	return urls
}

// SuccessfulURLs returns every URL from Bing chunks confirmed with status
// success and HTTP 200.
func (b BingReport) SuccessfulURLs() []string {
	if !b.Executed || !b.Success || b.Result == nil || b.Result.Results == nil {
		return nil
	}
	var urls []string
	for _, batch := range b.Result.Results.Results {
		if batch.Status == StatusSuccess && batch.HTTPStatus == 200 {
			urls = append(urls, batch.URLs...)
		}
	}
	return urls
}
