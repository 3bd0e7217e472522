// Package domain holds the core entities, stage payloads and ports of the
// URL-indexing pipeline. Adapters depend on this package, never the reverse.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrNoCredentials  = errors.New("no valid credentials")
	ErrInternal       = errors.New("internal error")
)

// UrlStatus enumerates the lifecycle of a URL entry in the relational store.
type UrlStatus string

const (
	UrlPending    UrlStatus = "PENDING"
	UrlProcessing UrlStatus = "PROCESSING"
	UrlCompleted  UrlStatus = "COMPLETED"
	UrlFailed     UrlStatus = "FAILED"
)

// IndexAction is the per-URL submission intent.
type IndexAction string

const (
	ActionIndex  IndexAction = "INDEX"
	ActionDelete IndexAction = "DELETE"
	ActionIgnore IndexAction = "IGNORE"
)

// ShopSettings carries the per-shop quota knobs stored in the Auth row.
// Zero values mean "unset"; callers pick the default appropriate to their
// layer.
type ShopSettings struct {
	GoogleLimit int `json:"googleLimit,omitempty"`
	BingLimit   int `json:"bingLimit,omitempty"`
	RetryLimit  int `json:"retryLimit,omitempty"`
}

// GoogleLimitOr returns the configured Google daily limit or def when unset.
func (s ShopSettings) GoogleLimitOr(def int) int {
	if s.GoogleLimit > 0 {
		return s.GoogleLimit
	}
	return def
}

// BingLimitOr returns the configured Bing daily limit or def when unset.
func (s ShopSettings) BingLimitOr(def int) int {
	if s.BingLimit > 0 {
		return s.BingLimit
	}
	return def
}

// RetryLimitOr returns the configured retry limit or def when unset.
func (s ShopSettings) RetryLimitOr(def int) int {
	if s.RetryLimit > 0 {
		return s.RetryLimit
	}
	return def
}

// Auth is the per-shop credential row. Provider credentials stay encrypted
// until the dispatch worker decrypts them.
type Auth struct {
	ID           string       `json:"id,omitempty"`
	Shop         string       `json:"shop"`
	GoogleConfig string       `json:"googleConfig,omitempty"`
	BingAPIKey   string       `json:"bingApiKey,omitempty"`
	Settings     ShopSettings `json:"settings"`
	CreatedAt    *time.Time   `json:"createdAt,omitempty"`
	UpdatedAt    *time.Time   `json:"updatedAt,omitempty"`
}

// UrlEntry is the projection of the relational UrlEntry row that the
// data-preparation worker reads.
type UrlEntry struct {
	WebURL      string
	IndexAction IndexAction
	Attempts    int
}

// UrlItem is the wire form of a URL inside a batch job.
type UrlItem struct {
	WebURL   string `json:"webUrl"`
	Attempts int    `json:"attempts"`
}

// ActionSet partitions batch items by submission intent. IGNORE entries are
// never carried past L1.
type ActionSet struct {
	Index  []UrlItem `json:"INDEX,omitempty"`
	Delete []UrlItem `json:"DELETE,omitempty"`
}

// Total returns the number of items across both actions.
func (a ActionSet) Total() int { return len(a.Index) + len(a.Delete) }

// Context is an alias so adapters and usecases share the std context type.
type Context = context.Context

// Repositories (ports)

// AuthRepository loads shop credentials and enumerates tenant shops.
type AuthRepository interface {
	Get(ctx Context, shop string) (Auth, error)
	ListShops(ctx Context) ([]string, error)
}

// URLRepository reads pending URLs and applies reconciliation updates.
// The Mark* updates only ever flip provider flags to true; a true flag is
// never reset by this system.
type URLRepository interface {
	FetchPending(ctx Context, shop string, limit int, onlyNotGoogleIndexed bool) ([]UrlEntry, error)
	MarkIndexedBoth(ctx Context, shop string, urls []string) (int64, error)
	MarkGoogleIndexed(ctx Context, shop string, urls []string) (int64, error)
	MarkBingIndexed(ctx Context, shop string, urls []string) (int64, error)
}

// JobEnqueuer appends a job envelope plus routing entry for the next stage.
type JobEnqueuer interface {
	Enqueue(ctx Context, shop string, payload any) (string, error)
}

// Provider submitters (ports)

// GoogleSubmitter dispatches a prepared batch to the Google Indexing API.
// Failures are reported inside the result, never as an error, so that one
// provider cannot suppress the other.
type GoogleSubmitter interface {
	ProcessJob(ctx Context, job UrlIndexBatchJob) GoogleJobResult
}

// BingSubmitter dispatches a prepared batch to the Bing IndexNow API.
type BingSubmitter interface {
	ProcessJob(ctx Context, job UrlIndexBatchJob) BingJobResult
}

// Decryptor opens an encrypted credential string.
type Decryptor interface {
	Decrypt(payload string) (string, error)
}
