package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Envelope statuses. A job is terminal once it is completed or failed;
// failure is a decision, not a retry trigger, so terminal updates always
// precede the stream acknowledgement.
const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const maxErrorLen = 500

// Completion carries optional extra fields a handler wants recorded on the
// terminal envelope update.
type Completion struct {
	Message       string
	URLsProcessed int
	Extra         map[string]string
}

// Envelopes manipulates job envelopes for a single stage.
type Envelopes struct {
	rdb   redis.Cmdable
	stage Stage
}

// NewEnvelopes binds envelope operations to a stage.
func NewEnvelopes(rdb redis.Cmdable, stage Stage) *Envelopes {
	return &Envelopes{rdb: rdb, stage: stage}
}

// Create writes a fresh queued envelope and arms the creation TTL.
func (e *Envelopes) Create(ctx context.Context, jobID string, data []byte) error {
	key := e.stage.EnvelopeKey(jobID)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := e.rdb.HSet(ctx, key,
		"data", string(data),
		"status", StatusQueued,
		"created_at", now,
	).Err(); err != nil {
		return fmt.Errorf("op=envelope.create: %w", err)
	}
	if err := e.rdb.Expire(ctx, key, e.stage.CreateTTL).Err(); err != nil {
		return fmt.Errorf("op=envelope.create: %w", err)
	}
	return nil
}

// FetchData returns the payload bytes for a job id. ErrGhostJob is returned
// when the envelope has expired or never existed.
func (e *Envelopes) FetchData(ctx context.Context, jobID string) ([]byte, error) {
	raw, err := e.rdb.HGet(ctx, e.stage.EnvelopeKey(jobID), "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrGhostJob
	}
	if err != nil {
		return nil, fmt.Errorf("op=envelope.fetch: %w", err)
	}
	return []byte(raw), nil
}

// ErrGhostJob marks a stream entry whose envelope is gone.
var ErrGhostJob = errors.New("ghost job: envelope missing")

// MarkCompleted records a terminal success and refreshes the TTL.
func (e *Envelopes) MarkCompleted(ctx context.Context, jobID string, elapsed time.Duration, c Completion) error {
	key := e.stage.EnvelopeKey(jobID)
	fields := []any{
		"status", StatusCompleted,
		"completed_at", time.Now().UTC().Format(time.RFC3339Nano),
		"processing_time_seconds", strconv.FormatFloat(elapsed.Seconds(), 'f', 2, 64),
	}
	if c.Message != "" {
		fields = append(fields, "message", c.Message)
	}
	if c.URLsProcessed >= 0 {
		fields = append(fields, "urls_processed", strconv.Itoa(c.URLsProcessed))
	}
	for k, v := range c.Extra {
		fields = append(fields, k, v)
	}
	if err := e.rdb.HSet(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("op=envelope.complete: %w", err)
	}
	if err := e.rdb.Expire(ctx, key, e.stage.FinalTTL).Err(); err != nil {
		return fmt.Errorf("op=envelope.complete: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure with a truncated error message and
// refreshes the TTL.
func (e *Envelopes) MarkFailed(ctx context.Context, jobID string, cause error) error {
	key := e.stage.EnvelopeKey(jobID)
	msg := cause.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	if err := e.rdb.HSet(ctx, key,
		"status", StatusFailed,
		"failed_at", time.Now().UTC().Format(time.RFC3339Nano),
		"error", msg,
	).Err(); err != nil {
		return fmt.Errorf("op=envelope.fail: %w", err)
	}
	if err := e.rdb.Expire(ctx, key, e.stage.FinalTTL).Err(); err != nil {
		return fmt.Errorf("op=envelope.fail: %w", err)
	}
	return nil
}

// Status returns the current envelope status field.
func (e *Envelopes) Status(ctx context.Context, jobID string) (string, error) {
	s, err := e.rdb.HGet(ctx, e.stage.EnvelopeKey(jobID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrGhostJob
	}
	if err != nil {
		return "", fmt.Errorf("op=envelope.status: %w", err)
	}
	return s, nil
}
