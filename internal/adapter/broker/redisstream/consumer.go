package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/observability"
)

// Handler processes one decoded job. Returning an error records a failed
// terminal status; the message is still acknowledged because failure is a
// terminal decision. Returning context.Canceled (during shutdown) leaves the
// envelope untouched and the message pending so recovery re-delivers it.
type Handler interface {
	Handle(ctx context.Context, jobID string, data []byte) (Completion, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, jobID string, data []byte) (Completion, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, jobID string, data []byte) (Completion, error) {
	return f(ctx, jobID, data)
}

// ConsumerConfig tunes the read loop, breaker and recovery task.
type ConsumerConfig struct {
	BlockTimeout         time.Duration
	ErrorSleep           time.Duration
	MaxConsecutiveErrors int
	RecoveryInterval     time.Duration
	RecoveryMinIdle      time.Duration
	ShutdownTimeout      time.Duration
}

// DefaultConsumerConfig returns the production settings.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		BlockTimeout:         2 * time.Second,
		ErrorSleep:           5 * time.Second,
		MaxConsecutiveErrors: 10,
		RecoveryInterval:     60 * time.Second,
		RecoveryMinIdle:      60 * time.Second,
		ShutdownTimeout:      30 * time.Second,
	}
}

// ErrTooManyErrors is returned by Run when the consecutive-error breaker
// trips; the supervisor is expected to restart the process.
var ErrTooManyErrors = errors.New("too many consecutive broker errors")

// Consumer drains one stage stream with a competing-consumer group, bounded
// concurrent processing and ack-after-terminal-status semantics.
type Consumer struct {
	rdb       redis.Cmdable
	stage     Stage
	envelopes *Envelopes
	handler   Handler
	consumer  string
	cfg       ConsumerConfig

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewConsumer builds a Consumer with a unique consumer identity.
func NewConsumer(rdb redis.Cmdable, stage Stage, handler Handler, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		rdb:       rdb,
		stage:     stage,
		envelopes: NewEnvelopes(rdb, stage),
		handler:   handler,
		consumer:  ConsumerName(),
		cfg:       cfg,
		sem:       semaphore.NewWeighted(stage.JobLimit),
	}
}

// SetupGroup creates the stage consumer group idempotently, starting at id 0
// with stream auto-creation.
func (c *Consumer) SetupGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stage.Stream, c.stage.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("op=consumer.setup_group: %w", err)
	}
	return nil
}

// Run blocks until ctx is cancelled or the error breaker trips. It owns the
// read loop and a sibling recovery task, and waits for in-flight jobs on the
// way out.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.SetupGroup(ctx); err != nil {
		return err
	}

	slog.Info("consumer started",
		slog.String("stage", c.stage.Name),
		slog.String("stream", c.stage.Stream),
		slog.String("consumer", c.consumer))

	// The recovery task lives exactly as long as the read loop: when the
	// breaker trips the read loop returns with ctx still alive, and recovery
	// must not keep the process from exiting for a supervisor restart.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recoveryDone := make(chan struct{})
	go func() {
		defer close(recoveryDone)
		c.recoveryLoop(ctx)
	}()

	err := c.readLoop(ctx)
	cancel()

	<-recoveryDone
	c.waitForTasks()
	return err
}

func (c *Consumer) readLoop(ctx context.Context) error {
	consecutive := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.stage.Group,
			Consumer: c.consumer,
			Streams:  []string{c.stage.Stream, ">"},
			Count:    1,
			Block:    c.cfg.BlockTimeout,
		}).Result()
		if errors.Is(err, redis.Nil) {
			consecutive = 0
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			consecutive++
			slog.Error("stream read error",
				slog.String("stage", c.stage.Name),
				slog.Int("consecutive", consecutive),
				slog.Int("max", c.cfg.MaxConsecutiveErrors),
				slog.Any("error", err))
			if consecutive >= c.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("op=consumer.read: %w", ErrTooManyErrors)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.ErrorSleep):
			}
			continue
		}
		consecutive = 0

		for _, stream := range res {
			for _, msg := range stream.Messages {
				if ctx.Err() != nil {
					return nil
				}
				c.dispatch(ctx, msg)
			}
		}
	}
}

// dispatch validates routing and payload, then schedules processing under
// the stage semaphore. Ghost and malformed messages are acknowledged and
// dropped here so they never consume a processing slot.
func (c *Consumer) dispatch(ctx context.Context, msg redis.XMessage) {
	jobID, _ := msg.Values["job_id"].(string)
	if jobID == "" {
		slog.Warn("malformed stream message",
			slog.String("stage", c.stage.Name),
			slog.String("msg_id", msg.ID))
		c.ack(ctx, msg.ID)
		return
	}

	data, err := c.envelopes.FetchData(ctx, jobID)
	if errors.Is(err, ErrGhostJob) {
		slog.Warn("ghost job, cleaning up stream entry",
			slog.String("stage", c.stage.Name),
			slog.String("job_id", jobID))
		observability.GhostJobsTotal.WithLabelValues(c.stage.Name).Inc()
		c.ack(ctx, msg.ID)
		return
	}
	if err != nil {
		// Transient broker error: leave the message pending for recovery.
		slog.Error("envelope fetch error",
			slog.String("stage", c.stage.Name),
			slog.String("job_id", jobID),
			slog.Any("error", err))
		return
	}

	if !json.Valid(data) {
		slog.Error("invalid JSON in envelope",
			slog.String("stage", c.stage.Name),
			slog.String("job_id", jobID))
		c.ack(ctx, msg.ID)
		return
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.sem.Release(1)
		c.process(ctx, jobID, data, msg.ID)
	}()
}

func (c *Consumer) process(ctx context.Context, jobID string, data []byte, msgID string) {
	observability.JobsInFlight.WithLabelValues(c.stage.Name).Inc()
	defer observability.JobsInFlight.WithLabelValues(c.stage.Name).Dec()

	start := time.Now()
	slog.Info("processing job",
		slog.String("stage", c.stage.Name),
		slog.String("job_id", jobID))

	comp, err := c.handler.Handle(ctx, jobID, data)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Shutdown mid-processing: no terminal status, no ack. The message
		// stays pending and the recovery loop re-delivers it.
		slog.Warn("job cancelled during shutdown",
			slog.String("stage", c.stage.Name),
			slog.String("job_id", jobID))
		return
	}

	// Terminal writes and the ack must survive shutdown once the handler has
	// finished deciding.
	wctx := context.WithoutCancel(ctx)
	if err != nil {
		slog.Error("job failed",
			slog.String("stage", c.stage.Name),
			slog.String("job_id", jobID),
			slog.Any("error", err))
		if ferr := c.envelopes.MarkFailed(wctx, jobID, err); ferr != nil {
			slog.Error("failed to update job status", slog.Any("error", ferr))
		}
		observability.JobsProcessedTotal.WithLabelValues(c.stage.Name, StatusFailed).Inc()
		c.ack(wctx, msgID)
		return
	}

	elapsed := time.Since(start)
	if cerr := c.envelopes.MarkCompleted(wctx, jobID, elapsed, comp); cerr != nil {
		slog.Error("failed to update job status", slog.Any("error", cerr))
	}
	observability.JobsProcessedTotal.WithLabelValues(c.stage.Name, StatusCompleted).Inc()
	c.ack(wctx, msgID)

	slog.Info("job completed",
		slog.String("stage", c.stage.Name),
		slog.String("job_id", jobID),
		slog.Duration("elapsed", elapsed))
}

func (c *Consumer) ack(ctx context.Context, msgID string) {
	if err := c.rdb.XAck(ctx, c.stage.Stream, c.stage.Group, msgID).Err(); err != nil {
		slog.Error("xack error",
			slog.String("stage", c.stage.Name),
			slog.String("msg_id", msgID),
			slog.Any("error", err))
	}
}

// recoveryLoop periodically reclaims messages that were delivered but never
// acknowledged (worker crash between delivery and ack) and runs them through
// the normal dispatch path.
func (c *Consumer) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.recoverPending(ctx); err != nil && ctx.Err() == nil {
				slog.Error("recovery error",
					slog.String("stage", c.stage.Name),
					slog.Any("error", err))
			}
		}
	}
}

func (c *Consumer) recoverPending(ctx context.Context) error {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stage.Stream,
		Group:  c.stage.Group,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		return fmt.Errorf("op=consumer.recover: xpending: %w", err)
	}

	for _, p := range pending {
		if p.Idle <= c.cfg.RecoveryMinIdle {
			continue
		}
		claimed, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stage.Stream,
			Group:    c.stage.Group,
			Consumer: c.consumer,
			MinIdle:  c.cfg.RecoveryMinIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			return fmt.Errorf("op=consumer.recover: xclaim: %w", err)
		}
		for _, msg := range claimed {
			slog.Info("reclaimed pending message",
				slog.String("stage", c.stage.Name),
				slog.String("msg_id", msg.ID),
				slog.Duration("idle", p.Idle))
			observability.MessagesReclaimedTotal.WithLabelValues(c.stage.Name).Inc()
			c.dispatch(ctx, msg)
		}
	}
	return nil
}

// waitForTasks blocks until in-flight jobs finish or the shutdown timeout
// elapses. Jobs still running after the timeout keep their messages pending
// and are picked up again by recovery.
func (c *Consumer) waitForTasks() {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("all active jobs completed", slog.String("stage", c.stage.Name))
	case <-time.After(c.cfg.ShutdownTimeout):
		slog.Warn("shutdown timeout reached with jobs still in flight",
			slog.String("stage", c.stage.Name))
	}
}
