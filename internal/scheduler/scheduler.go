// Package scheduler periodically seeds the data-preparation stream with one
// job per eligible shop. Eligibility state lives in Redis so multiple
// scheduler replicas stay consistent.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/broker/redisstream"
	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/observability"
	"github.com/Mobeen-Dev/indexer-seo/internal/domain"
)

const (
	// stateKey maps shop -> last run timestamp (RFC3339).
	stateKey = "scheduler:state"
	// dailyRunsKey maps "{shop}:{YYYY-MM-DD}" -> run count.
	dailyRunsKey = "scheduler:daily_runs"
	statsKey     = "scheduler:stats"

	// dailyRunsTTL keeps the counter hash alive two days; cleanup reaps
	// individual fields older than that.
	dailyRunsTTL = 172800 * time.Second

	seedAction   = "index.urls"
	seedPriority = "normal"
)

// Config tunes the scheduling policy.
type Config struct {
	Interval            time.Duration
	MinHoursBetweenRuns int
	MaxRunsPerDay       int
}

// CycleResult reports one scheduling pass.
type CycleResult struct {
	Scheduled []string
	Skipped   []string
}

// Scheduler owns the per-shop eligibility policy and the seed producer.
type Scheduler struct {
	rdb      redis.Cmdable
	auth     domain.AuthRepository
	producer *redisstream.Producer
	cfg      Config

	// now is swapped in tests.
	now func() time.Time
}

// New builds a Scheduler seeding the given stage producer.
func New(rdb redis.Cmdable, auth domain.AuthRepository, producer *redisstream.Producer, cfg Config) *Scheduler {
	return &Scheduler{
		rdb:      rdb,
		auth:     auth,
		producer: producer,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run executes one cycle immediately, then one per interval until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("min_hours_between_runs", s.cfg.MinHoursBetweenRuns),
		slog.Int("max_runs_per_day", s.cfg.MaxRunsPerDay))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			slog.Error("scheduling cycle error", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle evaluates every shop once, schedules the eligible ones and
// records statistics. Per-shop errors skip that shop rather than aborting
// the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	start := s.now().UTC()
	shops, err := s.auth.ListShops(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("op=scheduler.cycle: %w", err)
	}
	if len(shops) == 0 {
		slog.Warn("no shops to schedule")
		return CycleResult{}, nil
	}

	slog.Info("evaluating shops for scheduling", slog.Int("shops", len(shops)))

	var result CycleResult
	for _, shop := range shops {
		eligible, err := s.eligible(ctx, shop, start)
		if err != nil {
			slog.Error("eligibility check failed", slog.String("shop", shop), slog.Any("error", err))
			result.Skipped = append(result.Skipped, shop)
			continue
		}
		if !eligible {
			result.Skipped = append(result.Skipped, shop)
			continue
		}
		if _, err := s.scheduleShop(ctx, shop, start); err != nil {
			slog.Error("scheduling failed", slog.String("shop", shop), slog.Any("error", err))
			result.Skipped = append(result.Skipped, shop)
			continue
		}
		result.Scheduled = append(result.Scheduled, shop)
	}

	if err := s.updateStats(ctx, result); err != nil {
		slog.Error("stats update failed", slog.Any("error", err))
	}
	s.cleanupOldState(ctx, start)

	observability.SchedulerCyclesTotal.Inc()
	observability.SchedulerShopsScheduled.Set(float64(len(result.Scheduled)))
	observability.SchedulerShopsSkipped.Set(float64(len(result.Skipped)))

	slog.Info("scheduling cycle completed",
		slog.Int("scheduled", len(result.Scheduled)),
		slog.Int("skipped", len(result.Skipped)),
		slog.Duration("elapsed", s.now().UTC().Sub(start)))
	return result, nil
}

// TriggerShop schedules one shop immediately, bypassing the eligibility
// policy. It still updates run state so the regular cycle sees the run.
func (s *Scheduler) TriggerShop(ctx context.Context, shop string) (string, error) {
	return s.scheduleShop(ctx, shop, s.now().UTC())
}

// eligible enforces the per-shop policy: at least MinHoursBetweenRuns since
// the last run, and fewer than MaxRunsPerDay runs today.
func (s *Scheduler) eligible(ctx context.Context, shop string, now time.Time) (bool, error) {
	lastRaw, err := s.rdb.HGet(ctx, stateKey, shop).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("op=scheduler.eligible: %w", err)
	}
	if lastRaw != "" {
		last, perr := time.Parse(time.RFC3339, lastRaw)
		if perr != nil {
			slog.Warn("unparseable last run timestamp",
				slog.String("shop", shop), slog.String("value", lastRaw))
		} else if now.Sub(last) < time.Duration(s.cfg.MinHoursBetweenRuns)*time.Hour {
			return false, nil
		}
	}

	countRaw, err := s.rdb.HGet(ctx, dailyRunsKey, dailyRunField(shop, now)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("op=scheduler.eligible: %w", err)
	}
	if countRaw != "" {
		count, _ := strconv.Atoi(countRaw)
		if count >= s.cfg.MaxRunsPerDay {
			return false, nil
		}
	}
	return true, nil
}

func (s *Scheduler) scheduleShop(ctx context.Context, shop string, now time.Time) (string, error) {
	seed := domain.SeedJob{
		Shop:        shop,
		Action:      seedAction,
		Priority:    seedPriority,
		ScheduledAt: now,
	}
	jobID, err := s.producer.EnqueueWithAction(ctx, shop, seedAction, seed)
	if err != nil {
		return "", fmt.Errorf("op=scheduler.schedule: %w", err)
	}

	if err := s.rdb.HSet(ctx, stateKey, shop, now.Format(time.RFC3339)).Err(); err != nil {
		return "", fmt.Errorf("op=scheduler.schedule: state: %w", err)
	}
	if err := s.rdb.HIncrBy(ctx, dailyRunsKey, dailyRunField(shop, now), 1).Err(); err != nil {
		return "", fmt.Errorf("op=scheduler.schedule: daily count: %w", err)
	}
	if err := s.rdb.Expire(ctx, dailyRunsKey, dailyRunsTTL).Err(); err != nil {
		return "", fmt.Errorf("op=scheduler.schedule: expire: %w", err)
	}

	slog.Info("scheduled shop", slog.String("shop", shop), slog.String("job_id", jobID))
	return jobID, nil
}

func (s *Scheduler) updateStats(ctx context.Context, result CycleResult) error {
	now := s.now().UTC()
	if err := s.rdb.HSet(ctx, statsKey,
		"last_run_at", now.Format(time.RFC3339),
		"last_scheduled_count", strconv.Itoa(len(result.Scheduled)),
		"last_skipped_count", strconv.Itoa(len(result.Skipped)),
		"total_shops_evaluated", strconv.Itoa(len(result.Scheduled)+len(result.Skipped)),
	).Err(); err != nil {
		return fmt.Errorf("op=scheduler.stats: %w", err)
	}
	if err := s.rdb.HIncrBy(ctx, statsKey, "total_runs", 1).Err(); err != nil {
		return fmt.Errorf("op=scheduler.stats: %w", err)
	}
	return nil
}

// cleanupOldState reaps daily run fields older than two days so the hash
// does not grow unbounded.
func (s *Scheduler) cleanupOldState(ctx context.Context, now time.Time) {
	fields, err := s.rdb.HKeys(ctx, dailyRunsKey).Result()
	if err != nil {
		slog.Error("daily run cleanup failed", slog.Any("error", err))
		return
	}
	cutoff := now.AddDate(0, 0, -2)
	removed := 0
	for _, field := range fields {
		idx := strings.LastIndex(field, ":")
		if idx < 0 {
			continue
		}
		day, perr := time.Parse("2006-01-02", field[idx+1:])
		if perr != nil {
			slog.Warn("unparseable daily run field", slog.String("field", field))
			continue
		}
		if day.Before(cutoff) {
			if err := s.rdb.HDel(ctx, dailyRunsKey, field).Err(); err != nil {
				slog.Error("daily run cleanup failed", slog.Any("error", err))
				return
			}
			removed++
		}
	}
	if removed > 0 {
		slog.Info("cleaned up old daily run counters", slog.Int("removed", removed))
	}
}

func dailyRunField(shop string, now time.Time) string {
	return shop + ":" + now.Format("2006-01-02")
}
