// Command scheduler seeds the data-preparation stream with one job per
// eligible shop. It runs continuously by default; -once executes a single
// cycle and -manual schedules one shop immediately.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/broker/redisstream"
	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/httpserver"
	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/observability"
	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/repo/postgres"
	"github.com/Mobeen-Dev/indexer-seo/internal/config"
	"github.com/Mobeen-Dev/indexer-seo/internal/scheduler"
)

func main() {
	once := flag.Bool("once", false, "run a single scheduling cycle and exit")
	manual := flag.String("manual", "", "schedule the given shop immediately and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg, "scheduler")
	slog.SetDefault(logger)
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisstream.NewClient(ctx, cfg.RedisAddr(), cfg.RedisPass, cfg.RedisConnectTimeout)
	if err != nil {
		slog.Error("redis connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = rdb.Close() }()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	sched := scheduler.New(rdb, postgres.NewAuthRepo(pool), redisstream.NewProducer(rdb, redisstream.StageL1), scheduler.Config{
		Interval:            cfg.ScheduleInterval,
		MinHoursBetweenRuns: cfg.MinHoursBetweenRuns,
		MaxRunsPerDay:       cfg.MaxRunsPerDay,
	})

	switch {
	case *manual != "":
		jobID, err := sched.TriggerShop(ctx, *manual)
		if err != nil {
			slog.Error("manual trigger failed", slog.String("shop", *manual), slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("manual job scheduled", slog.String("shop", *manual), slog.String("job_id", jobID))
		return
	case *once:
		res, err := sched.RunCycle(ctx)
		if err != nil {
			slog.Error("scheduling cycle failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("single cycle done",
			slog.Int("scheduled", len(res.Scheduled)),
			slog.Int("skipped", len(res.Skipped)))
		return
	}

	ops := httpserver.NewServer(fmt.Sprintf(":%d", cfg.Port))
	go func() {
		slog.Info("ops server listening", slog.String("addr", ops.Addr))
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server error", slog.Any("error", err))
		}
	}()

	_ = sched.Run(ctx)

	if err := httpserver.Shutdown(ops, cfg.GracefulShutdownTimeout); err != nil {
		slog.Error("ops server shutdown error", slog.Any("error", err))
	}
}
