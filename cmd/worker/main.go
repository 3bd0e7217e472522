// Command worker runs one pipeline stage consumer. The stage is selected
// with -stage: l1 prepares batches, l2 dispatches them to the providers,
// l3 reconciles provider confirmations into the URL store.
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

	"github.com/redis/go-redis/v9"

	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/broker/redisstream"
	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/httpserver"
	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/indexer/bing"
	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/indexer/google"
	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/observability"
	"github.com/Mobeen-Dev/indexer-seo/internal/adapter/repo/postgres"
	"github.com/Mobeen-Dev/indexer-seo/internal/config"
	"github.com/Mobeen-Dev/indexer-seo/internal/secrets"
	"github.com/Mobeen-Dev/indexer-seo/internal/usecase"
)

// stageHandler adapts a usecase service to the broker handler contract.
type stageHandler interface {
	Handle(ctx context.Context, jobID string, data []byte) (usecase.Outcome, error)
}

func wrap(h stageHandler) redisstream.Handler {
	return redisstream.HandlerFunc(func(ctx context.Context, jobID string, data []byte) (redisstream.Completion, error) {
		out, err := h.Handle(ctx, jobID, data)
		if err != nil {
			return redisstream.Completion{}, err
		}
		return redisstream.Completion{
			Message:       out.Message,
			URLsProcessed: out.URLsProcessed,
			Extra:         out.Extra,
		}, nil
	})
}

func main() {
	stageFlag := flag.String("stage", "", "pipeline stage to run: l1, l2 or l3")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg, "worker-"+*stageFlag)
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

	stage, handler, cleanup, err := buildStage(ctx, cfg, rdb, *stageFlag)
	if err != nil {
		slog.Error("stage setup failed", slog.String("stage", *stageFlag), slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	ops := httpserver.NewServer(fmt.Sprintf(":%d", cfg.Port))
	go func() {
		slog.Info("ops server listening", slog.String("addr", ops.Addr))
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server error", slog.Any("error", err))
		}
	}()

	consumer := redisstream.NewConsumer(rdb, stage, handler, redisstream.ConsumerConfig{
		BlockTimeout:         cfg.StreamBlockTimeout,
		ErrorSleep:           cfg.ErrorRetrySleep,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		RecoveryInterval:     cfg.RecoveryInterval,
		RecoveryMinIdle:      cfg.RecoveryMinIdle,
		ShutdownTimeout:      cfg.GracefulShutdownTimeout,
	})

	runErr := consumer.Run(ctx)

	if err := httpserver.Shutdown(ops, cfg.GracefulShutdownTimeout); err != nil {
		slog.Error("ops server shutdown error", slog.Any("error", err))
	}
	if runErr != nil {
		slog.Error("consumer stopped", slog.Any("error", runErr))
		os.Exit(1)
	}
}

// buildStage wires the stage's dependencies. The returned cleanup closes
// whatever infrastructure the stage opened.
func buildStage(ctx context.Context, cfg config.Config, rdb *redis.Client, name string) (redisstream.Stage, redisstream.Handler, func(), error) {
	noop := func() {}
	switch name {
	case "l1":
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return redisstream.Stage{}, nil, noop, err
		}
		svc := usecase.NewPrepareService(
			postgres.NewAuthRepo(pool),
			postgres.NewURLRepo(pool),
			redisstream.NewProducer(rdb, redisstream.StageL2),
			cfg.L1FilterGoogleIndexed,
		)
		stage := redisstream.StageL1
		stage.JobLimit = int64(cfg.L1JobLimit)
		return stage, wrap(svc), pool.Close, nil

	case "l2":
		codec, err := secrets.NewCodec(cfg.JointKey)
		if err != nil {
			return redisstream.Stage{}, nil, noop, err
		}
		svc := usecase.NewDispatchService(
			google.NewClient(codec),
			bing.NewClient(codec, cfg.BingRequestTimeout, cfg.BingMaxConcurrent),
			redisstream.NewProducer(rdb, redisstream.StageL3),
		)
		stage := redisstream.StageL2
		stage.JobLimit = int64(cfg.L2JobLimit)
		return stage, wrap(svc), noop, nil

	case "l3":
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return redisstream.Stage{}, nil, noop, err
		}
		svc := usecase.NewReconcileService(postgres.NewURLRepo(pool))
		stage := redisstream.StageL3
		stage.JobLimit = int64(cfg.L3JobLimit)
		return stage, wrap(svc), pool.Close, nil
	}
	return redisstream.Stage{}, nil, noop, fmt.Errorf("unknown stage %q (want l1, l2 or l3)", name)
}
