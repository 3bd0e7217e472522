// Package observability provides logging and metrics setup shared by the
// scheduler and the stage workers.
package observability

import (
	"log/slog"
	"os"

	"github.com/Mobeen-Dev/indexer-seo/internal/config"
)

// SetupLogger configures a JSON slog logger with service and environment
// fields attached.
func SetupLogger(cfg config.Config, service string) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// In dev, show debug level; in prod, default to info
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", service),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}
