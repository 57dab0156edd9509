package observability

import (
	"log/slog"
	"os"

	"github.com/spriteforge/orchestrator/internal/config"
	coreobs "github.com/spriteforge/orchestrator/internal/observability"
)

// SetupLogger configures a JSON slog logger with environment fields and
// sensitive-field redaction (§4.12, §6).
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		ReplaceAttr: coreobs.RedactingReplaceAttr,
	}
	// In dev, show debug level; in prod, default to info
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}
