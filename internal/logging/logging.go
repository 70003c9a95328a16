package logging

import (
	"os"

	"go.uber.org/zap"
)

// New builds the process logger. LOG_LEVEL and LOG_FORMAT (json|console)
// control output; defaults are info-level JSON.
func New() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	if os.Getenv("LOG_FORMAT") == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		parsed, err := zap.ParseAtomicLevel(lvl)
		if err == nil {
			cfg.Level = parsed
		}
	}

	return cfg.Build()
}
