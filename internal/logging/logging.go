// Package logging builds the zap logger shared by the certseal binaries.
package logging

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/config"
)

// New builds a logger from the logging configuration. Format "json" uses the
// production encoder; anything else the development console encoder.
// Output is stdout, stderr or a file path.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapConfig.Level = level

	if cfg.Output != "" {
		zapConfig.OutputPaths = []string{cfg.Output}
	}

	return zapConfig.Build()
}
