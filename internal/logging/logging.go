// Package logging builds the process logger. Every step of a run logs a
// timestamped line on success and on failure; secrets never appear in
// fields.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns the slipway logger: console output with RFC3339 timestamps,
// info level by default, debug when verbose is set.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and for callers
// that have not set up logging yet.
func Nop() *zap.Logger { return zap.NewNop() }
