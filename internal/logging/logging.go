package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// New returns a production zap logger at the given level ("debug", "info", ...).
// An empty level means info. Output goes to stderr unless paths are given.
func New(level string, paths ...string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if len(paths) > 0 {
		cfg.OutputPaths = paths
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}

type ctxKey struct{}

// NewContext returns a copy of ctx with the logger stored.
func NewContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves a logger from ctx or returns zap.L().
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.L()
}
