// Package logging holds the process-wide zap logger. Components log through
// the package helpers, or through the logger a context carries once
// WithFields has tagged it.
package logging

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

// pair keeps the logger handed to callers and the copy the helpers below
// use, which skips one extra frame so the caller is reported correctly.
type pair struct {
	base    *zap.Logger
	helpers *zap.Logger
}

var (
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	current atomic.Pointer[pair]
)

func init() {
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	use(zap.New(zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level), zap.AddCaller()))
}

func use(l *zap.Logger) {
	current.Store(&pair{base: l, helpers: l.WithOptions(zap.AddCallerSkip(1))})
}

// Init builds the process logger. format "console" selects the
// human-readable encoder, anything else JSON.
func Init(lvl, format string) error {
	SetLevel(lvl)
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	l, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	use(l)
	return nil
}

// SetLevel changes the level at runtime. Unknown names are ignored.
func SetLevel(name string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err == nil {
		level.SetLevel(l)
	}
}

// Sync flushes buffered entries.
func Sync() error {
	return current.Load().base.Sync()
}

// WithContext returns the logger carried by ctx, or the process logger.
func WithContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return current.Load().base
}

// WithFields returns a context whose logger carries fields.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, ctxKey{}, WithContext(ctx).With(fields...))
}

func Debug(msg string, fields ...zap.Field) { current.Load().helpers.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { current.Load().helpers.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { current.Load().helpers.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { current.Load().helpers.Error(msg, fields...) }

// Tenant and Session tag log lines with asset ownership.
func Tenant(id string) zap.Field  { return zap.String("tenant_id", id) }
func Session(id string) zap.Field { return zap.String("session_id", id) }
