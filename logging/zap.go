package logging

import (
	"context"
	"maps"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey struct{}

// ContextWithFields stores fields in a context so WithContext can pick them up
func ContextWithFields(ctx context.Context, fields Fields) context.Context {
	return context.WithValue(ctx, contextKey{}, fields)
}

// ZapLogger implements Logger on top of go.uber.org/zap
type ZapLogger struct {
	z      *zap.Logger
	level  zap.AtomicLevel
	fields Fields
}

// NewZapLogger creates a zap-backed logger. Development mode uses console
// encoding with colored levels, production mode uses JSON.
func NewZapLogger(development bool) *ZapLogger {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	z, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		// Config above is static; Build only fails on bad output paths.
		z = zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(cfg.EncoderConfig),
			zapcore.Lock(os.Stderr),
			cfg.Level,
		))
	}

	return &ZapLogger{
		z:      z,
		level:  cfg.Level,
		fields: make(Fields),
	}
}

// FromZap wraps an existing zap logger
func FromZap(z *zap.Logger) *ZapLogger {
	return &ZapLogger{
		z:      z,
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
		fields: make(Fields),
	}
}

func (l *ZapLogger) zapFields(fields []Fields) []zap.Field {
	merged := make(Fields, len(l.fields))
	maps.Copy(merged, l.fields)
	for _, f := range fields {
		maps.Copy(merged, f)
	}

	out := make([]zap.Field, 0, len(merged))
	for k, v := range merged {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (l *ZapLogger) Debug(msg string, fields ...Fields) {
	l.z.Debug(msg, l.zapFields(fields)...)
}

func (l *ZapLogger) Info(msg string, fields ...Fields) {
	l.z.Info(msg, l.zapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields ...Fields) {
	l.z.Warn(msg, l.zapFields(fields)...)
}

func (l *ZapLogger) Error(err error, msg string, fields ...Fields) {
	l.z.Error(msg, append(l.zapFields(fields), zap.Error(err))...)
}

func (l *ZapLogger) Fatal(err error, msg string, fields ...Fields) {
	l.z.Fatal(msg, append(l.zapFields(fields), zap.Error(err))...)
}

func (l *ZapLogger) WithFields(fields Fields) Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	maps.Copy(merged, l.fields)
	maps.Copy(merged, fields)

	return &ZapLogger{
		z:      l.z,
		level:  l.level,
		fields: merged,
	}
}

func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	if fields, ok := ctx.Value(contextKey{}).(Fields); ok {
		return l.WithFields(fields)
	}
	return l
}

func (l *ZapLogger) SetLevel(level Level) {
	switch level {
	case DebugLevel:
		l.level.SetLevel(zapcore.DebugLevel)
	case InfoLevel:
		l.level.SetLevel(zapcore.InfoLevel)
	case WarnLevel:
		l.level.SetLevel(zapcore.WarnLevel)
	case ErrorLevel:
		l.level.SetLevel(zapcore.ErrorLevel)
	case FatalLevel:
		l.level.SetLevel(zapcore.FatalLevel)
	}
}

// Sync flushes buffered log entries
func (l *ZapLogger) Sync() error {
	return l.z.Sync()
}
