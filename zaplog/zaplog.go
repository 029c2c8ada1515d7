// Package zaplog adapts zap to the outbox Logger interface and builds the loggers used by the binaries.
package zaplog

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	outbox "github.com/velmie/mutation-outbox"
)

// Config selects the logger flavour.
type Config struct {
	// Env is "prod" for JSON output; anything else gives a colored console logger.
	Env string
	// Level is debug, info, warn or error. Default: info.
	Level string
	// Service is added to every entry when set.
	Service string
}

// Build returns a zap logger for cfg.
func Build(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if strings.EqualFold(cfg.Env, "prod") {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zcfg.DisableStacktrace = true
	}
	zcfg.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := zcfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}
	if cfg.Service != "" {
		l = l.With(zap.String("service", cfg.Service))
	}

	return l, nil
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger implements outbox.Logger on a zap logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ outbox.Logger = (*Logger)(nil)

// New wraps l. The wrapper's own frame is skipped when reporting callers.
func New(l *zap.Logger) *Logger {
	return &Logger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// Debug implements outbox.Logger.
func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

// Info implements outbox.Logger.
func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

// Warn implements outbox.Logger.
func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

// Error implements outbox.Logger.
func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}
