package internal

import (
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger, named lookout/<component>.
// format is "console" or "json".
func NewLogger(component, level, format string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	name := "lookout"
	if component != "" {
		name = name + "/" + component
	}
	return logger.Named(name).Sugar(), nil
}

// watermillLogger adapts zap to watermill.LoggerAdapter.
type watermillLogger struct {
	log *zap.SugaredLogger
}

// NewWatermillLogger routes watermill's logs through l.
func NewWatermillLogger(l *zap.SugaredLogger) watermill.LoggerAdapter {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &watermillLogger{log: l}
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.log.Errorw(msg, append(keyValues(fields), "error", err)...)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.log.Infow(msg, keyValues(fields)...)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.log.Debugw(msg, keyValues(fields)...)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.log.Debugw(msg, keyValues(fields)...)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{log: w.log.With(keyValues(fields)...)}
}

func keyValues(fields watermill.LogFields) []interface{} {
	out := make([]interface{}, 0, 2*len(fields))
	for key, value := range fields {
		out = append(out, key, value)
	}
	return out
}
