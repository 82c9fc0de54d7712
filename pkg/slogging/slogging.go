// Package slogging carries the structured logging context of a single call.
//
// The context lives in a context.Context value rather than in goroutine
// state, so each call owns its own copy and nothing leaks between calls that
// happen to run on the same worker.
package slogging

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Fields is the logging context of one call.
type Fields map[string]interface{}

type contextKey struct{}

// WithFields returns a copy of ctx carrying fields as the active logging context.
// Any context installed earlier is replaced, not merged.
func WithFields(ctx context.Context, fields Fields) context.Context {
	return context.WithValue(ctx, contextKey{}, fields.Clone())
}

// FieldsFrom returns a copy of the logging context installed in ctx, or nil.
func FieldsFrom(ctx context.Context) Fields {
	fields, _ := ctx.Value(contextKey{}).(Fields)
	return fields.Clone()
}

// Logger returns base enriched with the logging context of ctx.
func Logger(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = zap.NewNop().Sugar()
	}
	fields, _ := ctx.Value(contextKey{}).(Fields)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields.KeyValues()...)
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for key, value := range f {
		out[key] = value
	}
	return out
}

// KeyValues flattens f into alternating keys and values, sorted by key.
func (f Fields) KeyValues() []interface{} {
	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]interface{}, 0, 2*len(keys))
	for _, key := range keys {
		out = append(out, key, f[key])
	}
	return out
}
