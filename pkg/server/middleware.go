package server

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"lookout/pkg/events"
	"lookout/pkg/metrics"
	"lookout/pkg/slogging"
)

// Metric names emitted by the pipeline.
const (
	RequestMetricPrefix = "request."
	ErrorMetric         = "error"
)

// WithLoggingContext installs the logging context of the event into the
// call: the extracted event fields plus "meta" (incoming gRPC metadata) and
// "peer" (the caller address). It must be the outermost stage so every
// later log line carries the context.
func WithLoggingContext(log *zap.SugaredLogger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt events.Event) (*events.EventResponse, error) {
			ctx, state := ensureCallState(ctx)

			fields := slogging.Fields(events.ExtractContext(evt))
			fields["meta"] = callMetadata(ctx)
			fields["peer"] = callPeer(ctx)
			state.Fields = fields
			ctx = slogging.WithFields(ctx, fields)

			slogging.Logger(ctx, log).Infof("new %s", evt.TypeName())
			return next(ctx, evt)
		}
	}
}

// Timeit measures the wrapped call. Unless the call was marked as failed it
// records "request.<EventType>" in seconds and logs "OK <seconds>".
func Timeit(log *zap.SugaredLogger, rec metrics.Recorder) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt events.Event) (*events.EventResponse, error) {
			ctx, state := ensureCallState(ctx)
			state.Start = time.Now()

			resp, err := next(ctx, evt)

			state.Duration = time.Since(state.Start)
			if !state.Error && err == nil {
				delta := state.Duration.Seconds()
				rec.RecordEvent(RequestMetricPrefix+evt.TypeName(), delta)
				slogging.Logger(ctx, log).Infof("OK %.3f", delta)
			}
			return resp, err
		}
	}
}

// LogExceptions contains every failure of the wrapped call, returned errors
// and panics alike. A failed call is logged, marked on the CallState with an
// internal error status and counted under the "error" metric; the caller of
// the stage always receives an empty response and a nil error.
func LogExceptions(log *zap.SugaredLogger, rec metrics.Recorder) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt events.Event) (resp *events.EventResponse, err error) {
			ctx, state := ensureCallState(ctx)
			defer func() {
				if r := recover(); r != nil {
					resp, err = fail(ctx, log, rec, state, &PanicError{Value: r, Stack: debug.Stack()}), nil
				}
			}()

			resp, err = next(ctx, evt)
			if err != nil {
				return fail(ctx, log, rec, state, err), nil
			}
			if resp == nil {
				resp = &events.EventResponse{}
			}
			return resp, nil
		}
	}
}

func fail(ctx context.Context, log *zap.SugaredLogger, rec metrics.Recorder, state *CallState, cause error) *events.EventResponse {
	logger := slogging.Logger(ctx, log)
	kv := []interface{}{"error", cause.Error()}
	if pe, ok := cause.(*PanicError); ok {
		kv = append(kv, "stack", string(pe.Stack))
	}
	if !state.Start.IsZero() {
		logger.Errorw(fmt.Sprintf("FAIL %.3f", time.Since(state.Start).Seconds()), kv...)
	} else {
		logger.Errorw("FAIL ?", kv...)
	}

	state.Code = codes.Internal
	state.Details = fmt.Sprintf("%s: %s", ErrorKind(cause), cause.Error())
	state.Error = true
	state.Err = cause
	rec.RecordEvent(ErrorMetric, 1)
	return &events.EventResponse{}
}

// PanicError is a panic recovered from a handler.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprint(e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Kind reports the dynamic type of the panic value, or "panic" when the
// value is not an error.
func (e *PanicError) Kind() string {
	if err, ok := e.Value.(error); ok {
		return ErrorKind(err)
	}
	return "panic"
}

// ErrorKind names the kind of a failure for the status details. Errors may
// name themselves with a Kind() string method; otherwise the dynamic Go type
// is used.
func ErrorKind(err error) string {
	if k, ok := err.(interface{ Kind() string }); ok {
		return k.Kind()
	}
	return fmt.Sprintf("%T", err)
}

func callMetadata(ctx context.Context) map[string]string {
	meta := map[string]string{}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return meta
	}
	for key, values := range md {
		if len(values) == 0 {
			continue
		}
		meta[key] = values[len(values)-1]
	}
	return meta
}

func callPeer(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return p.Addr.String()
}
