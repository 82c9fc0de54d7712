package server

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lookout/pkg/slogging"
)

// CallState is the per-call scratch space shared by the pipeline stages.
// It is owned by one call and never shared, so it needs no locking.
type CallState struct {
	// Fields is the logging context installed for the call.
	Fields slogging.Fields
	// Start is when the timing stage began measuring. Zero if it never ran.
	Start time.Time
	// Duration is the time spent inside the timing stage.
	Duration time.Duration
	// Error is set when the call failed; it suppresses the success metric.
	Error bool
	// Code and Details are reported to the caller when Code is not OK.
	Code    codes.Code
	Details string
	// Err is the contained failure, if any.
	Err error
}

// Status returns the status to report to the caller, or nil on success.
func (s *CallState) Status() *status.Status {
	if s == nil || s.Code == codes.OK {
		return nil
	}
	return status.New(s.Code, s.Details)
}

type callStateKey struct{}

// WithCallState attaches state to ctx.
func WithCallState(ctx context.Context, state *CallState) context.Context {
	return context.WithValue(ctx, callStateKey{}, state)
}

// CallStateFrom returns the call state attached to ctx, or nil.
func CallStateFrom(ctx context.Context) *CallState {
	state, _ := ctx.Value(callStateKey{}).(*CallState)
	return state
}

func ensureCallState(ctx context.Context) (context.Context, *CallState) {
	if state := CallStateFrom(ctx); state != nil {
		return ctx, state
	}
	state := &CallState{}
	return WithCallState(ctx, state), state
}
