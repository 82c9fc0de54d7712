package worker

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryDecision defines whether a message should be Nacked for redelivery.
type RetryDecision struct {
	Nack bool
}

// RetryPolicy decides what happens to a message whose handling failed.
type RetryPolicy interface {
	OnError(ctx context.Context, evt *Event, err error) RetryDecision
}

// NoRetry acknowledges every failed message.
type NoRetry struct{}

// OnError implements RetryPolicy.
func (NoRetry) OnError(context.Context, *Event, error) RetryDecision {
	return RetryDecision{}
}

// StatusRetry redelivers messages that failed with a transient gRPC status,
// such as an analyzer that is down or overloaded. Undecodable messages and
// failures reported by the analyzer itself are acknowledged.
type StatusRetry struct{}

// OnError implements RetryPolicy.
func (StatusRetry) OnError(_ context.Context, evt *Event, err error) RetryDecision {
	if evt == nil {
		return RetryDecision{}
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
		return RetryDecision{Nack: true}
	default:
		return RetryDecision{}
	}
}
