package server

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"lookout/pkg/metrics"
)

// Option configures an EventListener.
type Option func(*EventListener)

// WithWorkers sets the size of the worker pool, which is also the ceiling
// on concurrently processed calls. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(s *EventListener) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the base logger. Each call logs through it with the
// call's logging context attached.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *EventListener) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metric sink.
func WithMetrics(rec metrics.Recorder) Option {
	return func(s *EventListener) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithMiddleware adds stages between the logging context stage and the
// timing stage. A panic in one of them fails the call with an internal
// status like any handler panic.
func WithMiddleware(mw ...Middleware) Option {
	return func(s *EventListener) {
		s.middleware = append(s.middleware, mw...)
	}
}

// WithListener adds a lifecycle listener.
func WithListener(l Listener) Option {
	return func(s *EventListener) {
		s.listeners = append(s.listeners, l)
	}
}

// WithFinishQueue bounds how many finished calls may wait for their
// OnCallFinish hooks. When the queue is full the hooks of a call are
// skipped and a warning is logged. Values below 1 are ignored.
func WithFinishQueue(n int) Option {
	return func(s *EventListener) {
		if n > 0 {
			s.finished.limit = n
		}
	}
}

// WithServerOptions passes extra options to the underlying grpc.Server.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(s *EventListener) {
		s.serverOptions = append(s.serverOptions, opts...)
	}
}
