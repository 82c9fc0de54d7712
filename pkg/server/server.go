// Package server implements the gRPC listener which receives lookout events
// and runs them through a fixed pipeline: logging context, timing, failure
// containment and dispatch to the EventHandlers.
//
// Usage:
//
//	srv := server.NewEventListener("0.0.0.0:2000", handlers, server.WithWorkers(4))
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//	srv.Block(ctx)
//	srv.Stop(false)
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lookout/pkg/events"
	"lookout/pkg/metrics"
	"lookout/pkg/slogging"
)

// ErrAlreadyStarted is returned by Start when the listener is running.
var ErrAlreadyStarted = errors.New("event listener already started")

const defaultFinishQueue = 1024

// EventListener serves NotifyReviewEvent and NotifyPushEvent. Calls run on
// a bounded pool of workers; at most Workers() calls are inside the pipeline
// at any time and the rest wait for a free slot.
type EventListener struct {
	address       string
	handlers      EventHandlers
	workers       int
	logger        *zap.SugaredLogger
	metrics       metrics.Recorder
	middleware    []Middleware
	listeners     []Listener
	serverOptions []grpc.ServerOption

	pipeline Handler
	slots    chan struct{}
	finished *hookQueue

	mu       sync.Mutex
	server   *grpc.Server
	lis      net.Listener
	served   chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

var _ events.AnalyzerServer = (*EventListener)(nil)

// NewEventListener creates a listener for address which hands events to
// handlers. It does not bind until Start.
func NewEventListener(address string, handlers EventHandlers, opts ...Option) *EventListener {
	s := &EventListener{
		address:  address,
		handlers: handlers,
		workers:  1,
		logger:   zap.NewNop().Sugar(),
		metrics:  metrics.Nop{},
		finished: &hookQueue{limit: defaultFinishQueue},
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.slots = make(chan struct{}, s.workers)
	s.pipeline = s.buildPipeline()
	return s
}

func (s *EventListener) buildPipeline() Handler {
	stages := []Middleware{WithLoggingContext(s.logger)}
	stages = append(stages, s.middleware...)
	stages = append(stages,
		Timeit(s.logger, s.metrics),
		LogExceptions(s.logger, s.metrics),
	)
	return Chain(Dispatch(s.handlers), stages...)
}

func (s *EventListener) String() string {
	return fmt.Sprintf("EventListener(%s, %d workers)", s.address, s.workers)
}

// Workers returns the size of the worker pool.
func (s *EventListener) Workers() int {
	return s.workers
}

// Addr returns the bound address, or nil before Start.
func (s *EventListener) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Start binds the configured address and begins serving in the background.
// It does not block. Bind failures are returned.
func (s *EventListener) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrAlreadyStarted
	}
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.address, err)
	}

	opts := []grpc.ServerOption{
		grpc.NumStreamWorkers(uint32(s.workers)),
		grpc.MaxConcurrentStreams(uint32(s.workers)),
	}
	opts = append(opts, s.serverOptions...)
	srv := grpc.NewServer(opts...)
	events.RegisterAnalyzerServer(srv, s)

	s.server = srv
	s.lis = lis
	s.served = make(chan struct{})
	go func(served chan struct{}) {
		defer close(served)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Errorw("serve failed", "address", lis.Addr().String(), "error", err)
		}
	}(s.served)

	s.logger.Infof("%s started on %s", s, lis.Addr())
	s.notifyStart(lis.Addr().String())
	return nil
}

// Block suspends the calling goroutine until Stop is called, ctx is done, or
// the process receives SIGINT or SIGTERM. It never fails; an interrupt is a
// normal way to end it.
func (s *EventListener) Block(ctx context.Context) {
	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	select {
	case <-s.stopped:
	case <-sigCtx.Done():
		s.logger.Infof("%s interrupted", s)
	}
}

// Stop asserts the stop signal and shuts the server down. With
// cancelRunning false it waits for the calls already accepted to finish and
// for their queued finish hooks; with cancelRunning true it closes every
// connection at once and cancels the contexts of running calls. Stop may be
// called more than once, e.g. to escalate a graceful stop.
func (s *EventListener) Stop(cancelRunning bool) {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.notifyStop()
	})

	s.mu.Lock()
	srv, served := s.server, s.served
	s.mu.Unlock()

	if cancelRunning {
		if srv != nil {
			s.logger.Infof("stopping %s immediately", s)
			srv.Stop()
		}
		return
	}
	if srv != nil {
		s.logger.Infof("stopping %s gracefully", s)
		srv.GracefulStop()
		<-served
	}
	s.finished.wait()
}

// NotifyReviewEvent handles a review event.
func (s *EventListener) NotifyReviewEvent(ctx context.Context, evt *events.ReviewEvent) (*events.EventResponse, error) {
	if evt == nil {
		return nil, status.Error(codes.InvalidArgument, "review event is required")
	}
	return s.handle(ctx, evt)
}

// NotifyPushEvent handles a push event. The response is an acknowledgment
// only.
func (s *EventListener) NotifyPushEvent(ctx context.Context, evt *events.PushEvent) (*events.EventResponse, error) {
	if evt == nil {
		return nil, status.Error(codes.InvalidArgument, "push event is required")
	}
	return s.handle(ctx, evt)
}

func (s *EventListener) handle(ctx context.Context, evt events.Event) (*events.EventResponse, error) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}

	state := &CallState{}
	ctx = WithCallState(ctx, state)

	s.notifyCallStart(ctx, evt)
	resp, err := s.run(ctx, evt, state)
	<-s.slots
	s.notifyCallFinish(ctx, evt, state)

	if st := state.Status(); st != nil {
		return nil, st.Err()
	}
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("%s: %s", ErrorKind(err), err))
	}
	return resp, nil
}

// run calls the pipeline. Stages added with WithMiddleware sit outside
// LogExceptions, so a panic from one of them is contained here.
func (s *EventListener) run(ctx context.Context, evt events.Event, state *CallState) (resp *events.EventResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			ctx = slogging.WithFields(ctx, state.Fields)
			resp, err = fail(ctx, s.logger, s.metrics, state, &PanicError{Value: r, Stack: debug.Stack()}), nil
		}
	}()
	return s.pipeline(ctx, evt)
}
