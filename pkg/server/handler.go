package server

import (
	"context"
	"errors"
	"fmt"

	"lookout/pkg/events"
)

// ErrNoHandler is returned when an event reaches dispatch without a matching
// handler operation.
var ErrNoHandler = errors.New("no handler for event")

// EventHandlers processes lookout events. Implementations are shared by all
// workers and must be safe for concurrent use. Errors and panics are
// contained by the server and reported to the caller as internal errors.
type EventHandlers interface {
	ProcessReviewEvent(ctx context.Context, evt *events.ReviewEvent) (*events.EventResponse, error)
	ProcessPushEvent(ctx context.Context, evt *events.PushEvent) (*events.EventResponse, error)
}

// HandlerFuncs implements EventHandlers with plain functions.
// A nil function fails the call with ErrNoHandler.
type HandlerFuncs struct {
	Review func(ctx context.Context, evt *events.ReviewEvent) (*events.EventResponse, error)
	Push   func(ctx context.Context, evt *events.PushEvent) (*events.EventResponse, error)
}

// ProcessReviewEvent calls Review.
func (h HandlerFuncs) ProcessReviewEvent(ctx context.Context, evt *events.ReviewEvent) (*events.EventResponse, error) {
	if h.Review == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, evt.TypeName())
	}
	return h.Review(ctx, evt)
}

// ProcessPushEvent calls Push.
func (h HandlerFuncs) ProcessPushEvent(ctx context.Context, evt *events.PushEvent) (*events.EventResponse, error) {
	if h.Push == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, evt.TypeName())
	}
	return h.Push(ctx, evt)
}

// Handler processes a single event.
type Handler func(ctx context.Context, evt events.Event) (*events.EventResponse, error)

// Middleware wraps a handler to add functionality.
type Middleware func(Handler) Handler

// Dispatch returns the innermost pipeline stage: it routes each event
// variant to the matching EventHandlers operation.
func Dispatch(handlers EventHandlers) Handler {
	return func(ctx context.Context, evt events.Event) (*events.EventResponse, error) {
		switch e := evt.(type) {
		case *events.ReviewEvent:
			return handlers.ProcessReviewEvent(ctx, e)
		case *events.PushEvent:
			return handlers.ProcessPushEvent(ctx, e)
		default:
			return nil, fmt.Errorf("%w: %T", ErrNoHandler, evt)
		}
	}
}

// Chain wraps h with mw so that mw[0] is the outermost stage.
func Chain(h Handler, mw ...Middleware) Handler {
	wrapped := h
	for i := len(mw) - 1; i >= 0; i-- {
		wrapped = mw[i](wrapped)
	}
	return wrapped
}
