package worker

import (
	"context"

	"go.uber.org/zap"

	"lookout/pkg/server"
	"lookout/pkg/slogging"
)

// Handler is a function that processes an event.
type Handler func(ctx context.Context, evt *Event) error

// Middleware is a function that wraps a handler to add functionality.
type Middleware func(Handler) Handler

// Replay returns a Handler that hands every event to handlers, the same way
// the event listener dispatches a gRPC call.
func Replay(handlers server.EventHandlers, log *zap.SugaredLogger) Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	dispatch := server.Dispatch(handlers)
	return func(ctx context.Context, evt *Event) error {
		resp, err := dispatch(ctx, evt.Event)
		if err != nil {
			return err
		}
		comments := 0
		if resp != nil {
			comments = len(resp.Comments)
		}
		slogging.Logger(ctx, log).Debugw("event replayed", "comments", comments)
		return nil
	}
}
