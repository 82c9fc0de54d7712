package worker

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// MiddlewareFromWatermill adapts a Watermill handler middleware, such as
// middleware.Timeout or middleware.Recoverer, to the worker chain. The
// context the Watermill middleware sets on the message is the one passed on.
func MiddlewareFromWatermill(m message.HandlerMiddleware) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) error {
			msg := message.NewMessage(watermill.NewUUID(), evt.Payload)
			for key, value := range evt.Metadata {
				msg.Metadata.Set(key, value)
			}
			msg.SetContext(ctx)
			wrapped := m(func(msg *message.Message) ([]*message.Message, error) {
				return nil, next(msg.Context(), evt)
			})
			_, err := wrapped(msg)
			return err
		}
	}
}
