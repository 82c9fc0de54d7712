// Package client sends lookout events to an analyzer over gRPC.
package client

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"lookout/pkg/events"
)

// Client calls the analyzer service.
type Client struct {
	conn *grpc.ClientConn
	meta metadata.MD
}

// Option configures a Client.
type Option func(*Client)

// WithMetadata attaches key/value pairs to every call.
func WithMetadata(kv ...string) Option {
	return func(c *Client) {
		c.meta = metadata.Join(c.meta, metadata.Pairs(kv...))
	}
}

// Dial creates a client for the analyzer at address. The connection is
// established lazily on the first call.
func Dial(address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errors.New("address is required")
	}
	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(events.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	c := &Client{conn: conn, meta: metadata.MD{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NotifyReviewEvent sends a review event.
func (c *Client) NotifyReviewEvent(ctx context.Context, evt *events.ReviewEvent, opts ...grpc.CallOption) (*events.EventResponse, error) {
	out := new(events.EventResponse)
	if err := c.conn.Invoke(c.outgoing(ctx), events.NotifyReviewEventMethod, evt, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// NotifyPushEvent sends a push event.
func (c *Client) NotifyPushEvent(ctx context.Context, evt *events.PushEvent, opts ...grpc.CallOption) (*events.EventResponse, error) {
	out := new(events.EventResponse)
	if err := c.conn.Invoke(c.outgoing(ctx), events.NotifyPushEventMethod, evt, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if len(c.meta) == 0 {
		return ctx
	}
	existing, _ := metadata.FromOutgoingContext(ctx)
	return metadata.NewOutgoingContext(ctx, metadata.Join(c.meta, existing))
}
