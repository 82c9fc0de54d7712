package worker

import "lookout/pkg/events"

// Event is a forwarded lookout event received from a topic.
type Event struct {
	// Type is the event type name, ReviewEvent or PushEvent.
	Type string
	// Topic is the topic the message was received on.
	Topic string
	// RequestID is the x-request-id of the call that produced the event.
	RequestID string
	// Driver names the subscriber driver when several are combined.
	Driver string
	// Metadata is the broker message metadata.
	Metadata map[string]string
	// Payload is the raw JSON event.
	Payload []byte
	// Event is the decoded payload.
	Event events.Event
}
