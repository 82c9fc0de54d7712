package worker

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"lookout/pkg/events"
)

// Codec decodes broker messages into events.
type Codec interface {
	Decode(topic string, msg *message.Message) (*Event, error)
}

// DefaultCodec reads the event type from the "event" metadata key and the
// JSON event from the payload, which is how the forwarder publishes them.
type DefaultCodec struct{}

// Decode implements Codec.
func (DefaultCodec) Decode(topic string, msg *message.Message) (*Event, error) {
	eventType := msg.Metadata.Get("event")
	if eventType == "" {
		return nil, errors.New("message has no event metadata")
	}
	evt, err := events.Decode(eventType, msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode message %s: %w", msg.UUID, err)
	}

	metadata := make(map[string]string, len(msg.Metadata))
	for key, value := range msg.Metadata {
		metadata[key] = value
	}
	return &Event{
		Type:      eventType,
		Topic:     topic,
		RequestID: msg.Metadata.Get("request_id"),
		Driver:    msg.Metadata.Get("driver"),
		Metadata:  metadata,
		Payload:   msg.Payload,
		Event:     evt,
	}, nil
}
