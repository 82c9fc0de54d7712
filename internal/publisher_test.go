package internal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// stubPublisher is a mock publisher for testing.
type stubPublisher struct {
	mu           sync.Mutex
	published    int
	failures     int
	lastTopic    string
	lastPayload  []byte
	lastMetadata message.Metadata
}

// Publish increments the published count and records the topic.
func (s *stubPublisher) Publish(topic string, msgs ...*message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.published += len(msgs)
	s.lastTopic = topic
	if len(msgs) > 0 {
		s.lastPayload = append([]byte(nil), msgs[0].Payload...)
		s.lastMetadata = msgs[0].Metadata
	}
	return nil
}

// Close is a no-op.
func (s *stubPublisher) Close() error {
	return nil
}

func registerStub(t *testing.T, name string, stub message.Publisher, closeFn func() error) {
	t.Helper()
	orig, had := publisherDrivers[name]
	t.Cleanup(func() {
		if had {
			publisherDrivers[name] = orig
		} else {
			delete(publisherDrivers, name)
		}
	})
	RegisterPublisherDriver(name, func(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
		return stub, closeFn, nil
	})
}

// TestRegisterPublisherDriver tests that a custom publisher driver can be registered and used.
func TestRegisterPublisherDriver(t *testing.T) {
	stub := &stubPublisher{}
	closed := false
	registerStub(t, "custom", stub, func() error { closed = true; return nil })

	pub, err := NewPublisher(WatermillConfig{Driver: "custom"}, nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	if err := pub.PublishForDrivers(context.Background(), "custom.topic", Event{Type: "PushEvent"}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if stub.published != 1 || stub.lastTopic != "custom.topic" {
		t.Fatalf("expected publish to custom.topic once, got %d to %q", stub.published, stub.lastTopic)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed {
		t.Fatalf("expected custom close to be called")
	}
}

// TestHTTPURLTarget tests that the HTTP target URL is constructed correctly.
func TestHTTPURLTarget(t *testing.T) {
	url, err := httpTargetURL(HTTPConfig{Mode: "base_url", BaseURL: "http://localhost:8080/hooks/"}, "/topic")
	if err != nil {
		t.Fatalf("httpTargetURL: %v", err)
	}
	if url != "http://localhost:8080/hooks/topic" {
		t.Fatalf("unexpected url: %q", url)
	}
	if _, err := httpTargetURL(HTTPConfig{Mode: "topic_url"}, ""); err == nil {
		t.Fatalf("expected error for empty topic url")
	}
}

// TestMultipleDrivers tests that the publisher can be configured to publish to multiple drivers.
func TestMultipleDrivers(t *testing.T) {
	a := &stubPublisher{}
	b := &stubPublisher{}
	registerStub(t, "multi-a", a, nil)
	registerStub(t, "multi-b", b, nil)

	pub, err := NewPublisher(WatermillConfig{Drivers: []string{"multi-a", "multi-b"}}, nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	if err := pub.PublishForDrivers(context.Background(), "multi.topic", Event{Type: "PushEvent"}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if a.published != 1 || b.published != 1 {
		t.Fatalf("expected publish to both drivers, got a=%d b=%d", a.published, b.published)
	}

	if err := pub.PublishForDrivers(context.Background(), "multi.topic", Event{Type: "PushEvent"}, []string{"multi-b"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if a.published != 1 || b.published != 2 {
		t.Fatalf("expected publish to the selected driver only, got a=%d b=%d", a.published, b.published)
	}

	if err := pub.PublishForDrivers(context.Background(), "multi.topic", Event{}, []string{"missing"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

// TestPublishUsesPayloadAndMetadata ensures the encoded event is forwarded and metadata is set.
func TestPublishUsesPayloadAndMetadata(t *testing.T) {
	stub := &stubPublisher{}
	registerStub(t, "payload", stub, nil)

	pub, err := NewPublisher(WatermillConfig{Driver: "payload"}, nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	raw := []byte(`{"distinct_commits":2}`)
	event := Event{
		Type:      "PushEvent",
		RequestID: "req-123",
		Payload:   raw,
	}
	if err := pub.PublishForDrivers(context.Background(), "payload.topic", event, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if string(stub.lastPayload) != string(raw) {
		t.Fatalf("expected payload to be forwarded")
	}
	if stub.lastMetadata.Get("event") != "PushEvent" {
		t.Fatalf("expected event metadata")
	}
	if stub.lastMetadata.Get("request_id") != "req-123" {
		t.Fatalf("expected request_id metadata")
	}
}

// TestPublishRetries ensures transient broker errors are retried.
func TestPublishRetries(t *testing.T) {
	stub := &stubPublisher{failures: 2}
	registerStub(t, "flaky", stub, nil)

	pub, err := NewPublisher(WatermillConfig{
		Driver:       "flaky",
		PublishRetry: PublishRetryConfig{Attempts: 3, DelayMS: 1},
	}, nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), "flaky.topic", Event{Type: "PushEvent"}); err != nil {
		t.Fatalf("expected publish to succeed on the third attempt: %v", err)
	}
	if stub.published != 1 {
		t.Fatalf("expected one delivered message, got %d", stub.published)
	}

	stub.failures = 5
	if err := pub.Publish(context.Background(), "flaky.topic", Event{Type: "PushEvent"}); err == nil {
		t.Fatalf("expected publish to fail once attempts are exhausted")
	}
}

// TestNewPublisherSkipsBrokenDrivers ensures a misconfigured driver does not block the others.
func TestNewPublisherSkipsBrokenDrivers(t *testing.T) {
	stub := &stubPublisher{}
	registerStub(t, "healthy", stub, nil)

	pub, err := NewPublisher(WatermillConfig{
		Drivers:      []string{"kafka", "healthy"},
		PublishRetry: PublishRetryConfig{Attempts: 1},
	}, nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), "topic", Event{Type: "ReviewEvent"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if stub.published != 1 {
		t.Fatalf("expected the healthy driver to receive the event")
	}

	if _, err := NewPublisher(WatermillConfig{Driver: "sql", PublishRetry: PublishRetryConfig{Attempts: 1}}, nil); err == nil {
		t.Fatalf("expected error when no driver can be built")
	}
}

// TestGoChannelPublisher exercises the default in-process driver end to end.
func TestGoChannelPublisher(t *testing.T) {
	var cfg AppConfig
	applyDefaults(&cfg)

	pub, closeFn, err := buildGoChannelPublisher(cfg.Watermill, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("build gochannel: %v", err)
	}
	if closeFn != nil {
		t.Fatalf("expected no extra close function")
	}
	defer pub.Close()

	sub, ok := pub.(message.Subscriber)
	if !ok {
		t.Fatalf("expected gochannel to also be a subscriber")
	}
	msgs, err := sub.Subscribe(context.Background(), "review.done")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	wrapped := &watermillPublisher{publisher: pub}
	if err := wrapped.Publish(context.Background(), "review.done", Event{Type: "ReviewEvent", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg := <-msgs
	msg.Ack()
	if msg.Metadata.Get("event") != "ReviewEvent" {
		t.Fatalf("unexpected metadata %v", msg.Metadata)
	}
}

func TestAMQPAndSQLModes(t *testing.T) {
	for _, mode := range []string{"", "durable_queue", "nondurable_queue", "durable_pubsub", "nondurable_pubsub"} {
		if _, err := amqpConfigFromMode("amqp://localhost", mode); err != nil {
			t.Fatalf("amqp mode %q: %v", mode, err)
		}
	}
	if _, err := amqpConfigFromMode("amqp://localhost", "fanout"); err == nil {
		t.Fatalf("expected unsupported amqp mode")
	}
	for _, dialect := range []string{"postgres", "mysql"} {
		if _, err := sqlSchemaAdapter(dialect); err != nil {
			t.Fatalf("sql dialect %q: %v", dialect, err)
		}
	}
	if _, err := sqlSchemaAdapter("oracle"); err == nil {
		t.Fatalf("expected unsupported sql dialect")
	}
}
