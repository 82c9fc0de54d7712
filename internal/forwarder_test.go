package internal

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"lookout/pkg/client"
	"lookout/pkg/events"
	"lookout/pkg/server"
	"lookout/pkg/slogging"
)

type recordingPublisher struct {
	topics  []string
	drivers [][]string
	events  []Event
	err     error
	closed  bool
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event Event) error {
	return p.PublishForDrivers(ctx, topic, event, nil)
}

func (p *recordingPublisher) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.drivers = append(p.drivers, drivers)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func callFields(evt events.Event) slogging.Fields {
	fields := slogging.Fields(events.ExtractContext(evt))
	fields["meta"] = map[string]string{"x-request-id": "req-7"}
	fields["peer"] = "10.0.0.1:1000"
	return fields
}

func TestForwarderPublishesMatchingTopics(t *testing.T) {
	engine := newEngine(t, false,
		Rule{When: `type == "PushEvent"`, Emit: EmitList{"push.any"}, Drivers: []string{"kafka"}},
		Rule{When: `count >= 2`, Emit: EmitList{"push.many"}},
		Rule{When: `type == "ReviewEvent"`, Emit: EmitList{"review"}},
	)
	pub := &recordingPublisher{}
	fwd := NewForwarder(engine, pub, nil)

	evt := &events.PushEvent{DistinctCommits: 2}
	fwd.Listener().OnCallFinish(context.Background(), evt, server.CallInfo{Type: evt.TypeName(), Fields: callFields(evt)})

	if len(pub.topics) != 2 || pub.topics[0] != "push.any" || pub.topics[1] != "push.many" {
		t.Fatalf("unexpected topics %v", pub.topics)
	}
	if len(pub.drivers[0]) != 1 || pub.drivers[0][0] != "kafka" {
		t.Fatalf("expected rule drivers to be passed through, got %v", pub.drivers[0])
	}
	if pub.events[0].RequestID != "req-7" {
		t.Fatalf("expected request id from call metadata, got %q", pub.events[0].RequestID)
	}
	if len(pub.events[0].Payload) == 0 {
		t.Fatalf("expected encoded event payload")
	}

	if err := fwd.Close(); err != nil || !pub.closed {
		t.Fatalf("expected publisher to be closed")
	}
}

func TestForwarderSkipsFailedCalls(t *testing.T) {
	engine := newEngine(t, false, Rule{When: `type == "PushEvent"`, Emit: EmitList{"push.any"}})
	pub := &recordingPublisher{}
	fwd := NewForwarder(engine, pub, nil)

	evt := &events.PushEvent{}
	fwd.Listener().OnCallFinish(context.Background(), evt, server.CallInfo{Type: evt.TypeName(), Fields: callFields(evt), Failed: true})
	if len(pub.topics) != 0 {
		t.Fatalf("expected failed calls not to be forwarded, got %v", pub.topics)
	}
}

func TestForwarderLogsPublishErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	engine := newEngine(t, false, Rule{When: `type == "ReviewEvent"`, Emit: EmitList{"review"}})
	pub := &recordingPublisher{err: errors.New("broker down")}
	fwd := NewForwarder(engine, pub, zap.New(core).Sugar())

	evt := &events.ReviewEvent{}
	fields := callFields(evt)
	ctx := slogging.WithFields(context.Background(), fields)
	fwd.Listener().OnCallFinish(ctx, evt, server.CallInfo{Type: evt.TypeName(), Fields: fields})

	failures := logs.FilterMessage("forward failed").All()
	if len(failures) != 1 {
		t.Fatalf("expected one forward failure log, got %d", len(failures))
	}
	if failures[0].ContextMap()["type"] != "ReviewEvent" {
		t.Fatalf("expected the call's logging context on the log line, got %v", failures[0].ContextMap())
	}
}

func TestForwarderOnEventListener(t *testing.T) {
	engine := newEngine(t, false, Rule{When: `type == "ReviewEvent" && commit_head == "bbb"`, Emit: EmitList{"review"}})
	pub := &recordingPublisher{}
	fwd := NewForwarder(engine, pub, nil)

	srv := server.NewEventListener("127.0.0.1:0", server.HandlerFuncs{
		Review: func(ctx context.Context, evt *events.ReviewEvent) (*events.EventResponse, error) {
			return &events.EventResponse{}, nil
		},
	}, server.WithListener(fwd.Listener()))

	evt := &events.ReviewEvent{CommitRevision: events.CommitRevision{Head: events.ReferencePointer{Hash: "bbb"}}}
	if _, err := srv.NotifyReviewEvent(context.Background(), evt); err != nil {
		t.Fatalf("notify: %v", err)
	}
	srv.Stop(false)
	if len(pub.topics) != 1 || pub.topics[0] != "review" {
		t.Fatalf("expected the processed event to be forwarded, got %v", pub.topics)
	}
}

type downBroker struct {
	attempts int32
}

func (b *downBroker) Publish(topic string, messages ...*message.Message) error {
	atomic.AddInt32(&b.attempts, 1)
	return errors.New("broker down")
}

func (b *downBroker) Close() error { return nil }

func TestBrokerOutageDoesNotDelayAcknowledgment(t *testing.T) {
	engine := newEngine(t, false, Rule{When: `type == "PushEvent"`, Emit: EmitList{"push.a", "push.b"}})
	broker := &downBroker{}
	pub := &watermillPublisher{publisher: broker, retry: PublishRetryConfig{Attempts: 3, DelayMS: 200}}
	fwd := NewForwarder(engine, pub, nil)

	srv := server.NewEventListener("127.0.0.1:0", server.HandlerFuncs{
		Push: func(ctx context.Context, evt *events.PushEvent) (*events.EventResponse, error) {
			return &events.EventResponse{}, nil
		},
	}, server.WithWorkers(1), server.WithListener(fwd.Listener()))
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	c, err := client.Dial(srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	for i := 0; i < 2; i++ {
		started := time.Now()
		if _, err := c.NotifyPushEvent(context.Background(), &events.PushEvent{}); err != nil {
			t.Fatalf("notify: %v", err)
		}
		if elapsed := time.Since(started); elapsed > 300*time.Millisecond {
			t.Fatalf("acknowledgment waited for the broker: %s", elapsed)
		}
	}

	srv.Stop(false)
	if got := atomic.LoadInt32(&broker.attempts); got != 12 {
		t.Fatalf("expected every publish to be retried before stop returned, got %d attempts", got)
	}
}
