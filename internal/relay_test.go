package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"lookout/pkg/events"
	"lookout/pkg/server"
	"lookout/pkg/worker"
)

func TestConfigTopics(t *testing.T) {
	cfg := Config{Rules: []Rule{
		{When: "true", Emit: EmitList{"reviews", "all"}},
		{When: "true", Emit: EmitList{"all", " pushes "}},
	}}
	got := cfg.Topics()
	if len(got) != 3 || got[0] != "reviews" || got[1] != "all" || got[2] != "pushes" {
		t.Fatalf("unexpected topics %v", got)
	}

	cfg.Relay.Topics = []string{"only"}
	if got := cfg.Topics(); len(got) != 1 || got[0] != "only" {
		t.Fatalf("expected explicit relay topics, got %v", got)
	}
}

func TestSubscriberConfigFollowsWatermill(t *testing.T) {
	var cfg Config
	cfg.Watermill.Driver = "kafka"
	cfg.Watermill.Kafka.Brokers = []string{"kafka:9092"}
	cfg.Watermill.NATS.ClientID = "lookout"
	cfg.Watermill.SQL.AutoInitializeSchema = true
	cfg.Relay.ConsumerGroup = "relay"

	sub := SubscriberConfig(cfg)
	if sub.Driver != "kafka" || sub.Kafka.Brokers[0] != "kafka:9092" || sub.Kafka.ConsumerGroup != "relay" {
		t.Fatalf("unexpected kafka config %+v", sub.Kafka)
	}
	if sub.NATS.ClientID != "lookout-relay" || sub.NATS.Durable != "relay" {
		t.Fatalf("relay must use its own nats client id, got %+v", sub.NATS)
	}
	if !sub.SQL.InitializeSchema || sub.SQL.ConsumerGroup != "relay" {
		t.Fatalf("unexpected sql config %+v", sub.SQL)
	}
}

func TestLoadConfigRelayDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Relay.Concurrency != cfg.Server.Workers || cfg.Relay.ConsumerGroup != "lookout-relay" || cfg.Relay.TimeoutMS != 60000 {
		t.Fatalf("unexpected relay defaults %+v", cfg.Relay)
	}
}

type fakeNotifier struct {
	reviews int
	pushes  int
	err     error
}

func (n *fakeNotifier) NotifyReviewEvent(ctx context.Context, evt *events.ReviewEvent, opts ...grpc.CallOption) (*events.EventResponse, error) {
	n.reviews++
	return &events.EventResponse{}, n.err
}

func (n *fakeNotifier) NotifyPushEvent(ctx context.Context, evt *events.PushEvent, opts ...grpc.CallOption) (*events.EventResponse, error) {
	n.pushes++
	return &events.EventResponse{}, n.err
}

func TestRemoteHandlers(t *testing.T) {
	notifier := &fakeNotifier{}
	handlers := RemoteHandlers(notifier)
	ctx := context.Background()

	if _, err := handlers.ProcessReviewEvent(ctx, &events.ReviewEvent{}); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := handlers.ProcessPushEvent(ctx, &events.PushEvent{}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if notifier.reviews != 1 || notifier.pushes != 1 {
		t.Fatalf("unexpected calls %+v", notifier)
	}

	notifier.err = errors.New("unavailable")
	if _, err := handlers.ProcessPushEvent(ctx, &events.PushEvent{}); err == nil {
		t.Fatalf("expected notifier error")
	}
}

func TestRelayListenerCounts(t *testing.T) {
	listener := RelayListener(zap.NewNop().Sugar())
	before := relayedTotal.Get("relay.counted")
	listener.OnMessageFinish(context.Background(), &worker.Event{Topic: "relay.counted"}, nil)
	listener.OnMessageFinish(context.Background(), &worker.Event{Topic: "relay.counted"}, errors.New("boom"))

	if before != nil {
		t.Fatalf("unexpected counter before the test: %v", before)
	}
	if got := relayedTotal.Get("relay.counted"); got == nil || got.String() != "1" {
		t.Fatalf("expected one relayed event, got %v", got)
	}
	if got := relayErrors.Get("relay.counted"); got == nil || got.String() != "1" {
		t.Fatalf("expected one relay error, got %v", got)
	}
}

func TestForwardedEventsReplayThroughRelay(t *testing.T) {
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8, Persistent: true}, watermill.NopLogger{})
	defer bus.Close()

	engine := newEngine(t, false, Rule{When: `type == "ReviewEvent"`, Emit: EmitList{"reviews"}})
	fwd := NewForwarder(engine, &watermillPublisher{publisher: bus}, nil)

	received := make(chan *events.ReviewEvent, 1)
	relay := worker.New(worker.WithSubscriber(bus), worker.WithTopics("reviews"))
	relay.HandleAll(worker.Replay(server.HandlerFuncs{
		Review: func(ctx context.Context, evt *events.ReviewEvent) (*events.EventResponse, error) {
			received <- evt
			return &events.EventResponse{}, nil
		},
	}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	evt := &events.ReviewEvent{CommitRevision: events.CommitRevision{
		Head: events.ReferencePointer{InternalRepositoryURL: "file:///repo", Hash: "bbb"},
	}}
	fwd.Listener().OnCallFinish(context.Background(), evt, server.CallInfo{Type: evt.TypeName(), Fields: callFields(evt)})

	select {
	case got := <-received:
		if got.CommitRevision.Head.Hash != "bbb" {
			t.Fatalf("unexpected replayed event %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("forwarded event was not replayed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("relay run: %v", err)
	}
}
