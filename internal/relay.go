package internal

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"lookout/pkg/events"
	"lookout/pkg/server"
	"lookout/pkg/slogging"
	"lookout/pkg/worker"
)

// SubscriberConfig derives the relay subscriber from the forwarding config,
// so the relay reads from the brokers the forwarder writes to.
func SubscriberConfig(cfg Config) worker.SubscriberConfig {
	wm := cfg.Watermill
	return worker.SubscriberConfig{
		Driver:  wm.Driver,
		Drivers: wm.Drivers,
		GoChannel: worker.GoChannelConfig{
			OutputChannelBuffer:            wm.GoChannel.OutputChannelBuffer,
			Persistent:                     wm.GoChannel.Persistent,
			BlockPublishUntilSubscriberAck: wm.GoChannel.BlockPublishUntilSubscriberAck,
		},
		Kafka: worker.KafkaConfig{
			Brokers:       wm.Kafka.Brokers,
			ConsumerGroup: cfg.Relay.ConsumerGroup,
		},
		NATS: worker.NATSConfig{
			ClusterID: wm.NATS.ClusterID,
			ClientID:  wm.NATS.ClientID + "-relay",
			URL:       wm.NATS.URL,
			Durable:   cfg.Relay.ConsumerGroup,
		},
		AMQP: worker.AMQPConfig{
			URL:  wm.AMQP.URL,
			Mode: wm.AMQP.Mode,
		},
		SQL: worker.SQLConfig{
			Driver:           wm.SQL.Driver,
			DSN:              wm.SQL.DSN,
			Dialect:          wm.SQL.Dialect,
			ConsumerGroup:    cfg.Relay.ConsumerGroup,
			InitializeSchema: wm.SQL.AutoInitializeSchema,
		},
	}
}

// NewRelay builds the relay worker replaying every configured topic into
// handlers.
func NewRelay(cfg Config, handlers server.EventHandlers, logger *zap.SugaredLogger) (*worker.Worker, error) {
	topics := cfg.Topics()
	opts := []worker.Option{
		worker.WithTopics(topics...),
		worker.WithConcurrency(cfg.Relay.Concurrency),
		worker.WithLogger(logger),
		worker.WithListener(RelayListener(logger)),
		worker.WithMiddleware(
			worker.MiddlewareFromWatermill(middleware.Recoverer),
			worker.MiddlewareFromWatermill(middleware.Timeout(time.Duration(cfg.Relay.TimeoutMS)*time.Millisecond)),
		),
	}
	if cfg.Relay.RetryTransient {
		opts = append(opts, worker.WithRetry(worker.StatusRetry{}))
	}

	w, err := worker.NewFromConfig(SubscriberConfig(cfg), NewWatermillLogger(logger.Named("watermill")), opts...)
	if err != nil {
		return nil, err
	}
	w.HandleAll(worker.Replay(handlers, logger))
	return w, nil
}

// RelayListener counts relayed events and logs the worker lifecycle.
func RelayListener(logger *zap.SugaredLogger) worker.Listener {
	return worker.Listener{
		OnStart: func(_ context.Context, topics []string) {
			logger.Infow("relay started", "topics", topics)
		},
		OnExit: func(context.Context) {
			logger.Info("relay stopped")
		},
		OnMessageFinish: func(ctx context.Context, evt *worker.Event, err error) {
			if err != nil {
				IncRelayError(evt.Topic)
				return
			}
			IncRelayed(evt.Topic)
			slogging.Logger(ctx, logger).Debug("event relayed")
		},
	}
}

// RemoteHandlers relays events to the analyzer behind notifier, usually a
// client.Client connected to another event listener.
func RemoteHandlers(notifier Notifier) server.EventHandlers {
	return remoteHandlers{notifier: notifier}
}

// Notifier sends events to a remote analyzer.
type Notifier interface {
	NotifyReviewEvent(ctx context.Context, evt *events.ReviewEvent, opts ...grpc.CallOption) (*events.EventResponse, error)
	NotifyPushEvent(ctx context.Context, evt *events.PushEvent, opts ...grpc.CallOption) (*events.EventResponse, error)
}

type remoteHandlers struct {
	notifier Notifier
}

func (h remoteHandlers) ProcessReviewEvent(ctx context.Context, evt *events.ReviewEvent) (*events.EventResponse, error) {
	return h.notifier.NotifyReviewEvent(ctx, evt)
}

func (h remoteHandlers) ProcessPushEvent(ctx context.Context, evt *events.PushEvent) (*events.EventResponse, error) {
	return h.notifier.NotifyPushEvent(ctx, evt)
}
