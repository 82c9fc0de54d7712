package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamaqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
)

// NewFromConfig creates a new worker from a subscriber configuration.
func NewFromConfig(cfg SubscriberConfig, logger watermill.LoggerAdapter, opts ...Option) (*Worker, error) {
	sub, err := BuildSubscriber(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithSubscriber(sub))
	return New(opts...), nil
}

// SubscriberFactory connects the subscriber of one driver.
type SubscriberFactory func(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error)

var subscriberDrivers = map[string]SubscriberFactory{
	"gochannel": buildGoChannelSubscriber,
	"amqp":      buildAMQPSubscriber,
	"nats":      buildNATSSubscriber,
	"kafka":     buildKafkaSubscriber,
	"sql":       buildSQLSubscriber,
}

// RegisterSubscriberDriver adds or replaces the driver called name.
func RegisterSubscriberDriver(name string, factory SubscriberFactory) {
	if name == "" || factory == nil {
		return
	}
	subscriberDrivers[strings.ToLower(name)] = factory
}

// BuildSubscriber creates a Watermill subscriber for cfg.Driver, or one that
// merges every driver in cfg.Drivers. Drivers that fail to connect are
// skipped as long as one succeeds.
func BuildSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if len(cfg.Drivers) > 0 {
		return buildMultiSubscriber(cfg, logger)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "gochannel"
	}
	return connectSubscriber(cfg, logger, driver)
}

func buildMultiSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	drivers := uniqueStrings(cfg.Drivers)
	if cfg.Driver != "" {
		drivers = uniqueStrings(append(drivers, cfg.Driver))
	}
	if len(drivers) == 0 {
		return nil, errors.New("at least one driver is required")
	}

	subs := make([]namedSubscriber, 0, len(drivers))
	for _, driver := range drivers {
		sub, err := connectSubscriber(cfg, logger, driver)
		if err != nil {
			logger.Error("relay subscriber skipped", err, watermill.LogFields{"driver": driver})
			continue
		}
		subs = append(subs, namedSubscriber{driver: driver, sub: sub})
	}
	if len(subs) == 0 {
		return nil, errors.New("no relay subscriber could be connected")
	}

	return &multiSubscriber{
		subscribers: subs,
		bufferSize:  cfg.GoChannel.OutputChannelBuffer,
	}, nil
}

// connectSubscriber builds driver, retrying up to cfg.BuildAttempts times
// (default 10, 2s apart) while the broker is not reachable. Unknown drivers
// fail at once.
func connectSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter, driver string) (message.Subscriber, error) {
	build, ok := subscriberDrivers[strings.ToLower(driver)]
	if !ok {
		return nil, fmt.Errorf("unsupported subscriber driver: %s", driver)
	}

	attempts := cfg.BuildAttempts
	if attempts <= 0 {
		attempts = 10
	}
	delay := cfg.BuildDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sub, err := build(cfg, logger)
		if err == nil {
			return sub, nil
		}
		lastErr = err
		if attempt < attempts {
			logger.Info("relay subscriber not ready", watermill.LogFields{
				"driver":  driver,
				"attempt": attempt,
				"error":   err.Error(),
			})
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("%s subscriber: %w", driver, lastErr)
}

func buildGoChannelSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
		Persistent:                     cfg.GoChannel.Persistent,
		BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
	}, logger), nil
}

func buildAMQPSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.AMQP.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	amqpCfg, err := amqpSubscriberConfigFromMode(cfg.AMQP.URL, cfg.AMQP.Mode)
	if err != nil {
		return nil, err
	}
	return wmamaqp.NewSubscriber(amqpCfg, logger)
}

// buildNATSSubscriber subscribes through NATS Streaming with a durable name
// so a restarted relay resumes where it stopped.
func buildNATSSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
		return nil, errors.New("nats cluster_id and client_id are required")
	}
	natsCfg := wmnats.StreamingSubscriberConfig{
		ClusterID:   cfg.NATS.ClusterID,
		ClientID:    cfg.NATS.ClientID,
		DurableName: cfg.NATS.Durable,
		Unmarshaler: wmnats.GobMarshaler{},
	}
	if cfg.NATS.URL != "" {
		natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
	}
	return wmnats.NewStreamingSubscriber(natsCfg, logger)
}

func buildKafkaSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	return wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
	}, nil, wmkafka.DefaultMarshaler{}, logger)
}

// buildSQLSubscriber owns the database handle; closing the subscriber
// closes it.
func buildSQLSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
		return nil, errors.New("sql driver and dsn are required")
	}
	schemaAdapter, offsetsAdapter, err := sqlAdapters(cfg.SQL.Dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, err
	}
	sub, err := wmsql.NewSubscriber(db, wmsql.SubscriberConfig{
		ConsumerGroup:    cfg.SQL.ConsumerGroup,
		SchemaAdapter:    schemaAdapter,
		OffsetsAdapter:   offsetsAdapter,
		InitializeSchema: cfg.SQL.InitializeSchema,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &closingSubscriber{Subscriber: sub, closeFn: db.Close}, nil
}

type closingSubscriber struct {
	message.Subscriber
	closeFn func() error
}

func (c *closingSubscriber) Close() error {
	err := c.Subscriber.Close()
	if c.closeFn != nil {
		err = errors.Join(err, c.closeFn())
	}
	return err
}

type multiSubscriber struct {
	subscribers []namedSubscriber
	bufferSize  int64
}

type namedSubscriber struct {
	driver string
	sub    message.Subscriber
}

// Subscribe merges the topic from every driver into one channel and tags
// each message with a "driver" metadata key.
func (m *multiSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if len(m.subscribers) == 0 {
		return nil, errors.New("no subscribers configured")
	}

	buffer := m.bufferSize
	if buffer <= 0 {
		buffer = 64
	}
	out := make(chan *message.Message, buffer)

	channels := make([]<-chan *message.Message, 0, len(m.subscribers))
	for _, entry := range m.subscribers {
		ch, err := entry.sub.Subscribe(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.driver, err)
		}
		channels = append(channels, ch)
	}

	var wg sync.WaitGroup
	wg.Add(len(channels))
	for i, ch := range channels {
		go func(ch <-chan *message.Message, driver string) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					msg.Metadata.Set("driver", driver)
					select {
					case out <- msg:
					case <-ctx.Done():
						msg.Nack()
						return
					}
				}
			}
		}(ch, m.subscribers[i].driver)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (m *multiSubscriber) Close() error {
	var err error
	for _, entry := range m.subscribers {
		if closeErr := entry.sub.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", entry.driver, closeErr))
		}
	}
	return err
}

func amqpSubscriberConfigFromMode(url, mode string) (wmamaqp.Config, error) {
	switch strings.ToLower(mode) {
	case "", "durable_queue":
		return wmamaqp.NewDurableQueueConfig(url), nil
	case "nondurable_queue":
		return wmamaqp.NewNonDurableQueueConfig(url), nil
	case "durable_pubsub":
		return wmamaqp.NewDurablePubSubConfig(url, nil), nil
	case "nondurable_pubsub":
		return wmamaqp.NewNonDurablePubSubConfig(url, nil), nil
	default:
		return wmamaqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", mode)
	}
}

func sqlAdapters(dialect string) (wmsql.SchemaAdapter, wmsql.OffsetsAdapter, error) {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return wmsql.DefaultPostgreSQLSchema{}, wmsql.DefaultPostgreSQLOffsetsAdapter{}, nil
	case "mysql":
		return wmsql.DefaultMySQLSchema{}, wmsql.DefaultMySQLOffsetsAdapter{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
