package worker

import "time"

// SubscriberConfig holds the configuration for a Watermill subscriber.
type SubscriberConfig struct {
	Driver  string
	Drivers []string

	GoChannel GoChannelConfig
	Kafka     KafkaConfig
	NATS      NATSConfig
	AMQP      AMQPConfig
	SQL       SQLConfig

	// BuildAttempts bounds how often a broker connection is attempted
	// before giving up, waiting BuildDelay in between. Defaults to 10 and 2s.
	BuildAttempts int
	BuildDelay    time.Duration
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64
	Persistent                     bool
	BlockPublishUntilSubscriberAck bool
}

// KafkaConfig holds configuration for the Kafka subscriber.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

// NATSConfig holds configuration for the NATS streaming subscriber.
type NATSConfig struct {
	ClusterID string
	ClientID  string
	URL       string
	Durable   string
}

// AMQPConfig holds configuration for the AMQP subscriber.
type AMQPConfig struct {
	URL  string
	Mode string
}

// SQLConfig holds configuration for the SQL subscriber.
type SQLConfig struct {
	Driver           string
	DSN              string
	Dialect          string
	ConsumerGroup    string
	InitializeSchema bool
}
