package internal

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// AppConfig represents the main application configuration.
type AppConfig struct {
	// Server holds the event listener configuration.
	Server struct {
		Address        string `yaml:"address" env:"ADDRESS"`
		Workers        int    `yaml:"workers" env:"WORKERS"`
		MetricsAddress string `yaml:"metrics_address" env:"METRICS_ADDRESS"`
		MetricsPath    string `yaml:"metrics_path"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
	} `yaml:"server"`
	// Logging selects the zap level and encoding.
	Logging struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"logging"`
	// Metrics selects the metric sink.
	Metrics struct {
		Driver    string `yaml:"driver" env:"METRICS_DRIVER"`
		Namespace string `yaml:"namespace"`
	} `yaml:"metrics"`
	// Analyzer is reported as the analyzer version in responses.
	Analyzer struct {
		Version string `yaml:"version" env:"ANALYZER_VERSION"`
	} `yaml:"analyzer"`
	// Watermill holds configuration for event forwarding.
	Watermill WatermillConfig `yaml:"watermill"`
	// Journal holds configuration for the call journal.
	Journal JournalConfig `yaml:"journal"`
	// Relay configures the worker that replays forwarded events.
	Relay RelayConfig `yaml:"relay"`
}

// Config represents the application configuration including rules.
type Config struct {
	AppConfig   `yaml:",inline"`
	Rules       []Rule `yaml:"rules"`
	RulesStrict bool   `yaml:"rules_strict"`
}

// WatermillConfig holds the configuration for Watermill, which handles messaging.
type WatermillConfig struct {
	Enabled      bool               `yaml:"enabled"`
	Driver       string             `yaml:"driver"`
	Drivers      []string           `yaml:"drivers"`
	GoChannel    GoChannelConfig    `yaml:"gochannel"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	NATS         NATSConfig         `yaml:"nats"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	SQL          SQLConfig          `yaml:"sql"`
	HTTP         HTTPConfig         `yaml:"http"`
	RiverQueue   RiverQueueConfig   `yaml:"riverqueue"`
	PublishRetry PublishRetryConfig `yaml:"publish_retry"`
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka pub/sub.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// NATSConfig holds configuration for the NATS streaming pub/sub.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
}

// AMQPConfig holds configuration for the AMQP pub/sub.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL pub/sub.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP publisher.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverQueueConfig holds configuration for the RiverQueue publisher.
type RiverQueueConfig struct {
	DSN         string   `yaml:"dsn"`
	Queue       string   `yaml:"queue"`
	Kind        string   `yaml:"kind"`
	MaxAttempts int      `yaml:"max_attempts"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
}

type PublishRetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// JournalConfig configures the GORM-backed call journal.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	Table       string `yaml:"table"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// RelayConfig configures the relay worker. It subscribes with the
// watermill section's drivers to the topics named here, or to every topic
// the rules emit when none are named.
type RelayConfig struct {
	Analyzer       string   `yaml:"analyzer" env:"RELAY_ANALYZER"`
	Topics         []string `yaml:"topics"`
	Concurrency    int      `yaml:"concurrency" env:"RELAY_CONCURRENCY"`
	ConsumerGroup  string   `yaml:"consumer_group"`
	TimeoutMS      int      `yaml:"timeout_ms"`
	RetryTransient bool     `yaml:"retry_transient"`
}

// Topics lists the relay topics, defaulting to the rules' emit topics.
func (c Config) Topics() []string {
	source := c.Relay.Topics
	if len(source) == 0 {
		for _, rule := range c.Rules {
			source = append(source, rule.Emit...)
		}
	}
	seen := make(map[string]struct{}, len(source))
	topics := make([]string, 0, len(source))
	for _, topic := range trimAll(source) {
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	return topics
}

// LoadConfig loads the application configuration from a YAML file.
// It expands environment variables, applies LOOKOUT_* overrides and
// defaults, and normalizes rules. An empty path loads defaults only.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return cfg, err
		}
	}

	if err := env.ParseWithOptions(&cfg.AppConfig, env.Options{Prefix: "LOOKOUT_"}); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	applyDefaults(&cfg.AppConfig)
	if err := validate(&cfg.AppConfig); err != nil {
		return cfg, err
	}
	normalized, err := normalizeRules(cfg.Rules)
	if err != nil {
		return cfg, err
	}
	cfg.Rules = normalized

	return cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = "0.0.0.0:2000"
	}
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = 1
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Metrics.Driver == "" {
		cfg.Metrics.Driver = "prometheus"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "lookout"
	}
	if cfg.Analyzer.Version == "" {
		cfg.Analyzer.Version = "lookout-sdk"
	}
	if cfg.Watermill.Driver == "" {
		cfg.Watermill.Driver = "gochannel"
	}
	if cfg.Watermill.GoChannel.OutputChannelBuffer == 0 {
		cfg.Watermill.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Watermill.HTTP.Mode == "" {
		cfg.Watermill.HTTP.Mode = "topic_url"
	}
	if cfg.Watermill.RiverQueue.Queue == "" {
		cfg.Watermill.RiverQueue.Queue = "default"
	}
	if cfg.Watermill.RiverQueue.Kind == "" {
		cfg.Watermill.RiverQueue.Kind = "lookout.event"
	}
	if cfg.Watermill.RiverQueue.MaxAttempts == 0 {
		cfg.Watermill.RiverQueue.MaxAttempts = 25
	}
	if cfg.Watermill.PublishRetry.Attempts == 0 {
		cfg.Watermill.PublishRetry.Attempts = 3
	}
	if cfg.Watermill.PublishRetry.DelayMS == 0 {
		cfg.Watermill.PublishRetry.DelayMS = 500
	}
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	if cfg.Journal.Table == "" {
		cfg.Journal.Table = "lookout_calls"
	}
	if cfg.Relay.Concurrency == 0 {
		cfg.Relay.Concurrency = cfg.Server.Workers
	}
	if cfg.Relay.ConsumerGroup == "" {
		cfg.Relay.ConsumerGroup = "lookout-relay"
	}
	if cfg.Relay.TimeoutMS == 0 {
		cfg.Relay.TimeoutMS = 60000
	}
}

func validate(cfg *AppConfig) error {
	if strings.TrimSpace(cfg.Server.Address) == "" {
		return errors.New("server address is required")
	}
	if cfg.Server.Workers < 0 {
		return fmt.Errorf("server workers must be positive, got %d", cfg.Server.Workers)
	}
	switch strings.ToLower(cfg.Metrics.Driver) {
	case "prometheus", "expvar", "none":
	default:
		return fmt.Errorf("unsupported metrics driver: %s", cfg.Metrics.Driver)
	}
	if cfg.Relay.Concurrency < 0 {
		return fmt.Errorf("relay concurrency must be positive, got %d", cfg.Relay.Concurrency)
	}
	if cfg.Journal.Enabled && cfg.Journal.DSN == "" {
		return errors.New("journal dsn is required when the journal is enabled")
	}
	return nil
}

func normalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		rule.Emit = trimAll(rule.Emit)
		if rule.When == "" || len(rule.Emit) == 0 {
			return nil, fmt.Errorf("rule %d is missing when or emit", i)
		}
		rule.Drivers = trimAll(rule.Drivers)
		out = append(out, rule)
	}
	return out, nil
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
