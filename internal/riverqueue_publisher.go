package internal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// eventJobArgs is the job enqueued for each forwarded event. Workers decode
// it by the configured kind.
type eventJobArgs struct {
	kind string

	Topic     string                 `json:"topic"`
	Type      string                 `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	Fields    map[string]interface{} `json:"fields"`
	Event     map[string]interface{} `json:"event"`
}

func (a eventJobArgs) Kind() string { return a.kind }

// riverQueuePublisher enqueues events as River jobs. The client is
// insert-only; jobs are worked elsewhere.
type riverQueuePublisher struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	cfg    RiverQueueConfig
}

func newRiverQueuePublisher(cfg RiverQueueConfig) (*riverQueuePublisher, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("riverqueue dsn is required")
	}
	pool, err := pgxpool.New(context.Background(), cfg.DSN)
	if err != nil {
		return nil, err
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("river client: %w", err)
	}
	return &riverQueuePublisher{pool: pool, client: client, cfg: cfg}, nil
}

func (p *riverQueuePublisher) Publish(ctx context.Context, topic string, event Event) error {
	args, err := p.jobArgs(topic, event)
	if err != nil {
		return err
	}
	_, err = p.client.Insert(ctx, args, p.insertOpts())
	return err
}

func (p *riverQueuePublisher) jobArgs(topic string, event Event) (eventJobArgs, error) {
	args := eventJobArgs{
		kind:      p.cfg.Kind,
		Topic:     topic,
		Type:      event.Type,
		RequestID: event.RequestID,
		Fields:    make(map[string]interface{}, len(event.Fields)),
	}
	for key, value := range event.Fields {
		args.Fields[key] = normalizeValue(value)
	}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &args.Event); err != nil {
			return args, fmt.Errorf("decode %s payload: %w", event.Type, err)
		}
	}
	return args, nil
}

func (p *riverQueuePublisher) insertOpts() *river.InsertOpts {
	return &river.InsertOpts{
		MaxAttempts: p.cfg.MaxAttempts,
		Priority:    p.cfg.Priority,
		Queue:       p.cfg.Queue,
		Tags:        p.cfg.Tags,
	}
}

func (p *riverQueuePublisher) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *riverQueuePublisher) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	return p.Publish(ctx, topic, event)
}
