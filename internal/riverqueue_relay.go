package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"go.uber.org/zap"

	"lookout/pkg/events"
	"lookout/pkg/server"
	"lookout/pkg/slogging"
)

// riverEventWorker works the jobs inserted by riverQueuePublisher.
type riverEventWorker struct {
	river.WorkerDefaults[eventJobArgs]
	dispatch server.Handler
	logger   *zap.SugaredLogger
}

func (w *riverEventWorker) Work(ctx context.Context, job *river.Job[eventJobArgs]) error {
	args := job.Args
	payload, err := json.Marshal(args.Event)
	if err != nil {
		return river.JobCancel(err)
	}
	evt, err := events.Decode(args.Type, payload)
	if err != nil {
		return river.JobCancel(err)
	}

	fields := slogging.Fields{
		"topic":   args.Topic,
		"type":    args.Type,
		"job":     job.ID,
		"attempt": job.Attempt,
	}
	if args.RequestID != "" {
		fields["request_id"] = args.RequestID
	}
	ctx = slogging.WithFields(ctx, fields)

	if _, err := w.dispatch(ctx, evt); err != nil {
		IncRelayError(args.Topic)
		slogging.Logger(ctx, w.logger).Warnw("job failed", "error", err)
		return err
	}
	IncRelayed(args.Topic)
	return nil
}

// RiverRelay works forwarded events queued in River and replays them into
// event handlers.
type RiverRelay struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	logger *zap.SugaredLogger
}

// NewRiverRelay connects to the River database of cfg.Watermill.RiverQueue.
func NewRiverRelay(ctx context.Context, cfg Config, handlers server.EventHandlers, logger *zap.SugaredLogger) (*RiverRelay, error) {
	rq := cfg.Watermill.RiverQueue
	if rq.DSN == "" {
		return nil, fmt.Errorf("riverqueue dsn is required")
	}
	pool, err := pgxpool.New(ctx, rq.DSN)
	if err != nil {
		return nil, err
	}

	workers := river.NewWorkers()
	river.AddWorkerArgs(workers, eventJobArgs{kind: rq.Kind}, &riverEventWorker{
		dispatch: server.Dispatch(handlers),
		logger:   logger,
	})

	concurrency := cfg.Relay.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		Queues: map[string]river.QueueConfig{
			rq.Queue: {MaxWorkers: concurrency},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("river client: %w", err)
	}
	return &RiverRelay{pool: pool, client: client, logger: logger}, nil
}

// Run works jobs until ctx is done, then waits up to ten seconds for
// running jobs before returning.
func (r *RiverRelay) Run(ctx context.Context) error {
	if err := r.client.Start(ctx); err != nil {
		return fmt.Errorf("river start: %w", err)
	}
	r.logger.Info("river relay started")
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.client.Stop(stopCtx); err != nil {
		r.logger.Warnw("river stop", "error", err)
	}
	return nil
}

// Close releases the database pool.
func (r *RiverRelay) Close() error {
	r.pool.Close()
	return nil
}
