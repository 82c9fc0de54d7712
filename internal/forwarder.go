package internal

import (
	"context"

	"go.uber.org/zap"

	"lookout/pkg/events"
	"lookout/pkg/server"
	"lookout/pkg/slogging"
)

// Forwarder publishes successfully processed events to the topics chosen
// by the rule engine.
type Forwarder struct {
	rules     *RuleEngine
	publisher Publisher
	logger    *zap.SugaredLogger
}

func NewForwarder(rules *RuleEngine, publisher Publisher, logger *zap.SugaredLogger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Forwarder{rules: rules, publisher: publisher, logger: logger}
}

// Listener returns the hooks to register with the event listener.
func (f *Forwarder) Listener() server.Listener {
	return server.Listener{OnCallFinish: f.forward}
}

func (f *Forwarder) forward(ctx context.Context, evt events.Event, info server.CallInfo) {
	if info.Failed {
		return
	}
	log := slogging.Logger(ctx, f.logger)

	event, err := NewEvent(evt, info.Fields)
	if err != nil {
		log.Errorw("forward encode failed", "error", err)
		return
	}
	for _, match := range f.rules.Evaluate(event) {
		if err := f.publisher.PublishForDrivers(ctx, match.Topic, event, match.Drivers); err != nil {
			log.Errorw("forward failed", "topic", match.Topic, "error", err)
			continue
		}
		IncForwarded(match.Topic)
		log.Debugw("forwarded", "topic", match.Topic)
	}
}

// Close releases the underlying publisher.
func (f *Forwarder) Close() error {
	return f.publisher.Close()
}
