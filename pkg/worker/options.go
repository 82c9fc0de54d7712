package worker

import (
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Option configures a Worker.
type Option func(*Worker)

// WithSubscriber sets where forwarded events are read from.
func WithSubscriber(sub message.Subscriber) Option {
	return func(w *Worker) {
		w.subscriber = sub
	}
}

// WithTopics subscribes the worker to topics. Surrounding spaces are
// trimmed and blanks ignored. Once topics are set, HandleTopic only accepts
// one of them.
func WithTopics(topics ...string) Option {
	return func(w *Worker) {
		for _, topic := range topics {
			topic = strings.TrimSpace(topic)
			if topic == "" {
				continue
			}
			if _, ok := w.allowedTopics[topic]; ok {
				continue
			}
			w.topics = append(w.topics, topic)
			w.allowedTopics[topic] = struct{}{}
		}
	}
}

// WithConcurrency bounds how many events are replayed at once across all
// topics.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithCodec(c Codec) Option {
	return func(w *Worker) {
		if c != nil {
			w.codec = c
		}
	}
}

// WithMiddleware wraps every handler. The first middleware is the
// outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(w *Worker) {
		for _, m := range mw {
			if m != nil {
				w.middleware = append(w.middleware, m)
			}
		}
	}
}

// WithRetry decides, per failed event, whether the message is nacked for
// redelivery. The default acknowledges everything.
func WithRetry(policy RetryPolicy) Option {
	return func(w *Worker) {
		if policy != nil {
			w.retry = policy
		}
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithListener adds lifecycle hooks, called in registration order.
func WithListener(listener Listener) Option {
	return func(w *Worker) {
		w.listeners = append(w.listeners, listener)
	}
}
