package server

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc/codes"

	"lookout/pkg/events"
	"lookout/pkg/slogging"
)

// CallInfo summarizes a finished call for listeners.
type CallInfo struct {
	Type     string
	Fields   slogging.Fields
	Duration time.Duration
	Failed   bool
	Code     codes.Code
	Details  string
	Err      error
}

// Listener provides hooks into the event listener's lifecycle for
// forwarding, journaling, and the like. OnCallStart runs on the calling
// worker. OnCallFinish and OnCallError run in call order on a background
// queue after the worker slot is released, with a context that is not
// cancelled when the call returns. Panics inside hooks are logged and
// swallowed.
type Listener struct {
	// OnStart is called once the server is bound to addr.
	OnStart func(addr string)
	// OnStop is called when Stop is first requested.
	OnStop func()
	// OnCallStart is called before the pipeline runs.
	OnCallStart func(ctx context.Context, evt events.Event)
	// OnCallFinish is called after the pipeline returns.
	OnCallFinish func(ctx context.Context, evt events.Event, info CallInfo)
	// OnCallError is called after OnCallFinish when the call failed.
	OnCallError func(ctx context.Context, evt events.Event, err error)
}

func newCallInfo(evt events.Event, state *CallState) CallInfo {
	return CallInfo{
		Type:     evt.TypeName(),
		Fields:   state.Fields.Clone(),
		Duration: state.Duration,
		Failed:   state.Error,
		Code:     state.Code,
		Details:  state.Details,
		Err:      state.Err,
	}
}

func (s *EventListener) notifyStart(addr string) {
	for _, l := range s.listeners {
		if l.OnStart != nil {
			s.guard("OnStart", func() { l.OnStart(addr) })
		}
	}
}

func (s *EventListener) notifyStop() {
	for _, l := range s.listeners {
		if l.OnStop != nil {
			s.guard("OnStop", l.OnStop)
		}
	}
}

func (s *EventListener) notifyCallStart(ctx context.Context, evt events.Event) {
	for _, l := range s.listeners {
		if l.OnCallStart != nil {
			s.guard("OnCallStart", func() { l.OnCallStart(ctx, evt) })
		}
	}
}

func (s *EventListener) notifyCallFinish(ctx context.Context, evt events.Event, state *CallState) {
	if len(s.listeners) == 0 {
		return
	}
	info := newCallInfo(evt, state)
	ctx = slogging.WithFields(context.WithoutCancel(ctx), state.Fields)
	if !s.finished.push(func() { s.runCallFinish(ctx, evt, info) }) {
		slogging.Logger(ctx, s.logger).Warnw("call finish hooks dropped", "queued", s.finished.limit)
	}
}

func (s *EventListener) runCallFinish(ctx context.Context, evt events.Event, info CallInfo) {
	for _, l := range s.listeners {
		if l.OnCallFinish != nil {
			s.guard("OnCallFinish", func() { l.OnCallFinish(ctx, evt, info) })
		}
	}
	if !info.Failed {
		return
	}
	for _, l := range s.listeners {
		if l.OnCallError != nil {
			s.guard("OnCallError", func() { l.OnCallError(ctx, evt, info.Err) })
		}
	}
}

// hookQueue runs functions one at a time in push order. A drain goroutine
// exists only while the queue is non-empty.
type hookQueue struct {
	limit int

	mu      sync.Mutex
	items   []func()
	running bool
	pending sync.WaitGroup
}

// push queues fn and reports false when limit items are already waiting.
func (q *hookQueue) push(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		return false
	}
	q.items = append(q.items, fn)
	q.pending.Add(1)
	if !q.running {
		q.running = true
		go q.drain()
	}
	return true
}

func (q *hookQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		fn()
		q.pending.Done()
	}
}

// wait blocks until every queued function has run.
func (q *hookQueue) wait() {
	q.pending.Wait()
}

func (s *EventListener) guard(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("listener panicked", "hook", hook, "panic", r)
		}
	}()
	fn()
}
