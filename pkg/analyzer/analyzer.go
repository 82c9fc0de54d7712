// Package analyzer defines what an analyzer provides to the event listener
// and adapts it to server.EventHandlers.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"lookout/pkg/events"
	"lookout/pkg/server"
	"lookout/pkg/slogging"
)

// ErrNoFactory is returned when a review arrives and no Factory is set.
var ErrNoFactory = errors.New("analyzer factory is not configured")

// Model is a trained artifact an analyzer is built from.
type Model interface {
	Name() string
}

// Analyzer reviews the changes between two commits of one repository.
type Analyzer interface {
	Analyze(ctx context.Context, commitFrom, commitTo string) ([]*events.Comment, error)
}

// Factory builds an Analyzer for a repository. model is nil when nothing has
// been trained for url yet.
type Factory func(model Model, url string, config map[string]interface{}) (Analyzer, error)

// Trainer produces a model from the state of a repository at commit.
type Trainer interface {
	Train(ctx context.Context, url, commit string, config map[string]interface{}) (Model, error)
}

// TrainerFunc adapts a function to Trainer.
type TrainerFunc func(ctx context.Context, url, commit string, config map[string]interface{}) (Model, error)

// Train calls f.
func (f TrainerFunc) Train(ctx context.Context, url, commit string, config map[string]interface{}) (Model, error) {
	return f(ctx, url, commit, config)
}

// Handlers serves review events by running an Analyzer and push events by
// training a new model. Trained models are kept per repository URL.
type Handlers struct {
	version string
	factory Factory
	trainer Trainer
	logger  *zap.SugaredLogger

	mu     sync.RWMutex
	models map[string]Model
}

var _ server.EventHandlers = (*Handlers)(nil)

// Option configures Handlers.
type Option func(*Handlers)

// WithTrainer enables training on push events.
func WithTrainer(t Trainer) Option {
	return func(h *Handlers) {
		h.trainer = t
	}
}

// WithLogger sets the logger used for per-call messages.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(h *Handlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithModel seeds the model used for url.
func WithModel(url string, m Model) Option {
	return func(h *Handlers) {
		h.models[url] = m
	}
}

// NewHandlers returns Handlers reporting version as the analyzer version.
func NewHandlers(version string, factory Factory, opts ...Option) *Handlers {
	h := &Handlers{
		version: version,
		factory: factory,
		logger:  zap.NewNop().Sugar(),
		models:  make(map[string]Model),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Model returns the model currently held for url.
func (h *Handlers) Model(url string) (Model, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.models[url]
	return m, ok
}

// ProcessReviewEvent analyzes base..head of the head repository.
func (h *Handlers) ProcessReviewEvent(ctx context.Context, evt *events.ReviewEvent) (*events.EventResponse, error) {
	if h.factory == nil {
		return nil, ErrNoFactory
	}
	url := evt.CommitRevision.Head.InternalRepositoryURL
	model, _ := h.Model(url)

	a, err := h.factory(model, url, evt.Configuration)
	if err != nil {
		return nil, fmt.Errorf("create analyzer for %s: %w", url, err)
	}
	comments, err := a.Analyze(ctx, evt.CommitRevision.Base.Hash, evt.CommitRevision.Head.Hash)
	if err != nil {
		return nil, fmt.Errorf("analyze %s..%s: %w", evt.CommitRevision.Base.Hash, evt.CommitRevision.Head.Hash, err)
	}
	slogging.Logger(ctx, h.logger).Debugw("analysis finished", "comments", len(comments))
	return &events.EventResponse{AnalyzerVersion: h.version, Comments: comments}, nil
}

// ProcessPushEvent trains a model on the pushed head when a Trainer is set.
// The response carries no comments.
func (h *Handlers) ProcessPushEvent(ctx context.Context, evt *events.PushEvent) (*events.EventResponse, error) {
	resp := &events.EventResponse{AnalyzerVersion: h.version}
	if h.trainer == nil {
		return resp, nil
	}
	url := evt.CommitRevision.Head.InternalRepositoryURL
	model, err := h.trainer.Train(ctx, url, evt.CommitRevision.Head.Hash, evt.Configuration)
	if err != nil {
		return nil, fmt.Errorf("train %s@%s: %w", url, evt.CommitRevision.Head.Hash, err)
	}
	if model == nil {
		return resp, nil
	}

	h.mu.Lock()
	h.models[url] = model
	h.mu.Unlock()
	slogging.Logger(ctx, h.logger).Infow("model updated", "model", model.Name())
	return resp, nil
}
