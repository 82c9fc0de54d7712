package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus exports every event name as a summary. Names are sanitized,
// so "request.PushEvent" becomes "<namespace>_request_PushEvent".
type Prometheus struct {
	namespace string
	registry  *prometheus.Registry

	mu        sync.Mutex
	summaries map[string]prometheus.Summary
}

// NewPrometheus creates a recorder with its own registry.
func NewPrometheus(namespace string) *Prometheus {
	return &Prometheus{
		namespace: sanitizeName(namespace),
		registry:  prometheus.NewRegistry(),
		summaries: make(map[string]prometheus.Summary),
	}
}

// RecordEvent observes value under the summary for name.
func (p *Prometheus) RecordEvent(name string, value float64) {
	p.summary(name).Observe(value)
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) summary(name string) prometheus.Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.summaries[name]; ok {
		return s
	}
	s := prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace:  p.namespace,
		Name:       sanitizeName(name),
		Help:       "lookout event " + name,
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})
	if err := p.registry.Register(s); err != nil {
		if existing, ok := err.(prometheus.AlreadyRegisteredError); ok {
			s = existing.ExistingCollector.(prometheus.Summary)
		}
	}
	p.summaries[name] = s
	return s
}

func sanitizeName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
