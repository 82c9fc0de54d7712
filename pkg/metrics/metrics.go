// Package metrics defines the metric sink used by the event server and
// provides Prometheus, expvar and in-memory sinks.
package metrics

import "sync"

// Recorder receives named observations, e.g. "request.PushEvent" with a
// duration in seconds or "error" with a count of 1.
type Recorder interface {
	RecordEvent(name string, value float64)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(name string, value float64)

// RecordEvent calls fn.
func (fn RecorderFunc) RecordEvent(name string, value float64) {
	fn(name, value)
}

// Nop discards every observation.
type Nop struct{}

// RecordEvent does nothing.
func (Nop) RecordEvent(string, float64) {}

// Memory keeps every observation in memory.
type Memory struct {
	mu     sync.Mutex
	values map[string][]float64
}

// NewMemory creates an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]float64)}
}

// RecordEvent stores the observation.
func (m *Memory) RecordEvent(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string][]float64)
	}
	m.values[name] = append(m.values[name], value)
}

// Count returns how many observations were recorded under name.
func (m *Memory) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values[name])
}

// Values returns a copy of the observations recorded under name.
func (m *Memory) Values(name string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.values[name]...)
}

// Names returns every name that has at least one observation.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.values))
	for name := range m.values {
		out = append(out, name)
	}
	return out
}
