package metrics

import (
	"expvar"
	"net/http"
)

// Expvar publishes running totals and counts under /debug/vars.
type Expvar struct {
	totals *expvar.Map
	counts *expvar.Map
}

// NewExpvar publishes "<prefix>_events_total" and "<prefix>_events_count".
// Publishing the same prefix twice reuses the existing maps.
func NewExpvar(prefix string) *Expvar {
	return &Expvar{
		totals: publishedMap(prefix + "_events_total"),
		counts: publishedMap(prefix + "_events_count"),
	}
}

// RecordEvent adds value to the total of name and bumps its count.
func (e *Expvar) RecordEvent(name string, value float64) {
	e.totals.AddFloat(name, value)
	e.counts.Add(name, 1)
}

// Total returns the running total of name.
func (e *Expvar) Total(name string) float64 {
	if v, ok := e.totals.Get(name).(*expvar.Float); ok {
		return v.Value()
	}
	return 0
}

// Count returns how many times name was recorded.
func (e *Expvar) Count(name string) int64 {
	if v, ok := e.counts.Get(name).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

// Handler serves every published expvar as JSON.
func (e *Expvar) Handler() http.Handler {
	return expvar.Handler()
}

func publishedMap(name string) *expvar.Map {
	if existing, ok := expvar.Get(name).(*expvar.Map); ok {
		return existing
	}
	return expvar.NewMap(name)
}
