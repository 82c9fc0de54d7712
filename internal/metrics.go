package internal

import (
	"expvar"
	"fmt"
	"net/http"
	"strings"

	"lookout/pkg/metrics"
)

var (
	forwardedTotal = expvar.NewMap("lookout_forwarded_total")
	publishErrors  = expvar.NewMap("lookout_publish_errors_total")
	journalErrors  = expvar.NewMap("lookout_journal_errors_total")
	relayedTotal   = expvar.NewMap("lookout_relayed_total")
	relayErrors    = expvar.NewMap("lookout_relay_errors_total")
)

func IncForwarded(topic string) {
	forwardedTotal.Add(topic, 1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}

func IncJournalError(event string) {
	journalErrors.Add(event, 1)
}

func IncRelayed(topic string) {
	relayedTotal.Add(topic, 1)
}

func IncRelayError(topic string) {
	relayErrors.Add(topic, 1)
}

// NewRecorder builds the metric sink selected in cfg together with the HTTP
// handler exposing it. The handler is nil for the "none" driver.
func NewRecorder(cfg AppConfig) (metrics.Recorder, http.Handler, error) {
	switch strings.ToLower(cfg.Metrics.Driver) {
	case "prometheus":
		rec := metrics.NewPrometheus(cfg.Metrics.Namespace)
		return rec, rec.Handler(), nil
	case "expvar":
		rec := metrics.NewExpvar(cfg.Metrics.Namespace)
		return rec, rec.Handler(), nil
	case "none":
		return metrics.Nop{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported metrics driver: %s", cfg.Metrics.Driver)
	}
}
