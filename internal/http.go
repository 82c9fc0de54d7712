package internal

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// OpsRoute is an extra GET endpoint on the ops router.
type OpsRoute struct {
	Path    string
	Handler http.Handler
}

// NewOpsRouter serves the metrics handler at metricsPath, a liveness probe
// at /healthz and any extra routes. A nil metrics handler leaves it out.
func NewOpsRouter(cfg AppConfig, metrics http.Handler, routes ...OpsRoute) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, 10*time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		r.Method(http.MethodGet, cfg.Server.MetricsPath, metrics)
	}
	for _, route := range routes {
		r.Method(http.MethodGet, route.Path, route.Handler)
	}
	return r
}

// NewOpsServer wraps NewOpsRouter in an http.Server bound to the metrics
// address.
func NewOpsServer(cfg AppConfig, metrics http.Handler, routes ...OpsRoute) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.MetricsAddress,
		Handler:           NewOpsRouter(cfg, metrics, routes...),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
