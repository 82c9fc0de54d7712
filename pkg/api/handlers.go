// Package api exposes read-only HTTP views of the listener's state.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"lookout/internal/journal"
)

const maxLimit = 500

// CallLister is the journal query used by CallsHandler.
type CallLister interface {
	List(ctx context.Context, filter journal.Filter) ([]journal.Record, error)
}

// CallsHandler lists journaled calls. Query parameters: type, url,
// failed=true and limit.
type CallsHandler struct {
	Store  CallLister
	Logger *zap.SugaredLogger
}

type callView struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	URL        string    `json:"url,omitempty"`
	Head       string    `json:"head,omitempty"`
	Peer       string    `json:"peer,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	OK         bool      `json:"ok"`
	Code       string    `json:"code"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Store == nil {
		http.Error(w, "journal not configured", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	filter := journal.Filter{
		Type: strings.TrimSpace(query.Get("type")),
		URL:  strings.TrimSpace(query.Get("url")),
	}
	if raw := strings.TrimSpace(query.Get("failed")); raw != "" {
		failed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "invalid failed", http.StatusBadRequest)
			return
		}
		filter.FailedOnly = failed
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		filter.Limit = limit
	}

	records, err := h.Store.List(r.Context(), filter)
	if err != nil {
		http.Error(w, "list calls failed", http.StatusInternalServerError)
		if h.Logger != nil {
			h.Logger.Errorw("list calls failed", "error", err)
		}
		return
	}

	views := make([]callView, 0, len(records))
	for _, record := range records {
		views = append(views, callView{
			ID:         record.ID,
			Type:       record.Type,
			URL:        record.URL,
			Head:       record.Head,
			Peer:       record.Peer,
			DurationMS: record.Duration.Milliseconds(),
			OK:         record.OK,
			Code:       record.Code,
			Details:    record.Details,
			CreatedAt:  record.CreatedAt,
		})
	}
	writeJSON(w, views)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(payload)
}
