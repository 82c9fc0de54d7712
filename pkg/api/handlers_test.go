package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lookout/internal/journal"
)

type stubLister struct {
	filter  journal.Filter
	records []journal.Record
	err     error
}

func (s *stubLister) List(_ context.Context, filter journal.Filter) ([]journal.Record, error) {
	s.filter = filter
	return s.records, s.err
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestCallsHandlerLists(t *testing.T) {
	store := &stubLister{records: []journal.Record{{
		ID:       "1",
		Type:     "ReviewEvent",
		Duration: 1500 * time.Millisecond,
		Code:     "Internal",
		Details:  "*errors.errorString: boom",
	}}}
	h := &CallsHandler{Store: store}

	rec := serve(h, http.MethodGet, "/calls?type=ReviewEvent&failed=true&limit=1000&url=file:///repo")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, journal.Filter{Type: "ReviewEvent", URL: "file:///repo", FailedOnly: true, Limit: maxLimit}, store.filter)

	var got []map[string]interface{}
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, float64(1500), got[0]["duration_ms"])
	assert.Equal(t, "Internal", got[0]["code"])
	assert.Equal(t, false, got[0]["ok"])
}

func TestCallsHandlerErrors(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, serve(&CallsHandler{}, http.MethodGet, "/calls").Code)

	h := &CallsHandler{Store: &stubLister{}}
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodPost, "/calls").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/calls?limit=ten").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/calls?failed=maybe").Code)

	failing := &CallsHandler{Store: &stubLister{err: errors.New("db down")}}
	assert.Equal(t, http.StatusInternalServerError, serve(failing, http.MethodGet, "/calls").Code)
}

func TestCallsHandlerEmptyList(t *testing.T) {
	rec := serve(&CallsHandler{Store: &stubLister{}}, http.MethodGet, "/calls")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
