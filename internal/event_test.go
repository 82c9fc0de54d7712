package internal

import (
	"testing"

	"lookout/pkg/events"
	"lookout/pkg/slogging"
)

func TestNewEventDocument(t *testing.T) {
	evt := &events.PushEvent{
		Provider:        "github",
		DistinctCommits: 4,
		CommitRevision: events.CommitRevision{
			Head: events.ReferencePointer{InternalRepositoryURL: "file:///repo", Hash: "ccc"},
		},
	}
	fields := slogging.Fields(events.ExtractContext(evt))
	fields["meta"] = map[string]string{"x-request-id": "req-1"}

	event, err := NewEvent(evt, fields)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if event.Type != "PushEvent" || event.RequestID != "req-1" {
		t.Fatalf("unexpected event %+v", event)
	}

	doc, err := event.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if doc["provider"] != "github" {
		t.Fatalf("expected payload fields in document, got %v", doc["provider"])
	}
	if doc["count"] != float64(4) || doc["distinct_commits"] != float64(4) {
		t.Fatalf("expected numbers as float64, got %T %T", doc["count"], doc["distinct_commits"])
	}
	meta, ok := doc["meta"].(map[string]interface{})
	if !ok || meta["x-request-id"] != "req-1" {
		t.Fatalf("expected meta as a generic map, got %#v", doc["meta"])
	}
}

func TestEventDocumentRejectsBadPayload(t *testing.T) {
	if _, err := (Event{Type: "PushEvent", Payload: []byte("{")}).Document(); err == nil {
		t.Fatalf("expected decode error")
	}
}
