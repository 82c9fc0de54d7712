package events

import "fmt"

// ReviewEventContext extracts the structured logging fields of a review event.
func ReviewEventContext(e *ReviewEvent) map[string]interface{} {
	return map[string]interface{}{
		"type":        ReviewEventType,
		"url_base":    e.CommitRevision.Base.InternalRepositoryURL,
		"url_head":    e.CommitRevision.Head.InternalRepositoryURL,
		"commit_base": e.CommitRevision.Base.Hash,
		"commit_head": e.CommitRevision.Head.Hash,
	}
}

// PushEventContext extracts the structured logging fields of a push event.
func PushEventContext(e *PushEvent) map[string]interface{} {
	return map[string]interface{}{
		"type":  PushEventType,
		"url":   e.CommitRevision.Head.InternalRepositoryURL,
		"head":  e.CommitRevision.Head.Hash,
		"count": e.DistinctCommits,
	}
}

// ExtractContext returns the logging fields for any event variant.
// It panics on nil or unknown events: both are programming errors.
func ExtractContext(evt Event) map[string]interface{} {
	switch e := evt.(type) {
	case *ReviewEvent:
		if e == nil {
			break
		}
		return ReviewEventContext(e)
	case *PushEvent:
		if e == nil {
			break
		}
		return PushEventContext(e)
	}
	panic(fmt.Sprintf("events: no context extractor for %T", evt))
}
