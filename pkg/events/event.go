package events

import "time"

// Event is an inbound repository event delivered by the lookout server.
// The set of variants is closed: ReviewEvent and PushEvent.
type Event interface {
	// TypeName returns the variant name, e.g. "ReviewEvent".
	TypeName() string
	isEvent()
}

const (
	// ReviewEventType is the variant name of ReviewEvent.
	ReviewEventType = "ReviewEvent"
	// PushEventType is the variant name of PushEvent.
	PushEventType = "PushEvent"
)

// ReferencePointer points to a commit of a repository.
type ReferencePointer struct {
	// InternalRepositoryURL is the repository URL as seen by the lookout server.
	InternalRepositoryURL string `json:"internal_repository_url"`
	// ReferenceName is the git reference, e.g. "refs/heads/master".
	ReferenceName string `json:"reference_name"`
	// Hash is the commit hash.
	Hash string `json:"hash"`
}

// CommitRevision is a pair of commits.
type CommitRevision struct {
	Base ReferencePointer `json:"base"`
	Head ReferencePointer `json:"head"`
}

// ReviewEvent is fired when a pull request has to be reviewed.
type ReviewEvent struct {
	Provider       string                 `json:"provider"`
	InternalID     string                 `json:"internal_id"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	IsMergeable    bool                   `json:"is_mergeable"`
	Source         ReferencePointer       `json:"source"`
	Merge          ReferencePointer       `json:"merge"`
	Configuration  map[string]interface{} `json:"configuration,omitempty"`
	CommitRevision CommitRevision         `json:"commit_revision"`
}

// TypeName implements Event.
func (*ReviewEvent) TypeName() string { return ReviewEventType }

func (*ReviewEvent) isEvent() {}

// PushEvent is fired when new commits are pushed to a repository.
type PushEvent struct {
	Provider        string                 `json:"provider"`
	InternalID      string                 `json:"internal_id"`
	CreatedAt       time.Time              `json:"created_at"`
	Commits         uint32                 `json:"commits"`
	DistinctCommits uint32                 `json:"distinct_commits"`
	Configuration   map[string]interface{} `json:"configuration,omitempty"`
	CommitRevision  CommitRevision         `json:"commit_revision"`
}

// TypeName implements Event.
func (*PushEvent) TypeName() string { return PushEventType }

func (*PushEvent) isEvent() {}

// Comment is a single remark produced by an analyzer.
type Comment struct {
	// File is the path of the commented file. Empty means a global comment.
	File string `json:"file,omitempty"`
	// Line is the 1-based line number. Zero means a file-level comment.
	Line       int32  `json:"line,omitempty"`
	Text       string `json:"text"`
	Confidence uint32 `json:"confidence,omitempty"`
}

// EventResponse is the acknowledgment returned for every event.
type EventResponse struct {
	AnalyzerVersion string     `json:"analyzer_version,omitempty"`
	Comments        []*Comment `json:"comments,omitempty"`
}
