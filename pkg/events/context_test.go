package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reviewFixture() *ReviewEvent {
	return &ReviewEvent{
		CommitRevision: CommitRevision{
			Base: ReferencePointer{InternalRepositoryURL: "file:///repos/base", Hash: "aaa"},
			Head: ReferencePointer{InternalRepositoryURL: "file:///repos/head", Hash: "bbb"},
		},
	}
}

func TestReviewEventContext(t *testing.T) {
	got := ExtractContext(reviewFixture())

	assert.Equal(t, map[string]interface{}{
		"type":        "ReviewEvent",
		"url_base":    "file:///repos/base",
		"url_head":    "file:///repos/head",
		"commit_base": "aaa",
		"commit_head": "bbb",
	}, got)
}

func TestPushEventContext(t *testing.T) {
	evt := &PushEvent{
		DistinctCommits: 3,
		CommitRevision: CommitRevision{
			Base: ReferencePointer{InternalRepositoryURL: "ignored", Hash: "ignored"},
			Head: ReferencePointer{InternalRepositoryURL: "https://github.com/src-d/lookout", Hash: "ccc"},
		},
	}

	got := ExtractContext(evt)

	assert.Equal(t, map[string]interface{}{
		"type":  "PushEvent",
		"url":   "https://github.com/src-d/lookout",
		"head":  "ccc",
		"count": uint32(3),
	}, got)
}

func TestExtractContextReturnsFreshMap(t *testing.T) {
	evt := reviewFixture()
	first := ExtractContext(evt)
	first["meta"] = "mutated"

	second := ExtractContext(evt)
	_, ok := second["meta"]
	assert.False(t, ok, "extractor must not share maps between calls")
}

func TestExtractContextPanicsOnNil(t *testing.T) {
	require.Panics(t, func() { ExtractContext(nil) })
	require.Panics(t, func() { ExtractContext((*PushEvent)(nil)) })
}

func TestCodecRoundTrip(t *testing.T) {
	codec := Codec{}
	assert.Equal(t, "json", codec.Name())

	data, err := codec.Marshal(reviewFixture())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"internal_repository_url":"file:///repos/base"`)

	var decoded ReviewEvent
	require.NoError(t, codec.Unmarshal(data, &decoded))
	assert.Equal(t, "bbb", decoded.CommitRevision.Head.Hash)

	var empty EventResponse
	require.NoError(t, codec.Unmarshal(nil, &empty))
	assert.Empty(t, empty.Comments)
}

func TestDecode(t *testing.T) {
	data, err := Encode(reviewFixture())
	require.NoError(t, err)

	evt, err := Decode(ReviewEventType, data)
	require.NoError(t, err)
	assert.Equal(t, reviewFixture(), evt)

	_, err = Decode("TagEvent", data)
	assert.Error(t, err)
	_, err = Decode(PushEventType, []byte("{"))
	assert.Error(t, err)
}
