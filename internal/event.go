package internal

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"lookout/pkg/events"
	"lookout/pkg/slogging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is a processed lookout event as seen by rules and publishers.
type Event struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	Fields    map[string]interface{} `json:"fields"`
	Payload   []byte                 `json:"-"`
}

// NewEvent captures evt together with the logging context of its call.
func NewEvent(evt events.Event, fields slogging.Fields) (Event, error) {
	payload, err := events.Encode(evt)
	if err != nil {
		return Event{}, err
	}
	out := Event{
		Type:    evt.TypeName(),
		Fields:  make(map[string]interface{}, len(fields)),
		Payload: payload,
	}
	for key, value := range fields {
		out.Fields[key] = value
	}
	if meta, ok := fields["meta"].(map[string]string); ok {
		out.RequestID = meta["x-request-id"]
	}
	return out, nil
}

// Document returns the decoded payload with the logging context fields
// layered on top. Rules are evaluated against it.
func (e Event) Document() (map[string]interface{}, error) {
	doc := make(map[string]interface{})
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &doc); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
	}
	for key, value := range e.Fields {
		doc[key] = normalizeValue(value)
	}
	return doc, nil
}

// normalizeValue converts values into the shapes produced by JSON decoding
// so expressions and paths see one representation.
func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case int:
		return float64(typed)
	case int32:
		return float64(typed)
	case int64:
		return float64(typed)
	case uint:
		return float64(typed)
	case uint32:
		return float64(typed)
	case uint64:
		return float64(typed)
	case float32:
		return float64(typed)
	case map[string]string:
		out := make(map[string]interface{}, len(typed))
		for key, v := range typed {
			out[key] = v
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for key, v := range typed {
			out[key] = normalizeValue(v)
		}
		return out
	case []string:
		out := make([]interface{}, len(typed))
		for i, v := range typed {
			out[i] = v
		}
		return out
	default:
		return value
	}
}
