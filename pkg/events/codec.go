package events

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype under which events travel.
// Clients select it with grpc.CallContentSubtype(CodecName).
const CodecName = "json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec encodes gRPC messages as JSON.
type Codec struct{}

// Marshal encodes v as JSON.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal decodes JSON data into v.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return nil
}

// Name returns CodecName.
func (Codec) Name() string {
	return CodecName
}

// Encode returns the JSON form of an event, as used by forwarders.
func Encode(evt Event) ([]byte, error) {
	return Codec{}.Marshal(evt)
}

// Decode is the inverse of Encode for the event named typeName.
func Decode(typeName string, data []byte) (Event, error) {
	var evt Event
	switch typeName {
	case ReviewEventType:
		evt = &ReviewEvent{}
	case PushEventType:
		evt = &PushEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", typeName)
	}
	if err := (Codec{}).Unmarshal(data, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func init() {
	encoding.RegisterCodec(Codec{})
}
