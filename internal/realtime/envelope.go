package realtime

import (
	"encoding/json"
)

// Envelope is the typed wire unit exchanged over the channel in both
// directions. Type is the dispatch key and is always a non-empty string on
// valid frames.
type Envelope struct {
	Type    string          `json:"type"`
	EventID string          `json:"eventId,omitempty"`
	TS      string          `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseEnvelope decodes a raw inbound frame. Frames that are not JSON objects
// or carry a missing, empty, or non-string type are reported as invalid and
// must be discarded by the caller, never dispatched.
func ParseEnvelope(data []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, false
	}
	if env.Type == "" {
		return Envelope{}, false
	}
	return env, true
}
