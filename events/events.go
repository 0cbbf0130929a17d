package events

import (
	"encoding/json"
	"time"
)

// Version is the envelope version written by Emit.
const Version = 1

// Event types published on the hub.
const (
	TypePropertyDataReady = "propertyDataReady"
	TypeExtractExhausted  = "extractExhausted"
	TypeReconcileDone     = "reconcileDone"
	TypePing              = "ping"
)

type Event struct {
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MakeEvent encodes an envelope ready to be written as an SSE data line.
func MakeEvent(reqID, typ string, v int, data any) string {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	e := Event{
		Type:      typ,
		Version:   v,
		At:        time.Now().UTC(),
		RequestID: reqID,
		Data:      raw,
	}
	b, _ := json.Marshal(e)
	return string(b)
}

// ParseEvent decodes an envelope produced by MakeEvent.
func ParseEvent(s string) (Event, error) {
	var e Event
	err := json.Unmarshal([]byte(s), &e)
	return e, err
}
