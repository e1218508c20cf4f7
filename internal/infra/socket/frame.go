package socket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Frame is one named event on the push transport
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var errEmptyEvent = errors.New("frame has no event name")

// EncodeFrame builds the wire form of an outbound event
func EncodeFrame(event string, data any) ([]byte, error) {
	if event == "" {
		return nil, errEmptyEvent
	}
	f := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// DecodeFrame parses an inbound frame. Besides the object form
// {"event": ..., "data": ...} it accepts the array form ["event", data].
func DecodeFrame(b []byte) (Frame, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var parts []json.RawMessage
		if err := json.Unmarshal(b, &parts); err != nil {
			return Frame{}, fmt.Errorf("decode frame: %w", err)
		}
		if len(parts) == 0 {
			return Frame{}, errEmptyEvent
		}
		var f Frame
		if err := json.Unmarshal(parts[0], &f.Event); err != nil {
			return Frame{}, fmt.Errorf("decode frame name: %w", err)
		}
		if len(parts) > 1 {
			f.Data = parts[1]
		}
		if f.Event == "" {
			return Frame{}, errEmptyEvent
		}
		return f, nil
	}

	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, errEmptyEvent
	}
	return f, nil
}

// reasonOf extracts a human readable reason from a disconnect or auth-error payload
func reasonOf(data json.RawMessage) string {
	var s string
	if json.Unmarshal(data, &s) == nil {
		return s
	}
	var obj map[string]any
	if json.Unmarshal(data, &obj) == nil {
		for _, key := range []string{"reason", "message", "error"} {
			if v, ok := obj[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}
