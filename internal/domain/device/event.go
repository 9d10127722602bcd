package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPayload is returned when a contract event payload is not a JSON object.
var ErrPayload = errors.New("malformed event payload")

//nolint:gochecknoglobals // Read-only literal.
var jsonNull = []byte("null")

// EventPayload is the structured content of a device contract event. Fields
// are kept verbatim so any JSON type the contract emits passes through.
type EventPayload struct {
	// ID identifies the asset the event refers to.
	ID json.RawMessage `json:"id,omitempty"`
	// APIKey is the telemetry sink access token of the device.
	APIKey json.RawMessage `json:"apiKey,omitempty"`
	// Temperature is the reading that produced the event.
	Temperature json.RawMessage `json:"temperature,omitempty"`
	// IsOutOfRange reports whether the reading crossed the threshold.
	IsOutOfRange json.RawMessage `json:"isOutOfRange,omitempty"`
	// Alarm reports whether the contract raised the alarm.
	Alarm json.RawMessage `json:"alarm,omitempty"`
	// CustomEvent marks alarm-worthy events when present and not null.
	CustomEvent json.RawMessage `json:"customEvent,omitempty"`
}

// ParseEventPayload decodes an event payload. Anything other than a JSON
// object wraps ErrPayload.
func ParseEventPayload(data []byte) (*EventPayload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrPayload)
	}

	var payload EventPayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayload, err)
	}

	return &payload, nil
}

// IsAlarm reports whether the payload carries the custom event discriminator.
func (p *EventPayload) IsAlarm() bool {
	if p == nil {
		return false
	}

	return !isNull(p.CustomEvent)
}

// AlarmRecord derives the record forwarded to the telemetry sink.
func (p *EventPayload) AlarmRecord() AlarmRecord {
	return AlarmRecord{
		DeviceID: Text(p.ID),
		APIKey:   Text(p.APIKey),
		Telemetry: Telemetry{
			Temperature:  bytes.Clone(p.Temperature),
			IsOutOfRange: bytes.Clone(p.IsOutOfRange),
			Alarm:        bytes.Clone(p.Alarm),
		},
	}
}

// Text renders a JSON value as text: strings unquoted, null or absent as
// empty, anything else as its literal.
func Text(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}

	trimmed := bytes.TrimSpace(raw)

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}

	return string(trimmed)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull)
}

// Telemetry is the body posted to the sink. Absent fields are left out.
type Telemetry struct {
	Temperature  json.RawMessage `json:"temperature,omitempty"`
	IsOutOfRange json.RawMessage `json:"isOutOfRange,omitempty"`
	Alarm        json.RawMessage `json:"alarm,omitempty"`
}

// AlarmRecord is a transient alarm derived from one qualifying event.
type AlarmRecord struct {
	// DeviceID is used for logging only.
	DeviceID string
	// APIKey selects the sink endpoint.
	APIKey string
	// Telemetry is the posted body.
	Telemetry Telemetry
}
