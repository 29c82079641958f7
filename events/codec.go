package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// wireEvent fixes the key names and their order on the wire.
type wireEvent struct {
	EventType        EventType      `json:"eventType"`
	ControllerType   ControllerType `json:"controllerType"`
	PlayerNum        int            `json:"playerNum"`
	TargetController string         `json:"targetController"`
	PosX             float32        `json:"posX"`
	PosY             float32        `json:"posY"`
}

// Serialize encodes every field of e as a flat JSON object. Enumerations are
// written by name.
func Serialize(e Event) (string, error) {
	data, err := json.Marshal(wireEvent(e))
	if err != nil {
		return "", fmt.Errorf("serialize %s: %w", e.EventType, err)
	}
	return string(data), nil
}

// Deserialize is the inverse of Serialize. Enumeration text it does not
// recognise decodes to Unknown. Input that is not a JSON object fails with a
// MALFORMED_PAYLOAD error and a zero Event.
func Deserialize(payload string) (Event, error) {
	return decode([]byte(payload))
}

// decode reads the object key by key. Keys match exactly, a repeated key is
// malformed and keys it does not know are skipped.
func decode(data []byte) (Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Event{}, malformed("empty payload", nil)
	}
	if data[0] != '{' {
		return Event{}, malformed("payload is not an object", nil)
	}

	var w wireEvent
	fields := map[string]any{
		"eventType":        &w.EventType,
		"controllerType":   &w.ControllerType,
		"playerNum":        &w.PlayerNum,
		"targetController": &w.TargetController,
		"posX":             &w.PosX,
		"posY":             &w.PosY,
	}
	seen := make(map[string]bool, len(fields))

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return Event{}, malformed("decode event", err)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Event{}, malformed("decode event", err)
		}
		key, ok := tok.(string)
		if !ok {
			return Event{}, malformed("decode event: object key is not a string", nil)
		}
		if seen[key] {
			return Event{}, malformed(fmt.Sprintf("duplicate key %q", key), nil)
		}
		seen[key] = true

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return Event{}, malformed("decode event", err)
		}
		target, known := fields[key]
		if !known {
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return Event{}, malformed(fmt.Sprintf("decode %s", key), err)
		}
	}
	if _, err := dec.Token(); err != nil {
		return Event{}, malformed("decode event", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Event{}, malformed("trailing data after event", err)
	}
	return Event(w), nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent(e))
}

func (e *Event) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	decoded, err := decode(data)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}
