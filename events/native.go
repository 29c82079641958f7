package events

import (
	"encoding/json"
	"math"
	"strconv"
)

// Keys read from a native key-value object.
const (
	KeyEventType        = "eventTypeString"
	KeyControllerType   = "controllerTypeString"
	KeyTargetController = "targetController"
	KeyPlayerNum        = "playerNum"
	KeyPosX             = "posX"
	KeyPosY             = "posY"
)

// FieldReader exposes named fields of an object handed over by the platform
// side. Missing fields read as zero values.
type FieldReader interface {
	String(key string) string
	Int(key string) int
	Float64(key string) float64
}

// FromFields decodes a native object into an Event. It never fails: enum
// text that does not match a known name decodes to the Unknown member.
func FromFields(r FieldReader) Event {
	return Event{
		EventType:        ParseEventType(r.String(KeyEventType)),
		ControllerType:   ParseControllerType(r.String(KeyControllerType)),
		TargetController: r.String(KeyTargetController),
		PlayerNum:        r.Int(KeyPlayerNum),
		PosX:             narrow(r.Float64(KeyPosX)),
		PosY:             narrow(r.Float64(KeyPosY)),
	}
}

// MapReader reads fields from a decoded JSON object.
type MapReader map[string]any

func (m MapReader) String(key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

func (m MapReader) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// Float64 reads a number or numeric string. NaN and infinities read as 0.
func (m MapReader) Float64(key string) float64 {
	if f := m.float64(key); !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return 0
}

func (m MapReader) float64(key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

// narrow converts v to single precision. Values outside the float32 range
// saturate and non-finite input becomes 0.
func narrow(v float64) float32 {
	switch {
	case math.IsNaN(v), math.IsInf(v, 0):
		return 0
	case v > math.MaxFloat32:
		return math.MaxFloat32
	case v < -math.MaxFloat32:
		return -math.MaxFloat32
	}
	return float32(v)
}
