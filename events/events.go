package events

import "strings"

type EventType uint8

const (
	Unknown EventType = iota
	PairRequest
	PairResponse
	PairAccepted
	PairRejected
	Disconnect
	PositionUpdate
	Gesture
	PauseGame
	UnpauseGame
	RestartGame
	NodesAvailable
	NodesUnavailable
)

var eventTypeNames = [...]string{
	Unknown:          "UNKNOWN",
	PairRequest:      "PAIR_REQUEST",
	PairResponse:     "PAIR_RESPONSE",
	PairAccepted:     "PAIR_ACCEPTED",
	PairRejected:     "PAIR_REJECTED",
	Disconnect:       "DISCONNECT",
	PositionUpdate:   "POSITION_UPDATE",
	Gesture:          "GESTURE",
	PauseGame:        "PAUSE_GAME",
	UnpauseGame:      "UNPAUSE_GAME",
	RestartGame:      "RESTART_GAME",
	NodesAvailable:   "NODES_AVAILABLE",
	NodesUnavailable: "NODES_UNAVAILABLE",
}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return eventTypeNames[Unknown]
}

// ParseEventType matches name against the event type names ignoring case.
// Anything that does not match is Unknown.
func ParseEventType(name string) EventType {
	for i, n := range eventTypeNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return EventType(i)
		}
	}
	return Unknown
}

// IsPairing reports whether t belongs to the pairing handshake.
func (t EventType) IsPairing() bool {
	switch t {
	case PairRequest, PairResponse, PairAccepted, PairRejected:
		return true
	}
	return false
}

// IsGameControl reports whether t is only meaningful for a paired slot.
func (t EventType) IsGameControl() bool {
	switch t {
	case PositionUpdate, Gesture, PauseGame, UnpauseGame, RestartGame:
		return true
	}
	return false
}

// IsSessionCommand reports whether t controls the whole game session rather
// than one player slot.
func (t EventType) IsSessionCommand() bool {
	switch t {
	case PauseGame, UnpauseGame, RestartGame:
		return true
	}
	return false
}

// IsNodeNotice reports whether t is a slot independent discovery notice.
func (t EventType) IsNodeNotice() bool {
	return t == NodesAvailable || t == NodesUnavailable
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(text []byte) error {
	*t = ParseEventType(string(text))
	return nil
}

type ControllerType uint8

const (
	UnknownController ControllerType = iota
	Slider
	Analog
	DPad
)

var controllerTypeNames = [...]string{
	UnknownController: "UNKNOWN",
	Slider:            "SLIDER",
	Analog:            "ANALOG",
	DPad:              "DPAD",
}

func (c ControllerType) String() string {
	if int(c) < len(controllerTypeNames) {
		return controllerTypeNames[c]
	}
	return controllerTypeNames[UnknownController]
}

// ParseControllerType matches name against the controller type names
// ignoring case. Anything that does not match is UnknownController.
func ParseControllerType(name string) ControllerType {
	for i, n := range controllerTypeNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return ControllerType(i)
		}
	}
	return UnknownController
}

func (c ControllerType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ControllerType) UnmarshalText(text []byte) error {
	*c = ParseControllerType(string(text))
	return nil
}

// Event is the single record exchanged between the host and a companion
// device. Fields that do not apply to EventType are left at their zero value.
type Event struct {
	EventType        EventType
	ControllerType   ControllerType
	PlayerNum        int
	TargetController string
	PosX             float32
	PosY             float32
}

// RequiresPairedSlot reports whether the event should only be accepted for a
// player slot that is already paired.
func (e Event) RequiresPairedSlot() bool {
	return e.EventType.IsGameControl() || e.EventType == Disconnect
}
