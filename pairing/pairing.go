package pairing

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cameroncuttingedge/wear_control/events"
	"github.com/rs/zerolog/log"
)

type State string

const (
	Idle             State = "idle"
	AwaitingResponse State = "awaiting_response"
	Paired           State = "paired"
	Disconnected     State = "disconnected"
)

var (
	ErrInvalidTransition = errors.New("invalid pairing transition")
	ErrSlotBusy          = errors.New("another node already answered for this player")
	ErrNoPendingResponse = errors.New("no pending pair response")
	ErrNodeMismatch      = errors.New("node does not match the pending pair")
	ErrNotPaired         = errors.New("node is not paired")
	ErrLocalOnly         = errors.New("event is not accepted from a remote node")
)

// Slot is the pairing state of one player number.
type Slot struct {
	PlayerNum        int                   `json:"playerNum"`
	State            State                 `json:"state"`
	TargetController string                `json:"targetController,omitempty"`
	PendingNode      string                `json:"pendingNode,omitempty"`
	PairedNode       string                `json:"pairedNode,omitempty"`
	ControllerType   events.ControllerType `json:"controllerType"`
}

// Table tracks the handshake of every player slot.
type Table struct {
	mu    sync.RWMutex
	slots map[int]*Slot
}

func NewTable() *Table {
	return &Table{slots: make(map[int]*Slot)}
}

func (t *Table) slot(playerNum int) *Slot {
	s, ok := t.slots[playerNum]
	if !ok {
		s = &Slot{PlayerNum: playerNum, State: Idle}
		t.slots[playerNum] = s
	}
	return s
}

// Slot returns a copy of the slot for playerNum. Unknown slots are Idle.
func (t *Table) Slot(playerNum int) Slot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.slots[playerNum]; ok {
		return *s
	}
	return Slot{PlayerNum: playerNum, State: Idle}
}

func (t *Table) State(playerNum int) State {
	return t.Slot(playerNum).State
}

// Slots returns every tracked slot ordered by player number.
func (t *Table) Slots() []Slot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dest := make([]Slot, 0, len(t.slots))
	for _, s := range t.slots {
		dest = append(dest, *s)
	}
	sort.Slice(dest, func(i, j int) bool { return dest[i].PlayerNum < dest[j].PlayerNum })
	return dest
}

// RequestSent records an outbound PAIR_REQUEST. A slot that is still paired
// has to be disconnected first.
func (t *Table) RequestSent(playerNum int, target string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slot(playerNum)
	if s.State == Paired {
		return fmt.Errorf("request pair for player %d in state %s: %w", playerNum, s.State, ErrInvalidTransition)
	}
	s.State = AwaitingResponse
	s.TargetController = target
	s.PendingNode = ""
	s.PairedNode = ""
	s.ControllerType = events.UnknownController
	log.Info().Int("playerNum", playerNum).Str("targetController", target).Msg("Pair requested")
	return nil
}

// ResponseSent records an outbound PAIR_RESPONSE to requester. It is the
// companion side of RequestSent.
func (t *Table) ResponseSent(playerNum int, requester string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slot(playerNum)
	if s.State == Paired {
		return fmt.Errorf("respond to pair for player %d in state %s: %w", playerNum, s.State, ErrInvalidTransition)
	}
	s.State = AwaitingResponse
	s.PendingNode = requester
	s.PairedNode = ""
	log.Info().Int("playerNum", playerNum).Str("requester", requester).Msg("Pair response sent")
	return nil
}

// ResponseReceived records the node that answered a PAIR_REQUEST for
// playerNum. Only the first node to answer is kept.
func (t *Table) ResponseReceived(playerNum int, node string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slot(playerNum)
	if s.State != AwaitingResponse {
		return fmt.Errorf("pair response for player %d in state %s: %w", playerNum, s.State, ErrInvalidTransition)
	}
	if s.PendingNode != "" && s.PendingNode != node {
		return fmt.Errorf("pair response from %s for player %d pending on %s: %w", node, playerNum, s.PendingNode, ErrSlotBusy)
	}
	s.PendingNode = node
	log.Info().Int("playerNum", playerNum).Str("node", node).Msg("Pair response received")
	return nil
}

// Accept pairs playerNum with the node whose response is pending and returns
// that node.
func (t *Table) Accept(playerNum int, controllerType events.ControllerType) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slot(playerNum)
	if s.State != AwaitingResponse {
		return "", fmt.Errorf("accept pair for player %d in state %s: %w", playerNum, s.State, ErrInvalidTransition)
	}
	if s.PendingNode == "" {
		return "", fmt.Errorf("accept pair for player %d: %w", playerNum, ErrNoPendingResponse)
	}
	t.pair(s, s.PendingNode, controllerType)
	return s.PairedNode, nil
}

// AcceptedBy handles a PAIR_ACCEPTED received from node. The slot must be
// awaiting a response and node must be the pending one when a pending node
// is known.
func (t *Table) AcceptedBy(playerNum int, node string, controllerType events.ControllerType) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slot(playerNum)
	if s.State != AwaitingResponse {
		return fmt.Errorf("pair accepted for player %d in state %s: %w", playerNum, s.State, ErrInvalidTransition)
	}
	if s.PendingNode != "" && s.PendingNode != node {
		return fmt.Errorf("pair accepted by %s for player %d pending on %s: %w", node, playerNum, s.PendingNode, ErrNodeMismatch)
	}
	t.pair(s, node, controllerType)
	return nil
}

func (t *Table) pair(s *Slot, node string, controllerType events.ControllerType) {
	s.State = Paired
	s.PairedNode = node
	s.PendingNode = ""
	s.ControllerType = controllerType
	log.Info().
		Int("playerNum", s.PlayerNum).
		Str("node", node).
		Str("controllerType", controllerType.String()).
		Msg("Player paired")
}

// Rejected returns an awaiting slot to Idle.
func (t *Table) Rejected(playerNum int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slot(playerNum)
	if s.State != AwaitingResponse {
		return fmt.Errorf("pair rejected for player %d in state %s: %w", playerNum, s.State, ErrInvalidTransition)
	}
	*s = Slot{PlayerNum: playerNum, State: Idle}
	log.Info().Int("playerNum", playerNum).Msg("Pair rejected")
	return nil
}

// Disconnect ends whatever the slot was doing and returns the slot as it
// was before. An Idle slot stays Idle.
func (t *Table) Disconnect(playerNum int) Slot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slot(playerNum)
	prev := *s
	if s.State == Idle {
		return prev
	}
	*s = Slot{PlayerNum: playerNum, State: Disconnected}
	log.Info().Int("playerNum", playerNum).Str("previousState", string(prev.State)).Str("node", prev.PairedNode).Msg("Player disconnected")
	return prev
}

// PairedNode returns the node paired to playerNum, or "" if none.
func (t *Table) PairedNode(playerNum int) string {
	s := t.Slot(playerNum)
	if s.State != Paired {
		return ""
	}
	return s.PairedNode
}

// IsPairedNode reports whether node is paired to any slot.
func (t *Table) IsPairedNode(node string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.slots {
		if s.State == Paired && s.PairedNode == node {
			return true
		}
	}
	return false
}

// PairedNodes lists the distinct nodes currently paired.
func (t *Table) PairedNodes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]bool)
	var dest []string
	for _, s := range t.slots {
		if s.State == Paired && !seen[s.PairedNode] {
			seen[s.PairedNode] = true
			dest = append(dest, s.PairedNode)
		}
	}
	sort.Strings(dest)
	return dest
}

// Guard checks that an inbound event from node is allowed in the current
// pairing state. Handshake events pass from any node. Discovery notices and
// unknown events are only produced locally. Session commands need node to be
// paired to some slot, every other event needs it paired to the event's slot.
func (t *Table) Guard(e events.Event, node string) error {
	switch {
	case e.EventType.IsPairing():
		return nil
	case e.EventType == events.Unknown, e.EventType.IsNodeNotice():
		return fmt.Errorf("%s from %s: %w", e.EventType, node, ErrLocalOnly)
	case e.EventType.IsSessionCommand():
		if !t.IsPairedNode(node) {
			return fmt.Errorf("%s from %s: %w", e.EventType, node, ErrNotPaired)
		}
	case e.RequiresPairedSlot():
		if paired := t.PairedNode(e.PlayerNum); paired == "" || paired != node {
			return fmt.Errorf("%s from %s for player %d: %w", e.EventType, node, e.PlayerNum, ErrNotPaired)
		}
	}
	return nil
}
