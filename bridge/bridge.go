package bridge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cameroncuttingedge/wear_control/events"
	"github.com/cameroncuttingedge/wear_control/pairing"
	"github.com/rs/zerolog/log"
)

var ErrNoPendingRequest = errors.New("no pending pair request")

// Bridge forwards engine commands to companion devices through a Transport
// and republishes inbound device events to its listeners.
type Bridge struct {
	nodeID     string
	transport  Transport
	dispatcher *events.Dispatcher
	slots      *pairing.Table

	mu sync.Mutex
	// requester is the node whose PAIR_REQUEST is waiting for an answer
	// from this side.
	requester string
}

func New(nodeID string, transport Transport) *Bridge {
	return &Bridge{
		nodeID:     nodeID,
		transport:  transport,
		dispatcher: events.NewDispatcher(),
		slots:      pairing.NewTable(),
	}
}

func (b *Bridge) NodeID() string { return b.nodeID }

func (b *Bridge) Slot(playerNum int) pairing.Slot { return b.slots.Slot(playerNum) }

func (b *Bridge) Slots() []pairing.Slot { return b.slots.Slots() }

func (b *Bridge) AddListener(l events.Listener) events.ListenerID {
	return b.dispatcher.AddListener(l)
}

func (b *Bridge) RemoveListener(id events.ListenerID) bool {
	return b.dispatcher.RemoveListener(id)
}

// Initialize drops anything the transport still retains from an earlier run
// and reports which nodes are available.
func (b *Bridge) Initialize(ctx context.Context) error {
	if err := b.transport.Reset(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	log.Info().Str("nodeID", b.nodeID).Msg("Bridge initialized")
	b.CheckAvailableNodes(ctx)
	return nil
}

// CheckAvailableNodes dispatches NODES_AVAILABLE when at least one reachable
// node is not paired yet and NODES_UNAVAILABLE otherwise.
func (b *Bridge) CheckAvailableNodes(ctx context.Context) bool {
	nodes, err := b.transport.ReachableNodes(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list reachable nodes")
		b.dispatcher.Dispatch(events.New(events.NodesUnavailable).Build())
		return false
	}

	paired := b.slots.PairedNodes()
	available := false
	for _, node := range nodes {
		if node != b.nodeID && !slices.Contains(paired, node) {
			available = true
			break
		}
	}

	log.Info().
		Int("reachable", len(nodes)).
		Int("paired", len(paired)).
		Bool("available", available).
		Msg("Checked available nodes")
	if available {
		b.dispatcher.Dispatch(events.New(events.NodesAvailable).Build())
	} else {
		b.dispatcher.Dispatch(events.New(events.NodesUnavailable).Build())
	}
	return available
}

// RequestPair offers playerNum to every reachable node. A slot that is
// already paired is disconnected first.
func (b *Bridge) RequestPair(ctx context.Context, targetController string, playerNum int) error {
	log.Info().Str("targetController", targetController).Int("playerNum", playerNum).Msg("Requesting pair")

	if b.slots.State(playerNum) == pairing.Paired {
		if err := b.Disconnect(ctx, playerNum); err != nil {
			return err
		}
	}
	if err := b.slots.RequestSent(playerNum, targetController); err != nil {
		return err
	}

	e := events.New(events.PairRequest).TargetController(targetController).PlayerNum(playerNum).Build()
	return b.broadcast(ctx, PathPairRequest, e)
}

// RespondToPair answers the pending PAIR_REQUEST for playerNum.
func (b *Bridge) RespondToPair(ctx context.Context, playerNum int) error {
	requester := b.pendingRequester()
	if requester == "" {
		return fmt.Errorf("respond to pair for player %d: %w", playerNum, ErrNoPendingRequest)
	}
	if err := b.slots.ResponseSent(playerNum, requester); err != nil {
		return err
	}

	e := events.New(events.PairResponse).PlayerNum(playerNum).Build()
	return b.send(ctx, requester, PathPairResponse, e)
}

// AcceptPair pairs playerNum with the node that responded to the request.
func (b *Bridge) AcceptPair(ctx context.Context, controllerTypeName string, playerNum int) error {
	controllerType := events.ParseControllerType(controllerTypeName)
	node, err := b.slots.Accept(playerNum, controllerType)
	if err != nil {
		return err
	}

	e := events.New(events.PairAccepted).ControllerType(controllerType).PlayerNum(playerNum).Build()
	if err := b.send(ctx, node, PathPairAccept, e); err != nil {
		return err
	}
	b.forget(ctx, PathPairRequest)
	b.CheckAvailableNodes(ctx)
	return nil
}

// RejectPair declines the pending request or response for playerNum.
func (b *Bridge) RejectPair(ctx context.Context, playerNum int) error {
	target := b.takeRequester()
	if target == "" {
		target = b.slots.Slot(playerNum).PendingNode
	}
	if target == "" {
		return fmt.Errorf("reject pair for player %d: %w", playerNum, ErrNoPendingRequest)
	}
	if b.slots.State(playerNum) == pairing.AwaitingResponse {
		if err := b.slots.Rejected(playerNum); err != nil {
			log.Debug().Err(err).Msg("Reject on slot")
		}
		b.forget(ctx, PathPairRequest)
	}

	e := events.New(events.PairRejected).PlayerNum(playerNum).Build()
	return b.send(ctx, target, PathPairReject, e)
}

// Disconnect ends the pairing of playerNum and tells the companion device.
func (b *Bridge) Disconnect(ctx context.Context, playerNum int) error {
	prev := b.slots.Disconnect(playerNum)
	b.takeRequester()
	if prev.State == pairing.AwaitingResponse {
		b.forget(ctx, PathPairRequest)
	}

	e := events.New(events.Disconnect).PlayerNum(playerNum).Build()
	var err error
	if prev.PairedNode != "" {
		err = b.send(ctx, prev.PairedNode, PathDisconnect, e)
	} else {
		err = b.broadcast(ctx, PathDisconnect, e)
	}
	b.CheckAvailableNodes(ctx)
	return err
}

func (b *Bridge) PauseGame(ctx context.Context) error {
	return b.broadcast(ctx, PathResume, events.New(events.PauseGame).Build())
}

func (b *Bridge) UnpauseGame(ctx context.Context) error {
	return b.broadcast(ctx, PathResume, events.New(events.UnpauseGame).Build())
}

func (b *Bridge) RestartGame(ctx context.Context) error {
	return b.broadcast(ctx, PathRestart, events.New(events.RestartGame).Build())
}

// SendUpdate sends e straight to the node paired with e.PlayerNum, or to
// every node when the slot is not paired.
func (b *Bridge) SendUpdate(ctx context.Context, e events.Event) error {
	if node := b.slots.PairedNode(e.PlayerNum); node != "" {
		return b.send(ctx, node, PathUpdate, e)
	}
	return b.broadcast(ctx, PathUpdate, e)
}

// HandleInbound decodes a serialized event received from nodeID and handles
// it. Malformed payloads are returned as errors and nothing is dispatched.
func (b *Bridge) HandleInbound(ctx context.Context, nodeID, payload string) error {
	e, err := events.Deserialize(payload)
	if err != nil {
		return fmt.Errorf("inbound from %s: %w", nodeID, err)
	}
	return b.handle(ctx, nodeID, e)
}

// HandleNative decodes a native key-value object received from nodeID and
// handles it.
func (b *Bridge) HandleNative(ctx context.Context, nodeID string, fields events.FieldReader) error {
	return b.handle(ctx, nodeID, events.FromFields(fields))
}

func (b *Bridge) handle(ctx context.Context, nodeID string, e events.Event) error {
	if nodeID == b.nodeID {
		return nil
	}
	log.Debug().
		Str("node", nodeID).
		Str("eventType", e.EventType.String()).
		Int("playerNum", e.PlayerNum).
		Msg("Handling inbound event")

	switch e.EventType {
	case events.PairRequest:
		b.mu.Lock()
		b.requester = nodeID
		b.mu.Unlock()
		b.dispatcher.Dispatch(e)

	case events.PairResponse:
		err := b.slots.ResponseReceived(e.PlayerNum, nodeID)
		if errors.Is(err, pairing.ErrSlotBusy) {
			log.Warn().Err(err).Msg("Rejecting pair response")
			reject := events.New(events.PairRejected).PlayerNum(e.PlayerNum).Build()
			return b.send(ctx, nodeID, PathPairReject, reject)
		}
		if err != nil {
			log.Debug().Err(err).Msg("Pair response outside a pending request")
		}
		b.dispatcher.Dispatch(e)

	case events.PairAccepted:
		if err := b.slots.AcceptedBy(e.PlayerNum, nodeID, e.ControllerType); err != nil {
			log.Warn().Err(err).Msg("Pair accepted by unexpected node")
			b.takeRequester()
			b.dispatcher.Dispatch(events.New(events.PairRejected).PlayerNum(e.PlayerNum).Build())
			return nil
		}
		b.clearRequester(nodeID)
		b.forget(ctx, PathPairRequest)
		b.dispatcher.Dispatch(e)
		b.CheckAvailableNodes(ctx)

	case events.PairRejected:
		b.clearRequester(nodeID)
		if b.slots.State(e.PlayerNum) == pairing.AwaitingResponse {
			if err := b.slots.Rejected(e.PlayerNum); err != nil {
				log.Debug().Err(err).Msg("Reject on slot")
			}
		}
		b.forget(ctx, PathPairRequest)
		b.dispatcher.Dispatch(e)

	case events.Disconnect:
		if err := b.slots.Guard(e, nodeID); err != nil {
			log.Warn().Err(err).Msg("Dropping disconnect")
			return fmt.Errorf("drop inbound event: %w", err)
		}
		b.slots.Disconnect(e.PlayerNum)
		b.dispatcher.Dispatch(e)
		b.CheckAvailableNodes(ctx)

	default:
		if err := b.slots.Guard(e, nodeID); err != nil {
			ev := log.Warn().Err(err)
			if e.EventType == events.Unknown {
				ev = ev.Str("code", string(events.CodeUnrecognizedEnumeration))
			}
			ev.Msg("Dropping inbound event")
			return fmt.Errorf("drop inbound event: %w", err)
		}
		b.dispatcher.Dispatch(e)
	}
	return nil
}

func (b *Bridge) pendingRequester() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requester
}

func (b *Bridge) takeRequester() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.requester
	b.requester = ""
	return r
}

func (b *Bridge) clearRequester(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.requester == nodeID {
		b.requester = ""
	}
}

func (b *Bridge) send(ctx context.Context, nodeID, path string, e events.Event) error {
	payload, err := events.Serialize(e)
	if err != nil {
		return err
	}
	log.Debug().Str("node", nodeID).Str("path", path).Str("event", payload).Msg("Sending event")
	if err := b.transport.Send(ctx, nodeID, path, payload); err != nil {
		return fmt.Errorf("send %s to %s: %w", e.EventType, nodeID, err)
	}
	return nil
}

func (b *Bridge) broadcast(ctx context.Context, path string, e events.Event) error {
	payload, err := events.Serialize(e)
	if err != nil {
		return err
	}
	log.Debug().Str("path", path).Str("event", payload).Msg("Broadcasting event")
	if err := b.transport.Broadcast(ctx, path, payload); err != nil {
		return fmt.Errorf("broadcast %s: %w", e.EventType, err)
	}
	return nil
}

func (b *Bridge) forget(ctx context.Context, path string) {
	if err := b.transport.Forget(ctx, path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to forget retained event")
	}
}
