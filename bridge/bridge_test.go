package bridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cameroncuttingedge/wear_control/bridge"
	"github.com/cameroncuttingedge/wear_control/events"
	"github.com/cameroncuttingedge/wear_control/pairing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const broadcastNode = "*"

type sentEvent struct {
	Node  string
	Path  string
	Event events.Event
}

type fakeTransport struct {
	mu       sync.Mutex
	sent     []sentEvent
	retained map[string]string
	nodes    []string
	nodesErr error
	resets   int
}

func newFakeTransport(nodes ...string) *fakeTransport {
	return &fakeTransport{retained: make(map[string]string), nodes: nodes}
}

func (f *fakeTransport) record(node, path, payload string) error {
	e, err := events.Deserialize(payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, sentEvent{Node: node, Path: path, Event: e})
	return nil
}

func (f *fakeTransport) Send(_ context.Context, nodeID, path, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(nodeID, path, payload)
}

func (f *fakeTransport) Broadcast(_ context.Context, path, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retained[path] = payload
	return f.record(broadcastNode, path, payload)
}

func (f *fakeTransport) Forget(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.retained, path)
	return nil
}

func (f *fakeTransport) ReachableNodes(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.nodes...), f.nodesErr
}

func (f *fakeTransport) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.retained = make(map[string]string)
	return nil
}

func (f *fakeTransport) last() sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) all() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.sent...)
}

func (f *fakeTransport) isRetained(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.retained[path]
	return ok
}

type observer struct {
	mu   sync.Mutex
	seen []events.Event
}

func (o *observer) OnEvent(e events.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, e)
}

func (o *observer) types() []events.EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	dest := make([]events.EventType, len(o.seen))
	for i, e := range o.seen {
		dest[i] = e.EventType
	}
	return dest
}

func (o *observer) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = nil
}

func newBridge(t *testing.T, nodes ...string) (*bridge.Bridge, *fakeTransport, *observer) {
	t.Helper()
	transport := newFakeTransport(nodes...)
	b := bridge.New("host", transport)
	obs := &observer{}
	b.AddListener(obs)
	return b, transport, obs
}

func serialize(t *testing.T, e events.Event) string {
	t.Helper()
	text, err := events.Serialize(e)
	require.NoError(t, err)
	return text
}

func TestHostPairing(t *testing.T) {
	ctx := context.Background()
	b, transport, obs := newBridge(t, "node-a", "node-b")

	require.NoError(t, b.RequestPair(ctx, "watch-1", 2))
	req := transport.last()
	assert.Equal(t, broadcastNode, req.Node)
	assert.Equal(t, bridge.PathPairRequest, req.Path)
	assert.Equal(t, events.New(events.PairRequest).TargetController("watch-1").PlayerNum(2).Build(), req.Event)
	assert.True(t, transport.isRetained(bridge.PathPairRequest))
	assert.Equal(t, pairing.AwaitingResponse, b.Slot(2).State)

	response := events.New(events.PairResponse).PlayerNum(2).Build()
	require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, response)))
	assert.Equal(t, []events.EventType{events.PairResponse}, obs.types())

	t.Run("second responder gets rejected", func(t *testing.T) {
		require.NoError(t, b.HandleInbound(ctx, "node-b", serialize(t, response)))

		rejected := transport.last()
		assert.Equal(t, "node-b", rejected.Node)
		assert.Equal(t, bridge.PathPairReject, rejected.Path)
		assert.Equal(t, events.PairRejected, rejected.Event.EventType)
		assert.Equal(t, 2, rejected.Event.PlayerNum)
		assert.Equal(t, []events.EventType{events.PairResponse}, obs.types())
	})

	require.NoError(t, b.AcceptPair(ctx, "slider", 2))

	accepted := transport.last()
	assert.Equal(t, "node-a", accepted.Node)
	assert.Equal(t, bridge.PathPairAccept, accepted.Path)
	assert.Equal(t, events.New(events.PairAccepted).ControllerType(events.Slider).PlayerNum(2).Build(), accepted.Event)
	assert.False(t, transport.isRetained(bridge.PathPairRequest))

	slot := b.Slot(2)
	assert.Equal(t, pairing.Paired, slot.State)
	assert.Equal(t, "node-a", slot.PairedNode)
	assert.Equal(t, events.Slider, slot.ControllerType)
	assert.Equal(t, []events.EventType{events.PairResponse, events.NodesAvailable}, obs.types())
}

func TestCompanionPairing(t *testing.T) {
	ctx := context.Background()
	b, transport, obs := newBridge(t, "phone")

	request := events.New(events.PairRequest).TargetController("host").PlayerNum(1).Build()
	require.NoError(t, b.HandleInbound(ctx, "phone", serialize(t, request)))
	require.NoError(t, b.RespondToPair(ctx, 1))

	resp := transport.last()
	assert.Equal(t, "phone", resp.Node)
	assert.Equal(t, bridge.PathPairResponse, resp.Path)
	assert.Equal(t, events.PairResponse, resp.Event.EventType)

	accepted := events.New(events.PairAccepted).ControllerType(events.Analog).PlayerNum(1).Build()
	require.NoError(t, b.HandleInbound(ctx, "phone", serialize(t, accepted)))

	assert.Equal(t, "phone", b.Slot(1).PairedNode)
	assert.Equal(t, []events.EventType{events.PairRequest, events.PairAccepted, events.NodesUnavailable}, obs.types())
}

func TestInboundOrdering(t *testing.T) {
	ctx := context.Background()
	b, _, obs := newBridge(t, "node-a")
	require.NoError(t, b.RequestPair(ctx, "watch-1", 1))

	for _, name := range []string{"PAIR_REQUEST", "PAIR_ACCEPTED", "GESTURE"} {
		require.NoError(t, b.HandleNative(ctx, "node-a", events.MapReader{
			"eventTypeString":      name,
			"controllerTypeString": "dpad",
			"playerNum":            1,
		}))
	}

	assert.Equal(t, []events.EventType{
		events.PairRequest,
		events.PairAccepted,
		events.NodesUnavailable,
		events.Gesture,
	}, obs.types())
	assert.Equal(t, events.DPad, b.Slot(1).ControllerType)
}

func TestLocalOnlyEventsDropped(t *testing.T) {
	ctx := context.Background()
	b, _, obs := newBridge(t, "node-a")
	require.NoError(t, b.RequestPair(ctx, "watch-1", 1))
	require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, events.New(events.PairAccepted).PlayerNum(1).Build())))
	obs.reset()

	for _, node := range []string{"stranger", "node-a"} {
		for _, name := range []string{"UNKNOWN", "NODES_AVAILABLE", "NODES_UNAVAILABLE", "TELEPORT"} {
			err := b.HandleNative(ctx, node, events.MapReader{"eventTypeString": name, "playerNum": 1})
			assert.ErrorIs(t, err, pairing.ErrLocalOnly, node+" "+name)
		}
	}

	assert.Empty(t, obs.types())
	assert.Equal(t, pairing.Paired, b.Slot(1).State)
}

func TestUnexpectedAcceptBecomesRejection(t *testing.T) {
	ctx := context.Background()
	b, _, obs := newBridge(t, "node-a")

	accepted := events.New(events.PairAccepted).ControllerType(events.Slider).PlayerNum(4).Build()
	require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, accepted)))

	require.Len(t, obs.seen, 1)
	assert.Equal(t, events.PairRejected, obs.seen[0].EventType)
	assert.Equal(t, 4, obs.seen[0].PlayerNum)
	assert.Equal(t, pairing.Idle, b.Slot(4).State)
}

func TestInboundRejection(t *testing.T) {
	ctx := context.Background()
	b, transport, obs := newBridge(t, "node-a")
	require.NoError(t, b.RequestPair(ctx, "watch-1", 1))

	rejected := events.New(events.PairRejected).PlayerNum(1).Build()
	require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, rejected)))

	assert.Equal(t, pairing.Idle, b.Slot(1).State)
	assert.False(t, transport.isRetained(bridge.PathPairRequest))
	assert.Equal(t, []events.EventType{events.PairRejected}, obs.types())
}

func TestGameControlNeedsPairing(t *testing.T) {
	ctx := context.Background()
	b, _, obs := newBridge(t, "node-a")

	position := events.New(events.PositionUpdate).PlayerNum(1).Position(0.25, 0.5).Build()
	err := b.HandleInbound(ctx, "node-a", serialize(t, position))
	assert.ErrorIs(t, err, pairing.ErrNotPaired)
	assert.Empty(t, obs.types())

	require.NoError(t, b.RequestPair(ctx, "watch-1", 1))
	require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, events.New(events.PairAccepted).PlayerNum(1).Build())))
	obs.reset()

	require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, position)))
	require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, events.New(events.PauseGame).Build())))
	assert.ErrorIs(t, b.HandleInbound(ctx, "node-b", serialize(t, position)), pairing.ErrNotPaired)

	require.Len(t, obs.seen, 2)
	assert.Equal(t, position, obs.seen[0])
	assert.Equal(t, events.PauseGame, obs.seen[1].EventType)
}

func TestMalformedInbound(t *testing.T) {
	b, _, obs := newBridge(t)

	err := b.HandleInbound(context.Background(), "node-a", `{"eventType":`)

	assert.True(t, errors.Is(err, events.ErrMalformedPayload))
	assert.Empty(t, obs.types())
}

func TestOwnEventsIgnored(t *testing.T) {
	b, _, obs := newBridge(t)

	require.NoError(t, b.HandleInbound(context.Background(), "host", serialize(t, events.New(events.NodesAvailable).Build())))

	assert.Empty(t, obs.types())
}

func TestCheckAvailableNodes(t *testing.T) {
	ctx := context.Background()

	t.Run("no nodes", func(t *testing.T) {
		b, _, obs := newBridge(t)

		assert.False(t, b.CheckAvailableNodes(ctx))
		assert.Equal(t, []events.EventType{events.NodesUnavailable}, obs.types())
	})

	t.Run("unpaired node", func(t *testing.T) {
		b, _, obs := newBridge(t, "node-a")

		assert.True(t, b.CheckAvailableNodes(ctx))
		assert.Equal(t, []events.EventType{events.NodesAvailable}, obs.types())
	})

	t.Run("transport failure", func(t *testing.T) {
		b, transport, obs := newBridge(t, "node-a")
		transport.nodesErr = errors.New("link down")

		assert.False(t, b.CheckAvailableNodes(ctx))
		assert.Equal(t, []events.EventType{events.NodesUnavailable}, obs.types())
	})
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("local disconnect", func(t *testing.T) {
		b, transport, obs := newBridge(t, "node-a")
		require.NoError(t, b.RequestPair(ctx, "watch-1", 1))
		require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, events.New(events.PairAccepted).PlayerNum(1).Build())))
		obs.reset()

		require.NoError(t, b.Disconnect(ctx, 1))

		sent := transport.last()
		assert.Equal(t, "node-a", sent.Node)
		assert.Equal(t, bridge.PathDisconnect, sent.Path)
		assert.Equal(t, events.New(events.Disconnect).PlayerNum(1).Build(), sent.Event)
		assert.Equal(t, pairing.Disconnected, b.Slot(1).State)
		assert.Equal(t, []events.EventType{events.NodesAvailable}, obs.types())
	})

	t.Run("remote disconnect", func(t *testing.T) {
		b, _, obs := newBridge(t, "node-a")
		require.NoError(t, b.RequestPair(ctx, "watch-1", 1))
		require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, events.New(events.PairAccepted).PlayerNum(1).Build())))
		obs.reset()

		disconnect := events.New(events.Disconnect).PlayerNum(1).Build()
		assert.ErrorIs(t, b.HandleInbound(ctx, "node-b", serialize(t, disconnect)), pairing.ErrNotPaired)
		require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, disconnect)))

		assert.Equal(t, pairing.Disconnected, b.Slot(1).State)
		assert.Equal(t, []events.EventType{events.Disconnect, events.NodesAvailable}, obs.types())
	})

	t.Run("request on a paired slot disconnects first", func(t *testing.T) {
		b, transport, _ := newBridge(t, "node-a")
		require.NoError(t, b.RequestPair(ctx, "watch-1", 1))
		require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, events.New(events.PairAccepted).PlayerNum(1).Build())))

		require.NoError(t, b.RequestPair(ctx, "watch-2", 1))

		sent := transport.all()
		require.GreaterOrEqual(t, len(sent), 2)
		assert.Equal(t, events.Disconnect, sent[len(sent)-2].Event.EventType)
		assert.Equal(t, events.PairRequest, sent[len(sent)-1].Event.EventType)
		assert.Equal(t, "watch-2", b.Slot(1).TargetController)
	})
}

func TestRejectPair(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing pending", func(t *testing.T) {
		b, _, _ := newBridge(t)
		assert.ErrorIs(t, b.RejectPair(ctx, 1), bridge.ErrNoPendingRequest)
		assert.ErrorIs(t, b.RespondToPair(ctx, 1), bridge.ErrNoPendingRequest)
	})

	t.Run("rejects the requester", func(t *testing.T) {
		b, transport, _ := newBridge(t, "phone")
		request := events.New(events.PairRequest).PlayerNum(1).Build()
		require.NoError(t, b.HandleInbound(ctx, "phone", serialize(t, request)))

		require.NoError(t, b.RejectPair(ctx, 1))

		sent := transport.last()
		assert.Equal(t, "phone", sent.Node)
		assert.Equal(t, bridge.PathPairReject, sent.Path)
		assert.ErrorIs(t, b.RejectPair(ctx, 1), bridge.ErrNoPendingRequest)
	})

	t.Run("rejects the pending responder", func(t *testing.T) {
		b, transport, _ := newBridge(t, "node-a")
		require.NoError(t, b.RequestPair(ctx, "watch-1", 1))
		require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, events.New(events.PairResponse).PlayerNum(1).Build())))

		require.NoError(t, b.RejectPair(ctx, 1))

		assert.Equal(t, "node-a", transport.last().Node)
		assert.Equal(t, pairing.Idle, b.Slot(1).State)
	})
}

func TestSessionCommands(t *testing.T) {
	ctx := context.Background()
	b, transport, _ := newBridge(t)

	require.NoError(t, b.PauseGame(ctx))
	assert.Equal(t, sentEvent{Node: broadcastNode, Path: bridge.PathResume, Event: events.New(events.PauseGame).Build()}, transport.last())
	require.NoError(t, b.UnpauseGame(ctx))
	assert.Equal(t, events.UnpauseGame, transport.last().Event.EventType)
	require.NoError(t, b.RestartGame(ctx))
	assert.Equal(t, bridge.PathRestart, transport.last().Path)
}

func TestSendUpdateRouting(t *testing.T) {
	ctx := context.Background()
	b, transport, _ := newBridge(t, "node-a")
	update := events.New(events.Gesture).PlayerNum(1).Build()

	require.NoError(t, b.SendUpdate(ctx, update))
	assert.Equal(t, broadcastNode, transport.last().Node)

	require.NoError(t, b.RequestPair(ctx, "watch-1", 1))
	require.NoError(t, b.HandleInbound(ctx, "node-a", serialize(t, events.New(events.PairAccepted).PlayerNum(1).Build())))

	require.NoError(t, b.SendUpdate(ctx, update))
	assert.Equal(t, sentEvent{Node: "node-a", Path: bridge.PathUpdate, Event: update}, transport.last())
}

func TestInitialize(t *testing.T) {
	t.Run("resets retained events", func(t *testing.T) {
		b, transport, obs := newBridge(t)
		require.NoError(t, b.PauseGame(context.Background()))

		require.NoError(t, b.Initialize(context.Background()))

		assert.Equal(t, 1, transport.resets)
		assert.False(t, transport.isRetained(bridge.PathResume))
		assert.Equal(t, []events.EventType{events.NodesUnavailable}, obs.types())
	})

	t.Run("reports reachable nodes", func(t *testing.T) {
		b, _, obs := newBridge(t, "node-a")

		require.NoError(t, b.Initialize(context.Background()))

		assert.Equal(t, []events.EventType{events.NodesAvailable}, obs.types())
	})
}
