package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cameroncuttingedge/wear_control/events"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrNodeNotConnected = errors.New("node is not connected")

const defaultWriteTimeout = 10 * time.Second

// Frame is what travels over a companion device connection. Outbound frames
// carry a serialized event. Inbound frames carry either a serialized event or
// a native key-value object.
type Frame struct {
	Path   string          `json:"path"`
	Event  json.RawMessage `json:"event,omitempty"`
	Native map[string]any  `json:"native,omitempty"`
}

// InboundHandler receives what companion devices send.
type InboundHandler interface {
	HandleInbound(ctx context.Context, nodeID, payload string) error
	HandleNative(ctx context.Context, nodeID string, fields events.FieldReader) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Companion devices are not browsers
}

// conn serialises writes, gorilla allows one concurrent writer per connection.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	timeout time.Duration
}

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Transport connects companion devices over websockets, one connection per
// node id.
type Transport struct {
	lock         sync.Mutex
	nodes        map[string]*conn
	retained     map[string][]byte
	handler      InboundHandler
	writeTimeout time.Duration
}

func NewTransport() *Transport {
	return &Transport{
		nodes:        make(map[string]*conn),
		retained:     make(map[string][]byte),
		writeTimeout: defaultWriteTimeout,
	}
}

// SetHandler sets where inbound frames go. Frames received without a handler
// are dropped.
func (t *Transport) SetHandler(h InboundHandler) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.handler = h
}

func (t *Transport) NodeWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := mux.Vars(r)["nodeID"]
	if !ok || nodeID == "" {
		http.Error(w, "Node ID is required", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("nodeID", nodeID).Msg("WebSocket upgrade error")
		return
	}
	c := &conn{ws: ws, timeout: t.writeTimeout}
	defer ws.Close()

	retained := t.registerConnection(nodeID, c)
	defer t.deregisterConnection(nodeID, c)

	for _, frame := range retained {
		if err := c.write(frame); err != nil {
			log.Error().Err(err).Str("nodeID", nodeID).Msg("Error sending retained frame")
			return
		}
	}

	ctx := r.Context()
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Str("nodeID", nodeID).Msg("WebSocket closed unexpectedly")
			}
			return
		}
		t.handleFrame(ctx, nodeID, message)
	}
}

func (t *Transport) handleFrame(ctx context.Context, nodeID string, message []byte) {
	t.lock.Lock()
	handler := t.handler
	t.lock.Unlock()
	if handler == nil {
		log.Warn().Str("nodeID", nodeID).Msg("No inbound handler, dropping frame")
		return
	}

	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Error().Err(err).Str("nodeID", nodeID).Msg("Skipping malformed frame")
		return
	}

	var err error
	if frame.Native != nil {
		err = handler.HandleNative(ctx, nodeID, events.MapReader(frame.Native))
	} else {
		err = handler.HandleInbound(ctx, nodeID, string(frame.Event))
	}
	if err != nil {
		log.Error().Err(err).Str("nodeID", nodeID).Str("path", frame.Path).Msg("Inbound frame not handled")
	}
}

// registerConnection stores c for nodeID, closing any connection it replaces,
// and returns the retained frames to replay on it.
func (t *Transport) registerConnection(nodeID string, c *conn) [][]byte {
	t.lock.Lock()
	defer t.lock.Unlock()

	if old, ok := t.nodes[nodeID]; ok {
		log.Info().Str("nodeID", nodeID).Msg("Replacing existing node connection")
		_ = old.ws.Close()
	}
	t.nodes[nodeID] = c

	paths := make([]string, 0, len(t.retained))
	for path := range t.retained {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	frames := make([][]byte, len(paths))
	for i, path := range paths {
		frames[i] = t.retained[path]
	}

	log.Info().Str("nodeID", nodeID).Int("connectionsCount", len(t.nodes)).Msg("Node connection registered")
	return frames
}

func (t *Transport) deregisterConnection(nodeID string, c *conn) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.nodes[nodeID] == c {
		delete(t.nodes, nodeID)
		log.Info().Str("nodeID", nodeID).Int("remainingConnections", len(t.nodes)).Msg("Node connection deregistered")
	}
}

func encodeFrame(path, payload string) ([]byte, error) {
	data, err := json.Marshal(Frame{Path: path, Event: json.RawMessage(payload)})
	if err != nil {
		return nil, fmt.Errorf("encode frame for %s: %w", path, err)
	}
	return data, nil
}

func (t *Transport) Send(_ context.Context, nodeID, path, payload string) error {
	frame, err := encodeFrame(path, payload)
	if err != nil {
		return err
	}

	t.lock.Lock()
	c, ok := t.nodes[nodeID]
	t.lock.Unlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", nodeID, ErrNodeNotConnected)
	}
	return c.write(frame)
}

func (t *Transport) Broadcast(_ context.Context, path, payload string) error {
	frame, err := encodeFrame(path, payload)
	if err != nil {
		return err
	}

	t.lock.Lock()
	t.retained[path] = frame
	targets := make(map[string]*conn, len(t.nodes))
	for id, c := range t.nodes {
		targets[id] = c
	}
	t.lock.Unlock()

	log.Info().Str("path", path).Int("connectionsCount", len(targets)).Msg("Broadcasting frame")
	var errs []error
	for id, c := range targets {
		if err := c.write(frame); err != nil {
			log.Error().Err(err).Str("nodeID", id).Msg("Failed to broadcast frame")
			errs = append(errs, fmt.Errorf("broadcast to %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Transport) Forget(_ context.Context, path string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.retained, path)
	return nil
}

func (t *Transport) Reset(_ context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.retained = make(map[string][]byte)
	return nil
}

func (t *Transport) ReachableNodes(_ context.Context) ([]string, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	nodes := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	return nodes, nil
}
