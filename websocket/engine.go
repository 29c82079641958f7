package websocket

import (
	"net/http"
	"sync"

	"github.com/cameroncuttingedge/wear_control/events"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// EngineStream pushes every dispatched event to the connected engine clients.
// Register it as a listener on the bridge.
type EngineStream struct {
	lock  sync.Mutex
	conns map[*conn]bool
}

func NewEngineStream() *EngineStream {
	return &EngineStream{conns: make(map[*conn]bool)}
}

func (s *EngineStream) EngineWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Engine WebSocket upgrade error")
		return
	}
	defer ws.Close()

	c := &conn{ws: ws, timeout: defaultWriteTimeout}
	s.lock.Lock()
	s.conns[c] = true
	s.lock.Unlock()
	log.Info().Str("remote", ws.RemoteAddr().String()).Msg("Engine connection registered")

	defer func() {
		s.lock.Lock()
		delete(s.conns, c)
		s.lock.Unlock()
		log.Info().Str("remote", ws.RemoteAddr().String()).Msg("Engine connection deregistered")
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Msg("Engine WebSocket closed unexpectedly")
			}
			return
		}
	}
}

// Count returns the number of connected engine clients.
func (s *EngineStream) Count() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.conns)
}

func (s *EngineStream) OnEvent(e events.Event) {
	payload, err := events.Serialize(e)
	if err != nil {
		log.Error().Err(err).Msg("Failed to serialize event for engine")
		return
	}

	s.lock.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.lock.Unlock()

	for _, c := range conns {
		if err := c.write([]byte(payload)); err != nil {
			log.Error().Err(err).Msg("Failed to push event to engine")
		}
	}
}
