package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cameroncuttingedge/wear_control/bridge"
	"github.com/cameroncuttingedge/wear_control/events"
	"github.com/cameroncuttingedge/wear_control/pairing"
	"github.com/cameroncuttingedge/wear_control/utils"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Bridge is what the HTTP surface drives.
type Bridge interface {
	CheckAvailableNodes(ctx context.Context) bool
	RequestPair(ctx context.Context, targetController string, playerNum int) error
	RespondToPair(ctx context.Context, playerNum int) error
	AcceptPair(ctx context.Context, controllerTypeName string, playerNum int) error
	RejectPair(ctx context.Context, playerNum int) error
	Disconnect(ctx context.Context, playerNum int) error
	PauseGame(ctx context.Context) error
	UnpauseGame(ctx context.Context) error
	RestartGame(ctx context.Context) error
	SendUpdate(ctx context.Context, e events.Event) error
	Slot(playerNum int) pairing.Slot
	Slots() []pairing.Slot
}

type PairRequest struct {
	TargetController string `json:"targetController"`
	PlayerNum        *int   `json:"playerNum"`
}

type PairAccept struct {
	ControllerType string `json:"controllerType"`
	PlayerNum      *int   `json:"playerNum"`
}

type PlayerRequest struct {
	PlayerNum *int `json:"playerNum"`
}

type Server struct {
	bridge Bridge
}

// NewRouter builds the command routes. nodeWS and engineWS serve the
// companion device and engine websocket endpoints.
func NewRouter(b Bridge, nodeWS, engineWS http.HandlerFunc) http.Handler {
	s := &Server{bridge: b}
	r := mux.NewRouter()

	r.HandleFunc("/nodes/check", s.checkNodesHandler).Methods("POST")
	r.HandleFunc("/pair/request", s.requestPairHandler).Methods("POST")
	r.HandleFunc("/pair/accept", s.acceptPairHandler).Methods("POST")
	r.HandleFunc("/pair/respond", s.respondToPairHandler).Methods("POST")
	r.HandleFunc("/pair/reject", s.rejectPairHandler).Methods("POST")
	r.HandleFunc("/players", s.getSlotsHandler).Methods("GET")
	r.HandleFunc("/players/{playerNum}", s.getSlotHandler).Methods("GET")
	r.HandleFunc("/players/{playerNum}/disconnect", s.disconnectHandler).Methods("POST")
	r.HandleFunc("/game/{command}", s.gameCommandHandler).Methods("POST")
	r.HandleFunc("/events", s.sendUpdateHandler).Methods("POST")
	if nodeWS != nil {
		r.HandleFunc("/ws/node/{nodeID}", nodeWS)
	}
	if engineWS != nil {
		r.HandleFunc("/ws/engine", engineWS)
	}

	cors := handlers.CORS(
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))
	return recovery(cors(r))
}

// recoveryLogger routes panics caught by the recovery middleware to zerolog.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Error().Str("panic", fmt.Sprint(v...)).Msg("Recovered from panic")
}

func StartAPI(addr string, handler http.Handler) error {
	log.Info().Str("addr", addr).Msg("Server started")
	return http.ListenAndServe(addr, handler)
}

func (s *Server) checkNodesHandler(w http.ResponseWriter, r *http.Request) {
	available := s.bridge.CheckAvailableNodes(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

func (s *Server) requestPairHandler(w http.ResponseWriter, r *http.Request) {
	req, err := validateAndExtractPairRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.bridge.RequestPair(r.Context(), req.TargetController, *req.PlayerNum); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.bridge.Slot(*req.PlayerNum))
}

func (s *Server) acceptPairHandler(w http.ResponseWriter, r *http.Request) {
	var req PairAccept
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PlayerNum == nil {
		writeError(w, http.StatusBadRequest, errors.New("playerNum is required"))
		return
	}
	if events.ParseControllerType(req.ControllerType) == events.UnknownController {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown controller type %q", req.ControllerType))
		return
	}

	if err := s.bridge.AcceptPair(r.Context(), req.ControllerType, *req.PlayerNum); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.Slot(*req.PlayerNum))
}

func (s *Server) respondToPairHandler(w http.ResponseWriter, r *http.Request) {
	playerNum, err := extractPlayerNum(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.bridge.RespondToPair(r.Context(), playerNum); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.bridge.Slot(playerNum))
}

func (s *Server) rejectPairHandler(w http.ResponseWriter, r *http.Request) {
	playerNum, err := extractPlayerNum(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.bridge.RejectPair(r.Context(), playerNum); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.Slot(playerNum))
}

func (s *Server) disconnectHandler(w http.ResponseWriter, r *http.Request) {
	playerNum, err := utils.ParsePlayerNum(mux.Vars(r)["playerNum"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.bridge.Disconnect(r.Context(), playerNum); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.Slot(playerNum))
}

func (s *Server) getSlotHandler(w http.ResponseWriter, r *http.Request) {
	playerNum, err := utils.ParsePlayerNum(mux.Vars(r)["playerNum"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.Slot(playerNum))
}

func (s *Server) getSlotsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Slots())
}

func (s *Server) gameCommandHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	switch command := mux.Vars(r)["command"]; command {
	case "pause":
		err = s.bridge.PauseGame(r.Context())
	case "unpause":
		err = s.bridge.UnpauseGame(r.Context())
	case "restart":
		err = s.bridge.RestartGame(r.Context())
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown game command %q", command))
		return
	}
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Game command sent."})
}

func (s *Server) sendUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var e events.Event
	if err := decodeBody(r, &e); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if e.EventType == events.Unknown {
		writeError(w, http.StatusBadRequest, errors.New("eventType is required"))
		return
	}
	if err := s.bridge.SendUpdate(r.Context(), e); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, e)
}

func validateAndExtractPairRequest(r *http.Request) (*PairRequest, error) {
	var req PairRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.TargetController == "" {
		return nil, fmt.Errorf("targetController is required")
	}
	if req.PlayerNum == nil {
		return nil, fmt.Errorf("playerNum is required")
	}
	return &req, nil
}

func extractPlayerNum(r *http.Request) (int, error) {
	var req PlayerRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, err
	}
	if req.PlayerNum == nil {
		return 0, fmt.Errorf("playerNum is required")
	}
	return *req.PlayerNum, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("error decoding JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeBridgeError maps pairing and transport failures to a status code.
func writeBridgeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, pairing.ErrInvalidTransition),
		errors.Is(err, pairing.ErrNoPendingResponse),
		errors.Is(err, pairing.ErrSlotBusy),
		errors.Is(err, pairing.ErrNodeMismatch),
		errors.Is(err, bridge.ErrNoPendingRequest):
		status = http.StatusConflict
	case errors.Is(err, events.ErrMalformedPayload):
		status = http.StatusBadRequest
	}
	log.Error().Err(err).Int("status", status).Msg("Bridge command failed")
	writeError(w, status, err)
}
