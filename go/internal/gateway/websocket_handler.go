package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/cylink/go/internal/events"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/mcdev12/cylink/go/internal/orchestrator"
	"github.com/mcdev12/cylink/go/internal/store"
	"github.com/rs/zerolog/log"
)

var errMalformed = errors.New("malformed payload")

const (
	controlLockedMessage = "Program is running. Manual control is disabled."
	commandTimeout       = 10 * time.Second
)

// Commands is the session command surface the socket drives
type Commands interface {
	Join(ctx context.Context, sessionID string, admin bool, onJoined func(*models.Session)) error
	Leave(ctx context.Context, sessionID string, admin bool) error
	ChangeColor(ctx context.Context, sessionID, color string, effect *models.EffectType) error
	TriggerEffect(ctx context.Context, sessionID string, effect models.EffectType) error
	ChangeMode(ctx context.Context, sessionID string, mode models.SessionMode) error
	StartProgram(ctx context.Context, sessionID string) (time.Time, error)
	StopProgram(ctx context.Context, sessionID string) error
}

// Clock supplies the server time stamped on sync-state
type Clock interface {
	Now() time.Time
}

// WebSocketHandler upgrades session sockets and dispatches their commands
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	commands          Commands
	clock             Clock
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, commands Commands, clock Clock) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		commands:          commands,
		clock:             clock,
	}
}

// HandleConnection upgrades the request and serves the socket until it closes
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.connectionManager.Upgrade(w, r)
	if err != nil {
		// the upgrader has already written the HTTP error
		log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade WebSocket connection")
		return
	}
	conn.Serve(h)
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

// HandleMessage decodes one inbound frame and applies it
func (h *WebSocketHandler) HandleMessage(c *Connection, message []byte) {
	if !c.limiter.Allow() {
		h.replyError(c, "Too many messages, slow down")
		return
	}

	var env events.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		h.replyError(c, "Malformed message")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()

	var err error
	switch env.Event {
	case events.JoinSession:
		err = h.join(ctx, c, &env)
	case events.ChangeColor:
		var p events.ChangeColorPayload
		if err = decode(&env, &p); err == nil {
			err = h.commands.ChangeColor(ctx, h.target(c, p.SessionID), p.Color, p.Effect)
		}
	case events.TriggerEffect:
		var p events.TriggerEffectPayload
		if err = decode(&env, &p); err == nil {
			err = h.commands.TriggerEffect(ctx, h.target(c, p.SessionID), p.EffectType)
		}
	case events.ChangeMode:
		var p events.ChangeModePayload
		if err = decode(&env, &p); err == nil {
			err = h.commands.ChangeMode(ctx, h.target(c, p.SessionID), p.Mode)
		}
	case events.StartProgram:
		var p events.SessionCommandPayload
		if err = decode(&env, &p); err == nil {
			_, err = h.commands.StartProgram(ctx, h.target(c, p.SessionID))
		}
	case events.StopProgram:
		var p events.SessionCommandPayload
		if err = decode(&env, &p); err == nil {
			err = h.commands.StopProgram(ctx, h.target(c, p.SessionID))
		}
	default:
		h.replyError(c, "Unknown event: "+string(env.Event))
		return
	}

	if err != nil {
		h.replyCommandError(c, env.Event, err)
	}
}

func (h *WebSocketHandler) join(ctx context.Context, c *Connection, env *events.Envelope) error {
	var p events.JoinSessionPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.SessionID == "" {
		return fmt.Errorf("%w: sessionId is required", errMalformed)
	}

	// a socket belongs to at most one room
	if prev, admin, ok := h.connectionManager.Unsubscribe(c); ok {
		if err := h.commands.Leave(ctx, prev, admin); err != nil {
			log.Warn().Err(err).Str("session_id", prev).Msg("failed to leave previous session")
		}
	}

	return h.commands.Join(ctx, p.SessionID, p.IsAdmin, func(s *models.Session) {
		h.connectionManager.Subscribe(c, s.ID, p.IsAdmin)
		h.connectionManager.SendTo(c, events.SyncState, events.NewSyncState(s, h.clock.Now().UnixMilli()))
	})
}

// target is the session a command addresses: the one named in the
// payload, or the one the socket joined.
func (h *WebSocketHandler) target(c *Connection, sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	joined, _ := c.Session()
	return joined
}

// HandleClose leaves the joined session when the socket goes away
func (h *WebSocketHandler) HandleClose(c *Connection) {
	sessionID, admin, ok := h.connectionManager.Unsubscribe(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := h.commands.Leave(ctx, sessionID, admin); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to leave session on disconnect")
	}
}

func (h *WebSocketHandler) replyCommandError(c *Connection, event events.Name, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrProgramRunning):
		h.connectionManager.SendTo(c, events.ControlLocked, events.MessagePayload{Message: controlLockedMessage})
	case errors.Is(err, store.ErrNotFound):
		h.replyError(c, "Session not found")
	case errors.Is(err, orchestrator.ErrNoProgram):
		h.replyError(c, "No program to start")
	case errors.Is(err, orchestrator.ErrStopped), errors.Is(err, context.Canceled):
		return
	case errors.Is(err, orchestrator.ErrInvalidCommand), errors.Is(err, errMalformed):
		h.replyError(c, err.Error())
	default:
		log.Error().
			Err(err).
			Str("connection_id", c.ID).
			Str("event", string(event)).
			Msg("command failed")
		h.replyError(c, "Internal error")
	}
}

func decode(env *events.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

func (h *WebSocketHandler) replyError(c *Connection, message string) {
	h.connectionManager.SendTo(c, events.Error, events.MessagePayload{Message: message})
}
