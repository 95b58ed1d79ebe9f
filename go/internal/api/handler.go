package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mcdev12/cylink/go/internal/activity"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/mcdev12/cylink/go/internal/orchestrator"
	"github.com/mcdev12/cylink/go/internal/store"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// SessionDirectory creates and lists sessions
type SessionDirectory interface {
	Create(ctx context.Context, name string) (*models.Session, error)
	List(ctx context.Context) ([]*models.Session, error)
}

// SessionCommands reads and changes a session through its owner
type SessionCommands interface {
	Session(ctx context.Context, sessionID string) (*models.Session, error)
	SaveProgram(ctx context.Context, sessionID string, program *models.Program) (*models.Program, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// ProgramLoader reads a session's stored program
type ProgramLoader interface {
	Load(ctx context.Context, sessionID string) (*models.Program, error)
}

// Handler serves the session REST API
type Handler struct {
	directory SessionDirectory
	commands  SessionCommands
	programs  ProgramLoader
	activity  activity.Publisher
}

// NewHandler creates a new session API handler. publisher may be nil.
func NewHandler(directory SessionDirectory, commands SessionCommands, programs ProgramLoader, publisher activity.Publisher) *Handler {
	if publisher == nil {
		publisher = activity.NoOp{}
	}
	return &Handler{
		directory: directory,
		commands:  commands,
		programs:  programs,
		activity:  publisher,
	}
}

type createSessionRequest struct {
	Name string `json:"name"`
}

type createSessionResponse struct {
	SessionID string          `json:"sessionId"`
	Session   *models.Session `json:"session"`
}

type sessionResponse struct {
	Session *models.Session `json:"session"`
}

type sessionListResponse struct {
	Sessions []models.SessionSummary `json:"sessions"`
}

type programResponse struct {
	Program *models.Program `json:"program"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleCreateSession handles POST /api/sessions
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.directory.Create(r.Context(), req.Name)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	h.activity.Publish(r.Context(), activity.Event{
		Kind:       activity.SessionCreated,
		SessionID:  session.ID,
		OccurredAt: session.CreatedAt,
		Data:       map[string]any{"name": session.Name},
	})

	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: session.ID, Session: session})
}

// HandleListSessions handles GET /api/sessions
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.directory.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions")
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	resp := sessionListResponse{Sessions: make([]models.SessionSummary, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, s.Summary())
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetSession handles GET /api/sessions/{id}
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	session, err := h.commands.Session(r.Context(), sessionID)
	if err != nil {
		h.writeCommandError(w, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: session})
}

// HandleDeleteSession handles DELETE /api/sessions/{id}
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if err := h.commands.DeleteSession(r.Context(), sessionID); err != nil {
		h.writeCommandError(w, sessionID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetProgram handles GET /api/sessions/{id}/program
func (h *Handler) HandleGetProgram(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	program, err := h.programs.Load(r.Context(), sessionID)
	if err != nil {
		h.writeCommandError(w, sessionID, err)
		return
	}
	if program == nil {
		writeError(w, http.StatusNotFound, "Program not found")
		return
	}
	writeJSON(w, http.StatusOK, programResponse{Program: program})
}

// HandleSaveProgram handles PUT /api/sessions/{id}/program
func (h *Handler) HandleSaveProgram(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var program models.Program
	if err := decodeBody(r, &program); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid program body")
		return
	}

	saved, err := h.commands.SaveProgram(r.Context(), sessionID, &program)
	if err != nil {
		h.writeCommandError(w, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, programResponse{Program: saved})
}

func (h *Handler) writeCommandError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, models.ErrInvalidProgram), errors.Is(err, orchestrator.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrProgramRunning):
		writeError(w, http.StatusConflict, "Program is running")
	case errors.Is(err, orchestrator.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "Shutting down")
	default:
		log.Error().Err(err).Str("session_id", sessionID).Msg("session request failed")
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// RegisterRoutes registers the session API routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.HandleCreateSession)
	mux.HandleFunc("GET /api/sessions", h.HandleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.HandleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.HandleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/program", h.HandleGetProgram)
	mux.HandleFunc("PUT /api/sessions/{id}/program", h.HandleSaveProgram)
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
