package events

import (
	"github.com/mcdev12/cylink/go/internal/models"
)

// Payloads shared between gateway, orchestrator and client packages.
// Instants on the wire are epoch milliseconds of the server clock.

// JoinSessionPayload is sent by a client to subscribe to a session.
type JoinSessionPayload struct {
	SessionID string `json:"sessionId"`
	IsAdmin   bool   `json:"isAdmin"`
}

// ChangeColorPayload is an admin color command. Effect is optional.
type ChangeColorPayload struct {
	SessionID string             `json:"sessionId"`
	Color     string             `json:"color"`
	Effect    *models.EffectType `json:"effect,omitempty"`
}

// TriggerEffectPayload is used inbound with SessionID and outbound without.
type TriggerEffectPayload struct {
	SessionID  string            `json:"sessionId,omitempty"`
	EffectType models.EffectType `json:"effectType"`
}

// ChangeModePayload is an admin mode command.
type ChangeModePayload struct {
	SessionID string             `json:"sessionId"`
	Mode      models.SessionMode `json:"mode"`
}

// SessionCommandPayload carries start-program and stop-program.
type SessionCommandPayload struct {
	SessionID string `json:"sessionId"`
}

// SyncStatePayload reconciles a joining client with the full session state.
type SyncStatePayload struct {
	Mode             models.SessionMode `json:"mode"`
	Color            string             `json:"color"`
	Effect           models.EffectType  `json:"effect"`
	Program          *models.Program    `json:"program"`
	ProgramStartTime *int64             `json:"programStartTime"`
	IsProgramRunning bool               `json:"isProgramRunning"`
	ServerTime       int64              `json:"serverTime"`
	ConnectedUsers   int                `json:"connectedUsers"`
}

// NewSyncState builds the reconciliation payload for s.
func NewSyncState(s *models.Session, serverTimeMs int64) SyncStatePayload {
	p := SyncStatePayload{
		Mode:             s.Mode,
		Color:            s.Color,
		Effect:           s.Effect,
		Program:          s.Program,
		IsProgramRunning: s.IsProgramRunning,
		ServerTime:       serverTimeMs,
		ConnectedUsers:   s.ConnectedUsers,
	}
	if s.ProgramStartTime != nil {
		ms := s.ProgramStartTime.UnixMilli()
		p.ProgramStartTime = &ms
	}
	return p
}

// ColorChangePayload is broadcast on an accepted change-color.
type ColorChangePayload struct {
	Color  string            `json:"color"`
	Effect models.EffectType `json:"effect"`
}

// ModeChangePayload is broadcast on an accepted change-mode.
type ModeChangePayload struct {
	Mode models.SessionMode `json:"mode"`
}

// ProgramStartPayload tells clients which program to render and when.
type ProgramStartPayload struct {
	Program   *models.Program `json:"program"`
	StartTime int64           `json:"startTime"`
}

// ProgramStopPayload is broadcast on manual stop or natural completion.
type ProgramStopPayload struct {
	Reason StopReason `json:"reason"`
}

// UserCountPayload is the debounced presence update.
type UserCountPayload struct {
	Count int `json:"count"`
}

// MessagePayload is used by control-locked and error.
type MessagePayload struct {
	Message string `json:"message"`
}
