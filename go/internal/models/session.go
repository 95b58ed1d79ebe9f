package models

import (
	"time"
)

// SessionMode defines who drives the session's color.
type SessionMode string

const (
	SessionModeManual  SessionMode = "manual"
	SessionModeProgram SessionMode = "program"
)

// Valid reports whether m is a known mode.
func (m SessionMode) Valid() bool {
	return m == SessionModeManual || m == SessionModeProgram
}

const (
	DefaultSessionName  = "Unnamed Event"
	DefaultSessionColor = "#FFFFFF"
)

// Session is one live event's state.
type Session struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	CreatedAt        time.Time   `json:"createdAt"`
	Color            string      `json:"color"`
	Effect           EffectType  `json:"effect"`
	Mode             SessionMode `json:"mode"`
	Program          *Program    `json:"program,omitempty"`
	ProgramStartTime *time.Time  `json:"programStartTime,omitempty"`
	IsProgramRunning bool        `json:"isProgramRunning"`
	ConnectedUsers   int         `json:"connectedUsers"`

	// RunGeneration increments on every program start and stop. A
	// completion timer only applies if the generation it captured is
	// still current.
	RunGeneration uint64 `json:"runGeneration"`
}

// NewSession returns a session with default state.
func NewSession(id, name string, now time.Time) *Session {
	if name == "" {
		name = DefaultSessionName
	}
	return &Session{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		Color:     DefaultSessionColor,
		Effect:    EffectNone,
		Mode:      SessionModeManual,
	}
}

// ControlLocked reports whether manual commands must be rejected.
func (s *Session) ControlLocked() bool {
	return s.Mode == SessionModeProgram && s.IsProgramRunning
}

// ClearRun marks the program as not running.
func (s *Session) ClearRun() {
	s.IsProgramRunning = false
	s.ProgramStartTime = nil
}

// ProgramEnd returns when the running program finishes, or false if no
// program is running.
func (s *Session) ProgramEnd() (time.Time, bool) {
	if !s.IsProgramRunning || s.ProgramStartTime == nil || s.Program == nil {
		return time.Time{}, false
	}
	return s.ProgramStartTime.Add(s.Program.Duration()), true
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Program = s.Program.Clone()
	if s.ProgramStartTime != nil {
		t := *s.ProgramStartTime
		c.ProgramStartTime = &t
	}
	return &c
}

// SessionSummary is the list view of a session.
type SessionSummary struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	CreatedAt      time.Time   `json:"createdAt"`
	ConnectedUsers int         `json:"connectedUsers"`
	Mode           SessionMode `json:"mode"`
}

// Summary returns the list view of s.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:             s.ID,
		Name:           s.Name,
		CreatedAt:      s.CreatedAt,
		ConnectedUsers: s.ConnectedUsers,
		Mode:           s.Mode,
	}
}
