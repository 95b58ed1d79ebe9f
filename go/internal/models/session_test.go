package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionDefaults(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSession("abc", "", now)

	assert.Equal(t, DefaultSessionName, s.Name)
	assert.Equal(t, DefaultSessionColor, s.Color)
	assert.Equal(t, EffectNone, s.Effect)
	assert.Equal(t, SessionModeManual, s.Mode)
	assert.Nil(t, s.Program)
	assert.Nil(t, s.ProgramStartTime)
	assert.False(t, s.IsProgramRunning)
	assert.Zero(t, s.ConnectedUsers)
	assert.Equal(t, now, s.CreatedAt)
}

func TestSessionControlLocked(t *testing.T) {
	s := NewSession("abc", "Test", time.Now())
	assert.False(t, s.ControlLocked())

	s.Mode = SessionModeProgram
	assert.False(t, s.ControlLocked())

	s.IsProgramRunning = true
	assert.True(t, s.ControlLocked())
}

func TestSessionProgramEnd(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSession("abc", "Test", start)

	_, ok := s.ProgramEnd()
	assert.False(t, ok)

	s.Program = &Program{TotalDuration: 10000}
	s.ProgramStartTime = &start
	s.IsProgramRunning = true

	end, ok := s.ProgramEnd()
	assert.True(t, ok)
	assert.Equal(t, start.Add(10*time.Second), end)

	s.ClearRun()
	assert.Nil(t, s.ProgramStartTime)
	assert.False(t, s.IsProgramRunning)
}

func TestSessionCloneIsDeep(t *testing.T) {
	start := time.Now()
	s := NewSession("abc", "Test", start)
	s.Program = &Program{Segments: []ProgramSegment{{Color: "#FF0000"}}}
	s.ProgramStartTime = &start

	c := s.Clone()
	c.Program.Segments[0].Color = "#00FF00"
	*c.ProgramStartTime = start.Add(time.Hour)

	assert.Equal(t, "#FF0000", s.Program.Segments[0].Color)
	assert.Equal(t, start, *s.ProgramStartTime)
}
