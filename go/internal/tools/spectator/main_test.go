package main

import (
	"testing"

	"github.com/mcdev12/cylink/go/internal/events"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name    string
		opts    options
		event   events.Name
		payload any
		wantErr bool
	}{
		{
			name:    "color keeps effect unset",
			opts:    options{sessionID: "s1", command: "change-color", color: "#FF0000"},
			event:   events.ChangeColor,
			payload: events.ChangeColorPayload{SessionID: "s1", Color: "#FF0000"},
		},
		{
			name:    "color needs a value",
			opts:    options{sessionID: "s1", command: "change-color"},
			wantErr: true,
		},
		{
			name:    "trigger effect",
			opts:    options{sessionID: "s1", command: "trigger-effect", effect: "strobe"},
			event:   events.TriggerEffect,
			payload: events.TriggerEffectPayload{SessionID: "s1", EffectType: models.EffectStrobe},
		},
		{
			name:    "start program",
			opts:    options{sessionID: "s1", command: "start-program"},
			event:   events.StartProgram,
			payload: events.SessionCommandPayload{SessionID: "s1"},
		},
		{
			name:    "unknown",
			opts:    options{sessionID: "s1", command: "join-session"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildCommand(&tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.event, got.event)
			assert.Equal(t, tt.payload, got.payload)
		})
	}
}

func TestColorCommandCarriesEffect(t *testing.T) {
	got, err := buildCommand(&options{sessionID: "s1", command: "change-color", color: "#00FF00", effect: "fade"})
	require.NoError(t, err)

	p, ok := got.payload.(events.ChangeColorPayload)
	require.True(t, ok)
	require.NotNil(t, p.Effect)
	assert.Equal(t, models.EffectFade, *p.Effect)
}
