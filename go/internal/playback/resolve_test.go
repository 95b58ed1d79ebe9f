package playback

import (
	"testing"

	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/stretchr/testify/assert"
)

func threeSegments() []models.ProgramSegment {
	return []models.ProgramSegment{
		{ID: "a", StartTime: 0, EndTime: 5000, Color: "#FF0000", Effect: models.EffectNone},
		{ID: "b", StartTime: 5000, EndTime: 10000, Color: "#00FF00", Effect: models.EffectFade},
		{ID: "c", StartTime: 10000, EndTime: 15000, Color: "#0000FF", Effect: models.EffectRainbow},
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		elapsed    int64
		wantOK     bool
		wantColor  string
		wantEffect models.EffectType
	}{
		{elapsed: -1, wantOK: false},
		{elapsed: 0, wantOK: true, wantColor: "#FF0000", wantEffect: models.EffectNone},
		{elapsed: 4999, wantOK: true, wantColor: "#FF0000", wantEffect: models.EffectNone},
		{elapsed: 5000, wantOK: true, wantColor: "#00FF00", wantEffect: models.EffectFade},
		{elapsed: 14999, wantOK: true, wantColor: "#0000FF", wantEffect: models.EffectRainbow},
		{elapsed: 15000, wantOK: false},
	}

	for _, tt := range tests {
		seg, ok := Resolve(threeSegments(), tt.elapsed)
		assert.Equal(t, tt.wantOK, ok, "elapsed=%d", tt.elapsed)
		if tt.wantOK {
			assert.Equal(t, tt.wantColor, seg.Color, "elapsed=%d", tt.elapsed)
			assert.Equal(t, tt.wantEffect, seg.Effect, "elapsed=%d", tt.elapsed)
		}
	}
}

func TestResolveFirstMatchWinsOnOverlap(t *testing.T) {
	segments := []models.ProgramSegment{
		{ID: "first", StartTime: 0, EndTime: 6000, Color: "#FF0000"},
		{ID: "second", StartTime: 3000, EndTime: 9000, Color: "#00FF00"},
	}

	seg, ok := Resolve(segments, 4000)
	assert.True(t, ok)
	assert.Equal(t, "first", seg.ID)

	seg, ok = Resolve(segments, 7000)
	assert.True(t, ok)
	assert.Equal(t, "second", seg.ID)
}

func TestResolveGap(t *testing.T) {
	segments := []models.ProgramSegment{
		{StartTime: 0, EndTime: 1000},
		{StartTime: 2000, EndTime: 3000},
	}
	assert.Equal(t, -1, ResolveIndex(segments, 1500))
	assert.Equal(t, 1, ResolveIndex(segments, 2000))
	assert.Equal(t, -1, ResolveIndex(nil, 0))
}
