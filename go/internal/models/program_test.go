package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seg(start, end int64, color string, effect EffectType) ProgramSegment {
	return ProgramSegment{StartTime: start, EndTime: end, Color: color, Effect: effect}
}

func TestComputeTotalDuration(t *testing.T) {
	assert.Equal(t, int64(0), ComputeTotalDuration(nil))
	assert.Equal(t, int64(15000), ComputeTotalDuration([]ProgramSegment{
		seg(10000, 15000, "#0000FF", EffectRainbow),
		seg(0, 5000, "#FF0000", EffectNone),
	}))
}

func TestProgramNormalize(t *testing.T) {
	p := &Program{Segments: []ProgramSegment{seg(0, 2500, "#ff00aa", "")}}
	p.Normalize()

	require.NotEmpty(t, p.ID)
	require.NotEmpty(t, p.Segments[0].ID)
	assert.Equal(t, "#FF00AA", p.Segments[0].Color)
	assert.Equal(t, EffectNone, p.Segments[0].Effect)
	assert.Equal(t, int64(2500), p.TotalDuration)
}

func TestProgramValidate(t *testing.T) {
	tests := []struct {
		name     string
		segments []ProgramSegment
		wantErr  bool
	}{
		{name: "empty", segments: nil},
		{name: "adjacent", segments: []ProgramSegment{
			seg(0, 5000, "#FF0000", EffectNone),
			seg(5000, 10000, "#00FF00", EffectFade),
		}},
		{name: "gap is allowed", segments: []ProgramSegment{
			seg(0, 1000, "#FF0000", EffectNone),
			seg(3000, 4000, "#00FF00", EffectStrobe),
		}},
		{name: "negative start", segments: []ProgramSegment{seg(-1, 1000, "#FF0000", EffectNone)}, wantErr: true},
		{name: "inverted", segments: []ProgramSegment{seg(2000, 1000, "#FF0000", EffectNone)}, wantErr: true},
		{name: "zero length", segments: []ProgramSegment{seg(1000, 1000, "#FF0000", EffectNone)}, wantErr: true},
		{name: "ends at the 24h bound", segments: []ProgramSegment{seg(0, MaxProgramDurationMs, "#FF0000", EffectNone)}},
		{name: "ends past the 24h bound", segments: []ProgramSegment{seg(0, MaxProgramDurationMs+1, "#FF0000", EffectNone)}, wantErr: true},
		{name: "overflows a duration", segments: []ProgramSegment{seg(0, 10_000_000_000_000, "#FF0000", EffectNone)}, wantErr: true},
		{name: "bad color", segments: []ProgramSegment{seg(0, 1000, "red", EffectNone)}, wantErr: true},
		{name: "bad effect", segments: []ProgramSegment{seg(0, 1000, "#FF0000", "sparkle")}, wantErr: true},
		{name: "overlap out of order", segments: []ProgramSegment{
			seg(4000, 8000, "#FF0000", EffectNone),
			seg(0, 5000, "#00FF00", EffectNone),
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Program{Segments: tt.segments}
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidProgram)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProgramCloneIsDeep(t *testing.T) {
	p := &Program{ID: "p", Segments: []ProgramSegment{seg(0, 1000, "#FF0000", EffectNone)}}
	c := p.Clone()
	c.Segments[0].Color = "#000000"
	assert.Equal(t, "#FF0000", p.Segments[0].Color)
	assert.Nil(t, (*Program)(nil).Clone())
}

func TestEffectCatalog(t *testing.T) {
	assert.True(t, EffectStrobe.Valid())
	assert.False(t, EffectType("sparkle").Valid())
	assert.Equal(t, int64(50), EffectStrobe.Cadence().Milliseconds())
	assert.Equal(t, int64(1000), EffectSlowFlash.Cadence().Milliseconds())
	assert.Len(t, Effects(), 6)
	assert.Len(t, PresetColors, 9)
	for _, c := range PresetColors {
		assert.True(t, ValidColor(c.Hex), c.Name)
	}
}
