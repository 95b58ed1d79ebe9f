package playback

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedOffset time.Duration

func (f fixedOffset) Offset() time.Duration { return time.Duration(f) }

func waitFrame(t *testing.T, frames <-chan Frame) Frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestPlayerRendersSegmentsAndFinishes(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	program := &models.Program{ID: "p", Segments: threeSegments(), TotalDuration: 15000}
	start := clock.Now().Add(time.Second)

	frames := make(chan Frame, 10)
	player := NewPlayer(clock, nil, DefaultTick, func(f Frame) { frames <- f })

	done := make(chan error, 1)
	go func() { done <- player.Play(ctx, program, start) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Empty(t, frames, "nothing renders during the lead time")

	clock.Advance(time.Second)
	f := waitFrame(t, frames)
	assert.Equal(t, "#FF0000", f.Color)
	assert.Equal(t, "a", f.SegmentID)

	// a single jump skips many ticks; the next frame still resolves correctly
	clock.Advance(5 * time.Second)
	f = waitFrame(t, frames)
	assert.Equal(t, "#00FF00", f.Color)
	assert.Equal(t, models.EffectFade, f.Effect)

	clock.Advance(5 * time.Second)
	f = waitFrame(t, frames)
	assert.Equal(t, "#0000FF", f.Color)

	clock.Advance(5 * time.Second)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("player did not stop at total duration")
	}
	assert.Empty(t, frames)
}

func TestPlayerDoesNotRepeatFrames(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	program := &models.Program{Segments: []models.ProgramSegment{
		{StartTime: 0, EndTime: 1000, Color: "#FF0000"},
	}, TotalDuration: 1000}

	frames := make(chan Frame, 20)
	player := NewPlayer(clock, nil, 100*time.Millisecond, func(f Frame) { frames <- f })

	done := make(chan error, 1)
	go func() { done <- player.Play(ctx, program, clock.Now()) }()

	f := waitFrame(t, frames)
	assert.Equal(t, "#FF0000", f.Color)

	for i := 0; i < 5; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(100 * time.Millisecond)
	}
	assert.Empty(t, frames)

	clock.Advance(time.Second)
	require.NoError(t, <-done)
}

func TestPlayerAppliesClockOffset(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	program := &models.Program{Segments: threeSegments(), TotalDuration: 15000}

	// local clock runs 5s ahead of the server
	player := NewPlayer(clock, fixedOffset(5*time.Second), DefaultTick, func(Frame) {})
	serverNow := clock.Now().Add(-5 * time.Second)
	assert.Equal(t, serverNow, player.ServerNow())

	frames := make(chan Frame, 1)
	player.render = func(f Frame) { frames <- f }

	go func() { _ = player.Play(ctx, program, serverNow.Add(-6*time.Second)) }()
	f := waitFrame(t, frames)
	assert.Equal(t, "#00FF00", f.Color)
}

func TestPlayerCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	program := &models.Program{Segments: threeSegments(), TotalDuration: 15000}
	player := NewPlayer(clock, nil, DefaultTick, func(Frame) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- player.Play(ctx, program, clock.Now().Add(time.Second)) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPlayerEmptyProgram(t *testing.T) {
	player := NewPlayer(clockwork.NewFakeClock(), nil, 0, func(Frame) {
		t.Fatal("unexpected frame")
	})
	assert.NoError(t, player.Play(context.Background(), &models.Program{}, time.Now()))
	assert.NoError(t, player.Play(context.Background(), nil, time.Now()))
}
