package playback

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultTick is the render loop period when no frame callback exists.
const DefaultTick = 100 * time.Millisecond

// OffsetSource reports localClock - serverClock.
type OffsetSource interface {
	Offset() time.Duration
}

// ZeroOffset is used when local and server clocks are the same.
type ZeroOffset struct{}

func (ZeroOffset) Offset() time.Duration { return 0 }

// Frame is the state a client should display.
type Frame struct {
	SegmentID string
	Color     string
	Effect    models.EffectType
	Elapsed   time.Duration
}

// Player runs a program locally against synchronized time. Each tick
// recomputes the active segment from elapsed time, so missed ticks
// self-correct instead of drifting.
type Player struct {
	clock  clockwork.Clock
	offset OffsetSource
	tick   time.Duration
	render func(Frame)
}

// NewPlayer creates a player. render is called only when the active
// segment changes.
func NewPlayer(clock clockwork.Clock, offset OffsetSource, tick time.Duration, render func(Frame)) *Player {
	if offset == nil {
		offset = ZeroOffset{}
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Player{clock: clock, offset: offset, tick: tick, render: render}
}

// ServerNow estimates the server clock from the local clock.
func (p *Player) ServerNow() time.Time {
	return p.clock.Now().Add(-p.offset.Offset())
}

// Play blocks until the program has run its full duration or ctx is
// cancelled. When no segment covers the current instant the last
// rendered state is held.
func (p *Player) Play(ctx context.Context, program *models.Program, startTime time.Time) error {
	if program == nil || len(program.Segments) == 0 {
		return nil
	}
	total := program.Duration()
	if total <= 0 {
		total = time.Duration(models.ComputeTotalDuration(program.Segments)) * time.Millisecond
	}

	ticker := p.clock.NewTicker(p.tick)
	defer ticker.Stop()

	current := -1
	step := func() bool {
		elapsed := Elapsed(p.ServerNow(), startTime)
		if elapsed >= total {
			return true
		}
		if elapsed < 0 {
			return false
		}
		i := ResolveIndex(program.Segments, elapsed.Milliseconds())
		if i < 0 || i == current {
			return false
		}
		current = i
		seg := program.Segments[i]
		p.render(Frame{
			SegmentID: seg.ID,
			Color:     seg.Color,
			Effect:    seg.Effect,
			Elapsed:   elapsed,
		})
		return false
	}

	if step() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if step() {
				log.Debug().Str("program_id", program.ID).Msg("program playback finished")
				return nil
			}
		}
	}
}
