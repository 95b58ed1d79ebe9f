package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// MaxProgramDurationMs bounds a segment end so a program's length always
// fits a time.Duration.
const MaxProgramDurationMs int64 = 24 * 60 * 60 * 1000

// ProgramSegment is one timed instruction. StartTime and EndTime are
// millisecond offsets from program start; the segment is active while
// elapsed is in [StartTime, EndTime).
type ProgramSegment struct {
	ID        string     `json:"id"`
	StartTime int64      `json:"startTime"`
	EndTime   int64      `json:"endTime"`
	Color     string     `json:"color"`
	Effect    EffectType `json:"effect"`
}

// Contains reports whether elapsedMs falls inside the segment.
func (s ProgramSegment) Contains(elapsedMs int64) bool {
	return elapsedMs >= s.StartTime && elapsedMs < s.EndTime
}

// Program is an ordered, timed sequence of segments played back once.
type Program struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Segments      []ProgramSegment `json:"segments"`
	TotalDuration int64            `json:"totalDuration"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Duration returns TotalDuration as a time.Duration.
func (p *Program) Duration() time.Duration {
	return time.Duration(p.TotalDuration) * time.Millisecond
}

// RecomputeDuration sets TotalDuration to the latest segment end.
func (p *Program) RecomputeDuration() {
	p.TotalDuration = ComputeTotalDuration(p.Segments)
}

// ComputeTotalDuration returns max(endTime) over segments, 0 when empty.
func ComputeTotalDuration(segments []ProgramSegment) int64 {
	var total int64
	for _, s := range segments {
		if s.EndTime > total {
			total = s.EndTime
		}
	}
	return total
}

// Normalize fills missing ids, upper-cases colors, defaults empty effects
// and recomputes the total duration.
func (p *Program) Normalize() {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for i := range p.Segments {
		seg := &p.Segments[i]
		if seg.ID == "" {
			seg.ID = uuid.NewString()
		}
		if seg.Effect == "" {
			seg.Effect = EffectNone
		}
		seg.Color = NormalizeColor(seg.Color)
	}
	p.RecomputeDuration()
}

// Validate rejects negative offsets, empty or inverted intervals, ends
// past MaxProgramDurationMs, bad colors or effects, and overlapping segments.
func (p *Program) Validate() error {
	for i, seg := range p.Segments {
		if seg.StartTime < 0 {
			return fmt.Errorf("%w: segment %d starts before 0", ErrInvalidProgram, i)
		}
		if seg.EndTime <= seg.StartTime {
			return fmt.Errorf("%w: segment %d ends at or before its start", ErrInvalidProgram, i)
		}
		if seg.EndTime > MaxProgramDurationMs {
			return fmt.Errorf("%w: segment %d ends after %dms", ErrInvalidProgram, i, MaxProgramDurationMs)
		}
		if !ValidColor(seg.Color) {
			return fmt.Errorf("%w: segment %d color %q", ErrInvalidProgram, i, seg.Color)
		}
		if !seg.Effect.Valid() {
			return fmt.Errorf("%w: segment %d effect %q", ErrInvalidProgram, i, seg.Effect)
		}
	}

	ordered := make([]ProgramSegment, len(p.Segments))
	copy(ordered, p.Segments)
	sort.Slice(ordered, func(a, b int) bool { return ordered[a].StartTime < ordered[b].StartTime })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].StartTime < ordered[i-1].EndTime {
			return fmt.Errorf("%w: segments %q and %q overlap", ErrInvalidProgram, ordered[i-1].ID, ordered[i].ID)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *Program) Clone() *Program {
	if p == nil {
		return nil
	}
	c := *p
	c.Segments = make([]ProgramSegment, len(p.Segments))
	copy(c.Segments, p.Segments)
	return &c
}
