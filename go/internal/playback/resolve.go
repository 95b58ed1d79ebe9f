package playback

import (
	"time"

	"github.com/mcdev12/cylink/go/internal/models"
)

// Resolve returns the first segment, in list order, whose
// [StartTime, EndTime) contains elapsedMs.
func Resolve(segments []models.ProgramSegment, elapsedMs int64) (models.ProgramSegment, bool) {
	i := ResolveIndex(segments, elapsedMs)
	if i < 0 {
		return models.ProgramSegment{}, false
	}
	return segments[i], true
}

// ResolveIndex is Resolve returning the segment position, or -1.
func ResolveIndex(segments []models.ProgramSegment, elapsedMs int64) int {
	for i, s := range segments {
		if s.Contains(elapsedMs) {
			return i
		}
	}
	return -1
}

// Elapsed returns how far into a program serverNow is.
func Elapsed(serverNow, startTime time.Time) time.Duration {
	return serverNow.Sub(startTime)
}
