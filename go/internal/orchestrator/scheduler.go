package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cylink/go/internal/activity"
	"github.com/mcdev12/cylink/go/internal/events"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/mcdev12/cylink/go/internal/store"
	"github.com/rs/zerolog/log"
)

// armedTimer is a pending owner command. generation is the value it was
// armed against: the session's RunGeneration for completion timers, the
// owner's presence counter for presence flushes.
type armedTimer struct {
	timer      clockwork.Timer
	generation uint64
	cancel     chan struct{}
}

// schedule submits fn to the session owner after d unless cancelled first.
func (o *Orchestrator) schedule(sessionID string, kind CommandKind, generation uint64, d time.Duration, fn func(ctx context.Context, ow *owner, a *armedTimer) error) *armedTimer {
	a := &armedTimer{
		timer:      o.clock.NewTimer(d),
		generation: generation,
		cancel:     make(chan struct{}),
	}

	go func() {
		select {
		case <-a.timer.Chan():
			select {
			case <-a.cancel:
				return
			default:
			}
			err := o.submit(o.ctx, sessionID, kind, func(ctx context.Context, ow *owner) error {
				return fn(ctx, ow, a)
			})
			if err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, context.Canceled) && !errors.Is(err, store.ErrNotFound) {
				log.Error().
					Err(err).
					Str("session_id", sessionID).
					Str("command", string(kind)).
					Uint64("generation", generation).
					Msg("scheduled command failed")
			}
		case <-a.cancel:
			stopAndDrainTimer(a.timer)
		case <-o.ctx.Done():
			stopAndDrainTimer(a.timer)
		}
	}()
	return a
}

// armCompletion schedules the completion of run generation after d,
// replacing any timer already armed for the session.
func (o *Orchestrator) armCompletion(ow *owner, generation uint64, d time.Duration) {
	armed := o.schedule(ow.id, commandComplete, generation, d, o.completeProgram)
	o.replaceTimer(ow, armed)

	log.Debug().
		Str("session_id", ow.id).
		Uint64("generation", generation).
		Dur("duration", d).
		Msg("scheduled program completion")
}

// replaceTimer cancels any existing completion timer before storing the new one.
func (o *Orchestrator) replaceTimer(ow *owner, next *armedTimer) {
	if ow.completion != nil {
		close(ow.completion.cancel)
		log.Debug().Str("session_id", ow.id).Msg("replaced existing completion timer")
	}
	ow.completion = next
}

// cancelCompletion cancels and forgets the session's completion timer.
func (o *Orchestrator) cancelCompletion(ow *owner) {
	if ow.completion == nil {
		return
	}
	close(ow.completion.cancel)
	ow.completion = nil
	log.Debug().Str("session_id", ow.id).Msg("cancelled completion timer")
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// completeProgram ends a run that reached its natural end. It is a no-op
// unless the session is still running the same generation, so a timer
// that outlived a manual stop or a restart cannot touch newer state.
func (o *Orchestrator) completeProgram(ctx context.Context, ow *owner, fired *armedTimer) error {
	if ow.completion == fired {
		ow.completion = nil
	}

	s, err := o.load(ctx, ow)
	if err != nil {
		return err
	}
	if !s.IsProgramRunning || s.RunGeneration != fired.generation {
		log.Debug().
			Str("session_id", ow.id).
			Uint64("timer_generation", fired.generation).
			Uint64("session_generation", s.RunGeneration).
			Msg("ignoring stale completion timer")
		return nil
	}

	o.finishRun(ctx, s, events.StopReasonCompleted)
	return nil
}

// finishRun clears the run, persists and broadcasts program-stop.
func (o *Orchestrator) finishRun(ctx context.Context, s *models.Session, reason events.StopReason) {
	s.ClearRun()
	s.RunGeneration++
	o.sessions.Save(ctx, s)
	o.hub.Publish(s.ID, events.ProgramStop, events.ProgramStopPayload{Reason: reason})

	kind := activity.ProgramStopped
	if reason == events.StopReasonCompleted {
		kind = activity.ProgramCompleted
	}
	o.metrics.ProgramRun(string(reason))
	o.activity.Publish(ctx, activity.Event{
		Kind:       kind,
		SessionID:  s.ID,
		OccurredAt: o.clock.Now(),
	})

	log.Info().
		Str("session_id", s.ID).
		Str("reason", string(reason)).
		Uint64("generation", s.RunGeneration).
		Msg("program stopped")
}

// recoverRun re-arms the completion of a run persisted as running, or
// finishes it right away if its end has already passed.
func (o *Orchestrator) recoverRun(ctx context.Context, ow *owner, s *models.Session) {
	if !s.IsProgramRunning {
		return
	}
	end, ok := s.ProgramEnd()
	if !ok {
		log.Warn().Str("session_id", s.ID).Msg("running session without program, clearing run")
		s.ClearRun()
		s.RunGeneration++
		o.sessions.Save(ctx, s)
		return
	}

	remaining := end.Sub(o.clock.Now())
	if remaining <= 0 {
		o.finishRun(ctx, s, events.StopReasonCompleted)
		return
	}

	o.armCompletion(ow, s.RunGeneration, remaining)
	log.Info().
		Str("session_id", s.ID).
		Dur("remaining", remaining).
		Msg("recovered running program")
}
