package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/cylink/go/internal/activity"
	"github.com/mcdev12/cylink/go/internal/events"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/mcdev12/cylink/go/internal/store"
	"github.com/rs/zerolog/log"
)

// Join subscribes a connection to a session. onJoined runs on the
// session owner with a copy of the state after the join, so a
// subscription made there sees every later broadcast for the session
// and none before its sync-state.
func (o *Orchestrator) Join(ctx context.Context, sessionID string, admin bool, onJoined func(*models.Session)) error {
	return o.submit(ctx, sessionID, CommandJoin, func(ctx context.Context, ow *owner) error {
		s, err := o.load(ctx, ow)
		if err != nil {
			return err
		}

		if !admin {
			s.ConnectedUsers++
			o.sessions.Save(ctx, s)
			o.schedulePresence(ow)
		}
		o.metrics.SubscriberJoined(admin)

		if onJoined != nil {
			onJoined(s.Clone())
		}

		log.Info().
			Str("session_id", sessionID).
			Bool("admin", admin).
			Int("connected_users", s.ConnectedUsers).
			Msg("subscriber joined")
		return nil
	})
}

// Leave reverses a Join. A session that no longer exists is not an error.
func (o *Orchestrator) Leave(ctx context.Context, sessionID string, admin bool) error {
	err := o.submit(ctx, sessionID, CommandLeave, func(ctx context.Context, ow *owner) error {
		o.metrics.SubscriberLeft(admin)
		if admin {
			return nil
		}

		s, err := o.load(ctx, ow)
		if err != nil {
			return err
		}
		if s.ConnectedUsers > 0 {
			s.ConnectedUsers--
		}
		o.sessions.Save(ctx, s)
		o.schedulePresence(ow)

		log.Info().
			Str("session_id", sessionID).
			Int("connected_users", s.ConnectedUsers).
			Msg("subscriber left")
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// ChangeColor sets the manual color. A nil effect keeps the current one.
func (o *Orchestrator) ChangeColor(ctx context.Context, sessionID, color string, effect *models.EffectType) error {
	if !models.ValidColor(color) {
		return fmt.Errorf("%w: %w: %q", ErrInvalidCommand, models.ErrInvalidColor, color)
	}
	if effect != nil && !effect.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidCommand, models.ErrInvalidEffect, *effect)
	}

	return o.submit(ctx, sessionID, CommandChangeColor, func(ctx context.Context, ow *owner) error {
		s, err := o.load(ctx, ow)
		if err != nil {
			return err
		}
		if err := Gate(s, CommandChangeColor); err != nil {
			return err
		}

		s.Color = models.NormalizeColor(color)
		if effect != nil {
			s.Effect = *effect
		}
		o.sessions.Save(ctx, s)
		o.hub.Publish(sessionID, events.ColorChange, events.ColorChangePayload{Color: s.Color, Effect: s.Effect})
		return nil
	})
}

// TriggerEffect sets the manual effect and broadcasts it.
func (o *Orchestrator) TriggerEffect(ctx context.Context, sessionID string, effect models.EffectType) error {
	if !effect.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidCommand, models.ErrInvalidEffect, effect)
	}

	return o.submit(ctx, sessionID, CommandTriggerEffect, func(ctx context.Context, ow *owner) error {
		s, err := o.load(ctx, ow)
		if err != nil {
			return err
		}
		if err := Gate(s, CommandTriggerEffect); err != nil {
			return err
		}

		s.Effect = effect
		o.sessions.Save(ctx, s)
		o.hub.Publish(sessionID, events.TriggerEffect, events.TriggerEffectPayload{EffectType: effect})
		return nil
	})
}

// ChangeMode switches between manual and program mode. Switching to
// program mode with no program attaches an empty one.
func (o *Orchestrator) ChangeMode(ctx context.Context, sessionID string, mode models.SessionMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidCommand, models.ErrInvalidMode, mode)
	}

	return o.submit(ctx, sessionID, CommandChangeMode, func(ctx context.Context, ow *owner) error {
		s, err := o.load(ctx, ow)
		if err != nil {
			return err
		}
		if err := Gate(s, CommandChangeMode); err != nil {
			return err
		}

		if mode == models.SessionModeProgram && s.Program == nil {
			p, err := o.programs.Save(ctx, sessionID, &models.Program{Name: s.Name})
			if err != nil {
				return fmt.Errorf("failed to attach empty program: %w", err)
			}
			s.Program = p
		}
		s.Mode = mode
		o.sessions.Save(ctx, s)
		o.hub.Publish(sessionID, events.ModeChange, events.ModeChangePayload{Mode: mode})
		return nil
	})
}

// StartProgram starts playback of the session's program and returns the
// instant playback begins. Starting while a program is already running
// restarts it.
func (o *Orchestrator) StartProgram(ctx context.Context, sessionID string) (time.Time, error) {
	var startTime time.Time
	err := o.submit(ctx, sessionID, CommandStartProgram, func(ctx context.Context, ow *owner) error {
		s, err := o.load(ctx, ow)
		if err != nil {
			return err
		}
		if err := Gate(s, CommandStartProgram); err != nil {
			return err
		}
		if s.Program == nil || len(s.Program.Segments) == 0 {
			return ErrNoProgram
		}

		startTime = o.clock.Now().Add(o.config.LeadTime)
		s.Mode = models.SessionModeProgram
		s.IsProgramRunning = true
		s.ProgramStartTime = &startTime
		s.RunGeneration++
		o.sessions.Save(ctx, s)

		o.armCompletion(ow, s.RunGeneration, s.Program.Duration()+o.config.LeadTime)
		o.hub.Publish(sessionID, events.ProgramStart, events.ProgramStartPayload{
			Program:   s.Program,
			StartTime: startTime.UnixMilli(),
		})

		o.metrics.ProgramRun("started")
		o.activity.Publish(ctx, activity.Event{
			Kind:       activity.ProgramStarted,
			SessionID:  sessionID,
			OccurredAt: o.clock.Now(),
			Data: map[string]any{
				"programId":     s.Program.ID,
				"startTime":     startTime.UnixMilli(),
				"totalDuration": s.Program.TotalDuration,
			},
		})

		log.Info().
			Str("session_id", sessionID).
			Str("program_id", s.Program.ID).
			Time("start_time", startTime).
			Int64("total_duration_ms", s.Program.TotalDuration).
			Uint64("generation", s.RunGeneration).
			Msg("program started")
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return startTime, nil
}

// StopProgram stops a running program. Stopping an idle session does nothing.
func (o *Orchestrator) StopProgram(ctx context.Context, sessionID string) error {
	return o.submit(ctx, sessionID, CommandStopProgram, func(ctx context.Context, ow *owner) error {
		s, err := o.load(ctx, ow)
		if err != nil {
			return err
		}
		o.cancelCompletion(ow)

		if !s.IsProgramRunning {
			log.Debug().Str("session_id", sessionID).Msg("stop requested while idle")
			return nil
		}
		o.finishRun(ctx, s, events.StopReasonManual)
		return nil
	})
}

// SaveProgram validates and stores the session's program and attaches it
// to the live session.
func (o *Orchestrator) SaveProgram(ctx context.Context, sessionID string, program *models.Program) (*models.Program, error) {
	if program == nil {
		return nil, fmt.Errorf("%w: missing program", ErrInvalidCommand)
	}

	var saved *models.Program
	err := o.submit(ctx, sessionID, CommandSaveProgram, func(ctx context.Context, ow *owner) error {
		s, err := o.load(ctx, ow)
		if err != nil {
			return err
		}
		if err := Gate(s, CommandSaveProgram); err != nil {
			return err
		}

		saved, err = o.programs.Save(ctx, sessionID, program)
		if err != nil {
			return err
		}
		s.Program = saved
		o.sessions.Save(ctx, s)

		log.Debug().
			Str("session_id", sessionID).
			Str("program_id", saved.ID).
			Msg("program attached to session")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved.Clone(), nil
}

// Session returns the session as its owner sees it.
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*models.Session, error) {
	var out *models.Session
	err := o.submit(ctx, sessionID, CommandGet, func(ctx context.Context, ow *owner) error {
		s, err := o.load(ctx, ow)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// DeleteSession ends the session for every subscriber, releases its
// timers and deletes its session and program records.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	return o.submit(ctx, sessionID, CommandDelete, func(ctx context.Context, ow *owner) error {
		if _, err := o.load(ctx, ow); err != nil {
			return err
		}

		o.hub.Publish(sessionID, events.Error, events.MessagePayload{Message: "session ended"})
		if err := o.sessions.Delete(ctx, sessionID); err != nil {
			return err
		}
		if err := o.programs.Delete(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to delete program")
		}
		ow.deleted = true

		o.activity.Publish(ctx, activity.Event{
			Kind:       activity.SessionDeleted,
			SessionID:  sessionID,
			OccurredAt: o.clock.Now(),
		})
		log.Info().Str("session_id", sessionID).Msg("session deleted")
		return nil
	})
}
