package orchestrator

import (
	"context"

	"github.com/mcdev12/cylink/go/internal/events"
	"github.com/rs/zerolog/log"
)

// schedulePresence (re)starts the session's user-count debounce. A
// pending emission is cancelled so a burst of joins and leaves produces
// one user-count carrying the count at flush time.
func (o *Orchestrator) schedulePresence(ow *owner) {
	o.cancelPresence(ow)
	ow.presenceN++
	ow.presence = o.schedule(ow.id, commandFlushPresence, ow.presenceN, o.config.PresenceDebounce, o.flushPresence)
}

func (o *Orchestrator) cancelPresence(ow *owner) {
	if ow.presence == nil {
		return
	}
	close(ow.presence.cancel)
	ow.presence = nil
}

func (o *Orchestrator) flushPresence(ctx context.Context, ow *owner, fired *armedTimer) error {
	// superseded by a later change whose timer is still pending
	if ow.presence != fired {
		return nil
	}
	ow.presence = nil

	s, err := o.load(ctx, ow)
	if err != nil {
		return err
	}
	o.hub.Publish(ow.id, events.UserCount, events.UserCountPayload{Count: s.ConnectedUsers})

	log.Debug().
		Str("session_id", ow.id).
		Int("count", s.ConnectedUsers).
		Msg("presence flushed")
	return nil
}
