package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cylink/go/internal/activity"
	"github.com/mcdev12/cylink/go/internal/events"
	"github.com/mcdev12/cylink/go/internal/metrics"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/mcdev12/cylink/go/internal/store"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Broadcaster delivers an event to every subscriber of a session.
type Broadcaster interface {
	Publish(sessionID string, event events.Name, payload any)
}

// Sessions is what the orchestrator needs from the session store
type Sessions interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Save(ctx context.Context, session *models.Session)
	Delete(ctx context.Context, id string) error
}

// Programs is what the orchestrator needs from the program store
type Programs interface {
	Save(ctx context.Context, sessionID string, program *models.Program) (*models.Program, error)
	Delete(ctx context.Context, sessionID string) error
}

// Config holds orchestrator timing
type Config struct {
	// LeadTime is added to now to fix a program's start instant, giving
	// every subscriber time to receive program-start.
	LeadTime time.Duration
	// PresenceDebounce coalesces user-count broadcasts per session.
	PresenceDebounce time.Duration
	// IdleTimeout retires a session owner with no commands and no timers.
	IdleTimeout time.Duration
}

// DefaultConfig returns the production timing
func DefaultConfig() Config {
	return Config{
		LeadTime:         time.Second,
		PresenceDebounce: 100 * time.Millisecond,
		IdleTimeout:      5 * time.Minute,
	}
}

// Orchestrator serializes all commands for a session through a single
// owner goroutine, so reads and writes of session state never interleave
// and broadcasts for a session leave in the order commands were applied.
type Orchestrator struct {
	sessions Sessions
	programs Programs
	hub      Broadcaster
	clock    Clock
	metrics  metrics.Collector
	activity activity.Publisher
	config   Config

	instanceID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	owners map[string]*owner
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithMetrics sets the metrics collector
func WithMetrics(c metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithActivity sets the lifecycle event publisher
func WithActivity(p activity.Publisher) Option {
	return func(o *Orchestrator) { o.activity = p }
}

// WithClock overrides the real clock
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithInstanceID tags log lines with the server instance
func WithInstanceID(id string) Option {
	return func(o *Orchestrator) { o.instanceID = id }
}

// NewOrchestrator creates an orchestrator. Call Shutdown to release owners and timers.
func NewOrchestrator(sessions Sessions, programs Programs, hub Broadcaster, config Config, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sessions:   sessions,
		programs:   programs,
		hub:        hub,
		clock:      clockwork.NewRealClock(),
		metrics:    metrics.NoOp{},
		activity:   activity.NoOp{},
		config:     config,
		instanceID: uuid.New().String()[:8],
		ctx:        ctx,
		cancel:     cancel,
		owners:     make(map[string]*owner),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// owner is the single logical owner of one session. Everything below
// mailbox is only touched by the owner goroutine.
type owner struct {
	id      string
	mailbox chan *command
	done    chan struct{}

	recovered  bool
	deleted    bool
	completion *armedTimer
	presence   *armedTimer
	presenceN  uint64
}

func (ow *owner) busy() bool {
	return ow.completion != nil || ow.presence != nil
}

type command struct {
	kind       CommandKind
	apply      func(ctx context.Context, ow *owner) error
	reply      chan error
	enqueuedAt time.Time
}

// submit runs fn on the session's owner and waits for its result.
func (o *Orchestrator) submit(ctx context.Context, sessionID string, kind CommandKind, fn func(ctx context.Context, ow *owner) error) error {
	cmd := &command{
		kind:       kind,
		apply:      fn,
		reply:      make(chan error, 1),
		enqueuedAt: o.clock.Now(),
	}

	for {
		ow, err := o.ownerFor(sessionID)
		if err != nil {
			return err
		}

		select {
		case ow.mailbox <- cmd:
		case <-ow.done:
			// retired between lookup and send
			continue
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case err := <-cmd.reply:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) ownerFor(sessionID string) (*owner, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx.Err() != nil {
		return nil, ErrStopped
	}
	if ow, ok := o.owners[sessionID]; ok {
		return ow, nil
	}

	ow := &owner{
		id:      sessionID,
		mailbox: make(chan *command),
		done:    make(chan struct{}),
	}
	o.owners[sessionID] = ow
	o.wg.Add(1)
	go o.run(ow)

	log.Debug().
		Str("session_id", sessionID).
		Str("instance_id", o.instanceID).
		Msg("session owner started")
	return ow, nil
}

func (o *Orchestrator) run(ow *owner) {
	defer o.wg.Done()

	idle := o.clock.NewTimer(o.config.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-o.ctx.Done():
			o.cancelCompletion(ow)
			o.cancelPresence(ow)
			o.retire(ow)
			return

		case cmd := <-ow.mailbox:
			err := cmd.apply(o.ctx, ow)
			// an owner that never found its session holds nothing worth keeping
			gone := ow.deleted || (errors.Is(err, store.ErrNotFound) && !ow.recovered && !ow.busy())
			if gone {
				o.cancelCompletion(ow)
				o.cancelPresence(ow)
				o.retire(ow)
			} else {
				stopAndDrainTimer(idle)
				idle.Reset(o.config.IdleTimeout)
			}
			cmd.reply <- err
			o.metrics.CommandProcessed(string(cmd.kind), resultLabel(err), o.clock.Now().Sub(cmd.enqueuedAt))

			if gone {
				return
			}

		case <-idle.Chan():
			if ow.busy() {
				idle.Reset(o.config.IdleTimeout)
				continue
			}
			o.retire(ow)
			return
		}
	}
}

// retire removes the owner. The mailbox is unbuffered, so once done is
// closed no further command can be accepted by this owner.
func (o *Orchestrator) retire(ow *owner) {
	o.mu.Lock()
	if o.owners[ow.id] == ow {
		delete(o.owners, ow.id)
	}
	o.mu.Unlock()
	close(ow.done)

	log.Debug().Str("session_id", ow.id).Msg("session owner retired")
}

// load fetches the session and, the first time an owner sees it,
// re-arms a program that was running when the previous owner went away.
func (o *Orchestrator) load(ctx context.Context, ow *owner) (*models.Session, error) {
	s, err := o.sessions.Get(ctx, ow.id)
	if err != nil {
		return nil, err
	}
	if !ow.recovered {
		ow.recovered = true
		o.recoverRun(ctx, ow, s)
	}
	return s, nil
}

// Owners returns the number of live session owners.
func (o *Orchestrator) Owners() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.owners)
}

// Shutdown stops every owner and its timers.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
	log.Info().Str("instance_id", o.instanceID).Msg("orchestrator stopped")
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrProgramRunning):
		return "control_locked"
	case errors.Is(err, ErrNoProgram):
		return "no_program"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid"
	default:
		return "error"
	}
}
