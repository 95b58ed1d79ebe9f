// Package client is a Go spectator for a cylink session: it aligns its
// clock with the server, joins over the socket, and renders programs
// locally from the shared start instant.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cylink/go/internal/clocksync"
	"github.com/mcdev12/cylink/go/internal/events"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/mcdev12/cylink/go/internal/playback"
	"github.com/rs/zerolog/log"
)

// ErrSessionEnded is returned by Run when the server ends the session.
var ErrSessionEnded = errors.New("session ended")

// Source says what produced the displayed state.
type Source string

const (
	SourceSync    Source = "sync"
	SourceManual  Source = "manual"
	SourceProgram Source = "program"
)

// Update is what the display should show now.
type Update struct {
	Color   string
	Effect  models.EffectType
	Mode    models.SessionMode
	Source  Source
	Users   int
	Running bool
}

// Config holds client settings
type Config struct {
	// BaseURL is the server's HTTP origin, e.g. http://localhost:3001
	BaseURL     string
	SessionID   string
	Admin       bool
	SyncSamples int
	Tick        time.Duration
	HTTPClient  *http.Client
	Dialer      *websocket.Dialer
}

// DefaultConfig returns client defaults for a session
func DefaultConfig(baseURL, sessionID string) Config {
	return Config{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		SessionID:   sessionID,
		SyncSamples: 5,
		Tick:        playback.DefaultTick,
		Dialer:      websocket.DefaultDialer,
	}
}

// Client is one connection to a session
type Client struct {
	config    Config
	clock     clockwork.Clock
	estimator *clocksync.Estimator
	onUpdate  func(Update)

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu         sync.Mutex
	state      Update
	playGen    uint64
	stopPlayer context.CancelFunc
	playing    sync.WaitGroup
}

// New creates a client. onUpdate is called whenever the display should
// change and must not call back into the client.
func New(config Config, clock clockwork.Clock, onUpdate func(Update)) *Client {
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if config.SyncSamples < 1 {
		config.SyncSamples = 1
	}
	return &Client{
		config:    config,
		clock:     clock,
		estimator: clocksync.NewEstimator(config.SyncSamples),
		onUpdate:  onUpdate,
	}
}

// Offset is the current estimate of localClock - serverClock.
func (c *Client) Offset() time.Duration {
	return c.estimator.Offset()
}

// State returns the last update delivered.
func (c *Client) State() Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SyncClock probes the server time endpoint.
func (c *Client) SyncClock(ctx context.Context) error {
	fetch := clocksync.HTTPFetcher(c.config.HTTPClient, c.config.BaseURL+"/api/time")
	return clocksync.Sync(ctx, c.clock, fetch, c.config.SyncSamples, c.estimator)
}

// Run syncs the clock, joins the session and processes events until ctx
// is cancelled, the connection drops, or the session ends.
func (c *Client) Run(ctx context.Context) error {
	if err := c.SyncClock(ctx); err != nil {
		log.Warn().Err(err).Msg("clock sync failed, assuming zero offset")
	}

	wsURL, err := socketURL(c.config.BaseURL)
	if err != nil {
		return err
	}
	conn, _, err := c.config.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	c.setConn(conn)
	defer func() {
		c.setConn(nil)
		c.stopPlayback()
		c.playing.Wait()
		conn.Close()
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := c.Send(events.JoinSession, events.JoinSessionPayload{
		SessionID: c.config.SessionID,
		IsAdmin:   c.config.Admin,
	}); err != nil {
		return err
	}

	for {
		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := c.handle(&env); err != nil {
			return err
		}
	}
}

// Send writes one command frame.
func (c *Client) Send(event events.Name, payload any) error {
	env, err := events.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	return c.conn.WriteJSON(env)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn = conn
}

func (c *Client) handle(env *events.Envelope) error {
	switch env.Event {
	case events.SyncState:
		var p events.SyncStatePayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		c.applySync(p)

	case events.ColorChange:
		var p events.ColorChangePayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		c.update(func(u *Update) bool {
			if u.Running {
				return false
			}
			u.Color, u.Effect, u.Source = p.Color, p.Effect, SourceManual
			return true
		})

	case events.TriggerEffect:
		var p events.TriggerEffectPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		c.update(func(u *Update) bool {
			if u.Running {
				return false
			}
			u.Effect, u.Source = p.EffectType, SourceManual
			return true
		})

	case events.ModeChange:
		var p events.ModeChangePayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		c.update(func(u *Update) bool {
			u.Mode = p.Mode
			return true
		})

	case events.ProgramStart:
		var p events.ProgramStartPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		c.update(func(u *Update) bool {
			u.Mode, u.Running = models.SessionModeProgram, true
			return false
		})
		c.startPlayback(p.Program, time.UnixMilli(p.StartTime))

	case events.ProgramStop:
		var p events.ProgramStopPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		c.stopPlayback()
		c.update(func(u *Update) bool {
			u.Running = false
			return true
		})
		log.Info().Str("reason", string(p.Reason)).Msg("program stopped")

	case events.UserCount:
		var p events.UserCountPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		c.update(func(u *Update) bool {
			u.Users = p.Count
			return true
		})

	case events.ControlLocked:
		var p events.MessagePayload
		_ = env.Decode(&p)
		log.Warn().Str("message", p.Message).Msg("control locked")

	case events.Error:
		var p events.MessagePayload
		_ = env.Decode(&p)
		if p.Message == "session ended" || p.Message == "Session not found" {
			return fmt.Errorf("%w: %s", ErrSessionEnded, p.Message)
		}
		log.Warn().Str("message", p.Message).Msg("server error")

	default:
		log.Debug().Str("event", string(env.Event)).Msg("ignoring unknown event")
	}
	return nil
}

func (c *Client) applySync(p events.SyncStatePayload) {
	c.stopPlayback()
	c.update(func(u *Update) bool {
		*u = Update{
			Color:   p.Color,
			Effect:  p.Effect,
			Mode:    p.Mode,
			Source:  SourceSync,
			Users:   p.ConnectedUsers,
			Running: p.IsProgramRunning,
		}
		return true
	})
	if p.IsProgramRunning && p.ProgramStartTime != nil {
		c.startPlayback(p.Program, time.UnixMilli(*p.ProgramStartTime))
	}
}

func (c *Client) startPlayback(program *models.Program, startTime time.Time) {
	c.stopPlayback()

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.playGen++
	gen := c.playGen
	c.stopPlayer = cancel
	c.mu.Unlock()

	player := playback.NewPlayer(c.clock, c.estimator, c.config.Tick, func(f playback.Frame) {
		c.renderFrame(gen, f)
	})

	c.playing.Add(1)
	go func() {
		defer c.playing.Done()
		if err := player.Play(ctx, program, startTime); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("playback failed")
		}
	}()
}

func (c *Client) stopPlayback() {
	c.mu.Lock()
	cancel := c.stopPlayer
	c.stopPlayer = nil
	c.playGen++
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// renderFrame applies a frame from playback run gen, dropping frames
// from a run that has since been stopped or replaced.
func (c *Client) renderFrame(gen uint64, f playback.Frame) {
	c.update(func(u *Update) bool {
		if gen != c.playGen {
			return false
		}
		u.Color, u.Effect, u.Source = f.Color, f.Effect, SourceProgram
		return true
	})
}

// update applies fn to the state and notifies when fn reports a change.
func (c *Client) update(fn func(*Update) bool) {
	c.mu.Lock()
	changed := fn(&c.state)
	state := c.state
	if changed && c.onUpdate != nil {
		c.onUpdate(state)
	}
	c.mu.Unlock()
}

func socketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
