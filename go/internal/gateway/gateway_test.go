package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cylink/go/internal/events"
	"github.com/mcdev12/cylink/go/internal/metrics"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/mcdev12/cylink/go/internal/orchestrator"
	"github.com/mcdev12/cylink/go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	server   *httptest.Server
	clock    *clockwork.FakeClock
	sessions *store.SessionStore
	orch     *orchestrator.Orchestrator
	cm       *ConnectionManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 4, 21, 30, 0, 0, time.UTC))
	backend := store.NewMemoryBackend()
	programs := store.NewProgramStore(backend, clock, store.DefaultBreakerConfig())
	sessions := store.NewSessionStore(backend, programs, clock, metrics.NoOp{}, store.DefaultSessionStoreConfig())

	cm := NewConnectionManager(DefaultConnectionConfig())
	orch := orchestrator.NewOrchestrator(sessions, programs, cm, orchestrator.DefaultConfig(), orchestrator.WithClock(clock))
	svc := NewService(cm, orch, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		orch.Shutdown()
		cancel()
		svc.Stop()
	})

	return &testServer{server: server, clock: clock, sessions: sessions, orch: orch, cm: cm}
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (ts *testServer) dial(t *testing.T) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(event events.Name, payload any) {
	c.t.Helper()
	env, err := events.NewEnvelope(event, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(env))
}

// expect reads frames until one named event arrives, skipping others.
func (c *testClient) expect(event events.Name, v any) {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var env events.Envelope
		require.NoError(c.t, c.conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event != event {
			continue
		}
		if v != nil {
			require.NoError(c.t, json.Unmarshal(env.Data, v))
		}
		return
	}
}

func (c *testClient) join(sessionID string, admin bool) events.SyncStatePayload {
	c.t.Helper()
	c.send(events.JoinSession, events.JoinSessionPayload{SessionID: sessionID, IsAdmin: admin})
	var state events.SyncStatePayload
	c.expect(events.SyncState, &state)
	return state
}

func twoSegmentProgram() *models.Program {
	return &models.Program{
		Name: "Encore",
		Segments: []models.ProgramSegment{
			{StartTime: 0, EndTime: 4000, Color: "#FF0000", Effect: models.EffectNone},
			{StartTime: 4000, EndTime: 10000, Color: "#0000FF", Effect: models.EffectStrobe},
		},
	}
}

func TestProgramRunEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	session, err := ts.sessions.Create(ctx, "Test")
	require.NoError(t, err)
	_, err = ts.orch.SaveProgram(ctx, session.ID, twoSegmentProgram())
	require.NoError(t, err)

	admin := ts.dial(t)
	state := admin.join(session.ID, true)
	assert.Equal(t, models.SessionModeManual, state.Mode)
	assert.Equal(t, models.DefaultSessionColor, state.Color)
	assert.False(t, state.IsProgramRunning)
	assert.Equal(t, ts.clock.Now().UnixMilli(), state.ServerTime)
	require.NotNil(t, state.Program)

	spectators := make([]*testClient, 3)
	for i := range spectators {
		spectators[i] = ts.dial(t)
		spectators[i].join(session.ID, false)
	}

	expectedStart := ts.clock.Now().Add(time.Second).UnixMilli()
	admin.send(events.StartProgram, events.SessionCommandPayload{SessionID: session.ID})

	for _, c := range spectators {
		var start events.ProgramStartPayload
		c.expect(events.ProgramStart, &start)
		assert.Equal(t, expectedStart, start.StartTime)
		require.NotNil(t, start.Program)
		assert.Equal(t, int64(10000), start.Program.TotalDuration)
	}

	admin.send(events.ChangeColor, events.ChangeColorPayload{SessionID: session.ID, Color: "#00FF00"})
	var locked events.MessagePayload
	admin.expect(events.ControlLocked, &locked)
	assert.NotEmpty(t, locked.Message)

	// a late joiner reconciles into the running program
	late := ts.dial(t)
	lateState := late.join(session.ID, false)
	assert.True(t, lateState.IsProgramRunning)
	require.NotNil(t, lateState.ProgramStartTime)
	assert.Equal(t, expectedStart, *lateState.ProgramStartTime)

	ts.clock.Advance(11 * time.Second)

	for _, c := range append(spectators, admin, late) {
		var stop events.ProgramStopPayload
		c.expect(events.ProgramStop, &stop)
		assert.Equal(t, events.StopReasonCompleted, stop.Reason)
	}

	s, err := ts.orch.Session(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, s.IsProgramRunning)
	assert.Equal(t, models.DefaultSessionColor, s.Color)
}

func TestManualColorBroadcast(t *testing.T) {
	ts := newTestServer(t)
	session, err := ts.sessions.Create(context.Background(), "")
	require.NoError(t, err)

	admin := ts.dial(t)
	admin.join(session.ID, true)
	viewer := ts.dial(t)
	viewer.join(session.ID, false)

	admin.send(events.ChangeColor, events.ChangeColorPayload{SessionID: session.ID, Color: "#ff8800"})

	var change events.ColorChangePayload
	viewer.expect(events.ColorChange, &change)
	assert.Equal(t, "#FF8800", change.Color)
	assert.Equal(t, models.EffectNone, change.Effect)

	admin.send(events.TriggerEffect, events.TriggerEffectPayload{SessionID: session.ID, EffectType: models.EffectFade})
	var effect events.TriggerEffectPayload
	viewer.expect(events.TriggerEffect, &effect)
	assert.Equal(t, models.EffectFade, effect.EffectType)
	assert.Empty(t, effect.SessionID)
}

func TestJoinUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t)

	c.send(events.JoinSession, events.JoinSessionPayload{SessionID: "nope"})
	var msg events.MessagePayload
	c.expect(events.Error, &msg)
	assert.Equal(t, "Session not found", msg.Message)
}

func TestMalformedMessages(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var msg events.MessagePayload
	c.expect(events.Error, &msg)
	assert.Equal(t, "Malformed message", msg.Message)

	c.send(events.Name("dance"), nil)
	c.expect(events.Error, &msg)
	assert.Contains(t, msg.Message, "dance")

	c.send(events.JoinSession, events.JoinSessionPayload{})
	c.expect(events.Error, &msg)
	assert.Contains(t, msg.Message, "sessionId")
}

func TestPresenceAndDisconnect(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	session, err := ts.sessions.Create(ctx, "Presence")
	require.NoError(t, err)

	admin := ts.dial(t)
	admin.join(session.ID, true)
	a := ts.dial(t)
	a.join(session.ID, false)
	b := ts.dial(t)
	b.join(session.ID, false)

	ts.clock.Advance(100 * time.Millisecond)
	var count events.UserCountPayload
	admin.expect(events.UserCount, &count)
	assert.Equal(t, 2, count.Count)

	stats := ts.cm.Stats()
	require.Len(t, stats.Sessions, 1)
	assert.Equal(t, 2, stats.Sessions[0].Subscribers)
	assert.Equal(t, 1, stats.Sessions[0].Admins)

	require.NoError(t, b.conn.Close())
	require.Eventually(t, func() bool {
		s, err := ts.orch.Session(ctx, session.ID)
		return err == nil && s.ConnectedUsers == 1
	}, 2*time.Second, 10*time.Millisecond)

	ts.clock.Advance(100 * time.Millisecond)
	admin.expect(events.UserCount, &count)
	assert.Equal(t, 1, count.Count)
}

func TestConnectionStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	session, err := ts.sessions.Create(context.Background(), "Stats")
	require.NoError(t, err)

	c := ts.dial(t)
	c.join(session.ID, false)

	resp, err := http.Get(ts.server.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats ConnectionStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, session.ID, stats.Sessions[0].SessionID)
}

func TestRelaySubjects(t *testing.T) {
	r := &Relay{config: DefaultRelayConfig()}

	subject := r.Subject("abc-123", events.ProgramStart)
	assert.Equal(t, "cylink.sessions.abc-123.program-start", subject)

	id, event, ok := r.parseSubject(subject)
	require.True(t, ok)
	assert.Equal(t, "abc-123", id)
	assert.Equal(t, events.ProgramStart, event)

	_, _, ok = r.parseSubject("other.sessions.abc.user-count")
	assert.False(t, ok)
	_, _, ok = r.parseSubject("cylink.sessions.abc")
	assert.False(t, ok)
}

func TestDirectFrameSurvivesFullQueue(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &Connection{ID: "c1", Send: make(chan []byte, 4), Manager: cm, ctx: ctx, cancel: cancel}

	// nothing drains the queue, so room traffic fills it
	for len(cm.broadcastCh) < cap(cm.broadcastCh) {
		cm.Publish("busy-room", events.UserCount, events.UserCountPayload{Count: 1})
	}
	cm.Publish("busy-room", events.UserCount, events.UserCountPayload{Count: 2})
	assert.Len(t, cm.broadcastCh, cap(cm.broadcastCh))

	cm.SendTo(conn, events.ControlLocked, events.MessagePayload{Message: controlLockedMessage})

	require.Len(t, conn.Send, 1)
	var env events.Envelope
	require.NoError(t, json.Unmarshal(<-conn.Send, &env))
	assert.Equal(t, events.ControlLocked, env.Event)
}
