package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cylink/go/internal/activity"
	"github.com/mcdev12/cylink/go/internal/clocksync"
	"github.com/mcdev12/cylink/go/internal/events"
	"github.com/mcdev12/cylink/go/internal/metrics"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/mcdev12/cylink/go/internal/orchestrator"
	"github.com/mcdev12/cylink/go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopHub struct{}

func (nopHub) Publish(sessionID string, event events.Name, payload any) {}

type activityLog struct {
	events []activity.Event
}

func (a *activityLog) Publish(ctx context.Context, event activity.Event) {
	a.events = append(a.events, event)
}

type apiFixture struct {
	mux      *http.ServeMux
	clock    *clockwork.FakeClock
	orch     *orchestrator.Orchestrator
	activity *activityLog
}

func newFixture(t *testing.T, health HealthSource) *apiFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 9, 20, 19, 0, 0, 0, time.UTC))
	backend := store.NewMemoryBackend()
	programs := store.NewProgramStore(backend, clock, store.DefaultBreakerConfig())
	sessions := store.NewSessionStore(backend, programs, clock, metrics.NoOp{}, store.DefaultSessionStoreConfig())
	orch := orchestrator.NewOrchestrator(sessions, programs, nopHub{}, orchestrator.DefaultConfig(), orchestrator.WithClock(clock))
	t.Cleanup(orch.Shutdown)

	published := &activityLog{}
	mux := http.NewServeMux()
	NewHandler(sessions, orch, programs, published).RegisterRoutes(mux)
	NewSystemHandler(clock, health).RegisterRoutes(mux)
	return &apiFixture{mux: mux, clock: clock, orch: orch, activity: published}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createSession(t *testing.T, name string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.SessionID
}

func TestCreateAndGetSession(t *testing.T) {
	f := newFixture(t, HealthSource{})

	rec := f.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.SessionID)
	assert.Equal(t, models.DefaultSessionName, created.Session.Name)
	assert.Equal(t, "#FFFFFF", created.Session.Color)
	assert.Equal(t, models.EffectNone, created.Session.Effect)
	assert.Equal(t, models.SessionModeManual, created.Session.Mode)
	assert.Nil(t, created.Session.Program)

	require.Len(t, f.activity.events, 1)
	assert.Equal(t, activity.SessionCreated, f.activity.events[0].Kind)
	assert.Equal(t, created.SessionID, f.activity.events[0].SessionID)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+created.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.SessionID, got.Session.ID)
}

func TestGetMissingSession(t *testing.T) {
	f := newFixture(t, HealthSource{})

	rec := f.do(t, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Session not found"}`, rec.Body.String())
}

func TestCreateSessionRejectsBadBody(t *testing.T) {
	f := newFixture(t, HealthSource{})

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndDeleteSessions(t *testing.T) {
	f := newFixture(t, HealthSource{})
	first := f.createSession(t, "First")
	f.clock.Advance(time.Minute)
	second := f.createSession(t, "Second")

	rec := f.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list sessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, second, list.Sessions[0].ID)
	assert.Equal(t, first, list.Sessions[1].ID)

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+first, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+first, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/sessions/"+first, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveAndLoadProgram(t *testing.T) {
	f := newFixture(t, HealthSource{})
	id := f.createSession(t, "Show")

	rec := f.do(t, http.MethodGet, "/api/sessions/"+id+"/program", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	program := models.Program{
		Name: "Opening",
		Segments: []models.ProgramSegment{
			{StartTime: 0, EndTime: 3000, Color: "#ff0000"},
			{StartTime: 3000, EndTime: 8000, Color: "#00FF00", Effect: models.EffectFade},
		},
		TotalDuration: 1,
	}
	rec = f.do(t, http.MethodPut, "/api/sessions/"+id+"/program", program)
	require.Equal(t, http.StatusOK, rec.Code)

	var saved programResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	require.NotEmpty(t, saved.Program.ID)
	assert.Equal(t, int64(8000), saved.Program.TotalDuration)
	assert.Equal(t, "#FF0000", saved.Program.Segments[0].Color)
	assert.Equal(t, models.EffectNone, saved.Program.Segments[0].Effect)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+id+"/program", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var loaded programResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loaded))
	assert.Equal(t, saved.Program.Segments, loaded.Program.Segments)
	assert.Equal(t, int64(8000), loaded.Program.TotalDuration)

	s, err := f.orch.Session(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s.Program)
	assert.Equal(t, saved.Program.ID, s.Program.ID)
}

func TestSaveProgramValidation(t *testing.T) {
	f := newFixture(t, HealthSource{})
	id := f.createSession(t, "Show")

	overlapping := models.Program{Segments: []models.ProgramSegment{
		{StartTime: 0, EndTime: 5000, Color: "#FF0000"},
		{StartTime: 4000, EndTime: 6000, Color: "#00FF00"},
	}}
	rec := f.do(t, http.MethodPut, "/api/sessions/"+id+"/program", overlapping)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tooLong := models.Program{Segments: []models.ProgramSegment{
		{StartTime: 0, EndTime: 10_000_000_000_000, Color: "#FF0000"},
	}}
	rec = f.do(t, http.MethodPut, "/api/sessions/"+id+"/program", tooLong)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/sessions/missing/program", models.Program{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveProgramWhileRunning(t *testing.T) {
	f := newFixture(t, HealthSource{})
	id := f.createSession(t, "Show")
	program := models.Program{Segments: []models.ProgramSegment{{StartTime: 0, EndTime: 5000, Color: "#FF0000"}}}

	rec := f.do(t, http.MethodPut, "/api/sessions/"+id+"/program", program)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := f.orch.StartProgram(context.Background(), id)
	require.NoError(t, err)

	rec = f.do(t, http.MethodPut, "/api/sessions/"+id+"/program", program)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServerTime(t *testing.T) {
	f := newFixture(t, HealthSource{})

	rec := f.do(t, http.MethodGet, "/api/time", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp clocksync.TimeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, f.clock.Now().UnixMilli(), resp.ServerTime)
}

func TestEffectsCatalog(t *testing.T) {
	f := newFixture(t, HealthSource{})

	rec := f.do(t, http.MethodGet, "/api/effects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp effectsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Effects, 6)
	assert.Len(t, resp.Colors, 9)

	cadence := map[models.EffectType]int64{}
	for _, e := range resp.Effects {
		cadence[e.Type] = e.CadenceMs
	}
	assert.Equal(t, int64(50), cadence[models.EffectStrobe])
	assert.Equal(t, int64(3000), cadence[models.EffectRainbow])
}

func TestHealth(t *testing.T) {
	f := newFixture(t, HealthSource{
		Backend:      "memory",
		Ping:         func(ctx context.Context) error { return nil },
		RelayEnabled: false,
		Connections:  func() any { return map[string]int{"total_connections": 3} },
	})

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "memory", resp.Backend)
	assert.Equal(t, "disabled", resp.Relay)
}

func TestHealthDegraded(t *testing.T) {
	f := newFixture(t, HealthSource{
		Backend:        "redis",
		Ping:           func(ctx context.Context) error { return errors.New("connection refused") },
		RelayEnabled:   true,
		RelayConnected: func() bool { return false },
	})

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "disconnected", resp.Relay)
	assert.Equal(t, "connection refused", resp.BackendErr)
}
