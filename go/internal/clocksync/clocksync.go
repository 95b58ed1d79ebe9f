package clocksync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TimeResponse is the body of the server time probe.
type TimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// Handler answers server time probes with the current epoch milliseconds.
func Handler(clock clockwork.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(TimeResponse{ServerTime: clock.Now().UnixMilli()}); err != nil {
			log.Error().Err(err).Msg("failed to write server time")
		}
	}
}

// Sample is one round-trip probe measured on the local clock.
type Sample struct {
	Sent       time.Time
	Received   time.Time
	ServerTime time.Time
}

// RTT is the round-trip latency of the probe.
func (s Sample) RTT() time.Duration {
	return s.Received.Sub(s.Sent)
}

// Offset estimates localClock - serverClock as
// localNow - (serverTime + RTT/2).
func (s Sample) Offset() time.Duration {
	return s.Received.Sub(s.ServerTime.Add(s.RTT() / 2))
}

// Estimator keeps the most recent samples and trusts the one with the
// lowest round trip, since its midpoint assumption has the least error.
type Estimator struct {
	mu      sync.RWMutex
	samples []Sample
	window  int
}

// NewEstimator keeps up to window samples.
func NewEstimator(window int) *Estimator {
	if window < 1 {
		window = 1
	}
	return &Estimator{window: window}
}

// Add records a probe result.
func (e *Estimator) Add(s Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = append(e.samples, s)
	if len(e.samples) > e.window {
		e.samples = e.samples[len(e.samples)-e.window:]
	}
}

// Offset returns the current estimate, zero before any sample.
func (e *Estimator) Offset() time.Duration {
	best, ok := e.Best()
	if !ok {
		return 0
	}
	return best.Offset()
}

// Best returns the lowest-RTT sample.
func (e *Estimator) Best() (Sample, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.samples) == 0 {
		return Sample{}, false
	}
	best := e.samples[0]
	for _, s := range e.samples[1:] {
		if s.RTT() < best.RTT() {
			best = s
		}
	}
	return best, true
}

// Fetcher obtains the server's current time.
type Fetcher func(ctx context.Context) (time.Time, error)

// Probe measures one sample with fetch, timing it on clock.
func Probe(ctx context.Context, clock clockwork.Clock, fetch Fetcher) (Sample, error) {
	sent := clock.Now()
	server, err := fetch(ctx)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Sent: sent, Received: clock.Now(), ServerTime: server}, nil
}

// Sync takes n probes into e. It fails only if every probe fails.
func Sync(ctx context.Context, clock clockwork.Clock, fetch Fetcher, n int, e *Estimator) error {
	var lastErr error
	ok := 0
	for i := 0; i < n; i++ {
		s, err := Probe(ctx, clock, fetch)
		if err != nil {
			lastErr = err
			continue
		}
		e.Add(s)
		ok++
	}
	if ok == 0 && lastErr != nil {
		return fmt.Errorf("clock sync failed: %w", lastErr)
	}
	log.Debug().
		Int("samples", ok).
		Dur("offset", e.Offset()).
		Msg("clock synchronized")
	return nil
}

// HTTPFetcher probes a server time endpoint.
func HTTPFetcher(client *http.Client, url string) Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (time.Time, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return time.Time{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return time.Time{}, fmt.Errorf("probe server time: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return time.Time{}, fmt.Errorf("probe server time: status %d", resp.StatusCode)
		}
		var body TimeResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return time.Time{}, fmt.Errorf("decode server time: %w", err)
		}
		return time.UnixMilli(body.ServerTime), nil
	}
}
