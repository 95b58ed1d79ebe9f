package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records runtime metrics for the session core
type Collector interface {
	ConnectionOpened()
	ConnectionClosed()
	SubscriberJoined(admin bool)
	SubscriberLeft(admin bool)
	BroadcastSent(event string, recipients int)
	BroadcastDropped(reason string)
	CommandProcessed(command string, result string, duration time.Duration)
	ProgramRun(outcome string)
	CacheLookup(hit bool)
	BackendWrite(op string, attempt int, success bool)
	RelayMessage(direction string, success bool)
}

// NoOp is used when metrics aren't needed
type NoOp struct{}

func (NoOp) ConnectionOpened()                                        {}
func (NoOp) ConnectionClosed()                                        {}
func (NoOp) SubscriberJoined(admin bool)                              {}
func (NoOp) SubscriberLeft(admin bool)                                {}
func (NoOp) BroadcastSent(event string, recipients int)               {}
func (NoOp) BroadcastDropped(reason string)                           {}
func (NoOp) CommandProcessed(command, result string, d time.Duration) {}
func (NoOp) ProgramRun(outcome string)                                {}
func (NoOp) CacheLookup(hit bool)                                     {}
func (NoOp) BackendWrite(op string, attempt int, success bool)        {}
func (NoOp) RelayMessage(direction string, success bool)              {}

// Prometheus implements Collector with client_golang collectors
type Prometheus struct {
	registry *prometheus.Registry

	connections     prometheus.Gauge
	subscribers     *prometheus.GaugeVec
	broadcasts      *prometheus.CounterVec
	recipients      prometheus.Histogram
	dropped         *prometheus.CounterVec
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	programRuns     *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	backendWrites   *prometheus.CounterVec
	relayMessages   *prometheus.CounterVec
}

// NewPrometheus registers the collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "cylink_ws_connections",
			Help: "Open websocket connections",
		}),
		subscribers: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cylink_room_subscribers",
			Help: "Joined subscribers across all rooms",
		}, []string{"role"}),
		broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cylink_broadcasts_total",
			Help: "Room broadcasts by event",
		}, []string{"event"}),
		recipients: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cylink_broadcast_recipients",
			Help:    "Subscribers reached per broadcast",
			Buckets: prometheus.ExponentialBuckets(1, 4, 7),
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cylink_broadcasts_dropped_total",
			Help: "Broadcast frames dropped",
		}, []string{"reason"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cylink_commands_total",
			Help: "Session commands by result",
		}, []string{"command", "result"}),
		commandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cylink_command_duration_seconds",
			Help:    "Time from enqueue to completion of a session command",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		programRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cylink_program_runs_total",
			Help: "Program lifecycle transitions",
		}, []string{"outcome"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cylink_session_cache_lookups_total",
			Help: "Session cache lookups",
		}, []string{"result"}),
		backendWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cylink_backend_writes_total",
			Help: "Durable backend write attempts",
		}, []string{"op", "attempt", "status"}),
		relayMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cylink_relay_messages_total",
			Help: "Cross-instance relay messages",
		}, []string{"direction", "status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Prometheus) ConnectionOpened() { m.connections.Inc() }
func (m *Prometheus) ConnectionClosed() { m.connections.Dec() }

func (m *Prometheus) SubscriberJoined(admin bool) { m.subscribers.WithLabelValues(role(admin)).Inc() }
func (m *Prometheus) SubscriberLeft(admin bool)   { m.subscribers.WithLabelValues(role(admin)).Dec() }

func (m *Prometheus) BroadcastSent(event string, recipients int) {
	m.broadcasts.WithLabelValues(event).Inc()
	m.recipients.Observe(float64(recipients))
}

func (m *Prometheus) BroadcastDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Prometheus) CommandProcessed(command, result string, duration time.Duration) {
	m.commands.WithLabelValues(command, result).Inc()
	m.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func (m *Prometheus) ProgramRun(outcome string) {
	m.programRuns.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Prometheus) BackendWrite(op string, attempt int, success bool) {
	m.backendWrites.WithLabelValues(op, strconv.Itoa(attempt), status(success)).Inc()
}

func (m *Prometheus) RelayMessage(direction string, success bool) {
	m.relayMessages.WithLabelValues(direction, status(success)).Inc()
}

func role(admin bool) string {
	if admin {
		return "admin"
	}
	return "spectator"
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
