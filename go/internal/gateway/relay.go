package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/cylink/go/internal/events"
	"github.com/mcdev12/cylink/go/internal/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// InstanceHeader names the publishing instance on relayed messages
const InstanceHeader = "Instance-ID"

// RelayConfig holds configuration for the cross-instance relay
type RelayConfig struct {
	URL            string
	StreamName     string
	SubjectPrefix  string        // messages go to <prefix>.<sessionID>.<event>
	MaxAge         time.Duration // relayed frames are only useful for a moment
	BufferSize     int
	PublishTimeout time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// DefaultRelayConfig returns default relay configuration
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:            nats.DefaultURL,
		StreamName:     "CYLINK_SESSIONS",
		SubjectPrefix:  "cylink.sessions",
		MaxAge:         time.Minute,
		BufferSize:     1000,
		PublishTimeout: 2 * time.Second,
		MaxReconnects:  -1, // Infinite
		ReconnectWait:  2 * time.Second,
	}
}

type relayMessage struct {
	subject string
	frame   []byte
}

// Relay fans session broadcasts out to every instance through a
// JetStream stream. Session state stays with the instance that owns the
// session; only frames travel.
type Relay struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	stream     jetstream.Stream
	config     RelayConfig
	instanceID string
	metrics    metrics.Collector
	outbound   chan relayMessage
}

// NewRelay connects to NATS and ensures the relay stream exists
func NewRelay(ctx context.Context, config RelayConfig, instanceID string, collector metrics.Collector) (*Relay, error) {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	opts := []nats.Option{
		nats.Name("cylink-" + instanceID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        config.StreamName,
		Description: "Session broadcasts relayed between instances",
		Subjects:    []string{config.SubjectPrefix + ".>"},
		Storage:     jetstream.MemoryStorage,
		MaxAge:      config.MaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &Relay{
		nc:         nc,
		js:         js,
		stream:     stream,
		config:     config,
		instanceID: instanceID,
		metrics:    collector,
		outbound:   make(chan relayMessage, config.BufferSize),
	}, nil
}

// Subject returns the relay subject for a session event
func (r *Relay) Subject(sessionID string, event events.Name) string {
	return fmt.Sprintf("%s.%s.%s", r.config.SubjectPrefix, sessionID, event)
}

// Forward queues a local frame for other instances. It never blocks.
func (r *Relay) Forward(sessionID string, event events.Name, frame []byte) {
	select {
	case r.outbound <- relayMessage{subject: r.Subject(sessionID, event), frame: frame}:
	default:
		r.metrics.RelayMessage("out", false)
		log.Warn().Str("session_id", sessionID).Str("event", string(event)).Msg("relay buffer full, dropping frame")
	}
}

// Start publishes queued frames and re-broadcasts frames from other
// instances to local subscribers until ctx is cancelled.
func (r *Relay) Start(ctx context.Context, local *ConnectionManager) error {
	consumer, err := r.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{r.config.SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		r.deliver(local, msg)
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	log.Info().
		Str("stream", r.config.StreamName).
		Str("instance_id", r.instanceID).
		Msg("relay started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay shutting down")
			return nil
		case m := <-r.outbound:
			r.publish(ctx, m)
		}
	}
}

func (r *Relay) publish(ctx context.Context, m relayMessage) {
	msg := nats.NewMsg(m.subject)
	msg.Data = m.frame
	msg.Header.Set(InstanceHeader, r.instanceID)

	pctx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
	defer cancel()
	if _, err := r.js.PublishMsg(pctx, msg); err != nil {
		r.metrics.RelayMessage("out", false)
		log.Error().Err(err).Str("subject", m.subject).Msg("failed to relay frame")
		return
	}
	r.metrics.RelayMessage("out", true)
}

func (r *Relay) deliver(local *ConnectionManager, msg jetstream.Msg) {
	if msg.Headers().Get(InstanceHeader) == r.instanceID {
		return
	}

	sessionID, event, ok := r.parseSubject(msg.Subject())
	if !ok {
		r.metrics.RelayMessage("in", false)
		log.Warn().Str("subject", msg.Subject()).Msg("ignoring relayed frame with unexpected subject")
		return
	}
	local.PublishFrame(sessionID, event, msg.Data())
	r.metrics.RelayMessage("in", true)
}

func (r *Relay) parseSubject(subject string) (string, events.Name, bool) {
	rest, ok := strings.CutPrefix(subject, r.config.SubjectPrefix+".")
	if !ok {
		return "", "", false
	}
	sessionID, event, ok := strings.Cut(rest, ".")
	if !ok || sessionID == "" || event == "" {
		return "", "", false
	}
	return sessionID, events.Name(event), true
}

// Connected reports whether the NATS connection is up
func (r *Relay) Connected() bool {
	return r.nc != nil && r.nc.IsConnected()
}

// Stop closes the NATS connection
func (r *Relay) Stop() error {
	log.Info().Msg("stopping relay")
	if r.nc != nil {
		r.nc.Drain()
	}
	return nil
}
