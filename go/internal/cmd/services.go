package main

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cylink/go/internal/activity"
	"github.com/mcdev12/cylink/go/internal/api"
	"github.com/mcdev12/cylink/go/internal/gateway"
	"github.com/mcdev12/cylink/go/internal/metrics"
	"github.com/mcdev12/cylink/go/internal/orchestrator"
	"github.com/mcdev12/cylink/go/internal/store"
	"github.com/rs/zerolog/log"
)

// Services holds every long-lived component of one server instance.
type Services struct {
	InstanceID string

	Backend      store.Backend
	Sessions     *store.SessionStore
	Programs     *store.ProgramStore
	Metrics      *metrics.Prometheus
	Activity     activity.Publisher
	Orchestrator *orchestrator.Orchestrator
	Gateway      *gateway.Service
	API          *api.Handler
	System       *api.SystemHandler

	amqp *activity.AMQPPublisher
	wg   sync.WaitGroup
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Backend → Stores → Hub/Relay → Orchestrator → Gateway/API
	clock := clockwork.NewRealClock()
	s := &Services{
		InstanceID: uuid.New().String()[:8],
		Metrics:    metrics.NewPrometheus(),
		Activity:   activity.NoOp{},
	}

	backend, err := setupBackend(ctx, config)
	if err != nil {
		return nil, err
	}
	s.Backend = backend

	// Stores
	storeConfig := store.DefaultSessionStoreConfig()
	storeConfig.EvictionInterval = config.Store.EvictionInterval
	storeConfig.EvictIdle = config.Store.EvictionMaxAge
	s.Programs = store.NewProgramStore(backend, clock, storeConfig.Breaker)
	s.Sessions = store.NewSessionStore(backend, s.Programs, clock, s.Metrics, storeConfig)

	// Cross-instance relay, optional
	var relay *gateway.Relay
	if config.NATSURL != "" {
		relayConfig := gateway.DefaultRelayConfig()
		relayConfig.URL = config.NATSURL
		relay, err = gateway.NewRelay(ctx, relayConfig, s.InstanceID, s.Metrics)
		if err != nil {
			backend.Close()
			return nil, err
		}
	}

	// Activity publishing, optional
	if config.AMQPURL != "" {
		activityConfig := activity.DefaultConfig()
		activityConfig.URL = config.AMQPURL
		publisher, err := activity.NewAMQPPublisher(activityConfig)
		if err != nil {
			log.Warn().Err(err).Msg("activity publishing disabled")
		} else {
			s.amqp = publisher
			s.Activity = publisher
		}
	}

	// Hub and orchestrator
	cmOpts := []gateway.Option{gateway.WithMetrics(s.Metrics)}
	if relay != nil {
		cmOpts = append(cmOpts, gateway.WithRelay(relay))
	}
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), cmOpts...)

	orchConfig := orchestrator.DefaultConfig()
	orchConfig.LeadTime = config.Program.LeadTime
	orchConfig.PresenceDebounce = config.Program.PresenceDebounce
	s.Orchestrator = orchestrator.NewOrchestrator(s.Sessions, s.Programs, cm, orchConfig,
		orchestrator.WithClock(clock),
		orchestrator.WithMetrics(s.Metrics),
		orchestrator.WithActivity(s.Activity),
		orchestrator.WithInstanceID(s.InstanceID),
	)

	// Outer surfaces
	s.Gateway = gateway.NewService(cm, s.Orchestrator, clock, relay)
	s.API = api.NewHandler(s.Sessions, s.Orchestrator, s.Programs, s.Activity)
	s.System = api.NewSystemHandler(clock, api.HealthSource{
		Backend:        backend.Name(),
		Ping:           backend.Ping,
		RelayEnabled:   relay != nil,
		RelayConnected: s.Gateway.RelayConnected,
		Connections:    func() any { return s.Gateway.Stats() },
	})

	log.Info().
		Str("instance_id", s.InstanceID).
		Str("backend", backend.Name()).
		Bool("relay", relay != nil).
		Bool("activity", s.amqp != nil).
		Msg("services initialized")
	return s, nil
}

// Start runs the background loops. They stop when ctx is cancelled.
func (s *Services) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Sessions.Run(ctx)
	}()

	if s.amqp != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.amqp.Run(ctx)
		}()
	}

	s.Gateway.Start(ctx)
}

// Shutdown releases everything in reverse order. ctx passed to Start must
// already be cancelled.
func (s *Services) Shutdown() {
	s.Orchestrator.Shutdown()
	if err := s.Gateway.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop gateway")
	}
	s.wg.Wait()

	s.Sessions.Flush()

	if s.amqp != nil {
		if err := s.amqp.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close activity publisher")
		}
	}
	if err := s.Backend.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close store backend")
	}
}
