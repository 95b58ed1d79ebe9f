package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
)

// Service is the session gateway: sockets, rooms and the optional
// cross-instance relay.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	relay             *Relay
	wg                sync.WaitGroup
}

// NewService creates a gateway over an existing connection manager. relay may be nil.
func NewService(cm *ConnectionManager, commands Commands, clock Clock, relay *Relay) *Service {
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, commands, clock),
		relay:             relay,
	}
}

// Start runs the broadcast loop and relay in the background
func (s *Service) Start(ctx context.Context) {
	log.Info().Bool("relay", s.relay != nil).Msg("starting session gateway")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.connectionManager.Start(ctx)
	}()

	if s.relay != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.relay.Start(ctx, s.connectionManager); err != nil {
				log.Error().Err(err).Msg("relay failed")
			}
		}()
	}
}

// Stop waits for the background loops after ctx is cancelled
func (s *Service) Stop() error {
	s.wg.Wait()
	if s.relay != nil {
		if err := s.relay.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop relay")
		}
	}
	log.Info().Msg("session gateway stopped")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("session gateway routes registered")
}

// RelayConnected reports the relay state, false when no relay is configured
func (s *Service) RelayConnected() bool {
	return s.relay != nil && s.relay.Connected()
}

// Stats returns statistics about active connections
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.Stats()
}
