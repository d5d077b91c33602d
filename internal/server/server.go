package server

import (
	"net/http"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/session"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server accepts WebSocket connections and binds each of them to a room of
// the registry it was constructed with.
type Server struct {
	cfg      config.Config
	registry *chat.Registry
	resolver *session.Resolver
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *metrics.Collectors
}

// New creates a Server. logger and m may be nil.
func New(cfg config.Config, registry *chat.Registry, resolver *session.Resolver,
	logger *zap.Logger, m *metrics.Collectors,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := newOriginPolicy(cfg.Server.AllowedOrigins, logger.Named("origin"))

	return &Server{
		cfg:      cfg,
		registry: registry,
		resolver: resolver,
		hub:      NewHub(logger.Named("hub")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		logger:  logger,
		metrics: m,
	}
}

// Hub returns the hub tracking the server's live clients.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Shutdown closes every live connection and waits for its goroutines.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}

// MetricsHandler serves the Prometheus metrics of the server.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}
