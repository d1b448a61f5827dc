package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"monitor-relay/internal/config"
	"monitor-relay/internal/metrics"
)

// channelHandler serves the two WebSocket endpoints.
type channelHandler interface {
	ServeMonitor(w http.ResponseWriter, r *http.Request)
	ServeManagement(w http.ResponseWriter, r *http.Request)
}

// connectionCounter reports how many clients are registered per channel.
type connectionCounter interface {
	Counts() (monitors, management int)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	channels    channelHandler
	connections connectionCounter
	registry    *prometheus.Registry
	metrics     *metrics.RelayMetrics
	limiter     *ConnectionLimiter
	rateLimiter *ConnectionRateLimiter

	clock     clockwork.Clock
	startTime time.Time
}

func NewServer(cfg *config.Config, channels channelHandler, connections connectionCounter, reg *prometheus.Registry, m *metrics.RelayMetrics, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:        e,
		config:      cfg,
		channels:    channels,
		connections: connections,
		registry:    reg,
		metrics:     m,
		limiter:     NewConnectionLimiter(int64(cfg.MaxWebSocketConnections)),
		rateLimiter: NewConnectionRateLimiter(cfg.ConnectionRatePerSecond, cfg.ConnectionRateBurst, clock),
		clock:       clock,
		startTime:   clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Listen binds the listening socket so that an unavailable port is
// reported before the server starts accepting.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	s.echo.Listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.echo.Listener == nil {
		return nil
	}
	return s.echo.Listener.Addr()
}

// Start serves until Shutdown. It binds the address itself when Listen was
// not called first.
func (s *Server) Start() error {
	slog.Info("Starting server", "addr", s.config.Addr())
	if err := s.echo.Start(s.config.Addr()); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
