package server

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"monitor-relay/internal/metrics"
	"monitor-relay/internal/version"
)

func (s *Server) registerRoutes() {
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())

	s.echo.GET("/healthz", s.handleLiveness)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))

	s.echo.GET("/monitor", echo.WrapHandler(http.HandlerFunc(s.channels.ServeMonitor)), s.limitConnections)
	s.echo.GET("/management", echo.WrapHandler(http.HandlerFunc(s.channels.ServeManagement)), s.limitConnections)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.Debug("Request", attrs...)
			return nil
		},
	})
}

// limitConnections applies the per-IP connection rate, then holds a
// limiter slot for as long as the WebSocket handler runs, which is the
// lifetime of the connection.
func (s *Server) limitConnections(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := c.RealIP()
		if !s.rateLimiter.Allow(ip) {
			s.metrics.ConnectionsRejected.WithLabelValues("rate").Inc()
			slog.Warn("Rejecting connection: rate limited", "ip", ip, "path", c.Path())
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many connection attempts"})
		}

		if !s.limiter.Acquire() {
			s.metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
			slog.Warn("Rejecting connection: at capacity", "max", s.limiter.Max(), "path", c.Path())
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "too many connections"})
		}
		defer s.limiter.Release()
		return next(c)
	}
}

func (s *Server) handleLiveness(c echo.Context) error {
	monitors, management := s.connections.Counts()
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime":     s.clock.Since(s.startTime).Seconds(),
		"monitors":   monitors,
		"management": management,
		"version":    version.Get().Version,
	})
}
