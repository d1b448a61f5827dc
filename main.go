// main.go
// Wires the relay together: configuration, logging, metrics, the relay
// actor and the HTTP server that upgrades /monitor and /management to
// WebSocket. The port defaults to 12345 and can be changed with PORT or --port.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"

	"monitor-relay/internal/config"
	"monitor-relay/internal/logging"
	"monitor-relay/internal/metrics"
	"monitor-relay/internal/relay"
	"monitor-relay/internal/server"
	"monitor-relay/internal/version"
)

func setupConfig() *config.Config {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func connOptions(cfg *config.Config) relay.ConnOptions {
	return relay.ConnOptions{
		SendBuffer:      cfg.SendBuffer,
		WriteTimeout:    cfg.WriteTimeout,
		PongWait:        cfg.PongWait,
		PingInterval:    cfg.PingInterval,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}
}

func runGracefulShutdown(srv *server.Server, stopRelay context.CancelFunc, relayDone <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Upgraded connections are not tracked by the HTTP server; the relay
		// closes them.
		stopRelay()
		<-relayDone

		close(done)
	}()

	return done
}

func main() {
	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Relay starting", "env", cfg.AppEnv, "addr", cfg.Addr(), "version", version.Get().Version)

	clock := clockwork.NewRealClock()
	reg := metrics.NewRegistry()
	relayMetrics := metrics.NewRelayMetrics(reg)

	registry := relay.NewRegistry()
	rl := relay.New(registry, relay.NewDispatcher(relayMetrics), relayMetrics)

	ctx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		rl.Run(ctx)
		close(relayDone)
	}()

	handler := relay.NewHandler(rl, clock, connOptions(cfg), cfg.Origins())
	srv := server.NewServer(cfg, handler, registry, reg, relayMetrics, clock)

	if err := srv.Listen(); err != nil {
		slog.Error("Failed to bind listener", "addr", cfg.Addr(), "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(srv, stopRelay, relayDone)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
