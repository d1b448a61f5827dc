package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go-simpler.org/env"
)

// DefaultPort is the port the relay has always listened on.
const DefaultPort = 12345

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Host      string `env:"HOST"`
	Port      int    `env:"PORT" default:"12345"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	SendBuffer      int           `env:"RELAY_SEND_BUFFER" default:"256"`
	WriteTimeout    time.Duration `env:"RELAY_WRITE_TIMEOUT" default:"10s"`
	PongWait        time.Duration `env:"RELAY_PONG_WAIT" default:"60s"`
	PingInterval    time.Duration `env:"RELAY_PING_INTERVAL" default:"54s"`
	MaxMessageBytes int64         `env:"RELAY_MAX_MESSAGE_BYTES" default:"65536"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	ConnectionRatePerSecond float64 `env:"CONNECTION_RATE_PER_SECOND" default:"20"`
	ConnectionRateBurst     int     `env:"CONNECTION_RATE_BURST" default:"50"`
	AllowedOrigins          string  `env:"ALLOWED_ORIGINS"`
}

// Load reads the configuration from the environment (and an optional .env
// file), then applies command-line overrides from args.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := applyFlags(&cfg, args); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Addr returns the host:port the listener binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Origins returns the parsed ALLOWED_ORIGINS list. An empty list means any
// origin is accepted.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func applyFlags(cfg *Config, args []string) error {
	flagSet := pflag.NewFlagSet("monitor-relay", pflag.ContinueOnError)
	flagSet.IntVar(&cfg.Port, "port", cfg.Port, "port to listen on (env PORT)")
	flagSet.StringVar(&cfg.Host, "host", cfg.Host, "host to bind (env HOST)")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (env LOG_LEVEL)")
	flagSet.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json (env LOG_FORMAT)")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", cfg.Port)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if cfg.SendBuffer < 1 {
		return errors.New("RELAY_SEND_BUFFER must be at least 1")
	}
	if cfg.WriteTimeout <= 0 {
		return errors.New("RELAY_WRITE_TIMEOUT must be positive")
	}
	if cfg.PongWait <= 0 {
		return errors.New("RELAY_PONG_WAIT must be positive")
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		return fmt.Errorf("RELAY_PING_INTERVAL must be positive and shorter than RELAY_PONG_WAIT (%s)", cfg.PongWait)
	}
	if cfg.MaxMessageBytes < 1 {
		return errors.New("RELAY_MAX_MESSAGE_BYTES must be at least 1")
	}
	if cfg.MaxWebSocketConnections < 1 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS must be at least 1")
	}
	if cfg.ConnectionRatePerSecond <= 0 {
		return errors.New("CONNECTION_RATE_PER_SECOND must be positive")
	}
	if cfg.ConnectionRateBurst < 1 {
		return errors.New("CONNECTION_RATE_BURST must be at least 1")
	}

	return nil
}
