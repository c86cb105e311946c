package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the environment-driven configuration for the gateway
// process (spec §6 "Environment").
type Config struct {
	// Service
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"mcp-gateway"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"MCP_HTTP_PORT" envDefault:"8090"`
	LogLevel        string        `env:"MCP_LOG_LEVEL" envDefault:"info"`
	EnableTracing   bool          `env:"ENABLE_TRACING" envDefault:"false"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Facade channel (spec §6 "Environment")
	GRPCHost           string        `env:"MCP_GRPC_HOST" envDefault:"0.0.0.0"`
	GRPCPort           int           `env:"MCP_GRPC_PORT" envDefault:"9090"`
	GRPCTimeout        time.Duration `env:"MCP_GRPC_TIMEOUT_SECONDS" envDefault:"120s"`
	SSEHandshakeTimeout   time.Duration `env:"MCP_SSE_HANDSHAKE_TIMEOUT_SECONDS" envDefault:"15s"`
	StdioStartupTimeout   time.Duration `env:"MCP_STDIO_STARTUP_TIMEOUT_SECONDS" envDefault:"30s"`

	// Persistence (spec §6 "Persistence") — engine-agnostic: postgres, mysql, sqlite
	DBDriver string `env:"MCP_DB_DRIVER" envDefault:"postgres"`
	DBDSN    string `env:"MCP_DB_DSN,notEmpty"`

	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	DBConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	if cfg.GRPCTimeout <= 0 {
		cfg.GRPCTimeout = 120 * time.Second
	}
	if cfg.SSEHandshakeTimeout <= 0 {
		cfg.SSEHandshakeTimeout = 15 * time.Second
	}
	if cfg.StdioStartupTimeout <= 0 {
		cfg.StdioStartupTimeout = 30 * time.Second
	}

	return cfg, nil
}

// Addr returns the HTTP listen address for the admin surface.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GRPCAddr returns the facade channel's listen address.
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.GRPCHost, c.GRPCPort)
}
