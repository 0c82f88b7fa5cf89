// Package config provides application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	FrontendURL string `env:"FRONTEND_URL"`
	DBPath      string `env:"DB_PATH" envDefault:"./data/promptpot.db"`

	Chain     ChainConfig
	NATS      NATSConfig
	Intent    IntentConfig
	Wallet    WalletConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig

	MaxMessageBytes int    `env:"MAX_MESSAGE_BYTES" envDefault:"4096"`
	GRPCHealthAddr  string `env:"GRPC_HEALTH_ADDR"`
}

// ChainConfig describes the game contract and how snapshots are read.
type ChainConfig struct {
	// AgentAddress overrides the agent address when snapshots omit it.
	AgentAddress  string        `env:"AGENT_ADDRESS"`
	GameContract  string        `env:"GAME_CONTRACT_ADDRESS"`
	TimestampUnit string        `env:"CHAIN_TIMESTAMP_UNIT" envDefault:"ms"`
	StaleAfter    time.Duration `env:"SNAPSHOT_STALE_AFTER" envDefault:"2m"`
	IngestToken   string        `env:"INGEST_TOKEN"`
}

// NATSConfig enables the NATS bus to the Chain Reader when URL is set.
type NATSConfig struct {
	URL           string `env:"NATS_URL"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"promptpot"`
}

// IntentConfig controls the send-message outbox.
type IntentConfig struct {
	TTL           time.Duration `env:"INTENT_TTL" envDefault:"10m"`
	SweepInterval time.Duration `env:"INTENT_SWEEP_INTERVAL" envDefault:"1m"`
}

// WalletConfig controls the sign-in challenge.
type WalletConfig struct {
	ChallengeTTL time.Duration `env:"WALLET_CHALLENGE_TTL" envDefault:"5m"`
	Domain       string        `env:"WALLET_SIGNIN_DOMAIN" envDefault:"promptpot"`
}

// RateLimitConfig bounds sends per user.
type RateLimitConfig struct {
	RequestsPerWindow int           `env:"RATE_LIMIT_REQUESTS" envDefault:"10"`
	WindowDuration    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// TelemetryConfig enables OTLP tracing when Endpoint is set.
type TelemetryConfig struct {
	Enabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
	Endpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Chain.AgentAddress != "" && !common.IsHexAddress(c.Chain.AgentAddress) {
		return fmt.Errorf("AGENT_ADDRESS is not a hex address: %q", c.Chain.AgentAddress)
	}
	if c.Chain.GameContract != "" && !common.IsHexAddress(c.Chain.GameContract) {
		return fmt.Errorf("GAME_CONTRACT_ADDRESS is not a hex address: %q", c.Chain.GameContract)
	}
	switch c.Chain.TimestampUnit {
	case "ms", "s":
	default:
		return fmt.Errorf("CHAIN_TIMESTAMP_UNIT must be ms or s, got %q", c.Chain.TimestampUnit)
	}
	if c.NATS.URL != "" && strings.TrimSpace(c.NATS.SubjectPrefix) == "" {
		return fmt.Errorf("NATS_SUBJECT_PREFIX cannot be empty when NATS_URL is set")
	}
	if c.Intent.TTL <= 0 {
		return fmt.Errorf("INTENT_TTL must be > 0")
	}
	if c.Intent.SweepInterval <= 0 {
		return fmt.Errorf("INTENT_SWEEP_INTERVAL must be > 0")
	}
	if c.Wallet.ChallengeTTL <= 0 {
		return fmt.Errorf("WALLET_CHALLENGE_TTL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins. Development allows any origin.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

// AgentOverride returns the configured agent address, if any.
func (c *Config) AgentOverride() *common.Address {
	if c.Chain.AgentAddress == "" {
		return nil
	}
	addr := common.HexToAddress(c.Chain.AgentAddress)
	return &addr
}
