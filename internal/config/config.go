package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tpolls/tpolls-api/internal/reconcile"
)

// Config holds all configuration for the poll service.
type Config struct {
	// Chain RPC
	ChainRPCURLs []string
	RPCRPS       int
	RPCBurst     int

	// PostgreSQL
	PostgresURL string

	// Redis
	RedisURL      string
	SweepTopic    string
	ConsumerGroup string

	// Reconciliation
	FullCycleInterval      time.Duration
	VoteSweepInterval      time.Duration
	SweepTimeout           time.Duration
	RegistrationAttempts   int
	RegistrationBaseDelay  time.Duration
	RegistrationMaxDelay   time.Duration
	RegistrationMultiplier float64
	RequiredConfirmations  int

	// Generator (LLM)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// WebSocket (chain head notification mode)
	WSEnabled        bool
	WSURL            string
	WSMaxRetries     int
	WSReconnectDelay time.Duration

	// Logging
	LogLevel string

	// HTTP API
	HTTPAddr   string
	AdminToken string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Defaults
		RPCRPS:                 100,
		RPCBurst:               200,
		SweepTopic:             "sweep-requests",
		ConsumerGroup:          "poll-sync-workers",
		FullCycleInterval:      10 * time.Minute,
		VoteSweepInterval:      2 * time.Minute,
		SweepTimeout:           5 * time.Minute,
		RegistrationAttempts:   reconcile.DefaultMaxRegistrationAttempts,
		RegistrationBaseDelay:  time.Minute,
		RegistrationMaxDelay:   time.Hour,
		RegistrationMultiplier: 2.0,
		RequiredConfirmations:  3,
		OpenAIBaseURL:          "https://api.openai.com",
		OpenAIModel:            "gpt-4o-mini",
		WSEnabled:              false,
		WSMaxRetries:           25,
		WSReconnectDelay:       time.Second,
		LogLevel:               "info",
		HTTPAddr:               ":8080",
	}

	// Required
	cfg.PostgresURL = os.Getenv("POSTGRES_URL")
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("POSTGRES_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	if v := os.Getenv("CHAIN_RPC_URLS"); v != "" {
		cfg.ChainRPCURLs = splitAndTrim(v)
	}
	if len(cfg.ChainRPCURLs) == 0 {
		return nil, fmt.Errorf("CHAIN_RPC_URLS is required")
	}

	// Optional overrides
	if v := os.Getenv("RPC_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPCRPS = n
		}
	}

	if v := os.Getenv("RPC_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPCBurst = n
		}
	}

	if v := os.Getenv("SWEEP_TOPIC"); v != "" {
		cfg.SweepTopic = v
	}

	if v := os.Getenv("CONSUMER_GROUP"); v != "" {
		cfg.ConsumerGroup = v
	}

	if v := os.Getenv("FULL_CYCLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FullCycleInterval = d
		}
	}

	if v := os.Getenv("VOTE_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.VoteSweepInterval = d
		}
	}

	if v := os.Getenv("SWEEP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SweepTimeout = d
		}
	}

	if v := os.Getenv("REGISTRATION_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RegistrationAttempts = n
		}
	}

	if v := os.Getenv("REGISTRATION_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RegistrationBaseDelay = d
		}
	}

	if v := os.Getenv("REGISTRATION_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RegistrationMaxDelay = d
		}
	}

	if v := os.Getenv("REGISTRATION_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 1 {
			cfg.RegistrationMultiplier = f
		}
	}

	if v := os.Getenv("REQUIRED_CONFIRMATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequiredConfirmations = n
		}
	}

	// Generator
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}

	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}

	// WebSocket head listener
	if v := os.Getenv("WS_ENABLED"); v != "" {
		cfg.WSEnabled = v == "true" || v == "1"
	}

	cfg.WSURL = os.Getenv("WS_URL")
	if cfg.WSURL == "" && cfg.WSEnabled {
		// Derive from the first RPC endpoint when not set explicitly.
		cfg.WSURL = cfg.ChainRPCURLs[0]
	}

	if v := os.Getenv("WS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WSMaxRetries = n
		}
	}

	if v := os.Getenv("WS_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WSReconnectDelay = d
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// HTTP API
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if cfg.AdminToken == "" {
		cfg.AdminToken = "devtoken" // Default token for development
	}

	return cfg, nil
}

// splitAndTrim splits a comma separated list, dropping empty entries.
func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
