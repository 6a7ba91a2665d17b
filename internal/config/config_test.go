package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tpolls/tpolls-api/internal/reconcile"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_URL", "postgres://localhost:5432/polls")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("CHAIN_RPC_URLS", "http://localhost:50002, http://localhost:40002,")
	t.Setenv("OPENAI_API_KEY", "test-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"http://localhost:50002", "http://localhost:40002"}, cfg.ChainRPCURLs,
		"comma list is split and trimmed, empty entries dropped")
	assert.Equal(t, reconcile.DefaultMaxRegistrationAttempts, cfg.RegistrationAttempts,
		"retry budget default matches the reconciler's")
	assert.Equal(t, time.Minute, cfg.RegistrationBaseDelay)
	assert.Equal(t, time.Hour, cfg.RegistrationMaxDelay)
	assert.Equal(t, 2.0, cfg.RegistrationMultiplier)
	assert.Equal(t, 3, cfg.RequiredConfirmations)
	assert.Equal(t, 10*time.Minute, cfg.FullCycleInterval)
	assert.Equal(t, 2*time.Minute, cfg.VoteSweepInterval)
	assert.Equal(t, "sweep-requests", cfg.SweepTopic)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POSTGRES_URL", "")

	_, err := Load()
	assert.ErrorContains(t, err, "POSTGRES_URL")
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REGISTRATION_MAX_ATTEMPTS", "7")
	t.Setenv("REGISTRATION_BASE_DELAY", "30s")
	t.Setenv("WS_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.RegistrationAttempts)
	assert.Equal(t, 30*time.Second, cfg.RegistrationBaseDelay)
	assert.True(t, cfg.WSEnabled)
	assert.Equal(t, "http://localhost:50002", cfg.WSURL, "ws url falls back to the first rpc endpoint")
}
