package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "ms", cfg.Chain.TimestampUnit)
	assert.Equal(t, "promptpot", cfg.NATS.SubjectPrefix)
	assert.Equal(t, 10*time.Minute, cfg.Intent.TTL)
	assert.Equal(t, 10, cfg.RateLimit.RequestsPerWindow)
	assert.Nil(t, cfg.AgentOverride())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("AGENT_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("CHAIN_TIMESTAMP_UNIT", "s")
	t.Setenv("INTENT_TTL", "30s")
	t.Setenv("FRONTEND_URL", "https://promptpot.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "s", cfg.Chain.TimestampUnit)
	assert.Equal(t, 30*time.Second, cfg.Intent.TTL)
	require.NotNil(t, cfg.AgentOverride())
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000aa"), *cfg.AgentOverride())
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string][2]string{
		"bad agent":    {"AGENT_ADDRESS", "0x12"},
		"bad unit":     {"CHAIN_TIMESTAMP_UNIT", "ns"},
		"zero ttl":     {"INTENT_TTL", "0s"},
		"bad duration": {"RATE_LIMIT_WINDOW", "soon"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
