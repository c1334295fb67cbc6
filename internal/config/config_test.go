package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_AgentDefaults(t *testing.T) {
	cfg := Load()

	assert.True(t, cfg.Agent.AutoCompactEnabled)
	assert.Equal(t, 6000, cfg.Agent.CompactTriggerTokens)
	assert.Equal(t, 12000, cfg.Agent.CompactForceTokens)
	assert.Equal(t, 4000, cfg.Agent.CompactTargetTokens)
	assert.Equal(t, 3000, cfg.Agent.DocContextBudgetTokens)
	assert.Equal(t, 2000, cfg.Agent.ViewportExcerptMaxChars)
	assert.Equal(t, "memory", cfg.Agent.TaskRegistryBackend)
}

func TestLoad_AgentOverrides(t *testing.T) {
	t.Setenv("COMPACT_TRIGGER_TOKENS", "100")
	t.Setenv("AUTO_COMPACT_ENABLED", "false")
	t.Setenv("TASK_REGISTRY_BACKEND", "redis")
	t.Setenv("AGENT_TEMPERATURE", "0.7")

	cfg := Load()

	assert.Equal(t, 100, cfg.Agent.CompactTriggerTokens)
	assert.False(t, cfg.Agent.AutoCompactEnabled)
	assert.Equal(t, "redis", cfg.Agent.TaskRegistryBackend)
	assert.InDelta(t, 0.7, cfg.Agent.Temperature, 1e-9)
}

func TestGetEnvHelpers_FallbackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	t.Setenv("SOME_BOOL", "maybe")

	assert.Equal(t, 7, getEnvAsInt("SOME_INT", 7))
	assert.True(t, getEnvAsBool("SOME_BOOL", true))
	assert.Equal(t, "x", getEnv("UNSET_KEY_FOR_TEST", "x"))
}
