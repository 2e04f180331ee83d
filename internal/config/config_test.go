// File: internal/config/config_test.go
package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.True(t, cfg.Agent.Enabled)
	assert.False(t, cfg.Agent.DryRun)
	assert.Equal(t, 3, cfg.Agent.MaxDepth)
	assert.Equal(t, 20, cfg.Agent.MaxActions)
	assert.Equal(t, 10, cfg.Agent.NavigationBudget)
	assert.Equal(t, 10, cfg.Agent.ClickBudget)
	assert.Equal(t, 0.85, cfg.Agent.RelevanceStopThreshold)
	assert.Equal(t, "gemini-", cfg.Agent.LLM.Remote.ModelPattern)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Agent.LLM.OnDevice.Endpoint)
	assert.Equal(t, ":8321", cfg.Server.Addr)

	assert.NoError(t, cfg.Validate())
}

func TestNewConfigFromViper(t *testing.T) {
	t.Run("env binds the remote credential", func(t *testing.T) {
		t.Setenv("MINDMESH_AGENT_LLM_REMOTE_API_KEY", "sekrit")

		v := viper.New()
		SetDefaults(v)
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "sekrit", cfg.Agent.LLM.Remote.APIKey)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("agent.max_depth", 0)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_depth")
	})
}

func TestAgentConfigValidate(t *testing.T) {
	valid := NewDefaultConfig().Agent
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*AgentConfig)
	}{
		{"zero max_actions", func(a *AgentConfig) { a.MaxActions = 0 }},
		{"zero click_budget", func(a *AgentConfig) { a.ClickBudget = 0 }},
		{"threshold above one", func(a *AgentConfig) { a.RelevanceStopThreshold = 1.5 }},
		{"zero threshold", func(a *AgentConfig) { a.RelevanceStopThreshold = 0 }},
		{"negative settle delay", func(a *AgentConfig) { a.SettleDelay = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := valid
			tc.mutate(&a)
			assert.Error(t, a.Validate())
		})
	}
}
