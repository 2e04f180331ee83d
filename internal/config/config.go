// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig holds settings for the autonomous run core.
type AgentConfig struct {
	// Enabled gates the whole agent feature. Start returns a config error
	// when false.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// DryRun skips real navigation in the act phase; counters and the
	// visited set still advance.
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`

	// -- Per-run budgets. The run halts when any counter reaches its bound. --
	MaxDepth         int `mapstructure:"max_depth" yaml:"max_depth"`
	MaxActions       int `mapstructure:"max_actions" yaml:"max_actions"`
	NavigationBudget int `mapstructure:"navigation_budget" yaml:"navigation_budget"`
	ClickBudget      int `mapstructure:"click_budget" yaml:"click_budget"`

	// AllowlistDomains restricts navigation targets. Empty means allow-all.
	AllowlistDomains []string `mapstructure:"allowlist_domains" yaml:"allowlist_domains"`

	// PerStepTimeout and Retries are handed to the browser-control
	// collaborator for individual actions.
	PerStepTimeout time.Duration `mapstructure:"per_step_timeout" yaml:"per_step_timeout"`
	Retries        int           `mapstructure:"retries" yaml:"retries"`

	// SettleDelay is the fixed pause after each observe phase, letting
	// asynchronous page content settle before the next plan.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`

	// RelevanceStopThreshold ends the run early once the observed page covers
	// this fraction of the goal terms. Empirically chosen; see runner docs.
	RelevanceStopThreshold float64 `mapstructure:"relevance_stop_threshold" yaml:"relevance_stop_threshold"`

	// NavigationsPerSecond rate-limits the act phase across a run.
	NavigationsPerSecond float64 `mapstructure:"navigations_per_second" yaml:"navigations_per_second"`

	LLM LLMConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMConfig configures the two inference backends of the resolution chain.
type LLMConfig struct {
	OnDevice OnDeviceConfig `mapstructure:"ondevice" yaml:"ondevice"`
	Remote   RemoteConfig   `mapstructure:"remote" yaml:"remote"`
}

// OnDeviceConfig points at the local inference server hosting the on-device
// generation pipeline.
type OnDeviceConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// Model is the preferred pipeline; DefaultModel is the fixed fallback
	// retried once when the preferred model fails to load.
	Model        string        `mapstructure:"model" yaml:"model"`
	DefaultModel string        `mapstructure:"default_model" yaml:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxTokens    int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// RemoteConfig configures the hosted-model fallback. The API key is bound
// from the environment, never from the config file.
type RemoteConfig struct {
	// ModelPattern is the prefix a model preference must carry for the remote
	// fallback to apply (e.g. "gemini-").
	ModelPattern string        `mapstructure:"model_pattern" yaml:"model_pattern"`
	Model        string        `mapstructure:"model" yaml:"model"`
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey       string        `mapstructure:"api_key" yaml:"-"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxTokens    int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// BrowserConfig holds settings for the chromedp-backed browser collaborator.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SnapshotTimeout   time.Duration `mapstructure:"snapshot_timeout" yaml:"snapshot_timeout"`
	MaxLinks          int           `mapstructure:"max_links" yaml:"max_links"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// DatabaseConfig holds the storage collaborator's connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ServerConfig tunes the HTTP request layer.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mindmesh")
	v.SetDefault("logger.log_file", "mindmesh.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.enabled", true)
	v.SetDefault("agent.dry_run", false)
	v.SetDefault("agent.max_depth", 3)
	v.SetDefault("agent.max_actions", 20)
	v.SetDefault("agent.navigation_budget", 10)
	v.SetDefault("agent.click_budget", 10)
	v.SetDefault("agent.allowlist_domains", []string{})
	v.SetDefault("agent.per_step_timeout", "20s")
	v.SetDefault("agent.retries", 1)
	v.SetDefault("agent.settle_delay", "750ms")
	v.SetDefault("agent.relevance_stop_threshold", 0.85)
	v.SetDefault("agent.navigations_per_second", 1.0)

	// -- Agent LLM --
	v.SetDefault("agent.llm.ondevice.endpoint", "http://127.0.0.1:11434")
	v.SetDefault("agent.llm.ondevice.model", "qwen2.5:3b")
	v.SetDefault("agent.llm.ondevice.default_model", "llama3.2:1b")
	v.SetDefault("agent.llm.ondevice.timeout", "45s")
	v.SetDefault("agent.llm.ondevice.max_tokens", 512)
	v.SetDefault("agent.llm.remote.model_pattern", "gemini-")
	v.SetDefault("agent.llm.remote.model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.remote.endpoint", "")
	v.SetDefault("agent.llm.remote.timeout", "30s")
	v.SetDefault("agent.llm.remote.max_tokens", 1024)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.snapshot_timeout", "15s")
	v.SetDefault("browser.max_links", 100)

	// -- Database --
	v.SetDefault("database.url", "")

	// -- Server --
	v.SetDefault("server.addr", ":8321")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a configuration from a viper
// instance that has already read file and environment sources.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("agent.llm.remote.api_key", "MINDMESH_AGENT_LLM_REMOTE_API_KEY")
	v.BindEnv("database.url", "MINDMESH_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Agent.LLM.Remote.APIKey == "" {
		cfg.Agent.LLM.Remote.APIKey = os.Getenv("MINDMESH_AGENT_LLM_REMOTE_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the agent settings.
func (a *AgentConfig) Validate() error {
	if a.MaxDepth <= 0 || a.MaxActions <= 0 {
		return fmt.Errorf("max_depth and max_actions must be positive integers")
	}
	if a.NavigationBudget <= 0 || a.ClickBudget <= 0 {
		return fmt.Errorf("navigation_budget and click_budget must be positive integers")
	}
	if a.RelevanceStopThreshold <= 0 || a.RelevanceStopThreshold > 1.0 {
		return fmt.Errorf("relevance_stop_threshold must be in (0.0, 1.0]")
	}
	if a.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative")
	}
	return nil
}
