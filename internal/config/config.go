// Package config loads server settings from defaults, an optional YAML
// file and STAGEHAND_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HendryAvila/stagehand/internal/completion"
	"github.com/HendryAvila/stagehand/internal/contextbuild"
	"github.com/HendryAvila/stagehand/internal/plan"
	"github.com/HendryAvila/stagehand/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. STAGEHAND_LOG_LEVEL.
const EnvPrefix = "STAGEHAND"

type TransportConfig struct {
	Type string `mapstructure:"type"` // "stdio" or "sse"
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// IdentityConfig controls how the acting user is resolved. Over SSE the
// header wins; UserID is the fallback for stdio sessions.
type IdentityConfig struct {
	UserID string `mapstructure:"user_id"`
	Header string `mapstructure:"header"`
}

type AgentConfig struct {
	RepairRetries   int                `mapstructure:"repair_retries"`
	DraftTTL        time.Duration      `mapstructure:"draft_ttl"`
	LedgerTTL       time.Duration      `mapstructure:"ledger_ttl"`
	DraftRetention  time.Duration      `mapstructure:"draft_retention"`
	SweepInterval   time.Duration      `mapstructure:"sweep_interval"`
	MaxContextChars int                `mapstructure:"max_context_chars"`
	Limits          plan.Limits        `mapstructure:"limits"`
	ContextQuota    contextbuild.Quota `mapstructure:"context_quota"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the endpoint
}

// Config is the full server configuration.
type Config struct {
	Transport  TransportConfig   `mapstructure:"transport"`
	LogLevel   string            `mapstructure:"log_level"`
	LogFormat  string            `mapstructure:"log_format"`
	DataDir    string            `mapstructure:"data_dir"`
	Identity   IdentityConfig    `mapstructure:"identity"`
	Completion completion.Config `mapstructure:"completion"`
	Agent      AgentConfig       `mapstructure:"agent"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Type: "stdio",
			Host: "localhost",
			Port: 8080,
		},
		LogLevel:  "info",
		LogFormat: "json",
		DataDir:   storage.DefaultConfig().DataDir,
		Identity: IdentityConfig{
			UserID: "local",
			Header: "X-Stagehand-User",
		},
		Completion: completion.Config{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   2048,
			Timeout:     30 * time.Second,
			Burst:       1,
		},
		Agent: AgentConfig{
			RepairRetries:   2,
			DraftTTL:        30 * time.Minute,
			LedgerTTL:       24 * time.Hour,
			DraftRetention:  7 * 24 * time.Hour,
			SweepInterval:   time.Minute,
			MaxContextChars: 24000,
			Limits:          plan.DefaultLimits(),
			ContextQuota:    contextbuild.DefaultQuota(),
		},
	}
}

// Load reads configuration. A non-empty path names the config file
// explicitly and must exist; otherwise stagehand.yaml is looked up in the
// working directory and ~/.stagehand, and a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stagehand")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("$HOME", ".stagehand"))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys the
// file does not mention.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("transport.type", cfg.Transport.Type)
	v.SetDefault("transport.host", cfg.Transport.Host)
	v.SetDefault("transport.port", cfg.Transport.Port)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("data_dir", cfg.DataDir)

	v.SetDefault("identity.user_id", cfg.Identity.UserID)
	v.SetDefault("identity.header", cfg.Identity.Header)

	v.SetDefault("completion.base_url", cfg.Completion.BaseURL)
	v.SetDefault("completion.api_key", cfg.Completion.APIKey)
	v.SetDefault("completion.model", cfg.Completion.Model)
	v.SetDefault("completion.temperature", cfg.Completion.Temperature)
	v.SetDefault("completion.max_tokens", cfg.Completion.MaxTokens)
	v.SetDefault("completion.timeout", cfg.Completion.Timeout)
	v.SetDefault("completion.rate_per_second", cfg.Completion.RatePerSecond)
	v.SetDefault("completion.burst", cfg.Completion.Burst)

	a := cfg.Agent
	v.SetDefault("agent.repair_retries", a.RepairRetries)
	v.SetDefault("agent.draft_ttl", a.DraftTTL)
	v.SetDefault("agent.ledger_ttl", a.LedgerTTL)
	v.SetDefault("agent.draft_retention", a.DraftRetention)
	v.SetDefault("agent.sweep_interval", a.SweepInterval)
	v.SetDefault("agent.max_context_chars", a.MaxContextChars)

	v.SetDefault("agent.limits.creates", a.Limits.Creates)
	v.SetDefault("agent.limits.updates", a.Limits.Updates)
	v.SetDefault("agent.limits.deletes", a.Limits.Deletes)
	v.SetDefault("agent.limits.status_toggles", a.Limits.StatusToggles)
	v.SetDefault("agent.limits.comments_add", a.Limits.CommentsAdd)
	v.SetDefault("agent.limits.comments_remove", a.Limits.CommentsRemove)
	v.SetDefault("agent.limits.risks", a.Limits.Risks)
	v.SetDefault("agent.limits.questions", a.Limits.Questions)

	v.SetDefault("agent.context_quota.projects", a.ContextQuota.Projects)
	v.SetDefault("agent.context_quota.events", a.ContextQuota.Events)
	v.SetDefault("agent.context_quota.tasks", a.ContextQuota.Tasks)
	v.SetDefault("agent.context_quota.notes", a.ContextQuota.Notes)
	v.SetDefault("agent.context_quota.notifications", a.ContextQuota.Notifications)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
}

func validate(cfg *Config) error {
	switch cfg.Transport.Type {
	case "stdio":
	case "sse":
		if cfg.Transport.Port <= 0 || cfg.Transport.Port > 65535 {
			return fmt.Errorf("the transport port must be between 1 and 65535")
		}
	default:
		return fmt.Errorf("invalid transport type: %s", cfg.Transport.Type)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	validLogFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validLogFormats[cfg.LogFormat] {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.DataDir == "" {
		return fmt.Errorf("the data directory cannot be empty")
	}
	if cfg.Transport.Type == "sse" && cfg.Identity.Header == "" {
		return fmt.Errorf("the identity header cannot be empty for the sse transport")
	}

	if cfg.Completion.Model == "" {
		return fmt.Errorf("the completion model cannot be empty")
	}
	if cfg.Completion.Timeout <= 0 {
		return fmt.Errorf("the completion timeout must be positive")
	}
	if cfg.Completion.RatePerSecond < 0 {
		return fmt.Errorf("the completion rate cannot be negative")
	}

	a := cfg.Agent
	if a.RepairRetries < 0 || a.RepairRetries > 5 {
		return fmt.Errorf("repair retries must be between 0 and 5")
	}
	if a.DraftTTL <= 0 {
		return fmt.Errorf("the draft TTL must be positive")
	}
	if a.LedgerTTL < a.DraftTTL {
		return fmt.Errorf("the ledger TTL must be at least the draft TTL")
	}
	if a.MaxContextChars < 0 {
		return fmt.Errorf("max context chars cannot be negative")
	}
	for name, n := range map[string]int{
		"creates": a.Limits.Creates, "updates": a.Limits.Updates, "deletes": a.Limits.Deletes,
		"status_toggles": a.Limits.StatusToggles, "comments_add": a.Limits.CommentsAdd,
		"comments_remove": a.Limits.CommentsRemove, "risks": a.Limits.Risks, "questions": a.Limits.Questions,
	} {
		if n < 0 {
			return fmt.Errorf("limit %s cannot be negative", name)
		}
	}
	if a.ContextQuota.Total() <= 0 {
		return fmt.Errorf("the context quota must allow at least one record")
	}
	return nil
}
