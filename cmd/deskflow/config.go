package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/deskflow/internal/engine"
	"github.com/rendis/deskflow/internal/provider"
	"github.com/rendis/deskflow/internal/scheduler"
)

// Config holds all deskflow configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath            string   `json:"db_path"`
	LogLevel          string   `json:"log_level"`
	MaxSteps          int      `json:"max_steps"`
	ProviderCommand   string   `json:"provider_command,omitempty"`
	ProviderArgs      []string `json:"provider_args,omitempty"`
	ProviderTool      string   `json:"provider_tool"`
	ProviderTimeout   Duration `json:"provider_timeout"`
	VerifyPolicy      string   `json:"verify_policy,omitempty"`
	SchedulerInterval Duration `json:"scheduler_interval"`
	StripCodeFence    bool     `json:"strip_code_fence,omitempty"`
}

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func defaultConfig() Config {
	return Config{
		DBPath:            filepath.Join(deskflowDir(), "deskflow.db"),
		LogLevel:          "info",
		MaxSteps:          engine.DefaultMaxSteps,
		ProviderTool:      provider.DefaultTool,
		ProviderTimeout:   Duration(provider.DefaultCallTimeout),
		SchedulerInterval: Duration(scheduler.DefaultInterval),
	}
}

func deskflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deskflow"
	}
	return filepath.Join(home, ".deskflow")
}

func settingsPath() string {
	return filepath.Join(deskflowDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(deskflowDir(), "deskflow.pid")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("DESKFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DESKFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DESKFLOW_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSteps = n
		}
	}
	if v := os.Getenv("DESKFLOW_PROVIDER_COMMAND"); v != "" {
		cfg.ProviderCommand = v
	}
	if v := os.Getenv("DESKFLOW_PROVIDER_ARGS"); v != "" {
		cfg.ProviderArgs = strings.Fields(v)
	}
	if v := os.Getenv("DESKFLOW_PROVIDER_TOOL"); v != "" {
		cfg.ProviderTool = v
	}
	if v := os.Getenv("DESKFLOW_PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ProviderTimeout = Duration(d)
		}
	}
	if v := os.Getenv("DESKFLOW_VERIFY_POLICY"); v != "" {
		cfg.VerifyPolicy = v
	}
	if v := os.Getenv("DESKFLOW_SCHEDULER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SchedulerInterval = Duration(d)
		}
	}
	if v := os.Getenv("DESKFLOW_STRIP_CODE_FENCE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StripCodeFence = b
		}
	}

	return cfg
}

// mcpConfig returns the provider transport settings.
func (c Config) mcpConfig() provider.MCPConfig {
	return provider.MCPConfig{
		Command: c.ProviderCommand,
		Args:    c.ProviderArgs,
		Tool:    c.ProviderTool,
		Timeout: time.Duration(c.ProviderTimeout),
	}
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.MaxSteps != new.MaxSteps {
		d.RestartNeeded = append(d.RestartNeeded, "max_steps")
	}
	if old.ProviderCommand != new.ProviderCommand || strings.Join(old.ProviderArgs, " ") != strings.Join(new.ProviderArgs, " ") {
		d.RestartNeeded = append(d.RestartNeeded, "provider_command")
	}
	if old.ProviderTool != new.ProviderTool || old.ProviderTimeout != new.ProviderTimeout {
		d.RestartNeeded = append(d.RestartNeeded, "provider_tool")
	}
	if old.VerifyPolicy != new.VerifyPolicy {
		d.RestartNeeded = append(d.RestartNeeded, "verify_policy")
	}
	if old.StripCodeFence != new.StripCodeFence {
		d.RestartNeeded = append(d.RestartNeeded, "strip_code_fence")
	}
	if old.SchedulerInterval != new.SchedulerInterval {
		d.RestartNeeded = append(d.RestartNeeded, "scheduler_interval")
	}
	return d
}
