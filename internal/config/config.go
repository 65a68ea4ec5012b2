// Package config loads orchestrator configuration from a JSON file with
// ${VAR} environment expansion and environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/secondsky/mcp-orchestrator/internal/registry"
	"github.com/secondsky/mcp-orchestrator/internal/sandbox"
)

// Environment variables that override file settings.
const (
	EnvRegistryPath   = "MCPORCH_REGISTRY"
	EnvAuditDB        = "MCPORCH_AUDIT_DB"
	EnvMaxSensitivity = "MCPORCH_MAX_SENSITIVITY"
)

// Duration is a time.Duration that unmarshals from JSON strings like "30s".
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// SandboxConfig is the file representation of sandbox settings.
type SandboxConfig struct {
	Enabled         bool     `json:"enabled"`
	Interpreter     string   `json:"interpreter,omitempty"`
	InterpreterArgs []string `json:"interpreter_args,omitempty"`
	Timeout         Duration `json:"timeout,omitempty"`
	MaxOutputBytes  int      `json:"max_output_bytes,omitempty"`
	EnvAllowlist    []string `json:"env_allowlist,omitempty"`
}

// Config is the orchestrator configuration.
type Config struct {
	RegistryPath   string        `json:"registry"`
	AuditDB        string        `json:"audit_db,omitempty"`
	MaxSensitivity string        `json:"max_sensitivity,omitempty"`
	CallTimeout    Duration      `json:"call_timeout,omitempty"`
	ToolCacheTTL   Duration      `json:"tool_cache_ttl,omitempty"`
	Sandbox        SandboxConfig `json:"sandbox,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	settings := sandbox.DefaultSettings()

	return Config{
		RegistryPath:   "registry.json",
		MaxSensitivity: string(registry.SensitivityMedium),
		CallTimeout:    Duration(30 * time.Second),
		ToolCacheTTL:   Duration(5 * time.Minute),
		Sandbox: SandboxConfig{
			Enabled:        settings.Enabled,
			Interpreter:    settings.Interpreter,
			Timeout:        Duration(settings.Timeout),
			MaxOutputBytes: settings.MaxOutputBytes,
		},
	}
}

// Load reads a JSON config file, expands ${VAR} references against the
// environment, and applies environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}

	expanded := expandEnv(string(raw))

	if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	ApplyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnvOverrides replaces file settings with environment values when set.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvRegistryPath); v != "" {
		cfg.RegistryPath = v
	}

	if v := os.Getenv(EnvAuditDB); v != "" {
		cfg.AuditDB = v
	}

	if v := os.Getenv(EnvMaxSensitivity); v != "" {
		cfg.MaxSensitivity = v
	}
}

// SandboxSettings converts the file representation to runtime settings.
// Zero fields fall back to defaults.
func (c Config) SandboxSettings() sandbox.Settings {
	settings := sandbox.DefaultSettings()
	settings.Enabled = c.Sandbox.Enabled

	if c.Sandbox.Interpreter != "" {
		settings.Interpreter = c.Sandbox.Interpreter
	}

	if len(c.Sandbox.InterpreterArgs) > 0 {
		settings.InterpreterArgs = c.Sandbox.InterpreterArgs
	}

	if c.Sandbox.Timeout > 0 {
		settings.Timeout = time.Duration(c.Sandbox.Timeout)
	}

	if c.Sandbox.MaxOutputBytes > 0 {
		settings.MaxOutputBytes = c.Sandbox.MaxOutputBytes
	}

	if len(c.Sandbox.EnvAllowlist) > 0 {
		settings.EnvAllowlist = c.Sandbox.EnvAllowlist
	}

	return settings
}

func (c Config) validate() error {
	if c.RegistryPath == "" {
		return fmt.Errorf("registry path must not be empty")
	}

	switch registry.Sensitivity(c.MaxSensitivity) {
	case registry.SensitivityLow, registry.SensitivityMedium, registry.SensitivityHigh:
	default:
		return fmt.Errorf("invalid max_sensitivity %q", c.MaxSensitivity)
	}

	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative")
	}

	if c.ToolCacheTTL < 0 {
		return fmt.Errorf("tool_cache_ttl must not be negative")
	}

	return nil
}

var envRefPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnv replaces ${VAR} references with environment values. Unset
// variables expand to the empty string. Only the braced form is
// recognized, so JSON containing bare dollar signs is left alone.
func expandEnv(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]

		return os.Getenv(name)
	})
}
