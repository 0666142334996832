// Package config resolves the runtime home directory and loads the
// daemon configuration file with strict field checking.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// HomeEnv overrides the runtime home directory.
const HomeEnv = "AMON_HOME"

// Config is the daemon configuration, loaded from <home>/config.yaml.
// Absent fields keep their defaults; unknown fields are rejected.
type Config struct {
	TickIntervalSeconds int    `yaml:"tick_interval_seconds"`
	Workers             int    `yaml:"workers"`
	WorkspaceDir        string `yaml:"workspace_dir"`
	MetricsAddr         string `yaml:"metrics_addr"`

	// SandboxURL enables the sandbox.run tool when set.
	SandboxURL string `yaml:"sandbox_url"`

	Policy PolicyConfig `yaml:"policy"`
	LLM    LLMConfig    `yaml:"llm"`
}

// PolicyConfig holds the tool authorization tiers.
type PolicyConfig struct {
	Deny  []string `yaml:"deny"`
	Ask   []string `yaml:"ask"`
	Allow []string `yaml:"allow"`
}

// LLMConfig configures the model adapter. The API key comes from the
// environment, never from the file.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		TickIntervalSeconds: 5,
		Workers:             1,
		Policy: PolicyConfig{
			Allow: []string{"filesystem.*", "sandbox.*"},
		},
		LLM: LLMConfig{Provider: "anthropic"},
	}
}

// Home resolves the runtime home: $AMON_HOME, else ~/.amon.
func Home() (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		return home, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(userHome, ".amon"), nil
}

// Standard home subdirectories and files.
func HooksDir(home string) string { return filepath.Join(home, "hooks") }

func SchedulesPath(home string) string {
	return filepath.Join(home, "schedules", "schedules.json")
}

func JobsDir(home string) string { return filepath.Join(home, "jobs") }

func JobStateDir(home string) string { return filepath.Join(home, "jobs", "state") }

func LogsDir(home string) string { return filepath.Join(home, "logs") }

func EventsPath(home string) string { return filepath.Join(home, "logs", "amon.log") }

func AuditPath(home string) string { return filepath.Join(home, "logs", "tool_audit.jsonl") }

func HookStatePath(home string) string { return filepath.Join(home, "hooks", "state.json") }

func PendingActionsPath(home string) string {
	return filepath.Join(home, "hooks", "pending_actions.jsonl")
}

func ProjectsDir(home string) string { return filepath.Join(home, "projects") }

// Load reads <home>/config.yaml over the defaults. A missing file yields
// the defaults; unknown fields are an error.
func Load(home string) (*Config, error) {
	cfg := Default()
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = filepath.Join(home, "workspace")
	}

	data, err := os.ReadFile(filepath.Join(home, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.TickIntervalSeconds <= 0 {
		cfg.TickIntervalSeconds = Default().TickIntervalSeconds
	}
	if cfg.Workers <= 0 {
		cfg.Workers = Default().Workers
	}
	return cfg, nil
}
