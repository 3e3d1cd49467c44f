// Package config loads runtime configuration from a YAML file with
// environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	LLM    LLMConfig    `yaml:"llm"`
	Agents AgentsConfig `yaml:"agents"`
	Traces TracesConfig `yaml:"traces"`
	Events EventsConfig `yaml:"events"`
}

// LLMConfig configures the completion backend.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	GateWidth int64  `yaml:"gate_width"`
}

// AgentsConfig configures the capability agents.
type AgentsConfig struct {
	SourceControl SourceControlConfig `yaml:"source_control"`
	CloudInfra    CloudInfraConfig    `yaml:"cloud_infra"`
	IssueTracker  IssueTrackerConfig  `yaml:"issue_tracker"`
	CIRunner      CIRunnerConfig      `yaml:"ci_runner"`
	Directory     DirectoryConfig     `yaml:"directory"`
}

type SourceControlConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type CloudInfraConfig struct {
	Region string `yaml:"region"`
}

type IssueTrackerConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Username string        `yaml:"username"`
	APIToken string        `yaml:"api_token"`
	Timeout  time.Duration `yaml:"timeout"`
}

type CIRunnerConfig struct {
	BaseURL        string        `yaml:"base_url"`
	JobPath        string        `yaml:"job_path"`
	Username       string        `yaml:"username"`
	APIToken       string        `yaml:"api_token"`
	DefaultCCEmail string        `yaml:"default_cc_email"`
	Timeout        time.Duration `yaml:"timeout"`
}

type DirectoryConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// TracesConfig configures trace persistence.
type TracesConfig struct {
	Dir string `yaml:"dir"`
}

// EventsConfig configures the in-process event bus.
type EventsConfig struct {
	BufferSize  int `yaml:"buffer_size"`
	WorkerCount int `yaml:"worker_count"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:  "googleai",
			Model:     "gemini-1.5-flash",
			GateWidth: 1,
		},
		Traces: TracesConfig{Dir: "traces"},
		Events: EventsConfig{BufferSize: 100, WorkerCount: 2},
	}
}

// Load reads the YAML file at path, layering it over Default. Secrets are
// then overridden from the environment so tokens never have to live in the
// file: SOURCE_CONTROL_TOKEN, ISSUE_TRACKER_API_TOKEN, CI_RUNNER_API_TOKEN,
// DIRECTORY_TOKEN.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.LLM.GateWidth < 1 {
		cfg.LLM.GateWidth = 1
	}
	if cfg.Traces.Dir == "" {
		cfg.Traces.Dir = "traces"
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SOURCE_CONTROL_TOKEN"); v != "" {
		cfg.Agents.SourceControl.Token = v
	}
	if v := os.Getenv("ISSUE_TRACKER_API_TOKEN"); v != "" {
		cfg.Agents.IssueTracker.APIToken = v
	}
	if v := os.Getenv("CI_RUNNER_API_TOKEN"); v != "" {
		cfg.Agents.CIRunner.APIToken = v
	}
	if v := os.Getenv("DIRECTORY_TOKEN"); v != "" {
		cfg.Agents.Directory.Token = v
	}
}
