package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// HookFailurePolicy decides what a failing post-write hook does to the tool.
type HookFailurePolicy string

const (
	HookBlock HookFailurePolicy = "block"
	HookWarn  HookFailurePolicy = "warn"
)

// Hook is one configured post-write command.
type Hook struct {
	Name      string            `mapstructure:"name" yaml:"name"`
	Glob      string            `mapstructure:"glob" yaml:"glob"`
	Command   string            `mapstructure:"command" yaml:"command"`
	OnFailure HookFailurePolicy `mapstructure:"on_failure" yaml:"on_failure"`
}

// ShellConfig bounds the shell tool.
type ShellConfig struct {
	DefaultTimeout  time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxTimeout      time.Duration `mapstructure:"max_timeout" yaml:"max_timeout"`
	OutputLimit     int           `mapstructure:"output_limit" yaml:"output_limit"`
	FullOutputLimit int           `mapstructure:"full_output_limit" yaml:"full_output_limit"`
}

// GitConfig controls worktree and branch naming.
type GitConfig struct {
	BranchPrefix string `mapstructure:"branch_prefix" yaml:"branch_prefix"`
	WorktreeRoot string `mapstructure:"worktree_root" yaml:"worktree_root"`
}

// PulseConfig bounds the pulse sub-scheduler.
type PulseConfig struct {
	MaxRejections int           `mapstructure:"max_rejections" yaml:"max_rejections"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// StoreConfig selects persistence.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver      string `mapstructure:"driver" yaml:"driver"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// LLMConfig points the daemon at an OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	Model   string `mapstructure:"model" yaml:"model"`
	// ScenarioModels overrides the model per scenario, e.g. "review": "o3".
	ScenarioModels map[string]string `mapstructure:"scenario_models" yaml:"scenario_models"`
}

// ServerConfig configures the delivery surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Config is the full orchestrator configuration.
type Config struct {
	LogLevel    string       `mapstructure:"log_level" yaml:"log_level"`
	ProjectRoot string       `mapstructure:"project_root" yaml:"project_root"`
	Git         GitConfig    `mapstructure:"git" yaml:"git"`
	Shell       ShellConfig  `mapstructure:"shell" yaml:"shell"`
	Pulse       PulseConfig  `mapstructure:"pulse" yaml:"pulse"`
	Hooks       []Hook       `mapstructure:"hooks" yaml:"hooks"`
	Store       StoreConfig  `mapstructure:"store" yaml:"store"`
	Server      ServerConfig `mapstructure:"server" yaml:"server"`
	LLM         LLMConfig    `mapstructure:"llm" yaml:"llm"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Git: GitConfig{
			BranchPrefix: "autarch/",
			WorktreeRoot: ".autarch/worktrees",
		},
		Shell: ShellConfig{
			DefaultTimeout:  60 * time.Second,
			MaxTimeout:      300 * time.Second,
			OutputLimit:     4 * 1024,
			FullOutputLimit: 64 * 1024,
		},
		Pulse: PulseConfig{
			MaxRejections: 3,
			RetryDelay:    500 * time.Millisecond,
		},
		Store:  StoreConfig{Driver: "memory"},
		Server: ServerConfig{Addr: ":8420"},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4.1",
		},
	}
}

// WriteDefault writes the built-in configuration to path as YAML. Refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from the optional file path plus AUTARCH_*
// environment variables, layered over Defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Defaults()
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("git.branch_prefix", defaults.Git.BranchPrefix)
	v.SetDefault("git.worktree_root", defaults.Git.WorktreeRoot)
	v.SetDefault("shell.default_timeout", defaults.Shell.DefaultTimeout)
	v.SetDefault("shell.max_timeout", defaults.Shell.MaxTimeout)
	v.SetDefault("shell.output_limit", defaults.Shell.OutputLimit)
	v.SetDefault("shell.full_output_limit", defaults.Shell.FullOutputLimit)
	v.SetDefault("pulse.max_rejections", defaults.Pulse.MaxRejections)
	v.SetDefault("pulse.retry_delay", defaults.Pulse.RetryDelay)
	v.SetDefault("store.driver", defaults.Store.Driver)
	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	v.SetDefault("llm.model", defaults.LLM.Model)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Shell.DefaultTimeout <= 0 || c.Shell.MaxTimeout < c.Shell.DefaultTimeout {
		return fmt.Errorf("shell timeouts invalid: default=%s max=%s", c.Shell.DefaultTimeout, c.Shell.MaxTimeout)
	}
	if c.Git.BranchPrefix == "" {
		return fmt.Errorf("git.branch_prefix must not be empty")
	}
	for i, hook := range c.Hooks {
		if hook.Glob == "" || hook.Command == "" {
			return fmt.Errorf("hook %d: glob and command are required", i)
		}
		switch hook.OnFailure {
		case HookBlock, HookWarn, "":
		default:
			return fmt.Errorf("hook %d: unknown on_failure %q", i, hook.OnFailure)
		}
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}
