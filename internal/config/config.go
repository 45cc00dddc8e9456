// Package config handles YAML configuration parsing.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/oracle/coherence-sub061/internal/cache"
	"github.com/oracle/coherence-sub061/internal/collector"
)

// Config is the root configuration structure shared by the console, runner
// and agent binaries. Each binary reads the sections it needs.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
	Console ConsoleConfig `yaml:"console"`
	Runner  RunnerConfig  `yaml:"runner"`
	Agent   AgentConfig   `yaml:"agent"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// CacheConfig selects the cache service runners and agents connect to.
type CacheConfig struct {
	Backend  string `yaml:"backend"` // memory or redis
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// Options converts the section to cache options.
func (c CacheConfig) Options() cache.Options {
	return cache.Options{Backend: c.Backend, Addr: c.Addr, Password: c.Password, DB: c.DB}
}

// ConsoleConfig controls the operator console.
type ConsoleConfig struct {
	Listen       string                `yaml:"listen"`
	SamplePeriod time.Duration         `yaml:"samplePeriod"`
	JobTimeout   time.Duration         `yaml:"jobTimeout"` // 0 waits forever
	Quiet        bool                  `yaml:"quiet"`
	Thresholds   *collector.Thresholds `yaml:"thresholds,omitempty"`
}

// RunnerConfig controls a runner process.
type RunnerConfig struct {
	Console     string        `yaml:"console"` // ws:// address of the console channel endpoint
	Name        string        `yaml:"name"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// AgentConfig controls an agent process.
type AgentConfig struct {
	Listen       string        `yaml:"listen"`
	Advertise    string        `yaml:"advertise"` // address the console reaches the agent on
	Command      string        `yaml:"command"` // runner command line, console address appended
	LogDir       string        `yaml:"logDir"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Cache:   CacheConfig{Backend: "memory"}, // single process only; agents in other processes need redis
		Console: ConsoleConfig{
			Listen:       ":7574",
			SamplePeriod: 10 * time.Second,
		},
		Runner: RunnerConfig{
			Console:     "ws://localhost:7574/channel",
			DialTimeout: 10 * time.Second,
		},
		Agent: AgentConfig{
			Listen:       ":7575",
			Command:      "runner",
			LogDir:       os.TempDir(),
			PollInterval: 50 * time.Millisecond,
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load returns the defaults when path is empty and LoadConfig otherwise.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadConfig(path)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return errors.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "", "memory":
	case "redis":
		if c.Cache.Addr == "" {
			return errors.New("cache.addr is required for the redis backend")
		}
	default:
		return errors.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Console.SamplePeriod <= 0 {
		return errors.New("console.samplePeriod must be positive")
	}
	if c.Console.JobTimeout < 0 {
		return errors.New("console.jobTimeout must not be negative")
	}
	if c.Runner.Console == "" {
		return errors.New("runner.console is required")
	}
	if strings.TrimSpace(c.Agent.Command) == "" {
		return errors.New("agent.command is required")
	}
	if c.Agent.PollInterval <= 0 {
		return errors.New("agent.pollInterval must be positive")
	}
	return nil
}
