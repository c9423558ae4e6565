package config

import (
	"fmt"
	"os"
	"time"

	"github.com/trproxy/trproxy/pkg/backend"
	"github.com/trproxy/trproxy/pkg/logging"
	"github.com/trproxy/trproxy/pkg/models"
	"github.com/trproxy/trproxy/pkg/preprocess"
	"github.com/trproxy/trproxy/pkg/sweep"
	"github.com/trproxy/trproxy/pkg/tier"
	"gopkg.in/yaml.v3"
)

// Backend types.
const (
	BackendHTTP = "http"
	BackendMock = "mock"
)

// Config holds all trproxy configuration.
type Config struct {
	Listen       string                     `yaml:"listen"`
	ProfilesPath string                     `yaml:"profiles_path"`
	ExemptCodes  []string                   `yaml:"exempt_codes"`
	Tiers        map[tier.Name]tier.Override `yaml:"tiers"`
	Sweep        SweepConfig                `yaml:"sweep"`
	Backend      BackendConfig              `yaml:"backend"`
	CallLog      models.CallLogConfig       `yaml:"call_log"`
	Auth         AuthConfig                 `yaml:"auth"`
	Log          logging.Config             `yaml:"log"`
	Rewrites     preprocess.RuleTable       `yaml:"rewrites"`
}

// SweepConfig controls the scheduled bulk eviction.
type SweepConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	// Timezone is an IANA zone name; empty means the process local zone.
	Timezone string `yaml:"timezone"`
}

// BackendConfig selects and configures the transaction backend.
// Type is "http" (default) or "mock".
type BackendConfig struct {
	Type               string `yaml:"type"`
	backend.HTTPConfig `yaml:",inline"`
}

// AuthConfig controls the API key filter. An empty token disables it.
type AuthConfig struct {
	Header string `yaml:"header"`
	Token  string `yaml:"token"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:       ":8080",
		ProfilesPath: "config/cache-config.json",
		ExemptCodes:  []string{"KBI50130"},
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: sweep.DefaultSchedule,
		},
		Backend: BackendConfig{
			Type: BackendHTTP,
			HTTPConfig: backend.HTTPConfig{
				URL:          "http://localhost:8000/api/kb",
				Timeout:      10 * time.Second,
				RetryMax:     2,
				RetryWaitMin: 100 * time.Millisecond,
				RetryWaitMax: time.Second,
			},
		},
		CallLog: models.CallLogConfig{
			Enabled:       false,
			DBPath:        "trproxy-calls.db",
			RetentionDays: 30,
		},
		Auth: AuthConfig{
			Header: "X-API-KEY",
		},
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that cannot be caught by decoding.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case BackendHTTP:
		if c.Backend.URL == "" {
			return fmt.Errorf("backend url is required for type %q", BackendHTTP)
		}
	case BackendMock:
	default:
		return fmt.Errorf("unknown backend type %q", c.Backend.Type)
	}
	if _, err := c.TierTable(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for code, rules := range c.Rewrites {
		for i, r := range rules {
			if r.Source == "" || r.Target == "" {
				return fmt.Errorf("rewrite %s[%d]: source and target are required", code, i)
			}
		}
	}
	return nil
}

// TierTable returns the default tier table with configured overrides applied.
func (c *Config) TierTable() (tier.Table, error) {
	t, err := tier.DefaultTable().WithOverrides(c.Tiers)
	if err != nil {
		return nil, fmt.Errorf("tiers: %w", err)
	}
	return t, nil
}

// Location returns the time zone the sweep schedule is evaluated in.
func (c *Config) Location() (*time.Location, error) {
	if c.Sweep.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Sweep.Timezone)
	if err != nil {
		return nil, fmt.Errorf("sweep timezone: %w", err)
	}
	return loc, nil
}

// RewriteRules returns the built-in rewrite rules extended with configured ones.
func (c *Config) RewriteRules() preprocess.RuleTable {
	return preprocess.DefaultRules().Merge(c.Rewrites)
}
