// Package config handles agentbot runtime configuration loading.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/agentbot/internal/email"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/agentbot/config.yaml, /config/config.yaml,
// /etc/agentbot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentbot", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/agentbot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all agentbot runtime configuration, as loaded from the
// single YAML file named by --config.
type Config struct {
	BaseURL             string       `yaml:"base_url"`
	PollIntervalSeconds int          `yaml:"poll_interval_seconds"`
	SessionStorePath    string       `yaml:"session_store_path"`
	Email               email.Config `yaml:"email"`
	FormMappingPath     string       `yaml:"form_mapping_path"`
	HumanlikeMouse      MouseConfig  `yaml:"humanlike_mouse"`
	LogLevel            string       `yaml:"log_level"`

	// Bus selects the MessageBus implementation: "memory" (default) or
	// "redis". Overridden by AGENTBOT_BUS.
	Bus string `yaml:"bus"`

	// LockTTLSeconds bounds how long a booker's lease on
	// "book:{session_id}" survives before another worker may reclaim
	// it.
	LockTTLSeconds int `yaml:"lock_ttl_seconds"`

	// AdminListen, if non-empty, starts the optional HTTP admin surface
	// (§6) bound to this address (e.g. ":8090").
	AdminListen string `yaml:"admin_listen"`

	// SessionKey is the base64 symmetric key for session-store
	// encryption. Normally supplied via AGENTBOT_SESSION_KEY rather
	// than committed to the config file, but both are honored; the
	// environment variable wins if both are set.
	SessionKey string `yaml:"session_key"`

	// AuditLogPath is where booking outcomes are appended as JSON
	// lines. Overridden by AGENTBOT_AUDIT_LOG.
	AuditLogPath string `yaml:"audit_log_path"`

	// RedisURL backs the distributed bus and lock manager when Bus is
	// "redis". Overridden by REDIS_URL.
	RedisURL string `yaml:"redis_url"`
}

// MouseConfig tunes the optional pointer-automation humanization a
// booking provider may use; the runtime itself only threads this
// value through to the provider unexamined.
type MouseConfig struct {
	Enabled    bool    `yaml:"enabled"`
	JitterPx   int     `yaml:"jitter_px"`
	SpeedScale float64 `yaml:"speed_scale"`
}

const (
	defaultPollIntervalSeconds = 30
	minPollIntervalSeconds     = 5
	defaultLockTTLSeconds      = 30
	defaultSessionStorePath    = "./data/sessions.json"
	defaultAuditLogPath        = "./data/audit.jsonl"
)

// Recognized environment variables, per §6 of the runtime config
// contract. Each overrides its YAML counterpart when set.
const (
	envSessionKey = "AGENTBOT_SESSION_KEY"
	envAuditLog   = "AGENTBOT_AUDIT_LOG"
	envBus        = "AGENTBOT_BUS"
	envRedisURL   = "REDIS_URL"
)

// Load reads configuration from a YAML file, expands environment
// variables referenced inside it, applies defaults for any unset
// fields, overlays the recognized AGENTBOT_*/REDIS_URL environment
// variables, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.PollIntervalSeconds < minPollIntervalSeconds {
		c.PollIntervalSeconds = minPollIntervalSeconds
	}
	if c.SessionStorePath == "" {
		c.SessionStorePath = defaultSessionStorePath
	}
	if c.AuditLogPath == "" {
		c.AuditLogPath = defaultAuditLogPath
	}
	if c.LockTTLSeconds == 0 {
		c.LockTTLSeconds = defaultLockTTLSeconds
	}
	if c.Bus == "" {
		c.Bus = "memory"
	}
	c.Email.ApplyDefaults()
}

// applyEnv overlays recognized environment variables, which win over
// whatever the YAML file specified.
func (c *Config) applyEnv() {
	if v := os.Getenv(envSessionKey); v != "" {
		c.SessionKey = v
	}
	if v := os.Getenv(envAuditLog); v != "" {
		c.AuditLogPath = v
	}
	if v := os.Getenv(envBus); v != "" {
		c.Bus = v
	}
	if v := os.Getenv(envRedisURL); v != "" {
		c.RedisURL = v
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults/applyEnv, so it can assume defaults are
// populated. Returns an error describing the first problem found, or
// nil. A Validate failure is a startup error: the runtime must fail
// fast and never enter the run loop.
func (c *Config) Validate() error {
	if c.PollIntervalSeconds < minPollIntervalSeconds {
		return fmt.Errorf("poll_interval_seconds %d is below the %ds floor", c.PollIntervalSeconds, minPollIntervalSeconds)
	}
	if c.Bus != "memory" && c.Bus != "redis" {
		return fmt.Errorf("bus %q must be \"memory\" or \"redis\"", c.Bus)
	}
	if c.Bus == "redis" && c.RedisURL == "" {
		return fmt.Errorf("bus is \"redis\" but redis_url/%s is not set", envRedisURL)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.Email.Configured() {
		if err := c.Email.Validate(); err != nil {
			return fmt.Errorf("email: %w", err)
		}
	}
	if c.SessionKey != "" {
		raw, err := base64.StdEncoding.DecodeString(c.SessionKey)
		if err != nil {
			return fmt.Errorf("session_key: not valid base64: %w", err)
		}
		if len(raw) != sessionKeySize {
			return fmt.Errorf("session_key: must decode to %d bytes, got %d", sessionKeySize, len(raw))
		}
	}
	return nil
}

// sessionKeySize is the secretbox key length the session store
// expects; duplicated here (rather than imported) so config
// validation has no dependency on the session package's internals.
const sessionKeySize = 32

// LockTTL returns the configured lock lease duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// PollInterval returns the configured default poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
