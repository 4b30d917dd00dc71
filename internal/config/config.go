// Package config loads spendsync configuration.
//
// Sources, lowest precedence first:
//  1. built-in defaults
//  2. a YAML file (optional)
//  3. a .env file, loaded into the process environment without overriding
//     variables that are already set
//  4. SPENDSYNC_* environment variables
//
// MAX_RETRIES and RETRY_DELAY are also honored without the prefix; the
// prefixed form wins when both are set.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SPENDSYNC_"

// Backends and retry policies.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"

	PolicyFixed       = "fixed"
	PolicyExponential = "exponential"
)

// Config is the resolved configuration.
type Config struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`

	DBPath  string `yaml:"db_path"`
	Backend string `yaml:"backend"`

	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	RetryPolicy   string        `yaml:"retry_policy"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	SyncInterval  time.Duration `yaml:"sync_interval"`

	RollbackOnFailure   bool `yaml:"rollback_on_failure"`
	ResumeFailedOnStart bool `yaml:"resume_failed_on_start"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		BaseURL:       "http://127.0.0.1:8080",
		DBPath:        "spendsync.db",
		Backend:       BackendSQLite,
		MaxRetries:    5,
		RetryDelay:    30 * time.Second,
		RetryPolicy:   PolicyFixed,
		MaxRetryDelay: 10 * time.Minute,
		SyncInterval:  time.Minute,
	}
}

// Load resolves configuration from path (empty for none) and the
// environment. envFiles names .env files to load; with none, ./.env is
// loaded when present.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func loadDotEnv(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// binding maps one environment variable onto a field.
type binding struct {
	names []string // first set name wins
	set   func(c *Config, v string) error
}

var bindings = []binding{
	{names: []string{"BASE_URL"}, set: func(c *Config, v string) error { c.BaseURL = v; return nil }},
	{names: []string{"TOKEN"}, set: func(c *Config, v string) error { c.Token = v; return nil }},
	{names: []string{"DB_PATH"}, set: func(c *Config, v string) error { c.DBPath = v; return nil }},
	{names: []string{"BACKEND"}, set: func(c *Config, v string) error { c.Backend = strings.ToLower(v); return nil }},
	{names: []string{"MAX_RETRIES", "!MAX_RETRIES"}, set: func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.MaxRetries = n
		return err
	}},
	{names: []string{"RETRY_DELAY", "!RETRY_DELAY"}, set: func(c *Config, v string) (err error) {
		c.RetryDelay, err = time.ParseDuration(v)
		return err
	}},
	{names: []string{"RETRY_POLICY"}, set: func(c *Config, v string) error { c.RetryPolicy = strings.ToLower(v); return nil }},
	{names: []string{"MAX_RETRY_DELAY"}, set: func(c *Config, v string) (err error) {
		c.MaxRetryDelay, err = time.ParseDuration(v)
		return err
	}},
	{names: []string{"SYNC_INTERVAL"}, set: func(c *Config, v string) (err error) {
		c.SyncInterval, err = time.ParseDuration(v)
		return err
	}},
	{names: []string{"ROLLBACK_ON_FAILURE"}, set: func(c *Config, v string) (err error) {
		c.RollbackOnFailure, err = strconv.ParseBool(v)
		return err
	}},
	{names: []string{"RESUME_FAILED_ON_START"}, set: func(c *Config, v string) (err error) {
		c.ResumeFailedOnStart, err = strconv.ParseBool(v)
		return err
	}},
	{names: []string{"METRICS_ADDR"}, set: func(c *Config, v string) error { c.MetricsAddr = v; return nil }},
}

// envName expands a binding name. A leading "!" means no prefix.
func envName(name string) string {
	if rest, ok := strings.CutPrefix(name, "!"); ok {
		return rest
	}
	return EnvPrefix + name
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, b := range bindings {
		for _, name := range b.names {
			key := envName(name)
			v, ok := lookup(key)
			if !ok || v == "" {
				continue
			}
			if err := b.set(c, v); err != nil {
				return fmt.Errorf("invalid %s=%q: %w", key, v, err)
			}
			break
		}
	}
	return nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.RetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("retry_delay must be positive, got %s", c.RetryDelay))
	}
	if c.MaxRetryDelay < c.RetryDelay {
		errs = append(errs, fmt.Errorf("max_retry_delay %s is shorter than retry_delay %s", c.MaxRetryDelay, c.RetryDelay))
	}
	if c.SyncInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync_interval must be positive, got %s", c.SyncInterval))
	}
	switch c.Backend {
	case BackendSQLite, BackendBolt:
	default:
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendSQLite, BackendBolt, c.Backend))
	}
	switch c.RetryPolicy {
	case PolicyFixed, PolicyExponential:
	default:
		errs = append(errs, fmt.Errorf("retry_policy must be %q or %q, got %q", PolicyFixed, PolicyExponential, c.RetryPolicy))
	}
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
