// Package config loads and validates broker's config.yml, per spec.md §6.3.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level config.yml schema.
type Config struct {
	Version             int           `yaml:"version"`
	FossaEndpoint        string        `yaml:"fossa_endpoint"`
	FossaIntegrationKey  Secret        `yaml:"-"`
	Concurrency          int           `yaml:"concurrency"`
	Debugging            Debugging     `yaml:"debugging"`
	Integrations         []Integration `yaml:"integrations"`
}

// Debugging is the debugging section of config.yml.
type Debugging struct {
	Location  string    `yaml:"location"`
	Retention Retention `yaml:"retention"`
}

// Retention is the debugging.retention section of config.yml.
type Retention struct {
	Days int `yaml:"days"`
}

// Integration is one entry of the top-level integrations array. Only
// type: git is accepted (spec.md's only Integration type).
type Integration struct {
	Type            string         `yaml:"type"`
	PollInterval    Duration       `yaml:"poll_interval"`
	Remote          string         `yaml:"remote"`
	Auth            AuthDescriptor `yaml:"auth"`
	Team            string         `yaml:"team"`
	Title           string         `yaml:"title"`
	ImportBranches  *bool          `yaml:"import_branches"`
	ImportTags      *bool          `yaml:"import_tags"`
	WatchedBranches []string       `yaml:"watched_branches"`

	// ID is derived, not parsed, set by Load after unmarshalling.
	ID string `yaml:"-"`
}

// ImportBranchesOrDefault returns the configured value, defaulting to true.
func (i Integration) ImportBranchesOrDefault() bool {
	if i.ImportBranches == nil {
		return true
	}
	return *i.ImportBranches
}

// ImportTagsOrDefault returns the configured value, defaulting to false.
func (i Integration) ImportTagsOrDefault() bool {
	if i.ImportTags == nil {
		return false
	}
	return *i.ImportTags
}

const defaultConcurrency = 10
const defaultRetentionDays = 7
const minPollInterval = time.Hour

// rawConfig mirrors Config but carries fossa_integration_key as a plain
// string field so it can be decoded, then immediately wrapped in a Secret.
type rawConfig struct {
	Version             int           `yaml:"version"`
	FossaEndpoint       string        `yaml:"fossa_endpoint"`
	FossaIntegrationKey string        `yaml:"fossa_integration_key"`
	Concurrency         int           `yaml:"concurrency"`
	Debugging           Debugging     `yaml:"debugging"`
	Integrations        []Integration `yaml:"integrations"`
}

// Load reads, strictly decodes (unknown keys are a fatal error per
// spec.md §6.3), defaults, and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw rawConfig
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{
		Version:             raw.Version,
		FossaEndpoint:       raw.FossaEndpoint,
		FossaIntegrationKey: NewSecret(raw.FossaIntegrationKey),
		Concurrency:         raw.Concurrency,
		Debugging:           raw.Debugging,
		Integrations:        raw.Integrations,
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	for i := range cfg.Integrations {
		cfg.Integrations[i].ID = IntegrationID(cfg.Integrations[i].Remote)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Debugging.Retention.Days == 0 {
		cfg.Debugging.Retention.Days = defaultRetentionDays
	}
}

func validate(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("version: only 1 is accepted, got %d", cfg.Version)
	}
	if cfg.FossaEndpoint == "" {
		return fmt.Errorf("fossa_endpoint is required")
	}
	if cfg.FossaIntegrationKey.IsZero() {
		return fmt.Errorf("fossa_integration_key is required")
	}
	if cfg.Debugging.Location == "" {
		return fmt.Errorf("debugging.location is required")
	}
	if cfg.Debugging.Retention.Days < 1 {
		return fmt.Errorf("debugging.retention.days must be >= 1")
	}

	seen := make(map[string]bool, len(cfg.Integrations))
	for idx, in := range cfg.Integrations {
		if in.Type != "git" {
			return fmt.Errorf("integrations[%d]: type must be \"git\", got %q", idx, in.Type)
		}
		if in.Remote == "" {
			return fmt.Errorf("integrations[%d]: remote is required", idx)
		}
		id := IntegrationID(in.Remote)
		if seen[id] {
			return fmt.Errorf("integrations[%d]: duplicate remote %q", idx, in.Remote)
		}
		seen[id] = true

		if time.Duration(in.PollInterval) < minPollInterval {
			return fmt.Errorf("integrations[%d]: poll_interval must be >= 1h, got %s", idx, time.Duration(in.PollInterval))
		}
		if err := in.Auth.ValidateForRemote(in.Remote); err != nil {
			return fmt.Errorf("integrations[%d]: %w", idx, err)
		}
		if len(in.WatchedBranches) > 0 && !in.ImportBranchesOrDefault() {
			return fmt.Errorf("integrations[%d]: watched_branches set while import_branches is false", idx)
		}
	}
	return nil
}

// DefaultDataRoot returns the platform default data root of spec.md §6.2.
func DefaultDataRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "fossa", "broker"), nil
}
