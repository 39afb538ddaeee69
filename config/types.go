package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so durations can be written as "30s" in both
// TOML and YAML files.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler (TOML).
func (d *Duration) UnmarshalText(text []byte) error {
	raw := string(text)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Storage selects the key/value backend holding disputes, bonds and
// governance parameters.
type Storage struct {
	Backend string `toml:"Backend" yaml:"backend"` // leveldb, bolt or memory
	DataDir string `toml:"DataDir" yaml:"data_dir"`
}

// Archive configures the SQL archive of finalized disputes.
type Archive struct {
	Driver string `toml:"Driver" yaml:"driver"` // sqlite or postgres
	DSN    string `toml:"DSN" yaml:"dsn"`
}

// Auth configures bearer-token checks on privileged routes.
type Auth struct {
	Enabled       bool     `toml:"Enabled" yaml:"enabled"`
	HMACSecret    string   `toml:"HMACSecret" yaml:"hmac_secret"`
	HMACSecretEnv string   `toml:"HMACSecretEnv" yaml:"hmac_secret_env"`
	Issuer        string   `toml:"Issuer" yaml:"issuer"`
	Audience      string   `toml:"Audience" yaml:"audience"`
	ClockSkew     Duration `toml:"ClockSkew" yaml:"clock_skew"`
}

// RateLimit bounds requests per client on one route group.
type RateLimit struct {
	RatePerSecond float64 `toml:"RatePerSecond" yaml:"rate_per_second"`
	Burst         int     `toml:"Burst" yaml:"burst"`
}

// Logging controls the slog handler.
type Logging struct {
	Environment string `toml:"Environment" yaml:"environment"`
	Level       string `toml:"Level" yaml:"level"`
	// File, when set, receives a rotated copy of every log line.
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
}

// Telemetry configures OTLP exporters.
type Telemetry struct {
	Endpoint string            `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool              `toml:"Insecure" yaml:"insecure"`
	Headers  map[string]string `toml:"Headers,omitempty" yaml:"headers,omitempty"`
	Traces   bool              `toml:"Traces" yaml:"traces"`
	Metrics  bool              `toml:"Metrics" yaml:"metrics"`
	// SampleRatio keeps this fraction of root spans; 0 keeps all.
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// Genesis seeds governance parameters that are still unset on first start.
// Amounts are decimal strings and addresses are hex.
type Genesis struct {
	ChallengeTimeoutPeriod     uint64 `toml:"ChallengeTimeoutPeriod" yaml:"challenge_timeout_period"`
	ConsensusLaunchTimestamp   uint64 `toml:"ConsensusLaunchTimestamp" yaml:"consensus_launch_timestamp"`
	ValidatorEpochTime         uint64 `toml:"ValidatorEpochTime" yaml:"validator_epoch_time"`
	DisputeSecurityDeposit     string `toml:"DisputeSecurityDeposit" yaml:"dispute_security_deposit"`
	ConsensusBeaconRootAddress string `toml:"ConsensusBeaconRootAddress" yaml:"consensus_beacon_root_address"`
	BeaconTimeWindow           uint64 `toml:"BeaconTimeWindow" yaml:"beacon_time_window"`
	ResolverAuthority          string `toml:"ResolverAuthority" yaml:"resolver_authority"`
}
