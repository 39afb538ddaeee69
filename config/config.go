package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the validatord node configuration.
type Config struct {
	ListenAddress   string               `toml:"ListenAddress" yaml:"listen"`
	BeaconRPC       string               `toml:"BeaconRPC" yaml:"beacon_rpc"`
	BondPool        string               `toml:"BondPool" yaml:"bond_pool"`
	ShutdownTimeout Duration             `toml:"ShutdownTimeout" yaml:"shutdown_timeout"`
	Storage         Storage              `toml:"Storage" yaml:"storage"`
	Archive         Archive              `toml:"Archive" yaml:"archive"`
	Auth            Auth                 `toml:"Auth" yaml:"auth"`
	RateLimits      map[string]RateLimit `toml:"RateLimits" yaml:"rate_limits"`
	Logging         Logging              `toml:"Logging" yaml:"logging"`
	Telemetry       Telemetry            `toml:"Telemetry" yaml:"telemetry"`
	Genesis         Genesis              `toml:"Genesis" yaml:"genesis"`

	// ActiveValidators restricts which validators may be disputed. Empty
	// admits every validator.
	ActiveValidators []string `toml:"ActiveValidators,omitempty" yaml:"active_validators,omitempty"`
}

// Load reads the configuration at path. Files ending in .yaml or .yml are
// decoded as YAML, anything else as TOML. A missing file is created with
// defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else {
		meta, err := toml.Decode(string(raw), cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
	}
	applyDefaults(cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Default returns a configuration suitable for a local single-node setup.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8088"
	}
	if cfg.BondPool == "" {
		cfg.BondPool = "0x000000000000000000000000000000000000b0d0"
	}
	if cfg.ShutdownTimeout.Duration == 0 {
		cfg.ShutdownTimeout.Duration = 15 * time.Second
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./validatord-data"
	}
	if cfg.Archive.Driver == "" {
		cfg.Archive.Driver = "sqlite"
	}
	if cfg.Archive.DSN == "" && cfg.Archive.Driver == "sqlite" {
		cfg.Archive.DSN = filepath.Join(cfg.Storage.DataDir, "outcomes.db")
	}
	if cfg.RateLimits == nil {
		cfg.RateLimits = map[string]RateLimit{
			"read":   {RatePerSecond: 20, Burst: 40},
			"verify": {RatePerSecond: 2, Burst: 4},
		}
	}
	if cfg.Logging.Environment == "" {
		cfg.Logging.Environment = "dev"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB <= 0 {
			cfg.Logging.MaxSizeMB = 100
		}
		if cfg.Logging.MaxBackups <= 0 {
			cfg.Logging.MaxBackups = 5
		}
		if cfg.Logging.MaxAgeDays <= 0 {
			cfg.Logging.MaxAgeDays = 28
		}
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	g := &cfg.Genesis
	if g.ChallengeTimeoutPeriod == 0 {
		g.ChallengeTimeoutPeriod = 7 * 24 * 3600
	}
	if g.ValidatorEpochTime == 0 {
		g.ValidatorEpochTime = 7 * 24 * 3600
	}
	if g.BeaconTimeWindow == 0 {
		g.BeaconTimeWindow = 1
	}
	if g.DisputeSecurityDeposit == "" {
		g.DisputeSecurityDeposit = "1000000000000000000"
	}
	if g.ConsensusBeaconRootAddress == "" {
		g.ConsensusBeaconRootAddress = "0x000F3df6D732807Ef1319fB7B8bB8522d0Beac02"
	}
}

func (a *Auth) normalise() error {
	a.HMACSecret = strings.TrimSpace(a.HMACSecret)
	if a.HMACSecret == "" && strings.TrimSpace(a.HMACSecretEnv) != "" {
		value := strings.TrimSpace(os.Getenv(a.HMACSecretEnv))
		if value == "" {
			return fmt.Errorf("hmac_secret_env %s is empty", a.HMACSecretEnv)
		}
		a.HMACSecret = value
	}
	if a.Enabled && a.HMACSecret == "" {
		return fmt.Errorf("hmac secret required when auth is enabled")
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
