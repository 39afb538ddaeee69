package config

import (
	"fmt"
	"strings"
)

var (
	// MinChallengeTimeoutSeconds keeps operators from configuring a window no
	// honest challenger could meet.
	MinChallengeTimeoutSeconds = uint64(60)

	supportedBackends = map[string]struct{}{"leveldb": {}, "bolt": {}, "memory": {}}
	supportedArchives = map[string]struct{}{"sqlite": {}, "postgres": {}, "none": {}}
	supportedLevels   = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "error": {}}
)

func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if _, ok := supportedBackends[strings.ToLower(cfg.Storage.Backend)]; !ok {
		return fmt.Errorf("storage: unsupported backend %q", cfg.Storage.Backend)
	}
	if _, ok := supportedArchives[strings.ToLower(cfg.Archive.Driver)]; !ok {
		return fmt.Errorf("archive: unsupported driver %q", cfg.Archive.Driver)
	}
	if cfg.Archive.Driver != "none" && strings.TrimSpace(cfg.Archive.DSN) == "" {
		return fmt.Errorf("archive: dsn required for %s", cfg.Archive.Driver)
	}
	if _, ok := supportedLevels[strings.ToLower(cfg.Logging.Level)]; !ok {
		return fmt.Errorf("logging: unsupported level %q", cfg.Logging.Level)
	}
	if _, err := cfg.BondPoolAddress(); err != nil {
		return fmt.Errorf("bond_pool: %w", err)
	}
	if _, err := cfg.ActiveValidatorAddresses(); err != nil {
		return err
	}
	for name, limit := range cfg.RateLimits {
		if limit.RatePerSecond < 0 || limit.Burst < 0 {
			return fmt.Errorf("rate_limits.%s: negative limit", name)
		}
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: sample_ratio %v outside [0,1]", r)
	}
	g := cfg.Genesis
	if g.ChallengeTimeoutPeriod < MinChallengeTimeoutSeconds {
		return fmt.Errorf("genesis: challenge_timeout_period below %d seconds", MinChallengeTimeoutSeconds)
	}
	if g.ValidatorEpochTime == 0 {
		return fmt.Errorf("genesis: validator_epoch_time must be positive")
	}
	if _, err := g.Values(); err != nil {
		return err
	}
	return nil
}
