package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fraudproof/native/params"
)

// Values converts the genesis section into governance parameter values.
func (g Genesis) Values() (params.Values, error) {
	deposit, err := uint256.FromDecimal(strings.TrimSpace(g.DisputeSecurityDeposit))
	if err != nil {
		return params.Values{}, fmt.Errorf("invalid genesis.DisputeSecurityDeposit: %w", err)
	}
	beacon, err := parseAddress(g.ConsensusBeaconRootAddress, false)
	if err != nil {
		return params.Values{}, fmt.Errorf("invalid genesis.ConsensusBeaconRootAddress: %w", err)
	}
	resolver, err := parseAddress(g.ResolverAuthority, true)
	if err != nil {
		return params.Values{}, fmt.Errorf("invalid genesis.ResolverAuthority: %w", err)
	}
	return params.Values{
		ChallengeTimeoutPeriod:     g.ChallengeTimeoutPeriod,
		ConsensusLaunchTimestamp:   g.ConsensusLaunchTimestamp,
		ValidatorEpochTime:         g.ValidatorEpochTime,
		DisputeSecurityDeposit:     deposit,
		ConsensusBeaconRootAddress: beacon,
		BeaconTimeWindow:           g.BeaconTimeWindow,
		ResolverAuthority:          resolver,
	}, nil
}

// BondPoolAddress parses the configured escrow pool address.
func (c *Config) BondPoolAddress() (common.Address, error) {
	return parseAddress(c.BondPool, false)
}

// ActiveValidatorAddresses parses the validator allowlist.
func (c *Config) ActiveValidatorAddresses() ([]common.Address, error) {
	out := make([]common.Address, 0, len(c.ActiveValidators))
	for i, raw := range c.ActiveValidators {
		addr, err := parseAddress(raw, false)
		if err != nil {
			return nil, fmt.Errorf("active_validators[%d]: %w", i, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func parseAddress(raw string, allowEmpty bool) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if allowEmpty {
			return common.Address{}, nil
		}
		return common.Address{}, fmt.Errorf("address required")
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", trimmed)
	}
	return common.HexToAddress(trimmed), nil
}
