package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrParamUnset is returned when a required governance parameter has never
// been written.
var ErrParamUnset = errors.New("params: parameter not set")

// StoreState captures the subset of state capabilities required by the
// parameter helpers.
type StoreState interface {
	ParamStoreSet(name string, value []byte) error
	ParamStoreGet(name string) ([]byte, bool, error)
}

// Store provides typed accessors for governance-controlled parameters. Every
// accessor reads through to the state, so governance updates take effect on
// the next call without restarting anything.
type Store struct {
	state StoreState
}

// NewStore constructs a parameter store wrapper using the supplied state
// backend.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

// Values is the full set of validation parameters. It is the shape used for
// genesis seeding and for the daemon's parameter dump.
type Values struct {
	ChallengeTimeoutPeriod     uint64         `json:"challengeTimeoutPeriod"`
	ConsensusLaunchTimestamp   uint64         `json:"consensusLaunchTimestamp"`
	ValidatorEpochTime         uint64         `json:"validatorEpochTime"`
	DisputeSecurityDeposit     *uint256.Int   `json:"-"`
	ConsensusBeaconRootAddress common.Address `json:"consensusBeaconRootAddress"`
	BeaconTimeWindow           uint64         `json:"beaconTimeWindow"`
	ResolverAuthority          common.Address `json:"resolverAuthority"`
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

func (s *Store) set(name string, value any) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("params: encode %s: %w", name, err)
	}
	return state.ParamStoreSet(name, encoded)
}

func (s *Store) get(name string, out any) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	raw, ok, err := state.ParamStoreGet(name)
	if err != nil {
		return err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: %s", ErrParamUnset, name)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("params: decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) isSet(name string) (bool, error) {
	state, err := s.withState()
	if err != nil {
		return false, err
	}
	raw, ok, err := state.ParamStoreGet(name)
	if err != nil {
		return false, err
	}
	return ok && len(bytes.TrimSpace(raw)) > 0, nil
}

func (s *Store) getUint64(name string) (uint64, error) {
	var v uint64
	if err := s.get(name, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *Store) getAddress(name string) (common.Address, error) {
	var addr common.Address
	if err := s.get(name, &addr); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// ChallengeTimeoutPeriod returns the dispute finalization window in seconds.
func (s *Store) ChallengeTimeoutPeriod() (uint64, error) {
	return s.getUint64(ParamsKeyChallengeTimeout)
}

// SetChallengeTimeoutPeriod updates the dispute finalization window.
func (s *Store) SetChallengeTimeoutPeriod(seconds uint64) error {
	return s.set(ParamsKeyChallengeTimeout, seconds)
}

// ConsensusLaunchTimestamp returns the consensus-layer genesis time.
func (s *Store) ConsensusLaunchTimestamp() (uint64, error) {
	return s.getUint64(ParamsKeyLaunchTimestamp)
}

// SetConsensusLaunchTimestamp updates the consensus-layer genesis time.
func (s *Store) SetConsensusLaunchTimestamp(ts uint64) error {
	return s.set(ParamsKeyLaunchTimestamp, ts)
}

// ValidatorEpochTime returns the epoch length in seconds. A stored zero is
// rejected because every epoch computation divides by it.
func (s *Store) ValidatorEpochTime() (uint64, error) {
	v, err := s.getUint64(ParamsKeyEpochTime)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, fmt.Errorf("params: %s must be positive", ParamsKeyEpochTime)
	}
	return v, nil
}

// SetValidatorEpochTime updates the epoch length.
func (s *Store) SetValidatorEpochTime(seconds uint64) error {
	if seconds == 0 {
		return fmt.Errorf("params: %s must be positive", ParamsKeyEpochTime)
	}
	return s.set(ParamsKeyEpochTime, seconds)
}

// DisputeSecurityDeposit returns the bond escrowed per dispute.
func (s *Store) DisputeSecurityDeposit() (*uint256.Int, error) {
	var dec string
	if err := s.get(ParamsKeySecurityDeposit, &dec); err != nil {
		return nil, err
	}
	v, err := uint256.FromDecimal(dec)
	if err != nil {
		return nil, fmt.Errorf("params: decode %s: %w", ParamsKeySecurityDeposit, err)
	}
	return v, nil
}

// SetDisputeSecurityDeposit updates the bond amount. Values are stored as
// decimal strings to survive JSON round trips without precision loss.
func (s *Store) SetDisputeSecurityDeposit(amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("params: %s required", ParamsKeySecurityDeposit)
	}
	return s.set(ParamsKeySecurityDeposit, amount.Dec())
}

// ConsensusBeaconRootAddress returns the beacon-roots contract address.
func (s *Store) ConsensusBeaconRootAddress() (common.Address, error) {
	return s.getAddress(ParamsKeyBeaconRootAddress)
}

// SetConsensusBeaconRootAddress updates the beacon-roots contract address.
func (s *Store) SetConsensusBeaconRootAddress(addr common.Address) error {
	return s.set(ParamsKeyBeaconRootAddress, addr)
}

// BeaconTimeWindow returns the window, in epochs, used for staleness checks.
func (s *Store) BeaconTimeWindow() (uint64, error) {
	return s.getUint64(ParamsKeyBeaconTimeWindow)
}

// SetBeaconTimeWindow updates the staleness window.
func (s *Store) SetBeaconTimeWindow(epochs uint64) error {
	return s.set(ParamsKeyBeaconTimeWindow, epochs)
}

// ResolverAuthority returns the address allowed to reject disputes.
func (s *Store) ResolverAuthority() (common.Address, error) {
	return s.getAddress(ParamsKeyResolverAuthority)
}

// SetResolverAuthority updates the resolver authority.
func (s *Store) SetResolverAuthority(addr common.Address) error {
	return s.set(ParamsKeyResolverAuthority, addr)
}

// Seed writes every parameter in values that is not already present. Existing
// governance-set values always win over genesis defaults.
func (s *Store) Seed(values Values) error {
	type entry struct {
		key string
		set func() error
	}
	entries := []entry{
		{ParamsKeyChallengeTimeout, func() error { return s.SetChallengeTimeoutPeriod(values.ChallengeTimeoutPeriod) }},
		{ParamsKeyLaunchTimestamp, func() error { return s.SetConsensusLaunchTimestamp(values.ConsensusLaunchTimestamp) }},
		{ParamsKeyEpochTime, func() error { return s.SetValidatorEpochTime(values.ValidatorEpochTime) }},
		{ParamsKeySecurityDeposit, func() error { return s.SetDisputeSecurityDeposit(values.DisputeSecurityDeposit) }},
		{ParamsKeyBeaconRootAddress, func() error { return s.SetConsensusBeaconRootAddress(values.ConsensusBeaconRootAddress) }},
		{ParamsKeyBeaconTimeWindow, func() error { return s.SetBeaconTimeWindow(values.BeaconTimeWindow) }},
		{ParamsKeyResolverAuthority, func() error { return s.SetResolverAuthority(values.ResolverAuthority) }},
	}
	for _, e := range entries {
		ok, err := s.isSet(e.key)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := e.set(); err != nil {
			return fmt.Errorf("params: seed %s: %w", e.key, err)
		}
	}
	return nil
}

// Snapshot loads every parameter. It fails if any of them is unset.
func (s *Store) Snapshot() (Values, error) {
	var (
		v   Values
		err error
	)
	if v.ChallengeTimeoutPeriod, err = s.ChallengeTimeoutPeriod(); err != nil {
		return Values{}, err
	}
	if v.ConsensusLaunchTimestamp, err = s.ConsensusLaunchTimestamp(); err != nil {
		return Values{}, err
	}
	if v.ValidatorEpochTime, err = s.ValidatorEpochTime(); err != nil {
		return Values{}, err
	}
	if v.DisputeSecurityDeposit, err = s.DisputeSecurityDeposit(); err != nil {
		return Values{}, err
	}
	if v.ConsensusBeaconRootAddress, err = s.ConsensusBeaconRootAddress(); err != nil {
		return Values{}, err
	}
	if v.BeaconTimeWindow, err = s.BeaconTimeWindow(); err != nil {
		return Values{}, err
	}
	if v.ResolverAuthority, err = s.ResolverAuthority(); err != nil {
		return Values{}, err
	}
	return v, nil
}
