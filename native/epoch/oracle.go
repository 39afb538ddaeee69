package epoch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
)

var (
	// ErrBeforeLaunch is returned for timestamps that precede consensus genesis.
	ErrBeforeLaunch = errors.New("epoch: timestamp before consensus launch")
	// ErrConsensusRootMissing is returned when the beacon-roots contract has no
	// root for the requested epoch. Callers must treat it as fatal.
	ErrConsensusRootMissing = errors.New("epoch: consensus root missing")
)

// Params is the slice of the governance parameter store the oracle reads.
type Params interface {
	ConsensusLaunchTimestamp() (uint64, error)
	ValidatorEpochTime() (uint64, error)
	BeaconTimeWindow() (uint64, error)
	ConsensusBeaconRootAddress() (common.Address, error)
}

// BeaconCaller defines the subset of the Ethereum RPC used to read beacon
// roots. *ethclient.Client satisfies it.
type BeaconCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DialBeaconCaller initialises an execution-layer RPC client for the provided endpoint.
func DialBeaconCaller(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("epoch: rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Oracle converts between wall-clock time and validator epochs and resolves
// beacon roots. Parameters are re-read on every call.
type Oracle struct {
	params Params
	caller BeaconCaller
	nowFn  func() int64
}

// NewOracle builds an oracle. caller may be nil when beacon roots are never
// requested; ConsensusRootAt then fails with ErrConsensusRootMissing.
func NewOracle(params Params, caller BeaconCaller) *Oracle {
	return &Oracle{
		params: params,
		caller: caller,
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used by the oracle. Primarily intended
// for tests to provide deterministic timestamps.
func (o *Oracle) SetNowFunc(now func() int64) {
	if now == nil {
		o.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	o.nowFn = now
}

func (o *Oracle) now() uint64 {
	ts := o.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (o *Oracle) schedule() (launch, length uint64, err error) {
	if o == nil || o.params == nil {
		return 0, 0, fmt.Errorf("epoch: params not configured")
	}
	if launch, err = o.params.ConsensusLaunchTimestamp(); err != nil {
		return 0, 0, err
	}
	if length, err = o.params.ValidatorEpochTime(); err != nil {
		return 0, 0, err
	}
	if length == 0 {
		return 0, 0, fmt.Errorf("epoch: epoch length must be positive")
	}
	return launch, length, nil
}

// EpochOf returns the epoch containing ts, using floor division.
func (o *Oracle) EpochOf(ts uint64) (uint64, error) {
	launch, length, err := o.schedule()
	if err != nil {
		return 0, err
	}
	if ts < launch {
		return 0, fmt.Errorf("%w: %d < %d", ErrBeforeLaunch, ts, launch)
	}
	return (ts - launch) / length, nil
}

// TimestampOf returns the first second of epoch e.
func (o *Oracle) TimestampOf(e uint64) (uint64, error) {
	launch, length, err := o.schedule()
	if err != nil {
		return 0, err
	}
	if e > (math.MaxUint64-launch)/length {
		return 0, fmt.Errorf("epoch: epoch %d overflows the timestamp range", e)
	}
	return launch + e*length, nil
}

// CurrentEpoch returns the epoch containing the oracle's current time.
func (o *Oracle) CurrentEpoch() (uint64, error) {
	return o.EpochOf(o.now())
}

// IsWithinWindow reports whether ts falls no later than the configured number
// of epochs past the current one.
func (o *Oracle) IsWithinWindow(ts uint64) (bool, error) {
	target, err := o.EpochOf(ts)
	if err != nil {
		return false, err
	}
	current, err := o.CurrentEpoch()
	if err != nil {
		return false, err
	}
	window, err := o.params.BeaconTimeWindow()
	if err != nil {
		return false, err
	}
	if current > math.MaxUint64-window {
		return true, nil
	}
	return target <= current+window, nil
}

// ConsensusRootAt fetches the beacon root for the start of epoch e from the
// beacon-roots contract. The contract is keyed by timestamp; the calldata is
// the 32-byte big-endian start time of the epoch.
func (o *Oracle) ConsensusRootAt(ctx context.Context, e uint64) (common.Hash, error) {
	ts, err := o.TimestampOf(e)
	if err != nil {
		return common.Hash{}, err
	}
	if o.caller == nil {
		return common.Hash{}, fmt.Errorf("%w: no beacon client configured", ErrConsensusRootMissing)
	}
	contract, err := o.params.ConsensusBeaconRootAddress()
	if err != nil {
		return common.Hash{}, err
	}
	calldata := uint256.NewInt(ts).Bytes32()
	out, err := o.caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: calldata[:]}, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: epoch %d: %v", ErrConsensusRootMissing, e, err)
	}
	if len(out) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: epoch %d: unexpected %d-byte response", ErrConsensusRootMissing, e, len(out))
	}
	root := common.BytesToHash(out)
	if root == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("%w: epoch %d", ErrConsensusRootMissing, e)
	}
	return root, nil
}
