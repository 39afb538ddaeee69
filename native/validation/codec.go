package validation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// SegmentDigest hashes the raw header encoding. Linkage is always checked
// against raw bytes, never against a re-encoding of the decoded fields.
func SegmentDigest(raw []byte) common.Hash {
	return crypto.Keccak256Hash(raw)
}

// DecodeSegment decodes an RLP block header. The rlp package rejects
// non-canonical integers, wrongly typed fields and trailing bytes; a header
// without a base fee cannot price messages and is rejected as well.
func DecodeSegment(raw []byte) (*ChainSegmentInfo, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty encoding", ErrMalformedSegment)
	}
	var header gethtypes.Header
	if err := rlp.DecodeBytes(raw, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSegment, err)
	}
	if header.BaseFee == nil {
		return nil, fmt.Errorf("%w: missing base fee", ErrMalformedSegment)
	}
	fee, overflow := uint256.FromBig(header.BaseFee)
	if overflow {
		return nil, fmt.Errorf("%w: base fee exceeds 256 bits", ErrMalformedSegment)
	}
	return &ChainSegmentInfo{
		AncestorDigest:    header.ParentHash,
		WorldStateDigest:  header.Root,
		MessageTreeDigest: header.TxHash,
		NetworkFee:        fee,
	}, nil
}

// participantRLP reads the two leading fields of an account leaf and keeps
// the rest opaque so that newer account layouts still decode.
type participantRLP struct {
	Nonce   uint64
	Balance *uint256.Int
	Rest    []rlp.RawValue `rlp:"tail"`
}

// DecodeParticipant decodes the proven account value. No range checks happen
// here; sufficiency is the engine's concern.
func DecodeParticipant(raw []byte) (*ParticipantState, error) {
	var acc participantRLP
	if err := rlp.DecodeBytes(raw, &acc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedParticipant, err)
	}
	holdings := acc.Balance
	if holdings == nil {
		holdings = new(uint256.Int)
	}
	return &ParticipantState{Sequence: acc.Nonce, Holdings: holdings}, nil
}
