package validation

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Phase is the lifecycle state of a dispute.
type Phase uint8

const (
	PhaseAwaiting  Phase = iota // open, evidence may still be submitted
	PhaseConfirmed              // validator's execution vindicated
	PhaseRejected               // validator's execution rejected
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseAwaiting:
		return "awaiting"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the terminal phase a dispute is finalized into.
type Outcome = Phase

// MessageDetails describes one authorized message of a dispute, in the
// sender's committed execution order.
type MessageDetails struct {
	Sequence      uint64      `json:"sequence"`
	FuelLimit     uint64      `json:"fuelLimit"`
	MessageDigest common.Hash `json:"messageDigest"`
}

// DisputeRecord is the persisted state of an open dispute. Records exist in
// the store only while Phase is PhaseAwaiting; finalization deletes them.
type DisputeRecord struct {
	ID                  [32]byte
	Phase               Phase
	TimestampInit       uint64
	AuthorizedMessages  []MessageDetails
	ProtocolDestination common.Address
	WitnessAuthorizer   common.Address
	Validator           common.Address
	Challenger          common.Address
	AttestationID       [32]byte
	// Bond is the deposit escrowed when the dispute was opened.
	Bond *uint256.Int
}

// Clone returns a deep copy of the record.
func (r *DisputeRecord) Clone() *DisputeRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.AuthorizedMessages = append([]MessageDetails(nil), r.AuthorizedMessages...)
	if r.Bond != nil {
		clone.Bond = new(uint256.Int).Set(r.Bond)
	}
	return &clone
}

// ChainSegmentInfo is the subset of a segment header the engine relies on.
// It is decoded from evidence on every call and never persisted.
type ChainSegmentInfo struct {
	AncestorDigest    common.Hash
	WorldStateDigest  common.Hash
	MessageTreeDigest common.Hash
	NetworkFee        *uint256.Int
}

// ParticipantState is the pre-state of the disputed account. The engine only
// mutates a local copy during replay.
type ParticipantState struct {
	Sequence uint64
	Holdings *uint256.Int
}

// ValidationEvidence is the bundle submitted to close a dispute. The
// per-message slices must be exactly as long as the record's authorized
// messages.
type ValidationEvidence struct {
	PrecedingSegmentRLP       []byte
	IncorporationSegmentRLP   []byte
	ParticipantMerkleEvidence [][]byte
	MessageMerkleEvidence     [][][]byte
	MessagePositions          [][]byte
}

// OpenRequest describes a new dispute.
type OpenRequest struct {
	Challenger          common.Address
	ProtocolDestination common.Address
	WitnessAuthorizer   common.Address
	Validator           common.Address
	AttestationID       [32]byte
	// AttestationTimestamp is the time the disputed attestation was made; it
	// must fall inside the beacon time window.
	AttestationTimestamp uint64
	AuthorizedMessages   []MessageDetails
}
