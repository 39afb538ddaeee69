package validation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Reasons a replay stopped, used as metric labels.
const (
	StopStaleSequence        = "stale_sequence"
	StopInsufficientHoldings = "insufficient_holdings"
	StopCompleted            = "completed"
)

// ReplayResult summarises a successful replay.
type ReplayResult struct {
	Applied int
	Stop    string
}

// VerifyAndFinalize checks closing evidence for an awaiting dispute and, when
// the evidence holds, finalizes it as Confirmed. Any failure leaves the record
// and every bond balance untouched.
func (e *Engine) VerifyAndFinalize(ctx context.Context, caller common.Address, id [32]byte, trustedPreviousSegmentHash common.Hash, evidence *ValidationEvidence) (err error) {
	ctx, span := e.tracer.Start(ctx, "validation.verify_and_finalize",
		trace.WithAttributes(attribute.String("dispute.id", common.Hash(id).Hex())))
	defer span.End()
	start := time.Now()
	defer func() { e.observe(ctx, span, "verify", start, err) }()

	if err := e.ready(); err != nil {
		return err
	}
	if caller == (common.Address{}) {
		return fmt.Errorf("%w: caller required", ErrInvalidRequest)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.loadAwaiting(id)
	if err != nil {
		return err
	}
	if err := e.checkDeadline(record); err != nil {
		return err
	}
	if evidence == nil {
		evidence = &ValidationEvidence{}
	}
	if err := checkEvidenceCount(record, evidence); err != nil {
		return err
	}

	precedingDigest := SegmentDigest(evidence.PrecedingSegmentRLP)
	if precedingDigest != trustedPreviousSegmentHash {
		return ErrInvalidSegmentDigest
	}
	preceding, err := DecodeSegment(evidence.PrecedingSegmentRLP)
	if err != nil {
		return fmt.Errorf("preceding segment: %w", err)
	}
	incorporation, err := DecodeSegment(evidence.IncorporationSegmentRLP)
	if err != nil {
		return fmt.Errorf("incorporation segment: %w", err)
	}
	if incorporation.AncestorDigest != precedingDigest {
		return ErrInvalidAncestorDigest
	}

	found, raw := e.verifier.ProveAccount(record.ProtocolDestination.Bytes(), evidence.ParticipantMerkleEvidence, preceding.WorldStateDigest)
	if !found {
		return ErrParticipantNotFound
	}
	participant, err := DecodeParticipant(raw)
	if err != nil {
		return err
	}

	result, err := e.replay(record, participant, incorporation, evidence)
	if err != nil {
		return err
	}
	e.metrics.ObserveReplay(result.Applied, result.Stop)
	span.SetAttributes(
		attribute.Int("replay.applied", result.Applied),
		attribute.String("replay.stop", result.Stop),
	)
	return e.finalize(ctx, PhaseConfirmed, record, caller)
}

// checkDeadline fails once the challenge period has fully elapsed. The last
// second of the period is still inside it.
func (e *Engine) checkDeadline(record *DisputeRecord) error {
	timeout, err := e.params.ChallengeTimeoutPeriod()
	if err != nil {
		return fmt.Errorf("load challenge timeout: %w", err)
	}
	deadline := record.TimestampInit + timeout
	if deadline < record.TimestampInit {
		deadline = math.MaxUint64
	}
	if e.now() > deadline {
		return ErrTimedOut
	}
	return nil
}

func checkEvidenceCount(record *DisputeRecord, evidence *ValidationEvidence) error {
	want := len(record.AuthorizedMessages)
	if len(evidence.MessageMerkleEvidence) != want {
		return fmt.Errorf("%w: %d message proofs for %d messages", ErrInvalidEvidenceCount, len(evidence.MessageMerkleEvidence), want)
	}
	if len(evidence.MessagePositions) != want {
		return fmt.Errorf("%w: %d message positions for %d messages", ErrInvalidEvidenceCount, len(evidence.MessagePositions), want)
	}
	return nil
}

// replay applies the authorized messages to a local copy of the participant
// in committed order. A message the participant has already moved past, or
// cannot afford, ends the replay without error and without inspecting its
// proofs. Every message that is applied must be proven to be in the
// incorporation segment with the committed digest.
func (e *Engine) replay(record *DisputeRecord, participant *ParticipantState, incorporation *ChainSegmentInfo, evidence *ValidationEvidence) (ReplayResult, error) {
	state := &ParticipantState{
		Sequence: participant.Sequence,
		Holdings: new(uint256.Int).Set(participant.Holdings),
	}
	fee := incorporation.NetworkFee
	for i, msg := range record.AuthorizedMessages {
		if state.Sequence > msg.Sequence {
			return ReplayResult{Applied: i, Stop: StopStaleSequence}, nil
		}
		cost, overflow := new(uint256.Int).MulOverflow(fee, uint256.NewInt(msg.FuelLimit))
		if overflow || state.Holdings.Lt(cost) {
			return ReplayResult{Applied: i, Stop: StopInsufficientHoldings}, nil
		}
		if state.Sequence == math.MaxUint64 {
			return ReplayResult{}, fmt.Errorf("%w: message %d", ErrSequenceOverflow, i)
		}
		state.Holdings.Sub(state.Holdings, cost)
		state.Sequence++

		included, value := e.verifier.ProveLeaf(evidence.MessagePositions[i], evidence.MessageMerkleEvidence[i], incorporation.MessageTreeDigest)
		if !included {
			return ReplayResult{}, fmt.Errorf("%w: message %d", ErrMessageNotFound, i)
		}
		if crypto.Keccak256Hash(value) != msg.MessageDigest {
			return ReplayResult{}, fmt.Errorf("%w: message %d", ErrInvalidMessageEvidence, i)
		}
	}
	return ReplayResult{Applied: len(record.AuthorizedMessages), Stop: StopCompleted}, nil
}
