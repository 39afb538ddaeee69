package validation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fraudproof/native/bond"
)

// Reject finalizes an awaiting dispute as Rejected, paying the whole bond to
// the validator. Rejection is an external decision; only the configured
// resolver authority may make it.
func (e *Engine) Reject(ctx context.Context, resolver common.Address, id [32]byte) (err error) {
	ctx, span := e.tracer.Start(ctx, "validation.reject",
		trace.WithAttributes(attribute.String("dispute.id", common.Hash(id).Hex())))
	defer span.End()
	start := time.Now()
	defer func() { e.observe(ctx, span, "reject", start, err) }()

	if err := e.ready(); err != nil {
		return err
	}
	authority, err := e.params.ResolverAuthority()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if authority == (common.Address{}) || resolver != authority {
		return ErrUnauthorized
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.loadAwaiting(id)
	if err != nil {
		return err
	}
	return e.finalize(ctx, PhaseRejected, record, resolver)
}

// Payouts computes the bond distribution for an outcome. Confirmed splits the
// bond between caller and witness authorizer, with any odd unit going to the
// caller; Rejected pays the validator in full. The amounts always sum to the
// record's bond.
func Payouts(outcome Outcome, record *DisputeRecord, caller common.Address) ([]bond.Payout, error) {
	if record == nil || record.Bond == nil {
		return nil, fmt.Errorf("%w: record has no bond", ErrInvalidRequest)
	}
	switch outcome {
	case PhaseConfirmed:
		callerShare, witnessShare := bond.Split(record.Bond)
		return []bond.Payout{
			{Recipient: caller, Amount: callerShare},
			{Recipient: record.WitnessAuthorizer, Amount: witnessShare},
		}, nil
	case PhaseRejected:
		return []bond.Payout{{Recipient: record.Validator, Amount: record.Bond.Clone()}}, nil
	default:
		return nil, fmt.Errorf("%w: %s is not a terminal outcome", ErrInvalidRequest, outcome)
	}
}

// payoutRole names the recipient of the i-th payout returned by Payouts.
func payoutRole(outcome Outcome, i int) string {
	if outcome == PhaseRejected {
		return "validator"
	}
	if i == 0 {
		return "caller"
	}
	return "witness"
}

// finalize pays the bond and deletes the record in one batch. The engine lock
// must be held. Nothing is written unless every payout can be staged.
func (e *Engine) finalize(ctx context.Context, outcome Outcome, record *DisputeRecord, caller common.Address) error {
	payouts, err := Payouts(outcome, record, caller)
	if err != nil {
		return err
	}
	err = e.ledger.Locked(func() error {
		batch := e.store.NewBatch()
		if err := e.ledger.StagePayout(batch, payouts); err != nil {
			return fmt.Errorf("%w: %w", ErrBondTransferFailed, err)
		}
		if err := e.store.StageDelete(batch, record.ID); err != nil {
			return err
		}
		if err := batch.Write(); err != nil {
			return fmt.Errorf("commit finalization: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	record.Phase = outcome
	e.emit(NewOutcomeEvent(outcome, record))
	e.metrics.ObserveOutcome(outcome.String())
	for i, p := range payouts {
		e.metrics.ObservePayout(payoutRole(outcome, i), p.Amount)
	}
	e.logger.InfoContext(ctx, "validation: dispute finalized",
		slog.String("id", common.Hash(record.ID).Hex()),
		slog.String("outcome", outcome.String()),
		slog.String("caller", caller.Hex()),
		slog.String("bond", record.Bond.Dec()))
	return nil
}
