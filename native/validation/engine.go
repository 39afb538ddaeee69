package validation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fraudproof/core/events"
	"fraudproof/core/types"
	"fraudproof/native/bond"
	"fraudproof/observability"
	"fraudproof/storage"
)

type engineParams interface {
	ChallengeTimeoutPeriod() (uint64, error)
	DisputeSecurityDeposit() (*uint256.Int, error)
	ResolverAuthority() (common.Address, error)
}

type bondLedger interface {
	Locked(fn func() error) error
	StageEscrow(batch storage.Batch, from common.Address, amount *uint256.Int) error
	StagePayout(batch storage.Batch, payouts []bond.Payout) error
}

// WindowChecker decides whether an attestation timestamp is recent enough to
// be disputed. epoch.Oracle satisfies it.
type WindowChecker interface {
	IsWithinWindow(ts uint64) (bool, error)
}

// ValidatorRegistry reports validator staking status. Lookups are read-only
// snapshots taken at call time.
type ValidatorRegistry interface {
	IsActive(validator common.Address) (bool, error)
}

// Engine owns the dispute lifecycle: it opens disputes, verifies closing
// evidence and finalizes outcomes. Every state-changing call holds the engine
// lock from its first read to its batch commit, so calls never interleave.
type Engine struct {
	store    *Store
	params   engineParams
	ledger   bondLedger
	verifier ProofVerifier
	window   WindowChecker
	registry ValidatorRegistry
	emitter  events.Emitter
	nowFn    func() int64
	logger   *slog.Logger
	metrics  *observability.ValidationMetrics
	tracer   trace.Tracer

	mu sync.Mutex
}

// NewEngine wires an engine over its collaborators. Proofs are checked with
// TrieVerifier and events are discarded until SetEmitter is called.
func NewEngine(store *Store, params engineParams, ledger bondLedger) *Engine {
	return &Engine{
		store:    store,
		params:   params,
		ledger:   ledger,
		verifier: TrieVerifier{},
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		logger:   slog.Default(),
		tracer:   otel.Tracer("fraudproof/validation"),
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetProofVerifier replaces the trie-backed proof verifier.
func (e *Engine) SetProofVerifier(v ProofVerifier) {
	if v == nil {
		e.verifier = TrieVerifier{}
		return
	}
	e.verifier = v
}

// SetWindowChecker enables the attestation window check on Open.
func (e *Engine) SetWindowChecker(w WindowChecker) { e.window = w }

// SetRegistry enables the validator activity check on Open.
func (e *Engine) SetRegistry(r ValidatorRegistry) { e.registry = r }

// SetLogger configures the structured logger. Nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetMetrics wires the Prometheus registry. A nil registry disables metrics.
func (e *Engine) SetMetrics(m *observability.ValidationMetrics) { e.metrics = m }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(validationEvent{evt: evt})
}

func (e *Engine) now() uint64 {
	var ts int64
	if e == nil || e.nowFn == nil {
		ts = time.Now().Unix()
	} else {
		ts = e.nowFn()
	}
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.store == nil:
		return errNilStore
	case e.params == nil:
		return errNilParams
	case e.ledger == nil:
		return errNilLedger
	}
	return nil
}

// DisputeID derives the identifier of a dispute from the attestation it
// challenges and the parties involved.
func DisputeID(attestationID [32]byte, destination, validator, challenger common.Address) [32]byte {
	return crypto.Keccak256Hash(attestationID[:], destination.Bytes(), validator.Bytes(), challenger.Bytes())
}

// Get returns a copy of an open dispute.
func (e *Engine) Get(id [32]byte) (*DisputeRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.store.Get(id)
}

// List returns up to limit open disputes, oldest first.
func (e *Engine) List(limit int) ([]*DisputeRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.store.List(limit)
}

// Open records a new dispute in the awaiting phase and escrows the current
// security deposit from the challenger's bond balance.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (record *DisputeRecord, err error) {
	ctx, span := e.tracer.Start(ctx, "validation.open")
	defer span.End()
	start := time.Now()
	defer func() { e.observe(ctx, span, "open", start, err) }()

	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := validateOpenRequest(req); err != nil {
		return nil, err
	}
	if e.window != nil {
		ok, err := e.window.IsWithinWindow(req.AttestationTimestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOutsideWindow, err)
		}
		if !ok {
			return nil, ErrOutsideWindow
		}
	}
	if e.registry != nil {
		active, err := e.registry.IsActive(req.Validator)
		if err != nil {
			return nil, fmt.Errorf("validator registry: %w", err)
		}
		if !active {
			return nil, ErrInactive
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	deposit, err := e.params.DisputeSecurityDeposit()
	if err != nil {
		return nil, fmt.Errorf("load security deposit: %w", err)
	}
	record = &DisputeRecord{
		ID:                  DisputeID(req.AttestationID, req.ProtocolDestination, req.Validator, req.Challenger),
		Phase:               PhaseAwaiting,
		TimestampInit:       e.now(),
		AuthorizedMessages:  append([]MessageDetails(nil), req.AuthorizedMessages...),
		ProtocolDestination: req.ProtocolDestination,
		WitnessAuthorizer:   req.WitnessAuthorizer,
		Validator:           req.Validator,
		Challenger:          req.Challenger,
		AttestationID:       req.AttestationID,
		Bond:                new(uint256.Int).Set(deposit),
	}
	span.SetAttributes(attribute.String("dispute.id", common.Hash(record.ID).Hex()))

	err = e.ledger.Locked(func() error {
		batch := e.store.NewBatch()
		if err := e.store.StagePut(batch, record); err != nil {
			return err
		}
		if err := e.ledger.StageEscrow(batch, record.Challenger, record.Bond); err != nil {
			return fmt.Errorf("%w: escrow: %w", ErrBondTransferFailed, err)
		}
		return batch.Write()
	})
	if err != nil {
		return nil, err
	}

	e.emit(NewOpenedEvent(record))
	e.metrics.ObserveOpened()
	e.logger.InfoContext(ctx, "validation: dispute opened",
		slog.String("id", common.Hash(record.ID).Hex()),
		slog.String("validator", record.Validator.Hex()),
		slog.String("challenger", record.Challenger.Hex()),
		slog.Int("messages", len(record.AuthorizedMessages)),
		slog.String("bond", record.Bond.Dec()))
	return record.Clone(), nil
}

func validateOpenRequest(req OpenRequest) error {
	if len(req.AuthorizedMessages) == 0 {
		return fmt.Errorf("%w: at least one authorized message required", ErrInvalidRequest)
	}
	zero := common.Address{}
	switch {
	case req.Challenger == zero:
		return fmt.Errorf("%w: challenger required", ErrInvalidRequest)
	case req.ProtocolDestination == zero:
		return fmt.Errorf("%w: protocol destination required", ErrInvalidRequest)
	case req.WitnessAuthorizer == zero:
		return fmt.Errorf("%w: witness authorizer required", ErrInvalidRequest)
	case req.Validator == zero:
		return fmt.Errorf("%w: validator required", ErrInvalidRequest)
	}
	if req.AttestationID == ([32]byte{}) {
		return fmt.Errorf("%w: attestation id required", ErrInvalidRequest)
	}
	return nil
}

// loadAwaiting applies the two lookup preconditions shared by every
// finalizing call.
func (e *Engine) loadAwaiting(id [32]byte) (*DisputeRecord, error) {
	record, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if record.Phase != PhaseAwaiting {
		return nil, ErrAlreadySettled
	}
	return record, nil
}

func (e *Engine) observe(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	e.metrics.ObserveLatency(operation, time.Since(start))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	category := Classify(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.category", string(category)))
	e.metrics.ObserveFailure(operation, string(category))
	e.logger.WarnContext(ctx, "validation: call failed",
		slog.String("operation", operation),
		slog.String("category", string(category)),
		slog.Any("error", err))
}
