package validation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"fraudproof/core/events"
	"fraudproof/native/bond"
	"fraudproof/native/params"
	paramstate "fraudproof/native/params/state"
	"fraudproof/storage"
	"fraudproof/storage/trie"
)

const (
	testTimeout = uint64(3600)
	testDeposit = uint64(101)
	testNow     = int64(1_700_000_000)
)

var (
	bondPool    = common.HexToAddress("0x00000000000000000000000000000000000b0d00")
	challenger  = common.HexToAddress("0xc0ffee0000000000000000000000000000000001")
	witness     = common.HexToAddress("0x5700000000000000000000000000000000000002")
	validator   = common.HexToAddress("0x7a11da7000000000000000000000000000000003")
	destination = common.HexToAddress("0xde57000000000000000000000000000000000004")
	resolver    = common.HexToAddress("0x2e50170000000000000000000000000000000005")
	bystander   = common.HexToAddress("0xb1b1000000000000000000000000000000000006")
)

type engineFixture struct {
	t        *testing.T
	db       storage.Database
	params   *params.Store
	vault    *bond.Vault
	store    *Store
	engine   *Engine
	recorder *events.Recorder
	now      int64
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := storage.NewMemDB()
	ps := params.NewStore(paramstate.NewDB(db))
	require.NoError(t, ps.SetChallengeTimeoutPeriod(testTimeout))
	require.NoError(t, ps.SetDisputeSecurityDeposit(uint256.NewInt(testDeposit)))
	require.NoError(t, ps.SetResolverAuthority(resolver))

	vault := bond.NewVault(db, bondPool)
	require.NoError(t, vault.Deposit(challenger, uint256.NewInt(10*testDeposit)))

	f := &engineFixture{
		t:        t,
		db:       db,
		params:   ps,
		vault:    vault,
		store:    NewStore(db),
		recorder: &events.Recorder{},
		now:      testNow,
	}
	f.engine = NewEngine(f.store, ps, vault)
	f.engine.SetNowFunc(func() int64 { return f.now })
	f.engine.SetEmitter(f.recorder)
	return f
}

func (f *engineFixture) open(attestation byte, msgs []MessageDetails) *DisputeRecord {
	f.t.Helper()
	record, err := f.engine.Open(context.Background(), OpenRequest{
		Challenger:           challenger,
		ProtocolDestination:  destination,
		WitnessAuthorizer:    witness,
		Validator:            validator,
		AttestationID:        [32]byte{attestation},
		AttestationTimestamp: uint64(f.now),
		AuthorizedMessages:   msgs,
	})
	require.NoError(f.t, err)
	return record
}

func (f *engineFixture) balance(addr common.Address) uint64 {
	f.t.Helper()
	bal, err := f.vault.Balance(addr)
	require.NoError(f.t, err)
	return bal.Uint64()
}

type testAccount struct {
	Nonce    uint64
	Balance  *uint256.Int
	Root     common.Hash
	CodeHash []byte
}

// scenario is a consistent pair of segments, the destination's account proof
// and one inclusion proof per message.
type scenario struct {
	messages      []MessageDetails
	trusted       common.Hash
	evidence      *ValidationEvidence
	incorporation *gethtypes.Header
}

type scenarioInput struct {
	nonce    uint64
	holdings uint64
	fee      *big.Int
	fuel     []uint64
	// sequences defaults to nonce, nonce+1, ...
	sequences []uint64
}

func buildScenario(t *testing.T, in scenarioInput) *scenario {
	t.Helper()
	accounts := trie.NewBuilder(trie.Secure)
	for addr, acc := range map[common.Address]testAccount{
		destination: {Nonce: in.nonce, Balance: uint256.NewInt(in.holdings), Root: gethtypes.EmptyRootHash, CodeHash: crypto.Keccak256(nil)},
		bystander:   {Nonce: 9, Balance: uint256.NewInt(1_000_000), Root: gethtypes.EmptyRootHash, CodeHash: crypto.Keccak256(nil)},
	} {
		raw, err := rlp.EncodeToBytes(&acc)
		require.NoError(t, err)
		require.NoError(t, accounts.Update(addr.Bytes(), raw))
	}
	participantProof, err := accounts.Prove(destination.Bytes())
	require.NoError(t, err)

	preceding := &gethtypes.Header{
		ParentHash: common.HexToHash("0x01"),
		Root:       accounts.Root(),
		TxHash:     gethtypes.EmptyTxsHash,
		Difficulty: big.NewInt(0),
		Number:     big.NewInt(100),
		GasLimit:   30_000_000,
		Time:       uint64(testNow) - 12,
		BaseFee:    big.NewInt(7),
	}
	precedingRaw, err := rlp.EncodeToBytes(preceding)
	require.NoError(t, err)

	messages := trie.NewBuilder(trie.Plain)
	details := make([]MessageDetails, len(in.fuel))
	positions := make([][]byte, len(in.fuel))
	for i, fuel := range in.fuel {
		key, err := rlp.EncodeToBytes(uint64(i))
		require.NoError(t, err)
		payload := []byte(fmt.Sprintf("message-%d", i))
		require.NoError(t, messages.Update(key, payload))
		seq := in.nonce + uint64(i)
		if in.sequences != nil {
			seq = in.sequences[i]
		}
		details[i] = MessageDetails{Sequence: seq, FuelLimit: fuel, MessageDigest: crypto.Keccak256Hash(payload)}
		positions[i] = key
	}
	proofs := make([][][]byte, len(in.fuel))
	for i, key := range positions {
		proofs[i], err = messages.Prove(key)
		require.NoError(t, err)
	}

	incorporation := &gethtypes.Header{
		ParentHash: crypto.Keccak256Hash(precedingRaw),
		Root:       common.HexToHash("0x02"),
		TxHash:     messages.Root(),
		Difficulty: big.NewInt(0),
		Number:     big.NewInt(101),
		GasLimit:   30_000_000,
		Time:       uint64(testNow),
		BaseFee:    in.fee,
	}
	incorporationRaw, err := rlp.EncodeToBytes(incorporation)
	require.NoError(t, err)

	return &scenario{
		messages: details,
		trusted:  crypto.Keccak256Hash(precedingRaw),
		evidence: &ValidationEvidence{
			PrecedingSegmentRLP:       precedingRaw,
			IncorporationSegmentRLP:   incorporationRaw,
			ParticipantMerkleEvidence: participantProof,
			MessageMerkleEvidence:     proofs,
			MessagePositions:          positions,
		},
		incorporation: incorporation,
	}
}

func defaultScenario(t *testing.T) *scenario {
	return buildScenario(t, scenarioInput{nonce: 3, holdings: 1_000, fee: big.NewInt(2), fuel: []uint64{10, 20, 30}})
}

func TestVerifyAndFinalizeConfirmsAndPaysOnce(t *testing.T) {
	f := newEngineFixture(t)
	sc := defaultScenario(t)
	record := f.open(1, sc.messages)
	require.Equal(t, uint64(9*testDeposit), f.balance(challenger))
	require.Equal(t, testDeposit, f.balance(bondPool))

	f.now += int64(testTimeout) - 1
	require.NoError(t, f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, sc.evidence))

	// 101 splits into 51 for the caller and 50 for the witness.
	require.Equal(t, uint64(9*testDeposit+51), f.balance(challenger))
	require.Equal(t, uint64(50), f.balance(witness))
	require.Zero(t, f.balance(bondPool))
	require.Zero(t, f.balance(validator))

	ok, err := f.store.Contains(record.ID)
	require.NoError(t, err)
	require.False(t, ok)

	evts := f.recorder.Events()
	require.Len(t, evts, 2)
	require.Equal(t, EventTypeDisputeOpened, evts[0].Type)
	require.Equal(t, EventTypeDisputeConfirmed, evts[1].Type)
	require.Equal(t, fmt.Sprintf("%x", record.AttestationID), evts[1].Attributes["attestationId"])

	for _, caller := range []common.Address{challenger, witness, bystander} {
		err := f.engine.VerifyAndFinalize(context.Background(), caller, record.ID, sc.trusted, sc.evidence)
		require.ErrorIs(t, err, ErrDisputeNotFound)
	}
	require.ErrorIs(t, f.engine.Reject(context.Background(), resolver, record.ID), ErrDisputeNotFound)
	require.Zero(t, f.balance(bondPool))
}

func TestVerifyAndFinalizeTimeoutBoundary(t *testing.T) {
	cases := []struct {
		name    string
		elapsed int64
		wantErr error
	}{
		{name: "inside", elapsed: int64(testTimeout) - 1},
		{name: "last second", elapsed: int64(testTimeout)},
		{name: "expired", elapsed: int64(testTimeout) + 1, wantErr: ErrTimedOut},
		{name: "long expired", elapsed: 10 * int64(testTimeout), wantErr: ErrTimedOut},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEngineFixture(t)
			sc := defaultScenario(t)
			record := f.open(1, sc.messages)
			f.now += tc.elapsed
			err := f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, sc.evidence)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
			_, err = f.store.Get(record.ID)
			require.NoError(t, err)
		})
	}
}

func TestVerifyAndFinalizeRejectsMutatedPrecedingSegment(t *testing.T) {
	f := newEngineFixture(t)
	sc := defaultScenario(t)
	record := f.open(1, sc.messages)
	original := sc.evidence.PrecedingSegmentRLP
	for i := range original {
		mutated := append([]byte(nil), original...)
		mutated[i] ^= 0x01
		evidence := *sc.evidence
		evidence.PrecedingSegmentRLP = mutated
		err := f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, &evidence)
		require.ErrorIs(t, err, ErrInvalidSegmentDigest, "byte %d", i)
	}
	require.Equal(t, testDeposit, f.balance(bondPool))
}

func TestVerifyAndFinalizeEvidenceCountChecksComeFirst(t *testing.T) {
	f := newEngineFixture(t)
	sc := defaultScenario(t)
	record := f.open(1, sc.messages)

	garbage := []byte{0xde, 0xad}
	short := &ValidationEvidence{
		PrecedingSegmentRLP:     garbage,
		IncorporationSegmentRLP: garbage,
		MessageMerkleEvidence:   sc.evidence.MessageMerkleEvidence[:2],
		MessagePositions:        sc.evidence.MessagePositions[:2],
	}
	long := &ValidationEvidence{
		PrecedingSegmentRLP:     garbage,
		IncorporationSegmentRLP: garbage,
		MessageMerkleEvidence:   append(append([][][]byte(nil), sc.evidence.MessageMerkleEvidence...), nil),
		MessagePositions:        append(append([][]byte(nil), sc.evidence.MessagePositions...), nil),
	}
	uneven := &ValidationEvidence{
		MessageMerkleEvidence: sc.evidence.MessageMerkleEvidence,
		MessagePositions:      sc.evidence.MessagePositions[:1],
	}
	for name, evidence := range map[string]*ValidationEvidence{"short": short, "long": long, "uneven": uneven, "nil": nil} {
		err := f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, common.Hash{}, evidence)
		require.ErrorIs(t, err, ErrInvalidEvidenceCount, name)
		require.Equal(t, CategoryEvidenceShape, Classify(err))
	}
}

func TestVerifyAndFinalizeSegmentFailures(t *testing.T) {
	f := newEngineFixture(t)
	sc := defaultScenario(t)
	record := f.open(1, sc.messages)

	t.Run("ancestor mismatch", func(t *testing.T) {
		header := *sc.incorporation
		header.ParentHash = common.HexToHash("0xbad")
		raw, err := rlp.EncodeToBytes(&header)
		require.NoError(t, err)
		evidence := *sc.evidence
		evidence.IncorporationSegmentRLP = raw
		err = f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, &evidence)
		require.ErrorIs(t, err, ErrInvalidAncestorDigest)
	})

	t.Run("malformed incorporation", func(t *testing.T) {
		evidence := *sc.evidence
		evidence.IncorporationSegmentRLP = []byte{0xc3, 0x01, 0x02, 0x03}
		err := f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, &evidence)
		require.ErrorIs(t, err, ErrMalformedSegment)
	})

	t.Run("malformed preceding with matching digest", func(t *testing.T) {
		evidence := *sc.evidence
		evidence.PrecedingSegmentRLP = []byte{0x01, 0x02}
		err := f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, crypto.Keccak256Hash(evidence.PrecedingSegmentRLP), &evidence)
		require.ErrorIs(t, err, ErrMalformedSegment)
	})

	_, err := f.store.Get(record.ID)
	require.NoError(t, err)
}

func TestVerifyAndFinalizeParticipantNotFound(t *testing.T) {
	f := newEngineFixture(t)
	sc := defaultScenario(t)
	record := f.open(1, sc.messages)

	for name, proof := range map[string][][]byte{
		"empty":   nil,
		"garbage": {{0xc0}},
		"foreign": buildScenario(t, scenarioInput{nonce: 4, holdings: 1, fee: big.NewInt(1), fuel: []uint64{1, 1, 1}}).evidence.ParticipantMerkleEvidence,
	} {
		evidence := *sc.evidence
		evidence.ParticipantMerkleEvidence = proof
		err := f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, &evidence)
		require.ErrorIs(t, err, ErrParticipantNotFound, name)
		require.Equal(t, CategoryLookup, Classify(err))
	}
}

func TestVerifyAndFinalizeMessageEvidenceFailures(t *testing.T) {
	t.Run("message not proven", func(t *testing.T) {
		f := newEngineFixture(t)
		sc := defaultScenario(t)
		record := f.open(1, sc.messages)
		evidence := *sc.evidence
		evidence.MessageMerkleEvidence = append([][][]byte(nil), sc.evidence.MessageMerkleEvidence...)
		evidence.MessageMerkleEvidence[1] = [][]byte{{0x01, 0x02}}
		err := f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, &evidence)
		require.ErrorIs(t, err, ErrMessageNotFound)
		require.Equal(t, testDeposit, f.balance(bondPool))
	})

	t.Run("wrong position", func(t *testing.T) {
		f := newEngineFixture(t)
		sc := defaultScenario(t)
		record := f.open(1, sc.messages)
		evidence := *sc.evidence
		evidence.MessagePositions = [][]byte{sc.evidence.MessagePositions[0], sc.evidence.MessagePositions[0], sc.evidence.MessagePositions[2]}
		err := f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, &evidence)
		require.ErrorIs(t, err, ErrMessageNotFound)
	})

	t.Run("digest mismatch", func(t *testing.T) {
		f := newEngineFixture(t)
		sc := defaultScenario(t)
		msgs := append([]MessageDetails(nil), sc.messages...)
		msgs[2].MessageDigest = crypto.Keccak256Hash([]byte("something else"))
		record := f.open(1, msgs)
		err := f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, sc.evidence)
		require.ErrorIs(t, err, ErrInvalidMessageEvidence)
		require.Equal(t, CategoryEvidenceIntegrity, Classify(err))
		_, err = f.store.Get(record.ID)
		require.NoError(t, err)
	})
}

func TestReplayStopsOnExhaustedHoldings(t *testing.T) {
	f := newEngineFixture(t)
	sc := buildScenario(t, scenarioInput{nonce: 0, holdings: 10, fee: big.NewInt(2), fuel: []uint64{3, 3, 3}})
	record := f.open(1, sc.messages)

	// Messages two and three are unaffordable, so their proofs are never read.
	evidence := *sc.evidence
	evidence.MessageMerkleEvidence = [][][]byte{sc.evidence.MessageMerkleEvidence[0], {{0xff}}, nil}
	evidence.MessagePositions = [][]byte{sc.evidence.MessagePositions[0], {0xff}, nil}

	incorporation, err := DecodeSegment(evidence.IncorporationSegmentRLP)
	require.NoError(t, err)
	result, err := f.engine.replay(record, &ParticipantState{Sequence: 0, Holdings: uint256.NewInt(10)}, incorporation, &evidence)
	require.NoError(t, err)
	require.Equal(t, ReplayResult{Applied: 1, Stop: StopInsufficientHoldings}, result)

	require.NoError(t, f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, &evidence))
	evts := f.recorder.Events()
	require.Equal(t, EventTypeDisputeConfirmed, evts[len(evts)-1].Type)
}

func TestReplayStopsOnStaleSequence(t *testing.T) {
	f := newEngineFixture(t)
	sc := buildScenario(t, scenarioInput{
		nonce:     5,
		holdings:  1_000,
		fee:       big.NewInt(1),
		fuel:      []uint64{1, 1, 1},
		sequences: []uint64{5, 5, 9},
	})
	record := f.open(1, sc.messages)

	evidence := *sc.evidence
	evidence.MessageMerkleEvidence = [][][]byte{sc.evidence.MessageMerkleEvidence[0], nil, nil}

	incorporation, err := DecodeSegment(evidence.IncorporationSegmentRLP)
	require.NoError(t, err)
	participant := &ParticipantState{Sequence: 5, Holdings: uint256.NewInt(1_000)}
	result, err := f.engine.replay(record, participant, incorporation, &evidence)
	require.NoError(t, err)
	require.Equal(t, ReplayResult{Applied: 1, Stop: StopStaleSequence}, result)
	require.Equal(t, uint64(5), participant.Sequence, "replay works on a copy")
	require.Equal(t, uint64(1_000), participant.Holdings.Uint64())

	require.NoError(t, f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, &evidence))
}

func TestReplayRefusesSequenceOverflow(t *testing.T) {
	f := newEngineFixture(t)
	record := &DisputeRecord{AuthorizedMessages: []MessageDetails{
		{Sequence: math.MaxUint64, FuelLimit: 1},
		{Sequence: 0, FuelLimit: 1},
	}}
	incorporation := &ChainSegmentInfo{NetworkFee: uint256.NewInt(1)}
	evidence := &ValidationEvidence{
		MessageMerkleEvidence: [][][]byte{nil, nil},
		MessagePositions:      [][]byte{nil, nil},
	}
	participant := &ParticipantState{Sequence: math.MaxUint64, Holdings: uint256.NewInt(10)}

	_, err := f.engine.replay(record, participant, incorporation, evidence)
	require.ErrorIs(t, err, ErrSequenceOverflow)
	require.Equal(t, CategoryEvidenceIntegrity, Classify(err))
	require.Equal(t, uint64(math.MaxUint64), participant.Sequence)
}

func TestReplayTreatsFeeOverflowAsUnaffordable(t *testing.T) {
	f := newEngineFixture(t)
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	sc := buildScenario(t, scenarioInput{nonce: 0, holdings: 1_000, fee: huge, fuel: []uint64{3}})
	record := f.open(1, sc.messages)

	evidence := *sc.evidence
	evidence.MessageMerkleEvidence = [][][]byte{nil}
	require.NoError(t, f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, &evidence))
}

func TestRejectPaysValidator(t *testing.T) {
	f := newEngineFixture(t)
	sc := defaultScenario(t)
	record := f.open(1, sc.messages)

	for _, caller := range []common.Address{challenger, validator, {}} {
		require.ErrorIs(t, f.engine.Reject(context.Background(), caller, record.ID), ErrUnauthorized)
	}
	require.ErrorIs(t, f.engine.Reject(context.Background(), resolver, [32]byte{0x42}), ErrDisputeNotFound)

	require.NoError(t, f.engine.Reject(context.Background(), resolver, record.ID))
	require.Equal(t, testDeposit, f.balance(validator))
	require.Zero(t, f.balance(bondPool))
	require.Zero(t, f.balance(witness))

	evts := f.recorder.Events()
	require.Equal(t, EventTypeDisputeRejected, evts[len(evts)-1].Type)
	require.Equal(t, "rejected", evts[len(evts)-1].Attributes["outcome"])

	err := f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, sc.evidence)
	require.ErrorIs(t, err, ErrDisputeNotFound)
}

func TestRejectRequiresConfiguredAuthority(t *testing.T) {
	db := storage.NewMemDB()
	ps := params.NewStore(paramstate.NewDB(db))
	engine := NewEngine(NewStore(db), ps, bond.NewVault(db, bondPool))
	err := engine.Reject(context.Background(), resolver, [32]byte{1})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, err, params.ErrParamUnset)
}

type failingLedger struct {
	*bond.Vault
}

func (failingLedger) StagePayout(storage.Batch, []bond.Payout) error {
	return errors.New("transfer rejected")
}

func TestFinalizeAbortsWhenPayoutFails(t *testing.T) {
	f := newEngineFixture(t)
	sc := defaultScenario(t)
	record := f.open(1, sc.messages)

	engine := NewEngine(f.store, f.params, failingLedger{f.vault})
	engine.SetNowFunc(func() int64 { return f.now })
	err := engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, sc.evidence)
	require.ErrorIs(t, err, ErrBondTransferFailed)
	require.Equal(t, CategoryExternal, Classify(err))

	stored, err := f.store.Get(record.ID)
	require.NoError(t, err)
	require.Equal(t, PhaseAwaiting, stored.Phase)
	require.Equal(t, testDeposit, f.balance(bondPool))

	// The original engine can still settle it.
	require.NoError(t, f.engine.VerifyAndFinalize(context.Background(), challenger, record.ID, sc.trusted, sc.evidence))
}

func TestBondConservationAcrossOutcomes(t *testing.T) {
	for _, deposit := range []uint64{0, 1, 2, 101, 1 << 40} {
		record := &DisputeRecord{Bond: uint256.NewInt(deposit), WitnessAuthorizer: witness, Validator: validator}
		for _, outcome := range []Outcome{PhaseConfirmed, PhaseRejected} {
			payouts, err := Payouts(outcome, record, challenger)
			require.NoError(t, err)
			total := new(uint256.Int)
			for _, p := range payouts {
				total.Add(total, p.Amount)
			}
			require.Equal(t, deposit, total.Uint64(), "%s with deposit %d", outcome, deposit)
		}
	}
	_, err := Payouts(PhaseAwaiting, &DisputeRecord{Bond: uint256.NewInt(1)}, challenger)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestBondSnapshotSurvivesDepositChange(t *testing.T) {
	f := newEngineFixture(t)
	sc := defaultScenario(t)
	record := f.open(1, sc.messages)
	require.NoError(t, f.params.SetDisputeSecurityDeposit(uint256.NewInt(5_000)))

	require.NoError(t, f.engine.Reject(context.Background(), resolver, record.ID))
	require.Equal(t, testDeposit, f.balance(validator))
	require.Zero(t, f.balance(bondPool))
}

type stubWindow struct {
	ok  bool
	err error
}

func (s stubWindow) IsWithinWindow(uint64) (bool, error) { return s.ok, s.err }

func TestOpenValidation(t *testing.T) {
	sc := defaultScenario(t)
	base := OpenRequest{
		Challenger:           challenger,
		ProtocolDestination:  destination,
		WitnessAuthorizer:    witness,
		Validator:            validator,
		AttestationID:        [32]byte{9},
		AttestationTimestamp: uint64(testNow),
		AuthorizedMessages:   sc.messages,
	}

	t.Run("duplicate", func(t *testing.T) {
		f := newEngineFixture(t)
		_, err := f.engine.Open(context.Background(), base)
		require.NoError(t, err)
		_, err = f.engine.Open(context.Background(), base)
		require.ErrorIs(t, err, ErrDisputeExists)
		require.Equal(t, uint64(9*testDeposit), f.balance(challenger))
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newEngineFixture(t)
		for name, mutate := range map[string]func(*OpenRequest){
			"messages":    func(r *OpenRequest) { r.AuthorizedMessages = nil },
			"challenger":  func(r *OpenRequest) { r.Challenger = common.Address{} },
			"destination": func(r *OpenRequest) { r.ProtocolDestination = common.Address{} },
			"witness":     func(r *OpenRequest) { r.WitnessAuthorizer = common.Address{} },
			"validator":   func(r *OpenRequest) { r.Validator = common.Address{} },
			"attestation": func(r *OpenRequest) { r.AttestationID = [32]byte{} },
		} {
			req := base
			mutate(&req)
			_, err := f.engine.Open(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest, name)
		}
	})

	t.Run("unfunded challenger", func(t *testing.T) {
		f := newEngineFixture(t)
		req := base
		req.Challenger = bystander
		_, err := f.engine.Open(context.Background(), req)
		require.ErrorIs(t, err, ErrBondTransferFailed)
		require.ErrorIs(t, err, bond.ErrInsufficientFunds)
		list, err := f.engine.List(0)
		require.NoError(t, err)
		require.Empty(t, list)
	})

	t.Run("outside window", func(t *testing.T) {
		f := newEngineFixture(t)
		f.engine.SetWindowChecker(stubWindow{ok: false})
		_, err := f.engine.Open(context.Background(), base)
		require.ErrorIs(t, err, ErrOutsideWindow)
	})

	t.Run("inactive validator", func(t *testing.T) {
		f := newEngineFixture(t)
		f.engine.SetRegistry(NewAllowlist(bystander))
		_, err := f.engine.Open(context.Background(), base)
		require.ErrorIs(t, err, ErrInactive)

		f.engine.SetRegistry(NewAllowlist(validator))
		record, err := f.engine.Open(context.Background(), base)
		require.NoError(t, err)
		require.Equal(t, DisputeID(base.AttestationID, destination, validator, challenger), record.ID)
		require.Equal(t, uint64(testNow), record.TimestampInit)
		require.Equal(t, testDeposit, record.Bond.Uint64())
	})
}

func TestVerifyAndFinalizeRequiresCaller(t *testing.T) {
	f := newEngineFixture(t)
	sc := defaultScenario(t)
	record := f.open(1, sc.messages)
	err := f.engine.VerifyAndFinalize(context.Background(), common.Address{}, record.ID, sc.trusted, sc.evidence)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEngineRequiresCollaborators(t *testing.T) {
	var engine *Engine
	_, err := engine.Get([32]byte{})
	require.ErrorIs(t, err, errNilStore)

	engine = NewEngine(NewStore(storage.NewMemDB()), nil, nil)
	require.ErrorIs(t, engine.VerifyAndFinalize(context.Background(), challenger, [32]byte{}, common.Hash{}, nil), errNilParams)
}
