package validatord

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"fraudproof/native/bond"
	"fraudproof/native/epoch"
	"fraudproof/native/validation"
)

type messageJSON struct {
	Sequence      hexutil.Uint64 `json:"sequence"`
	FuelLimit     hexutil.Uint64 `json:"fuelLimit"`
	MessageDigest common.Hash    `json:"messageDigest"`
}

type openRequestJSON struct {
	Challenger           string         `json:"challenger,omitempty"`
	Destination          string         `json:"destination"`
	WitnessAuthorizer    string         `json:"witnessAuthorizer"`
	Validator            string         `json:"validator"`
	AttestationID        common.Hash    `json:"attestationId"`
	AttestationTimestamp hexutil.Uint64 `json:"attestationTimestamp"`
	Messages             []messageJSON  `json:"messages"`
}

type evidenceJSON struct {
	PrecedingSegment     hexutil.Bytes     `json:"precedingSegment"`
	IncorporationSegment hexutil.Bytes     `json:"incorporationSegment"`
	ParticipantProof     []hexutil.Bytes   `json:"participantProof"`
	MessageProofs        [][]hexutil.Bytes `json:"messageProofs"`
	MessagePositions     []hexutil.Bytes   `json:"messagePositions"`
}

type verifyRequestJSON struct {
	Caller               string       `json:"caller,omitempty"`
	TrustedSegmentDigest common.Hash  `json:"trustedSegmentDigest"`
	Evidence             evidenceJSON `json:"evidence"`
}

type depositRequestJSON struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type disputeJSON struct {
	ID                common.Hash    `json:"id"`
	Phase             string         `json:"phase"`
	TimestampInit     hexutil.Uint64 `json:"timestampInit"`
	Destination       common.Address `json:"destination"`
	WitnessAuthorizer common.Address `json:"witnessAuthorizer"`
	Validator         common.Address `json:"validator"`
	Challenger        common.Address `json:"challenger"`
	AttestationID     common.Hash    `json:"attestationId"`
	Bond              string         `json:"bond"`
	Messages          []messageJSON  `json:"messages"`
}

type balanceJSON struct {
	Address common.Address `json:"address"`
	Balance string         `json:"balance"`
}

type epochJSON struct {
	Epoch         uint64      `json:"epoch"`
	Timestamp     uint64      `json:"timestamp"`
	ConsensusRoot common.Hash `json:"consensusRoot"`
}

type errorJSON struct {
	Error     string `json:"error"`
	Category  string `json:"category,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func toDisputeJSON(r *validation.DisputeRecord) disputeJSON {
	out := disputeJSON{
		ID:                common.Hash(r.ID),
		Phase:             r.Phase.String(),
		TimestampInit:     hexutil.Uint64(r.TimestampInit),
		Destination:       r.ProtocolDestination,
		WitnessAuthorizer: r.WitnessAuthorizer,
		Validator:         r.Validator,
		Challenger:        r.Challenger,
		AttestationID:     common.Hash(r.AttestationID),
		Messages:          make([]messageJSON, len(r.AuthorizedMessages)),
	}
	if r.Bond != nil {
		out.Bond = r.Bond.Dec()
	}
	for i, m := range r.AuthorizedMessages {
		out.Messages[i] = messageJSON{
			Sequence:      hexutil.Uint64(m.Sequence),
			FuelLimit:     hexutil.Uint64(m.FuelLimit),
			MessageDigest: m.MessageDigest,
		}
	}
	return out
}

func (req openRequestJSON) toOpenRequest(challenger common.Address) (validation.OpenRequest, error) {
	out := validation.OpenRequest{Challenger: challenger}
	var err error
	if out.ProtocolDestination, err = parseAddress("destination", req.Destination); err != nil {
		return out, err
	}
	if out.WitnessAuthorizer, err = parseAddress("witnessAuthorizer", req.WitnessAuthorizer); err != nil {
		return out, err
	}
	if out.Validator, err = parseAddress("validator", req.Validator); err != nil {
		return out, err
	}
	out.AttestationID = req.AttestationID
	out.AttestationTimestamp = uint64(req.AttestationTimestamp)
	out.AuthorizedMessages = make([]validation.MessageDetails, len(req.Messages))
	for i, m := range req.Messages {
		out.AuthorizedMessages[i] = validation.MessageDetails{
			Sequence:      uint64(m.Sequence),
			FuelLimit:     uint64(m.FuelLimit),
			MessageDigest: m.MessageDigest,
		}
	}
	return out, nil
}

func (e evidenceJSON) toEvidence() *validation.ValidationEvidence {
	out := &validation.ValidationEvidence{
		PrecedingSegmentRLP:       e.PrecedingSegment,
		IncorporationSegmentRLP:   e.IncorporationSegment,
		ParticipantMerkleEvidence: bytesList(e.ParticipantProof),
		MessagePositions:          bytesList(e.MessagePositions),
	}
	if e.MessageProofs != nil {
		out.MessageMerkleEvidence = make([][][]byte, len(e.MessageProofs))
		for i, proof := range e.MessageProofs {
			out.MessageMerkleEvidence[i] = bytesList(proof)
		}
	}
	return out
}

func bytesList(in []hexutil.Bytes) [][]byte {
	if in == nil {
		return nil
	}
	out := make([][]byte, len(in))
	for i, b := range in {
		out[i] = b
	}
	return out
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", validation.ErrInvalidRequest, field)
	}
	return common.HexToAddress(trimmed), nil
}

func parseDisputeID(raw string) ([32]byte, error) {
	var id [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil || len(decoded) != len(id) {
		return id, fmt.Errorf("%w: dispute id must be 32 bytes of hex", validation.ErrInvalidRequest)
	}
	copy(id[:], decoded)
	return id, nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", validation.ErrInvalidRequest, err)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", validation.ErrInvalidRequest)
	}
	return amount, nil
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, validation.ErrDisputeNotFound):
		return http.StatusNotFound
	case errors.Is(err, validation.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, bond.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, epoch.ErrConsensusRootMissing):
		return http.StatusBadGateway
	case errors.Is(err, epoch.ErrBeforeLaunch):
		return http.StatusBadRequest
	}
	switch validation.Classify(err) {
	case validation.CategoryState:
		return http.StatusConflict
	case validation.CategoryEvidenceShape:
		return http.StatusBadRequest
	case validation.CategoryLookup, validation.CategoryEvidenceIntegrity:
		return http.StatusUnprocessableEntity
	case validation.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
