package validation

import (
	"errors"

	"fraudproof/native/bond"
	"fraudproof/native/epoch"
)

var (
	errNilStore  = errors.New("validation engine: store not configured")
	errNilParams = errors.New("validation engine: params not configured")
	errNilLedger = errors.New("validation engine: bond ledger not configured")
)

// Lookup errors.
var (
	ErrDisputeNotFound     = errors.New("validation: dispute not found")
	ErrParticipantNotFound = errors.New("validation: participant not proven in preceding segment")
	ErrMessageNotFound     = errors.New("validation: message not proven in incorporation segment")
)

// State errors.
var (
	ErrAlreadySettled = errors.New("validation: dispute already settled")
	ErrTimedOut       = errors.New("validation: challenge period elapsed")
	ErrDisputeExists  = errors.New("validation: dispute already exists")
	ErrUnauthorized   = errors.New("validation: caller not authorised")
	ErrOutsideWindow  = errors.New("validation: attestation outside beacon time window")
	ErrInactive       = errors.New("validation: validator not active")
)

// Evidence-shape errors.
var (
	ErrInvalidEvidenceCount = errors.New("validation: evidence count mismatch")
	ErrMalformedSegment     = errors.New("validation: malformed segment header")
	ErrMalformedParticipant = errors.New("validation: malformed participant state")
	ErrInvalidRequest       = errors.New("validation: invalid dispute request")
)

// Evidence-integrity errors.
var (
	ErrInvalidSegmentDigest   = errors.New("validation: preceding segment digest mismatch")
	ErrInvalidAncestorDigest  = errors.New("validation: incorporation segment ancestor mismatch")
	ErrInvalidMessageEvidence = errors.New("validation: message digest mismatch")
	ErrSequenceOverflow       = errors.New("validation: participant sequence overflow")
)

// External-dependency errors.
var (
	ErrBondTransferFailed = errors.New("validation: bond transfer failed")
)

// Category groups errors for callers that map them to transport codes or
// metric labels.
type Category string

const (
	CategoryNone              Category = ""
	CategoryLookup            Category = "lookup"
	CategoryState             Category = "state"
	CategoryEvidenceShape     Category = "evidence_shape"
	CategoryEvidenceIntegrity Category = "evidence_integrity"
	CategoryExternal          Category = "external_dependency"
	CategoryInternal          Category = "internal"
)

var categories = []struct {
	category Category
	errs     []error
}{
	{CategoryLookup, []error{ErrDisputeNotFound, ErrParticipantNotFound, ErrMessageNotFound}},
	{CategoryState, []error{ErrAlreadySettled, ErrTimedOut, ErrDisputeExists, ErrUnauthorized, ErrOutsideWindow, ErrInactive}},
	{CategoryEvidenceShape, []error{ErrInvalidEvidenceCount, ErrMalformedSegment, ErrMalformedParticipant, ErrInvalidRequest}},
	{CategoryEvidenceIntegrity, []error{ErrInvalidSegmentDigest, ErrInvalidAncestorDigest, ErrInvalidMessageEvidence, ErrSequenceOverflow}},
	{CategoryExternal, []error{ErrBondTransferFailed, epoch.ErrConsensusRootMissing, bond.ErrInsufficientFunds}},
}

// Classify returns the category of err.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}
	for _, group := range categories {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.category
			}
		}
	}
	return CategoryInternal
}
