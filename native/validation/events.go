package validation

import (
	"encoding/hex"
	"strconv"

	"fraudproof/core/types"
)

const (
	EventTypeDisputeOpened    = "validation.opened"
	EventTypeDisputeConfirmed = "validation.confirmed"
	EventTypeDisputeRejected  = "validation.rejected"
)

type validationEvent struct {
	evt *types.Event
}

func (e validationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e validationEvent) Event() *types.Event { return e.evt }

// NewOpenedEvent returns the payload emitted when a dispute is opened.
func NewOpenedEvent(r *DisputeRecord) *types.Event {
	evt := newDisputeEvent(EventTypeDisputeOpened, r)
	if r != nil {
		evt.Attributes["challenger"] = r.Challenger.Hex()
		evt.Attributes["messages"] = strconv.Itoa(len(r.AuthorizedMessages))
		evt.Attributes["timestampInit"] = strconv.FormatUint(r.TimestampInit, 10)
	}
	return evt
}

// NewOutcomeEvent returns the payload emitted when a dispute is finalized.
// Confirmed and Rejected outcomes carry distinct event types.
func NewOutcomeEvent(outcome Outcome, r *DisputeRecord) *types.Event {
	eventType := EventTypeDisputeConfirmed
	if outcome == PhaseRejected {
		eventType = EventTypeDisputeRejected
	}
	evt := newDisputeEvent(eventType, r)
	evt.Attributes["outcome"] = outcome.String()
	return evt
}

func newDisputeEvent(eventType string, r *DisputeRecord) *types.Event {
	attrs := make(map[string]string)
	if r != nil {
		attrs["id"] = hex.EncodeToString(r.ID[:])
		attrs["attestationId"] = hex.EncodeToString(r.AttestationID[:])
		attrs["destination"] = r.ProtocolDestination.Hex()
		attrs["validator"] = r.Validator.Hex()
		attrs["witnessAuthorizer"] = r.WitnessAuthorizer.Hex()
		if r.Bond != nil {
			attrs["bond"] = r.Bond.Dec()
		}
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
