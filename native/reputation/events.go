package reputation

import (
	"encoding/hex"
	"strconv"

	"trustline/core/types"
)

const (
	EventTypeReputationUpdated  = "reputation.updated"
	EventTypeReputationSlashed  = "reputation.slashed"
	EventTypeReputationRestored = "reputation.restored"
)

// Update reasons carried in the reputation.updated payload.
const (
	UpdateReasonClaimAccepted  = "claim_accepted"
	UpdateReasonDecay          = "decay"
	UpdateReasonLoanRepaid     = "loan_repaid"
	UpdateReasonLoanLiquidated = "loan_liquidated"
)

// ReputationUpdated is emitted whenever a subject's score changes.
type ReputationUpdated struct {
	Subject [20]byte
	Score   uint64
	Reason  string
}

func (ReputationUpdated) EventType() string { return EventTypeReputationUpdated }

func (e ReputationUpdated) Event() *types.Event {
	return &types.Event{
		Type: EventTypeReputationUpdated,
		Attributes: map[string]string{
			"subject": hex.EncodeToString(e.Subject[:]),
			"score":   strconv.FormatUint(e.Score, 10),
			"reason":  e.Reason,
		},
	}
}

// ReputationSlashed is emitted when an authorized slasher penalises a subject.
type ReputationSlashed struct {
	Subject  [20]byte
	Severity uint64
	Score    uint64
}

func (ReputationSlashed) EventType() string { return EventTypeReputationSlashed }

func (e ReputationSlashed) Event() *types.Event {
	return &types.Event{
		Type: EventTypeReputationSlashed,
		Attributes: map[string]string{
			"subject":  hex.EncodeToString(e.Subject[:]),
			"severity": strconv.FormatUint(e.Severity, 10),
			"score":    strconv.FormatUint(e.Score, 10),
		},
	}
}

// ReputationRestored is emitted when an admin clears a blacklist flag.
type ReputationRestored struct {
	Subject [20]byte
	Score   uint64
}

func (ReputationRestored) EventType() string { return EventTypeReputationRestored }

func (e ReputationRestored) Event() *types.Event {
	return &types.Event{
		Type: EventTypeReputationRestored,
		Attributes: map[string]string{
			"subject": hex.EncodeToString(e.Subject[:]),
			"score":   strconv.FormatUint(e.Score, 10),
		},
	}
}
