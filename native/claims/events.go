package claims

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"trustline/core/types"
)

const (
	EventTypeClaimSubmitted    = "claims.submitted"
	EventTypeClaimFinalized    = "claims.finalized"
	EventTypeChallengeOpened   = "claims.challenged"
	EventTypeChallengeResolved = "claims.resolved"
)

// ClaimSubmitted is emitted when a new claim enters the registry.
type ClaimSubmitted struct {
	ClaimID           [32]byte
	Claimant          [20]byte
	StakeWei          *big.Int
	ChallengeDeadline int64
}

func (ClaimSubmitted) EventType() string { return EventTypeClaimSubmitted }

func (e ClaimSubmitted) Event() *types.Event {
	return &types.Event{
		Type: EventTypeClaimSubmitted,
		Attributes: map[string]string{
			"claimId":           hex.EncodeToString(e.ClaimID[:]),
			"claimant":          hex.EncodeToString(e.Claimant[:]),
			"stake":             formatAmount(e.StakeWei),
			"challengeDeadline": strconv.FormatInt(e.ChallengeDeadline, 10),
		},
	}
}

// ClaimFinalized is emitted when a claim reaches a terminal status.
type ClaimFinalized struct {
	ClaimID [32]byte
	Status  ClaimStatus
}

func (ClaimFinalized) EventType() string { return EventTypeClaimFinalized }

func (e ClaimFinalized) Event() *types.Event {
	return &types.Event{
		Type: EventTypeClaimFinalized,
		Attributes: map[string]string{
			"claimId": hex.EncodeToString(e.ClaimID[:]),
			"status":  e.Status.String(),
		},
	}
}

// ChallengeOpened is emitted when a dispute is opened against a claim.
type ChallengeOpened struct {
	ClaimID    [32]byte
	Challenger [20]byte
	StakeWei   *big.Int
}

func (ChallengeOpened) EventType() string { return EventTypeChallengeOpened }

func (e ChallengeOpened) Event() *types.Event {
	return &types.Event{
		Type: EventTypeChallengeOpened,
		Attributes: map[string]string{
			"claimId":    hex.EncodeToString(e.ClaimID[:]),
			"challenger": hex.EncodeToString(e.Challenger[:]),
			"stake":      formatAmount(e.StakeWei),
		},
	}
}

// ChallengeResolved is emitted once a dispute settles.
type ChallengeResolved struct {
	ClaimID [32]byte
	Outcome ChallengeOutcome
}

func (ChallengeResolved) EventType() string { return EventTypeChallengeResolved }

func (e ChallengeResolved) Event() *types.Event {
	return &types.Event{
		Type: EventTypeChallengeResolved,
		Attributes: map[string]string{
			"claimId": hex.EncodeToString(e.ClaimID[:]),
			"outcome": e.Outcome.String(),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
