package claims

import (
	"errors"
	"math/big"
)

// ClaimStatus represents the lifecycle states of a proof-of-holding claim.
type ClaimStatus uint8

const (
	ClaimPending ClaimStatus = iota
	ClaimChallenged
	ClaimAccepted
	ClaimRejected
	ClaimInvalidated
)

// Valid reports whether the status value is within the supported range.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimPending, ClaimChallenged, ClaimAccepted, ClaimRejected, ClaimInvalidated:
		return true
	default:
		return false
	}
}

// String renders the canonical status name used in event payloads.
func (s ClaimStatus) String() string {
	switch s {
	case ClaimPending:
		return "pending"
	case ClaimChallenged:
		return "challenged"
	case ClaimAccepted:
		return "accepted"
	case ClaimRejected:
		return "rejected"
	case ClaimInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// ChallengeOutcome represents the terminal result of a dispute.
type ChallengeOutcome uint8

const (
	ChallengePending ChallengeOutcome = iota
	ChallengerWon
	ClaimantWon
)

// String renders the canonical outcome name used in event payloads.
func (o ChallengeOutcome) String() string {
	switch o {
	case ChallengerWon:
		return "challenger_won"
	case ClaimantWon:
		return "claimant_won"
	default:
		return "pending"
	}
}

// Claim captures a staked assertion that the claimant held at least
// MinBalanceWei across the sampled checkpoint span. The identifier is the
// keccak256 hash of the claimant, merkle root and checkpoint bounds, ensuring
// deterministic IDs for identical definitions.
type Claim struct {
	ID                [32]byte
	Claimant          [20]byte
	MinBalanceWei     *big.Int
	StartCheckpoint   uint64
	EndCheckpoint     uint64
	MerkleRoot        [32]byte
	StakeWei          *big.Int
	Status            ClaimStatus
	SubmittedAt       int64
	ChallengeDeadline int64
	FinalizedAt       int64
}

// Duration returns the checkpoint span covered by the claim.
func (c *Claim) Duration() uint64 {
	if c == nil || c.EndCheckpoint <= c.StartCheckpoint {
		return 0
	}
	return c.EndCheckpoint - c.StartCheckpoint
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	clone := *c
	if c.MinBalanceWei != nil {
		clone.MinBalanceWei = new(big.Int).Set(c.MinBalanceWei)
	} else {
		clone.MinBalanceWei = big.NewInt(0)
	}
	if c.StakeWei != nil {
		clone.StakeWei = new(big.Int).Set(c.StakeWei)
	} else {
		clone.StakeWei = big.NewInt(0)
	}
	return &clone
}

// Challenge captures the dispute opened against a pending claim. Exactly one
// challenge may exist per claim.
type Challenge struct {
	ClaimID    [32]byte
	Challenger [20]byte
	StakeWei   *big.Int
	Outcome    ChallengeOutcome
	OpenedAt   int64
}

// Clone returns a deep copy of the challenge.
func (c *Challenge) Clone() *Challenge {
	if c == nil {
		return nil
	}
	clone := *c
	if c.StakeWei != nil {
		clone.StakeWei = new(big.Int).Set(c.StakeWei)
	} else {
		clone.StakeWei = big.NewInt(0)
	}
	return &clone
}

// ProofVerifier is the external zero-knowledge verification capability used
// to settle disputes. Its internal computation is out of scope.
type ProofVerifier interface {
	Verify(claimID [32]byte, proof []byte) bool
}

var (
	// ErrClaimNotFound marks lookups for unknown claim identifiers.
	ErrClaimNotFound = errors.New("claims: claim not found")
	// ErrClaimNotPending marks transitions attempted on claims that left
	// the pending state.
	ErrClaimNotPending = errors.New("claims: claim not pending")
	// ErrClaimNotChallenged marks resolutions attempted on claims without
	// an open dispute.
	ErrClaimNotChallenged = errors.New("claims: claim not challenged")
	// ErrClaimNotReady marks finalize calls before the challenge deadline.
	ErrClaimNotReady = errors.New("claims: challenge window still open")
	// ErrInsufficientStake marks submissions below the minimum stake.
	ErrInsufficientStake = errors.New("claims: stake below minimum")
	// ErrInsufficientSampleGap rejects checkpoint spans narrow enough to be
	// gamed with momentary balances.
	ErrInsufficientSampleGap = errors.New("claims: checkpoint gap below minimum")
	// ErrChallengeStakeTooLow marks challenges staking less than twice the
	// claimant stake.
	ErrChallengeStakeTooLow = errors.New("claims: challenge stake below minimum")
	// ErrChallengeWindowClosed marks challenges after the deadline.
	ErrChallengeWindowClosed = errors.New("claims: challenge window closed")
	// ErrResolutionNotDue marks timeout resolutions before the stall
	// deadline has elapsed.
	ErrResolutionNotDue = errors.New("claims: resolution timeout not reached")
	// ErrNotClaimant marks proof submissions from anyone but the claimant.
	ErrNotClaimant = errors.New("claims: caller is not the claimant")
	// ErrClaimExists marks submissions whose identifier collides with a
	// different stored definition.
	ErrClaimExists = errors.New("claims: identifier already exists with different definition")
)
