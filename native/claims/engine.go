package claims

import (
	"errors"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"trustline/core/events"
	"trustline/core/types"
	nativecommon "trustline/native/common"
)

var (
	errNilState            = errors.New("claims engine: state not configured")
	errNilVerifier         = errors.New("claims engine: proof verifier not configured")
	errInvalidAmount       = errors.New("claims engine: amount must be positive")
	errInsufficientBalance = errors.New("claims engine: insufficient balance")
)

const moduleName = "claims"

// Protocol constants governing the claim-and-challenge lifecycle.
const (
	// ChallengeWindow is how long a pending claim remains open to
	// challenges before it can be finalized.
	ChallengeWindow = 7 * 24 * time.Hour
	// ResolutionTimeout bounds how long a claimant may leave a challenge
	// unresolved before anyone may settle it in the challenger's favour.
	ResolutionTimeout = 72 * time.Hour
	// MinCheckpointGap is the smallest checkpoint span a claim may sample,
	// preventing flash-loan balance snapshots.
	MinCheckpointGap uint64 = 100
	// ChallengeStakeMultiplier scales the claimant stake into the minimum
	// challenger stake, making baseless challenges costly.
	ChallengeStakeMultiplier = 2
)

// UserStakeWei is the minimum stake escrowed with a claim submission
// (0.1 token).
var UserStakeWei = big.NewInt(100_000_000_000_000_000)

type engineState interface {
	ClaimGet(id [32]byte) (*Claim, bool, error)
	ClaimPut(*Claim) error
	ChallengeGet(claimID [32]byte) (*Challenge, bool, error)
	ChallengePut(*Challenge) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// reputationHook receives accepted claims so the reputation ledger can
// register them without the claims engine importing the ledger directly.
type reputationHook interface {
	RegisterClaim(subject [20]byte, minBalanceWei *big.Int, durationCheckpoints uint64) error
}

// Engine orchestrates the proof-of-holding claim registry and its dispute
// lifecycle. Stakes are held in the module vault and released or forfeited
// only at finalize/resolve transition points.
type Engine struct {
	state       engineState
	vault       [20]byte
	minStakeWei *big.Int
	verifier    ProofVerifier
	reputation  reputationHook
	roles       nativecommon.RoleView
	pauses      nativecommon.PauseView
	emitter     events.Emitter
	nowFn       func() int64
}

// NewEngine creates a claims engine with a no-op emitter. Callers wire the
// state backend, verifier and reputation hook before use.
func NewEngine(vault [20]byte) *Engine {
	return &Engine{
		vault:   vault,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetMinimumStake overrides the minimum claim stake. Passing nil restores the
// package default.
func (e *Engine) SetMinimumStake(stakeWei *big.Int) {
	if e == nil {
		return
	}
	if stakeWei == nil || stakeWei.Sign() <= 0 {
		e.minStakeWei = nil
		return
	}
	e.minStakeWei = new(big.Int).Set(stakeWei)
}

func (e *Engine) minimumStake() *big.Int {
	if e == nil || e.minStakeWei == nil {
		return UserStakeWei
	}
	return e.minStakeWei
}

// SetVerifier wires the external proof verification capability.
func (e *Engine) SetVerifier(verifier ProofVerifier) {
	if e == nil {
		return
	}
	e.verifier = verifier
}

// SetReputation wires the hook notified when claims are accepted.
func (e *Engine) SetReputation(hook reputationHook) {
	if e == nil {
		return
	}
	e.reputation = hook
}

// SetRoles wires the access-control view used by InvalidateClaim.
func (e *Engine) SetRoles(view nativecommon.RoleView) {
	if e == nil {
		return
	}
	e.roles = view
}

// SetPauses wires the pause switches honoured by every public operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{BalanceWei: big.NewInt(0), CollateralWei: big.NewInt(0)}
	}
	if acc.BalanceWei == nil {
		acc.BalanceWei = big.NewInt(0)
	}
	if acc.CollateralWei == nil {
		acc.CollateralWei = big.NewInt(0)
	}
	return acc
}

func (e *Engine) transferBalance(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.BalanceWei.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	fromAcc.BalanceWei = new(big.Int).Sub(fromAcc.BalanceWei, amount)
	toAcc.BalanceWei = new(big.Int).Add(toAcc.BalanceWei, amount)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

func (e *Engine) loadClaim(id [32]byte) (*Claim, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	claim, ok, err := e.state.ClaimGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrClaimNotFound
	}
	return claim, nil
}

func (e *Engine) loadChallenge(claimID [32]byte) (*Challenge, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	challenge, ok, err := e.state.ChallengeGet(claimID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrClaimNotChallenged
	}
	return challenge, nil
}

// ClaimID derives the deterministic identifier for a claim definition.
func ClaimID(claimant [20]byte, merkleRoot [32]byte, startCheckpoint, endCheckpoint uint64) [32]byte {
	var bounds [16]byte
	putUint64(bounds[:8], startCheckpoint)
	putUint64(bounds[8:], endCheckpoint)
	return ethcrypto.Keccak256Hash(claimant[:], merkleRoot[:], bounds[:])
}

func putUint64(dst []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}

// SubmitClaim escrows the stake and records a new pending claim with a
// seven-day challenge deadline. Resubmitting an identical definition returns
// the stored claim without moving additional stake.
func (e *Engine) SubmitClaim(claimant [20]byte, minBalanceWei *big.Int, startCheckpoint, endCheckpoint uint64, merkleRoot [32]byte, stakeWei *big.Int) (*Claim, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if minBalanceWei == nil || minBalanceWei.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if stakeWei == nil || stakeWei.Cmp(e.minimumStake()) < 0 {
		return nil, ErrInsufficientStake
	}
	if endCheckpoint <= startCheckpoint || endCheckpoint-startCheckpoint < MinCheckpointGap {
		return nil, ErrInsufficientSampleGap
	}

	id := ClaimID(claimant, merkleRoot, startCheckpoint, endCheckpoint)
	existing, ok, err := e.state.ClaimGet(id)
	if err != nil {
		return nil, err
	}
	if ok {
		if existing.Claimant != claimant || existing.MerkleRoot != merkleRoot ||
			existing.StartCheckpoint != startCheckpoint || existing.EndCheckpoint != endCheckpoint ||
			existing.MinBalanceWei.Cmp(minBalanceWei) != 0 {
			return nil, ErrClaimExists
		}
		return existing.Clone(), nil
	}

	if err := e.transferBalance(claimant, e.vault, stakeWei); err != nil {
		return nil, err
	}

	now := e.now()
	claim := &Claim{
		ID:                id,
		Claimant:          claimant,
		MinBalanceWei:     new(big.Int).Set(minBalanceWei),
		StartCheckpoint:   startCheckpoint,
		EndCheckpoint:     endCheckpoint,
		MerkleRoot:        merkleRoot,
		StakeWei:          new(big.Int).Set(stakeWei),
		Status:            ClaimPending,
		SubmittedAt:       now,
		ChallengeDeadline: now + int64(ChallengeWindow/time.Second),
	}
	if err := e.state.ClaimPut(claim); err != nil {
		return nil, err
	}
	e.emit(ClaimSubmitted{
		ClaimID:           id,
		Claimant:          claimant,
		StakeWei:          new(big.Int).Set(stakeWei),
		ChallengeDeadline: claim.ChallengeDeadline,
	})
	return claim.Clone(), nil
}

// FinalizeClaim accepts a pending claim once its challenge window has closed
// without a dispute. Anyone may call it; the stake returns to the claimant
// and the accepted holding is registered with the reputation ledger.
func (e *Engine) FinalizeClaim(id [32]byte) (*Claim, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	claim, err := e.loadClaim(id)
	if err != nil {
		return nil, err
	}
	if claim.Status != ClaimPending {
		return nil, ErrClaimNotPending
	}
	if e.now() <= claim.ChallengeDeadline {
		return nil, ErrClaimNotReady
	}
	// Persist the terminal status before releasing the stake: if the
	// status write failed after the payout, a retry would pay twice.
	claim.Status = ClaimAccepted
	claim.FinalizedAt = e.now()
	if err := e.state.ClaimPut(claim); err != nil {
		return nil, err
	}
	if err := e.transferBalance(e.vault, claim.Claimant, claim.StakeWei); err != nil {
		return nil, err
	}
	if e.reputation != nil {
		if err := e.reputation.RegisterClaim(claim.Claimant, claim.MinBalanceWei, claim.Duration()); err != nil {
			return nil, err
		}
	}
	e.emit(ClaimFinalized{ClaimID: id, Status: claim.Status})
	return claim.Clone(), nil
}

// ChallengeClaim opens a dispute against a pending claim. The challenger must
// stake at least twice the claimant stake so baseless challenges stay costly.
func (e *Engine) ChallengeClaim(id [32]byte, challenger [20]byte, stakeWei *big.Int) (*Challenge, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	claim, err := e.loadClaim(id)
	if err != nil {
		return nil, err
	}
	if claim.Status != ClaimPending {
		return nil, ErrClaimNotPending
	}
	if e.now() > claim.ChallengeDeadline {
		return nil, ErrChallengeWindowClosed
	}
	minStake := new(big.Int).Mul(claim.StakeWei, big.NewInt(ChallengeStakeMultiplier))
	if stakeWei == nil || stakeWei.Cmp(minStake) < 0 {
		return nil, ErrChallengeStakeTooLow
	}
	if err := e.transferBalance(challenger, e.vault, stakeWei); err != nil {
		return nil, err
	}
	challenge := &Challenge{
		ClaimID:    id,
		Challenger: challenger,
		StakeWei:   new(big.Int).Set(stakeWei),
		Outcome:    ChallengePending,
		OpenedAt:   e.now(),
	}
	if err := e.state.ChallengePut(challenge); err != nil {
		return nil, err
	}
	claim.Status = ClaimChallenged
	if err := e.state.ClaimPut(claim); err != nil {
		return nil, err
	}
	e.emit(ChallengeOpened{ClaimID: id, Challenger: challenger, StakeWei: new(big.Int).Set(stakeWei)})
	return challenge.Clone(), nil
}

// ResolveWithProof settles a challenged claim via the external verifier. Only
// the claimant may submit the proof. A passing proof accepts the claim and
// forfeits the challenger stake to the claimant as compensation for forced
// proof generation; a failing proof rejects the claim and pays the claimant
// stake to the challenger on top of their own returned stake.
func (e *Engine) ResolveWithProof(id [32]byte, caller [20]byte, proof []byte) (*Claim, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.verifier == nil {
		return nil, errNilVerifier
	}
	claim, err := e.loadClaim(id)
	if err != nil {
		return nil, err
	}
	if claim.Status != ClaimChallenged {
		return nil, ErrClaimNotChallenged
	}
	if caller != claim.Claimant {
		return nil, ErrNotClaimant
	}
	challenge, err := e.loadChallenge(id)
	if err != nil {
		return nil, err
	}
	if e.verifier.Verify(id, proof) {
		return e.settle(claim, challenge, ClaimantWon)
	}
	return e.settle(claim, challenge, ChallengerWon)
}

// ResolveTimeout settles a challenge the claimant has stalled past the
// resolution timeout. Anyone may call it; the challenger wins by default so
// indefinite stalling never pays.
func (e *Engine) ResolveTimeout(id [32]byte) (*Claim, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	claim, err := e.loadClaim(id)
	if err != nil {
		return nil, err
	}
	if claim.Status != ClaimChallenged {
		return nil, ErrClaimNotChallenged
	}
	challenge, err := e.loadChallenge(id)
	if err != nil {
		return nil, err
	}
	if e.now() < challenge.OpenedAt+int64(ResolutionTimeout/time.Second) {
		return nil, ErrResolutionNotDue
	}
	return e.settle(claim, challenge, ChallengerWon)
}

func (e *Engine) settle(claim *Claim, challenge *Challenge, outcome ChallengeOutcome) (*Claim, error) {
	total := new(big.Int).Add(claim.StakeWei, challenge.StakeWei)
	var winner [20]byte
	switch outcome {
	case ClaimantWon:
		claim.Status = ClaimAccepted
		winner = claim.Claimant
	case ChallengerWon:
		claim.Status = ClaimRejected
		winner = challenge.Challenger
	default:
		return nil, ErrClaimNotChallenged
	}
	// Outcome is persisted before the payout so a failed write cannot
	// leave a settled balance behind a still-challenged claim.
	claim.FinalizedAt = e.now()
	challenge.Outcome = outcome
	if err := e.state.ChallengePut(challenge); err != nil {
		return nil, err
	}
	if err := e.state.ClaimPut(claim); err != nil {
		return nil, err
	}
	if err := e.transferBalance(e.vault, winner, total); err != nil {
		return nil, err
	}
	if claim.Status == ClaimAccepted && e.reputation != nil {
		if err := e.reputation.RegisterClaim(claim.Claimant, claim.MinBalanceWei, claim.Duration()); err != nil {
			return nil, err
		}
	}
	e.emit(ChallengeResolved{ClaimID: claim.ID, Outcome: outcome})
	e.emit(ClaimFinalized{ClaimID: claim.ID, Status: claim.Status})
	return claim.Clone(), nil
}

// InvalidateClaim voids a pending or challenged claim and refunds every
// escrowed stake. Admin only; intended as an operational kill-switch for
// claims rooted in corrupted checkpoint data.
func (e *Engine) InvalidateClaim(id [32]byte, caller [20]byte) (*Claim, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleAdmin, caller); err != nil {
		return nil, err
	}
	claim, err := e.loadClaim(id)
	if err != nil {
		return nil, err
	}
	if claim.Status != ClaimPending && claim.Status != ClaimChallenged {
		return nil, ErrClaimNotPending
	}
	var challenge *Challenge
	if claim.Status == ClaimChallenged {
		challenge, err = e.loadChallenge(id)
		if err != nil {
			return nil, err
		}
	}
	// Terminal status first, refunds second, so a retry after a failed
	// status write cannot refund the stakes twice.
	claim.Status = ClaimInvalidated
	claim.FinalizedAt = e.now()
	if err := e.state.ClaimPut(claim); err != nil {
		return nil, err
	}
	if err := e.transferBalance(e.vault, claim.Claimant, claim.StakeWei); err != nil {
		return nil, err
	}
	if challenge != nil {
		if err := e.transferBalance(e.vault, challenge.Challenger, challenge.StakeWei); err != nil {
			return nil, err
		}
	}
	e.emit(ClaimFinalized{ClaimID: id, Status: claim.Status})
	return claim.Clone(), nil
}

// Claim returns a copy of the stored claim.
func (e *Engine) Claim(id [32]byte) (*Claim, error) {
	claim, err := e.loadClaim(id)
	if err != nil {
		return nil, err
	}
	return claim.Clone(), nil
}

// Challenge returns a copy of the stored challenge for a claim.
func (e *Engine) Challenge(claimID [32]byte) (*Challenge, error) {
	challenge, err := e.loadChallenge(claimID)
	if err != nil {
		return nil, err
	}
	return challenge.Clone(), nil
}
