package liquidation

import (
	"errors"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"trustline/core/events"
	nativecommon "trustline/native/common"
	"trustline/native/lending"
	"trustline/native/reputation"
)

var (
	errNilState  = errors.New("liquidation engine: state not configured")
	errNilOracle = errors.New("liquidation engine: health oracle not configured")
	errNilLoans  = errors.New("liquidation engine: lending engine not configured")
)

const moduleName = "liquidation"

type engineState interface {
	AuctionGet(id [32]byte) (*Auction, bool, error)
	AuctionPut(*Auction) error
	OpenAuctionGet(loanID [32]byte) ([32]byte, bool, error)
	OpenAuctionPut(loanID [32]byte, auctionID [32]byte) error
	OpenAuctionDelete(loanID [32]byte) error
}

// loanSource is the slice of the lending engine the auction needs: reading
// loans with accrued interest and settling liquidations.
type loanSource interface {
	Loan(id [32]byte) (*lending.Loan, error)
	Liquidate(id [32]byte, executor [20]byte, paymentWei *big.Int) (*lending.Loan, error)
}

// reputationView resolves the borrower tier driving the grace period.
type reputationView interface {
	Score(subject [20]byte) uint64
	Blacklisted(subject [20]byte) bool
}

// Engine runs the reputation-aware Dutch-auction liquidation process: a
// tier-dependent grace period followed by a linearly increasing collateral
// discount capped at MaxDiscountBps.
type Engine struct {
	state      engineState
	loans      loanSource
	oracle     HealthOracle
	reputation reputationView
	roles      nativecommon.RoleView
	pauses     nativecommon.PauseView
	emitter    events.Emitter
	nowFn      func() int64
}

// NewEngine creates a liquidation engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLoans wires the lending engine used to read and settle loans.
func (e *Engine) SetLoans(loans loanSource) {
	if e == nil {
		return
	}
	e.loans = loans
}

// SetOracle wires the external health-factor capability.
func (e *Engine) SetOracle(oracle HealthOracle) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// SetReputation wires the reputation view resolving borrower tiers.
func (e *Engine) SetReputation(view reputationView) {
	if e == nil {
		return
	}
	e.reputation = view
}

// SetRoles wires the access-control view used by CancelAuction.
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

// SetNowFunc overrides the time source used for grace and discount
// arithmetic. Primarily intended for tests.
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

func (e *Engine) loadAuction(id [32]byte) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	auction, ok, err := e.state.AuctionGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAuctionNotFound
	}
	if auction.DebtWei == nil {
		auction.DebtWei = big.NewInt(0)
	}
	if auction.CollateralWei == nil {
		auction.CollateralWei = big.NewInt(0)
	}
	return auction, nil
}

func auctionID(loanID [32]byte, startTime int64) [32]byte {
	var buf [8]byte
	v := uint64(startTime)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return ethcrypto.Keccak256Hash([]byte("trustline/auction/"), loanID[:], buf[:])
}

func (e *Engine) gracePeriodFor(borrower [20]byte) int64 {
	if e.reputation == nil {
		return 0
	}
	// Blacklisted borrowers are maximally restrictive: no self-cure
	// window regardless of residual score.
	if e.reputation.Blacklisted(borrower) {
		return 0
	}
	return GracePeriodSeconds(reputation.TierOf(e.reputation.Score(borrower)))
}

// StartLiquidation opens an auction against an unhealthy active loan. The
// grace period is derived from the borrower's reputation tier at start time.
// At most one live auction may exist per loan.
func (e *Engine) StartLiquidation(loanID [32]byte) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.loans == nil {
		return nil, errNilLoans
	}
	if e.oracle == nil {
		return nil, errNilOracle
	}
	loan, err := e.loans.Loan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != lending.LoanActive {
		return nil, lending.ErrLoanNotActive
	}
	if existingID, ok, err := e.state.OpenAuctionGet(loanID); err != nil {
		return nil, err
	} else if ok {
		existing, found, err := e.state.AuctionGet(existingID)
		if err != nil {
			return nil, err
		}
		if found && !existing.Executed {
			return nil, ErrAuctionOpen
		}
	}
	health, err := e.oracle.HealthFactor(loanID)
	if err != nil {
		return nil, err
	}
	if health == nil || health.Cmp(big.NewRat(1, 1)) >= 0 {
		return nil, ErrLoanHealthy
	}

	now := e.now()
	auction := &Auction{
		ID:             auctionID(loanID, now),
		LoanID:         loanID,
		Borrower:       loan.Borrower,
		DebtWei:        loan.DebtWei(),
		CollateralWei:  new(big.Int).Set(loan.CollateralWei),
		StartTime:      now,
		GracePeriodEnd: now + e.gracePeriodFor(loan.Borrower),
		AuctionSeconds: AuctionDurationSeconds,
		MaxDiscountBps: MaxDiscountBps,
	}
	if err := e.state.AuctionPut(auction); err != nil {
		return nil, err
	}
	if err := e.state.OpenAuctionPut(loanID, auction.ID); err != nil {
		return nil, err
	}
	e.emit(AuctionStarted{
		AuctionID:      auction.ID,
		LoanID:         loanID,
		GracePeriodEnd: auction.GracePeriodEnd,
	})
	return auction.Clone(), nil
}

// CurrentDiscount returns the discount in basis points offered at the
// engine's current clock reading: zero during the grace period, capped at
// MaxDiscountBps once the auction window has fully elapsed, and linearly
// interpolated in between.
func (e *Engine) CurrentDiscount(auctionID [32]byte) (uint64, error) {
	auction, err := e.loadAuction(auctionID)
	if err != nil {
		return 0, err
	}
	return discountAt(auction, e.now()), nil
}

func discountAt(auction *Auction, now int64) uint64 {
	if auction == nil || now < auction.GracePeriodEnd {
		return 0
	}
	elapsed := now - auction.GracePeriodEnd
	if auction.AuctionSeconds <= 0 || elapsed >= auction.AuctionSeconds {
		return auction.MaxDiscountBps
	}
	return uint64(elapsed) * auction.MaxDiscountBps / uint64(auction.AuctionSeconds)
}

// ExecuteLiquidation settles an auction after its grace period. The executor
// pays collateral value less the current discount; the payment must still
// cover the outstanding debt so the pool is never under-compensated.
func (e *Engine) ExecuteLiquidation(id [32]byte, executor [20]byte) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.loans == nil {
		return nil, errNilLoans
	}
	auction, err := e.loadAuction(id)
	if err != nil {
		return nil, err
	}
	if auction.Executed {
		return nil, ErrAuctionExecuted
	}
	now := e.now()
	if now < auction.GracePeriodEnd {
		return nil, ErrGracePeriodActive
	}
	discount := discountAt(auction, now)

	// Price paid by the executor: collateral value less the discount.
	price := new(big.Int).Mul(auction.CollateralWei, new(big.Int).SetUint64(10_000-discount))
	price.Quo(price, big.NewInt(10_000))

	loan, err := e.loans.Loan(auction.LoanID)
	if err != nil {
		return nil, err
	}
	if price.Cmp(loan.DebtWei()) < 0 {
		return nil, ErrUnprofitable
	}

	if _, err := e.loans.Liquidate(auction.LoanID, executor, price); err != nil {
		return nil, err
	}

	auction.Executed = true
	auction.Executor = executor
	auction.ExecutedAt = now
	if err := e.state.AuctionPut(auction); err != nil {
		return nil, err
	}
	if err := e.state.OpenAuctionDelete(auction.LoanID); err != nil {
		return nil, err
	}
	e.emit(AuctionExecuted{
		AuctionID:     auction.ID,
		DiscountBps:   discount,
		CollateralWei: new(big.Int).Set(auction.CollateralWei),
	})
	return auction.Clone(), nil
}

// CancelAuction terminally closes an auction without transferring collateral,
// for loans repaid during the grace or auction window. Admin only.
func (e *Engine) CancelAuction(id [32]byte, caller [20]byte, reason string) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleAdmin, caller); err != nil {
		return nil, err
	}
	auction, err := e.loadAuction(id)
	if err != nil {
		return nil, err
	}
	if auction.Executed {
		return nil, ErrAuctionExecuted
	}
	auction.Executed = true
	auction.ExecutedAt = e.now()
	auction.CancelReason = reason
	if err := e.state.AuctionPut(auction); err != nil {
		return nil, err
	}
	if err := e.state.OpenAuctionDelete(auction.LoanID); err != nil {
		return nil, err
	}
	e.emit(AuctionCancelled{AuctionID: auction.ID, Reason: reason})
	return auction.Clone(), nil
}

// Auction returns a copy of the stored auction.
func (e *Engine) Auction(id [32]byte) (*Auction, error) {
	auction, err := e.loadAuction(id)
	if err != nil {
		return nil, err
	}
	return auction.Clone(), nil
}
