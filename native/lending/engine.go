package lending

import (
	"errors"
	"math/big"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"trustline/core/events"
	"trustline/core/types"
	nativecommon "trustline/native/common"
	"trustline/native/reputation"
)

var (
	errNilState            = errors.New("lending engine: state not configured")
	errInvalidAmount       = errors.New("lending engine: amount must be positive")
	errInsufficientBalance = errors.New("lending engine: insufficient balance")
	errPaymentBelowDebt    = errors.New("lending engine: liquidation payment below outstanding debt")
)

var basisPoints = big.NewInt(10_000)

const (
	moduleName  = "lending"
	yearSeconds = 31_536_000
)

type engineState interface {
	PoolGet(poolType string) (*Pool, bool, error)
	PoolPut(*Pool) error
	LoanGet(id [32]byte) (*Loan, bool, error)
	LoanPut(*Loan) error
	NextLoanSeq() (uint64, error)
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// reputationView is the read surface of the reputation ledger consulted at
// borrow time plus the hooks signalled on repayment and liquidation.
type reputationView interface {
	Score(subject [20]byte) uint64
	Blacklisted(subject [20]byte) bool
	RecordRepayment(subject [20]byte) error
	RecordLiquidation(subject [20]byte) error
}

// Engine orchestrates pool liquidity and tier-gated borrowing. The module
// vault custodies pool liquidity; the collateral vault custodies pledged
// collateral.
type Engine struct {
	state          engineState
	moduleAddress  [20]byte
	collateralAddr [20]byte
	params         RiskParameters
	reputation     reputationView
	breaker        *CircuitBreaker
	roles          nativecommon.RoleView
	pauses         nativecommon.PauseView
	emitter        events.Emitter
	nowFn          func() int64
}

// NewEngine constructs a lending engine configured with the module treasury
// addresses and per-tier risk parameters.
func NewEngine(moduleAddr, collateralAddr [20]byte, params RiskParameters) *Engine {
	return &Engine{
		moduleAddress:  moduleAddr,
		collateralAddr: collateralAddr,
		params:         params,
		emitter:        events.NoopEmitter{},
		nowFn:          func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetReputation wires the reputation ledger view.
func (e *Engine) SetReputation(view reputationView) {
	if e == nil {
		return
	}
	e.reputation = view
}

// SetBreaker wires the borrow-volume circuit breaker.
func (e *Engine) SetBreaker(breaker *CircuitBreaker) {
	if e == nil {
		return
	}
	e.breaker = breaker
}

// SetRoles wires the access-control view used by privileged operations.
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

// SetNowFunc overrides the time source used for interest accrual and breaker
// windows. Primarily intended for tests.
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

// NormalizePoolType canonicalises a pool identifier.
func NormalizePoolType(poolType string) string {
	return strings.ToLower(strings.TrimSpace(poolType))
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

func (e *Engine) loadPool(poolType string) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, ok, err := e.state.PoolGet(NormalizePoolType(poolType))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPoolNotFound
	}
	if pool.TotalLiquidity == nil {
		pool.TotalLiquidity = big.NewInt(0)
	}
	if pool.TotalBorrowed == nil {
		pool.TotalBorrowed = big.NewInt(0)
	}
	return pool, nil
}

func (e *Engine) loadLoan(id [32]byte) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, ok, err := e.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.PrincipalWei == nil {
		loan.PrincipalWei = big.NewInt(0)
	}
	if loan.CollateralWei == nil {
		loan.CollateralWei = big.NewInt(0)
	}
	if loan.AccruedInterestWei == nil {
		loan.AccruedInterestWei = big.NewInt(0)
	}
	return loan, nil
}

func (e *Engine) transferBalance(from, to [20]byte, amount *big.Int) error {
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

func (e *Engine) transferCollateral(from, to [20]byte, amount *big.Int) error {
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
	if fromAcc.CollateralWei.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	fromAcc.CollateralWei = new(big.Int).Sub(fromAcc.CollateralWei, amount)
	toAcc.CollateralWei = new(big.Int).Add(toAcc.CollateralWei, amount)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// CreatePool registers a new liquidity pool. Admin only.
func (e *Engine) CreatePool(poolType string, caller [20]byte) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleAdmin, caller); err != nil {
		return nil, err
	}
	normalized := NormalizePoolType(poolType)
	if existing, ok, err := e.state.PoolGet(normalized); err != nil {
		return nil, err
	} else if ok {
		return existing.Clone(), nil
	}
	pool := &Pool{
		PoolType:       normalized,
		TotalLiquidity: big.NewInt(0),
		TotalBorrowed:  big.NewInt(0),
		Active:         true,
	}
	if err := e.state.PoolPut(pool); err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// SetPoolActive toggles whether a pool accepts deposits and borrows. Admin
// only.
func (e *Engine) SetPoolActive(poolType string, active bool, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleAdmin, caller); err != nil {
		return err
	}
	pool, err := e.loadPool(poolType)
	if err != nil {
		return err
	}
	pool.Active = active
	return e.state.PoolPut(pool)
}

// DepositLiquidity moves funds from an authorized lender into the pool vault
// and grows the pool's total liquidity.
func (e *Engine) DepositLiquidity(lender [20]byte, poolType string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleLender, lender); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pool, err := e.loadPool(poolType)
	if err != nil {
		return err
	}
	if !pool.Active {
		return ErrPoolInactive
	}
	if err := e.transferBalance(lender, e.moduleAddress, amount); err != nil {
		return err
	}
	pool.TotalLiquidity = new(big.Int).Add(pool.TotalLiquidity, amount)
	if err := e.state.PoolPut(pool); err != nil {
		return err
	}
	e.emit(LiquidityDeposited{PoolType: pool.PoolType, Lender: lender, AmountWei: new(big.Int).Set(amount)})
	return nil
}

// WithdrawLiquidity releases idle liquidity back to an authorized lender.
func (e *Engine) WithdrawLiquidity(lender [20]byte, poolType string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleLender, lender); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pool, err := e.loadPool(poolType)
	if err != nil {
		return err
	}
	idle := new(big.Int).Sub(pool.TotalLiquidity, pool.TotalBorrowed)
	if idle.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.transferBalance(e.moduleAddress, lender, amount); err != nil {
		return err
	}
	pool.TotalLiquidity = new(big.Int).Sub(pool.TotalLiquidity, amount)
	return e.state.PoolPut(pool)
}

func loanID(seq uint64) [32]byte {
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(seq)
		seq >>= 8
	}
	return ethcrypto.Keccak256Hash([]byte("trustline/loan/"), buf[:])
}

// Borrow opens a tier-priced loan. The borrower pledges collateral against a
// principal bounded by their tier's maximum LTV; the borrow is routed through
// the circuit breaker before any state mutation and rejected whole on breach.
func (e *Engine) Borrow(borrower [20]byte, poolType string, collateralAmount, borrowAmount *big.Int) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if borrowAmount == nil || borrowAmount.Sign() <= 0 || collateralAmount == nil || collateralAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if e.reputation != nil && e.reputation.Blacklisted(borrower) {
		return nil, ErrBlacklisted
	}
	tier := reputation.TierBronze
	if e.reputation != nil {
		tier = reputation.TierOf(e.reputation.Score(borrower))
	}
	tierParams := e.params.ParamsFor(tier)

	// LTV check: borrow/collateral must not exceed the tier maximum.
	lhs := new(big.Int).Mul(borrowAmount, basisPoints)
	rhs := new(big.Int).Mul(collateralAmount, new(big.Int).SetUint64(tierParams.MaxLTVBps))
	if lhs.Cmp(rhs) > 0 {
		return nil, ErrLTVTooHigh
	}

	pool, err := e.loadPool(poolType)
	if err != nil {
		return nil, err
	}
	if !pool.Active {
		return nil, ErrPoolInactive
	}

	now := e.now()
	if e.breaker != nil {
		if err := e.breaker.Allow(pool.PoolType, borrowAmount, now); err != nil {
			return nil, err
		}
	}

	idle := new(big.Int).Sub(pool.TotalLiquidity, pool.TotalBorrowed)
	if idle.Cmp(borrowAmount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	if err := e.transferCollateral(borrower, e.collateralAddr, collateralAmount); err != nil {
		return nil, err
	}
	if err := e.transferBalance(e.moduleAddress, borrower, borrowAmount); err != nil {
		return nil, err
	}

	seq, err := e.state.NextLoanSeq()
	if err != nil {
		return nil, err
	}
	loan := &Loan{
		ID:                 loanID(seq),
		Borrower:           borrower,
		PoolType:           pool.PoolType,
		PrincipalWei:       new(big.Int).Set(borrowAmount),
		CollateralWei:      new(big.Int).Set(collateralAmount),
		CollateralAsset:    "collateral",
		APRBps:             tierParams.APRBps,
		StartTimestamp:     now,
		LastAccrualAt:      now,
		AccruedInterestWei: big.NewInt(0),
		Status:             LoanActive,
	}
	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}

	pool.TotalBorrowed = new(big.Int).Add(pool.TotalBorrowed, borrowAmount)
	if err := e.state.PoolPut(pool); err != nil {
		return nil, err
	}
	if e.breaker != nil {
		if err := e.breaker.Record(pool.PoolType, borrowAmount, now); err != nil {
			return nil, err
		}
	}

	e.emit(LoanOpened{
		LoanID:        loan.ID,
		Borrower:      borrower,
		PrincipalWei:  new(big.Int).Set(borrowAmount),
		CollateralWei: new(big.Int).Set(collateralAmount),
		APRBps:        tierParams.APRBps,
	})
	return loan.Clone(), nil
}

// accrue folds simple interest since the last accrual into the loan.
func (e *Engine) accrue(loan *Loan, now int64) {
	if loan == nil || now <= loan.LastAccrualAt || loan.PrincipalWei.Sign() == 0 {
		return
	}
	elapsed := big.NewInt(now - loan.LastAccrualAt)
	interest := new(big.Int).Mul(loan.PrincipalWei, new(big.Int).SetUint64(loan.APRBps))
	interest.Mul(interest, elapsed)
	interest.Quo(interest, new(big.Int).Mul(basisPoints, big.NewInt(yearSeconds)))
	loan.AccruedInterestWei = new(big.Int).Add(loan.AccruedInterestWei, interest)
	loan.LastAccrualAt = now
}

// Repay applies a payment to a loan: accrued interest first, then principal.
// Partial repayment keeps the loan active; full repayment returns the
// collateral, closes the loan and signals the reputation ledger.
func (e *Engine) Repay(loanID [32]byte, payer [20]byte, amount *big.Int) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != LoanActive {
		return nil, ErrLoanNotActive
	}
	now := e.now()
	e.accrue(loan, now)

	payment := new(big.Int).Set(amount)
	debt := loan.DebtWei()
	if payment.Cmp(debt) > 0 {
		payment = debt
	}
	if err := e.transferBalance(payer, e.moduleAddress, payment); err != nil {
		return nil, err
	}

	remaining := new(big.Int).Set(payment)
	interestPaid := new(big.Int)
	if loan.AccruedInterestWei.Sign() > 0 {
		if remaining.Cmp(loan.AccruedInterestWei) >= 0 {
			interestPaid.Set(loan.AccruedInterestWei)
			remaining.Sub(remaining, loan.AccruedInterestWei)
			loan.AccruedInterestWei = big.NewInt(0)
		} else {
			interestPaid.Set(remaining)
			loan.AccruedInterestWei = new(big.Int).Sub(loan.AccruedInterestWei, remaining)
			remaining = big.NewInt(0)
		}
	}
	principalPaid := new(big.Int).Set(remaining)

	pool, err := e.loadPool(loan.PoolType)
	if err != nil {
		return nil, err
	}

	if principalPaid.Sign() > 0 {
		loan.PrincipalWei = new(big.Int).Sub(loan.PrincipalWei, principalPaid)
		pool.TotalBorrowed = new(big.Int).Sub(pool.TotalBorrowed, principalPaid)
	}
	// Interest grows the pool's lendable liquidity.
	if interestPaid.Sign() > 0 {
		pool.TotalLiquidity = new(big.Int).Add(pool.TotalLiquidity, interestPaid)
	}

	if loan.PrincipalWei.Sign() == 0 && loan.AccruedInterestWei.Sign() == 0 {
		loan.Status = LoanRepaid
		if err := e.transferCollateral(e.collateralAddr, loan.Borrower, loan.CollateralWei); err != nil {
			return nil, err
		}
	}

	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}
	if err := e.state.PoolPut(pool); err != nil {
		return nil, err
	}

	if loan.Status == LoanRepaid && e.reputation != nil {
		if err := e.reputation.RecordRepayment(loan.Borrower); err != nil {
			return nil, err
		}
	}

	e.emit(LoanRepayment{
		LoanID:       loanID,
		AmountWei:    payment,
		RemainingWei: loan.DebtWei(),
	})
	return loan.Clone(), nil
}

// Liquidate settles an active loan on behalf of the liquidation auction. The
// executor's payment must cover the outstanding debt; the debt portion stays
// with the pool, any excess returns to the borrower and the full collateral
// transfers to the executor. Callable only after the auction's grace-period
// and discount preconditions have been satisfied.
func (e *Engine) Liquidate(loanID [32]byte, executor [20]byte, paymentWei *big.Int) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if paymentWei == nil || paymentWei.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != LoanActive {
		return nil, ErrLoanNotActive
	}
	now := e.now()
	e.accrue(loan, now)

	debt := loan.DebtWei()
	if paymentWei.Cmp(debt) < 0 {
		return nil, errPaymentBelowDebt
	}

	if err := e.transferBalance(executor, e.moduleAddress, paymentWei); err != nil {
		return nil, err
	}
	excess := new(big.Int).Sub(paymentWei, debt)
	if excess.Sign() > 0 {
		if err := e.transferBalance(e.moduleAddress, loan.Borrower, excess); err != nil {
			return nil, err
		}
	}
	if err := e.transferCollateral(e.collateralAddr, executor, loan.CollateralWei); err != nil {
		return nil, err
	}

	pool, err := e.loadPool(loan.PoolType)
	if err != nil {
		return nil, err
	}
	pool.TotalBorrowed = new(big.Int).Sub(pool.TotalBorrowed, loan.PrincipalWei)
	if loan.AccruedInterestWei.Sign() > 0 {
		pool.TotalLiquidity = new(big.Int).Add(pool.TotalLiquidity, loan.AccruedInterestWei)
	}

	loan.Status = LoanLiquidated
	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}
	if err := e.state.PoolPut(pool); err != nil {
		return nil, err
	}

	if e.reputation != nil {
		if err := e.reputation.RecordLiquidation(loan.Borrower); err != nil {
			return nil, err
		}
	}

	e.emit(LoanLiquidation{
		LoanID:        loanID,
		Executor:      executor,
		PaymentWei:    new(big.Int).Set(paymentWei),
		CollateralWei: new(big.Int).Set(loan.CollateralWei),
	})
	return loan.Clone(), nil
}

// Loan returns a copy of the stored loan with interest accrued to now.
func (e *Engine) Loan(id [32]byte) (*Loan, error) {
	loan, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	if loan.Status == LoanActive {
		e.accrue(loan, e.now())
	}
	return loan.Clone(), nil
}

// HealthFactor reports the collateral coverage of an active loan: the
// borrowable value of the posted collateral at the borrower's current tier
// divided by the live debt. A ratio below one marks the loan as eligible for
// liquidation.
func (e *Engine) HealthFactor(loanID [32]byte) (*big.Rat, error) {
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != LoanActive {
		return nil, ErrLoanNotActive
	}
	e.accrue(loan, e.now())
	debt := loan.DebtWei()
	if debt.Sign() == 0 {
		return big.NewRat(2, 1), nil
	}
	tier := reputation.TierBronze
	if e.reputation != nil && !e.reputation.Blacklisted(loan.Borrower) {
		tier = reputation.TierOf(e.reputation.Score(loan.Borrower))
	}
	tierParams := e.params.ParamsFor(tier)
	capacity := new(big.Int).Mul(loan.CollateralWei, new(big.Int).SetUint64(tierParams.MaxLTVBps))
	return new(big.Rat).SetFrac(capacity, new(big.Int).Mul(debt, basisPoints)), nil
}

// Pool returns a copy of the stored pool.
func (e *Engine) Pool(poolType string) (*Pool, error) {
	pool, err := e.loadPool(poolType)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}
