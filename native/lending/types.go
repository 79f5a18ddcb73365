package lending

import (
	"errors"
	"math/big"
)

// LoanStatus represents the lifecycle states of a loan.
type LoanStatus uint8

const (
	LoanActive LoanStatus = iota
	LoanRepaid
	LoanLiquidated
)

// String renders the canonical status name used in event payloads.
func (s LoanStatus) String() string {
	switch s {
	case LoanActive:
		return "active"
	case LoanRepaid:
		return "repaid"
	case LoanLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Loan captures a tier-priced borrowing position. The APR is frozen at
// borrow time for the life of the loan.
type Loan struct {
	ID                 [32]byte
	Borrower           [20]byte
	PoolType           string
	PrincipalWei       *big.Int
	CollateralWei      *big.Int
	CollateralAsset    string
	APRBps             uint64
	StartTimestamp     int64
	LastAccrualAt      int64
	AccruedInterestWei *big.Int
	Status             LoanStatus
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.PrincipalWei != nil {
		clone.PrincipalWei = new(big.Int).Set(l.PrincipalWei)
	} else {
		clone.PrincipalWei = big.NewInt(0)
	}
	if l.CollateralWei != nil {
		clone.CollateralWei = new(big.Int).Set(l.CollateralWei)
	} else {
		clone.CollateralWei = big.NewInt(0)
	}
	if l.AccruedInterestWei != nil {
		clone.AccruedInterestWei = new(big.Int).Set(l.AccruedInterestWei)
	} else {
		clone.AccruedInterestWei = big.NewInt(0)
	}
	return &clone
}

// DebtWei returns principal plus accrued unpaid interest.
func (l *Loan) DebtWei() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	debt := big.NewInt(0)
	if l.PrincipalWei != nil {
		debt.Add(debt, l.PrincipalWei)
	}
	if l.AccruedInterestWei != nil {
		debt.Add(debt, l.AccruedInterestWei)
	}
	return debt
}

// Pool captures the shared liquidity accounting for a pool type. Every
// borrow and repay mutates it atomically within the triggering call.
type Pool struct {
	PoolType       string
	TotalLiquidity *big.Int
	TotalBorrowed  *big.Int
	Active         bool
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	if p.TotalLiquidity != nil {
		clone.TotalLiquidity = new(big.Int).Set(p.TotalLiquidity)
	} else {
		clone.TotalLiquidity = big.NewInt(0)
	}
	if p.TotalBorrowed != nil {
		clone.TotalBorrowed = new(big.Int).Set(p.TotalBorrowed)
	} else {
		clone.TotalBorrowed = big.NewInt(0)
	}
	return &clone
}

var (
	// ErrLoanNotFound marks lookups for unknown loan identifiers.
	ErrLoanNotFound = errors.New("lending: loan not found")
	// ErrLoanNotActive marks mutations on repaid or liquidated loans.
	ErrLoanNotActive = errors.New("lending: loan not active")
	// ErrPoolNotFound marks operations against unknown pool types.
	ErrPoolNotFound = errors.New("lending: pool not found")
	// ErrPoolInactive marks deposits and borrows against disabled pools.
	ErrPoolInactive = errors.New("lending: pool inactive")
	// ErrBlacklisted rejects borrows from blacklisted subjects.
	ErrBlacklisted = errors.New("lending: borrower blacklisted")
	// ErrLTVTooHigh rejects borrows exceeding the tier's maximum
	// loan-to-value ratio.
	ErrLTVTooHigh = errors.New("lending: requested LTV exceeds tier maximum")
	// ErrInsufficientLiquidity marks borrows beyond idle pool liquidity.
	ErrInsufficientLiquidity = errors.New("lending: insufficient pool liquidity")
	// ErrCircuitBreakerExceeded rejects borrows that would breach the
	// rolling-window volume cap. The borrow is entirely rejected.
	ErrCircuitBreakerExceeded = errors.New("lending: circuit breaker volume cap exceeded")
)
