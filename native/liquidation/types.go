package liquidation

import (
	"errors"
	"math/big"

	"trustline/native/reputation"
)

// Auction parameters shared by every liquidation.
const (
	// AuctionDurationSeconds is the span over which the discount ramps
	// from zero to MaxDiscountBps.
	AuctionDurationSeconds int64 = 6 * 60 * 60
	// MaxDiscountBps caps the collateral discount offered to executors.
	MaxDiscountBps uint64 = 2000
)

// Auction captures a single liquidation attempt against an active loan. It
// is terminal once Executed is set.
type Auction struct {
	ID             [32]byte
	LoanID         [32]byte
	Borrower       [20]byte
	DebtWei        *big.Int
	CollateralWei  *big.Int
	StartTime      int64
	GracePeriodEnd int64
	AuctionSeconds int64
	MaxDiscountBps uint64
	Executed       bool
	Executor       [20]byte
	ExecutedAt     int64
	CancelReason   string
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	if a.DebtWei != nil {
		clone.DebtWei = new(big.Int).Set(a.DebtWei)
	} else {
		clone.DebtWei = big.NewInt(0)
	}
	if a.CollateralWei != nil {
		clone.CollateralWei = new(big.Int).Set(a.CollateralWei)
	} else {
		clone.CollateralWei = big.NewInt(0)
	}
	return &clone
}

// HealthOracle supplies the external loan health check. A factor below one
// marks the loan liquidatable; the price computation behind it is out of
// scope for the credit core.
type HealthOracle interface {
	HealthFactor(loanID [32]byte) (*big.Rat, error)
}

// GracePeriodSeconds maps a reputation tier to the self-cure window granted
// before an auction may execute. The mapping is monotone: higher reputation
// buys more time.
func GracePeriodSeconds(tier reputation.Tier) int64 {
	switch tier {
	case reputation.TierPlatinum:
		return 72 * 60 * 60
	case reputation.TierGold:
		return 24 * 60 * 60
	default:
		return 0
	}
}

var (
	// ErrAuctionNotFound marks lookups for unknown auction identifiers.
	ErrAuctionNotFound = errors.New("liquidation: auction not found")
	// ErrAuctionExecuted marks mutations on terminal auctions.
	ErrAuctionExecuted = errors.New("liquidation: auction already executed")
	// ErrAuctionOpen marks start attempts while a live auction exists for
	// the loan.
	ErrAuctionOpen = errors.New("liquidation: auction already open for loan")
	// ErrLoanHealthy marks start attempts against loans whose health
	// factor is at or above one.
	ErrLoanHealthy = errors.New("liquidation: loan is healthy")
	// ErrGracePeriodActive marks execution attempts before the grace
	// period has elapsed.
	ErrGracePeriodActive = errors.New("liquidation: grace period active")
	// ErrUnprofitable marks executions where the discounted collateral
	// value no longer covers the outstanding debt.
	ErrUnprofitable = errors.New("liquidation: discounted collateral below debt")
)
