package lending

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"trustline/core/types"
)

const (
	EventTypeLiquidityDeposited = "lending.liquidityDeposited"
	EventTypeLoanOpened         = "lending.loanOpened"
	EventTypeLoanRepaid         = "lending.loanRepaid"
	EventTypeLoanLiquidated     = "lending.loanLiquidated"
)

// LiquidityDeposited is emitted when an authorized lender funds a pool.
type LiquidityDeposited struct {
	PoolType  string
	Lender    [20]byte
	AmountWei *big.Int
}

func (LiquidityDeposited) EventType() string { return EventTypeLiquidityDeposited }

func (e LiquidityDeposited) Event() *types.Event {
	return &types.Event{
		Type: EventTypeLiquidityDeposited,
		Attributes: map[string]string{
			"poolType": e.PoolType,
			"lender":   hex.EncodeToString(e.Lender[:]),
			"amount":   formatAmount(e.AmountWei),
		},
	}
}

// LoanOpened is emitted when a borrow commits.
type LoanOpened struct {
	LoanID        [32]byte
	Borrower      [20]byte
	PrincipalWei  *big.Int
	CollateralWei *big.Int
	APRBps        uint64
}

func (LoanOpened) EventType() string { return EventTypeLoanOpened }

func (e LoanOpened) Event() *types.Event {
	return &types.Event{
		Type: EventTypeLoanOpened,
		Attributes: map[string]string{
			"loanId":     hex.EncodeToString(e.LoanID[:]),
			"borrower":   hex.EncodeToString(e.Borrower[:]),
			"principal":  formatAmount(e.PrincipalWei),
			"collateral": formatAmount(e.CollateralWei),
			"aprBps":     strconv.FormatUint(e.APRBps, 10),
		},
	}
}

// LoanRepayment is emitted for every repayment, partial or full.
type LoanRepayment struct {
	LoanID       [32]byte
	AmountWei    *big.Int
	RemainingWei *big.Int
}

func (LoanRepayment) EventType() string { return EventTypeLoanRepaid }

func (e LoanRepayment) Event() *types.Event {
	return &types.Event{
		Type: EventTypeLoanRepaid,
		Attributes: map[string]string{
			"loanId":    hex.EncodeToString(e.LoanID[:]),
			"amount":    formatAmount(e.AmountWei),
			"remaining": formatAmount(e.RemainingWei),
		},
	}
}

// LoanLiquidation is emitted when the liquidation auction settles a loan.
type LoanLiquidation struct {
	LoanID        [32]byte
	Executor      [20]byte
	PaymentWei    *big.Int
	CollateralWei *big.Int
}

func (LoanLiquidation) EventType() string { return EventTypeLoanLiquidated }

func (e LoanLiquidation) Event() *types.Event {
	return &types.Event{
		Type: EventTypeLoanLiquidated,
		Attributes: map[string]string{
			"loanId":     hex.EncodeToString(e.LoanID[:]),
			"executor":   hex.EncodeToString(e.Executor[:]),
			"payment":    formatAmount(e.PaymentWei),
			"collateral": formatAmount(e.CollateralWei),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
