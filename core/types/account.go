package types

import "math/big"

// Account tracks the fungible balances held by a participant. BalanceWei is
// the settlement token used for stakes, liquidity and debt repayment while
// CollateralWei is the asset pledged against loans. Both values are
// denominated in wei and expressed as big integers to preserve on-chain
// precision.
type Account struct {
	BalanceWei    *big.Int
	CollateralWei *big.Int
}

// Clone returns a deep copy of the account so callers can mutate the copy
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{}
	if a.BalanceWei != nil {
		clone.BalanceWei = new(big.Int).Set(a.BalanceWei)
	}
	if a.CollateralWei != nil {
		clone.CollateralWei = new(big.Int).Set(a.CollateralWei)
	}
	return clone
}
