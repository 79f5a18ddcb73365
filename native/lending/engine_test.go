package lending

import (
	"errors"
	"math/big"
	"testing"

	"trustline/core/types"
	nativecommon "trustline/native/common"
)

type mockState struct {
	pools    map[string]*Pool
	loans    map[[32]byte]*Loan
	accounts map[[20]byte]*types.Account
	windows  map[string][]BorrowSample
	seq      uint64
}

func newMockState() *mockState {
	return &mockState{
		pools:    make(map[string]*Pool),
		loans:    make(map[[32]byte]*Loan),
		accounts: make(map[[20]byte]*types.Account),
		windows:  make(map[string][]BorrowSample),
	}
}

func (m *mockState) PoolGet(poolType string) (*Pool, bool, error) {
	pool, ok := m.pools[poolType]
	if !ok {
		return nil, false, nil
	}
	return pool.Clone(), true, nil
}

func (m *mockState) PoolPut(pool *Pool) error {
	m.pools[pool.PoolType] = pool.Clone()
	return nil
}

func (m *mockState) LoanGet(id [32]byte) (*Loan, bool, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (m *mockState) LoanPut(loan *Loan) error {
	m.loans[loan.ID] = loan.Clone()
	return nil
}

func (m *mockState) NextLoanSeq() (uint64, error) {
	m.seq++
	return m.seq, nil
}

func (m *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	if acc, ok := m.accounts[addr]; ok {
		return acc.Clone(), nil
	}
	return &types.Account{BalanceWei: big.NewInt(0), CollateralWei: big.NewInt(0)}, nil
}

func (m *mockState) PutAccount(addr [20]byte, account *types.Account) error {
	m.accounts[addr] = account.Clone()
	return nil
}

func (m *mockState) BreakerWindowGet(poolType string) ([]BorrowSample, error) {
	return append([]BorrowSample(nil), m.windows[poolType]...), nil
}

func (m *mockState) BreakerWindowPut(poolType string, samples []BorrowSample) error {
	m.windows[poolType] = append([]BorrowSample(nil), samples...)
	return nil
}

func (m *mockState) account(addr [20]byte) *types.Account {
	if acc, ok := m.accounts[addr]; ok {
		return acc
	}
	return &types.Account{BalanceWei: big.NewInt(0), CollateralWei: big.NewInt(0)}
}

type stubReputation struct {
	scores       map[[20]byte]uint64
	blacklist    map[[20]byte]bool
	repayments   int
	liquidations int
}

func newStubReputation() *stubReputation {
	return &stubReputation{
		scores:    make(map[[20]byte]uint64),
		blacklist: make(map[[20]byte]bool),
	}
}

func (s *stubReputation) Score(subject [20]byte) uint64     { return s.scores[subject] }
func (s *stubReputation) Blacklisted(subject [20]byte) bool { return s.blacklist[subject] }
func (s *stubReputation) RecordRepayment([20]byte) error {
	s.repayments++
	return nil
}
func (s *stubReputation) RecordLiquidation([20]byte) error {
	s.liquidations++
	return nil
}

func addr(tag byte) [20]byte {
	var a [20]byte
	a[0] = tag
	return a
}

var (
	vaultAddr      = addr(0xee)
	collateralAddr = addr(0xcc)
	adminAddr      = addr(0xad)
	lenderAddr     = addr(0x1e)
)

const t0 int64 = 1_700_000_000

type fixture struct {
	engine *Engine
	state  *mockState
	rep    *stubReputation
	roles  *nativecommon.Roles
	now    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state: newMockState(),
		rep:   newStubReputation(),
		roles: nativecommon.NewRoles(),
		now:   t0,
	}
	f.roles.Grant(nativecommon.RoleAdmin, adminAddr)
	f.roles.Grant(nativecommon.RoleLender, lenderAddr)
	f.engine = NewEngine(vaultAddr, collateralAddr, DefaultRiskParameters())
	f.engine.SetState(f.state)
	f.engine.SetReputation(f.rep)
	f.engine.SetRoles(f.roles)
	f.engine.SetNowFunc(func() int64 { return f.now })
	return f
}

// seedPool creates an active pool funded with the given liquidity.
func (f *fixture) seedPool(t *testing.T, liquidity *big.Int) {
	t.Helper()
	if _, err := f.engine.CreatePool("stable", adminAddr); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	f.state.accounts[lenderAddr] = &types.Account{BalanceWei: new(big.Int).Set(liquidity), CollateralWei: big.NewInt(0)}
	if err := f.engine.DepositLiquidity(lenderAddr, "stable", liquidity); err != nil {
		t.Fatalf("deposit liquidity: %v", err)
	}
}

func (f *fixture) fundBorrower(borrower [20]byte, collateral *big.Int) {
	f.state.accounts[borrower] = &types.Account{BalanceWei: big.NewInt(0), CollateralWei: new(big.Int).Set(collateral)}
}

func TestCreatePoolRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.CreatePool("stable", lenderAddr); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	pool, err := f.engine.CreatePool("Stable ", adminAddr)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	if pool.PoolType != "stable" {
		t.Fatalf("pool type not normalized: %q", pool.PoolType)
	}
	if !pool.Active {
		t.Fatal("new pool starts inactive")
	}
}

func TestDepositRequiresLenderRole(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.CreatePool("stable", adminAddr); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	outsider := addr(9)
	f.state.accounts[outsider] = &types.Account{BalanceWei: big.NewInt(1_000), CollateralWei: big.NewInt(0)}
	if err := f.engine.DepositLiquidity(outsider, "stable", big.NewInt(500)); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestWithdrawLimitedToIdleLiquidity(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, big.NewInt(10_000))
	borrower := addr(2)
	f.fundBorrower(borrower, big.NewInt(20_000))
	if _, err := f.engine.Borrow(borrower, "stable", big.NewInt(16_000), big.NewInt(8_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := f.engine.WithdrawLiquidity(lenderAddr, "stable", big.NewInt(2_001)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if err := f.engine.WithdrawLiquidity(lenderAddr, "stable", big.NewInt(2_000)); err != nil {
		t.Fatalf("withdraw idle: %v", err)
	}
}

func TestBorrowRejectsBlacklisted(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, big.NewInt(10_000))
	borrower := addr(2)
	f.fundBorrower(borrower, big.NewInt(20_000))
	f.rep.scores[borrower] = 900
	f.rep.blacklist[borrower] = true
	if _, err := f.engine.Borrow(borrower, "stable", big.NewInt(10_000), big.NewInt(1_000)); !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("expected ErrBlacklisted, got %v", err)
	}
}

func TestBorrowEnforcesTierLTV(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, big.NewInt(100_000))
	borrower := addr(2)
	f.fundBorrower(borrower, big.NewInt(10_000))

	// Bronze (score 0): 50% LTV, so 5_001 against 10_000 is too much.
	if _, err := f.engine.Borrow(borrower, "stable", big.NewInt(10_000), big.NewInt(5_001)); !errors.Is(err, ErrLTVTooHigh) {
		t.Fatalf("expected ErrLTVTooHigh for bronze, got %v", err)
	}
	loan, err := f.engine.Borrow(borrower, "stable", big.NewInt(10_000), big.NewInt(5_000))
	if err != nil {
		t.Fatalf("bronze borrow at the cap: %v", err)
	}
	if loan.APRBps != 1800 {
		t.Fatalf("bronze APR %d, expected 1800", loan.APRBps)
	}

	// Platinum (score 800): 90% LTV at 500 bps.
	platinum := addr(3)
	f.fundBorrower(platinum, big.NewInt(10_000))
	f.rep.scores[platinum] = 800
	loan, err = f.engine.Borrow(platinum, "stable", big.NewInt(10_000), big.NewInt(9_000))
	if err != nil {
		t.Fatalf("platinum borrow at the cap: %v", err)
	}
	if loan.APRBps != 500 {
		t.Fatalf("platinum APR %d, expected 500", loan.APRBps)
	}
}

func TestBorrowMovesCollateralAndPrincipal(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, big.NewInt(100_000))
	borrower := addr(2)
	f.fundBorrower(borrower, big.NewInt(10_000))

	if _, err := f.engine.Borrow(borrower, "stable", big.NewInt(10_000), big.NewInt(4_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	acc := f.state.account(borrower)
	if acc.CollateralWei.Sign() != 0 {
		t.Fatalf("collateral not escrowed: %s", acc.CollateralWei)
	}
	if acc.BalanceWei.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("principal not delivered: %s", acc.BalanceWei)
	}
	pool, err := f.engine.Pool("stable")
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.TotalBorrowed.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("pool borrowed %s", pool.TotalBorrowed)
	}
}

func TestBorrowRejectsInactivePool(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, big.NewInt(100_000))
	if err := f.engine.SetPoolActive("stable", false, adminAddr); err != nil {
		t.Fatalf("set pool inactive: %v", err)
	}
	borrower := addr(2)
	f.fundBorrower(borrower, big.NewInt(10_000))
	if _, err := f.engine.Borrow(borrower, "stable", big.NewInt(10_000), big.NewInt(1_000)); !errors.Is(err, ErrPoolInactive) {
		t.Fatalf("expected ErrPoolInactive, got %v", err)
	}
}

func TestCircuitBreakerBoundsWindowVolume(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, big.NewInt(100_000_000))
	breaker := NewCircuitBreaker(f.state, big.NewInt(10_000_000))
	f.engine.SetBreaker(breaker)

	borrower := addr(2)
	f.rep.scores[borrower] = 900
	f.fundBorrower(borrower, big.NewInt(100_000_000))

	if _, err := f.engine.Borrow(borrower, "stable", big.NewInt(10_000_000), big.NewInt(6_000_000)); err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	// 6M + 7M exceeds the 10M hourly cap even though the account is
	// platinum: the whole borrow is rejected, not trimmed.
	if _, err := f.engine.Borrow(borrower, "stable", big.NewInt(10_000_000), big.NewInt(7_000_000)); !errors.Is(err, ErrCircuitBreakerExceeded) {
		t.Fatalf("expected ErrCircuitBreakerExceeded, got %v", err)
	}
	// 6M + 4M fits exactly.
	if _, err := f.engine.Borrow(borrower, "stable", big.NewInt(10_000_000), big.NewInt(4_000_000)); err != nil {
		t.Fatalf("borrow at the cap: %v", err)
	}

	// Once the first samples age out of the window the breaker resets.
	f.now = t0 + DefaultBreakerWindowSeconds + 1
	if _, err := f.engine.Borrow(borrower, "stable", big.NewInt(10_000_000), big.NewInt(7_000_000)); err != nil {
		t.Fatalf("borrow after window expiry: %v", err)
	}
}

func TestInterestAccruesLinearly(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, big.NewInt(10_000_000))
	borrower := addr(2)
	f.rep.scores[borrower] = 400 // Silver: 1200 bps
	f.fundBorrower(borrower, big.NewInt(2_000_000))

	loan, err := f.engine.Borrow(borrower, "stable", big.NewInt(2_000_000), big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// One full year at 12% on 1_000_000 principal.
	f.now = t0 + yearSeconds
	live, err := f.engine.Loan(loan.ID)
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	if live.AccruedInterestWei.Cmp(big.NewInt(120_000)) != 0 {
		t.Fatalf("accrued %s, expected 120000", live.AccruedInterestWei)
	}
	if live.DebtWei().Cmp(big.NewInt(1_120_000)) != 0 {
		t.Fatalf("debt %s, expected 1120000", live.DebtWei())
	}
}

func TestRepayAppliesInterestFirst(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, big.NewInt(10_000_000))
	borrower := addr(2)
	f.rep.scores[borrower] = 400
	f.fundBorrower(borrower, big.NewInt(2_000_000))
	loan, err := f.engine.Borrow(borrower, "stable", big.NewInt(2_000_000), big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.now = t0 + yearSeconds
	// Pay 150_000: clears the 120_000 interest, then 30_000 principal.
	updated, err := f.engine.Repay(loan.ID, borrower, big.NewInt(150_000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if updated.Status != LoanActive {
		t.Fatalf("partial repay closed the loan: %v", updated.Status)
	}
	if updated.AccruedInterestWei.Sign() != 0 {
		t.Fatalf("interest remaining %s", updated.AccruedInterestWei)
	}
	if updated.PrincipalWei.Cmp(big.NewInt(970_000)) != 0 {
		t.Fatalf("principal %s, expected 970000", updated.PrincipalWei)
	}
	pool, err := f.engine.Pool("stable")
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	// Interest grows liquidity; principal repayment shrinks borrowed.
	if pool.TotalLiquidity.Cmp(big.NewInt(10_120_000)) != 0 {
		t.Fatalf("pool liquidity %s", pool.TotalLiquidity)
	}
	if pool.TotalBorrowed.Cmp(big.NewInt(970_000)) != 0 {
		t.Fatalf("pool borrowed %s", pool.TotalBorrowed)
	}
}

func TestFullRepaymentReleasesCollateral(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, big.NewInt(10_000_000))
	borrower := addr(2)
	f.rep.scores[borrower] = 400
	f.fundBorrower(borrower, big.NewInt(2_000_000))
	loan, err := f.engine.Borrow(borrower, "stable", big.NewInt(2_000_000), big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.now = t0 + yearSeconds
	// Top up so the borrower can cover debt; overpayment is capped.
	acc := f.state.account(borrower)
	acc.BalanceWei = big.NewInt(2_000_000)
	f.state.accounts[borrower] = acc

	updated, err := f.engine.Repay(loan.ID, borrower, big.NewInt(5_000_000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if updated.Status != LoanRepaid {
		t.Fatalf("expected repaid, got %v", updated.Status)
	}
	final := f.state.account(borrower)
	if final.CollateralWei.Cmp(big.NewInt(2_000_000)) != 0 {
		t.Fatalf("collateral not returned: %s", final.CollateralWei)
	}
	// Only the 1_120_000 debt was taken from the 2_000_000 balance.
	if final.BalanceWei.Cmp(big.NewInt(880_000)) != 0 {
		t.Fatalf("balance %s, expected 880000", final.BalanceWei)
	}
	if f.rep.repayments != 1 {
		t.Fatalf("repayment hook fired %d times", f.rep.repayments)
	}
	if _, err := f.engine.Repay(loan.ID, borrower, big.NewInt(1)); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("repay closed loan: %v", err)
	}
}

func TestLiquidateSettlesDebtAndTransfersCollateral(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, big.NewInt(10_000_000))
	borrower := addr(2)
	executor := addr(4)
	f.rep.scores[borrower] = 400
	f.fundBorrower(borrower, big.NewInt(2_000_000))
	loan, err := f.engine.Borrow(borrower, "stable", big.NewInt(2_000_000), big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.now = t0 + yearSeconds // debt 1_120_000
	f.state.accounts[executor] = &types.Account{BalanceWei: big.NewInt(1_500_000), CollateralWei: big.NewInt(0)}

	if _, err := f.engine.Liquidate(loan.ID, executor, big.NewInt(1_000_000)); err == nil {
		t.Fatal("payment below debt must fail")
	}
	settled, err := f.engine.Liquidate(loan.ID, executor, big.NewInt(1_300_000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if settled.Status != LoanLiquidated {
		t.Fatalf("expected liquidated, got %v", settled.Status)
	}
	execAcc := f.state.account(executor)
	if execAcc.CollateralWei.Cmp(big.NewInt(2_000_000)) != 0 {
		t.Fatalf("executor collateral %s", execAcc.CollateralWei)
	}
	// Excess over the 1_120_000 debt returns to the borrower on top of
	// the original 1_000_000 principal.
	borrowerAcc := f.state.account(borrower)
	if borrowerAcc.BalanceWei.Cmp(big.NewInt(1_180_000)) != 0 {
		t.Fatalf("borrower balance %s, expected 1180000", borrowerAcc.BalanceWei)
	}
	if f.rep.liquidations != 1 {
		t.Fatalf("liquidation hook fired %d times", f.rep.liquidations)
	}
}

func TestHealthFactorTracksTierAndDebt(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, big.NewInt(10_000_000))
	borrower := addr(2)
	f.rep.scores[borrower] = 800 // Platinum: 90% LTV
	f.fundBorrower(borrower, big.NewInt(1_000_000))
	loan, err := f.engine.Borrow(borrower, "stable", big.NewInt(1_000_000), big.NewInt(800_000))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// 900_000 capacity over 800_000 debt: healthy.
	health, err := f.engine.HealthFactor(loan.ID)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Cmp(big.NewRat(9, 8)) != 0 {
		t.Fatalf("health %s, expected 9/8", health)
	}

	// A tier downgrade to Bronze halves the capacity and sinks the loan
	// under water.
	f.rep.scores[borrower] = 0
	health, err = f.engine.HealthFactor(loan.ID)
	if err != nil {
		t.Fatalf("health after downgrade: %v", err)
	}
	if health.Cmp(big.NewRat(1, 1)) >= 0 {
		t.Fatalf("expected unhealthy loan, health %s", health)
	}
}
