package liquidation

import (
	"errors"
	"math/big"
	"testing"

	"trustline/core/events"
	nativecommon "trustline/native/common"
	"trustline/native/lending"
)

const t0 int64 = 1_700_000_000

type mockState struct {
	auctions map[[32]byte]*Auction
	open     map[[32]byte][32]byte
}

func newMockState() *mockState {
	return &mockState{
		auctions: make(map[[32]byte]*Auction),
		open:     make(map[[32]byte][32]byte),
	}
}

func (m *mockState) AuctionGet(id [32]byte) (*Auction, bool, error) {
	auction, ok := m.auctions[id]
	if !ok {
		return nil, false, nil
	}
	return auction.Clone(), true, nil
}

func (m *mockState) AuctionPut(auction *Auction) error {
	m.auctions[auction.ID] = auction.Clone()
	return nil
}

func (m *mockState) OpenAuctionGet(loanID [32]byte) ([32]byte, bool, error) {
	id, ok := m.open[loanID]
	return id, ok, nil
}

func (m *mockState) OpenAuctionPut(loanID, auctionID [32]byte) error {
	m.open[loanID] = auctionID
	return nil
}

func (m *mockState) OpenAuctionDelete(loanID [32]byte) error {
	delete(m.open, loanID)
	return nil
}

type settlement struct {
	loanID   [32]byte
	executor [20]byte
	payment  *big.Int
}

type mockLoans struct {
	loans       map[[32]byte]*lending.Loan
	settlements []settlement
}

func newMockLoans() *mockLoans {
	return &mockLoans{loans: make(map[[32]byte]*lending.Loan)}
}

func (m *mockLoans) Loan(id [32]byte) (*lending.Loan, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, lending.ErrLoanNotFound
	}
	return loan.Clone(), nil
}

func (m *mockLoans) Liquidate(id [32]byte, executor [20]byte, paymentWei *big.Int) (*lending.Loan, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, lending.ErrLoanNotFound
	}
	if loan.Status != lending.LoanActive {
		return nil, lending.ErrLoanNotActive
	}
	loan.Status = lending.LoanLiquidated
	m.settlements = append(m.settlements, settlement{loanID: id, executor: executor, payment: new(big.Int).Set(paymentWei)})
	return loan.Clone(), nil
}

type mockOracle struct {
	factors map[[32]byte]*big.Rat
}

func (m *mockOracle) HealthFactor(loanID [32]byte) (*big.Rat, error) {
	factor, ok := m.factors[loanID]
	if !ok {
		return nil, lending.ErrLoanNotFound
	}
	return factor, nil
}

type mockReputation struct {
	scores    map[[20]byte]uint64
	blacklist map[[20]byte]bool
}

func (m *mockReputation) Score(subject [20]byte) uint64     { return m.scores[subject] }
func (m *mockReputation) Blacklisted(subject [20]byte) bool { return m.blacklist[subject] }

func addr(tag byte) [20]byte {
	var a [20]byte
	a[0] = tag
	return a
}

func hash(tag byte) [32]byte {
	var h [32]byte
	h[0] = tag
	return h
}

type fixture struct {
	engine *Engine
	state  *mockState
	loans  *mockLoans
	oracle *mockOracle
	rep    *mockReputation
	roles  *nativecommon.Roles
	rec    *events.Recorder
	now    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:  newMockState(),
		loans:  newMockLoans(),
		oracle: &mockOracle{factors: make(map[[32]byte]*big.Rat)},
		rep: &mockReputation{
			scores:    make(map[[20]byte]uint64),
			blacklist: make(map[[20]byte]bool),
		},
		roles: nativecommon.NewRoles(),
		rec:   &events.Recorder{},
		now:   t0,
	}
	f.engine = NewEngine()
	f.engine.SetState(f.state)
	f.engine.SetLoans(f.loans)
	f.engine.SetOracle(f.oracle)
	f.engine.SetReputation(f.rep)
	f.engine.SetRoles(f.roles)
	f.engine.SetEmitter(f.rec)
	f.engine.SetNowFunc(func() int64 { return f.now })
	return f
}

// seedLoan registers an unhealthy active loan for the given borrower.
func (f *fixture) seedLoan(tag byte, borrower [20]byte, debt, collateral int64) [32]byte {
	id := hash(tag)
	f.loans.loans[id] = &lending.Loan{
		ID:                 id,
		Borrower:           borrower,
		PoolType:           "stable",
		PrincipalWei:       big.NewInt(debt),
		CollateralWei:      big.NewInt(collateral),
		APRBps:             1200,
		StartTimestamp:     t0 - 1000,
		LastAccrualAt:      t0,
		AccruedInterestWei: big.NewInt(0),
		Status:             lending.LoanActive,
	}
	f.oracle.factors[id] = big.NewRat(9, 10)
	return id
}

func TestStartLiquidationGracePerTier(t *testing.T) {
	cases := []struct {
		name  string
		score uint64
		grace int64
	}{
		{"platinum", 800, 72 * 60 * 60},
		{"gold", 600, 24 * 60 * 60},
		{"silver", 400, 0},
		{"bronze", 0, 0},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			borrower := addr(byte(i + 1))
			f.rep.scores[borrower] = tc.score
			loanID := f.seedLoan(byte(i+1), borrower, 1_500_000, 2_000_000)

			auction, err := f.engine.StartLiquidation(loanID)
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			if auction.GracePeriodEnd != t0+tc.grace {
				t.Fatalf("grace end %d, expected %d", auction.GracePeriodEnd, t0+tc.grace)
			}
			if auction.DebtWei.Cmp(big.NewInt(1_500_000)) != 0 {
				t.Fatalf("snapshot debt %s", auction.DebtWei)
			}
		})
	}
}

func TestStartLiquidationBlacklistedGetsNoGrace(t *testing.T) {
	f := newFixture(t)
	borrower := addr(1)
	f.rep.scores[borrower] = 900
	f.rep.blacklist[borrower] = true
	loanID := f.seedLoan(1, borrower, 1_500_000, 2_000_000)

	auction, err := f.engine.StartLiquidation(loanID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if auction.GracePeriodEnd != t0 {
		t.Fatalf("blacklisted borrower got a grace period: end %d", auction.GracePeriodEnd)
	}
}

func TestStartLiquidationRejectsHealthyLoan(t *testing.T) {
	f := newFixture(t)
	borrower := addr(1)
	loanID := f.seedLoan(1, borrower, 1_000_000, 2_000_000)
	f.oracle.factors[loanID] = big.NewRat(1, 1)

	if _, err := f.engine.StartLiquidation(loanID); !errors.Is(err, ErrLoanHealthy) {
		t.Fatalf("expected ErrLoanHealthy at factor 1, got %v", err)
	}
	f.oracle.factors[loanID] = big.NewRat(99, 100)
	if _, err := f.engine.StartLiquidation(loanID); err != nil {
		t.Fatalf("start below 1: %v", err)
	}
}

func TestStartLiquidationRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	borrower := addr(1)
	loanID := f.seedLoan(1, borrower, 1_500_000, 2_000_000)

	if _, err := f.engine.StartLiquidation(loanID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := f.engine.StartLiquidation(loanID); !errors.Is(err, ErrAuctionOpen) {
		t.Fatalf("expected ErrAuctionOpen, got %v", err)
	}
}

func TestDiscountRampsLinearly(t *testing.T) {
	f := newFixture(t)
	borrower := addr(1)
	f.rep.scores[borrower] = 600 // Gold: 24h grace
	loanID := f.seedLoan(1, borrower, 1_500_000, 2_000_000)
	auction, err := f.engine.StartLiquidation(loanID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	cases := []struct {
		at       int64
		discount uint64
	}{
		{t0, 0},
		{auction.GracePeriodEnd - 1, 0},
		{auction.GracePeriodEnd, 0},
		{auction.GracePeriodEnd + 3*60*60, 1000},
		{auction.GracePeriodEnd + 6*60*60, 2000},
		{auction.GracePeriodEnd + 48*60*60, 2000},
	}
	for _, tc := range cases {
		f.now = tc.at
		discount, err := f.engine.CurrentDiscount(auction.ID)
		if err != nil {
			t.Fatalf("discount at %d: %v", tc.at, err)
		}
		if discount != tc.discount {
			t.Fatalf("discount at %d: got %d, expected %d", tc.at, discount, tc.discount)
		}
	}
}

func TestExecuteBlockedDuringGrace(t *testing.T) {
	f := newFixture(t)
	borrower := addr(1)
	f.rep.scores[borrower] = 800
	loanID := f.seedLoan(1, borrower, 1_500_000, 2_000_000)
	auction, err := f.engine.StartLiquidation(loanID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	f.now = auction.GracePeriodEnd - 1
	if _, err := f.engine.ExecuteLiquidation(auction.ID, addr(9)); !errors.Is(err, ErrGracePeriodActive) {
		t.Fatalf("expected ErrGracePeriodActive, got %v", err)
	}
}

func TestExecuteSettlesAtDiscountedPrice(t *testing.T) {
	f := newFixture(t)
	borrower := addr(1)
	executor := addr(9)
	loanID := f.seedLoan(1, borrower, 1_500_000, 2_000_000)
	auction, err := f.engine.StartLiquidation(loanID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Silver borrower, no grace. Three hours in the discount is 1000 bps,
	// so the executor pays 90% of the collateral value.
	f.now = t0 + 3*60*60
	executed, err := f.engine.ExecuteLiquidation(auction.ID, executor)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !executed.Executed {
		t.Fatal("auction not marked executed")
	}
	if executed.Executor != executor {
		t.Fatalf("executor %x", executed.Executor)
	}
	if len(f.loans.settlements) != 1 {
		t.Fatalf("settlements %d", len(f.loans.settlements))
	}
	settled := f.loans.settlements[0]
	if settled.payment.Cmp(big.NewInt(1_800_000)) != 0 {
		t.Fatalf("payment %s, expected 1800000", settled.payment)
	}
	if _, open, _ := f.state.OpenAuctionGet(loanID); open {
		t.Fatal("open-auction index not cleared")
	}

	if _, err := f.engine.ExecuteLiquidation(auction.ID, executor); !errors.Is(err, ErrAuctionExecuted) {
		t.Fatalf("expected ErrAuctionExecuted on replay, got %v", err)
	}
}

func TestExecuteRejectsUnprofitableSale(t *testing.T) {
	f := newFixture(t)
	borrower := addr(1)
	loanID := f.seedLoan(1, borrower, 1_900_000, 2_000_000)
	auction, err := f.engine.StartLiquidation(loanID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// At full discount the collateral fetches 1_600_000, under the debt.
	f.now = t0 + 6*60*60
	if _, err := f.engine.ExecuteLiquidation(auction.ID, addr(9)); !errors.Is(err, ErrUnprofitable) {
		t.Fatalf("expected ErrUnprofitable, got %v", err)
	}
	// Immediately after grace the full collateral value still covers it.
	f.now = t0
	if _, err := f.engine.ExecuteLiquidation(auction.ID, addr(9)); err != nil {
		t.Fatalf("execute at zero discount: %v", err)
	}
}

func TestRestartAllowedAfterExecution(t *testing.T) {
	f := newFixture(t)
	borrower := addr(1)
	loanID := f.seedLoan(1, borrower, 1_500_000, 2_000_000)
	auction, err := f.engine.StartLiquidation(loanID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.engine.ExecuteLiquidation(auction.ID, addr(9)); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// The settled loan is no longer active so a fresh start must fail on
	// the loan status, not on the open-auction index.
	if _, err := f.engine.StartLiquidation(loanID); !errors.Is(err, lending.ErrLoanNotActive) {
		t.Fatalf("expected ErrLoanNotActive, got %v", err)
	}
}

func TestCancelRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	borrower := addr(1)
	loanID := f.seedLoan(1, borrower, 1_500_000, 2_000_000)
	auction, err := f.engine.StartLiquidation(loanID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	outsider := addr(7)
	if _, err := f.engine.CancelAuction(auction.ID, outsider, "repaid"); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	admin := addr(8)
	f.roles.Grant(nativecommon.RoleAdmin, admin)
	cancelled, err := f.engine.CancelAuction(auction.ID, admin, "repaid")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled.Executed || cancelled.CancelReason != "repaid" {
		t.Fatalf("cancel state: executed=%v reason=%q", cancelled.Executed, cancelled.CancelReason)
	}
	if len(f.loans.settlements) != 0 {
		t.Fatal("cancel must not settle the loan")
	}
	if _, err := f.engine.CancelAuction(auction.ID, admin, "again"); !errors.Is(err, ErrAuctionExecuted) {
		t.Fatalf("expected ErrAuctionExecuted, got %v", err)
	}
}

func TestPausedModuleRejectsStart(t *testing.T) {
	f := newFixture(t)
	pauses := nativecommon.NewPauses([]string{"liquidation"})
	f.engine.SetPauses(pauses)
	borrower := addr(1)
	loanID := f.seedLoan(1, borrower, 1_500_000, 2_000_000)

	if _, err := f.engine.StartLiquidation(loanID); err == nil {
		t.Fatal("paused module accepted a start")
	}
	pauses.Resume("liquidation")
	if _, err := f.engine.StartLiquidation(loanID); err != nil {
		t.Fatalf("start after resume: %v", err)
	}
}

func TestLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	borrower := addr(1)
	loanID := f.seedLoan(1, borrower, 1_500_000, 2_000_000)
	auction, err := f.engine.StartLiquidation(loanID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.engine.ExecuteLiquidation(auction.ID, addr(9)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	got := f.rec.Types()
	want := []string{EventTypeAuctionStarted, EventTypeAuctionExecuted}
	if len(got) != len(want) {
		t.Fatalf("event types %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %q, expected %q", i, got[i], want[i])
		}
	}
}
