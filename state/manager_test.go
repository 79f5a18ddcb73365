package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"trustline/native/claims"
	"trustline/native/lending"
	"trustline/native/liquidation"
	"trustline/storage"
)

func testManager() *Manager {
	return NewManager(storage.NewMemDB())
}

func testHash(tag byte) [32]byte {
	var h [32]byte
	h[0] = tag
	return h
}

func testAddr(tag byte) [20]byte {
	var a [20]byte
	a[0] = tag
	return a
}

func TestAccountRoundTrip(t *testing.T) {
	m := testManager()
	addr := testAddr(1)

	// Unknown addresses come back zero-valued, never nil.
	account, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Zero(t, account.BalanceWei.Sign())
	require.Zero(t, account.CollateralWei.Sign())

	account.BalanceWei = big.NewInt(1_000_000)
	account.CollateralWei = big.NewInt(42)
	require.NoError(t, m.PutAccount(addr, account))

	loaded, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), loaded.BalanceWei.Int64())
	require.Equal(t, int64(42), loaded.CollateralWei.Int64())
}

func TestClaimRoundTrip(t *testing.T) {
	m := testManager()
	claim := &claims.Claim{
		ID:                testHash(1),
		Claimant:          testAddr(2),
		MinBalanceWei:     big.NewInt(5_000),
		StartCheckpoint:   1000,
		EndCheckpoint:     1200,
		MerkleRoot:        testHash(0xaa),
		StakeWei:          big.NewInt(100),
		Status:            claims.ClaimChallenged,
		SubmittedAt:       1_700_000_000,
		ChallengeDeadline: 1_700_604_800,
	}
	require.NoError(t, m.ClaimPut(claim))

	loaded, ok, err := m.ClaimGet(claim.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, claim.Claimant, loaded.Claimant)
	require.Equal(t, claims.ClaimChallenged, loaded.Status)
	require.Equal(t, claim.ChallengeDeadline, loaded.ChallengeDeadline)
	require.Equal(t, claim.MinBalanceWei.String(), loaded.MinBalanceWei.String())

	_, ok, err = m.ClaimGet(testHash(9))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChallengeRoundTrip(t *testing.T) {
	m := testManager()
	challenge := &claims.Challenge{
		ClaimID:    testHash(1),
		Challenger: testAddr(3),
		StakeWei:   big.NewInt(200),
		Outcome:    claims.ChallengerWon,
		OpenedAt:   1_700_000_100,
	}
	require.NoError(t, m.ChallengePut(challenge))

	loaded, ok, err := m.ChallengeGet(challenge.ClaimID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, claims.ChallengerWon, loaded.Outcome)
	require.Equal(t, challenge.OpenedAt, loaded.OpenedAt)
}

func TestPoolRoundTrip(t *testing.T) {
	m := testManager()
	pool := &lending.Pool{
		PoolType:       "stable",
		TotalLiquidity: big.NewInt(10_000_000),
		TotalBorrowed:  big.NewInt(4_000_000),
		Active:         true,
	}
	require.NoError(t, m.PoolPut(pool))

	loaded, ok, err := m.PoolGet("stable")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, loaded.Active)
	require.Equal(t, pool.TotalBorrowed.String(), loaded.TotalBorrowed.String())

	_, ok, err = m.PoolGet("volatile")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoanRoundTrip(t *testing.T) {
	m := testManager()
	loan := &lending.Loan{
		ID:                 testHash(1),
		Borrower:           testAddr(2),
		PoolType:           "stable",
		PrincipalWei:       big.NewInt(1_000_000),
		CollateralWei:      big.NewInt(2_000_000),
		CollateralAsset:    "collateral",
		APRBps:             1200,
		StartTimestamp:     1_700_000_000,
		LastAccrualAt:      1_700_100_000,
		AccruedInterestWei: big.NewInt(3_805),
		Status:             lending.LoanActive,
	}
	require.NoError(t, m.LoanPut(loan))

	loaded, ok, err := m.LoanGet(loan.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, loan.LastAccrualAt, loaded.LastAccrualAt)
	require.Equal(t, lending.LoanActive, loaded.Status)
	require.Equal(t, loan.AccruedInterestWei.String(), loaded.AccruedInterestWei.String())
}

func TestNextLoanSeqIsMonotonic(t *testing.T) {
	m := testManager()
	for want := uint64(1); want <= 5; want++ {
		seq, err := m.NextLoanSeq()
		require.NoError(t, err)
		require.Equal(t, want, seq)
	}
}

func TestBreakerWindowRoundTrip(t *testing.T) {
	m := testManager()

	empty, err := m.BreakerWindowGet("stable")
	require.NoError(t, err)
	require.Empty(t, empty)

	samples := []lending.BorrowSample{
		{Timestamp: 1_700_000_000, AmountWei: big.NewInt(6_000_000)},
		{Timestamp: 1_700_000_060, AmountWei: big.NewInt(4_000_000)},
	}
	require.NoError(t, m.BreakerWindowPut("stable", samples))

	loaded, err := m.BreakerWindowGet("stable")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, samples[0].Timestamp, loaded[0].Timestamp)
	require.Equal(t, samples[1].AmountWei.String(), loaded[1].AmountWei.String())
}

func TestAuctionRoundTrip(t *testing.T) {
	m := testManager()
	auction := &liquidation.Auction{
		ID:             testHash(1),
		LoanID:         testHash(2),
		Borrower:       testAddr(3),
		DebtWei:        big.NewInt(1_500_000),
		CollateralWei:  big.NewInt(2_000_000),
		StartTime:      1_700_000_000,
		GracePeriodEnd: 1_700_086_400,
		AuctionSeconds: 21_600,
		MaxDiscountBps: 2000,
		Executed:       true,
		Executor:       testAddr(9),
		ExecutedAt:     1_700_100_000,
		CancelReason:   "",
	}
	require.NoError(t, m.AuctionPut(auction))

	loaded, ok, err := m.AuctionGet(auction.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, auction.GracePeriodEnd, loaded.GracePeriodEnd)
	require.True(t, loaded.Executed)
	require.Equal(t, auction.Executor, loaded.Executor)
	require.Equal(t, auction.DebtWei.String(), loaded.DebtWei.String())
}

func TestOpenAuctionIndex(t *testing.T) {
	m := testManager()
	loanID := testHash(1)
	auctionID := testHash(2)

	_, ok, err := m.OpenAuctionGet(loanID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.OpenAuctionPut(loanID, auctionID))
	got, ok, err := m.OpenAuctionGet(loanID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, auctionID, got)

	require.NoError(t, m.OpenAuctionDelete(loanID))
	_, ok, err = m.OpenAuctionGet(loanID)
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting an absent key is not an error.
	require.NoError(t, m.OpenAuctionDelete(testHash(7)))
}

func TestKVRoundTrip(t *testing.T) {
	m := testManager()
	require.Error(t, m.KVPut(nil, uint64(1)))

	require.NoError(t, m.KVPut([]byte("reputation/feed/x"), uint64(640)))
	var score uint64
	ok, err := m.KVGet([]byte("reputation/feed/x"), &score)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(640), score)

	ok, err = m.KVGet([]byte("missing"), &score)
	require.NoError(t, err)
	require.False(t, ok)
}
