package state

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"trustline/core/types"
	"trustline/native/claims"
	"trustline/native/lending"
	"trustline/native/liquidation"
	"trustline/storage"
)

// Manager persists the credit core's objects in a key-value database using
// RLP encoding. It implements the narrow state interfaces each native engine
// declares, so one manager instance backs claims, reputation, lending and
// liquidation at once.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	claimPrefix       = []byte("claims/")
	challengePrefix   = []byte("challenges/")
	poolPrefix        = []byte("pools/")
	loanPrefix        = []byte("loans/")
	loanSeqKey        = []byte("loans/seq")
	auctionPrefix     = []byte("auctions/")
	openAuctionPrefix = []byte("auctions/open/")
	accountPrefix     = []byte("accounts/")
	breakerPrefix     = []byte("breaker/")
)

func hashKey(prefix []byte, id []byte) []byte {
	buf := make([]byte, 0, len(prefix)+hex.EncodedLen(len(id)))
	buf = append(buf, prefix...)
	return append(buf, []byte(hex.EncodeToString(id))...)
}

func stringKey(prefix []byte, name string) []byte {
	buf := make([]byte, 0, len(prefix)+len(name))
	buf = append(buf, prefix...)
	return append(buf, []byte(name)...)
}

func (m *Manager) put(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state: database not configured")
	}
	data, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut stores an arbitrary RLP-encodable value under the caller's key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("state: key must not be empty")
	}
	return m.put(key, value)
}

// KVGet retrieves a value written by KVPut and decodes it into out. The
// boolean reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("state: key must not be empty")
	}
	return m.get(key, out)
}

// --- Accounts ---

type storedAccount struct {
	BalanceWei    *big.Int
	CollateralWei *big.Int
}

// GetAccount loads an account, returning a zero-valued account for addresses
// never seen before.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.get(hashKey(accountPrefix, addr[:]), &stored)
	if err != nil {
		return nil, err
	}
	account := &types.Account{BalanceWei: big.NewInt(0), CollateralWei: big.NewInt(0)}
	if !ok {
		return account, nil
	}
	if stored.BalanceWei != nil {
		account.BalanceWei = stored.BalanceWei
	}
	if stored.CollateralWei != nil {
		account.CollateralWei = stored.CollateralWei
	}
	return account, nil
}

// PutAccount persists an account.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: account must not be nil")
	}
	stored := storedAccount{BalanceWei: account.BalanceWei, CollateralWei: account.CollateralWei}
	if stored.BalanceWei == nil {
		stored.BalanceWei = big.NewInt(0)
	}
	if stored.CollateralWei == nil {
		stored.CollateralWei = big.NewInt(0)
	}
	return m.put(hashKey(accountPrefix, addr[:]), stored)
}

// --- Claims ---

type storedClaim struct {
	ID                [32]byte
	Claimant          [20]byte
	MinBalanceWei     *big.Int
	StartCheckpoint   uint64
	EndCheckpoint     uint64
	MerkleRoot        [32]byte
	StakeWei          *big.Int
	Status            uint8
	SubmittedAt       uint64
	ChallengeDeadline uint64
	FinalizedAt       uint64
}

func (m *Manager) ClaimGet(id [32]byte) (*claims.Claim, bool, error) {
	var stored storedClaim
	ok, err := m.get(hashKey(claimPrefix, id[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	claim := &claims.Claim{
		ID:                stored.ID,
		Claimant:          stored.Claimant,
		MinBalanceWei:     bigOrZero(stored.MinBalanceWei),
		StartCheckpoint:   stored.StartCheckpoint,
		EndCheckpoint:     stored.EndCheckpoint,
		MerkleRoot:        stored.MerkleRoot,
		StakeWei:          bigOrZero(stored.StakeWei),
		Status:            claims.ClaimStatus(stored.Status),
		SubmittedAt:       int64(stored.SubmittedAt),
		ChallengeDeadline: int64(stored.ChallengeDeadline),
		FinalizedAt:       int64(stored.FinalizedAt),
	}
	return claim, true, nil
}

func (m *Manager) ClaimPut(claim *claims.Claim) error {
	if claim == nil {
		return fmt.Errorf("state: claim must not be nil")
	}
	stored := storedClaim{
		ID:                claim.ID,
		Claimant:          claim.Claimant,
		MinBalanceWei:     bigOrZero(claim.MinBalanceWei),
		StartCheckpoint:   claim.StartCheckpoint,
		EndCheckpoint:     claim.EndCheckpoint,
		MerkleRoot:        claim.MerkleRoot,
		StakeWei:          bigOrZero(claim.StakeWei),
		Status:            uint8(claim.Status),
		SubmittedAt:       uint64(claim.SubmittedAt),
		ChallengeDeadline: uint64(claim.ChallengeDeadline),
		FinalizedAt:       uint64(claim.FinalizedAt),
	}
	return m.put(hashKey(claimPrefix, claim.ID[:]), stored)
}

type storedChallenge struct {
	ClaimID    [32]byte
	Challenger [20]byte
	StakeWei   *big.Int
	Outcome    uint8
	OpenedAt   uint64
}

func (m *Manager) ChallengeGet(claimID [32]byte) (*claims.Challenge, bool, error) {
	var stored storedChallenge
	ok, err := m.get(hashKey(challengePrefix, claimID[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	challenge := &claims.Challenge{
		ClaimID:    stored.ClaimID,
		Challenger: stored.Challenger,
		StakeWei:   bigOrZero(stored.StakeWei),
		Outcome:    claims.ChallengeOutcome(stored.Outcome),
		OpenedAt:   int64(stored.OpenedAt),
	}
	return challenge, true, nil
}

func (m *Manager) ChallengePut(challenge *claims.Challenge) error {
	if challenge == nil {
		return fmt.Errorf("state: challenge must not be nil")
	}
	stored := storedChallenge{
		ClaimID:    challenge.ClaimID,
		Challenger: challenge.Challenger,
		StakeWei:   bigOrZero(challenge.StakeWei),
		Outcome:    uint8(challenge.Outcome),
		OpenedAt:   uint64(challenge.OpenedAt),
	}
	return m.put(hashKey(challengePrefix, challenge.ClaimID[:]), stored)
}

// --- Lending ---

type storedPool struct {
	PoolType       string
	TotalLiquidity *big.Int
	TotalBorrowed  *big.Int
	Active         bool
}

func (m *Manager) PoolGet(poolType string) (*lending.Pool, bool, error) {
	var stored storedPool
	ok, err := m.get(stringKey(poolPrefix, poolType), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	pool := &lending.Pool{
		PoolType:       stored.PoolType,
		TotalLiquidity: bigOrZero(stored.TotalLiquidity),
		TotalBorrowed:  bigOrZero(stored.TotalBorrowed),
		Active:         stored.Active,
	}
	return pool, true, nil
}

func (m *Manager) PoolPut(pool *lending.Pool) error {
	if pool == nil {
		return fmt.Errorf("state: pool must not be nil")
	}
	stored := storedPool{
		PoolType:       pool.PoolType,
		TotalLiquidity: bigOrZero(pool.TotalLiquidity),
		TotalBorrowed:  bigOrZero(pool.TotalBorrowed),
		Active:         pool.Active,
	}
	return m.put(stringKey(poolPrefix, pool.PoolType), stored)
}

type storedLoan struct {
	ID                 [32]byte
	Borrower           [20]byte
	PoolType           string
	PrincipalWei       *big.Int
	CollateralWei      *big.Int
	CollateralAsset    string
	APRBps             uint64
	StartTimestamp     uint64
	LastAccrualAt      uint64
	AccruedInterestWei *big.Int
	Status             uint8
}

func (m *Manager) LoanGet(id [32]byte) (*lending.Loan, bool, error) {
	var stored storedLoan
	ok, err := m.get(hashKey(loanPrefix, id[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	loan := &lending.Loan{
		ID:                 stored.ID,
		Borrower:           stored.Borrower,
		PoolType:           stored.PoolType,
		PrincipalWei:       bigOrZero(stored.PrincipalWei),
		CollateralWei:      bigOrZero(stored.CollateralWei),
		CollateralAsset:    stored.CollateralAsset,
		APRBps:             stored.APRBps,
		StartTimestamp:     int64(stored.StartTimestamp),
		LastAccrualAt:      int64(stored.LastAccrualAt),
		AccruedInterestWei: bigOrZero(stored.AccruedInterestWei),
		Status:             lending.LoanStatus(stored.Status),
	}
	return loan, true, nil
}

func (m *Manager) LoanPut(loan *lending.Loan) error {
	if loan == nil {
		return fmt.Errorf("state: loan must not be nil")
	}
	stored := storedLoan{
		ID:                 loan.ID,
		Borrower:           loan.Borrower,
		PoolType:           loan.PoolType,
		PrincipalWei:       bigOrZero(loan.PrincipalWei),
		CollateralWei:      bigOrZero(loan.CollateralWei),
		CollateralAsset:    loan.CollateralAsset,
		APRBps:             loan.APRBps,
		StartTimestamp:     uint64(loan.StartTimestamp),
		LastAccrualAt:      uint64(loan.LastAccrualAt),
		AccruedInterestWei: bigOrZero(loan.AccruedInterestWei),
		Status:             uint8(loan.Status),
	}
	return m.put(hashKey(loanPrefix, loan.ID[:]), stored)
}

// NextLoanSeq increments and returns the monotonic loan sequence counter.
func (m *Manager) NextLoanSeq() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seq uint64
	if _, err := m.get(loanSeqKey, &seq); err != nil {
		return 0, err
	}
	seq++
	if err := m.put(loanSeqKey, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

type storedSample struct {
	Timestamp uint64
	AmountWei *big.Int
}

func (m *Manager) BreakerWindowGet(poolType string) ([]lending.BorrowSample, error) {
	var stored []storedSample
	if _, err := m.get(stringKey(breakerPrefix, poolType), &stored); err != nil {
		return nil, err
	}
	samples := make([]lending.BorrowSample, 0, len(stored))
	for _, s := range stored {
		samples = append(samples, lending.BorrowSample{
			Timestamp: int64(s.Timestamp),
			AmountWei: bigOrZero(s.AmountWei),
		})
	}
	return samples, nil
}

func (m *Manager) BreakerWindowPut(poolType string, samples []lending.BorrowSample) error {
	stored := make([]storedSample, 0, len(samples))
	for _, s := range samples {
		stored = append(stored, storedSample{
			Timestamp: uint64(s.Timestamp),
			AmountWei: bigOrZero(s.AmountWei),
		})
	}
	return m.put(stringKey(breakerPrefix, poolType), stored)
}

// --- Liquidation ---

type storedAuction struct {
	ID             [32]byte
	LoanID         [32]byte
	Borrower       [20]byte
	DebtWei        *big.Int
	CollateralWei  *big.Int
	StartTime      uint64
	GracePeriodEnd uint64
	AuctionSeconds uint64
	MaxDiscountBps uint64
	Executed       bool
	Executor       [20]byte
	ExecutedAt     uint64
	CancelReason   string
}

func (m *Manager) AuctionGet(id [32]byte) (*liquidation.Auction, bool, error) {
	var stored storedAuction
	ok, err := m.get(hashKey(auctionPrefix, id[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	auction := &liquidation.Auction{
		ID:             stored.ID,
		LoanID:         stored.LoanID,
		Borrower:       stored.Borrower,
		DebtWei:        bigOrZero(stored.DebtWei),
		CollateralWei:  bigOrZero(stored.CollateralWei),
		StartTime:      int64(stored.StartTime),
		GracePeriodEnd: int64(stored.GracePeriodEnd),
		AuctionSeconds: int64(stored.AuctionSeconds),
		MaxDiscountBps: stored.MaxDiscountBps,
		Executed:       stored.Executed,
		Executor:       stored.Executor,
		ExecutedAt:     int64(stored.ExecutedAt),
		CancelReason:   stored.CancelReason,
	}
	return auction, true, nil
}

func (m *Manager) AuctionPut(auction *liquidation.Auction) error {
	if auction == nil {
		return fmt.Errorf("state: auction must not be nil")
	}
	stored := storedAuction{
		ID:             auction.ID,
		LoanID:         auction.LoanID,
		Borrower:       auction.Borrower,
		DebtWei:        bigOrZero(auction.DebtWei),
		CollateralWei:  bigOrZero(auction.CollateralWei),
		StartTime:      uint64(auction.StartTime),
		GracePeriodEnd: uint64(auction.GracePeriodEnd),
		AuctionSeconds: uint64(auction.AuctionSeconds),
		MaxDiscountBps: auction.MaxDiscountBps,
		Executed:       auction.Executed,
		Executor:       auction.Executor,
		ExecutedAt:     uint64(auction.ExecutedAt),
		CancelReason:   auction.CancelReason,
	}
	return m.put(hashKey(auctionPrefix, auction.ID[:]), stored)
}

// OpenAuctionGet resolves the live auction opened against a loan, if any.
func (m *Manager) OpenAuctionGet(loanID [32]byte) ([32]byte, bool, error) {
	var id [32]byte
	var raw []byte
	ok, err := m.get(hashKey(openAuctionPrefix, loanID[:]), &raw)
	if err != nil || !ok {
		return id, false, err
	}
	if len(raw) != len(id) {
		return id, false, fmt.Errorf("state: malformed open auction index")
	}
	copy(id[:], raw)
	return id, true, nil
}

func (m *Manager) OpenAuctionPut(loanID [32]byte, auctionID [32]byte) error {
	return m.put(hashKey(openAuctionPrefix, loanID[:]), auctionID[:])
}

func (m *Manager) OpenAuctionDelete(loanID [32]byte) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	return m.db.Delete(hashKey(openAuctionPrefix, loanID[:]))
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
