package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"trustline/native/claims"
	"trustline/native/lending"
	"trustline/native/liquidation"
	"trustline/native/reputation"
)

const requestBodyLimit = 1 << 20 // 1 MiB

var errMalformedRequest = errors.New("gateway: malformed request")

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestBodyLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errMalformedRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil || len(decoded) != len(addr) {
		return addr, fmt.Errorf("%w: invalid address %q", errMalformedRequest, raw)
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseHash(raw string) ([32]byte, error) {
	var hash [32]byte
	cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil || len(decoded) != len(hash) {
		return hash, fmt.Errorf("%w: invalid hash %q", errMalformedRequest, raw)
	}
	copy(hash[:], decoded)
	return hash, nil
}

func parseBig(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid amount %q", errMalformedRequest, raw)
	}
	return value, nil
}

func hexHash(h [32]byte) string { return "0x" + hex.EncodeToString(h[:]) }
func hexAddr(a [20]byte) string { return "0x" + hex.EncodeToString(a[:]) }

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type claimView struct {
	ID                string `json:"id"`
	Claimant          string `json:"claimant"`
	MinBalanceWei     string `json:"minBalanceWei"`
	StartCheckpoint   uint64 `json:"startCheckpoint"`
	EndCheckpoint     uint64 `json:"endCheckpoint"`
	MerkleRoot        string `json:"merkleRoot"`
	StakeWei          string `json:"stakeWei"`
	Status            string `json:"status"`
	SubmittedAt       int64  `json:"submittedAt"`
	ChallengeDeadline int64  `json:"challengeDeadline"`
	FinalizedAt       int64  `json:"finalizedAt,omitempty"`
}

func renderClaim(c *claims.Claim) claimView {
	return claimView{
		ID:                hexHash(c.ID),
		Claimant:          hexAddr(c.Claimant),
		MinBalanceWei:     bigString(c.MinBalanceWei),
		StartCheckpoint:   c.StartCheckpoint,
		EndCheckpoint:     c.EndCheckpoint,
		MerkleRoot:        hexHash(c.MerkleRoot),
		StakeWei:          bigString(c.StakeWei),
		Status:            c.Status.String(),
		SubmittedAt:       c.SubmittedAt,
		ChallengeDeadline: c.ChallengeDeadline,
		FinalizedAt:       c.FinalizedAt,
	}
}

type challengeView struct {
	ClaimID    string `json:"claimId"`
	Challenger string `json:"challenger"`
	StakeWei   string `json:"stakeWei"`
	Outcome    string `json:"outcome"`
	OpenedAt   int64  `json:"openedAt"`
}

func renderChallenge(c *claims.Challenge) challengeView {
	return challengeView{
		ClaimID:    hexHash(c.ClaimID),
		Challenger: hexAddr(c.Challenger),
		StakeWei:   bigString(c.StakeWei),
		Outcome:    c.Outcome.String(),
		OpenedAt:   c.OpenedAt,
	}
}

type recordView struct {
	Subject       string `json:"subject"`
	Score         uint64 `json:"score"`
	Tier          string `json:"tier"`
	CreatedAt     int64  `json:"createdAt"`
	LastUpdatedAt int64  `json:"lastUpdatedAt"`
	Blacklisted   bool   `json:"blacklisted"`
	SlashCount    int    `json:"slashCount"`
}

func renderRecord(r *reputation.Record, liveScore uint64) recordView {
	return recordView{
		Subject:       hexAddr(r.Subject),
		Score:         liveScore,
		Tier:          reputation.TierOf(liveScore).String(),
		CreatedAt:     r.CreatedAt,
		LastUpdatedAt: r.LastUpdatedAt,
		Blacklisted:   r.Blacklisted,
		SlashCount:    len(r.SlashHistory),
	}
}

type loanView struct {
	ID                 string `json:"id"`
	Borrower           string `json:"borrower"`
	PoolType           string `json:"poolType"`
	PrincipalWei       string `json:"principalWei"`
	CollateralWei      string `json:"collateralWei"`
	CollateralAsset    string `json:"collateralAsset,omitempty"`
	APRBps             uint64 `json:"aprBps"`
	StartTimestamp     int64  `json:"startTimestamp"`
	AccruedInterestWei string `json:"accruedInterestWei"`
	Status             string `json:"status"`
}

func renderLoan(l *lending.Loan) loanView {
	return loanView{
		ID:                 hexHash(l.ID),
		Borrower:           hexAddr(l.Borrower),
		PoolType:           l.PoolType,
		PrincipalWei:       bigString(l.PrincipalWei),
		CollateralWei:      bigString(l.CollateralWei),
		CollateralAsset:    l.CollateralAsset,
		APRBps:             l.APRBps,
		StartTimestamp:     l.StartTimestamp,
		AccruedInterestWei: bigString(l.AccruedInterestWei),
		Status:             l.Status.String(),
	}
}

type poolView struct {
	PoolType       string `json:"poolType"`
	TotalLiquidity string `json:"totalLiquidity"`
	TotalBorrowed  string `json:"totalBorrowed"`
	Active         bool   `json:"active"`
}

func renderPool(p *lending.Pool) poolView {
	return poolView{
		PoolType:       p.PoolType,
		TotalLiquidity: bigString(p.TotalLiquidity),
		TotalBorrowed:  bigString(p.TotalBorrowed),
		Active:         p.Active,
	}
}

type auctionView struct {
	ID             string `json:"id"`
	LoanID         string `json:"loanId"`
	Borrower       string `json:"borrower"`
	DebtWei        string `json:"debtWei"`
	CollateralWei  string `json:"collateralWei"`
	StartTime      int64  `json:"startTime"`
	GracePeriodEnd int64  `json:"gracePeriodEnd"`
	AuctionSeconds int64  `json:"auctionSeconds"`
	MaxDiscountBps uint64 `json:"maxDiscountBps"`
	Executed       bool   `json:"executed"`
	Executor       string `json:"executor,omitempty"`
	ExecutedAt     int64  `json:"executedAt,omitempty"`
	CancelReason   string `json:"cancelReason,omitempty"`
}

func renderAuction(a *liquidation.Auction) auctionView {
	view := auctionView{
		ID:             hexHash(a.ID),
		LoanID:         hexHash(a.LoanID),
		Borrower:       hexAddr(a.Borrower),
		DebtWei:        bigString(a.DebtWei),
		CollateralWei:  bigString(a.CollateralWei),
		StartTime:      a.StartTime,
		GracePeriodEnd: a.GracePeriodEnd,
		AuctionSeconds: a.AuctionSeconds,
		MaxDiscountBps: a.MaxDiscountBps,
		Executed:       a.Executed,
		ExecutedAt:     a.ExecutedAt,
		CancelReason:   a.CancelReason,
	}
	if a.Executor != ([20]byte{}) {
		view.Executor = hexAddr(a.Executor)
	}
	return view
}
