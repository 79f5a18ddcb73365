package liquidation

import (
	"encoding/hex"
	"math/big"

	"trustline/core/types"
)

const (
	EventTypeAuctionStarted   = "liquidation.auction.started"
	EventTypeAuctionExecuted  = "liquidation.auction.executed"
	EventTypeAuctionCancelled = "liquidation.auction.cancelled"
)

// AuctionStarted is emitted when a liquidation auction opens against a loan.
type AuctionStarted struct {
	AuctionID      [32]byte
	LoanID         [32]byte
	GracePeriodEnd int64
}

func (AuctionStarted) EventType() string { return EventTypeAuctionStarted }

func (evt AuctionStarted) Event() *types.Event {
	return &types.Event{
		Type: EventTypeAuctionStarted,
		Attributes: map[string]string{
			"auctionId":      hex.EncodeToString(evt.AuctionID[:]),
			"loanId":         hex.EncodeToString(evt.LoanID[:]),
			"gracePeriodEnd": formatTimestamp(evt.GracePeriodEnd),
		},
	}
}

// AuctionExecuted is emitted when an executor settles the auction.
type AuctionExecuted struct {
	AuctionID     [32]byte
	DiscountBps   uint64
	CollateralWei *big.Int
}

func (AuctionExecuted) EventType() string { return EventTypeAuctionExecuted }

func (evt AuctionExecuted) Event() *types.Event {
	return &types.Event{
		Type: EventTypeAuctionExecuted,
		Attributes: map[string]string{
			"auctionId":   hex.EncodeToString(evt.AuctionID[:]),
			"discountBps": formatUint(evt.DiscountBps),
			"collateral":  formatAmount(evt.CollateralWei),
		},
	}
}

// AuctionCancelled is emitted when an admin closes an auction without
// settlement.
type AuctionCancelled struct {
	AuctionID [32]byte
	Reason    string
}

func (AuctionCancelled) EventType() string { return EventTypeAuctionCancelled }

func (evt AuctionCancelled) Event() *types.Event {
	return &types.Event{
		Type: EventTypeAuctionCancelled,
		Attributes: map[string]string{
			"auctionId": hex.EncodeToString(evt.AuctionID[:]),
			"reason":    evt.Reason,
		},
	}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func formatUint(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}

func formatTimestamp(ts int64) string {
	return big.NewInt(ts).String()
}
