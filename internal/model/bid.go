package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RejectReason enumerates why a bid attempt was turned down.
type RejectReason string

const (
	ReasonAuctionEnded     RejectReason = "auction_ended"
	ReasonSellerCannotBid  RejectReason = "seller_cannot_bid"
	ReasonBidTooLow        RejectReason = "bid_too_low"
	ReasonNotAuthenticated RejectReason = "not_authenticated"
)

// Rejection is the terminal outcome of a failed bid attempt. The core never
// retries; the caller decides whether to resubmit with a new amount.
type Rejection struct {
	Reason RejectReason
	// Minimum is the smallest acceptable next bid. Set only for
	// ReasonBidTooLow, so a caller can retry without guessing.
	Minimum decimal.Decimal
}

func (r *Rejection) Error() string {
	if r.Reason == ReasonBidTooLow {
		return fmt.Sprintf("bid too low, minimum acceptable bid is %s", r.Minimum.StringFixed(2))
	}
	return string(r.Reason)
}

// Message is the human-readable form sent over the wire.
func (r *Rejection) Message() string {
	switch r.Reason {
	case ReasonAuctionEnded:
		return "Auction has ended"
	case ReasonSellerCannotBid:
		return "You cannot bid on your own auction"
	case ReasonNotAuthenticated:
		return "You must be logged in to bid"
	case ReasonBidTooLow:
		return fmt.Sprintf("Bid too low. Minimum acceptable bid is %s", r.Minimum.StringFixed(2))
	}
	return string(r.Reason)
}

// Reject builds a rejection for reasons that carry no minimum.
func Reject(reason RejectReason) *Rejection {
	return &Rejection{Reason: reason}
}

// RejectTooLow builds a bid-too-low rejection reporting the computed minimum.
func RejectTooLow(minimum decimal.Decimal) *Rejection {
	return &Rejection{Reason: ReasonBidTooLow, Minimum: minimum}
}

// Bid is one accepted bid, as persisted by the archival pipeline.
type Bid struct {
	ID         string          `json:"id"`
	AuctionID  string          `json:"auctionId"`
	Amount     decimal.Decimal `json:"bidAmount"`
	BidderID   string          `json:"bidderId,omitempty"`
	BidderName string          `json:"bidderName"`
	BidTime    time.Time       `json:"bidTime"`
}
