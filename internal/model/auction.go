package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an auction. The transition is monotonic:
// once ended, an auction never becomes active again.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// EndedBy records which trigger won the end transition. Diagnostic only;
// it never feeds back into any decision.
type EndedBy string

const (
	EndedByTimer     EndedBy = "timer"
	EndedByOwner     EndedBy = "owner"
	EndedByLazyCheck EndedBy = "lazy_check"
)

// Auction is the immutable description of a listing. Everything that changes
// during the auction's life (highest bid, sequence, status) lives in the
// highest-bid store, not here.
type Auction struct {
	ID            string          `json:"id"`
	ItemName      string          `json:"itemName"`
	Description   string          `json:"description,omitempty"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
	BidIncrement  decimal.Decimal `json:"bidIncrement"`
	Duration      time.Duration   `json:"-"`
	DurationMins  int             `json:"duration"`
	SellerID      string          `json:"sellerId"`
	SellerName    string          `json:"sellerName"`
	SellerEmail   string          `json:"sellerEmail,omitempty"`
	StartTime     time.Time       `json:"startTime"`
}

// EndsAt is the scheduled expiry instant.
func (a *Auction) EndsAt() time.Time {
	return a.StartTime.Add(a.Duration)
}

// Expired reports whether the auction's scheduled end has passed. It says
// nothing about whether the end transition has actually run.
func (a *Auction) Expired(now time.Time) bool {
	return now.After(a.EndsAt())
}

// TimeRemaining is how long until scheduled expiry, clamped at zero.
func (a *Auction) TimeRemaining(now time.Time) time.Duration {
	if rem := a.EndsAt().Sub(now); rem > 0 {
		return rem
	}
	return 0
}

// Bidder identifies an authenticated bidder for the lifetime of a connection.
type Bidder struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// HighestBid is the authoritative current-highest-bid record for one auction.
// Bidder fields are empty until the first accepted bid, in which case Amount
// equals the starting price.
type HighestBid struct {
	AuctionID   string          `json:"auctionId"`
	Status      Status          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	BidderID    string          `json:"bidderId,omitempty"`
	BidderName  string          `json:"bidderName,omitempty"`
	BidderEmail string          `json:"-"`
	Sequence    int64           `json:"sequence"`
}

// HasLeader reports whether any bid has been accepted yet.
func (h HighestBid) HasLeader() bool {
	return h.BidderID != "" || h.BidderName != ""
}
