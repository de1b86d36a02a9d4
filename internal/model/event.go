package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidAccepted is pushed to every subscriber of an auction when a bid commits.
type BidAccepted struct {
	AuctionID  string          `json:"auctionId"`
	Amount     decimal.Decimal `json:"amount"`
	BidderName string          `json:"bidderName"`
	Sequence   int64           `json:"sequence"`
}

// AuctionEnded is pushed exactly once per auction, by whichever trigger wins
// the end transition.
type AuctionEnded struct {
	AuctionID   string          `json:"auctionId"`
	FinalAmount decimal.Decimal `json:"finalAmount"`
	WinnerName  string          `json:"winnerName,omitempty"`
	Sequence    int64           `json:"sequence"`
	EndedBy     EndedBy         `json:"endedBy"`
}

// BidEvent is the archival record published to JetStream for every accepted
// bid. The write path never waits on it.
type BidEvent struct {
	EventID        string          `json:"eventId"`
	AuctionID      string          `json:"auctionId"`
	BidID          string          `json:"bidId"`
	BidderID       string          `json:"bidderId,omitempty"`
	BidderName     string          `json:"bidderName"`
	BidderEmail    string          `json:"bidderEmail,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	PreviousAmount decimal.Decimal `json:"previousAmount"`
	Sequence       int64           `json:"sequence"`
	Timestamp      time.Time       `json:"timestamp"`
}
