package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/navyas1307/Auction-System/internal/model"
)

// Every frame on the socket is a tagged envelope with a fixed schema per
// type, validated at the boundary.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound message types.
const (
	MsgAuthenticate = "authenticate"
	MsgSubscribe    = "subscribe"
	MsgBid          = "bid"
	MsgEndAuction   = "end_auction"
)

// Outbound message types.
const (
	MsgAuthenticated = "authenticated"
	MsgSnapshot      = "snapshot"
	MsgBidOK         = "bid_ok"
	MsgBidRejected   = "bid_rejected"
	MsgBidAccepted   = "bid_accepted"
	MsgAuctionEnded  = "auction_ended"
	MsgEndOK         = "end_ok"
	MsgError         = "error"
)

type authenticateRequest struct {
	Token string `json:"token"`
}

type subscribeRequest struct {
	AuctionID string `json:"auctionId"`
}

type bidRequest struct {
	AuctionID string          `json:"auctionId"`
	Amount    decimal.Decimal `json:"amount"`
}

type endAuctionRequest struct {
	AuctionID string `json:"auctionId"`
}

type authenticatedReply struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type snapshotReply struct {
	AuctionID  string          `json:"auctionId"`
	Status     model.Status    `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	LeaderName string          `json:"leaderName,omitempty"`
	Sequence   int64           `json:"sequence"`
}

type bidOKReply struct {
	AuctionID string          `json:"auctionId"`
	Amount    decimal.Decimal `json:"amount"`
	Sequence  int64           `json:"sequence"`
}

type bidRejectedReply struct {
	AuctionID         string             `json:"auctionId"`
	Reason            model.RejectReason `json:"reason"`
	Message           string             `json:"message"`
	MinimumAcceptable *decimal.Decimal   `json:"minimumAcceptable,omitempty"`
}

type endOKReply struct {
	AuctionID string `json:"auctionId"`
}

type errorReply struct {
	Message string `json:"message"`
}

func encode(typ string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Data: data})
}
