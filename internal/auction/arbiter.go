package auction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/navyas1307/Auction-System/internal/model"
)

// Accepted is what a winning bid attempt returns to its caller.
type Accepted struct {
	AuctionID string
	Amount    decimal.Decimal
	Sequence  int64
}

// SubmitBid validates and atomically commits a bid. Checks run in order,
// each with its own rejection: the auction must be active, the bidder must
// not be the seller, and the amount must clear the current highest bid plus
// the increment. Two bids racing each other resolve inside the store's
// atomic commit: exactly one wins, and the loser's rejection reports the
// minimum computed against the winning amount.
//
// The accepted event is handed to the fan-out before this returns, so a
// caller never observes success ahead of the broadcast being queued.
func (c *Coordinator) SubmitBid(ctx context.Context, auctionID string, bidder model.Bidder, amount decimal.Decimal) (Accepted, error) {
	e, ok := c.entry(auctionID)
	if !ok {
		return Accepted{}, ErrNotFound
	}

	// Lazy check: a bid arriving after the scheduled end runs the
	// transition itself rather than trusting the timer to have fired.
	if e.auction.Expired(time.Now()) {
		if err := c.end(ctx, e, model.EndedByLazyCheck); err != nil {
			return Accepted{}, err
		}
		return Accepted{}, model.Reject(model.ReasonAuctionEnded)
	}

	e.mu.Lock()
	// Checks run in order, ended before seller: an owner-ended auction is
	// still inside its scheduled window, so the entry's ended flag is the
	// status at the instant of evaluation.
	if e.ended {
		e.mu.Unlock()
		return Accepted{}, model.Reject(model.ReasonAuctionEnded)
	}
	if bidder.ID != "" && bidder.ID == e.auction.SellerID {
		e.mu.Unlock()
		return Accepted{}, model.Reject(model.ReasonSellerCannotBid)
	}
	commit, err := c.store.CommitBid(ctx, auctionID, bidder, amount)
	if err != nil {
		e.mu.Unlock()
		return Accepted{}, err
	}
	if commit.Ended {
		e.mu.Unlock()
		return Accepted{}, model.Reject(model.ReasonAuctionEnded)
	}
	if !commit.Accepted {
		e.mu.Unlock()
		return Accepted{}, model.RejectTooLow(commit.Minimum)
	}

	ev := model.BidAccepted{
		AuctionID:  auctionID,
		Amount:     amount,
		BidderName: bidder.Name,
		Sequence:   commit.Sequence,
	}
	c.broadcast.BidAccepted(ev)
	e.mu.Unlock()

	c.log.Info("bid accepted",
		"auction_id", auctionID,
		"amount", amount,
		"bidder", bidder.Name,
		"sequence", commit.Sequence)

	if c.recorder != nil {
		bidEvent := model.BidEvent{
			EventID:        uuid.New().String(),
			AuctionID:      auctionID,
			BidID:          uuid.New().String(),
			BidderID:       bidder.ID,
			BidderName:     bidder.Name,
			BidderEmail:    bidder.Email,
			Amount:         amount,
			PreviousAmount: commit.Previous,
			Sequence:       commit.Sequence,
			Timestamp:      time.Now().UTC(),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.recorder.RecordBid(ctx, bidEvent); err != nil {
				c.log.Warn("failed to hand bid to archival pipeline",
					"auction_id", auctionID, "error", err)
			}
		}()
	}

	return Accepted{AuctionID: auctionID, Amount: amount, Sequence: commit.Sequence}, nil
}
