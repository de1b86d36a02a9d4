// Package store holds the authoritative current-highest-bid record per
// auction, separate from the durable historical log. Every mutation is a
// single atomic read-compare-and-write so that concurrent bids and the end
// transition serialize per auction.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/navyas1307/Auction-System/internal/model"
)

// ErrNotFound is returned for operations on an auction the store has no
// record for.
var ErrNotFound = errors.New("auction not found")

// BidCommit is the outcome of an atomic bid commit attempt.
type BidCommit struct {
	// Accepted reports whether this bid became the new highest bid.
	Accepted bool
	// Ended is set when the auction was already ended at the instant of
	// evaluation. Accepted is always false in that case.
	Ended bool
	// Previous is the highest amount before this commit. For a rejected
	// bid it is the amount the bid lost against, which may be newer than
	// anything the caller observed.
	Previous decimal.Decimal
	// Minimum is the smallest acceptable next bid, valid when the bid was
	// rejected as too low.
	Minimum decimal.Decimal
	// Sequence is the accepted bid's position in the auction's total order.
	Sequence int64
}

// EndTransition is the outcome of an atomic Active->Ended attempt.
type EndTransition struct {
	// Won reports whether this caller performed the transition. Exactly
	// one caller per auction ever observes Won=true; everyone else gets
	// the already-ended state and must perform no side effects.
	Won bool
	// EndedBy is the trigger recorded by whichever caller won.
	EndedBy model.EndedBy
	// Final is the highest-bid record at the instant of transition.
	Final model.HighestBid
}

// Store is the highest-bid surface shared by the bid arbiter and the
// lifecycle manager. Implementations must make CommitBid and End atomic per
// auction and must agree on a single authoritative status: a bid evaluated
// after the end transition commits must observe Ended.
type Store interface {
	// Init creates the record for a new auction at its starting price with
	// no leader. Re-initializing an existing auction is a no-op, so that
	// restart recovery never clobbers live state.
	Init(ctx context.Context, a *model.Auction) error

	// CommitBid atomically applies the increment rule against the current
	// highest amount and, on success, installs the new leader and bumps
	// the sequence.
	CommitBid(ctx context.Context, auctionID string, bidder model.Bidder, amount decimal.Decimal) (BidCommit, error)

	// Snapshot returns the current record as of a single consistent
	// instant, tagged with its sequence.
	Snapshot(ctx context.Context, auctionID string) (model.HighestBid, error)

	// End performs the Active->Ended compare-and-set. The transition takes
	// its own sequence number so subscribers holding the last bid's
	// sequence still see the ended event as new.
	End(ctx context.Context, auctionID string, by model.EndedBy) (EndTransition, error)

	// Remove drops the record once the final result is durably persisted.
	Remove(ctx context.Context, auctionID string) error

	Close() error
}
