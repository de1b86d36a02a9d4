package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/navyas1307/Auction-System/internal/model"
)

// MemoryStore is the single-node Store. Each auction gets its own mutex, so
// contention is scoped per auction and unrelated auctions never block each
// other. Used when no Redis is configured, and by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record
}

type record struct {
	mu        sync.Mutex
	status    model.Status
	endedBy   model.EndedBy
	amount    decimal.Decimal
	increment decimal.Decimal
	bidder    model.Bidder
	hasBidder bool
	sequence  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*record)}
}

func (s *MemoryStore) Init(_ context.Context, a *model.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[a.ID]; ok {
		return nil
	}
	s.records[a.ID] = &record{
		status:    model.StatusActive,
		amount:    a.StartingPrice,
		increment: a.BidIncrement,
	}
	return nil
}

func (s *MemoryStore) get(auctionID string) (*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[auctionID]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) CommitBid(_ context.Context, auctionID string, bidder model.Bidder, amount decimal.Decimal) (BidCommit, error) {
	r, err := s.get(auctionID)
	if err != nil {
		return BidCommit{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != model.StatusActive {
		return BidCommit{Ended: true, Previous: r.amount}, nil
	}
	minimum := r.amount.Add(r.increment)
	if amount.LessThan(minimum) {
		return BidCommit{Previous: r.amount, Minimum: minimum}, nil
	}

	previous := r.amount
	r.amount = amount
	r.bidder = bidder
	r.hasBidder = true
	r.sequence++
	return BidCommit{Accepted: true, Previous: previous, Sequence: r.sequence}, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, auctionID string) (model.HighestBid, error) {
	r, err := s.get(auctionID)
	if err != nil {
		return model.HighestBid{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(auctionID), nil
}

func (r *record) snapshotLocked(auctionID string) model.HighestBid {
	h := model.HighestBid{
		AuctionID: auctionID,
		Status:    r.status,
		Amount:    r.amount,
		Sequence:  r.sequence,
	}
	if r.hasBidder {
		h.BidderID = r.bidder.ID
		h.BidderName = r.bidder.Name
		h.BidderEmail = r.bidder.Email
	}
	return h
}

func (s *MemoryStore) End(_ context.Context, auctionID string, by model.EndedBy) (EndTransition, error) {
	r, err := s.get(auctionID)
	if err != nil {
		return EndTransition{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == model.StatusEnded {
		return EndTransition{EndedBy: r.endedBy, Final: r.snapshotLocked(auctionID)}, nil
	}
	r.status = model.StatusEnded
	r.endedBy = by
	r.sequence++
	return EndTransition{Won: true, EndedBy: by, Final: r.snapshotLocked(auctionID)}, nil
}

func (s *MemoryStore) Remove(_ context.Context, auctionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, auctionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
