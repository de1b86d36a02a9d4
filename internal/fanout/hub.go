// Package fanout delivers bid-accepted and auction-ended events to every
// subscriber of an auction channel. It is purely an observer: the
// highest-bid store stays the only source of truth for amount and status.
package fanout

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/navyas1307/Auction-System/internal/model"
	"github.com/navyas1307/Auction-System/internal/store"
)

const (
	EventBidAccepted  = "bid_accepted"
	EventAuctionEnded = "auction_ended"
)

// Event is one broadcast on an auction channel. Payload is marshaled once
// per publish, not per subscriber.
type Event struct {
	AuctionID string
	Sequence  int64
	Type      string
	Payload   json.RawMessage
}

// Subscriber receives events over a buffered channel. The hub never blocks
// on a subscriber: if the buffer fills, the subscriber is evicted and its
// channel closed. A reconnecting client re-runs snapshot-then-subscribe.
type Subscriber struct {
	ID   string
	Send chan Event

	closed bool // guarded by the hub mutex
}

func NewSubscriber(buffer int) *Subscriber {
	return &Subscriber{
		ID:   uuid.New().String(),
		Send: make(chan Event, buffer),
	}
}

// Hub maps auction channels to subscribers. Each subscription carries a
// floor sequence taken from the snapshot handed to the joiner; events at or
// below the floor are not delivered, so the live feed starts exactly where
// the snapshot left off.
type Hub struct {
	snapshots store.Store

	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]int64 // auctionID -> subscriber -> floor sequence
	byConn map[*Subscriber]map[string]bool  // reverse index for disconnect cleanup
}

func NewHub(snapshots store.Store) *Hub {
	return &Hub{
		snapshots: snapshots,
		subs:      make(map[string]map[*Subscriber]int64),
		byConn:    make(map[*Subscriber]map[string]bool),
	}
}

// Subscribe registers the subscriber on the auction channel and returns a
// consistent snapshot tagged with its sequence. Registration happens before
// the snapshot read, so no event newer than the snapshot can be missed;
// an event may arrive both in the snapshot and on the channel, which the
// client discards by sequence tag.
func (h *Hub) Subscribe(ctx context.Context, auctionID string, sub *Subscriber) (model.HighestBid, error) {
	h.mu.Lock()
	if sub.closed {
		h.mu.Unlock()
		return model.HighestBid{}, store.ErrNotFound
	}
	if h.subs[auctionID] == nil {
		h.subs[auctionID] = make(map[*Subscriber]int64)
	}
	h.subs[auctionID][sub] = 0
	if h.byConn[sub] == nil {
		h.byConn[sub] = make(map[string]bool)
	}
	h.byConn[sub][auctionID] = true
	h.mu.Unlock()

	snap, err := h.snapshots.Snapshot(ctx, auctionID)
	if err != nil {
		h.unsubscribeOne(auctionID, sub)
		return model.HighestBid{}, err
	}

	// Raise the floor to the snapshot sequence. Anything already queued at
	// or below it is a duplicate of state the snapshot carries.
	h.mu.Lock()
	if chans, ok := h.subs[auctionID]; ok {
		if _, ok := chans[sub]; ok {
			chans[sub] = snap.Sequence
		}
	}
	h.mu.Unlock()

	return snap, nil
}

func (h *Hub) unsubscribeOne(auctionID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if chans, ok := h.subs[auctionID]; ok {
		delete(chans, sub)
		if len(chans) == 0 {
			delete(h.subs, auctionID)
		}
	}
	if auctions, ok := h.byConn[sub]; ok {
		delete(auctions, auctionID)
	}
}

// Unsubscribe removes the subscriber from one auction channel.
func (h *Hub) Unsubscribe(auctionID string, sub *Subscriber) {
	h.unsubscribeOne(auctionID, sub)
}

// Disconnect releases every subscription held by the subscriber and closes
// its channel. Safe to call more than once.
func (h *Hub) Disconnect(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(sub)
}

func (h *Hub) dropLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	for auctionID := range h.byConn[sub] {
		if chans, ok := h.subs[auctionID]; ok {
			delete(chans, sub)
			if len(chans) == 0 {
				delete(h.subs, auctionID)
			}
		}
	}
	delete(h.byConn, sub)
	sub.closed = true
	close(sub.Send)
}

// BidAccepted broadcasts an accepted bid to the auction's subscribers.
func (h *Hub) BidAccepted(ev model.BidAccepted) {
	h.publish(ev.AuctionID, ev.Sequence, EventBidAccepted, ev)
}

// AuctionEnded broadcasts the final result to the auction's subscribers.
func (h *Hub) AuctionEnded(ev model.AuctionEnded) {
	h.publish(ev.AuctionID, ev.Sequence, EventAuctionEnded, ev)
}

func (h *Hub) publish(auctionID string, seq int64, typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ev := Event{AuctionID: auctionID, Sequence: seq, Type: typ, Payload: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub, floor := range h.subs[auctionID] {
		if seq <= floor {
			continue
		}
		select {
		case sub.Send <- ev:
		default:
			// Slow subscriber. Evict rather than stall the channel;
			// the client recovers via snapshot-then-subscribe.
			h.dropLocked(sub)
		}
	}
}

// SubscriberCount reports how many subscribers watch an auction.
func (h *Hub) SubscriberCount(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[auctionID])
}
