package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/navyas1307/Auction-System/internal/model"
	"github.com/navyas1307/Auction-System/internal/store"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func seedAuction(t *testing.T, st store.Store, id string) {
	t.Helper()
	err := st.Init(context.Background(), &model.Auction{
		ID:            id,
		StartingPrice: dec(100),
		BidIncrement:  dec(10),
		SellerID:      "seller-1",
		StartTime:     time.Now(),
		Duration:      time.Hour,
	})
	assert.NoError(t, err)
}

func commit(t *testing.T, st store.Store, id string, amount int64) store.BidCommit {
	t.Helper()
	c, err := st.CommitBid(context.Background(), id,
		model.Bidder{ID: "u1", Name: "Ira"}, dec(amount))
	assert.NoError(t, err)
	assert.True(t, c.Accepted)
	return c
}

func drain(sub *Subscriber) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.Send:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSubscribe_SnapshotThenLiveFeed(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedAuction(t, st, "a1")
	h := NewHub(st)

	c1 := commit(t, st, "a1", 110)
	sub := NewSubscriber(16)
	snap, err := h.Subscribe(ctx, "a1", sub)
	assert.NoError(t, err)
	check.Equal(t, c1.Sequence, snap.Sequence)
	check.True(t, snap.Amount.Equal(dec(110)))

	c2 := commit(t, st, "a1", 125)
	h.BidAccepted(model.BidAccepted{AuctionID: "a1", Amount: dec(125), BidderName: "Ira", Sequence: c2.Sequence})

	events := drain(sub)
	assert.Equal(t, 1, len(events))
	check.Equal(t, EventBidAccepted, events[0].Type)
	check.Equal(t, c2.Sequence, events[0].Sequence)

	var payload model.BidAccepted
	assert.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	check.True(t, payload.Amount.Equal(dec(125)))
	check.Equal(t, "Ira", payload.BidderName)
}

func TestSubscribe_FloorFiltersSnapshotDuplicates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedAuction(t, st, "a1")
	h := NewHub(st)

	c1 := commit(t, st, "a1", 110)
	c2 := commit(t, st, "a1", 125)

	sub := NewSubscriber(16)
	snap, err := h.Subscribe(ctx, "a1", sub)
	assert.NoError(t, err)
	check.Equal(t, c2.Sequence, snap.Sequence)

	// Replays at or below the snapshot sequence never reach the channel.
	h.BidAccepted(model.BidAccepted{AuctionID: "a1", Sequence: c1.Sequence})
	h.BidAccepted(model.BidAccepted{AuctionID: "a1", Sequence: c2.Sequence})
	check.Equal(t, 0, len(drain(sub)))

	c3 := commit(t, st, "a1", 140)
	h.BidAccepted(model.BidAccepted{AuctionID: "a1", Amount: dec(140), Sequence: c3.Sequence})
	events := drain(sub)
	assert.Equal(t, 1, len(events))
	check.Equal(t, c3.Sequence, events[0].Sequence)
}

func TestSubscribe_UnknownAuction(t *testing.T) {
	h := NewHub(store.NewMemoryStore())
	sub := NewSubscriber(16)
	_, err := h.Subscribe(context.Background(), "nope", sub)
	assert.NotNil(t, err)
	// The failed registration is rolled back.
	check.Equal(t, 0, h.SubscriberCount("nope"))
}

func TestPublish_OnlyReachesTheAuctionsSubscribers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedAuction(t, st, "a1")
	seedAuction(t, st, "a2")
	h := NewHub(st)

	s1 := NewSubscriber(16)
	s2 := NewSubscriber(16)
	_, err := h.Subscribe(ctx, "a1", s1)
	assert.NoError(t, err)
	_, err = h.Subscribe(ctx, "a2", s2)
	assert.NoError(t, err)

	c := commit(t, st, "a1", 110)
	h.BidAccepted(model.BidAccepted{AuctionID: "a1", Sequence: c.Sequence})

	check.Equal(t, 1, len(drain(s1)))
	check.Equal(t, 0, len(drain(s2)))
}

func TestPublish_AuctionEnded(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedAuction(t, st, "a1")
	h := NewHub(st)

	sub := NewSubscriber(16)
	_, err := h.Subscribe(ctx, "a1", sub)
	assert.NoError(t, err)

	h.AuctionEnded(model.AuctionEnded{
		AuctionID:   "a1",
		FinalAmount: dec(125),
		WinnerName:  "Ira",
		Sequence:    3,
		EndedBy:     model.EndedByOwner,
	})

	events := drain(sub)
	assert.Equal(t, 1, len(events))
	check.Equal(t, EventAuctionEnded, events[0].Type)

	var payload model.AuctionEnded
	assert.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	check.Equal(t, "Ira", payload.WinnerName)
	check.Equal(t, model.EndedByOwner, payload.EndedBy)
}

func TestPublish_EvictsSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedAuction(t, st, "a1")
	h := NewHub(st)

	slow := NewSubscriber(1)
	fast := NewSubscriber(16)
	_, err := h.Subscribe(ctx, "a1", slow)
	assert.NoError(t, err)
	_, err = h.Subscribe(ctx, "a1", fast)
	assert.NoError(t, err)

	// First event fills the slow buffer, second overflows it.
	h.BidAccepted(model.BidAccepted{AuctionID: "a1", Sequence: 1})
	h.BidAccepted(model.BidAccepted{AuctionID: "a1", Sequence: 2})

	check.Equal(t, 1, h.SubscriberCount("a1"))

	// Eviction closed the slow channel after the one event that fit.
	var got []Event
	for ev := range slow.Send {
		got = append(got, ev)
	}
	assert.Equal(t, 1, len(got))
	check.Equal(t, int64(1), got[0].Sequence)

	check.Equal(t, 2, len(drain(fast)))
}

func TestDisconnect_ReleasesAllSubscriptions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedAuction(t, st, "a1")
	seedAuction(t, st, "a2")
	h := NewHub(st)

	sub := NewSubscriber(16)
	_, err := h.Subscribe(ctx, "a1", sub)
	assert.NoError(t, err)
	_, err = h.Subscribe(ctx, "a2", sub)
	assert.NoError(t, err)

	h.Disconnect(sub)
	h.Disconnect(sub) // second call is a no-op

	check.Equal(t, 0, h.SubscriberCount("a1"))
	check.Equal(t, 0, h.SubscriberCount("a2"))

	_, open := <-sub.Send
	check.False(t, open)

	// A closed subscriber cannot rejoin.
	_, err = h.Subscribe(ctx, "a1", sub)
	check.NotNil(t, err)
}

func TestUnsubscribe_LeavesOtherChannelsAlone(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedAuction(t, st, "a1")
	seedAuction(t, st, "a2")
	h := NewHub(st)

	sub := NewSubscriber(16)
	_, err := h.Subscribe(ctx, "a1", sub)
	assert.NoError(t, err)
	_, err = h.Subscribe(ctx, "a2", sub)
	assert.NoError(t, err)

	h.Unsubscribe("a1", sub)
	check.Equal(t, 0, h.SubscriberCount("a1"))
	check.Equal(t, 1, h.SubscriberCount("a2"))

	c := commit(t, st, "a2", 110)
	h.BidAccepted(model.BidAccepted{AuctionID: "a2", Sequence: c.Sequence})
	check.Equal(t, 1, len(drain(sub)))
}

func TestSubscribe_NoGapUnderConcurrentPublish(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedAuction(t, st, "a1")
	h := NewHub(st)

	// Publish a run of bids while a subscriber joins mid-stream. The union
	// of snapshot sequence and delivered events must cover every sequence
	// after the join with no gaps.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		amount := int64(110)
		for i := 0; i < 50; i++ {
			c := commit(t, st, "a1", amount)
			h.BidAccepted(model.BidAccepted{AuctionID: "a1", Sequence: c.Sequence})
			amount += 10
		}
	}()

	sub := NewSubscriber(256)
	snap, err := h.Subscribe(ctx, "a1", sub)
	assert.NoError(t, err)
	wg.Wait()

	next := snap.Sequence + 1
	for _, ev := range drain(sub) {
		if ev.Sequence <= snap.Sequence {
			continue // duplicate of snapshot state, client-side discard
		}
		check.Equal(t, next, ev.Sequence)
		next++
	}
	check.Equal(t, int64(51), next) // 50 bids, sequences 1..50
}
