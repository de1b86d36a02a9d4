// Package auction is the bid-acceptance and lifecycle coordinator. It
// decides atomically whether a submitted bid becomes the new highest bid,
// moves each auction from active to ended exactly once no matter which
// trigger fires first, and hands results to the fan-out before callers see
// success.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/navyas1307/Auction-System/internal/model"
	"github.com/navyas1307/Auction-System/internal/store"
)

// ErrNotFound is returned for operations on an unknown auction.
var ErrNotFound = store.ErrNotFound

// ErrForbidden is returned when someone other than the seller tries to end
// an auction early.
var ErrForbidden = errors.New("only the seller can end this auction")

// Broadcaster fans events out to subscribers. It observes; it never owns
// state.
type Broadcaster interface {
	BidAccepted(ev model.BidAccepted)
	AuctionEnded(ev model.AuctionEnded)
}

// Finalizer durably records the final result of an ended auction.
type Finalizer interface {
	FinalizeAuction(ctx context.Context, auctionID string, final model.HighestBid, endedBy model.EndedBy) error
}

// BidRecorder hands accepted bids to the archival pipeline. Delivery is
// asynchronous; the bid hot path never waits on it.
type BidRecorder interface {
	RecordBid(ctx context.Context, ev model.BidEvent) error
}

// Coordinator owns the auction registry and the per-auction serialization
// point. Contention is scoped per auction: unrelated auctions never block
// each other.
type Coordinator struct {
	store     store.Store
	broadcast Broadcaster
	finalizer Finalizer
	recorder  BidRecorder
	log       *slog.Logger

	sweepEvery   time.Duration
	finalizeWait time.Duration

	quit     chan struct{}
	quitOnce sync.Once

	mu      sync.RWMutex
	entries map[string]*entry
}

// entry tracks one registered auction. Its mutex serializes the
// commit-then-broadcast step so subscribers see events in sequence order;
// the store's own atomic operations remain the correctness authority.
type entry struct {
	mu      sync.Mutex
	auction *model.Auction
	ended   bool
}

// Option tweaks coordinator timing, mostly for tests.
type Option func(*Coordinator)

func WithSweepInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.sweepEvery = d }
}

func WithFinalizeRetryInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.finalizeWait = d }
}

func NewCoordinator(st store.Store, broadcast Broadcaster, finalizer Finalizer, recorder BidRecorder, log *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        st,
		broadcast:    broadcast,
		finalizer:    finalizer,
		recorder:     recorder,
		log:          log,
		sweepEvery:   time.Second,
		finalizeWait: 2 * time.Second,
		quit:         make(chan struct{}),
		entries:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register makes an auction known to the coordinator and initializes its
// highest-bid record at the starting price with no leader. Registering an
// auction the store already holds is a no-op, so restart recovery never
// clobbers live state.
func (c *Coordinator) Register(ctx context.Context, a *model.Auction) error {
	if err := c.store.Init(ctx, a); err != nil {
		return fmt.Errorf("init highest-bid record: %w", err)
	}
	c.mu.Lock()
	if _, ok := c.entries[a.ID]; !ok {
		c.entries[a.ID] = &entry{auction: a}
	}
	c.mu.Unlock()
	return nil
}

// Lookup returns the immutable auction description.
func (c *Coordinator) Lookup(auctionID string) (*model.Auction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[auctionID]
	if !ok {
		return nil, false
	}
	return e.auction, true
}

// Active returns auctions that have not passed their scheduled end,
// lazily ending any that have. Sorted newest first.
func (c *Coordinator) Active(ctx context.Context) []*model.Auction {
	c.mu.RLock()
	all := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	c.mu.RUnlock()

	now := time.Now()
	live := make([]*model.Auction, 0, len(all))
	for _, e := range all {
		if e.auction.Expired(now) {
			c.end(ctx, e, model.EndedByLazyCheck)
			continue
		}
		live = append(live, e.auction)
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].StartTime.After(live[j].StartTime)
	})
	return live
}

// Snapshot returns the current highest-bid record, running the lazy expiry
// check first so a read after the scheduled end observes the ended state.
func (c *Coordinator) Snapshot(ctx context.Context, auctionID string) (model.HighestBid, error) {
	if e, ok := c.entry(auctionID); ok && e.auction.Expired(time.Now()) {
		c.end(ctx, e, model.EndedByLazyCheck)
	}
	return c.store.Snapshot(ctx, auctionID)
}

func (c *Coordinator) entry(auctionID string) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[auctionID]
	return e, ok
}

// EndAuction is the owner trigger. Only the seller identity recorded at
// creation may fire it.
func (c *Coordinator) EndAuction(ctx context.Context, auctionID string, requester model.Bidder) error {
	e, ok := c.entry(auctionID)
	if !ok {
		return ErrNotFound
	}
	if requester.ID == "" || requester.ID != e.auction.SellerID {
		return ErrForbidden
	}
	return c.end(ctx, e, model.EndedByOwner)
}

// Run drives the timer trigger: a periodic sweep over registered auctions
// comparing against endsAt. Expiry is derived from stored state rather than
// one-shot in-process callbacks, so a restart cannot lose an end trigger.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Coordinator) sweep(ctx context.Context) {
	c.mu.RLock()
	due := make([]*entry, 0)
	now := time.Now()
	for _, e := range c.entries {
		if e.auction.Expired(now) {
			due = append(due, e)
		}
	}
	c.mu.RUnlock()

	for _, e := range due {
		if err := c.end(ctx, e, model.EndedByTimer); err != nil {
			c.log.Error("timer sweep failed to end auction",
				"auction_id", e.auction.ID, "error", err)
		}
	}
}

// end requests the Active->Ended transition. Whichever trigger wins the
// store's compare-and-set performs the side effects once; every other
// caller observes the ended state and does nothing.
func (c *Coordinator) end(ctx context.Context, e *entry, by model.EndedBy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended {
		return nil
	}
	tr, err := c.store.End(ctx, e.auction.ID, by)
	if err != nil {
		return fmt.Errorf("end transition: %w", err)
	}
	e.ended = true
	if !tr.Won {
		return nil
	}

	ev := model.AuctionEnded{
		AuctionID:   e.auction.ID,
		FinalAmount: tr.Final.Amount,
		Sequence:    tr.Final.Sequence,
		EndedBy:     by,
	}
	if tr.Final.HasLeader() {
		ev.WinnerName = tr.Final.BidderName
	}
	c.broadcast.AuctionEnded(ev)

	c.log.Info("auction ended",
		"auction_id", e.auction.ID,
		"ended_by", by,
		"final_amount", tr.Final.Amount,
		"winner", ev.WinnerName)

	go c.finalize(e.auction, tr.Final, by)
	return nil
}

// finalize records the final result in the durable store, retrying until
// acknowledged. The in-memory transition stays terminal whatever happens
// here; the result lives in this goroutine until persisted.
func (c *Coordinator) finalize(a *model.Auction, final model.HighestBid, by model.EndedBy) {
	if c.finalizer == nil {
		c.forget(a.ID)
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.finalizer.FinalizeAuction(ctx, a.ID, final, by)
		cancel()
		if err == nil {
			c.forget(a.ID)
			return
		}
		c.log.Error("failed to persist auction result, will retry",
			"auction_id", a.ID, "attempt", attempt, "error", err)
		select {
		case <-time.After(c.finalizeWait):
		case <-c.quit:
			c.log.Warn("shutting down with unpersisted auction result",
				"auction_id", a.ID, "final_amount", final.Amount, "ended_by", by)
			return
		}
	}
}

// Close stops outstanding finalize retries. An unpersisted result is logged
// and left for the operator; the durable row still says active, so a restart
// re-registers the auction and the next end trigger replays finalization.
func (c *Coordinator) Close() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// forget drops the auction from the registry and the highest-bid store once
// its result is durable.
func (c *Coordinator) forget(auctionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.Remove(ctx, auctionID); err != nil {
		c.log.Error("failed to remove auction state", "auction_id", auctionID, "error", err)
	}
	c.mu.Lock()
	delete(c.entries, auctionID)
	c.mu.Unlock()
}
