package auction

import (
	"context"
	"errors"
	"io"
	"log/slog"
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

type fakeBroadcast struct {
	mu       sync.Mutex
	accepted []model.BidAccepted
	ended    []model.AuctionEnded
}

func (f *fakeBroadcast) BidAccepted(ev model.BidAccepted) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, ev)
}

func (f *fakeBroadcast) AuctionEnded(ev model.AuctionEnded) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, ev)
}

func (f *fakeBroadcast) endedEvents() []model.AuctionEnded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AuctionEnded(nil), f.ended...)
}

func (f *fakeBroadcast) acceptedEvents() []model.BidAccepted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.BidAccepted(nil), f.accepted...)
}

type fakeFinalizer struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	calls    int
	done     []string
}

func (f *fakeFinalizer) FinalizeAuction(_ context.Context, auctionID string, _ model.HighestBid, _ model.EndedBy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("database unavailable")
	}
	f.done = append(f.done, auctionID)
	return nil
}

func (f *fakeFinalizer) finalized() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.done...)
}

func (f *fakeFinalizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuction(id string, duration time.Duration) *model.Auction {
	return &model.Auction{
		ID:            id,
		ItemName:      "vintage camera",
		StartingPrice: dec(100),
		BidIncrement:  dec(10),
		Duration:      duration,
		SellerID:      "seller-1",
		SellerName:    "Sana",
		SellerEmail:   "sana@example.com",
		StartTime:     time.Now(),
	}
}

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *fakeBroadcast, *fakeFinalizer) {
	t.Helper()
	bc := &fakeBroadcast{}
	fin := &fakeFinalizer{}
	base := []Option{WithFinalizeRetryInterval(5 * time.Millisecond)}
	c := NewCoordinator(store.NewMemoryStore(), bc, fin, nil, testLogger(), append(base, opts...)...)
	t.Cleanup(c.Close)
	return c, bc, fin
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %v", d)
	}
}

func TestEndAuction_OwnerOnly(t *testing.T) {
	ctx := context.Background()
	c, bc, _ := newTestCoordinator(t)
	assert.NoError(t, c.Register(ctx, testAuction("a1", time.Hour)))

	err := c.EndAuction(ctx, "a1", model.Bidder{ID: "someone-else"})
	check.True(t, errors.Is(err, ErrForbidden))

	err = c.EndAuction(ctx, "a1", model.Bidder{})
	check.True(t, errors.Is(err, ErrForbidden))

	check.Equal(t, 0, len(bc.endedEvents()))

	assert.NoError(t, c.EndAuction(ctx, "a1", model.Bidder{ID: "seller-1", Name: "Sana"}))
	ended := bc.endedEvents()
	assert.Equal(t, 1, len(ended))
	check.Equal(t, model.EndedByOwner, ended[0].EndedBy)
	check.True(t, ended[0].FinalAmount.Equal(dec(100)))
	check.Equal(t, "", ended[0].WinnerName)
}

func TestEndAuction_UnknownAuction(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	err := c.EndAuction(context.Background(), "nope", model.Bidder{ID: "seller-1"})
	check.True(t, errors.Is(err, ErrNotFound))
}

func TestEnd_IdempotentAcrossTriggers(t *testing.T) {
	ctx := context.Background()
	c, bc, _ := newTestCoordinator(t)
	assert.NoError(t, c.Register(ctx, testAuction("a1", time.Hour)))

	e, ok := c.entry("a1")
	assert.True(t, ok)

	// Fire all three triggers concurrently, several times each.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		for _, by := range []model.EndedBy{model.EndedByTimer, model.EndedByOwner, model.EndedByLazyCheck} {
			wg.Add(1)
			go func(by model.EndedBy) {
				defer wg.Done()
				c.end(ctx, e, by)
			}(by)
		}
	}
	wg.Wait()

	ended := bc.endedEvents()
	assert.Equal(t, 1, len(ended))
}

func TestTimerSweep_EndsExpiredAuction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, bc, _ := newTestCoordinator(t, WithSweepInterval(5*time.Millisecond))
	assert.NoError(t, c.Register(ctx, testAuction("a1", 20*time.Millisecond)))
	go c.Run(ctx)

	waitFor(t, time.Second, func() bool { return len(bc.endedEvents()) == 1 })
	check.Equal(t, model.EndedByTimer, bc.endedEvents()[0].EndedBy)
}

func TestLazyCheck_OnSnapshot(t *testing.T) {
	ctx := context.Background()
	bc := &fakeBroadcast{}
	// Keep the finalizer failing so forget() cannot race the snapshot read.
	fin := &fakeFinalizer{failures: 1 << 30}
	c := NewCoordinator(store.NewMemoryStore(), bc, fin, nil, testLogger(),
		WithFinalizeRetryInterval(time.Hour))
	t.Cleanup(c.Close)

	a := testAuction("a1", time.Minute)
	a.StartTime = time.Now().Add(-2 * time.Minute) // already past endsAt
	assert.NoError(t, c.Register(ctx, a))

	snap, err := c.Snapshot(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, model.StatusEnded, snap.Status)

	ended := bc.endedEvents()
	assert.Equal(t, 1, len(ended))
	check.Equal(t, model.EndedByLazyCheck, ended[0].EndedBy)
}

func TestOwnerBeatsTimer_ExactlyOneBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, bc, _ := newTestCoordinator(t, WithSweepInterval(5*time.Millisecond))
	assert.NoError(t, c.Register(ctx, testAuction("a1", 30*time.Millisecond)))
	go c.Run(ctx)

	// Owner closes just before the timer would fire.
	assert.NoError(t, c.EndAuction(ctx, "a1", model.Bidder{ID: "seller-1"}))

	// Let the sweep fire well past the scheduled expiry.
	time.Sleep(80 * time.Millisecond)

	ended := bc.endedEvents()
	assert.Equal(t, 1, len(ended))
	check.Equal(t, model.EndedByOwner, ended[0].EndedBy)
}

func TestFinalize_RetriesUntilPersisted(t *testing.T) {
	ctx := context.Background()
	bc := &fakeBroadcast{}
	fin := &fakeFinalizer{failures: 2}
	c := NewCoordinator(store.NewMemoryStore(), bc, fin, nil, testLogger(),
		WithFinalizeRetryInterval(5*time.Millisecond))
	t.Cleanup(c.Close)

	assert.NoError(t, c.Register(ctx, testAuction("a1", time.Hour)))
	assert.NoError(t, c.EndAuction(ctx, "a1", model.Bidder{ID: "seller-1"}))

	waitFor(t, time.Second, func() bool { return len(fin.finalized()) == 1 })
	check.True(t, fin.callCount() >= 3)

	// Once durable, the coordinator forgets the auction entirely.
	waitFor(t, time.Second, func() bool {
		_, ok := c.Lookup("a1")
		return !ok
	})
	_, err := c.Snapshot(ctx, "a1")
	check.True(t, errors.Is(err, ErrNotFound))
}

func TestFinalize_FailureNeverRevertsTransition(t *testing.T) {
	ctx := context.Background()
	bc := &fakeBroadcast{}
	fin := &fakeFinalizer{failures: 1 << 30} // never succeeds
	c := NewCoordinator(store.NewMemoryStore(), bc, fin, nil, testLogger(),
		WithFinalizeRetryInterval(time.Millisecond))
	t.Cleanup(c.Close)

	assert.NoError(t, c.Register(ctx, testAuction("a1", time.Hour)))
	assert.NoError(t, c.EndAuction(ctx, "a1", model.Bidder{ID: "seller-1"}))

	time.Sleep(20 * time.Millisecond)

	// Status stays Ended while the finalizer keeps failing, and further
	// bids stay rejected.
	snap, err := c.Snapshot(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, model.StatusEnded, snap.Status)

	_, err = c.SubmitBid(ctx, "a1", model.Bidder{ID: "u1", Name: "Ira"}, dec(500))
	var rej *model.Rejection
	assert.True(t, errors.As(err, &rej))
	check.Equal(t, model.ReasonAuctionEnded, rej.Reason)
}

func TestClose_StopsFinalizeRetries(t *testing.T) {
	ctx := context.Background()
	bc := &fakeBroadcast{}
	fin := &fakeFinalizer{failures: 1 << 30} // never succeeds
	c := NewCoordinator(store.NewMemoryStore(), bc, fin, nil, testLogger(),
		WithFinalizeRetryInterval(5*time.Millisecond))
	t.Cleanup(c.Close)

	assert.NoError(t, c.Register(ctx, testAuction("a1", time.Hour)))
	assert.NoError(t, c.EndAuction(ctx, "a1", model.Bidder{ID: "seller-1"}))

	waitFor(t, time.Second, func() bool { return fin.callCount() >= 2 })
	c.Close()
	c.Close() // idempotent

	// The retry goroutine drains within one interval of the signal.
	time.Sleep(20 * time.Millisecond)
	settled := fin.callCount()
	time.Sleep(30 * time.Millisecond)
	check.Equal(t, settled, fin.callCount())
}

func TestActive_SkipsAndEndsExpired(t *testing.T) {
	ctx := context.Background()
	c, bc, _ := newTestCoordinator(t)

	assert.NoError(t, c.Register(ctx, testAuction("live", time.Hour)))
	overdue := testAuction("overdue", time.Minute)
	overdue.StartTime = time.Now().Add(-time.Hour)
	assert.NoError(t, c.Register(ctx, overdue))

	live := c.Active(ctx)
	assert.Equal(t, 1, len(live))
	check.Equal(t, "live", live[0].ID)

	ended := bc.endedEvents()
	assert.Equal(t, 1, len(ended))
	check.Equal(t, "overdue", ended[0].AuctionID)
	check.Equal(t, model.EndedByLazyCheck, ended[0].EndedBy)
}

func TestEnd_SnapshotsFinalResult(t *testing.T) {
	ctx := context.Background()
	c, bc, _ := newTestCoordinator(t)
	assert.NoError(t, c.Register(ctx, testAuction("a1", time.Hour)))

	_, err := c.SubmitBid(ctx, "a1", model.Bidder{ID: "u1", Name: "Ira", Email: "ira@example.com"}, dec(110))
	assert.NoError(t, err)
	_, err = c.SubmitBid(ctx, "a1", model.Bidder{ID: "u2", Name: "Max"}, dec(130))
	assert.NoError(t, err)

	assert.NoError(t, c.EndAuction(ctx, "a1", model.Bidder{ID: "seller-1"}))

	ended := bc.endedEvents()
	assert.Equal(t, 1, len(ended))
	check.True(t, ended[0].FinalAmount.Equal(dec(130)))
	check.Equal(t, "Max", ended[0].WinnerName)
	// Two bids then the end transition.
	check.Equal(t, int64(3), ended[0].Sequence)
}
