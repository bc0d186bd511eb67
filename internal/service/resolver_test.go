package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"percolator_keeper/internal/domain"
	"percolator_keeper/internal/event"

	"github.com/shopspring/decimal"
)

type fakeSource struct {
	name  string
	quote decimal.Decimal
	err   error
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Quote(ctx context.Context, assetID string) (decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.quote, nil
}

type fakeSubmitter struct {
	err       error
	submitted [][]domain.Instruction
}

func (f *fakeSubmitter) Submit(ctx context.Context, ins []domain.Instruction) (string, error) {
	f.submitted = append(f.submitted, ins)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("sig-%d", len(f.submitted)), nil
}

type fakeSink struct {
	events []event.Event
}

func (f *fakeSink) Publish(ev event.Event) {
	f.events = append(f.events, ev)
}

// fakeClock hands out strictly increasing timestamps unless frozen.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

const testMarket = domain.Address("aa11")

func newTestResolver(sources []domain.QuoteSource, sub *fakeSubmitter, sink event.Sink) (*PriceResolver, *fakeClock) {
	clock := newFakeClock()
	r := NewPriceResolver("payer", sources, sub, sink)
	r.now = clock.now
	return r, clock
}

func TestFetchPrice_Primary(t *testing.T) {
	primary := &fakeSource{name: "p", quote: decimal.NewFromFloat(43250.12)}
	secondary := &fakeSource{name: "s", quote: decimal.NewFromInt(1)}
	r, _ := newTestResolver([]domain.QuoteSource{primary, secondary}, &fakeSubmitter{}, nil)

	entry := r.FetchPrice(context.Background(), "bitcoin", testMarket)
	if entry == nil {
		t.Fatal("expected an entry")
	}
	if entry.Source != domain.PriceSourcePrimary {
		t.Errorf("expected primary tag, got %s", entry.Source)
	}
	if entry.PriceE6 != 43250120000 {
		t.Errorf("expected 43250120000, got %d", entry.PriceE6)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary should not be queried when primary succeeds")
	}
}

func TestFetchPrice_FallbackToSecondary(t *testing.T) {
	primary := &fakeSource{name: "p", err: errors.New("down")}
	secondary := &fakeSource{name: "s", quote: decimal.NewFromInt(100)}
	r, _ := newTestResolver([]domain.QuoteSource{primary, secondary}, &fakeSubmitter{}, nil)

	entry := r.FetchPrice(context.Background(), "bitcoin", testMarket)
	if entry == nil {
		t.Fatal("expected an entry")
	}
	if entry.Source != domain.PriceSourceSecondary {
		t.Errorf("expected secondary tag, got %s", entry.Source)
	}
	if primary.calls != 1 {
		t.Errorf("primary should have been tried first")
	}
}

func TestFetchPrice_CachedFallback(t *testing.T) {
	primary := &fakeSource{name: "p", quote: decimal.NewFromInt(42)}
	r, _ := newTestResolver([]domain.QuoteSource{primary}, &fakeSubmitter{}, nil)

	first := r.FetchPrice(context.Background(), "bitcoin", testMarket)
	if first == nil {
		t.Fatal("seed fetch failed")
	}

	primary.err = errors.New("down")
	cached := r.FetchPrice(context.Background(), "bitcoin", testMarket)
	if cached == nil {
		t.Fatal("expected cached entry")
	}
	if cached.Source != domain.PriceSourceCached {
		t.Errorf("expected cached tag, got %s", cached.Source)
	}
	if cached.PriceE6 != first.PriceE6 {
		t.Errorf("cached price %d should equal last resolved %d", cached.PriceE6, first.PriceE6)
	}

	// Cached results never enter history: a second fallback still rests on
	// the same real entry.
	again := r.FetchPrice(context.Background(), "bitcoin", testMarket)
	if again == nil || again.PriceE6 != first.PriceE6 {
		t.Errorf("second cached fallback diverged from last resolved price")
	}
	if got := len(r.PriceHistory(testMarket)); got != 1 {
		t.Errorf("history should hold only the real entry, got %d", got)
	}
}

func TestFetchPrice_NoHistoryReturnsNil(t *testing.T) {
	primary := &fakeSource{name: "p", err: errors.New("down")}
	r, _ := newTestResolver([]domain.QuoteSource{primary}, &fakeSubmitter{}, nil)

	if entry := r.FetchPrice(context.Background(), "bitcoin", testMarket); entry != nil {
		t.Errorf("expected nil with no sources and no history, got %+v", entry)
	}
}

func TestPriceHistory_Bounded(t *testing.T) {
	primary := &fakeSource{name: "p"}
	r, clock := newTestResolver([]domain.QuoteSource{primary}, &fakeSubmitter{}, nil)
	clock.step = time.Second

	for i := 0; i < 150; i++ {
		primary.quote = decimal.NewFromInt(int64(1000 + i))
		if entry := r.FetchPrice(context.Background(), "bitcoin", testMarket); entry == nil {
			t.Fatalf("fetch %d failed", i)
		}
	}

	h := r.PriceHistory(testMarket)
	if len(h) != 100 {
		t.Fatalf("expected exactly 100 entries, got %d", len(h))
	}
	// The 100 most recent, oldest first.
	if h[0].PriceE6 != 1050*1_000_000 {
		t.Errorf("oldest retained entry wrong: %d", h[0].PriceE6)
	}
	if h[99].PriceE6 != 1149*1_000_000 {
		t.Errorf("newest retained entry wrong: %d", h[99].PriceE6)
	}
	for i := 1; i < len(h); i++ {
		if !h[i].Timestamp.After(h[i-1].Timestamp) {
			t.Fatalf("history out of chronological order at %d", i)
		}
	}

	cur := r.CurrentPrice(testMarket)
	if cur == nil || cur.PriceE6 != h[99].PriceE6 {
		t.Errorf("CurrentPrice should be the newest history entry")
	}
}

func TestPushPrice_Cooldown(t *testing.T) {
	primary := &fakeSource{name: "p", quote: decimal.NewFromInt(42)}
	sub := &fakeSubmitter{}
	r, clock := newTestResolver([]domain.QuoteSource{primary}, sub, nil)

	if !r.PushPrice(context.Background(), testMarket, domain.MarketSnapshot{CollateralAsset: "bitcoin"}) {
		t.Fatal("first push should succeed")
	}
	if r.PushPrice(context.Background(), testMarket, domain.MarketSnapshot{CollateralAsset: "bitcoin"}) {
		t.Error("push inside the cooldown window should be refused")
	}
	if len(sub.submitted) != 1 {
		t.Fatalf("exactly one submission expected, got %d", len(sub.submitted))
	}

	clock.advance(6 * time.Second)
	if !r.PushPrice(context.Background(), testMarket, domain.MarketSnapshot{CollateralAsset: "bitcoin"}) {
		t.Error("push after the cooldown should go through")
	}
	if len(sub.submitted) != 2 {
		t.Errorf("expected 2 submissions, got %d", len(sub.submitted))
	}
}

func TestPushPrice_FailureKeepsCooldownOpen(t *testing.T) {
	primary := &fakeSource{name: "p", quote: decimal.NewFromInt(42)}
	sub := &fakeSubmitter{err: errors.New("node down")}
	r, _ := newTestResolver([]domain.QuoteSource{primary}, sub, nil)

	if r.PushPrice(context.Background(), testMarket, domain.MarketSnapshot{CollateralAsset: "bitcoin"}) {
		t.Fatal("push should report failure")
	}

	// Submission failed, so the cooldown clock did not advance: an
	// immediate retry is allowed to attempt another submission.
	sub.err = nil
	if !r.PushPrice(context.Background(), testMarket, domain.MarketSnapshot{CollateralAsset: "bitcoin"}) {
		t.Error("retry after failed submission should not be rate-limited")
	}
	if len(sub.submitted) != 2 {
		t.Errorf("expected 2 submission attempts, got %d", len(sub.submitted))
	}
}

func TestPushPrice_EmitsPriceUpdated(t *testing.T) {
	primary := &fakeSource{name: "p", quote: decimal.NewFromFloat(1.5)}
	sink := &fakeSink{}
	r, _ := newTestResolver([]domain.QuoteSource{primary}, &fakeSubmitter{}, sink)

	if !r.PushPrice(context.Background(), testMarket, domain.MarketSnapshot{CollateralAsset: "sol"}) {
		t.Fatal("push should succeed")
	}

	if len(sink.events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(sink.events))
	}
	ev, ok := sink.events[0].(*event.PriceUpdatedEvent)
	if !ok {
		t.Fatalf("expected PriceUpdatedEvent, got %T", sink.events[0])
	}
	if ev.PriceE6 != 1_500_000 {
		t.Errorf("event price wrong: %d", ev.PriceE6)
	}
	if ev.Topic() != event.TopicPriceUpdated {
		t.Errorf("event topic wrong: %s", ev.Topic())
	}
}

func TestPushPrice_NoPriceNoSubmission(t *testing.T) {
	primary := &fakeSource{name: "p", err: errors.New("down")}
	sub := &fakeSubmitter{}
	r, _ := newTestResolver([]domain.QuoteSource{primary}, sub, nil)

	if r.PushPrice(context.Background(), testMarket, domain.MarketSnapshot{CollateralAsset: "bitcoin"}) {
		t.Error("push without a resolvable price should fail")
	}
	if len(sub.submitted) != 0 {
		t.Errorf("no submission expected, got %d", len(sub.submitted))
	}
}
