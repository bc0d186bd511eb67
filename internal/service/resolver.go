package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"percolator_keeper/internal/domain"
	"percolator_keeper/internal/event"
)

const (
	// historyCap bounds the per-market price ring. Oldest entries go first.
	historyCap = 100

	// defaultPushCooldown is the per-market floor between on-chain pushes.
	defaultPushCooldown = 5 * time.Second
)

// PriceResolver resolves off-chain USD prices through an ordered source
// chain and rate-limits on-chain pushes. One instance per keeper; all state
// is owned here, nothing is module-level.
type PriceResolver struct {
	payer     domain.Address
	sources   []domain.QuoteSource // tried in order; position 0 is primary
	submitter domain.TxSubmitter
	sink      event.Sink
	cooldown  time.Duration

	mu       sync.Mutex
	history  map[domain.Address][]domain.PriceEntry
	lastPush map[domain.Address]time.Time

	now func() time.Time
	log *slog.Logger
}

// NewPriceResolver creates a resolver with the default 5s push cooldown.
func NewPriceResolver(payer domain.Address, sources []domain.QuoteSource, submitter domain.TxSubmitter, sink event.Sink) *PriceResolver {
	return &PriceResolver{
		payer:     payer,
		sources:   sources,
		submitter: submitter,
		sink:      sink,
		cooldown:  defaultPushCooldown,
		history:   make(map[domain.Address][]domain.PriceEntry),
		lastPush:  make(map[domain.Address]time.Time),
		now:       time.Now,
		log:       slog.Default().With("module", "price_resolver"),
	}
}

// NewPriceResolverWithConfig creates a resolver with a custom cooldown.
func NewPriceResolverWithConfig(payer domain.Address, sources []domain.QuoteSource, submitter domain.TxSubmitter, sink event.Sink, cooldownMS int) *PriceResolver {
	r := NewPriceResolver(payer, sources, submitter, sink)
	if cooldownMS > 0 {
		r.cooldown = time.Duration(cooldownMS) * time.Millisecond
	}
	return r
}

// sourceTag maps chain position to the entry tag: the head of the chain is
// the primary source, everything after it is a secondary.
func sourceTag(i int) domain.PriceSource {
	if i == 0 {
		return domain.PriceSourcePrimary
	}
	return domain.PriceSourceSecondary
}

// FetchPrice resolves a current price for the asset, walking the source
// chain in order. Successful resolutions are appended to the market's
// history. When every source fails, the most recent history entry is
// returned re-tagged as cached; nil when there is no history either.
// Cached entries are never appended, so a cached price can never become
// the basis for another cached fallback.
func (r *PriceResolver) FetchPrice(ctx context.Context, assetID string, market domain.Address) *domain.PriceEntry {
	for i, src := range r.sources {
		quote, err := src.Quote(ctx, assetID)
		if err != nil {
			r.log.Warn("quote source unavailable",
				slog.String("source", src.Name()),
				slog.String("asset", assetID),
				slog.Any("error", err),
			)
			continue
		}

		entry := domain.PriceEntry{
			PriceE6:   domain.PriceE6FromDecimal(quote),
			Source:    sourceTag(i),
			Timestamp: r.now(),
		}
		r.record(market, entry)
		return &entry
	}

	// Fallback: last known good price, re-tagged.
	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.history[market]; len(h) > 0 {
		last := h[len(h)-1]
		cached := domain.PriceEntry{
			PriceE6:   last.PriceE6,
			Source:    domain.PriceSourceCached,
			Timestamp: last.Timestamp,
		}
		return &cached
	}
	return nil
}

func (r *PriceResolver) record(market domain.Address, entry domain.PriceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := append(r.history[market], entry)
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	r.history[market] = h
}

// PushPrice resolves a price and writes it on-chain, subject to the
// per-market cooldown. The cooldown is a guard, not a retry: callers
// re-invoke on their own schedule. The cooldown clock only advances on a
// successful submission, so a failed push may be retried sooner.
func (r *PriceResolver) PushPrice(ctx context.Context, market domain.Address, snap domain.MarketSnapshot) bool {
	r.mu.Lock()
	if last, ok := r.lastPush[market]; ok && r.now().Sub(last) < r.cooldown {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	entry := r.FetchPrice(ctx, snap.CollateralAsset, market)
	if entry == nil {
		r.log.Warn("no price available for push",
			slog.String("market", string(market)),
			slog.String("asset", snap.CollateralAsset),
		)
		return false
	}

	ix := domain.PushPriceInstruction{
		Payer:            r.payer,
		Market:           market,
		PriceE6:          entry.PriceE6,
		TimestampSeconds: uint64(r.now().Unix()),
	}

	sig, err := r.submitter.Submit(ctx, []domain.Instruction{ix})
	if err != nil {
		r.log.Warn("price push submission failed",
			slog.String("market", string(market)),
			slog.Any("error", err),
		)
		return false
	}

	r.mu.Lock()
	r.lastPush[market] = r.now()
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.Publish(&event.PriceUpdatedEvent{
			MarketID: market,
			PriceE6:  entry.PriceE6,
			Source:   string(entry.Source),
			UnixMs:   r.now().UnixMilli(),
		})
	}

	r.log.Debug("price pushed",
		slog.String("market", string(market)),
		slog.Int64("price_e6", entry.PriceE6),
		slog.String("source", string(entry.Source)),
		slog.String("signature", sig),
	)
	return true
}

// CurrentPrice returns the most recent resolved price for the market, or
// nil. Read-only.
func (r *PriceResolver) CurrentPrice(market domain.Address) *domain.PriceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.history[market]
	if len(h) == 0 {
		return nil
	}
	entry := h[len(h)-1]
	return &entry
}

// PriceHistory returns a copy of the market's price history, oldest first.
func (r *PriceResolver) PriceHistory(market domain.Address) []domain.PriceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.history[market]
	out := make([]domain.PriceEntry, len(h))
	copy(out, h)
	return out
}
