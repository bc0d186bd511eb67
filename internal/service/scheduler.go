package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"percolator_keeper/internal/domain"
	"percolator_keeper/internal/event"
)

// defaultCrankInterval is the cycle period when config gives none.
const defaultCrankInterval = 15 * time.Second

// MarketStatus is the read-only observability view of one tracked market.
type MarketStatus struct {
	LastCrankTime time.Time `json:"last_crank_time"`
	SuccessCount  uint64    `json:"success_count"`
	FailureCount  uint64    `json:"failure_count"`
	Active        bool      `json:"active"`
}

// CrankScheduler owns the per-market crank registry and drives the
// fixed-interval cycle: rediscover markets, then crank each one in turn.
// Failure is always local to a market; nothing aborts the batch and nothing
// tears the loop down.
type CrankScheduler struct {
	payer      domain.Address
	registry   domain.MarketRegistry
	submitter  domain.TxSubmitter
	resolver   *PriceResolver
	sink       event.Sink
	interval   time.Duration
	allowPanic bool

	mu      sync.RWMutex
	tracked map[domain.Address]*domain.CrankState
	order   []domain.Address // insertion order, also crank order

	running  atomic.Bool
	inFlight atomic.Bool // single-flight guard: one cycle at a time
	skipped  atomic.Uint64
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	now func() time.Time
	log *slog.Logger
}

// NewCrankScheduler creates a scheduler with the default interval.
func NewCrankScheduler(payer domain.Address, registry domain.MarketRegistry, submitter domain.TxSubmitter, resolver *PriceResolver, sink event.Sink) *CrankScheduler {
	return &CrankScheduler{
		payer:     payer,
		registry:  registry,
		submitter: submitter,
		resolver:  resolver,
		sink:      sink,
		interval:  defaultCrankInterval,
		tracked:   make(map[domain.Address]*domain.CrankState),
		now:       time.Now,
		log:       slog.Default().With("module", "crank_scheduler"),
	}
}

// NewCrankSchedulerWithConfig creates a scheduler with a custom interval
// and panic policy for the crank instruction.
func NewCrankSchedulerWithConfig(payer domain.Address, registry domain.MarketRegistry, submitter domain.TxSubmitter, resolver *PriceResolver, sink event.Sink, intervalMS int, allowPanic bool) *CrankScheduler {
	s := NewCrankScheduler(payer, registry, submitter, resolver, sink)
	if intervalMS > 0 {
		s.interval = time.Duration(intervalMS) * time.Millisecond
	}
	s.allowPanic = allowPanic
	return s
}

// Discover refreshes the tracked set from the registry. New markets start
// with zeroed counters; known markets get their snapshot replaced wholesale
// with counters preserved; markets gone from the registry are marked
// inactive (state kept) and revived if they reappear.
func (s *CrankScheduler) Discover(ctx context.Context) ([]domain.MarketSnapshot, error) {
	snaps, err := s.registry.Markets(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[domain.Address]bool, len(snaps))
	for _, snap := range snaps {
		seen[snap.Market] = true
		if st, ok := s.tracked[snap.Market]; ok {
			st.Snapshot = snap
			if !st.Active {
				st.Active = true
				s.log.Info("market reactivated", slog.String("market", string(snap.Market)))
			}
			continue
		}
		s.tracked[snap.Market] = &domain.CrankState{
			Market:   snap.Market,
			Snapshot: snap,
			Active:   true,
		}
		s.order = append(s.order, snap.Market)
		s.log.Info("tracking new market",
			slog.String("market", string(snap.Market)),
			slog.Bool("admin_oracle", domain.IsAdminOracle(snap)),
		)
	}

	for _, id := range s.order {
		if st := s.tracked[id]; st.Active && !seen[id] {
			st.Active = false
			s.log.Info("market retired", slog.String("market", string(id)))
		}
	}

	return snaps, nil
}

// CrankMarket cranks one market. For admin-oracle markets a price push is
// attempted first, but its outcome never gates the crank: the chain may
// still hold a usable stale price. Returns false for untracked markets and
// submission failures; never panics out.
func (s *CrankScheduler) CrankMarket(ctx context.Context, market domain.Address) bool {
	s.mu.RLock()
	st, ok := s.tracked[market]
	var snap domain.MarketSnapshot
	if ok {
		snap = st.Snapshot
	}
	s.mu.RUnlock()

	if !ok {
		s.log.Warn("crank requested for untracked market", slog.String("market", string(market)))
		return false
	}

	admin := domain.IsAdminOracle(snap)
	if admin {
		s.resolver.PushPrice(ctx, market, snap)
	}

	oracle := snap.Market
	if !admin {
		oracle = domain.DeriveIndexOracle(snap.IndexFeed)
	}

	ix := domain.CrankInstruction{
		Payer:       s.payer,
		Market:      market,
		Oracle:      oracle,
		CallerIndex: domain.PermissionlessCaller,
		AllowPanic:  s.allowPanic,
	}

	sig, err := s.submitter.Submit(ctx, []domain.Instruction{ix})
	now := s.now()
	if err != nil {
		s.mu.Lock()
		st.FailureCount++
		s.mu.Unlock()

		s.publish(&event.CrankFailureEvent{MarketID: market, Error: err.Error(), UnixMs: now.UnixMilli()})
		s.log.Warn("crank failed",
			slog.String("market", string(market)),
			slog.Any("error", err),
		)
		return false
	}

	s.mu.Lock()
	st.SuccessCount++
	st.LastCrank = now
	s.mu.Unlock()

	s.publish(&event.CrankSuccessEvent{MarketID: market, Signature: sig, UnixMs: now.UnixMilli()})
	s.log.Debug("crank ok",
		slog.String("market", string(market)),
		slog.String("signature", sig),
	)
	return true
}

// CrankAll cranks every active market sequentially, in insertion order.
// One market's failure never blocks the rest.
func (s *CrankScheduler) CrankAll(ctx context.Context) (success, failed int) {
	s.mu.RLock()
	ids := make([]domain.Address, 0, len(s.order))
	for _, id := range s.order {
		if s.tracked[id].Active {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if s.CrankMarket(ctx, id) {
			success++
		} else {
			failed++
		}
	}
	return success, failed
}

// Start launches the recurring crank loop. Idempotent: a second call while
// running is a no-op. The first cycle runs immediately, then one per
// interval; a tick that fires while a cycle is still in flight is skipped.
func (s *CrankScheduler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.spawnCycle(ctx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.spawnCycle(ctx)
			}
		}
	}()

	s.log.Info("crank scheduler started", slog.Duration("interval", s.interval))
}

// spawnCycle runs one discover+crankAll cycle in the background, guarded so
// at most one cycle is in flight. Stop only prevents future ticks; the
// running cycle completes on its own.
func (s *CrankScheduler) spawnCycle(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.Debug("previous cycle still running, tick skipped")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.runCycle(ctx)
	}()
}

func (s *CrankScheduler) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("crank cycle panic recovered", slog.Any("panic", r))
		}
	}()

	if _, err := s.Discover(ctx); err != nil {
		s.log.Warn("market discovery failed, cycle aborted", slog.Any("error", err))
		return
	}

	success, failed := s.CrankAll(ctx)
	s.log.Info("crank cycle complete",
		slog.Int("success", success),
		slog.Int("failed", failed),
	)
}

// Stop cancels future ticks and waits for the in-flight cycle to finish.
// Calling it when not running, or twice, is a no-op.
func (s *CrankScheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info("crank scheduler stopped")
}

// Status returns a point-in-time copy of every tracked market's state.
func (s *CrankScheduler) Status() map[domain.Address]MarketStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.Address]MarketStatus, len(s.tracked))
	for id, st := range s.tracked {
		out[id] = MarketStatus{
			LastCrankTime: st.LastCrank,
			SuccessCount:  st.SuccessCount,
			FailureCount:  st.FailureCount,
			Active:        st.Active,
		}
	}
	return out
}

// SkippedTicks returns how many ticks the single-flight guard dropped.
func (s *CrankScheduler) SkippedTicks() uint64 {
	return s.skipped.Load()
}

func (s *CrankScheduler) publish(ev event.Event) {
	if s.sink != nil {
		s.sink.Publish(ev)
	}
}
