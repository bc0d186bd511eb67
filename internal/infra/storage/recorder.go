package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"percolator_keeper/internal/domain"
	"percolator_keeper/internal/event"
)

// Recorder subscribes to the event hub and persists every keeper event.
// Writes are fire-and-forget: a failed insert is logged and dropped, the
// crank pipeline never waits on the database.
type Recorder struct {
	store  *Storage
	hub    *event.Hub
	cancel func()
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewRecorder creates a recorder over the given store and hub.
func NewRecorder(store *Storage, hub *event.Hub) *Recorder {
	return &Recorder{
		store:  store,
		hub:    hub,
		logger: slog.Default().With("module", "event_recorder"),
	}
}

// Start begins consuming events until the context ends or Stop is called.
func (r *Recorder) Start(ctx context.Context) {
	sub, unsubscribe := r.hub.Subscribe(1024)
	r.cancel = unsubscribe

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				r.persist(ev)
			}
		}
	}()
}

// Stop detaches from the hub and waits for the consumer to drain.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Recorder) persist(ev event.Event) {
	var err error
	switch e := ev.(type) {
	case *event.CrankSuccessEvent:
		err = r.store.SaveCrank(&domain.CrankRecord{
			Market:    string(e.MarketID),
			Signature: e.Signature,
			Success:   true,
			CreatedAt: time.UnixMilli(e.UnixMs),
		})
	case *event.CrankFailureEvent:
		err = r.store.SaveCrank(&domain.CrankRecord{
			Market:    string(e.MarketID),
			Success:   false,
			Error:     e.Error,
			CreatedAt: time.UnixMilli(e.UnixMs),
		})
	case *event.PriceUpdatedEvent:
		err = r.store.SavePrice(&domain.PriceRecord{
			Market:    string(e.MarketID),
			PriceE6:   e.PriceE6,
			Source:    e.Source,
			CreatedAt: time.UnixMilli(e.UnixMs),
		})
	default:
		return
	}

	if err != nil {
		r.logger.Warn("failed to persist event",
			slog.String("topic", ev.Topic()),
			slog.Any("error", err),
		)
	}
}
