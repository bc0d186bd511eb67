package infra

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"percolator_keeper/internal/event"

	"github.com/gorilla/websocket"
)

const (
	feedPingInterval  = 30 * time.Second
	feedWriteTimeout  = 5 * time.Second
	feedSubBuffer     = 256
	feedShutdownGrace = 3 * time.Second
)

// feedMessage is the wire envelope for one event.
type feedMessage struct {
	Topic string      `json:"topic"`
	Data  event.Event `json:"data"`
}

// Feed exposes the event hub to dashboard subscribers over WebSocket.
// Slow clients are dropped rather than ever back-pressuring the keeper.
type Feed struct {
	hub      *event.Hub
	addr     string
	upgrader websocket.Upgrader
	server   *http.Server
	logger   *slog.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewFeed creates a feed server. An empty address disables it.
func NewFeed(hub *event.Hub, addr string) *Feed {
	return &Feed{
		hub:  hub,
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: slog.Default().With("module", "event_feed"),
	}
}

// Start begins serving /ws/events. No-op when the feed is disabled.
func (f *Feed) Start(ctx context.Context) error {
	if f.addr == "" {
		f.logger.Info("event feed disabled")
		return nil
	}

	ctx, f.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		f.handleClient(ctx, w, r)
	})

	f.server = &http.Server{Addr: f.addr, Handler: mux}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.logger.Info("event feed listening", slog.String("addr", f.addr))
		if err := f.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("event feed server failed", slog.Any("error", err))
		}
	}()

	return nil
}

// Stop shuts the listener down and waits for client goroutines.
func (f *Feed) Stop() {
	if f.server == nil {
		return
	}
	if f.cancel != nil {
		f.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), feedShutdownGrace)
	defer cancel()
	if err := f.server.Shutdown(shutdownCtx); err != nil {
		f.logger.Warn("event feed shutdown", slog.Any("error", err))
	}
	f.wg.Wait()
}

func (f *Feed) handleClient(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	sub, unsubscribe := f.hub.Subscribe(feedSubBuffer)
	GlobalMetrics.IncrementFeedClients()
	f.logger.Info("feed client connected", slog.String("remote", conn.RemoteAddr().String()))

	done := make(chan struct{})

	// Reader: only consumes control frames and detects disconnects.
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			unsubscribe()
			conn.Close()
			GlobalMetrics.DecrementFeedClients()
			f.logger.Info("feed client disconnected", slog.String("remote", conn.RemoteAddr().String()))
		}()

		ping := time.NewTicker(feedPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := f.writeEvent(conn, ev); err != nil {
					f.logger.Warn("feed write failed, dropping client", slog.Any("error", err))
					return
				}
			}
		}
	}()
}

func (f *Feed) writeEvent(conn *websocket.Conn, ev event.Event) error {
	buf := event.AcquireBuffer()
	defer event.ReleaseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(feedMessage{Topic: ev.Topic(), Data: ev}); err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, buf.Bytes())
}
