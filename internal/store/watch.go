package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/daybook/internal/model"
)

// Subscription is a live query over the item tables. Its channel carries
// the current result immediately on subscribe and a fresh result after
// every mutation, until the context is cancelled or Close is called. The
// channel is closed when the subscription ends.
type Subscription struct {
	C <-chan []model.AgendaItem

	cancel context.CancelFunc
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
}

// hub fans mutation signals out to live query subscribers. Each subscriber
// gets a buffered one-slot signal channel, so bursts of writes during a
// recompute collapse into a single refresh.
type hub struct {
	mu      sync.Mutex
	nextID  int64
	signals map[int64]chan struct{}
}

func newHub() *hub {
	return &hub{signals: make(map[int64]chan struct{})}
}

func (h *hub) register() (int64, chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan struct{}, 1)
	h.signals[id] = ch
	return id, ch
}

func (h *hub) unregister(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.signals, id)
}

func (h *hub) notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.signals {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// WatchAll subscribes to the merged view of all live items.
func (s *ItemStore) WatchAll(ctx context.Context) *Subscription {
	return s.watch(ctx, s.ListAll)
}

// WatchByDateRange subscribes to the merged view of live items with time
// in [start, end).
func (s *ItemStore) WatchByDateRange(ctx context.Context, start, end time.Time) *Subscription {
	return s.watch(ctx, func() ([]model.AgendaItem, error) {
		return s.ListByDateRange(start, end)
	})
}

func (s *ItemStore) watch(ctx context.Context, query func() ([]model.AgendaItem, error)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan []model.AgendaItem, 1)
	id, signal := s.hub.register()

	go func() {
		defer close(out)
		defer s.hub.unregister(id)

		send := func() bool {
			items, err := query()
			if err != nil {
				slog.Warn("live query failed", "error", err)
				return true
			}
			select {
			case out <- items:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
				if !send() {
					return
				}
			}
		}
	}()

	return &Subscription{C: out, cancel: cancel}
}
