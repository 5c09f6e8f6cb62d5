// Package alarm schedules reminder wake-ups for agenda items and
// restores them from the local cache after a restart.
package alarm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/daybook/internal/model"
)

// Payload is what a fired alarm shows the user.
type Payload struct {
	Title       string
	Description string
	ItemID      string
	Kind        model.Kind
}

// Scheduler is the wake-up timer primitive. Scheduling is keyed by item
// id: scheduling the same item again replaces the earlier timer instead
// of stacking a duplicate.
type Scheduler interface {
	ScheduleExact(fireAt time.Time, p Payload) error
	Cancel(itemID string) error
}

// Notifier presents a fired reminder to the user.
type Notifier interface {
	Notify(title, body string) error
}

// TimerScheduler is an in-process Scheduler backed by time.AfterFunc.
type TimerScheduler struct {
	mu       sync.Mutex
	notifier Notifier
	timers   map[string]*time.Timer
}

func NewTimerScheduler(n Notifier) *TimerScheduler {
	return &TimerScheduler{
		notifier: n,
		timers:   make(map[string]*time.Timer),
	}
}

// ScheduleExact arms a timer for the payload's item, replacing any timer
// already armed for that item.
func (s *TimerScheduler) ScheduleExact(fireAt time.Time, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[p.ItemID]; ok {
		t.Stop()
	}
	s.timers[p.ItemID] = time.AfterFunc(time.Until(fireAt), func() {
		s.fire(p)
	})
	return nil
}

// Cancel disarms the item's timer if one is armed.
func (s *TimerScheduler) Cancel(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[itemID]; ok {
		t.Stop()
		delete(s.timers, itemID)
	}
	return nil
}

// Stop disarms every timer. Used on shutdown.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *TimerScheduler) fire(p Payload) {
	s.mu.Lock()
	delete(s.timers, p.ItemID)
	s.mu.Unlock()

	if err := s.notifier.Notify(p.Title, p.Description); err != nil {
		slog.Warn("deliver reminder", "item", p.ItemID, "kind", p.Kind, "error", err)
	}
}
