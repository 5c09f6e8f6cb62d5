package alarm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dukerupert/daybook/internal/database"
	"github.com/dukerupert/daybook/internal/model"
	"github.com/dukerupert/daybook/internal/store"
)

// fakeScheduler records scheduled alarms keyed by item id.
type fakeScheduler struct {
	scheduled map[string]time.Time
	failIDs   map[string]bool
	calls     int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		scheduled: make(map[string]time.Time),
		failIDs:   make(map[string]bool),
	}
}

func (f *fakeScheduler) ScheduleExact(fireAt time.Time, p Payload) error {
	f.calls++
	if f.failIDs[p.ItemID] {
		return fmt.Errorf("platform rejected alarm for %s", p.ItemID)
	}
	f.scheduled[p.ItemID] = fireAt
	return nil
}

func (f *fakeScheduler) Cancel(itemID string) error {
	delete(f.scheduled, itemID)
	return nil
}

func setupRestorer(t *testing.T) (*Restorer, *store.ItemStore, *fakeScheduler) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	items := store.NewItemStore(db)
	sched := newFakeScheduler()
	return NewRestorer(items, sched), items, sched
}

func reminderAt(id string, remindAt time.Time) model.AgendaItem {
	return model.AgendaItem{
		ID:          id,
		Kind:        model.KindReminder,
		Title:       "Reminder " + id,
		Description: "details",
		Time:        remindAt.Add(10 * time.Minute),
		RemindAt:    remindAt,
	}
}

func TestRestoreSkipsPastReminders(t *testing.T) {
	restorer, items, sched := setupRestorer(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, item := range []model.AgendaItem{
		reminderAt("past", now.Add(-time.Hour)),
		reminderAt("soon", now.Add(time.Hour)),
		reminderAt("later", now.Add(2*time.Hour)),
	} {
		if err := items.Upsert(item); err != nil {
			t.Fatalf("upsert %s: %v", item.ID, err)
		}
	}

	n, err := restorer.Restore(t.Context(), now)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 2 {
		t.Errorf("scheduled = %d, want 2", n)
	}
	if _, ok := sched.scheduled["past"]; ok {
		t.Error("past reminder was scheduled; missed reminders must be skipped")
	}
	if _, ok := sched.scheduled["soon"]; !ok {
		t.Error("future reminder 'soon' not scheduled")
	}
	if _, ok := sched.scheduled["later"]; !ok {
		t.Error("future reminder 'later' not scheduled")
	}
}

func TestRestoreSkipsRemindAtExactlyNow(t *testing.T) {
	restorer, items, sched := setupRestorer(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := items.Upsert(reminderAt("edge", now)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	n, err := restorer.Restore(t.Context(), now)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 0 || len(sched.scheduled) != 0 {
		t.Errorf("scheduled = %d, want 0: remind-at must be strictly in the future", n)
	}
}

func TestRestoreTwiceDoesNotDoubleSchedule(t *testing.T) {
	restorer, items, sched := setupRestorer(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := items.Upsert(reminderAt("r1", now.Add(time.Hour))); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := restorer.Restore(t.Context(), now); err != nil {
		t.Fatalf("first restore: %v", err)
	}
	if _, err := restorer.Restore(t.Context(), now); err != nil {
		t.Fatalf("second restore: %v", err)
	}

	// Registration is keyed by item id: the second pass replaces, it
	// does not stack.
	if len(sched.scheduled) != 1 {
		t.Errorf("alarm count = %d, want 1", len(sched.scheduled))
	}
}

func TestRestoreIsolatesPerItemFailures(t *testing.T) {
	restorer, items, sched := setupRestorer(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"a", "b", "c"} {
		if err := items.Upsert(reminderAt(id, now.Add(time.Hour))); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	sched.failIDs["b"] = true

	n, err := restorer.Restore(t.Context(), now)
	if err == nil {
		t.Fatal("expected combined error for the failed item")
	}
	if n != 2 {
		t.Errorf("scheduled = %d, want the two healthy items", n)
	}
	if _, ok := sched.scheduled["a"]; !ok {
		t.Error("item a not scheduled")
	}
	if _, ok := sched.scheduled["c"]; !ok {
		t.Error("item c blocked by the failure of b")
	}
}

func TestRestoreCoversAllKinds(t *testing.T) {
	restorer, items, sched := setupRestorer(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	event := model.AgendaItem{
		ID: "e1", Kind: model.KindEvent, Title: "Standup",
		Time: now.Add(2 * time.Hour), RemindAt: now.Add(time.Hour),
		From: now.Add(2 * time.Hour), To: now.Add(3 * time.Hour),
	}
	taskItem := model.AgendaItem{
		ID: "t1", Kind: model.KindTask, Title: "Ship it",
		Time: now.Add(3 * time.Hour), RemindAt: now.Add(90 * time.Minute),
	}
	for _, item := range []model.AgendaItem{event, taskItem, reminderAt("r1", now.Add(time.Hour))} {
		if err := items.Upsert(item); err != nil {
			t.Fatalf("upsert %s: %v", item.ID, err)
		}
	}

	n, err := restorer.Restore(t.Context(), now)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 3 || len(sched.scheduled) != 3 {
		t.Errorf("scheduled = %d (%v), want all three kinds", n, sched.scheduled)
	}
}

func TestRestoreStopsOnCancelledContext(t *testing.T) {
	restorer, items, sched := setupRestorer(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := items.Upsert(reminderAt("r1", now.Add(time.Hour))); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	n, err := restorer.Restore(ctx, now)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n != 0 || len(sched.scheduled) != 0 {
		t.Errorf("scheduled = %d, want 0 after cancellation", n)
	}
}

func TestDeleteDisarmsRestoredAlarm(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	items := store.NewItemStore(db)
	n := newRecordingNotifier()
	sched := NewTimerScheduler(n)
	defer sched.Stop()
	items.OnDelete(func(id string, _ model.Kind) {
		if err := sched.Cancel(id); err != nil {
			t.Errorf("cancel %s: %v", id, err)
		}
	})

	now := time.Now()
	if err := items.Upsert(reminderAt("r1", now.Add(80*time.Millisecond))); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	restorer := NewRestorer(items, sched)
	if _, err := restorer.Restore(t.Context(), now); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := items.Delete("r1", model.KindReminder); err != nil {
		t.Fatalf("delete: %v", err)
	}

	time.Sleep(250 * time.Millisecond)
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.fired) != 0 {
		t.Errorf("notifications for deleted item = %d, want 0", len(n.fired))
	}
}
