package alarm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/dukerupert/daybook/internal/store"
)

// Restorer re-registers reminder alarms from the local cache after a
// process or device restart.
type Restorer struct {
	items *store.ItemStore
	sched Scheduler
}

func NewRestorer(items *store.ItemStore, sched Scheduler) *Restorer {
	return &Restorer{items: items, sched: sched}
}

// Restore schedules an alarm for every live item whose RemindAt is
// strictly after now. Missed reminders are skipped, not replayed.
// Scheduling is keyed by item id, so running Restore twice does not
// double-schedule. One bad item never blocks the rest; their failures
// come back combined, alongside the count of alarms that were armed.
// Cancelling the context stops the pass; alarms already armed stay armed.
func (r *Restorer) Restore(ctx context.Context, now time.Time) (int, error) {
	items, err := r.items.ListAll()
	if err != nil {
		return 0, fmt.Errorf("list items: %w", err)
	}

	var errs error
	scheduled := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return scheduled, multierr.Append(errs, err)
		}
		if !item.RemindAt.After(now) {
			continue
		}
		p := Payload{
			Title:       item.Title,
			Description: item.Description,
			ItemID:      item.ID,
			Kind:        item.Kind,
		}
		if err := r.sched.ScheduleExact(item.RemindAt, p); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("schedule %s %s: %w", item.Kind, item.ID, err))
			continue
		}
		scheduled++
	}
	return scheduled, errs
}
