// Package sync reconciles the local item cache against the daybook
// service: pending deletions are pushed first, then the remote snapshot
// is pulled and merged. The order matters — pulling first would
// re-insert items the user deleted while offline.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/daybook/internal/api"
	"github.com/dukerupert/daybook/internal/model"
	"github.com/dukerupert/daybook/internal/store"
)

// Remote is the slice of the service client the engine needs.
type Remote interface {
	Snapshot(ctx context.Context) (*api.Snapshot, error)
	BatchDelete(ctx context.Context, del api.BatchDeleteRequest) error
}

// Engine runs sync cycles. Overlapping SyncOnce calls collapse into one
// in-flight cycle; a failed cycle leaves the store untouched for the
// next trigger.
type Engine struct {
	items  *store.ItemStore
	remote Remote
	group  singleflight.Group
}

func NewEngine(items *store.ItemStore, remote Remote) *Engine {
	return &Engine{items: items, remote: remote}
}

// SyncOnce performs one push-then-pull cycle. Concurrent callers share
// the cycle already in flight instead of starting a second one.
func (e *Engine) SyncOnce(ctx context.Context) error {
	_, err, _ := e.group.Do("sync", func() (any, error) {
		return nil, e.sync(ctx)
	})
	return err
}

func (e *Engine) sync(ctx context.Context) error {
	// Push: snapshot the tombstone tables, submit one batch delete, and
	// clear exactly the ids that were in it. Tombstones created while
	// the call is in flight stay behind for the next cycle.
	pushed := make(map[model.Kind][]string, len(model.Kinds))
	for _, kind := range model.Kinds {
		tombstones, err := e.items.ListTombstones(kind)
		if err != nil {
			return fmt.Errorf("list %s tombstones: %w", kind, err)
		}
		ids := make([]string, 0, len(tombstones))
		for _, t := range tombstones {
			ids = append(ids, t.ID)
		}
		pushed[kind] = ids
	}

	del := api.BatchDeleteRequest{
		DeletedTaskIDs:     pushed[model.KindTask],
		DeletedEventIDs:    pushed[model.KindEvent],
		DeletedReminderIDs: pushed[model.KindReminder],
	}
	if !del.Empty() {
		if err := e.remote.BatchDelete(ctx, del); err != nil {
			return fmt.Errorf("push deletions: %w", err)
		}
		for _, kind := range model.Kinds {
			if err := e.items.ClearTombstones(kind, pushed[kind]); err != nil {
				return fmt.Errorf("clear %s tombstones: %w", kind, err)
			}
		}
	}

	// Pull: merge the authoritative snapshot, last writer wins per item.
	// Ids deleted locally since the push keep their tombstones; Merge
	// checks for one in the same transaction as its write, so a delete
	// that raced the cycle never comes back through the pull.
	snap, err := e.remote.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("pull snapshot: %w", err)
	}

	for _, item := range snap.Items() {
		if err := e.items.Merge(item); err != nil {
			return fmt.Errorf("merge %s %s: %w", item.Kind, item.ID, err)
		}
	}

	return nil
}

// Run drives sync cycles from a ticker and an external trigger channel
// until the context is cancelled. Retryable failures back off and try
// again within the cycle; everything else waits for the next trigger.
func (e *Engine) Run(ctx context.Context, interval time.Duration, trigger <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.syncWithRetry(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.syncWithRetry(ctx)
		case <-trigger:
			e.syncWithRetry(ctx)
		}
	}
}

func (e *Engine) syncWithRetry(ctx context.Context) {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(2*time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := e.SyncOnce(ctx)
		if err != nil && api.Retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("sync cycle failed", "error", err)
	}
}
