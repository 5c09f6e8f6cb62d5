package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dukerupert/daybook/internal/model"
)

// ItemStore is the durable local cache of agenda items. Deletions are
// recorded as tombstones in the same transaction that removes the live
// row, so an id is never live and tombstoned at the same time.
type ItemStore struct {
	db       *sql.DB
	hub      *hub
	onDelete func(id string, kind model.Kind)
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db, hub: newHub()}
}

// OnDelete registers fn to run after every committed deletion. The
// daemon uses it to disarm the alarm of the deleted item. Must be set
// before the store is shared between goroutines.
func (s *ItemStore) OnDelete(fn func(id string, kind model.Kind)) {
	s.onDelete = fn
}

// Upsert inserts or replaces the item in its kind's table. Any pending
// tombstone for the same id is dropped in the same transaction: a local
// re-create is user intent and wins over an unacknowledged delete.
func (s *ItemStore) Upsert(item model.AgendaItem) error {
	if !item.Kind.Valid() {
		return fmt.Errorf("upsert: unknown kind %q", item.Kind)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	if err := insertItem(tx, item); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM tombstones WHERE id = ? AND kind = ?`, item.ID, string(item.Kind)); err != nil {
		return fmt.Errorf("clear tombstone on upsert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	s.hub.notify()
	return nil
}

// Merge applies a remote copy of the item unless a deletion of it is
// pending locally. The tombstone check and the write share one
// transaction, so a delete committed at any point before the merge
// keeps the item out; the tombstone stays for the next push.
func (s *ItemStore) Merge(item model.AgendaItem) error {
	if !item.Kind.Valid() {
		return fmt.Errorf("merge: unknown kind %q", item.Kind)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	var pending int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM tombstones WHERE id = ? AND kind = ?`,
		item.ID, string(item.Kind)).Scan(&pending); err != nil {
		return fmt.Errorf("check tombstone: %w", err)
	}
	if pending > 0 {
		return nil
	}

	if err := insertItem(tx, item); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}

	s.hub.notify()
	return nil
}

func insertItem(tx *sql.Tx, item model.AgendaItem) error {
	var err error
	switch item.Kind {
	case model.KindTask:
		var done int
		if item.IsDone {
			done = 1
		}
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO tasks (id, title, description, time, remind_at, is_done)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			item.ID, item.Title, item.Description, item.Time.UTC(), item.RemindAt.UTC(), done,
		)
	case model.KindReminder:
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO reminders (id, title, description, time, remind_at)
			 VALUES (?, ?, ?, ?, ?)`,
			item.ID, item.Title, item.Description, item.Time.UTC(), item.RemindAt.UTC(),
		)
	case model.KindEvent:
		var attendees, photos []byte
		attendees, err = json.Marshal(item.Attendees)
		if err != nil {
			return fmt.Errorf("marshal attendees: %w", err)
		}
		photos, err = json.Marshal(item.Photos)
		if err != nil {
			return fmt.Errorf("marshal photos: %w", err)
		}
		var creator int
		if item.IsCreator {
			creator = 1
		}
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO events (id, title, description, time, remind_at, from_time, to_time, attendees, photos, host, is_creator)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.Title, item.Description, item.Time.UTC(), item.RemindAt.UTC(),
			item.From.UTC(), item.To.UTC(), string(attendees), string(photos), item.Host, creator,
		)
	}
	if err != nil {
		return fmt.Errorf("store %s: %w", item.Kind, err)
	}
	return nil
}

// Delete removes the live row and records a tombstone as one atomic unit.
// Deleting an absent item is a no-op for the live table but still leaves
// exactly one tombstone, so repeated deletes are idempotent.
func (s *ItemStore) Delete(id string, kind model.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("delete: unknown kind %q", kind)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, tableFor(kind)), id); err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}

	if _, err := tx.Exec(`INSERT OR IGNORE INTO tombstones (id, kind) VALUES (?, ?)`, id, string(kind)); err != nil {
		return fmt.Errorf("insert tombstone: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	if s.onDelete != nil {
		s.onDelete(id, kind)
	}
	s.hub.notify()
	return nil
}

// GetByID returns the item, or nil if no live row exists.
func (s *ItemStore) GetByID(id string, kind model.Kind) (*model.AgendaItem, error) {
	items, err := s.listKind(kind, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// ListAll returns every live item across all kinds, ascending by time.
func (s *ItemStore) ListAll() ([]model.AgendaItem, error) {
	var all []model.AgendaItem
	for _, kind := range model.Kinds {
		items, err := s.listKind(kind, ``)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	sortByTime(all)
	return all, nil
}

// ListByDateRange returns live items with time in [start, end), ascending.
func (s *ItemStore) ListByDateRange(start, end time.Time) ([]model.AgendaItem, error) {
	var all []model.AgendaItem
	for _, kind := range model.Kinds {
		items, err := s.listKind(kind, `WHERE time >= ? AND time < ?`, start.UTC(), end.UTC())
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	sortByTime(all)
	return all, nil
}

// ListTombstones returns pending deletions for one kind.
func (s *ItemStore) ListTombstones(kind model.Kind) ([]model.Tombstone, error) {
	rows, err := s.db.Query(`SELECT id, kind FROM tombstones WHERE kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query tombstones: %w", err)
	}
	defer rows.Close()

	var ts []model.Tombstone
	for rows.Next() {
		var t model.Tombstone
		var k string
		if err := rows.Scan(&t.ID, &k); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		t.Kind = model.Kind(k)
		ts = append(ts, t)
	}
	return ts, rows.Err()
}

// ClearTombstones removes exactly the given ids for one kind. Tombstones
// created after the caller read its snapshot are untouched.
func (s *ItemStore) ClearTombstones(kind model.Kind, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin clear tombstones: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM tombstones WHERE id = ? AND kind = ?`, id, string(kind)); err != nil {
			return fmt.Errorf("clear tombstone %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear tombstones: %w", err)
	}
	return nil
}

func (s *ItemStore) listKind(kind model.Kind, where string, args ...any) ([]model.AgendaItem, error) {
	var query string
	switch kind {
	case model.KindTask:
		query = `SELECT id, title, description, time, remind_at, is_done FROM tasks ` + where
	case model.KindReminder:
		query = `SELECT id, title, description, time, remind_at FROM reminders ` + where
	case model.KindEvent:
		query = `SELECT id, title, description, time, remind_at, from_time, to_time, attendees, photos, host, is_creator FROM events ` + where
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", kind, err)
	}
	defer rows.Close()

	var items []model.AgendaItem
	for rows.Next() {
		item := model.AgendaItem{Kind: kind}
		switch kind {
		case model.KindTask:
			var done int
			if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.Time, &item.RemindAt, &done); err != nil {
				return nil, fmt.Errorf("scan task: %w", err)
			}
			item.IsDone = done != 0
		case model.KindReminder:
			if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.Time, &item.RemindAt); err != nil {
				return nil, fmt.Errorf("scan reminder: %w", err)
			}
		case model.KindEvent:
			var attendees, photos string
			var creator int
			if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.Time, &item.RemindAt,
				&item.From, &item.To, &attendees, &photos, &item.Host, &creator); err != nil {
				return nil, fmt.Errorf("scan event: %w", err)
			}
			item.IsCreator = creator != 0
			if err := json.Unmarshal([]byte(attendees), &item.Attendees); err != nil {
				return nil, fmt.Errorf("unmarshal attendees: %w", err)
			}
			if err := json.Unmarshal([]byte(photos), &item.Photos); err != nil {
				return nil, fmt.Errorf("unmarshal photos: %w", err)
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func tableFor(kind model.Kind) string {
	switch kind {
	case model.KindTask:
		return "tasks"
	case model.KindReminder:
		return "reminders"
	default:
		return "events"
	}
}

func sortByTime(items []model.AgendaItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Time.Equal(items[j].Time) {
			return items[i].ID < items[j].ID
		}
		return items[i].Time.Before(items[j].Time)
	})
}
