package model

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the three agenda item variants.
type Kind string

const (
	KindTask     Kind = "task"
	KindEvent    Kind = "event"
	KindReminder Kind = "reminder"
)

// Kinds lists all item kinds in a stable order.
var Kinds = []Kind{KindTask, KindEvent, KindReminder}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindTask || k == KindEvent || k == KindReminder
}

// Attendee is a participant on an event.
type Attendee struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	IsGoing   bool   `json:"is_going"`
	IsCreator bool   `json:"is_creator"`
}

// Photo is an image attached to an event.
type Photo struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// AgendaItem is the tagged union over tasks, events and reminders.
// Kind selects which of the variant fields are meaningful: IsDone for
// tasks; From, To, Attendees, Photos, Host and IsCreator for events.
type AgendaItem struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Time        time.Time `json:"time"`
	RemindAt    time.Time `json:"remind_at"`

	// Task fields.
	IsDone bool `json:"is_done,omitempty"`

	// Event fields.
	From      time.Time  `json:"from,omitzero"`
	To        time.Time  `json:"to,omitzero"`
	Attendees []Attendee `json:"attendees,omitempty"`
	Photos    []Photo    `json:"photos,omitempty"`
	Host      string     `json:"host,omitempty"`
	IsCreator bool       `json:"is_creator,omitempty"`
}

// NewItemID returns a fresh client-generated item id.
func NewItemID() string {
	return uuid.NewString()
}

// Tombstone records that an item was deleted locally but the deletion has
// not yet been acknowledged by the remote service.
type Tombstone struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}
