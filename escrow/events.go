package escrow

import (
	"context"
	"time"
)

// EventKind names a ledger notification.
type EventKind string

const (
	EventTaskCreated     EventKind = "task_created"
	EventPointsEarned    EventKind = "points_earned"
	EventTaskCompleted   EventKind = "task_completed"
	EventPointsPurchased EventKind = "points_purchased"
)

// Event is handed to the Notifier after the transaction that caused it
// has committed.
type Event struct {
	Kind       EventKind `json:"type"`
	Recipient  UserID    `json:"recipient"`
	Actor      UserID    `json:"actor,omitempty"`
	TaskID     TaskID    `json:"task_id,omitempty"`
	Platform   string    `json:"platform,omitempty"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Points     int64     `json:"points"`
	OccurredAt time.Time `json:"timestamp"`
}

// Notifier receives committed ledger events. Implementations must not
// block the caller for long; delivery failures stay inside the notifier.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event)

func (f NotifierFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}
