/*
types.go - Core types of the task escrow ledger

PURPOSE:
  Defines the persisted records the ledger works on. These types carry no
  behavior; the invariants live in the store and in the engine.

RECORDS:
  User        Point balance owned by an identity from the auth collaborator
  Task        Funded social action with a committed reward
  Completion  One row per (task, user), the uniqueness gate of the ledger
  Entry       Immutable record of one balance mutation

BALANCES:
  Points are whole numbers (int64). A balance never goes below zero; the
  stores enforce it with a conditional debit and a CHECK constraint.

SEE ALSO:
  - store.go: Persistence interfaces
  - engine.go: Operations over these records
*/
package escrow

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID is the opaque identity issued by the auth collaborator.
type UserID string

// TaskID identifies a task. Assigned by the Task Registry.
type TaskID string

// SystemUser is the creator recorded on official tasks.
const SystemUser UserID = "system"

// =============================================================================
// RECORDS
// =============================================================================

// User is a points account.
type User struct {
	ID        UserID
	Points    int64
	CreatedAt time.Time
}

// Task is a funded action other users complete for Reward points.
// Only CompletionCount changes after creation.
type Task struct {
	ID              TaskID
	CreatorID       UserID
	Platform        string
	Action          string
	Title           string
	Description     string
	URL             string
	Reward          int64
	IsOfficial      bool
	CompletionCount int64
	CreatedAt       time.Time
}

// Completion records that UserID completed TaskID. CreditedAt is set in the
// same transaction that credits the reward; a row with a nil CreditedAt is
// picked up by the recovery pass.
type Completion struct {
	TaskID      TaskID
	UserID      UserID
	Reward      int64
	CompletedAt time.Time
	CreditedAt  *time.Time
}

// Credited reports whether the reward for this row has been applied.
func (c Completion) Credited() bool {
	return c.CreditedAt != nil
}

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntrySignupBonus EntryKind = "signup_bonus"
	EntryTaskFunding EntryKind = "task_funding"
	EntryTaskReward  EntryKind = "task_reward"
	EntryPurchase    EntryKind = "purchase"
)

// Entry is the audit record of one balance mutation. Amount is signed:
// debits are negative. IdempotencyKey is unique across all entries.
type Entry struct {
	ID             string
	UserID         UserID
	Kind           EntryKind
	Amount         int64
	TaskID         TaskID
	IdempotencyKey string
	BalanceAfter   int64
	CreatedAt      time.Time
}

// =============================================================================
// QUERIES
// =============================================================================

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// TaskFilter narrows ListTasks. Zero values mean "any".
type TaskFilter struct {
	Platform  string
	CreatorID UserID
	Official  *bool
	Limit     int
	Offset    int
}

// Normalize clamps Limit and Offset to supported values.
func (f TaskFilter) Normalize() TaskFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether t passes the filter. Used by stores that filter
// in Go rather than in SQL.
func (f TaskFilter) Matches(t Task) bool {
	if f.Platform != "" && t.Platform != f.Platform {
		return false
	}
	if f.CreatorID != "" && t.CreatorID != f.CreatorID {
		return false
	}
	if f.Official != nil && t.IsOfficial != *f.Official {
		return false
	}
	return true
}

// TaskLess is the listing order: official first, then reward descending,
// then newest first. ID breaks remaining ties so pages are stable.
func TaskLess(a, b Task) bool {
	if a.IsOfficial != b.IsOfficial {
		return a.IsOfficial
	}
	if a.Reward != b.Reward {
		return a.Reward > b.Reward
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}
