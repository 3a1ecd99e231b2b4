/*
store.go - Storage interfaces for the escrow ledger

PURPOSE:
  Defines the persistence contract. The engine never reads-then-writes a
  balance or a counter itself; every mutation is one of the atomic
  primitives below, composed inside WithTx.

INTERFACES:
  Tx:    Operations available inside a transaction
  Store: Transaction entry point plus committed-state reads

ATOMIC PRIMITIVES:
  Debit                 Conditional decrement (balance >= amount, one step)
  Credit                Unconditional increment
  IncrementCompletions  completion_count + 1 in the store, never in Go
  InsertCompletion      Uniqueness-guarded insert on (task_id, user_id)
  MarkCredited          credited_at set only while still NULL
  AppendEntry           Insert guarded by a unique idempotency key

IMPLEMENTATIONS:
  - escrow/store/memory.go: In-memory (tests, development)
  - store/sqlite: SQLite (mattn or modernc driver)
  - store/postgres: PostgreSQL via bun + pgx

CONFORMANCE:
  escrow/storetest runs the same suite against every implementation.
*/
package escrow

import (
	"context"
	"time"
)

// Tx is the set of operations that participate in one atomic unit.
// Errors returned from a Tx method must be returned from the WithTx
// callback; stores may not be usable after a failed statement.
type Tx interface {
	// CreateUser inserts the user if absent. Reports whether it was created.
	CreateUser(ctx context.Context, u User) (bool, error)

	// Balance reads the committed-in-this-tx balance. ErrUserNotFound if absent.
	Balance(ctx context.Context, user UserID) (int64, error)

	// Debit subtracts amount when balance >= amount and returns the new
	// balance. Otherwise *InsufficientBalanceError, or ErrUserNotFound.
	Debit(ctx context.Context, user UserID, amount int64) (int64, error)

	// Credit adds amount and returns the new balance. ErrUserNotFound if absent.
	Credit(ctx context.Context, user UserID, amount int64) (int64, error)

	// InsertTask stores a new task. ErrDuplicateTask if the id is taken.
	InsertTask(ctx context.Context, t Task) error

	// GetTask reads a task. ErrTaskNotFound if absent.
	GetTask(ctx context.Context, id TaskID) (Task, error)

	// IncrementCompletions bumps completion_count and returns the new value.
	IncrementCompletions(ctx context.Context, id TaskID) (int64, error)

	// InsertCompletion is the uniqueness gate. ErrDuplicateCompletion when a
	// row for (TaskID, UserID) exists.
	InsertCompletion(ctx context.Context, c Completion) error

	// GetCompletion reads one row. ErrCompletionNotFound if absent.
	GetCompletion(ctx context.Context, task TaskID, user UserID) (Completion, error)

	// MarkCredited sets credited_at if it is still unset. Reports whether
	// this call set it.
	MarkCredited(ctx context.Context, task TaskID, user UserID, at time.Time) (bool, error)

	// AppendEntry records a balance mutation. ErrDuplicateIdempotencyKey
	// when the key is taken.
	AppendEntry(ctx context.Context, e Entry) error
}

// Store is the ledger's persistence layer.
type Store interface {
	// WithTx runs fn in one transaction. Any error from fn rolls back every
	// effect of fn.
	WithTx(ctx context.Context, fn func(Tx) error) error

	GetUser(ctx context.Context, id UserID) (User, error)
	GetTask(ctx context.Context, id TaskID) (Task, error)

	// ListTasks returns tasks in TaskLess order.
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)

	// IsCompleted reports whether a credited completion exists for the pair.
	IsCompleted(ctx context.Context, task TaskID, user UserID) (bool, error)

	// CompletedTaskIDs lists the tasks the user has been credited for.
	CompletedTaskIDs(ctx context.Context, user UserID) ([]TaskID, error)

	// ListUncredited returns completion rows without credit that sort
	// after the cursor, in (completed_at, task_id, user_id) order.
	ListUncredited(ctx context.Context, after RecoveryCursor, limit int) ([]Completion, error)

	// EntryByKey finds the entry holding an idempotency key.
	EntryByKey(ctx context.Context, key string) (Entry, error)

	// ListEntries returns a user's entries, newest first.
	ListEntries(ctx context.Context, user UserID, limit int) ([]Entry, error)

	Close() error
}

// RecoveryCursor positions a scan of uncredited completions. The zero
// value starts at the oldest row.
type RecoveryCursor struct {
	CompletedAt time.Time
	TaskID      TaskID
	UserID      UserID
}

// CursorAt returns the cursor positioned on c.
func CursorAt(c Completion) RecoveryCursor {
	return RecoveryCursor{CompletedAt: c.CompletedAt, TaskID: c.TaskID, UserID: c.UserID}
}

func (r RecoveryCursor) IsZero() bool {
	return r.CompletedAt.IsZero() && r.TaskID == "" && r.UserID == ""
}

// Precedes reports whether c sorts strictly after the cursor.
func (r RecoveryCursor) Precedes(c Completion) bool {
	if r.IsZero() {
		return true
	}
	if !c.CompletedAt.Equal(r.CompletedAt) {
		return c.CompletedAt.After(r.CompletedAt)
	}
	if c.TaskID != r.TaskID {
		return c.TaskID > r.TaskID
	}
	return c.UserID > r.UserID
}
