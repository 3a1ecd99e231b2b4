// Package store provides the in-memory escrow.Store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hypehub/task-escrow/escrow"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes every transaction behind one mutex. A transaction
// writes in place; on error the snapshot taken at its start is restored.
type Memory struct {
	mu          sync.Mutex
	users       map[escrow.UserID]escrow.User
	tasks       map[escrow.TaskID]escrow.Task
	completions map[completionKey]escrow.Completion
	entries     []escrow.Entry
	keys        map[string]int // idempotency key -> index in entries
	closed      bool
}

type completionKey struct {
	task escrow.TaskID
	user escrow.UserID
}

var _ escrow.Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[escrow.UserID]escrow.User),
		tasks:       make(map[escrow.TaskID]escrow.Task),
		completions: make(map[completionKey]escrow.Completion),
		keys:        make(map[string]int),
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(escrow.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:       make(map[escrow.UserID]escrow.User, len(m.users)),
		tasks:       make(map[escrow.TaskID]escrow.Task, len(m.tasks)),
		completions: make(map[completionKey]escrow.Completion, len(m.completions)),
		entries:     append([]escrow.Entry(nil), m.entries...),
		keys:        make(map[string]int, len(m.keys)),
	}
	for k, v := range m.users {
		s.users[k] = v
	}
	for k, v := range m.tasks {
		s.tasks[k] = v
	}
	for k, v := range m.completions {
		s.completions[k] = v
	}
	for k, v := range m.keys {
		s.keys[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.users = s.users
	m.tasks = s.tasks
	m.completions = s.completions
	m.entries = s.entries
	m.keys = s.keys
}

type memorySnapshot struct {
	users       map[escrow.UserID]escrow.User
	tasks       map[escrow.TaskID]escrow.Task
	completions map[completionKey]escrow.Completion
	entries     []escrow.Entry
	keys        map[string]int
}

// =============================================================================
// COMMITTED READS
// =============================================================================

func (m *Memory) GetUser(_ context.Context, id escrow.UserID) (escrow.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return escrow.User{}, escrow.ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) GetTask(_ context.Context, id escrow.TaskID) (escrow.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return escrow.Task{}, escrow.ErrTaskNotFound
	}
	return t, nil
}

func (m *Memory) ListTasks(_ context.Context, filter escrow.TaskFilter) ([]escrow.Task, error) {
	filter = filter.Normalize()

	m.mu.Lock()
	out := make([]escrow.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return escrow.TaskLess(out[i], out[j]) })
	if filter.Offset >= len(out) {
		return []escrow.Task{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) IsCompleted(_ context.Context, task escrow.TaskID, user escrow.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.completions[completionKey{task: task, user: user}]
	return ok && c.Credited(), nil
}

func (m *Memory) CompletedTaskIDs(_ context.Context, user escrow.UserID) ([]escrow.TaskID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []escrow.TaskID
	for k, c := range m.completions {
		if k.user == user && c.Credited() {
			ids = append(ids, k.task)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) ListUncredited(_ context.Context, after escrow.RecoveryCursor, limit int) ([]escrow.Completion, error) {
	m.mu.Lock()
	var out []escrow.Completion
	for _, c := range m.completions {
		if !c.Credited() && after.Precedes(c) {
			out = append(out, c)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.Before(out[j].CompletedAt)
		}
		if out[i].TaskID != out[j].TaskID {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) EntryByKey(_ context.Context, key string) (escrow.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.keys[key]
	if !ok {
		return escrow.Entry{}, escrow.ErrEntryNotFound
	}
	return m.entries[i], nil
}

func (m *Memory) ListEntries(_ context.Context, user escrow.UserID, limit int) ([]escrow.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []escrow.Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].UserID != user {
			continue
		}
		out = append(out, m.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// =============================================================================
// TRANSACTION VIEW - Runs with Memory.mu held
// =============================================================================

type memTx struct {
	m *Memory
}

func (tx *memTx) CreateUser(_ context.Context, u escrow.User) (bool, error) {
	if _, ok := tx.m.users[u.ID]; ok {
		return false, nil
	}
	if u.Points < 0 {
		return false, &escrow.ValidationError{Field: "points", Message: "must not be negative"}
	}
	tx.m.users[u.ID] = u
	return true, nil
}

func (tx *memTx) Balance(_ context.Context, id escrow.UserID) (int64, error) {
	u, ok := tx.m.users[id]
	if !ok {
		return 0, escrow.ErrUserNotFound
	}
	return u.Points, nil
}

func (tx *memTx) Debit(_ context.Context, id escrow.UserID, amount int64) (int64, error) {
	u, ok := tx.m.users[id]
	if !ok {
		return 0, escrow.ErrUserNotFound
	}
	if u.Points < amount {
		return 0, escrow.NewInsufficientBalance(id, u.Points, amount)
	}
	u.Points -= amount
	tx.m.users[id] = u
	return u.Points, nil
}

func (tx *memTx) Credit(_ context.Context, id escrow.UserID, amount int64) (int64, error) {
	u, ok := tx.m.users[id]
	if !ok {
		return 0, escrow.ErrUserNotFound
	}
	u.Points += amount
	tx.m.users[id] = u
	return u.Points, nil
}

func (tx *memTx) InsertTask(_ context.Context, t escrow.Task) error {
	if _, ok := tx.m.tasks[t.ID]; ok {
		return escrow.ErrDuplicateTask
	}
	tx.m.tasks[t.ID] = t
	return nil
}

func (tx *memTx) GetTask(_ context.Context, id escrow.TaskID) (escrow.Task, error) {
	t, ok := tx.m.tasks[id]
	if !ok {
		return escrow.Task{}, escrow.ErrTaskNotFound
	}
	return t, nil
}

func (tx *memTx) IncrementCompletions(_ context.Context, id escrow.TaskID) (int64, error) {
	t, ok := tx.m.tasks[id]
	if !ok {
		return 0, escrow.ErrTaskNotFound
	}
	t.CompletionCount++
	tx.m.tasks[id] = t
	return t.CompletionCount, nil
}

func (tx *memTx) InsertCompletion(_ context.Context, c escrow.Completion) error {
	if _, ok := tx.m.tasks[c.TaskID]; !ok {
		return escrow.ErrTaskNotFound
	}
	k := completionKey{task: c.TaskID, user: c.UserID}
	if _, ok := tx.m.completions[k]; ok {
		return escrow.ErrDuplicateCompletion
	}
	tx.m.completions[k] = c
	return nil
}

func (tx *memTx) GetCompletion(_ context.Context, task escrow.TaskID, user escrow.UserID) (escrow.Completion, error) {
	c, ok := tx.m.completions[completionKey{task: task, user: user}]
	if !ok {
		return escrow.Completion{}, escrow.ErrCompletionNotFound
	}
	return c, nil
}

func (tx *memTx) MarkCredited(_ context.Context, task escrow.TaskID, user escrow.UserID, at time.Time) (bool, error) {
	k := completionKey{task: task, user: user}
	c, ok := tx.m.completions[k]
	if !ok || c.Credited() {
		return false, nil
	}
	c.CreditedAt = &at
	tx.m.completions[k] = c
	return true, nil
}

func (tx *memTx) AppendEntry(_ context.Context, e escrow.Entry) error {
	if _, ok := tx.m.keys[e.IdempotencyKey]; ok {
		return escrow.ErrDuplicateIdempotencyKey
	}
	tx.m.entries = append(tx.m.entries, e)
	tx.m.keys[e.IdempotencyKey] = len(tx.m.entries) - 1
	return nil
}
