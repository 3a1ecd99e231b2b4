// Package storetest is the conformance suite every escrow.Store runs.
//
//	func TestConformance(t *testing.T) {
//		storetest.Run(t, func(t *testing.T) escrow.Store { return newTestStore(t) })
//	}
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hypehub/task-escrow/escrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The factory owns cleanup.
type Factory func(t *testing.T) escrow.Store

var base = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

var errRollback = errors.New("rollback")

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s escrow.Store)
	}{
		{"CreateUserIsInsertIfAbsent", testCreateUser},
		{"DebitIsConditional", testDebit},
		{"CreditAndUnknownUser", testCredit},
		{"TaskRoundTrip", testTaskRoundTrip},
		{"CompletionUniqueness", testCompletionUniqueness},
		{"MarkCreditedOnce", testMarkCredited},
		{"EntryIdempotencyKey", testEntries},
		{"RollbackUndoesEverything", testRollback},
		{"ListTasksOrderAndFilter", testListTasks},
		{"UncreditedScan", testUncredited},
		{"ConcurrentDebits", testConcurrentDebits},
		{"ConcurrentIncrements", testConcurrentIncrements},
		{"ConcurrentCompletionInserts", testConcurrentCompletionInserts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func withTx(t *testing.T, s escrow.Store, fn func(ctx context.Context, tx escrow.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	return s.WithTx(ctx, func(tx escrow.Tx) error { return fn(ctx, tx) })
}

func seedUser(t *testing.T, s escrow.Store, id escrow.UserID, points int64) {
	t.Helper()
	err := withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		if _, err := tx.CreateUser(ctx, escrow.User{ID: id, CreatedAt: base}); err != nil {
			return err
		}
		if points > 0 {
			_, err := tx.Credit(ctx, id, points)
			return err
		}
		return nil
	})
	require.NoError(t, err)
}

func newTask(id string, reward int64, official bool, at time.Time) escrow.Task {
	return escrow.Task{
		ID:          escrow.TaskID(id),
		CreatorID:   "creator",
		Platform:    "twitter",
		Action:      "follow",
		Title:       "Follow " + id,
		Description: "Follow the account",
		URL:         "https://x.com/" + id,
		Reward:      reward,
		IsOfficial:  official,
		CreatedAt:   at,
	}
}

func seedTask(t *testing.T, s escrow.Store, task escrow.Task) {
	t.Helper()
	require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		return tx.InsertTask(ctx, task)
	}))
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func testCreateUser(t *testing.T, s escrow.Store) {
	var first, second bool
	err := withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		var err error
		first, err = tx.CreateUser(ctx, escrow.User{ID: "alice", CreatedAt: base})
		if err != nil {
			return err
		}
		second, err = tx.CreateUser(ctx, escrow.User{ID: "alice", Points: 999, CreatedAt: base})
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	u, err := s.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.Points, "second insert must not overwrite")
	assert.True(t, base.Equal(u.CreatedAt))

	_, err = s.GetUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, escrow.ErrUserNotFound)
}

func testDebit(t *testing.T, s escrow.Store) {
	seedUser(t, s, "alice", 100)

	var after int64
	require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		var err error
		after, err = tx.Debit(ctx, "alice", 100)
		return err
	}))
	assert.Equal(t, int64(0), after, "debiting the whole balance leaves zero")

	err := withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		_, err := tx.Debit(ctx, "alice", 1)
		return err
	})
	var ib *escrow.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, int64(0), ib.Available)
	assert.Equal(t, int64(1), ib.Requested)
	assert.Equal(t, int64(1), ib.Shortfall)

	err = withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		_, err := tx.Debit(ctx, "nobody", 1)
		return err
	})
	assert.ErrorIs(t, err, escrow.ErrUserNotFound)

	u, err := s.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.Points)
}

func testCredit(t *testing.T, s escrow.Store) {
	seedUser(t, s, "bob", 10)

	var after, balance int64
	require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		var err error
		if after, err = tx.Credit(ctx, "bob", 15); err != nil {
			return err
		}
		balance, err = tx.Balance(ctx, "bob")
		return err
	}))
	assert.Equal(t, int64(25), after)
	assert.Equal(t, int64(25), balance)

	err := withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		_, err := tx.Credit(ctx, "nobody", 1)
		return err
	})
	assert.ErrorIs(t, err, escrow.ErrUserNotFound)
}

// =============================================================================
// TASKS & COMPLETIONS
// =============================================================================

func testTaskRoundTrip(t *testing.T, s escrow.Store) {
	task := newTask("t1", 50, false, base)
	seedTask(t, s, task)

	got, err := s.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, task.CreatorID, got.CreatorID)
	assert.Equal(t, task.URL, got.URL)
	assert.Equal(t, int64(50), got.Reward)
	assert.Equal(t, int64(0), got.CompletionCount)
	assert.False(t, got.IsOfficial)
	assert.True(t, base.Equal(got.CreatedAt))

	err = withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		return tx.InsertTask(ctx, task)
	})
	assert.ErrorIs(t, err, escrow.ErrDuplicateTask)

	_, err = s.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, escrow.ErrTaskNotFound)

	var count int64
	require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		var err error
		count, err = tx.IncrementCompletions(ctx, "t1")
		return err
	}))
	assert.Equal(t, int64(1), count)
}

func testCompletionUniqueness(t *testing.T, s escrow.Store) {
	seedTask(t, s, newTask("t1", 50, false, base))
	c := escrow.Completion{TaskID: "t1", UserID: "bob", Reward: 50, CompletedAt: base}

	require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		return tx.InsertCompletion(ctx, c)
	}))

	err := withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		return tx.InsertCompletion(ctx, c)
	})
	assert.ErrorIs(t, err, escrow.ErrDuplicateCompletion)

	require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		return tx.InsertCompletion(ctx, escrow.Completion{TaskID: "t1", UserID: "carol", Reward: 50, CompletedAt: base})
	}), "another user on the same task is independent")

	var got escrow.Completion
	require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		var err error
		got, err = tx.GetCompletion(ctx, "t1", "bob")
		return err
	}))
	assert.Equal(t, int64(50), got.Reward)
	assert.False(t, got.Credited())

	err = withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		_, err := tx.GetCompletion(ctx, "t1", "dave")
		return err
	})
	assert.ErrorIs(t, err, escrow.ErrCompletionNotFound)
}

func testMarkCredited(t *testing.T, s escrow.Store) {
	seedTask(t, s, newTask("t1", 50, false, base))
	require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		return tx.InsertCompletion(ctx, escrow.Completion{TaskID: "t1", UserID: "bob", Reward: 50, CompletedAt: base})
	}))

	done, err := s.IsCompleted(context.Background(), "t1", "bob")
	require.NoError(t, err)
	assert.False(t, done, "uncredited rows are not reported as completed")

	var first, second bool
	require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		var err error
		if first, err = tx.MarkCredited(ctx, "t1", "bob", base.Add(time.Second)); err != nil {
			return err
		}
		second, err = tx.MarkCredited(ctx, "t1", "bob", base.Add(2*time.Second))
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	done, err = s.IsCompleted(context.Background(), "t1", "bob")
	require.NoError(t, err)
	assert.True(t, done)

	ids, err := s.CompletedTaskIDs(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []escrow.TaskID{"t1"}, ids)

	var missing bool
	require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		var err error
		missing, err = tx.MarkCredited(ctx, "t1", "nobody", base)
		return err
	}))
	assert.False(t, missing)
}

// =============================================================================
// ENTRIES
// =============================================================================

func testEntries(t *testing.T, s escrow.Store) {
	seedUser(t, s, "alice", 0)
	for i := 1; i <= 3; i++ {
		e := escrow.Entry{
			ID:             fmt.Sprintf("e%d", i),
			UserID:         "alice",
			Kind:           escrow.EntryPurchase,
			Amount:         int64(i * 100),
			IdempotencyKey: fmt.Sprintf("purchase:alice:ref-%d", i),
			BalanceAfter:   int64(i * 100),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
			return tx.AppendEntry(ctx, e)
		}))
	}

	err := withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		return tx.AppendEntry(ctx, escrow.Entry{
			ID: "e4", UserID: "alice", Kind: escrow.EntryPurchase, Amount: 1,
			IdempotencyKey: "purchase:alice:ref-1", CreatedAt: base,
		})
	})
	assert.ErrorIs(t, err, escrow.ErrDuplicateIdempotencyKey)

	e, err := s.EntryByKey(context.Background(), "purchase:alice:ref-2")
	require.NoError(t, err)
	assert.Equal(t, "e2", e.ID)
	assert.Equal(t, int64(200), e.Amount)
	assert.Equal(t, escrow.EntryPurchase, e.Kind)

	_, err = s.EntryByKey(context.Background(), "nope")
	assert.ErrorIs(t, err, escrow.ErrEntryNotFound)

	list, err := s.ListEntries(context.Background(), "alice", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e3", list[0].ID)
	assert.Equal(t, "e2", list[1].ID)
}

// =============================================================================
// ATOMICITY
// =============================================================================

func testRollback(t *testing.T, s escrow.Store) {
	seedUser(t, s, "alice", 100)

	err := withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		if _, err := tx.Debit(ctx, "alice", 60); err != nil {
			return err
		}
		if err := tx.InsertTask(ctx, newTask("t1", 60, false, base)); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, escrow.Entry{
			ID: "e1", UserID: "alice", Kind: escrow.EntryTaskFunding, Amount: -60,
			TaskID: "t1", IdempotencyKey: "fund:t1", BalanceAfter: 40, CreatedAt: base,
		}); err != nil {
			return err
		}
		return errRollback
	})
	require.ErrorIs(t, err, errRollback)

	u, err := s.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Points)

	_, err = s.GetTask(context.Background(), "t1")
	assert.ErrorIs(t, err, escrow.ErrTaskNotFound)

	_, err = s.EntryByKey(context.Background(), "fund:t1")
	assert.ErrorIs(t, err, escrow.ErrEntryNotFound)
}

// =============================================================================
// QUERIES
// =============================================================================

func testListTasks(t *testing.T, s escrow.Store) {
	seedTask(t, s, newTask("low-old", 20, false, base))
	seedTask(t, s, newTask("low-new", 20, false, base.Add(time.Hour)))
	seedTask(t, s, newTask("high", 90, false, base))
	seedTask(t, s, newTask("official", 10, true, base))
	yt := newTask("youtube", 50, false, base)
	yt.Platform = "youtube"
	yt.Action = "subscribe"
	yt.CreatorID = "other"
	seedTask(t, s, yt)

	ctx := context.Background()
	ids := func(tasks []escrow.Task) []escrow.TaskID {
		out := make([]escrow.TaskID, len(tasks))
		for i, task := range tasks {
			out[i] = task.ID
		}
		return out
	}

	all, err := s.ListTasks(ctx, escrow.TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, []escrow.TaskID{"official", "high", "youtube", "low-new", "low-old"}, ids(all))

	page, err := s.ListTasks(ctx, escrow.TaskFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []escrow.TaskID{"high", "youtube"}, ids(page))

	yes := true
	official, err := s.ListTasks(ctx, escrow.TaskFilter{Official: &yes})
	require.NoError(t, err)
	assert.Equal(t, []escrow.TaskID{"official"}, ids(official))

	byPlatform, err := s.ListTasks(ctx, escrow.TaskFilter{Platform: "youtube"})
	require.NoError(t, err)
	assert.Equal(t, []escrow.TaskID{"youtube"}, ids(byPlatform))

	byCreator, err := s.ListTasks(ctx, escrow.TaskFilter{CreatorID: "other"})
	require.NoError(t, err)
	assert.Equal(t, []escrow.TaskID{"youtube"}, ids(byCreator))

	beyond, err := s.ListTasks(ctx, escrow.TaskFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func testUncredited(t *testing.T, s escrow.Store) {
	seedTask(t, s, newTask("t1", 50, false, base))
	insert := func(user escrow.UserID, at time.Time) {
		require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
			return tx.InsertCompletion(ctx, escrow.Completion{TaskID: "t1", UserID: user, Reward: 50, CompletedAt: at})
		}))
	}
	insert("late", base.Add(2*time.Minute))
	insert("early", base)
	insert("settled", base.Add(time.Minute))
	require.NoError(t, withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
		_, err := tx.MarkCredited(ctx, "t1", "settled", base)
		return err
	}))

	rows, err := s.ListUncredited(context.Background(), escrow.RecoveryCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, escrow.UserID("early"), rows[0].UserID)
	assert.Equal(t, escrow.UserID("late"), rows[1].UserID)
	assert.Equal(t, int64(50), rows[0].Reward)

	rows, err = s.ListUncredited(context.Background(), escrow.RecoveryCursor{}, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Resuming after the first row skips it.
	rows, err = s.ListUncredited(context.Background(), escrow.CursorAt(rows[0]), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, escrow.UserID("late"), rows[0].UserID)

	rows, err = s.ListUncredited(context.Background(), escrow.CursorAt(rows[0]), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func testConcurrentDebits(t *testing.T, s escrow.Store) {
	seedUser(t, s, "alice", 200)

	const workers = 50
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
				_, err := tx.Debit(ctx, "alice", 10)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, escrow.ErrInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, ok)
	assert.Equal(t, 30, rejected)
	u, err := s.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.Points)
}

func testConcurrentIncrements(t *testing.T, s escrow.Store) {
	seedTask(t, s, newTask("t1", 50, false, base))

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
				_, err := tx.IncrementCompletions(ctx, "t1")
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	task, err := s.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), task.CompletionCount)
}

func testConcurrentCompletionInserts(t *testing.T, s escrow.Store) {
	seedTask(t, s, newTask("t1", 50, false, base))

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		inserted  int
		duplicate int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := withTx(t, s, func(ctx context.Context, tx escrow.Tx) error {
				return tx.InsertCompletion(ctx, escrow.Completion{TaskID: "t1", UserID: "bob", Reward: 50, CompletedAt: base})
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				inserted++
			case errors.Is(err, escrow.ErrDuplicateCompletion):
				duplicate++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	assert.Equal(t, workers-1, duplicate)
}
