package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hypehub/task-escrow/catalog"
	"github.com/hypehub/task-escrow/escrow"
	"github.com/hypehub/task-escrow/escrow/storetest"
	"github.com/hypehub/task-escrow/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T, driver string) *sqlite.Store {
	store, err := sqlite.Open(":memory:", driver)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConformance_CGODriver(t *testing.T) {
	storetest.Run(t, func(t *testing.T) escrow.Store {
		return newTestStore(t, sqlite.DriverCGO)
	})
}

func TestConformance_PureGoDriver(t *testing.T) {
	storetest.Run(t, func(t *testing.T) escrow.Store {
		return newTestStore(t, sqlite.DriverPureGo)
	})
}

func TestConformance_FileDatabase(t *testing.T) {
	storetest.Run(t, func(t *testing.T) escrow.Store {
		store, err := sqlite.New(filepath.Join(t.TempDir(), "escrow.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := sqlite.Open(":memory:", "postgres")
	assert.Error(t, err)
}

func TestReopen_KeepsCommittedState(t *testing.T) {
	// GIVEN: A file database with one funded user and one task
	path := filepath.Join(t.TempDir(), "escrow.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)

	ctx := context.Background()
	created := time.Date(2025, time.June, 1, 9, 30, 0, 123456789, time.UTC)
	err = store.WithTx(ctx, func(tx escrow.Tx) error {
		if _, err := tx.CreateUser(ctx, escrow.User{ID: "alice", CreatedAt: created}); err != nil {
			return err
		}
		if _, err := tx.Credit(ctx, "alice", 500); err != nil {
			return err
		}
		return tx.InsertTask(ctx, escrow.Task{
			ID: "t1", CreatorID: "alice", Platform: "discord", Action: "join",
			Title: "Join", Description: "Join the server", URL: "https://discord.gg/x",
			Reward: 100, CreatedAt: created,
		})
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// WHEN: The database is reopened with the pure-Go driver
	reopened, err := sqlite.Open(path, sqlite.DriverPureGo)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	// THEN: Balances, tasks and nanosecond timestamps survive
	u, err := reopened.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), u.Points)
	assert.True(t, created.Equal(u.CreatedAt))

	task, err := reopened.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), task.Reward)
	assert.True(t, created.Equal(task.CreatedAt))
}

func TestInsertCompletion_UnknownTask(t *testing.T) {
	store := newTestStore(t, sqlite.DriverCGO)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx escrow.Tx) error {
		return tx.InsertCompletion(ctx, escrow.Completion{TaskID: "ghost", UserID: "bob", Reward: 10, CompletedAt: time.Now()})
	})
	assert.ErrorIs(t, err, escrow.ErrTaskNotFound)
}

func TestTwoHandles_WritersWaitForTheLock(t *testing.T) {
	// GIVEN: Two stores opened on the same database file, as with
	// "escrowd serve" and "escrowd recover" running side by side
	path := filepath.Join(t.TempDir(), "escrow.db")
	first, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	second, err := sqlite.Open(path, sqlite.DriverCGO)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	ctx := context.Background()
	const users = 40
	err = first.WithTx(ctx, func(tx escrow.Tx) error {
		if _, err := tx.CreateUser(ctx, escrow.User{ID: "alice", CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
		if _, err := tx.Credit(ctx, "alice", 10000); err != nil {
			return err
		}
		for i := 0; i < users; i++ {
			id := escrow.UserID(fmt.Sprintf("user-%02d", i))
			if _, err := tx.CreateUser(ctx, escrow.User{ID: id, CreatedAt: time.Now().UTC()}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	engines := []*escrow.Engine{
		escrow.NewEngine(first, catalog.Default(), escrow.Options{}),
		escrow.NewEngine(second, catalog.Default(), escrow.Options{}),
	}
	created, err := engines[0].CreateTask(ctx, escrow.CreateTaskRequest{
		CreatorID: "alice", Platform: "twitter", Action: "follow",
		Title: "Follow", Description: "Follow @example", URL: "https://x.com/example",
		Reward: 100,
	})
	require.NoError(t, err)

	// WHEN: Distinct users complete the task through both handles at once
	var wg sync.WaitGroup
	errs := make([]error, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := escrow.UserID(fmt.Sprintf("user-%02d", i))
			_, errs[i] = engines[i%2].CompleteTask(ctx, created.Task.ID, id)
		}(i)
	}
	wg.Wait()

	// THEN: Every completion commits; none fails on SQLITE_BUSY
	for i, err := range errs {
		assert.NoError(t, err, "user-%02d", i)
	}
	task, err := second.GetTask(ctx, created.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(users), task.CompletionCount)
}
