package escrow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hypehub/task-escrow/catalog"
	"github.com/hypehub/task-escrow/escrow"
	"github.com/hypehub/task-escrow/escrow/store"
	"github.com/hypehub/task-escrow/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type storeFactory struct {
	name string
	new  func(t *testing.T) escrow.Store
}

var storeFactories = []storeFactory{
	{"memory", func(t *testing.T) escrow.Store {
		m := store.NewMemory()
		t.Cleanup(func() { m.Close() })
		return m
	}},
	{"sqlite", func(t *testing.T) escrow.Store {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

// forEachStore runs fn once per store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, newStore func(t *testing.T) escrow.Store)) {
	for _, f := range storeFactories {
		t.Run(f.name, func(t *testing.T) { fn(t, f.new) })
	}
}

// clock returns strictly increasing timestamps, one second apart.
func clock() func() time.Time {
	var tick atomic.Int64
	start := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		return start.Add(time.Duration(tick.Add(1)) * time.Second)
	}
}

func newTestEngine(t *testing.T, s escrow.Store, opts escrow.Options) *escrow.Engine {
	t.Helper()
	if opts.Now == nil {
		opts.Now = clock()
	}
	return escrow.NewEngine(s, catalog.Default(), opts)
}

// fund creates the user with the given balance, bypassing the ledger.
func fund(t *testing.T, s escrow.Store, user escrow.UserID, points int64) {
	t.Helper()
	ctx := context.Background()
	err := s.WithTx(ctx, func(tx escrow.Tx) error {
		if _, err := tx.CreateUser(ctx, escrow.User{ID: user, CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
		if points == 0 {
			return nil
		}
		_, err := tx.Credit(ctx, user, points)
		return err
	})
	require.NoError(t, err)
}

func points(t *testing.T, s escrow.Store, user escrow.UserID) int64 {
	t.Helper()
	u, err := s.GetUser(context.Background(), user)
	require.NoError(t, err)
	return u.Points
}

func followTask(creator escrow.UserID, reward int64) escrow.CreateTaskRequest {
	return escrow.CreateTaskRequest{
		CreatorID:   creator,
		Platform:    "twitter",
		Action:      "follow",
		Title:       "Follow my account",
		Description: "Follow @example on X",
		URL:         "https://x.com/example",
		Reward:      reward,
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenario_CreateCompleteRetry(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func(t *testing.T) escrow.Store) {
		// GIVEN: A has 1000 points, B has 0
		s := newStore(t)
		e := newTestEngine(t, s, escrow.Options{})
		ctx := context.Background()
		fund(t, s, "A", 1000)
		fund(t, s, "B", 0)

		// WHEN: A creates a task with reward 200
		created, err := e.CreateTask(ctx, followTask("A", 200))
		require.NoError(t, err)

		// THEN: A is debited and the task starts at zero completions
		assert.Equal(t, int64(800), created.Balance)
		assert.Equal(t, int64(800), points(t, s, "A"))
		assert.Equal(t, int64(0), created.Task.CompletionCount)

		// WHEN: B completes it
		res, err := e.CompleteTask(ctx, created.Task.ID, "B")
		require.NoError(t, err)

		// THEN: B is credited once and the counter moves
		assert.Equal(t, escrow.OutcomeCredited, res.Outcome)
		assert.Equal(t, int64(200), res.Amount)
		assert.Equal(t, int64(200), res.Balance)
		assert.Equal(t, int64(1), res.CompletionCount)
		assert.Equal(t, int64(200), points(t, s, "B"))

		task, err := e.GetTask(ctx, created.Task.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), task.CompletionCount)

		done, err := e.CompletionStatus(ctx, created.Task.ID, "B")
		require.NoError(t, err)
		assert.True(t, done)

		// WHEN: B retries
		again, err := e.CompleteTask(ctx, created.Task.ID, "B")

		// THEN: Informational outcome, nothing changes
		require.NoError(t, err)
		assert.Equal(t, escrow.OutcomeAlreadyCompleted, again.Outcome)
		assert.Equal(t, int64(0), again.Amount)
		assert.Equal(t, int64(200), again.Balance)
		assert.Equal(t, int64(1), again.CompletionCount)
		assert.Equal(t, int64(200), points(t, s, "B"))
		assert.Equal(t, int64(800), points(t, s, "A"))
	})
}

func TestListTasks_RoundTripAndOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func(t *testing.T) escrow.Store) {
		s := newStore(t)
		e := newTestEngine(t, s, escrow.Options{})
		ctx := context.Background()
		fund(t, s, "A", 10000)
		fund(t, s, "B", 0)

		low1, err := e.CreateTask(ctx, followTask("A", 30))
		require.NoError(t, err)
		high, err := e.CreateTask(ctx, followTask("A", 300))
		require.NoError(t, err)
		low2, err := e.CreateTask(ctx, followTask("A", 30))
		require.NoError(t, err)
		official, err := e.CreateOfficialTask(ctx, escrow.OfficialTaskRequest{
			Platform: "discord", Action: "join", Title: "Join us",
			Description: "Join the community server", URL: "https://discord.gg/example", Reward: 100,
		})
		require.NoError(t, err)

		tasks, err := e.ListTasks(ctx, escrow.TaskFilter{})
		require.NoError(t, err)
		require.Len(t, tasks, 4)
		assert.Equal(t, official.ID, tasks[0].ID, "official first")
		assert.Equal(t, high.Task.ID, tasks[1].ID, "then reward descending")
		assert.Equal(t, low2.Task.ID, tasks[2].ID, "then newest first")
		assert.Equal(t, low1.Task.ID, tasks[3].ID)
		for _, task := range tasks {
			assert.Equal(t, int64(0), task.CompletionCount)
		}

		_, err = e.CompleteTask(ctx, high.Task.ID, "B")
		require.NoError(t, err)

		views, err := e.ListTasksFor(ctx, escrow.TaskFilter{}, "B")
		require.NoError(t, err)
		require.Len(t, views, 4)
		assert.True(t, views[1].Completed)
		assert.Equal(t, int64(1), views[1].CompletionCount)
		assert.False(t, views[0].Completed)
		assert.False(t, views[2].Completed)
	})
}

// =============================================================================
// REWARD POLICY BOUNDARIES
// =============================================================================

func TestCreateTask_Boundaries(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func(t *testing.T) escrow.Store) {
		ctx := context.Background()

		t.Run("reward equal to minimum succeeds", func(t *testing.T) {
			s := newStore(t)
			e := newTestEngine(t, s, escrow.Options{})
			fund(t, s, "A", 100)
			_, err := e.CreateTask(ctx, followTask("A", 25))
			require.NoError(t, err)
			assert.Equal(t, int64(75), points(t, s, "A"))
		})

		t.Run("reward one below minimum fails", func(t *testing.T) {
			s := newStore(t)
			e := newTestEngine(t, s, escrow.Options{})
			fund(t, s, "A", 100)
			_, err := e.CreateTask(ctx, followTask("A", 24))
			var below *escrow.BelowMinimumError
			require.ErrorAs(t, err, &below)
			assert.Equal(t, int64(25), below.Minimum)
			assert.Equal(t, int64(100), points(t, s, "A"))
		})

		t.Run("reward equal to balance leaves zero", func(t *testing.T) {
			s := newStore(t)
			e := newTestEngine(t, s, escrow.Options{})
			fund(t, s, "A", 100)
			res, err := e.CreateTask(ctx, followTask("A", 100))
			require.NoError(t, err)
			assert.Equal(t, int64(0), res.Balance)
			assert.Equal(t, int64(0), points(t, s, "A"))
		})

		t.Run("reward one above balance fails with shortfall", func(t *testing.T) {
			s := newStore(t)
			e := newTestEngine(t, s, escrow.Options{})
			fund(t, s, "A", 100)
			_, err := e.CreateTask(ctx, followTask("A", 101))
			var ib *escrow.InsufficientBalanceError
			require.ErrorAs(t, err, &ib)
			assert.Equal(t, int64(1), ib.Shortfall)
			assert.Equal(t, int64(100), ib.Available)
			assert.Equal(t, escrow.UserID("A"), ib.UserID)
			assert.Equal(t, int64(100), points(t, s, "A"))

			tasks, err := e.ListTasks(ctx, escrow.TaskFilter{})
			require.NoError(t, err)
			assert.Empty(t, tasks)
		})
	})
}

func TestRewardPolicy_CheckOrder(t *testing.T) {
	p := escrow.NewRewardPolicy(catalog.Default())

	// Unknown action wins over everything else
	err := p.Validate("twitter", "subscribe", 1, 0)
	assert.ErrorIs(t, err, escrow.ErrUnknownAction)

	// Below minimum is checked before the balance
	err = p.Validate("youtube", "subscribe", 10, 0)
	assert.ErrorIs(t, err, escrow.ErrBelowMinimum)

	err = p.Validate("youtube", "subscribe", 60, 59)
	assert.ErrorIs(t, err, escrow.ErrInsufficientBalance)

	assert.NoError(t, p.Validate("youtube", "subscribe", 60, 60))
}

func TestRewardPolicy_Range(t *testing.T) {
	p := escrow.NewRewardPolicy(catalog.Default())

	r, err := p.Range("discord", "join", 1000)
	require.NoError(t, err)
	assert.Equal(t, escrow.RewardRange{Min: 75, Default: 100, Max: 1000, Affordable: true}, r)

	r, err = p.Range("discord", "join", 80)
	require.NoError(t, err)
	assert.Equal(t, int64(80), r.Default, "default is capped at the balance")
	assert.True(t, r.Affordable)

	r, err = p.Range("discord", "join", 10)
	require.NoError(t, err)
	assert.False(t, r.Affordable)
	assert.Equal(t, int64(75), r.Default)

	_, err = p.Range("discord", "like", 10)
	assert.ErrorIs(t, err, escrow.ErrUnknownAction)
}

func TestCreateTask_ValidationIsFieldSpecific(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(t, s, escrow.Options{})
	fund(t, s, "A", 1000)
	ctx := context.Background()

	tests := []struct {
		field  string
		mutate func(r *escrow.CreateTaskRequest)
	}{
		{"creator_id", func(r *escrow.CreateTaskRequest) { r.CreatorID = "" }},
		{"title", func(r *escrow.CreateTaskRequest) { r.Title = "   " }},
		{"description", func(r *escrow.CreateTaskRequest) { r.Description = "" }},
		{"url", func(r *escrow.CreateTaskRequest) { r.URL = "" }},
		{"url", func(r *escrow.CreateTaskRequest) { r.URL = "ftp://example.com/file" }},
		{"url", func(r *escrow.CreateTaskRequest) { r.URL = "not a url" }},
		{"reward", func(r *escrow.CreateTaskRequest) { r.Reward = 0 }},
		{"reward", func(r *escrow.CreateTaskRequest) { r.Reward = -5 }},
	}

	for _, tt := range tests {
		req := followTask("A", 50)
		tt.mutate(&req)
		_, err := e.CreateTask(ctx, req)

		var ve *escrow.ValidationError
		require.ErrorAs(t, err, &ve, "field %s", tt.field)
		assert.Equal(t, tt.field, ve.Field)
		assert.True(t, escrow.IsClientError(err))
	}
	assert.Equal(t, int64(1000), points(t, s, "A"))
}

func TestCreateTask_UnknownActionAndUser(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(t, s, escrow.Options{})
	fund(t, s, "A", 1000)
	ctx := context.Background()

	req := followTask("A", 50)
	req.Platform = "myspace"
	_, err := e.CreateTask(ctx, req)
	var ua *escrow.UnknownActionError
	require.ErrorAs(t, err, &ua)
	assert.Equal(t, "myspace", ua.Platform)

	_, err = e.CreateTask(ctx, followTask("ghost", 50))
	assert.ErrorIs(t, err, escrow.ErrUserNotFound)
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestCompleteTask_SelfCompletionRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func(t *testing.T) escrow.Store) {
		s := newStore(t)
		e := newTestEngine(t, s, escrow.Options{})
		ctx := context.Background()
		fund(t, s, "A", 500)

		created, err := e.CreateTask(ctx, followTask("A", 100))
		require.NoError(t, err)

		_, err = e.CompleteTask(ctx, created.Task.ID, "A")
		assert.ErrorIs(t, err, escrow.ErrSelfCompletion)
		assert.Equal(t, int64(400), points(t, s, "A"))

		task, err := e.GetTask(ctx, created.Task.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), task.CompletionCount)

		done, err := e.CompletionStatus(ctx, created.Task.ID, "A")
		require.NoError(t, err)
		assert.False(t, done)
	})
}

func TestCompleteTask_OfficialTaskOpenToEveryone(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(t, s, escrow.Options{})
	ctx := context.Background()
	fund(t, s, "A", 0)

	report, err := e.SeedOfficialTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Created)

	id := escrow.OfficialTaskID("https://discord.gg/bJFgn3RH")
	res, err := e.CompleteTask(ctx, id, "A")
	require.NoError(t, err)
	assert.Equal(t, escrow.OutcomeCredited, res.Outcome)
	assert.Equal(t, int64(150), res.Amount)

	again, err := e.SeedOfficialTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, escrow.SeedReport{Created: 0, Existing: 5}, again)
}

func TestCompleteTask_NotFoundAndValidation(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(t, s, escrow.Options{})
	ctx := context.Background()
	fund(t, s, "B", 0)

	_, err := e.CompleteTask(ctx, "missing", "B")
	assert.ErrorIs(t, err, escrow.ErrTaskNotFound)
	assert.True(t, escrow.IsNotFound(err))

	_, err = e.CompleteTask(ctx, "", "B")
	assert.ErrorIs(t, err, escrow.ErrValidation)

	_, err = e.CompletionStatus(ctx, "missing", "B")
	assert.ErrorIs(t, err, escrow.ErrTaskNotFound)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrent_CreationsCommitOnlyWhatFits(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func(t *testing.T) escrow.Store) {
		// GIVEN: 1000 points and 100 concurrent creations of 25 (2500 total)
		s := newStore(t)
		e := newTestEngine(t, s, escrow.Options{})
		fund(t, s, "A", 1000)

		var (
			wg                sync.WaitGroup
			created, rejected atomic.Int64
		)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.CreateTask(context.Background(), followTask("A", 25))
				switch {
				case err == nil:
					created.Add(1)
				case errors.Is(err, escrow.ErrInsufficientBalance):
					rejected.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		// THEN: Exactly 40 commit, the rest are rejected, balance is zero
		assert.Equal(t, int64(40), created.Load())
		assert.Equal(t, int64(60), rejected.Load())
		assert.Equal(t, int64(0), points(t, s, "A"))

		tasks, err := e.ListTasks(context.Background(), escrow.TaskFilter{Limit: 500})
		require.NoError(t, err)
		assert.Len(t, tasks, 40)
	})
}

func TestConcurrent_SamePairCreditedOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func(t *testing.T) escrow.Store) {
		s := newStore(t)
		e := newTestEngine(t, s, escrow.Options{})
		ctx := context.Background()
		fund(t, s, "A", 1000)
		fund(t, s, "B", 0)

		created, err := e.CreateTask(ctx, followTask("A", 200))
		require.NoError(t, err)

		const attempts = 50
		var (
			wg                sync.WaitGroup
			credited, already atomic.Int64
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := e.CompleteTask(ctx, created.Task.ID, "B")
				if !assert.NoError(t, err) {
					return
				}
				switch res.Outcome {
				case escrow.OutcomeCredited:
					credited.Add(1)
				case escrow.OutcomeAlreadyCompleted:
					already.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), credited.Load())
		assert.Equal(t, int64(attempts-1), already.Load())
		assert.Equal(t, int64(200), points(t, s, "B"))

		task, err := e.GetTask(ctx, created.Task.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), task.CompletionCount)
	})
}

func TestConcurrent_DistinctUsersNoLostUpdates(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func(t *testing.T) escrow.Store) {
		s := newStore(t)
		e := newTestEngine(t, s, escrow.Options{})
		ctx := context.Background()
		fund(t, s, "A", 1000)

		created, err := e.CreateTask(ctx, followTask("A", 30))
		require.NoError(t, err)

		const users = 30
		for i := 0; i < users; i++ {
			fund(t, s, userN(i), 0)
		}

		var wg sync.WaitGroup
		for i := 0; i < users; i++ {
			wg.Add(1)
			go func(u escrow.UserID) {
				defer wg.Done()
				res, err := e.CompleteTask(ctx, created.Task.ID, u)
				if assert.NoError(t, err) {
					assert.Equal(t, escrow.OutcomeCredited, res.Outcome)
				}
			}(userN(i))
		}
		wg.Wait()

		task, err := e.GetTask(ctx, created.Task.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(users), task.CompletionCount)
		for i := 0; i < users; i++ {
			assert.Equal(t, int64(30), points(t, s, userN(i)))
		}
	})
}

func userN(i int) escrow.UserID {
	return escrow.UserID("user-" + string(rune('a'+i/26)) + string(rune('a'+i%26)))
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestCreateTask_IdempotencyKeyReplays(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func(t *testing.T) escrow.Store) {
		s := newStore(t)
		e := newTestEngine(t, s, escrow.Options{})
		ctx := context.Background()
		fund(t, s, "A", 1000)

		req := followTask("A", 100)
		req.IdempotencyKey = "req-1"

		first, err := e.CreateTask(ctx, req)
		require.NoError(t, err)
		assert.False(t, first.Replayed)

		second, err := e.CreateTask(ctx, req)
		require.NoError(t, err)
		assert.True(t, second.Replayed)
		assert.Equal(t, first.Task.ID, second.Task.ID)
		assert.Equal(t, int64(900), second.Balance)
		assert.Equal(t, int64(900), points(t, s, "A"))

		req.IdempotencyKey = "req-2"
		third, err := e.CreateTask(ctx, req)
		require.NoError(t, err)
		assert.NotEqual(t, first.Task.ID, third.Task.ID)
		assert.Equal(t, int64(800), points(t, s, "A"))
	})
}

func TestCreateTask_ConcurrentSameIdempotencyKey(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(t, s, escrow.Options{})
	fund(t, s, "A", 1000)

	req := followTask("A", 100)
	req.IdempotencyKey = "double-click"

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[escrow.TaskID]bool{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.CreateTask(context.Background(), req)
			if assert.NoError(t, err) {
				mu.Lock()
				ids[res.Task.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, int64(900), points(t, s, "A"))
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestEnsureAccount_SignupBonusOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func(t *testing.T) escrow.Store) {
		s := newStore(t)
		e := newTestEngine(t, s, escrow.Options{SignupPoints: 100})
		ctx := context.Background()

		u, created, err := e.EnsureAccount(ctx, "newbie")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(100), u.Points)

		u, created, err = e.EnsureAccount(ctx, "newbie")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, int64(100), u.Points)

		entries, err := e.Entries(ctx, "newbie", 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, escrow.EntrySignupBonus, entries[0].Kind)

		_, _, err = e.EnsureAccount(ctx, escrow.SystemUser)
		assert.ErrorIs(t, err, escrow.ErrValidation)
	})
}

func TestPurchase_CreditsOncePerReference(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func(t *testing.T) escrow.Store) {
		s := newStore(t)
		e := newTestEngine(t, s, escrow.Options{})
		ctx := context.Background()
		fund(t, s, "A", 0)

		res, err := e.Purchase(ctx, "A", "growth", "0xabc")
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		assert.Equal(t, int64(5500), res.Credited)
		assert.Equal(t, int64(5500), res.Balance)

		dup, err := e.Purchase(ctx, "A", "growth", "0xabc")
		require.NoError(t, err)
		assert.True(t, dup.Duplicate)
		assert.Equal(t, int64(5500), dup.Balance)
		assert.Equal(t, int64(5500), points(t, s, "A"))

		_, err = e.Purchase(ctx, "A", "mega", "0xdef")
		assert.ErrorIs(t, err, escrow.ErrUnknownPackage)

		_, err = e.Purchase(ctx, "A", "growth", " ")
		assert.ErrorIs(t, err, escrow.ErrValidation)
	})
}

func TestEntries_RecordEveryMutation(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(t, s, escrow.Options{})
	ctx := context.Background()
	fund(t, s, "A", 1000)
	fund(t, s, "B", 0)

	created, err := e.CreateTask(ctx, followTask("A", 200))
	require.NoError(t, err)
	_, err = e.CompleteTask(ctx, created.Task.ID, "B")
	require.NoError(t, err)

	a, err := e.Entries(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, escrow.EntryTaskFunding, a[0].Kind)
	assert.Equal(t, int64(-200), a[0].Amount)
	assert.Equal(t, int64(800), a[0].BalanceAfter)
	assert.Equal(t, created.Task.ID, a[0].TaskID)

	b, err := e.Entries(ctx, "B", 10)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, escrow.EntryTaskReward, b[0].Kind)
	assert.Equal(t, int64(200), b[0].Amount)
	assert.Equal(t, int64(200), b[0].BalanceAfter)
}

func TestRewardRange_UsesCommittedBalance(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(t, s, escrow.Options{})
	fund(t, s, "A", 60)

	r, err := e.RewardRange(context.Background(), "A", "youtube", "subscribe")
	require.NoError(t, err)
	assert.Equal(t, int64(50), r.Min)
	assert.Equal(t, int64(60), r.Max)
	assert.Equal(t, int64(60), r.Default)
}
