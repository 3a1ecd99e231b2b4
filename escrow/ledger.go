/*
ledger.go - Completion Ledger

PURPOSE:
  Records one completion per (task, user) and credits the reward exactly
  once, even when many callers complete the same task at the same time.

ALGORITHM:
  One transaction:
    1. Read the task (TaskNotFound) and apply the self-completion rule.
    2. Insert the completion row. The store's uniqueness constraint is the
       only "already completed" check; there is no read-then-insert.
    3. Settle: mark the row credited, credit the completer, increment the
       task counter, append the reward entry.

  A uniqueness conflict rolls the transaction back. The existing row is
  then settled if it is still uncredited (a crash between two steps in an
  older deployment, or a store that lost the second half); otherwise the
  result is AlreadyCompleted.

SETTLEMENT GUARDS:
  MarkCredited only flips credited_at from NULL, and the reward entry key
  reward:<task>:<user> is unique. Either guard alone prevents a second
  credit for the same row.

SEE ALSO:
  - recovery.go: Batch settlement of uncredited rows
*/
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/hypehub/task-escrow/metrics"
)

// errSettled aborts a settlement transaction whose row was already credited.
var errSettled = errors.New("completion already settled")

// Outcome is the caller-visible result of CompleteTask.
type Outcome string

const (
	OutcomeCredited         Outcome = "credited"
	OutcomeAlreadyCompleted Outcome = "already_completed"
)

// CompletionResult describes a completed (or already completed) task.
// Amount is zero for AlreadyCompleted.
type CompletionResult struct {
	Outcome         Outcome
	TaskID          TaskID
	UserID          UserID
	Amount          int64
	Balance         int64
	CompletionCount int64
}

func rewardKey(task TaskID, user UserID) string {
	return fmt.Sprintf("reward:%s:%s", task, user)
}

// CompleteTask records the completion and credits the reward.
// Repeating the call for the same pair returns AlreadyCompleted.
func (e *Engine) CompleteTask(ctx context.Context, taskID TaskID, userID UserID) (CompletionResult, error) {
	if taskID == "" {
		return CompletionResult{}, e.rejectCompletion(taskID, userID, &ValidationError{Field: "task_id", Message: "is required"})
	}
	if userID == "" {
		return CompletionResult{}, e.rejectCompletion(taskID, userID, &ValidationError{Field: "user_id", Message: "is required"})
	}

	var (
		task Task
		res  CompletionResult
	)
	err := e.inTx(ctx, "complete_task", func(ctx context.Context, tx Tx) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		task = t
		if !t.IsOfficial && t.CreatorID == userID {
			return ErrSelfCompletion
		}
		c := Completion{TaskID: t.ID, UserID: userID, Reward: t.Reward, CompletedAt: e.now()}
		if err := tx.InsertCompletion(ctx, c); err != nil {
			return err
		}
		res, err = e.settle(ctx, tx, c)
		return err
	})
	if errors.Is(err, ErrDuplicateCompletion) {
		return e.resolveDuplicate(ctx, task, userID)
	}
	if err != nil {
		return CompletionResult{}, e.rejectCompletion(taskID, userID, err)
	}

	e.credited(ctx, task, res)
	return res, nil
}

// settle applies the credit for c. Callers run it inside the transaction
// that owns c.
func (e *Engine) settle(ctx context.Context, tx Tx, c Completion) (CompletionResult, error) {
	now := e.now()
	ok, err := tx.MarkCredited(ctx, c.TaskID, c.UserID, now)
	if err != nil {
		return CompletionResult{}, err
	}
	if !ok {
		return CompletionResult{}, errSettled
	}
	balance, err := tx.Credit(ctx, c.UserID, c.Reward)
	if err != nil {
		return CompletionResult{}, err
	}
	count, err := tx.IncrementCompletions(ctx, c.TaskID)
	if err != nil {
		return CompletionResult{}, err
	}
	err = tx.AppendEntry(ctx, Entry{
		ID:             e.newID(),
		UserID:         c.UserID,
		Kind:           EntryTaskReward,
		Amount:         c.Reward,
		TaskID:         c.TaskID,
		IdempotencyKey: rewardKey(c.TaskID, c.UserID),
		BalanceAfter:   balance,
		CreatedAt:      now,
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return CompletionResult{}, errSettled
	}
	if err != nil {
		return CompletionResult{}, err
	}
	return CompletionResult{
		Outcome:         OutcomeCredited,
		TaskID:          c.TaskID,
		UserID:          c.UserID,
		Amount:          c.Reward,
		Balance:         balance,
		CompletionCount: count,
	}, nil
}

// settleExisting settles a stored row in its own transaction.
// Returns errSettled when the row is already credited.
func (e *Engine) settleExisting(ctx context.Context, op string, taskID TaskID, userID UserID) (Task, CompletionResult, error) {
	var (
		task Task
		res  CompletionResult
	)
	err := e.inTx(ctx, op, func(ctx context.Context, tx Tx) error {
		c, err := tx.GetCompletion(ctx, taskID, userID)
		if err != nil {
			return err
		}
		if c.Credited() {
			return errSettled
		}
		task, err = tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		res, err = e.settle(ctx, tx, c)
		return err
	})
	return task, res, err
}

func (e *Engine) resolveDuplicate(ctx context.Context, task Task, userID UserID) (CompletionResult, error) {
	_, res, err := e.settleExisting(ctx, "settle_completion", task.ID, userID)
	if err == nil {
		e.log.Warn("settled pending completion on retry", slogTask(task.ID), slogUser(userID))
		e.credited(ctx, task, res)
		return res, nil
	}
	if !errors.Is(err, errSettled) {
		return CompletionResult{}, e.rejectCompletion(task.ID, userID, err)
	}

	res = CompletionResult{
		Outcome:         OutcomeAlreadyCompleted,
		TaskID:          task.ID,
		UserID:          userID,
		CompletionCount: task.CompletionCount,
	}
	if u, err := e.store.GetUser(ctx, userID); err == nil {
		res.Balance = u.Points
	}
	if t, err := e.store.GetTask(ctx, task.ID); err == nil {
		res.CompletionCount = t.CompletionCount
	}
	metrics.Completions.WithLabelValues(string(OutcomeAlreadyCompleted)).Inc()
	e.log.Debug("completion already recorded", slogTask(task.ID), slogUser(userID))
	return res, nil
}

func (e *Engine) credited(ctx context.Context, task Task, res CompletionResult) {
	metrics.Completions.WithLabelValues(string(OutcomeCredited)).Inc()
	metrics.PointsCredited.Add(float64(res.Amount))
	e.log.Debug("completion credited",
		slogTask(res.TaskID), slogUser(res.UserID),
		slogPoints(res.Amount), slogBalance(res.Balance))

	e.notify(ctx, Event{
		Kind:      EventPointsEarned,
		Recipient: res.UserID,
		Actor:     res.UserID,
		TaskID:    res.TaskID,
		Platform:  task.Platform,
		Title:     "Points earned",
		Message:   fmt.Sprintf("You earned %d points for completing %q.", res.Amount, task.Title),
		Points:    res.Amount,
	})
	if !task.IsOfficial && task.CreatorID != SystemUser {
		e.notify(ctx, Event{
			Kind:      EventTaskCompleted,
			Recipient: task.CreatorID,
			Actor:     res.UserID,
			TaskID:    res.TaskID,
			Platform:  task.Platform,
			Title:     "Task completed",
			Message:   fmt.Sprintf("Your task %q was completed (%d total).", task.Title, res.CompletionCount),
			Points:    res.Amount,
		})
	}
}

func (e *Engine) rejectCompletion(taskID TaskID, userID UserID, err error) error {
	reason := Reason(err)
	metrics.CompletionRejections.WithLabelValues(reason).Inc()
	if IsRetryable(err) {
		e.log.Error("completion failed", slogTask(taskID), slogUser(userID), slogErr(err))
	} else {
		e.log.Info("completion rejected", slogTask(taskID), slogUser(userID), slogReason(reason), slogErr(err))
	}
	return err
}

// CompletionStatus reports whether the user has been credited for the task.
func (e *Engine) CompletionStatus(ctx context.Context, taskID TaskID, userID UserID) (bool, error) {
	done, err := e.store.IsCompleted(ctx, taskID, userID)
	if err != nil {
		return false, Unavailable("is_completed", err)
	}
	if done {
		return true, nil
	}
	if _, err := e.store.GetTask(ctx, taskID); err != nil {
		return false, Unavailable("get_task", err)
	}
	return false, nil
}
