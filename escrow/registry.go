/*
registry.go - Task Registry

PURPOSE:
  Creates and lists tasks. A user-funded task is created in one transaction
  that re-validates the reward against the committed balance, debits the
  creator, inserts the task and records the funding entry. Either all of it
  commits or none of it does.

IDEMPOTENCY:
  Every funding entry carries a unique key. Without a client key it is
  fund:<taskID>; with one it is fund:<creator>:<key>, and a repeated
  request returns the task created by the first one instead of debiting
  again.

OFFICIAL TASKS:
  System-funded, never debited, exempt from the self-completion rule.
  Seeded tasks get an id derived from their URL so reseeding is a no-op.
*/
package escrow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hypehub/task-escrow/metrics"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxURLLength         = 2048
	MaxKeyLength         = 200
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateTaskRequest is the input of CreateTask.
type CreateTaskRequest struct {
	CreatorID   UserID
	Platform    string
	Action      string
	Title       string
	Description string
	URL         string
	Reward      int64

	// IdempotencyKey is optional. Repeating a request with the same key
	// returns the original task.
	IdempotencyKey string
}

// CreateTaskResult is the committed outcome of CreateTask.
type CreateTaskResult struct {
	Task     Task
	Balance  int64
	Replayed bool
}

// OfficialTaskRequest is the input of CreateOfficialTask. ID is optional.
type OfficialTaskRequest struct {
	ID          TaskID
	Platform    string
	Action      string
	Title       string
	Description string
	URL         string
	Reward      int64
}

// SeedReport summarizes SeedOfficialTasks.
type SeedReport struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
}

// TaskView is a listed task annotated for one viewer.
type TaskView struct {
	Task
	Completed bool
}

func (r CreateTaskRequest) validate() error {
	if r.CreatorID == "" {
		return &ValidationError{Field: "creator_id", Message: "is required"}
	}
	if err := validateContent(r.Title, r.Description, r.URL); err != nil {
		return err
	}
	if r.Reward <= 0 {
		return &ValidationError{Field: "reward", Message: "must be a positive integer"}
	}
	if len(r.IdempotencyKey) > MaxKeyLength {
		return &ValidationError{Field: "idempotency_key", Message: fmt.Sprintf("must be at most %d characters", MaxKeyLength)}
	}
	return nil
}

func validateContent(title, description, rawURL string) error {
	switch {
	case strings.TrimSpace(title) == "":
		return &ValidationError{Field: "title", Message: "is required"}
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return &ValidationError{Field: "title", Message: fmt.Sprintf("must be at most %d characters", MaxTitleLength)}
	case strings.TrimSpace(description) == "":
		return &ValidationError{Field: "description", Message: "is required"}
	case utf8.RuneCountInString(description) > MaxDescriptionLength:
		return &ValidationError{Field: "description", Message: fmt.Sprintf("must be at most %d characters", MaxDescriptionLength)}
	case strings.TrimSpace(rawURL) == "":
		return &ValidationError{Field: "url", Message: "is required"}
	case len(rawURL) > MaxURLLength:
		return &ValidationError{Field: "url", Message: fmt.Sprintf("must be at most %d characters", MaxURLLength)}
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "url", Message: "must be an absolute http or https URL"}
	}
	return nil
}

func fundingKey(creator UserID, clientKey string, id TaskID) string {
	if clientKey != "" {
		return fmt.Sprintf("fund:%s:%s", creator, clientKey)
	}
	return "fund:" + string(id)
}

// =============================================================================
// CREATE
// =============================================================================

// CreateTask debits the creator and inserts the task atomically.
func (e *Engine) CreateTask(ctx context.Context, req CreateTaskRequest) (CreateTaskResult, error) {
	if err := req.validate(); err != nil {
		return CreateTaskResult{}, e.rejectTask(req, err)
	}

	if req.IdempotencyKey != "" {
		res, err := e.replayCreate(ctx, fundingKey(req.CreatorID, req.IdempotencyKey, ""))
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrEntryNotFound) {
			return CreateTaskResult{}, err
		}
	}

	now := e.now()
	task := Task{
		ID:          TaskID(e.newID()),
		CreatorID:   req.CreatorID,
		Platform:    req.Platform,
		Action:      req.Action,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		URL:         strings.TrimSpace(req.URL),
		Reward:      req.Reward,
		CreatedAt:   now,
	}
	key := fundingKey(req.CreatorID, req.IdempotencyKey, task.ID)

	var balance int64
	err := e.inTx(ctx, "create_task", func(ctx context.Context, tx Tx) error {
		current, err := tx.Balance(ctx, req.CreatorID)
		if err != nil {
			return err
		}
		if err := e.policy.Validate(req.Platform, req.Action, req.Reward, current); err != nil {
			return err
		}
		balance, err = tx.Debit(ctx, req.CreatorID, req.Reward)
		if err != nil {
			return err
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, Entry{
			ID:             e.newID(),
			UserID:         req.CreatorID,
			Kind:           EntryTaskFunding,
			Amount:         -req.Reward,
			TaskID:         task.ID,
			IdempotencyKey: key,
			BalanceAfter:   balance,
			CreatedAt:      now,
		})
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) && req.IdempotencyKey != "" {
		return e.replayCreate(ctx, key)
	}
	if err != nil {
		return CreateTaskResult{}, e.rejectTask(req, err)
	}

	metrics.TasksCreated.WithLabelValues("funded").Inc()
	metrics.PointsEscrowed.Add(float64(task.Reward))
	e.log.Debug("task created",
		slogTask(task.ID), slogUser(task.CreatorID),
		slogPoints(task.Reward), slogBalance(balance))

	e.notify(ctx, Event{
		Kind:      EventTaskCreated,
		Recipient: task.CreatorID,
		Actor:     task.CreatorID,
		TaskID:    task.ID,
		Platform:  task.Platform,
		Title:     "Task created",
		Message:   fmt.Sprintf("Your task %q is live with a reward of %d points.", task.Title, task.Reward),
		Points:    -task.Reward,
	})

	return CreateTaskResult{Task: task, Balance: balance}, nil
}

func (e *Engine) replayCreate(ctx context.Context, key string) (CreateTaskResult, error) {
	entry, err := e.store.EntryByKey(ctx, key)
	if err != nil {
		return CreateTaskResult{}, Unavailable("entry_by_key", err)
	}
	task, err := e.store.GetTask(ctx, entry.TaskID)
	if err != nil {
		return CreateTaskResult{}, Unavailable("get_task", err)
	}
	user, err := e.store.GetUser(ctx, task.CreatorID)
	if err != nil {
		return CreateTaskResult{}, Unavailable("get_user", err)
	}
	e.log.Debug("task creation replayed", slogTask(task.ID), slogUser(task.CreatorID))
	return CreateTaskResult{Task: task, Balance: user.Points, Replayed: true}, nil
}

func (e *Engine) rejectTask(req CreateTaskRequest, err error) error {
	var ib *InsufficientBalanceError
	if errors.As(err, &ib) && ib.UserID == "" {
		ib.UserID = req.CreatorID
	}
	reason := Reason(err)
	metrics.TaskRejections.WithLabelValues(reason).Inc()
	if IsRetryable(err) {
		e.log.Error("task creation failed", slogUser(req.CreatorID), slogErr(err))
	} else {
		e.log.Info("task creation rejected", slogUser(req.CreatorID), slogReason(reason), slogErr(err))
	}
	return err
}

// CreateOfficialTask inserts a system-funded task. No balance is debited.
func (e *Engine) CreateOfficialTask(ctx context.Context, req OfficialTaskRequest) (Task, error) {
	if err := validateContent(req.Title, req.Description, req.URL); err != nil {
		return Task{}, err
	}
	a, ok := e.catalog.Lookup(req.Platform, req.Action)
	if !ok {
		return Task{}, &UnknownActionError{Platform: req.Platform, Action: req.Action}
	}
	if req.Reward == 0 {
		req.Reward = a.DefaultReward
	}
	if req.Reward < a.MinReward {
		return Task{}, &BelowMinimumError{Platform: req.Platform, Action: req.Action, Minimum: a.MinReward, Proposed: req.Reward}
	}
	if req.ID == "" {
		req.ID = TaskID(e.newID())
	}

	task := Task{
		ID:          req.ID,
		CreatorID:   SystemUser,
		Platform:    req.Platform,
		Action:      req.Action,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		URL:         strings.TrimSpace(req.URL),
		Reward:      req.Reward,
		IsOfficial:  true,
		CreatedAt:   e.now(),
	}
	err := e.inTx(ctx, "create_official_task", func(ctx context.Context, tx Tx) error {
		return tx.InsertTask(ctx, task)
	})
	if err != nil {
		return Task{}, err
	}

	metrics.TasksCreated.WithLabelValues("official").Inc()
	e.log.Info("official task created", slogTask(task.ID), slogPoints(task.Reward))
	return task, nil
}

// OfficialTaskID is the deterministic id of a seeded official task.
func OfficialTaskID(rawURL string) TaskID {
	return TaskID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL)).String())
}

// SeedOfficialTasks creates the catalog's official tasks that do not exist yet.
func (e *Engine) SeedOfficialTasks(ctx context.Context) (SeedReport, error) {
	var report SeedReport
	for _, ot := range e.catalog.OfficialTasks() {
		_, err := e.CreateOfficialTask(ctx, OfficialTaskRequest{
			ID:          OfficialTaskID(ot.URL),
			Platform:    ot.Platform,
			Action:      ot.Action,
			Title:       ot.Title,
			Description: ot.Description,
			URL:         ot.URL,
			Reward:      ot.Reward,
		})
		switch {
		case errors.Is(err, ErrDuplicateTask):
			report.Existing++
		case err != nil:
			return report, fmt.Errorf("seed %s: %w", ot.URL, err)
		default:
			report.Created++
		}
	}
	return report, nil
}

// =============================================================================
// READ
// =============================================================================

// GetTask returns one task.
func (e *Engine) GetTask(ctx context.Context, id TaskID) (Task, error) {
	t, err := e.store.GetTask(ctx, id)
	return t, Unavailable("get_task", err)
}

// ListTasks returns tasks ordered official first, then reward descending,
// then newest first.
func (e *Engine) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	tasks, err := e.store.ListTasks(ctx, filter.Normalize())
	return tasks, Unavailable("list_tasks", err)
}

// ListTasksFor lists tasks with the viewer's completion flag set.
func (e *Engine) ListTasksFor(ctx context.Context, filter TaskFilter, viewer UserID) ([]TaskView, error) {
	tasks, err := e.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	done := map[TaskID]bool{}
	if viewer != "" {
		ids, err := e.store.CompletedTaskIDs(ctx, viewer)
		if err != nil {
			return nil, Unavailable("completed_task_ids", err)
		}
		for _, id := range ids {
			done[id] = true
		}
	}
	views := make([]TaskView, len(tasks))
	for i, t := range tasks {
		views[i] = TaskView{Task: t, Completed: done[t.ID]}
	}
	return views, nil
}

// RewardRange returns the reward slider bounds for the user's current balance.
func (e *Engine) RewardRange(ctx context.Context, user UserID, platform, action string) (RewardRange, error) {
	u, err := e.store.GetUser(ctx, user)
	if err != nil {
		return RewardRange{}, Unavailable("get_user", err)
	}
	return e.policy.Range(platform, action, u.Points)
}
