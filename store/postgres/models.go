package postgres

import (
	"time"

	"github.com/hypehub/task-escrow/escrow"
	"github.com/uptrace/bun"
)

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        string    `bun:"id,pk"`
	Points    int64     `bun:"points,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type taskRow struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ID              string    `bun:"id,pk"`
	CreatorID       string    `bun:"creator_id,notnull"`
	Platform        string    `bun:"platform,notnull"`
	Action          string    `bun:"action,notnull"`
	Title           string    `bun:"title,notnull"`
	Description     string    `bun:"description,notnull"`
	URL             string    `bun:"url,notnull"`
	Reward          int64     `bun:"reward,notnull"`
	IsOfficial      bool      `bun:"is_official,notnull"`
	CompletionCount int64     `bun:"completion_count,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
}

func toTaskRow(t escrow.Task) taskRow {
	return taskRow{
		ID:              string(t.ID),
		CreatorID:       string(t.CreatorID),
		Platform:        t.Platform,
		Action:          t.Action,
		Title:           t.Title,
		Description:     t.Description,
		URL:             t.URL,
		Reward:          t.Reward,
		IsOfficial:      t.IsOfficial,
		CompletionCount: t.CompletionCount,
		CreatedAt:       t.CreatedAt,
	}
}

func (r taskRow) toTask() escrow.Task {
	return escrow.Task{
		ID:              escrow.TaskID(r.ID),
		CreatorID:       escrow.UserID(r.CreatorID),
		Platform:        r.Platform,
		Action:          r.Action,
		Title:           r.Title,
		Description:     r.Description,
		URL:             r.URL,
		Reward:          r.Reward,
		IsOfficial:      r.IsOfficial,
		CompletionCount: r.CompletionCount,
		CreatedAt:       r.CreatedAt.UTC(),
	}
}

type completionRow struct {
	bun.BaseModel `bun:"table:completions,alias:c"`

	TaskID      string     `bun:"task_id,pk"`
	UserID      string     `bun:"user_id,pk"`
	Reward      int64      `bun:"reward,notnull"`
	CompletedAt time.Time  `bun:"completed_at,notnull"`
	CreditedAt  *time.Time `bun:"credited_at"`
}

func (r completionRow) toCompletion() escrow.Completion {
	c := escrow.Completion{
		TaskID:      escrow.TaskID(r.TaskID),
		UserID:      escrow.UserID(r.UserID),
		Reward:      r.Reward,
		CompletedAt: r.CompletedAt.UTC(),
	}
	if r.CreditedAt != nil {
		at := r.CreditedAt.UTC()
		c.CreditedAt = &at
	}
	return c
}

type entryRow struct {
	bun.BaseModel `bun:"table:ledger_entries,alias:e"`

	Seq            int64     `bun:"seq,pk,autoincrement"`
	ID             string    `bun:"id,notnull"`
	UserID         string    `bun:"user_id,notnull"`
	Kind           string    `bun:"kind,notnull"`
	Amount         int64     `bun:"amount,notnull"`
	TaskID         string    `bun:"task_id,nullzero"`
	IdempotencyKey string    `bun:"idempotency_key,notnull"`
	BalanceAfter   int64     `bun:"balance_after,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

func (r entryRow) toEntry() escrow.Entry {
	return escrow.Entry{
		ID:             r.ID,
		UserID:         escrow.UserID(r.UserID),
		Kind:           escrow.EntryKind(r.Kind),
		Amount:         r.Amount,
		TaskID:         escrow.TaskID(r.TaskID),
		IdempotencyKey: r.IdempotencyKey,
		BalanceAfter:   r.BalanceAfter,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}
