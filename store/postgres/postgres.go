/*
Package postgres provides a PostgreSQL implementation of escrow.Store.

PURPOSE:
  Production store for multi-instance deployments. Queries go through bun
  (pgdialect) on top of a pgx connection pool bridged to database/sql.

CONCURRENCY:
  Transactions run at READ COMMITTED. Every guard is in the WHERE clause of
  a single UPDATE, which PostgreSQL re-evaluates after acquiring the row
  lock, so concurrent debits, counter increments and credit marks are
  serialized per row by the database:

    Debit:         SET points = points - ? WHERE id = ? AND points >= ?
    Increment:     SET completion_count = completion_count + 1
    MarkCredited:  SET credited_at = ? WHERE ... AND credited_at IS NULL

  A second INSERT into completions for the same (task_id, user_id) waits
  for the first transaction and then fails with 23505 on completions_pkey.

ERROR MAPPING:
  23505 on completions_pkey                     -> escrow.ErrDuplicateCompletion
  23505 on ledger_entries_idempotency_key_key   -> escrow.ErrDuplicateIdempotencyKey
  23505 on tasks_pkey                           -> escrow.ErrDuplicateTask
  23503 on completions_task_id_fkey             -> escrow.ErrTaskNotFound

SEE ALSO:
  - escrow/store.go: Interface definitions
  - store/sqlite: SQLite implementation with the same schema
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hypehub/task-escrow/escrow"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// Config configures the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements escrow.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	db   *bun.DB
}

var _ escrow.Store = (*Store)(nil)

// Open connects, pings and migrates.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgxpool ping failed: %w", err)
	}

	sqldb := stdlib.OpenDBFromPool(pool)
	s := &Store{pool: pool, db: bun.NewDB(sqldb, pgdialect.New())}
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the bun handle and the pool.
func (s *Store) Close() error {
	err := s.db.Close()
	s.pool.Close()
	return err
}

// Truncate removes all rows. Tests only.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE ledger_entries, completions, tasks, users RESTART IDENTITY`)
	return err
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		points BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		creator_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		action TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		url TEXT NOT NULL,
		reward BIGINT NOT NULL CHECK (reward > 0),
		is_official BOOLEAN NOT NULL DEFAULT FALSE,
		completion_count BIGINT NOT NULL DEFAULT 0 CHECK (completion_count >= 0),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_listing
		ON tasks (is_official DESC, reward DESC, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_creator ON tasks (creator_id)`,
	`CREATE TABLE IF NOT EXISTS completions (
		task_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		reward BIGINT NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		credited_at TIMESTAMPTZ,
		CONSTRAINT completions_pkey PRIMARY KEY (task_id, user_id),
		CONSTRAINT completions_task_id_fkey FOREIGN KEY (task_id) REFERENCES tasks (id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_completions_uncredited
		ON completions (completed_at) WHERE credited_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_completions_user ON completions (user_id)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount BIGINT NOT NULL,
		task_id TEXT,
		idempotency_key TEXT NOT NULL,
		balance_after BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT ledger_entries_idempotency_key_key UNIQUE (idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries (user_id, seq DESC)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside bun's RunInTx; any error rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(escrow.Tx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(&pgTx{db: tx})
	})
}

type pgTx struct {
	db bun.IDB
}

func (t *pgTx) CreateUser(ctx context.Context, u escrow.User) (bool, error) {
	row := userRow{ID: string(u.ID), Points: u.Points, CreatedAt: u.CreatedAt}
	res, err := t.db.NewInsert().Model(&row).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to create user: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (t *pgTx) Balance(ctx context.Context, id escrow.UserID) (int64, error) {
	return balance(ctx, t.db, id)
}

func (t *pgTx) Debit(ctx context.Context, id escrow.UserID, amount int64) (int64, error) {
	res, err := t.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("points = points - ?", amount).
		Where("id = ?", string(id)).
		Where("points >= ?", amount).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to debit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	current, err := balance(ctx, t.db, id)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, escrow.NewInsufficientBalance(id, current, amount)
	}
	return current, nil
}

func (t *pgTx) Credit(ctx context.Context, id escrow.UserID, amount int64) (int64, error) {
	res, err := t.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("points = points + ?", amount).
		Where("id = ?", string(id)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to credit: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, escrow.ErrUserNotFound
	}
	return balance(ctx, t.db, id)
}

func (t *pgTx) InsertTask(ctx context.Context, task escrow.Task) error {
	row := toTaskRow(task)
	if _, err := t.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		if mapped := mapError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (t *pgTx) GetTask(ctx context.Context, id escrow.TaskID) (escrow.Task, error) {
	return getTask(ctx, t.db, id)
}

func (t *pgTx) IncrementCompletions(ctx context.Context, id escrow.TaskID) (int64, error) {
	var count int64
	err := t.db.NewUpdate().
		Model((*taskRow)(nil)).
		Set("completion_count = completion_count + 1").
		Where("id = ?", string(id)).
		Returning("completion_count").
		Scan(ctx, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, escrow.ErrTaskNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment completions: %w", err)
	}
	return count, nil
}

func (t *pgTx) InsertCompletion(ctx context.Context, c escrow.Completion) error {
	row := completionRow{
		TaskID:      string(c.TaskID),
		UserID:      string(c.UserID),
		Reward:      c.Reward,
		CompletedAt: c.CompletedAt,
		CreditedAt:  c.CreditedAt,
	}
	if _, err := t.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		if mapped := mapError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert completion: %w", err)
	}
	return nil
}

func (t *pgTx) GetCompletion(ctx context.Context, task escrow.TaskID, user escrow.UserID) (escrow.Completion, error) {
	var row completionRow
	err := t.db.NewSelect().Model(&row).
		Where("task_id = ?", string(task)).
		Where("user_id = ?", string(user)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.Completion{}, escrow.ErrCompletionNotFound
	}
	if err != nil {
		return escrow.Completion{}, fmt.Errorf("failed to get completion: %w", err)
	}
	return row.toCompletion(), nil
}

func (t *pgTx) MarkCredited(ctx context.Context, task escrow.TaskID, user escrow.UserID, at time.Time) (bool, error) {
	res, err := t.db.NewUpdate().
		Model((*completionRow)(nil)).
		Set("credited_at = ?", at).
		Where("task_id = ?", string(task)).
		Where("user_id = ?", string(user)).
		Where("credited_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to mark completion credited: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (t *pgTx) AppendEntry(ctx context.Context, e escrow.Entry) error {
	row := entryRow{
		ID:             e.ID,
		UserID:         string(e.UserID),
		Kind:           string(e.Kind),
		Amount:         e.Amount,
		TaskID:         string(e.TaskID),
		IdempotencyKey: e.IdempotencyKey,
		BalanceAfter:   e.BalanceAfter,
		CreatedAt:      e.CreatedAt,
	}
	if _, err := t.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		if mapped := mapError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// =============================================================================
// COMMITTED READS
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id escrow.UserID) (escrow.User, error) {
	var row userRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", string(id)).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.User{}, escrow.ErrUserNotFound
	}
	if err != nil {
		return escrow.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return escrow.User{ID: escrow.UserID(row.ID), Points: row.Points, CreatedAt: row.CreatedAt.UTC()}, nil
}

func (s *Store) GetTask(ctx context.Context, id escrow.TaskID) (escrow.Task, error) {
	return getTask(ctx, s.db, id)
}

func (s *Store) ListTasks(ctx context.Context, filter escrow.TaskFilter) ([]escrow.Task, error) {
	filter = filter.Normalize()

	var rows []taskRow
	q := s.db.NewSelect().Model(&rows)
	if filter.Platform != "" {
		q = q.Where("platform = ?", filter.Platform)
	}
	if filter.CreatorID != "" {
		q = q.Where("creator_id = ?", string(filter.CreatorID))
	}
	if filter.Official != nil {
		q = q.Where("is_official = ?", *filter.Official)
	}
	err := q.OrderExpr("is_official DESC, reward DESC, created_at DESC, id ASC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]escrow.Task, len(rows))
	for i, r := range rows {
		tasks[i] = r.toTask()
	}
	return tasks, nil
}

func (s *Store) IsCompleted(ctx context.Context, task escrow.TaskID, user escrow.UserID) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*completionRow)(nil)).
		Where("task_id = ?", string(task)).
		Where("user_id = ?", string(user)).
		Where("credited_at IS NOT NULL").
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check completion: %w", err)
	}
	return exists, nil
}

func (s *Store) CompletedTaskIDs(ctx context.Context, user escrow.UserID) ([]escrow.TaskID, error) {
	var ids []string
	err := s.db.NewSelect().
		Model((*completionRow)(nil)).
		Column("task_id").
		Where("user_id = ?", string(user)).
		Where("credited_at IS NOT NULL").
		Order("task_id").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed tasks: %w", err)
	}
	out := make([]escrow.TaskID, len(ids))
	for i, id := range ids {
		out[i] = escrow.TaskID(id)
	}
	return out, nil
}

func (s *Store) ListUncredited(ctx context.Context, after escrow.RecoveryCursor, limit int) ([]escrow.Completion, error) {
	if limit <= 0 {
		limit = escrow.DefaultRecoveryBatch
	}
	var rows []completionRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("credited_at IS NULL")
	if !after.IsZero() {
		q = q.Where("(completed_at, task_id, user_id) > (?, ?, ?)",
			after.CompletedAt, string(after.TaskID), string(after.UserID))
	}
	err := q.
		OrderExpr("completed_at, task_id, user_id").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncredited completions: %w", err)
	}
	out := make([]escrow.Completion, len(rows))
	for i, r := range rows {
		out[i] = r.toCompletion()
	}
	return out, nil
}

func (s *Store) EntryByKey(ctx context.Context, key string) (escrow.Entry, error) {
	var row entryRow
	err := s.db.NewSelect().Model(&row).Where("idempotency_key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.Entry{}, escrow.ErrEntryNotFound
	}
	if err != nil {
		return escrow.Entry{}, fmt.Errorf("failed to get entry: %w", err)
	}
	return row.toEntry(), nil
}

func (s *Store) ListEntries(ctx context.Context, user escrow.UserID, limit int) ([]escrow.Entry, error) {
	if limit <= 0 {
		limit = escrow.DefaultEntriesLimit
	}
	var rows []entryRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", string(user)).
		Order("seq DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	out := make([]escrow.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.toEntry()
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func balance(ctx context.Context, db bun.IDB, id escrow.UserID) (int64, error) {
	var points int64
	err := db.NewSelect().
		Model((*userRow)(nil)).
		Column("points").
		Where("id = ?", string(id)).
		Scan(ctx, &points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, escrow.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return points, nil
}

func getTask(ctx context.Context, db bun.IDB, id escrow.TaskID) (escrow.Task, error) {
	var row taskRow
	err := db.NewSelect().Model(&row).Where("id = ?", string(id)).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.Task{}, escrow.ErrTaskNotFound
	}
	if err != nil {
		return escrow.Task{}, fmt.Errorf("failed to get task: %w", err)
	}
	return row.toTask(), nil
}

// mapError translates constraint violations into escrow errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "completions_pkey":
			return escrow.ErrDuplicateCompletion
		case "ledger_entries_idempotency_key_key":
			return escrow.ErrDuplicateIdempotencyKey
		case "tasks_pkey":
			return escrow.ErrDuplicateTask
		}
	case "23503":
		if pgErr.ConstraintName == "completions_task_id_fkey" {
			return escrow.ErrTaskNotFound
		}
	}
	return nil
}
