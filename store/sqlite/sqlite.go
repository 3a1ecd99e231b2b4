/*
Package sqlite provides a SQLite-backed implementation of escrow.Store.

PURPOSE:
  Default persistent store of the escrow ledger. Every atomic primitive of
  escrow.Tx maps to a single SQL statement whose WHERE clause carries the
  guard, so correctness never depends on a read followed by a write in Go.

DRIVERS:
  DriverCGO     "sqlite3"  github.com/mattn/go-sqlite3 (cgo)
  DriverPureGo  "sqlite"   modernc.org/sqlite (no cgo, for static builds)

  Both drivers run the same schema and statements; only the DSN pragmas
  differ.

KEY TABLES:
  users:           Point balances, CHECK (points >= 0)
  tasks:           Funded tasks, completion_count updated in place
  completions:     PRIMARY KEY (task_id, user_id) - the uniqueness gate
  ledger_entries:  Append-only balance history, UNIQUE idempotency_key

GUARDS:
  Debit:          UPDATE ... SET points = points - ? WHERE id = ? AND points >= ?
  Increment:      UPDATE ... SET completion_count = completion_count + 1
  MarkCredited:   UPDATE ... SET credited_at = ? WHERE ... AND credited_at IS NULL
  Uniqueness:     constraint violations mapped to escrow sentinel errors

CONCURRENCY:
  SQLite has one writer at a time. WithTx holds a mutex for the whole
  transaction so writers of one Store queue in Go. Transactions begin
  IMMEDIATE (_txlock=immediate) so a writer on another handle to the
  same file waits out busy_timeout instead of failing on the lock
  upgrade. Committed reads go straight to the pool; in WAL mode they
  never block on the writer.

TIMESTAMPS:
  Stored as INTEGER unix nanoseconds, returned in UTC.

USAGE:
  store, err := sqlite.New("./data/escrow.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := escrow.NewEngine(store, catalog.Default(), escrow.Options{})

SEE ALSO:
  - escrow/store.go: Interface definitions
  - escrow/storetest: Conformance suite
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hypehub/task-escrow/escrow"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	DriverCGO    = "sqlite3"
	DriverPureGo = "sqlite"
)

// Store implements escrow.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

var _ escrow.Store = (*Store)(nil)

// New opens a SQLite store with the cgo driver.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(dbPath, DriverCGO)
}

// Open opens a SQLite store with the named driver.
func Open(dbPath, driver string) (*Store, error) {
	dsn, err := buildDSN(dbPath, driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database lives on one connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(8)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func buildDSN(dbPath, driver string) (string, error) {
	switch driver {
	case DriverCGO:
		return dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", nil
	case DriverPureGo:
		return dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate", nil
	default:
		return "", fmt.Errorf("unknown sqlite driver %q (want %q or %q)", driver, DriverCGO, DriverPureGo)
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Point balances
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		points INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
		created_at INTEGER NOT NULL
	);

	-- Tasks (immutable except completion_count)
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		creator_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		action TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		url TEXT NOT NULL,
		reward INTEGER NOT NULL CHECK (reward > 0),
		is_official INTEGER NOT NULL DEFAULT 0,
		completion_count INTEGER NOT NULL DEFAULT 0 CHECK (completion_count >= 0),
		created_at INTEGER NOT NULL
	);

	-- Listing order: official first, reward descending, newest first
	CREATE INDEX IF NOT EXISTS idx_tasks_listing
		ON tasks(is_official DESC, reward DESC, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_tasks_creator
		ON tasks(creator_id);

	-- CRITICAL: one completion per (task, user)
	CREATE TABLE IF NOT EXISTS completions (
		task_id TEXT NOT NULL REFERENCES tasks(id),
		user_id TEXT NOT NULL,
		reward INTEGER NOT NULL,
		completed_at INTEGER NOT NULL,
		credited_at INTEGER,
		PRIMARY KEY (task_id, user_id)
	);

	-- Recovery scan
	CREATE INDEX IF NOT EXISTS idx_completions_uncredited
		ON completions(completed_at) WHERE credited_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_completions_user
		ON completions(user_id);

	-- Balance history (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		task_id TEXT,
		idempotency_key TEXT NOT NULL UNIQUE,
		balance_after INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_user
		ON ledger_entries(user_id, seq DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a SQL transaction.
func (s *Store) WithTx(ctx context.Context, fn func(escrow.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txStore struct {
	q queryer
}

func (t *txStore) CreateUser(ctx context.Context, u escrow.User) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO users (id, points, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		string(u.ID), u.Points, toNanos(u.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to create user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *txStore) Balance(ctx context.Context, id escrow.UserID) (int64, error) {
	return balance(ctx, t.q, id)
}

func (t *txStore) Debit(ctx context.Context, id escrow.UserID, amount int64) (int64, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE users SET points = points - ? WHERE id = ? AND points >= ?`,
		amount, string(id), amount)
	if err != nil {
		return 0, fmt.Errorf("failed to debit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	current, err := balance(ctx, t.q, id)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, escrow.NewInsufficientBalance(id, current, amount)
	}
	return current, nil
}

func (t *txStore) Credit(ctx context.Context, id escrow.UserID, amount int64) (int64, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE users SET points = points + ? WHERE id = ?`, amount, string(id))
	if err != nil {
		return 0, fmt.Errorf("failed to credit: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, escrow.ErrUserNotFound
	}
	return balance(ctx, t.q, id)
}

func (t *txStore) InsertTask(ctx context.Context, task escrow.Task) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO tasks (id, creator_id, platform, action, title, description, url,
			reward, is_official, completion_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(task.ID), string(task.CreatorID), task.Platform, task.Action,
		task.Title, task.Description, task.URL, task.Reward, task.IsOfficial,
		task.CompletionCount, toNanos(task.CreatedAt))
	if err != nil {
		if mapped := mapConstraintError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (t *txStore) GetTask(ctx context.Context, id escrow.TaskID) (escrow.Task, error) {
	return getTask(ctx, t.q, id)
}

func (t *txStore) IncrementCompletions(ctx context.Context, id escrow.TaskID) (int64, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE tasks SET completion_count = completion_count + 1 WHERE id = ?`, string(id))
	if err != nil {
		return 0, fmt.Errorf("failed to increment completions: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, escrow.ErrTaskNotFound
	}
	var count int64
	err = t.q.QueryRowContext(ctx, `SELECT completion_count FROM tasks WHERE id = ?`, string(id)).Scan(&count)
	return count, err
}

func (t *txStore) InsertCompletion(ctx context.Context, c escrow.Completion) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO completions (task_id, user_id, reward, completed_at, credited_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(c.TaskID), string(c.UserID), c.Reward, toNanos(c.CompletedAt), nullNanos(c.CreditedAt))
	if err != nil {
		if mapped := mapConstraintError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert completion: %w", err)
	}
	return nil
}

func (t *txStore) GetCompletion(ctx context.Context, task escrow.TaskID, user escrow.UserID) (escrow.Completion, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT task_id, user_id, reward, completed_at, credited_at
		FROM completions WHERE task_id = ? AND user_id = ?`, string(task), string(user))
	c, err := scanCompletion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.Completion{}, escrow.ErrCompletionNotFound
	}
	return c, err
}

func (t *txStore) MarkCredited(ctx context.Context, task escrow.TaskID, user escrow.UserID, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE completions SET credited_at = ?
		WHERE task_id = ? AND user_id = ? AND credited_at IS NULL`,
		toNanos(at), string(task), string(user))
	if err != nil {
		return false, fmt.Errorf("failed to mark completion credited: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *txStore) AppendEntry(ctx context.Context, e escrow.Entry) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, kind, amount, task_id, idempotency_key, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.UserID), string(e.Kind), e.Amount, nullString(string(e.TaskID)),
		e.IdempotencyKey, e.BalanceAfter, toNanos(e.CreatedAt))
	if err != nil {
		if mapped := mapConstraintError(err); mapped != nil {
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
	var (
		u       escrow.User
		uid     string
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, points, created_at FROM users WHERE id = ?`, string(id)).Scan(&uid, &u.Points, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.User{}, escrow.ErrUserNotFound
	}
	if err != nil {
		return escrow.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	u.ID = escrow.UserID(uid)
	u.CreatedAt = fromNanos(created)
	return u, nil
}

func (s *Store) GetTask(ctx context.Context, id escrow.TaskID) (escrow.Task, error) {
	return getTask(ctx, s.db, id)
}

func (s *Store) ListTasks(ctx context.Context, filter escrow.TaskFilter) ([]escrow.Task, error) {
	filter = filter.Normalize()

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1 = 1`
	var args []any
	if filter.Platform != "" {
		query += ` AND platform = ?`
		args = append(args, filter.Platform)
	}
	if filter.CreatorID != "" {
		query += ` AND creator_id = ?`
		args = append(args, string(filter.CreatorID))
	}
	if filter.Official != nil {
		query += ` AND is_official = ?`
		args = append(args, *filter.Official)
	}
	query += ` ORDER BY is_official DESC, reward DESC, created_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []escrow.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) IsCompleted(ctx context.Context, task escrow.TaskID, user escrow.UserID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM completions
		WHERE task_id = ? AND user_id = ? AND credited_at IS NOT NULL`,
		string(task), string(user)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check completion: %w", err)
	}
	return n > 0, nil
}

func (s *Store) CompletedTaskIDs(ctx context.Context, user escrow.UserID) ([]escrow.TaskID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id FROM completions
		WHERE user_id = ? AND credited_at IS NOT NULL ORDER BY task_id`, string(user))
	if err != nil {
		return nil, fmt.Errorf("failed to list completed tasks: %w", err)
	}
	defer rows.Close()

	var ids []escrow.TaskID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, escrow.TaskID(id))
	}
	return ids, rows.Err()
}

func (s *Store) ListUncredited(ctx context.Context, after escrow.RecoveryCursor, limit int) ([]escrow.Completion, error) {
	if limit <= 0 {
		limit = escrow.DefaultRecoveryBatch
	}
	query := `SELECT task_id, user_id, reward, completed_at, credited_at
		FROM completions WHERE credited_at IS NULL`
	var args []any
	if !after.IsZero() {
		query += ` AND (completed_at, task_id, user_id) > (?, ?, ?)`
		args = append(args, toNanos(after.CompletedAt), string(after.TaskID), string(after.UserID))
	}
	query += ` ORDER BY completed_at, task_id, user_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncredited completions: %w", err)
	}
	defer rows.Close()

	var out []escrow.Completion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) EntryByKey(ctx context.Context, key string) (escrow.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE idempotency_key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.Entry{}, escrow.ErrEntryNotFound
	}
	return e, err
}

func (s *Store) ListEntries(ctx context.Context, user escrow.UserID, limit int) ([]escrow.Entry, error) {
	if limit <= 0 {
		limit = escrow.DefaultEntriesLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE user_id = ? ORDER BY seq DESC LIMIT ?`,
		string(user), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var out []escrow.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SHARED QUERIES & SCANNING
// =============================================================================

const taskColumns = `id, creator_id, platform, action, title, description, url,
	reward, is_official, completion_count, created_at`

const entryColumns = `id, user_id, kind, amount, task_id, idempotency_key, balance_after, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func balance(ctx context.Context, q queryer, id escrow.UserID) (int64, error) {
	var points int64
	err := q.QueryRowContext(ctx, `SELECT points FROM users WHERE id = ?`, string(id)).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, escrow.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return points, nil
}

func getTask(ctx context.Context, q queryer, id escrow.TaskID) (escrow.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, string(id))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.Task{}, escrow.ErrTaskNotFound
	}
	return t, err
}

func scanTask(row scanner) (escrow.Task, error) {
	var (
		t           escrow.Task
		id, creator string
		official    bool
		created     int64
	)
	err := row.Scan(&id, &creator, &t.Platform, &t.Action, &t.Title, &t.Description, &t.URL,
		&t.Reward, &official, &t.CompletionCount, &created)
	if err != nil {
		return escrow.Task{}, err
	}
	t.ID = escrow.TaskID(id)
	t.CreatorID = escrow.UserID(creator)
	t.IsOfficial = official
	t.CreatedAt = fromNanos(created)
	return t, nil
}

func scanCompletion(row scanner) (escrow.Completion, error) {
	var (
		c          escrow.Completion
		task, user string
		completed  int64
		credited   sql.NullInt64
	)
	if err := row.Scan(&task, &user, &c.Reward, &completed, &credited); err != nil {
		return escrow.Completion{}, err
	}
	c.TaskID = escrow.TaskID(task)
	c.UserID = escrow.UserID(user)
	c.CompletedAt = fromNanos(completed)
	if credited.Valid {
		at := fromNanos(credited.Int64)
		c.CreditedAt = &at
	}
	return c, nil
}

func scanEntry(row scanner) (escrow.Entry, error) {
	var (
		e       escrow.Entry
		user    string
		kind    string
		task    sql.NullString
		created int64
	)
	err := row.Scan(&e.ID, &user, &kind, &e.Amount, &task, &e.IdempotencyKey, &e.BalanceAfter, &created)
	if err != nil {
		return escrow.Entry{}, err
	}
	e.UserID = escrow.UserID(user)
	e.Kind = escrow.EntryKind(kind)
	e.TaskID = escrow.TaskID(task.String)
	e.CreatedAt = fromNanos(created)
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// mapConstraintError translates constraint violations into escrow errors.
// Both drivers report the failing table and columns in the message.
func mapConstraintError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		switch {
		case strings.Contains(msg, "completions."):
			return escrow.ErrDuplicateCompletion
		case strings.Contains(msg, "ledger_entries.idempotency_key"):
			return escrow.ErrDuplicateIdempotencyKey
		case strings.Contains(msg, "tasks.id"):
			return escrow.ErrDuplicateTask
		}
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return escrow.ErrTaskNotFound
	}
	return nil
}
