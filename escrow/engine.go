/*
engine.go - Task escrow engine

PURPOSE:
  Ties the Task Registry, the Completion Ledger, the Reward Policy and the
  account operations to one Store. Every state change runs through inTx.

TRANSACTIONS:
  Ledger transactions run on a context detached from the caller's
  cancellation and bounded by TxTimeout. A caller that disconnects
  mid-request does not abort the transaction; it commits or rolls back
  on its own.

NOTIFICATIONS:
  Events are sent after commit only. A failed or slow notifier never
  affects the ledger.

SEE ALSO:
  - registry.go: createTask, listTasks
  - ledger.go: completeTask, completionStatus
  - recovery.go: settling uncredited completion rows
  - accounts.go: account provisioning, purchases, history
*/
package escrow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hypehub/task-escrow/catalog"
	"github.com/hypehub/task-escrow/metrics"
)

// DefaultTxTimeout bounds one ledger transaction.
const DefaultTxTimeout = 10 * time.Second

// Options configures an Engine. Zero values get defaults.
type Options struct {
	Notifier     Notifier
	Logger       *slog.Logger
	Now          func() time.Time
	NewID        func() string
	TxTimeout    time.Duration
	SignupPoints int64

	// RecoveryConcurrency bounds parallel settlements in Recover.
	RecoveryConcurrency int
}

// Engine is safe for concurrent use.
type Engine struct {
	store    Store
	catalog  *catalog.Catalog
	policy   RewardPolicy
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
	newID    func() string

	txTimeout           time.Duration
	signupPoints        int64
	recoveryConcurrency int

	// recoveryMu guards recoveryCursor, where the next Recover scan starts.
	recoveryMu     sync.Mutex
	recoveryCursor RecoveryCursor
}

// NewEngine creates an engine over store and a read-only catalog.
func NewEngine(store Store, cat *catalog.Catalog, opts Options) *Engine {
	e := &Engine{
		store:               store,
		catalog:             cat,
		policy:              NewRewardPolicy(cat),
		notifier:            opts.Notifier,
		log:                 opts.Logger,
		now:                 opts.Now,
		newID:               opts.NewID,
		txTimeout:           opts.TxTimeout,
		signupPoints:        opts.SignupPoints,
		recoveryConcurrency: opts.RecoveryConcurrency,
	}
	if e.notifier == nil {
		e.notifier = NopNotifier{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.NewString() }
	}
	if e.txTimeout <= 0 {
		e.txTimeout = DefaultTxTimeout
	}
	if e.recoveryConcurrency <= 0 {
		e.recoveryConcurrency = 4
	}
	return e
}

// Catalog returns the engine's action catalog.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Policy returns the engine's reward policy.
func (e *Engine) Policy() RewardPolicy {
	return e.policy
}

// Store returns the underlying store.
func (e *Engine) Store() Store {
	return e.store
}

// inTx runs fn in one store transaction, detached from ctx cancellation.
// fn receives the detached context and must use it for every Tx call.
func (e *Engine) inTx(ctx context.Context, op string, fn func(context.Context, Tx) error) error {
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.txTimeout)
	defer cancel()

	start := time.Now()
	err := e.store.WithTx(txCtx, func(tx Tx) error {
		return fn(txCtx, tx)
	})
	metrics.ObserveTx(op, time.Since(start))
	return Unavailable(op, err)
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.now()
	}
	e.notifier.Notify(context.WithoutCancel(ctx), ev)
}
