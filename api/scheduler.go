/*
scheduler.go - Automated completion recovery

PURPOSE:
  Periodically settles completion rows that were recorded but never
  credited, so a crash between the two halves of a completion is repaired
  without anyone retrying it.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs one pass immediately on start
  - Each pass drains up to Batch rows; a full batch triggers another pass
    right away, bounded by maxPassesPerTick

USAGE:
  scheduler := NewRecoveryScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunRecovery endpoint (manual recovery)
  - escrow/recovery.go: Recover
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hypehub/task-escrow/escrow"
)

const maxPassesPerTick = 10

// recoverer is the part of the engine the scheduler drives.
type recoverer interface {
	Recover(ctx context.Context, batch int) (escrow.RecoveryReport, error)
}

// RecoveryScheduler runs escrow recovery on an interval.
type RecoveryScheduler struct {
	CheckInterval time.Duration
	Batch         int
	Enabled       bool

	engine recoverer
	log    *slog.Logger

	mu      sync.Mutex
	ticker  *time.Ticker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun time.Time
}

// NewRecoveryScheduler creates a scheduler with a one minute interval.
func NewRecoveryScheduler(engine recoverer, log *slog.Logger) *RecoveryScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &RecoveryScheduler{
		CheckInterval: time.Minute,
		Batch:         escrow.DefaultRecoveryBatch,
		Enabled:       true,
		engine:        engine,
		log:           log.With("component", "recovery"),
	}
}

// Start begins the scheduler.
func (rs *RecoveryScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.log.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)
	go rs.run(ctx, rs.ticker)

	rs.log.Info("scheduler started", "interval", rs.CheckInterval, "batch", rs.Batch)
}

// Stop stops the scheduler and waits for a running pass to finish.
func (rs *RecoveryScheduler) Stop() {
	rs.mu.Lock()
	if rs.ticker == nil {
		rs.mu.Unlock()
		return
	}
	rs.ticker.Stop()
	rs.cancel()
	rs.ticker = nil
	rs.mu.Unlock()

	rs.wg.Wait()
	rs.log.Info("scheduler stopped")
}

func (rs *RecoveryScheduler) run(ctx context.Context, ticker *time.Ticker) {
	defer rs.wg.Done()

	rs.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow drains pending completions immediately and returns the totals.
func (rs *RecoveryScheduler) RunNow(ctx context.Context) escrow.RecoveryReport {
	batch := rs.Batch
	if batch <= 0 {
		batch = escrow.DefaultRecoveryBatch
	}

	var total escrow.RecoveryReport
	for pass := 0; pass < maxPassesPerTick; pass++ {
		report, err := rs.engine.Recover(ctx, batch)
		total.Scanned += report.Scanned
		total.Settled += report.Settled
		total.Failed += report.Failed
		if err != nil {
			if ctx.Err() == nil {
				rs.log.Error("recovery pass failed", "error", err)
			}
			break
		}
		// A short batch means the sweep reached the newest row.
		if report.Scanned < batch {
			break
		}
	}

	rs.mu.Lock()
	rs.lastRun = time.Now()
	rs.mu.Unlock()

	if total.Settled > 0 || total.Failed > 0 {
		rs.log.Info("recovery completed", "settled", total.Settled, "failed", total.Failed)
	}
	return total
}

// LastRun returns when the last pass finished.
func (rs *RecoveryScheduler) LastRun() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastRun
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *RecoveryScheduler) GetNextRunTime() time.Time {
	return rs.LastRun().Add(rs.CheckInterval)
}
