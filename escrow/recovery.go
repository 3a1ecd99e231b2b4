package escrow

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/hypehub/task-escrow/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultRecoveryBatch is the number of rows one Recover call scans.
const DefaultRecoveryBatch = 100

// RecoveryReport summarizes one recovery pass.
type RecoveryReport struct {
	Scanned int `json:"scanned"`
	Settled int `json:"settled"`
	Failed  int `json:"failed"`
}

// Recover credits completion rows that were inserted but never settled.
// Each row settles in its own transaction; the credited_at guard makes a
// row that another caller settles concurrently a no-op here.
//
// Consecutive calls walk the backlog with a cursor and start over from the
// oldest row once a scan comes back short, so rows that keep failing are
// retried once per sweep and never hide the rows behind them.
func (e *Engine) Recover(ctx context.Context, batch int) (RecoveryReport, error) {
	if batch <= 0 {
		batch = DefaultRecoveryBatch
	}
	e.recoveryMu.Lock()
	after := e.recoveryCursor
	e.recoveryMu.Unlock()

	rows, err := e.store.ListUncredited(ctx, after, batch)
	if err != nil {
		return RecoveryReport{}, Unavailable("list_uncredited", err)
	}

	next := RecoveryCursor{}
	if len(rows) == batch {
		next = CursorAt(rows[len(rows)-1])
	}
	e.recoveryMu.Lock()
	e.recoveryCursor = next
	e.recoveryMu.Unlock()

	var settled, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.recoveryConcurrency)

	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		row := row
		g.Go(func() error {
			task, res, err := e.settleExisting(ctx, "recover_completion", row.TaskID, row.UserID)
			switch {
			case errors.Is(err, errSettled):
			case err != nil:
				failed.Add(1)
				metrics.RecoveryFailures.Inc()
				e.log.Error("recovery: settle failed", slogTask(row.TaskID), slogUser(row.UserID), slogErr(err))
			default:
				settled.Add(1)
				metrics.RecoverySettled.Inc()
				e.credited(ctx, task, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := RecoveryReport{Scanned: len(rows), Settled: int(settled.Load()), Failed: int(failed.Load())}
	if report.Scanned > 0 {
		e.log.Info("recovery pass finished",
			"scanned", report.Scanned, "settled", report.Settled, "failed", report.Failed)
	}
	return report, ctx.Err()
}
