/*
scheduler.go - Scheduled balance reconciliation

PURPOSE:
  Runs the category vs account reconciliation on a cron schedule and logs
  a warning whenever the two views disagree by more than the tolerance.
  The discrepancy gauge in package metrics is updated by every run, so an
  alert can be set on it.

DESIGN:
  - robfig/cron drives the schedule (standard 5-field spec, e.g. "0 2 * * *")
  - One run at a time: cron.SkipIfStillRunning
  - cron's own logging (panics, skipped runs) goes through zap
  - The last report is kept for the admin endpoint and for tests

CONFIGURATION:
  - Schedule: cron spec (config key reconcile.schedule)
  - Enabled:  whether the scheduler starts at all (reconcile.enabled)

USAGE:
  scheduler, err := NewReconciliationScheduler(reconciler, "0 2 * * *", logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GetReconciliation (on-demand report)
  - billing/balance.go: BalanceReconciler
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/estate-ledger/billing"
)

// DefaultReconcileSchedule runs the check every night at 02:00.
const DefaultReconcileSchedule = "0 2 * * *"

// ReconciliationScheduler handles automated reconciliation checks.
type ReconciliationScheduler struct {
	Reconciler *billing.BalanceReconciler
	Schedule   string
	Enabled    bool
	Logger     *zap.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	mu      sync.Mutex

	last    *billing.ReconciliationReport
	lastErr error
	lastRun time.Time
}

// NewReconciliationScheduler validates the cron schedule up front; an empty
// schedule means DefaultReconcileSchedule.
func NewReconciliationScheduler(reconciler *billing.BalanceReconciler, schedule string, logger *zap.Logger) (*ReconciliationScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return &ReconciliationScheduler{
		Reconciler: reconciler,
		Schedule:   schedule,
		Enabled:    true,
		Logger:     logger.With(zap.String("component", "scheduler")),
	}, nil
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("reconciliation scheduler disabled, not starting")
		return nil
	}
	if rs.cron != nil {
		return nil
	}

	logger := cronLogger{rs.Logger.Sugar()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := c.AddFunc(rs.Schedule, func() { rs.RunNow(context.Background()) })
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}
	c.Start()
	rs.cron, rs.entryID = c, id

	rs.Logger.Info("reconciliation scheduler started",
		zap.String("schedule", rs.Schedule),
		zap.Time("next_run", c.Entry(id).Next),
	)
	return nil
}

// Stop stops the scheduler and waits for a running check to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	c := rs.cron
	rs.cron = nil
	rs.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	rs.Logger.Info("reconciliation scheduler stopped")
}

// RunNow runs a reconciliation immediately and records the result.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) (billing.ReconciliationReport, error) {
	started := time.Now()
	report, err := rs.Reconciler.Reconcile(ctx, nil)

	rs.mu.Lock()
	rs.lastRun = started
	rs.lastErr = err
	if err == nil {
		rs.last = &report
	}
	rs.mu.Unlock()

	switch {
	case err != nil:
		rs.Logger.Error("scheduled reconciliation failed", zap.Error(err))
	case !report.Consistent:
		rs.Logger.Warn("books out of balance",
			zap.String("category_total", report.CategoryTotal.String()),
			zap.String("escrow_total", report.EscrowTotal.String()),
			zap.String("account_total", report.AccountTotal.String()),
			zap.String("discrepancy", report.Discrepancy.String()),
			zap.Int("untagged_entries", report.UntaggedEntries),
			zap.Int("unassigned_entries", report.UnassignedEntries),
		)
	default:
		rs.Logger.Info("books balanced",
			zap.String("account_total", report.AccountTotal.String()),
			zap.Duration("duration", time.Since(started)),
		)
	}
	return report, err
}

// ScheduledRun is the outcome of the most recent reconciliation check.
type ScheduledRun struct {
	// Nil before the first successful run.
	Report    *billing.ReconciliationReport
	Err       error
	StartedAt time.Time
}

func (rs *ReconciliationScheduler) LastRun() ScheduledRun {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return ScheduledRun{Report: rs.last, Err: rs.lastErr, StartedAt: rs.lastRun}
}

// GetNextRunTime returns when the next scheduled check will occur, or the
// zero time when the scheduler is not running.
func (rs *ReconciliationScheduler) GetNextRunTime() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.cron == nil {
		return time.Time{}
	}
	return rs.cron.Entry(rs.entryID).Next
}

// cronLogger routes cron's own messages (recovered panics, skipped runs)
// through zap. cron's info chatter goes to debug.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
