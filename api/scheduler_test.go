package api

import (
	"context"
	"errors"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewReconciliationScheduler_RejectsBadSchedule(t *testing.T) {
	h := setupTestHandler(t)
	_, err := NewReconciliationScheduler(h.Reconciler, "every tuesday", nil)
	assert.Error(t, err)
}

func TestReconciliationScheduler_RunNowRecordsReport(t *testing.T) {
	// GIVEN: The unbalanced-books scenario
	// WHEN: Running the scheduled check by hand
	// THEN: The last run holds the out-of-balance report

	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "unbalanced-books"))

	rs, err := NewReconciliationScheduler(h.Reconciler, "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultReconcileSchedule, rs.Schedule)
	assert.Nil(t, rs.LastRun().Report)

	report, err := rs.RunNow(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent)

	last := rs.LastRun()
	require.NotNil(t, last.Report)
	assert.NoError(t, last.Err)
	assert.Equal(t, "30000", last.Report.Discrepancy.String())
	assert.False(t, last.StartedAt.IsZero())
}

func TestReconciliationScheduler_StartStop(t *testing.T) {
	h := setupTestHandler(t)
	rs, err := NewReconciliationScheduler(h.Reconciler, "*/5 * * * *", nil)
	require.NoError(t, err)

	assert.True(t, rs.GetNextRunTime().IsZero())
	require.NoError(t, rs.Start())
	assert.False(t, rs.GetNextRunTime().IsZero())

	rs.Stop()
	assert.True(t, rs.GetNextRunTime().IsZero())
	rs.Stop()
}

func TestReconciliationScheduler_Disabled(t *testing.T) {
	h := setupTestHandler(t)
	rs, err := NewReconciliationScheduler(h.Reconciler, "", nil)
	require.NoError(t, err)
	rs.Enabled = false

	require.NoError(t, rs.Start())
	assert.True(t, rs.GetNextRunTime().IsZero())
}

func TestCronLogger_RoutesThroughZap(t *testing.T) {
	// GIVEN: A scheduler logging to an observed zap core
	// WHEN: cron reports a recovered panic and an info message
	// THEN: The panic is a zap error entry, the info message is debug

	core, logs := observer.New(zapcore.DebugLevel)
	l := cronLogger{zap.New(core).Sugar()}

	l.Error(errors.New("boom"), "panic", "stack", "...")
	l.Info("skip", "entry", 1)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "panic", entries[0].Message)
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "skip", entries[1].Message)
}

func TestReconciliationScheduler_RecoveredPanicIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rs, err := NewReconciliationScheduler(nil, "", zap.New(core))
	require.NoError(t, err)

	// A nil reconciler panics inside the job; cron.Recover must catch it
	// and report it through zap.
	logger := cronLogger{rs.Logger.Sugar()}
	job := cron.NewChain(cron.Recover(logger)).Then(cron.FuncJob(func() { rs.RunNow(context.Background()) }))
	assert.NotPanics(t, job.Run)

	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessage("panic").Len())
}
