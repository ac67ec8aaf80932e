package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/estate-ledger/config"
	"github.com/warp/estate-ledger/ipl"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLI_SeedThenReconcile(t *testing.T) {
	// GIVEN: A fresh database file
	// WHEN: Seeding the neighborhood scenario and reconciling
	// THEN: The books balance

	db := filepath.Join(t.TempDir(), "data", "estate.db")

	out, err := execute(t, "seed", "--db", db, "--log-level", "error")
	require.NoError(t, err, out)
	assert.Contains(t, out, "loaded scenario neighborhood")

	out, err = execute(t, "reconcile", "--db", db, "--log-level", "error")
	require.NoError(t, err, out)
	assert.Contains(t, out, "accounts    9790000")
	assert.Contains(t, out, "consistent")
}

func TestCLI_ReconcileFailsWhenOutOfBalance(t *testing.T) {
	db := filepath.Join(t.TempDir(), "estate.db")

	_, err := execute(t, "seed", "--db", db, "--scenario", "unbalanced-books", "--log-level", "error")
	require.NoError(t, err)

	out, err := execute(t, "reconcile", "--db", db, "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of balance by 30000")
	assert.Contains(t, out, "untagged entries 1")
}

func TestCLI_Migrate(t *testing.T) {
	db := filepath.Join(t.TempDir(), "estate.db")

	out, err := execute(t, "migrate", "--db", db, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 2")
}

func TestCLI_UnknownScenario(t *testing.T) {
	db := filepath.Join(t.TempDir(), "estate.db")
	_, err := execute(t, "seed", "--db", db, "--scenario", "nope", "--log-level", "error")
	assert.Error(t, err)
}

func TestHandlerOptions(t *testing.T) {
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	cfg.Billing.IPL.TierPriority = "vacancy_first"
	cfg.Billing.IPL.AllowCrossTierFallback = true

	opts := handlerOptions(cfg)
	assert.Equal(t, 30, opts.DueDays)
	assert.Equal(t, ipl.VacancyFirst, opts.TierPriority)
	assert.True(t, opts.AllowCrossTierFallback)
	assert.Equal(t, "0.3", opts.Detector.MaxDropRatio.String())
	assert.Equal(t, "0.01", opts.Tolerance.String())
}
