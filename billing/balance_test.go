package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/billing/store"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name        string
		categories  int64
		escrow      int64
		accounts    int64
		consistent  bool
		discrepancy int64
	}{
		{"balanced with escrow", 500000, 20000, 520000, true, 0},
		{"accounts short", 500000, 20000, 510000, false, 10000},
		{"accounts over", 500000, 0, 500500, false, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := billing.Compare(money(tt.categories), money(tt.escrow), money(tt.accounts), billing.DefaultTolerance)
			assert.Equal(t, tt.consistent, r.Consistent)
			assertMoney(t, tt.discrepancy, r.Discrepancy)
		})
	}
}

func TestCompare_WithinTolerance(t *testing.T) {
	cent, err := billing.ParseMoney("500000.01")
	require.NoError(t, err)

	r := billing.Compare(money(500000), money(0), cent, billing.DefaultTolerance)
	assert.True(t, r.Consistent)
	assert.Equal(t, "0.01", r.Discrepancy.String())
}

func seedFinance(t *testing.T, s *store.Memory) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveAccount(ctx, billing.Account{ID: "bank", Name: "Bank", StartingBalance: money(300000)}))
	require.NoError(t, s.SaveAccount(ctx, billing.Account{ID: "cash", Name: "Cash", StartingBalance: money(100000)}))
	require.NoError(t, s.SaveCategory(ctx, billing.Category{ID: "water", Name: "Water", StartingBalance: money(250000)}))
	require.NoError(t, s.SaveCategory(ctx, billing.Category{ID: "ipl", Name: "IPL", StartingBalance: money(150000)}))

	require.NoError(t, s.SaveEntry(ctx, billing.Entry{
		ID: "e1", Date: date(2025, time.January, 10), Direction: billing.Inflow,
		Amount: money(120000), AccountID: "bank", CategoryID: "water",
	}))
	require.NoError(t, s.SaveEntry(ctx, billing.Entry{
		ID: "e2", Date: date(2025, time.January, 20), Direction: billing.Outflow,
		Amount: money(20000), AccountID: "cash", CategoryID: "ipl",
	}))
	require.NoError(t, s.SaveTransfer(ctx, billing.Transfer{
		ID: "t1", Date: date(2025, time.January, 25), From: "bank", To: "cash", Amount: money(50000),
	}))
	require.NoError(t, s.SaveEscrowDeposit(ctx, billing.EscrowDeposit{
		ID: "d1", Date: date(2025, time.February, 5), AccountID: "bank", ResidentID: "res-A-1", Amount: money(20000),
	}))
}

func TestBalanceReconciler_Consistent(t *testing.T) {
	// GIVEN: Categories end at 500,000, escrow holds 20,000, accounts end at 520,000
	// WHEN: Reconciling
	// THEN: The two views agree

	s := store.NewMemory()
	seedFinance(t, s)

	report, err := billing.NewBalanceReconciler(s, nil).Reconcile(context.Background(), nil)
	require.NoError(t, err)

	assertMoney(t, 500000, report.CategoryTotal)
	assertMoney(t, 20000, report.EscrowTotal)
	assertMoney(t, 520000, report.AccountTotal)
	assert.True(t, report.Consistent)

	// Transfers move money between accounts without changing the total.
	require.Len(t, report.Accounts, 2)
	bank := report.Accounts[0]
	assert.Equal(t, "Bank", bank.Account.Name)
	assertMoney(t, 50000, bank.TransfersOut)
	assertMoney(t, 390000, bank.Ending)

	require.Len(t, report.Categories, 2)
	assert.Equal(t, "IPL", report.Categories[0].Category.Name)
	assertMoney(t, 130000, report.Categories[0].Ending)
}

func TestBalanceReconciler_UntaggedEntryIsADiscrepancy(t *testing.T) {
	// GIVEN: An extra 10,000 inflow credited to an account but tagged with no known category
	ctx := context.Background()
	s := store.NewMemory()
	seedFinance(t, s)
	require.NoError(t, s.SaveEntry(ctx, billing.Entry{
		ID: "e3", Date: date(2025, time.February, 1), Direction: billing.Inflow,
		Amount: money(10000), AccountID: "bank",
	}))

	report, err := billing.NewBalanceReconciler(s, nil).Reconcile(ctx, nil)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assertMoney(t, 10000, report.Discrepancy)
	assertMoney(t, 10000, report.Difference)
	assert.Equal(t, 1, report.UntaggedEntries)
	assert.Equal(t, 0, report.UnassignedEntries)
}

func TestBalanceReconciler_AsOfCutsOffLaterMovements(t *testing.T) {
	s := store.NewMemory()
	seedFinance(t, s)

	asOf := date(2025, time.January, 31)
	report, err := billing.NewBalanceReconciler(s, nil).Reconcile(context.Background(), &asOf)
	require.NoError(t, err)

	assertMoney(t, 0, report.EscrowTotal)
	assertMoney(t, 500000, report.AccountTotal)
	assert.True(t, report.Consistent)
	require.NotNil(t, report.AsOf)
}

func TestBalanceReconciler_Empty(t *testing.T) {
	report, err := billing.NewBalanceReconciler(store.NewMemory(), nil).Reconcile(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assertMoney(t, 0, report.AccountTotal)
}

func TestDefaultTolerance(t *testing.T) {
	assert.Equal(t, "0.01", billing.DefaultTolerance.String())

	r := billing.NewBalanceReconciler(store.NewMemory(), nil)
	assert.True(t, r.Tolerance.Equal(billing.DefaultTolerance))
}
