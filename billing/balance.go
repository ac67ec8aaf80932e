/*
balance.go - Cross-checking balances computed two independent ways

PURPOSE:
  The same pool of money is tracked twice: by category (what the money is
  for) and by account (where the money sits). The reconciler computes both
  views from the store and reports whether they agree.

VIEWS:
  Category ending = start + Σ inflows tagged to it - Σ outflows tagged to it

  Account ending  = start + Σ inflows credited - Σ outflows debited
                    + Σ transfers in - Σ transfers out
                    + Σ escrow deposits held in the account

IDENTITY:
  Σ category endings + Σ escrow == Σ account endings

  Escrow deposits (money held for a resident) sit in an account but belong
  to no category, which is why they are added on the category side.
  A difference above Tolerance (0.01 by default) is a data-quality warning,
  never an error. Entries whose category or account is unknown only show up
  on one side and surface as a discrepancy; they are counted in the report.

EXAMPLE:
  categories 500,000 + escrow 20,000 vs accounts 520,000 -> consistent
  categories 500,000 + escrow 20,000 vs accounts 510,000 -> discrepancy 10,000

SEE ALSO:
  - api/scheduler.go: Periodic reconciliation
*/
package billing

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/estate-ledger/metrics"
)

// =============================================================================
// FINANCE RECORDS
// =============================================================================

type Account struct {
	ID              AccountID
	Name            string
	StartingBalance Money
}

type Category struct {
	ID              CategoryID
	Name            string
	StartingBalance Money
}

type Direction string

const (
	Inflow  Direction = "in"
	Outflow Direction = "out"
)

// Entry is a cash movement credited or debited to an account and tagged
// with a category.
type Entry struct {
	ID          string
	Date        TimePoint
	Direction   Direction
	Amount      Money
	AccountID   AccountID
	CategoryID  CategoryID
	Description string
}

// Transfer moves money between accounts. Only the account view sees it.
type Transfer struct {
	ID     string
	Date   TimePoint
	From   AccountID
	To     AccountID
	Amount Money
	Note   string
}

// EscrowDeposit is money held on behalf of a resident inside an account.
type EscrowDeposit struct {
	ID         string
	Date       TimePoint
	AccountID  AccountID
	ResidentID ResidentID
	Amount     Money
	Note       string
}

// =============================================================================
// VIEW RESULTS
// =============================================================================

type CategoryBalance struct {
	Category Category
	Inflows  Money
	Outflows Money
	Ending   Money
}

type AccountBalance struct {
	Account      Account
	Inflows      Money
	Outflows     Money
	TransfersIn  Money
	TransfersOut Money
	Escrow       Money
	Ending       Money
}

type ReconciliationReport struct {
	AsOf       *TimePoint
	Categories []CategoryBalance
	Accounts   []AccountBalance

	CategoryTotal Money
	EscrowTotal   Money
	AccountTotal  Money

	// AccountTotal - (CategoryTotal + EscrowTotal)
	Difference  Money
	Discrepancy Money // |Difference|
	Tolerance   Money
	Consistent  bool

	// Entries that only one of the two views could place.
	UntaggedEntries   int
	UnassignedEntries int
}

// DefaultTolerance is the largest difference still reported as consistent.
var DefaultTolerance = MoneyOf(decimal.RequireFromString("0.01"))

// =============================================================================
// PURE CALCULATIONS
// =============================================================================

func onOrBefore(d TimePoint, asOf *TimePoint) bool {
	return asOf == nil || d.BeforeOrEqual(*asOf)
}

// CategoryView computes the ending balance of every category.
// The second return value counts entries whose category is unknown.
func CategoryView(categories []Category, entries []Entry, asOf *TimePoint) ([]CategoryBalance, int) {
	idx := make(map[CategoryID]int, len(categories))
	out := make([]CategoryBalance, len(categories))
	for i, c := range categories {
		idx[c.ID] = i
		out[i] = CategoryBalance{Category: c, Inflows: ZeroMoney(), Outflows: ZeroMoney()}
	}

	untagged := 0
	for _, e := range entries {
		if !onOrBefore(e.Date, asOf) {
			continue
		}
		i, ok := idx[e.CategoryID]
		if !ok {
			untagged++
			continue
		}
		switch e.Direction {
		case Inflow:
			out[i].Inflows = out[i].Inflows.Add(e.Amount)
		case Outflow:
			out[i].Outflows = out[i].Outflows.Add(e.Amount)
		}
	}

	for i := range out {
		out[i].Ending = out[i].Category.StartingBalance.Add(out[i].Inflows).Sub(out[i].Outflows)
	}
	return out, untagged
}

// AccountView computes the ending balance of every account, including
// transfers and escrow deposits. The second return value counts entries
// whose account is unknown.
func AccountView(accounts []Account, entries []Entry, transfers []Transfer, escrow []EscrowDeposit, asOf *TimePoint) ([]AccountBalance, int) {
	idx := make(map[AccountID]int, len(accounts))
	out := make([]AccountBalance, len(accounts))
	for i, a := range accounts {
		idx[a.ID] = i
		out[i] = AccountBalance{
			Account:      a,
			Inflows:      ZeroMoney(),
			Outflows:     ZeroMoney(),
			TransfersIn:  ZeroMoney(),
			TransfersOut: ZeroMoney(),
			Escrow:       ZeroMoney(),
		}
	}

	unassigned := 0
	for _, e := range entries {
		if !onOrBefore(e.Date, asOf) {
			continue
		}
		i, ok := idx[e.AccountID]
		if !ok {
			unassigned++
			continue
		}
		switch e.Direction {
		case Inflow:
			out[i].Inflows = out[i].Inflows.Add(e.Amount)
		case Outflow:
			out[i].Outflows = out[i].Outflows.Add(e.Amount)
		}
	}

	for _, t := range transfers {
		if !onOrBefore(t.Date, asOf) {
			continue
		}
		if i, ok := idx[t.From]; ok {
			out[i].TransfersOut = out[i].TransfersOut.Add(t.Amount)
		}
		if i, ok := idx[t.To]; ok {
			out[i].TransfersIn = out[i].TransfersIn.Add(t.Amount)
		}
	}

	for _, d := range escrow {
		if !onOrBefore(d.Date, asOf) {
			continue
		}
		if i, ok := idx[d.AccountID]; ok {
			out[i].Escrow = out[i].Escrow.Add(d.Amount)
		}
	}

	for i := range out {
		b := &out[i]
		b.Ending = b.Account.StartingBalance.
			Add(b.Inflows).Sub(b.Outflows).
			Add(b.TransfersIn).Sub(b.TransfersOut).
			Add(b.Escrow)
	}
	return out, unassigned
}

// EscrowTotal sums escrow deposits up to asOf.
func EscrowTotal(escrow []EscrowDeposit, asOf *TimePoint) Money {
	total := ZeroMoney()
	for _, d := range escrow {
		if onOrBefore(d.Date, asOf) {
			total = total.Add(d.Amount)
		}
	}
	return total
}

// Compare fills in the totals and the verdict of a report.
func Compare(categoryTotal, escrowTotal, accountTotal, tolerance Money) ReconciliationReport {
	diff := accountTotal.Sub(categoryTotal.Add(escrowTotal))
	return ReconciliationReport{
		CategoryTotal: categoryTotal,
		EscrowTotal:   escrowTotal,
		AccountTotal:  accountTotal,
		Difference:    diff,
		Discrepancy:   diff.Abs(),
		Tolerance:     tolerance,
		Consistent:    diff.Abs().LessThanOrEqual(tolerance),
	}
}

// =============================================================================
// RECONCILER
// =============================================================================

type BalanceReconciler struct {
	Store     FinanceStore
	Tolerance Money
	Logger    *zap.Logger
}

func NewBalanceReconciler(store FinanceStore, logger *zap.Logger) *BalanceReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceReconciler{Store: store, Tolerance: DefaultTolerance, Logger: logger}
}

// Reconcile loads both views and compares their totals. asOf limits the
// movements taken into account; nil means everything.
func (br *BalanceReconciler) Reconcile(ctx context.Context, asOf *TimePoint) (ReconciliationReport, error) {
	var (
		categories []Category
		accounts   []Account
		entries    []Entry
		transfers  []Transfer
		escrow     []EscrowDeposit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { categories, err = br.Store.ListCategories(gctx); return })
	g.Go(func() (err error) { accounts, err = br.Store.ListAccounts(gctx); return })
	g.Go(func() (err error) { entries, err = br.Store.ListEntries(gctx); return })
	g.Go(func() (err error) { transfers, err = br.Store.ListTransfers(gctx); return })
	g.Go(func() (err error) { escrow, err = br.Store.ListEscrowDeposits(gctx); return })
	if err := g.Wait(); err != nil {
		br.Logger.Error("reconciliation load failed", zap.Error(err))
		return ReconciliationReport{}, err
	}

	catView, untagged := CategoryView(categories, entries, asOf)
	acctView, unassigned := AccountView(accounts, entries, transfers, escrow, asOf)

	catTotal := ZeroMoney()
	for _, c := range catView {
		catTotal = catTotal.Add(c.Ending)
	}
	acctTotal := ZeroMoney()
	for _, a := range acctView {
		acctTotal = acctTotal.Add(a.Ending)
	}

	tolerance := br.Tolerance
	if tolerance.IsZero() {
		tolerance = DefaultTolerance
	}
	report := Compare(catTotal, EscrowTotal(escrow, asOf), acctTotal, tolerance)
	report.AsOf = asOf
	report.Categories = catView
	report.Accounts = acctView
	report.UntaggedEntries = untagged
	report.UnassignedEntries = unassigned

	sort.SliceStable(report.Categories, func(i, j int) bool {
		return report.Categories[i].Category.Name < report.Categories[j].Category.Name
	})
	sort.SliceStable(report.Accounts, func(i, j int) bool {
		return report.Accounts[i].Account.Name < report.Accounts[j].Account.Name
	})

	discrepancy, _ := report.Discrepancy.Value.Float64()
	metrics.ObserveReconciliation(discrepancy, report.Consistent)
	if !report.Consistent {
		br.Logger.Warn("category and account balances disagree",
			zap.String("category_total", report.CategoryTotal.String()),
			zap.String("escrow_total", report.EscrowTotal.String()),
			zap.String("account_total", report.AccountTotal.String()),
			zap.String("discrepancy", report.Discrepancy.String()),
			zap.Int("untagged_entries", untagged),
			zap.Int("unassigned_entries", unassigned),
		)
	}
	return report, nil
}
