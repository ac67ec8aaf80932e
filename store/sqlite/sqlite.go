/*
Package sqlite provides a SQLite-backed implementation of billing.TxStore.

PURPOSE:
  Persists periods, households, tariffs, both bill tables, payments,
  allocation rows and the finance records reconciliation reads. The same
  queries apply to PostgreSQL with minor dialect changes.

ENCODING:
  Money and meter readings are stored as decimal strings (TEXT) so no
  precision is lost. Dates are stored as YYYY-MM-DD.

UNIQUENESS:
  idx_periods_sequence:              one period per sequence number
  idx_water_bills_household_period:  one water bill per (household, period)
  idx_fee_bills_household_period:    one flat-fee bill per (household, period)
  idx_allocations_kind_bill_payment: one allocation row per (kind, bill, payment)

  Period saves that hit the first return billing.ErrDuplicateSequence.
  Bill inserts that hit the next two return *billing.DuplicateBillError.
  Allocation writes upsert on the last.

CONCURRENCY:
  The pool is limited to one connection. SQLite serializes writers anyway,
  and ":memory:" databases are per connection.

USAGE:
  store, err := sqlite.New("./data/estate.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  allocator := billing.NewPaymentAllocator(store, logger)

MIGRATION:
  Schema migrations are embedded and applied on New() with golang-migrate
  (see migrate.go).

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/estate-ledger/billing"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	q  querier
}

var _ billing.TxStore = (*Store)(nil)

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db, q: db}, nil
}

// Open opens the database without migrating it.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The store passed to fn
// runs every query on that transaction.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// PERIODS
// =============================================================================

func (s *Store) SavePeriod(ctx context.Context, p billing.Period) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO periods (id, name, start_date, end_date, sequence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			sequence = excluded.sequence
	`, p.ID, p.Name, formatDate(p.Start), formatDate(p.End), p.Sequence)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: sequence %d (period %s)", billing.ErrDuplicateSequence, p.Sequence, p.ID)
		}
		return fmt.Errorf("failed to save period: %w", err)
	}
	return nil
}

func (s *Store) GetPeriod(ctx context.Context, id billing.PeriodID) (billing.Period, error) {
	periods, err := s.queryPeriods(ctx, `WHERE id = ?`, id)
	if err != nil {
		return billing.Period{}, err
	}
	if len(periods) == 0 {
		return billing.Period{}, billing.ErrPeriodNotFound
	}
	return periods[0], nil
}

func (s *Store) ListPeriods(ctx context.Context) ([]billing.Period, error) {
	return s.queryPeriods(ctx, `ORDER BY sequence DESC`)
}

func (s *Store) queryPeriods(ctx context.Context, clause string, args ...any) ([]billing.Period, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, start_date, end_date, sequence FROM periods `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var out []billing.Period
	for rows.Next() {
		var (
			p          billing.Period
			start, end string
		)
		if err := rows.Scan(&p.ID, &p.Name, &start, &end, &p.Sequence); err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		if p.Start, err = parseDate(start); err != nil {
			return nil, err
		}
		if p.End, err = parseDate(end); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// HOUSEHOLDS
// =============================================================================

func (s *Store) SaveHousehold(ctx context.Context, h billing.Household) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO households (id, label, occupancy, water_customer, resident_id, special_condition)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			occupancy = excluded.occupancy,
			water_customer = excluded.water_customer,
			resident_id = excluded.resident_id,
			special_condition = excluded.special_condition
	`, h.ID, h.Label, h.Occupancy, h.WaterCustomer, h.ResidentID, h.SpecialCondition)
	if err != nil {
		return fmt.Errorf("failed to save household: %w", err)
	}
	return nil
}

func (s *Store) GetHousehold(ctx context.Context, id billing.HouseholdID) (billing.Household, error) {
	hs, err := s.queryHouseholds(ctx, `WHERE id = ?`, id)
	if err != nil {
		return billing.Household{}, err
	}
	if len(hs) == 0 {
		return billing.Household{}, billing.ErrHouseholdNotFound
	}
	return hs[0], nil
}

func (s *Store) ListHouseholds(ctx context.Context) ([]billing.Household, error) {
	return s.queryHouseholds(ctx, `ORDER BY id`)
}

func (s *Store) queryHouseholds(ctx context.Context, clause string, args ...any) ([]billing.Household, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, label, occupancy, water_customer, resident_id, special_condition
		FROM households `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query households: %w", err)
	}
	defer rows.Close()

	var out []billing.Household
	for rows.Next() {
		var h billing.Household
		if err := rows.Scan(&h.ID, &h.Label, &h.Occupancy, &h.WaterCustomer, &h.ResidentID, &h.SpecialCondition); err != nil {
			return nil, fmt.Errorf("failed to scan household: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// TARIFFS
// =============================================================================

func (s *Store) SaveTariff(ctx context.Context, t billing.Tariff) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tariffs (id, type, amount, effective_from, active, description)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			amount = excluded.amount,
			effective_from = excluded.effective_from,
			active = excluded.active,
			description = excluded.description
	`, t.ID, t.Type, t.Amount.String(), formatDate(t.EffectiveFrom), t.Active, t.Description)
	if err != nil {
		return fmt.Errorf("failed to save tariff: %w", err)
	}
	return nil
}

func (s *Store) GetTariff(ctx context.Context, id billing.TariffID) (billing.Tariff, error) {
	ts, err := s.queryTariffs(ctx, `WHERE id = ?`, id)
	if err != nil {
		return billing.Tariff{}, err
	}
	if len(ts) == 0 {
		return billing.Tariff{}, billing.ErrTariffNotFound
	}
	return ts[0], nil
}

func (s *Store) ListTariffs(ctx context.Context, f billing.TariffFilter) ([]billing.Tariff, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.ActiveOnly {
		where = append(where, "active = 1")
	}
	if f.EffectiveOnOrBefore != nil {
		where = append(where, "effective_from <= ?")
		args = append(args, formatDate(*f.EffectiveOnOrBefore))
	}
	return s.queryTariffs(ctx, whereClause(where)+` ORDER BY effective_from DESC, id DESC`, args...)
}

func (s *Store) queryTariffs(ctx context.Context, clause string, args ...any) ([]billing.Tariff, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, type, amount, effective_from, active, description
		FROM tariffs `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tariffs: %w", err)
	}
	defer rows.Close()

	var out []billing.Tariff
	for rows.Next() {
		var (
			t       billing.Tariff
			amount  string
			effFrom string
		)
		if err := rows.Scan(&t.ID, &t.Type, &amount, &effFrom, &t.Active, &t.Description); err != nil {
			return nil, fmt.Errorf("failed to scan tariff: %w", err)
		}
		if t.Amount, err = parseMoney(amount); err != nil {
			return nil, err
		}
		if t.EffectiveFrom, err = parseDate(effFrom); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// WATER BILLS
// =============================================================================

const waterColumns = `id, household_id, period_id, resident_id, bill_date, due_date,
	current_reading, previous_reading, usage, rate, tariff_id, classification,
	meter_replaced, note, nominal, paid, remaining, status`

func (s *Store) InsertWaterBill(ctx context.Context, b billing.WaterBill) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO water_bills (`+waterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.HouseholdID, b.PeriodID, b.ResidentID, formatDate(b.BillDate), formatDate(b.DueDate),
		b.CurrentReading.String(), b.PreviousReading.String(), b.Usage.String(), b.Rate.String(),
		b.TariffID, b.Classification, b.MeterReplaced, b.Note,
		b.Nominal.String(), b.Paid.String(), b.Remaining.String(), b.Status,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return s.duplicateBill(ctx, billing.KindWater, b.Charge, err)
		}
		return fmt.Errorf("failed to insert water bill: %w", err)
	}
	return nil
}

func (s *Store) GetWaterBill(ctx context.Context, id billing.BillID) (billing.WaterBill, error) {
	bills, err := s.queryWaterBills(ctx, `WHERE id = ?`, id)
	if err != nil {
		return billing.WaterBill{}, err
	}
	if len(bills) == 0 {
		return billing.WaterBill{}, billing.ErrBillNotFound
	}
	return bills[0], nil
}

func (s *Store) ListWaterBills(ctx context.Context, f billing.BillFilter) ([]billing.WaterBill, error) {
	clause, args := billClause(f)
	return s.queryWaterBills(ctx, clause+` ORDER BY bill_date ASC, id ASC`, args...)
}

func (s *Store) queryWaterBills(ctx context.Context, clause string, args ...any) ([]billing.WaterBill, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+waterColumns+` FROM water_bills `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query water bills: %w", err)
	}
	defer rows.Close()

	var out []billing.WaterBill
	for rows.Next() {
		b, err := scanWaterBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanWaterBill(rows *sql.Rows) (billing.WaterBill, error) {
	var (
		b                              billing.WaterBill
		billDate, dueDate              string
		current, previous, usage, rate string
		nominal, paid, remaining       string
	)
	err := rows.Scan(
		&b.ID, &b.HouseholdID, &b.PeriodID, &b.ResidentID, &billDate, &dueDate,
		&current, &previous, &usage, &rate, &b.TariffID, &b.Classification,
		&b.MeterReplaced, &b.Note, &nominal, &paid, &remaining, &b.Status,
	)
	if err != nil {
		return b, fmt.Errorf("failed to scan water bill: %w", err)
	}
	b.Kind = billing.KindWater

	var p parser
	b.BillDate = p.date(billDate)
	b.DueDate = p.date(dueDate)
	b.CurrentReading = p.decimal(current)
	b.PreviousReading = p.decimal(previous)
	b.Usage = p.decimal(usage)
	b.Rate = p.money(rate)
	b.Nominal = p.money(nominal)
	b.Paid = p.money(paid)
	b.Remaining = p.money(remaining)
	return b, p.err
}

// =============================================================================
// FLAT-FEE BILLS
// =============================================================================

const feeColumns = `id, household_id, period_id, resident_id, bill_date, due_date,
	tier, tariff_id, nominal, paid, remaining, status`

func (s *Store) InsertFeeBill(ctx context.Context, b billing.FeeBill) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO fee_bills (`+feeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.HouseholdID, b.PeriodID, b.ResidentID, formatDate(b.BillDate), formatDate(b.DueDate),
		b.Tier, b.TariffID, b.Nominal.String(), b.Paid.String(), b.Remaining.String(), b.Status,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return s.duplicateBill(ctx, billing.KindFlatFee, b.Charge, err)
		}
		return fmt.Errorf("failed to insert flat-fee bill: %w", err)
	}
	return nil
}

func (s *Store) GetFeeBill(ctx context.Context, id billing.BillID) (billing.FeeBill, error) {
	bills, err := s.queryFeeBills(ctx, `WHERE id = ?`, id)
	if err != nil {
		return billing.FeeBill{}, err
	}
	if len(bills) == 0 {
		return billing.FeeBill{}, billing.ErrBillNotFound
	}
	return bills[0], nil
}

func (s *Store) ListFeeBills(ctx context.Context, f billing.BillFilter) ([]billing.FeeBill, error) {
	clause, args := billClause(f)
	return s.queryFeeBills(ctx, clause+` ORDER BY bill_date ASC, id ASC`, args...)
}

func (s *Store) queryFeeBills(ctx context.Context, clause string, args ...any) ([]billing.FeeBill, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+feeColumns+` FROM fee_bills `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flat-fee bills: %w", err)
	}
	defer rows.Close()

	var out []billing.FeeBill
	for rows.Next() {
		var (
			b                        billing.FeeBill
			billDate, dueDate        string
			nominal, paid, remaining string
		)
		err := rows.Scan(
			&b.ID, &b.HouseholdID, &b.PeriodID, &b.ResidentID, &billDate, &dueDate,
			&b.Tier, &b.TariffID, &nominal, &paid, &remaining, &b.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flat-fee bill: %w", err)
		}
		b.Kind = billing.KindFlatFee

		var p parser
		b.BillDate = p.date(billDate)
		b.DueDate = p.date(dueDate)
		b.Nominal = p.money(nominal)
		b.Paid = p.money(paid)
		b.Remaining = p.money(remaining)
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// CHARGES - The payable part of either bill table
// =============================================================================

func (s *Store) ListCharges(ctx context.Context, kind billing.BillKind, f billing.BillFilter) ([]billing.Charge, error) {
	var out []billing.Charge
	switch kind {
	case billing.KindWater:
		bills, err := s.ListWaterBills(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, b := range bills {
			out = append(out, b.Charge)
		}
	case billing.KindFlatFee:
		bills, err := s.ListFeeBills(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, b := range bills {
			out = append(out, b.Charge)
		}
	default:
		return nil, billing.ErrInvalidKind
	}
	return out, nil
}

func (s *Store) UpdateCharge(ctx context.Context, c billing.Charge) error {
	table, err := billTable(c.Kind)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE `+table+` SET paid = ?, remaining = ?, status = ? WHERE id = ?`,
		c.Paid.String(), c.Remaining.String(), c.Status, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update bill: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrBillNotFound
	}
	return nil
}

// duplicateBill turns a unique violation into the structured error, naming
// the bill that already holds the (household, period) pair.
func (s *Store) duplicateBill(ctx context.Context, kind billing.BillKind, c billing.Charge, cause error) error {
	table, err := billTable(kind)
	if err != nil {
		return err
	}
	var existing billing.BillID
	err = s.q.QueryRowContext(ctx,
		`SELECT id FROM `+table+` WHERE household_id = ? AND period_id = ?`,
		c.HouseholdID, c.PeriodID,
	).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		// Primary key collision, not a second bill for the pair.
		return fmt.Errorf("failed to insert %s bill %s: %w", kind, c.ID, cause)
	}
	if err != nil {
		return err
	}
	return &billing.DuplicateBillError{Kind: kind, HouseholdID: c.HouseholdID, PeriodID: c.PeriodID, ExistingID: existing}
}

func billTable(kind billing.BillKind) (string, error) {
	switch kind {
	case billing.KindWater:
		return "water_bills", nil
	case billing.KindFlatFee:
		return "fee_bills", nil
	}
	return "", billing.ErrInvalidKind
}

func billClause(f billing.BillFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.HouseholdID != "" {
		where = append(where, "household_id = ?")
		args = append(args, f.HouseholdID)
	}
	if f.PeriodID != "" {
		where = append(where, "period_id = ?")
		args = append(args, f.PeriodID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	return whereClause(where), args
}

// =============================================================================
// PAYMENTS AND ALLOCATIONS
// =============================================================================

func (s *Store) SavePayment(ctx context.Context, p billing.Payment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payments (id, household_id, amount, received_at, account_id, reference)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			household_id = excluded.household_id,
			amount = excluded.amount,
			received_at = excluded.received_at,
			account_id = excluded.account_id,
			reference = excluded.reference
	`, p.ID, p.HouseholdID, p.Amount.String(), formatDate(p.ReceivedAt), p.AccountID, p.Reference)
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id billing.PaymentID) (billing.Payment, error) {
	var (
		p                  billing.Payment
		amount, receivedAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, household_id, amount, received_at, account_id, reference
		FROM payments WHERE id = ?
	`, id).Scan(&p.ID, &p.HouseholdID, &amount, &receivedAt, &p.AccountID, &p.Reference)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}
	if err != nil {
		return billing.Payment{}, fmt.Errorf("failed to get payment: %w", err)
	}

	var pr parser
	p.Amount = pr.money(amount)
	p.ReceivedAt = pr.date(receivedAt)
	return p, pr.err
}

func (s *Store) UpsertAllocation(ctx context.Context, a billing.Allocation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO allocations (id, kind, payment_id, bill_id, amount, allocated_at, category)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, bill_id, payment_id) DO UPDATE SET
			amount = excluded.amount,
			allocated_at = excluded.allocated_at,
			category = excluded.category
	`, a.ID, a.Kind, a.PaymentID, a.BillID, a.Amount.String(), formatDate(a.AllocatedAt), a.Category)
	if err != nil {
		return fmt.Errorf("failed to upsert allocation: %w", err)
	}
	return nil
}

func (s *Store) ListAllocations(ctx context.Context, f billing.AllocationFilter) ([]billing.Allocation, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.BillID != "" {
		where = append(where, "bill_id = ?")
		args = append(args, f.BillID)
	}
	if f.PaymentID != "" {
		where = append(where, "payment_id = ?")
		args = append(args, f.PaymentID)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, kind, payment_id, bill_id, amount, allocated_at, category
		FROM allocations `+whereClause(where)+` ORDER BY allocated_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []billing.Allocation
	for rows.Next() {
		var (
			a          billing.Allocation
			amount, at string
		)
		if err := rows.Scan(&a.ID, &a.Kind, &a.PaymentID, &a.BillID, &amount, &at, &a.Category); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		var p parser
		a.Amount = p.money(amount)
		a.AllocatedAt = p.date(at)
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// FINANCE - Accounts, categories and cash movements
// =============================================================================

func (s *Store) SaveAccount(ctx context.Context, a billing.Account) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (id, name, starting_balance) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, starting_balance = excluded.starting_balance
	`, a.ID, a.Name, a.StartingBalance.String())
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]billing.Account, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, starting_balance FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []billing.Account
	for rows.Next() {
		var (
			a     billing.Account
			start string
		)
		if err := rows.Scan(&a.ID, &a.Name, &start); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		if a.StartingBalance, err = parseMoney(start); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveCategory(ctx context.Context, c billing.Category) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO categories (id, name, starting_balance) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, starting_balance = excluded.starting_balance
	`, c.ID, c.Name, c.StartingBalance.String())
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]billing.Category, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, starting_balance FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var out []billing.Category
	for rows.Next() {
		var (
			c     billing.Category
			start string
		)
		if err := rows.Scan(&c.ID, &c.Name, &start); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		if c.StartingBalance, err = parseMoney(start); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveEntry(ctx context.Context, e billing.Entry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO entries (id, date, direction, amount, account_id, category_id, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, formatDate(e.Date), e.Direction, e.Amount.String(), e.AccountID, e.CategoryID, e.Description)
	if err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context) ([]billing.Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, date, direction, amount, account_id, category_id, description
		FROM entries ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []billing.Entry
	for rows.Next() {
		var (
			e            billing.Entry
			date, amount string
		)
		if err := rows.Scan(&e.ID, &date, &e.Direction, &amount, &e.AccountID, &e.CategoryID, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		var p parser
		e.Date = p.date(date)
		e.Amount = p.money(amount)
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SaveTransfer(ctx context.Context, t billing.Transfer) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transfers (id, date, from_account, to_account, amount, note)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, formatDate(t.Date), t.From, t.To, t.Amount.String(), t.Note)
	if err != nil {
		return fmt.Errorf("failed to save transfer: %w", err)
	}
	return nil
}

func (s *Store) ListTransfers(ctx context.Context) ([]billing.Transfer, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, date, from_account, to_account, amount, note
		FROM transfers ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var out []billing.Transfer
	for rows.Next() {
		var (
			t            billing.Transfer
			date, amount string
		)
		if err := rows.Scan(&t.ID, &date, &t.From, &t.To, &amount, &t.Note); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		var p parser
		t.Date = p.date(date)
		t.Amount = p.money(amount)
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) SaveEscrowDeposit(ctx context.Context, d billing.EscrowDeposit) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO escrow_deposits (id, date, account_id, resident_id, amount, note)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ID, formatDate(d.Date), d.AccountID, d.ResidentID, d.Amount.String(), d.Note)
	if err != nil {
		return fmt.Errorf("failed to save escrow deposit: %w", err)
	}
	return nil
}

func (s *Store) ListEscrowDeposits(ctx context.Context) ([]billing.EscrowDeposit, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, date, account_id, resident_id, amount, note
		FROM escrow_deposits ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query escrow deposits: %w", err)
	}
	defer rows.Close()

	var out []billing.EscrowDeposit
	for rows.Next() {
		var (
			d            billing.EscrowDeposit
			date, amount string
		)
		if err := rows.Scan(&d.ID, &date, &d.AccountID, &d.ResidentID, &amount, &d.Note); err != nil {
			return nil, fmt.Errorf("failed to scan escrow deposit: %w", err)
		}
		var p parser
		d.Date = p.date(date)
		d.Amount = p.money(amount)
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// Reset removes every record. Used by the demo seed.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{
		"allocations", "payments", "water_bills", "fee_bills", "tariffs", "households", "periods",
		"entries", "transfers", "escrow_deposits", "accounts", "categories",
	} {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

func formatDate(tp billing.TimePoint) string {
	if tp.IsZero() {
		return ""
	}
	return tp.Time.UTC().Format(billing.DateLayout)
}

func parseDate(s string) (billing.TimePoint, error) {
	if s == "" {
		return billing.TimePoint{}, nil
	}
	tp, err := billing.ParseDate(s)
	if err != nil {
		return billing.TimePoint{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return tp, nil
}

func parseMoney(s string) (billing.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return billing.Money{}, fmt.Errorf("invalid stored amount %q: %w", s, err)
	}
	return billing.MoneyOf(d), nil
}

// parser decodes stored text columns and keeps the first error.
type parser struct {
	err error
}

func (p *parser) date(s string) billing.TimePoint {
	tp, err := parseDate(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return tp
}

func (p *parser) money(s string) billing.Money {
	m, err := parseMoney(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return m
}

func (p *parser) decimal(s string) decimal.Decimal {
	return p.money(s).Value
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
