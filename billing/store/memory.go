// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/warp/estate-ledger/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	periods     map[billing.PeriodID]billing.Period
	households  map[billing.HouseholdID]billing.Household
	tariffs     map[billing.TariffID]billing.Tariff
	water       map[billing.BillID]billing.WaterBill
	fees        map[billing.BillID]billing.FeeBill
	payments    map[billing.PaymentID]billing.Payment
	allocations map[billing.AllocationKey]billing.Allocation
	accounts    map[billing.AccountID]billing.Account
	categories  map[billing.CategoryID]billing.Category
	entries     []billing.Entry
	transfers   []billing.Transfer
	escrow      []billing.EscrowDeposit
}

var _ billing.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		periods:     make(map[billing.PeriodID]billing.Period),
		households:  make(map[billing.HouseholdID]billing.Household),
		tariffs:     make(map[billing.TariffID]billing.Tariff),
		water:       make(map[billing.BillID]billing.WaterBill),
		fees:        make(map[billing.BillID]billing.FeeBill),
		payments:    make(map[billing.PaymentID]billing.Payment),
		allocations: make(map[billing.AllocationKey]billing.Allocation),
		accounts:    make(map[billing.AccountID]billing.Account),
		categories:  make(map[billing.CategoryID]billing.Category),
	}
}

// =============================================================================
// PERIODS
// =============================================================================

func (m *Memory) SavePeriod(_ context.Context, p billing.Period) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.periods {
		if other.ID != p.ID && other.Sequence == p.Sequence {
			return fmt.Errorf("%w: sequence %d (period %s)", billing.ErrDuplicateSequence, p.Sequence, other.ID)
		}
	}
	m.periods[p.ID] = p
	return nil
}

func (m *Memory) GetPeriod(_ context.Context, id billing.PeriodID) (billing.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.periods[id]
	if !ok {
		return billing.Period{}, billing.ErrPeriodNotFound
	}
	return p, nil
}

func (m *Memory) ListPeriods(_ context.Context) ([]billing.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Collect(maps.Values(m.periods))
	billing.SortPeriodsDesc(out)
	return out, nil
}

// =============================================================================
// HOUSEHOLDS
// =============================================================================

func (m *Memory) SaveHousehold(_ context.Context, h billing.Household) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.households[h.ID] = h
	return nil
}

func (m *Memory) GetHousehold(_ context.Context, id billing.HouseholdID) (billing.Household, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.households[id]
	if !ok {
		return billing.Household{}, billing.ErrHouseholdNotFound
	}
	return h, nil
}

func (m *Memory) ListHouseholds(_ context.Context) ([]billing.Household, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Collect(maps.Values(m.households))
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// =============================================================================
// TARIFFS
// =============================================================================

func (m *Memory) SaveTariff(_ context.Context, t billing.Tariff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tariffs[t.ID] = t
	return nil
}

func (m *Memory) GetTariff(_ context.Context, id billing.TariffID) (billing.Tariff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tariffs[id]
	if !ok {
		return billing.Tariff{}, billing.ErrTariffNotFound
	}
	return t, nil
}

func (m *Memory) ListTariffs(_ context.Context, f billing.TariffFilter) ([]billing.Tariff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Tariff
	for _, t := range m.tariffs {
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.ActiveOnly && !t.Active {
			continue
		}
		if f.EffectiveOnOrBefore != nil && t.EffectiveFrom.After(*f.EffectiveOnOrBefore) {
			continue
		}
		out = append(out, t)
	}
	billing.SortTariffs(out)
	return out, nil
}

// =============================================================================
// BILLS
// =============================================================================

func (m *Memory) InsertWaterBill(_ context.Context, b billing.WaterBill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.water {
		if existing.HouseholdID == b.HouseholdID && existing.PeriodID == b.PeriodID {
			return &billing.DuplicateBillError{
				Kind: billing.KindWater, HouseholdID: b.HouseholdID, PeriodID: b.PeriodID, ExistingID: existing.ID,
			}
		}
	}
	b.Kind = billing.KindWater
	m.water[b.ID] = b
	return nil
}

func (m *Memory) GetWaterBill(_ context.Context, id billing.BillID) (billing.WaterBill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.water[id]
	if !ok {
		return billing.WaterBill{}, billing.ErrBillNotFound
	}
	return b, nil
}

func (m *Memory) ListWaterBills(_ context.Context, f billing.BillFilter) ([]billing.WaterBill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.WaterBill
	for _, b := range m.water {
		if f.Matches(b.Charge) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return chargeLess(out[i].Charge, out[j].Charge) })
	return out, nil
}

func (m *Memory) InsertFeeBill(_ context.Context, b billing.FeeBill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.fees {
		if existing.HouseholdID == b.HouseholdID && existing.PeriodID == b.PeriodID {
			return &billing.DuplicateBillError{
				Kind: billing.KindFlatFee, HouseholdID: b.HouseholdID, PeriodID: b.PeriodID, ExistingID: existing.ID,
			}
		}
	}
	b.Kind = billing.KindFlatFee
	m.fees[b.ID] = b
	return nil
}

func (m *Memory) GetFeeBill(_ context.Context, id billing.BillID) (billing.FeeBill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.fees[id]
	if !ok {
		return billing.FeeBill{}, billing.ErrBillNotFound
	}
	return b, nil
}

func (m *Memory) ListFeeBills(_ context.Context, f billing.BillFilter) ([]billing.FeeBill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.FeeBill
	for _, b := range m.fees {
		if f.Matches(b.Charge) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return chargeLess(out[i].Charge, out[j].Charge) })
	return out, nil
}

func (m *Memory) ListCharges(_ context.Context, kind billing.BillKind, f billing.BillFilter) ([]billing.Charge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Charge
	switch kind {
	case billing.KindWater:
		for _, b := range m.water {
			if f.Matches(b.Charge) {
				out = append(out, b.Charge)
			}
		}
	case billing.KindFlatFee:
		for _, b := range m.fees {
			if f.Matches(b.Charge) {
				out = append(out, b.Charge)
			}
		}
	default:
		return nil, billing.ErrInvalidKind
	}
	billing.SortCharges(out)
	return out, nil
}

func (m *Memory) UpdateCharge(_ context.Context, c billing.Charge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch c.Kind {
	case billing.KindWater:
		b, ok := m.water[c.ID]
		if !ok {
			return billing.ErrBillNotFound
		}
		b.Paid, b.Remaining, b.Status = c.Paid, c.Remaining, c.Status
		m.water[c.ID] = b
	case billing.KindFlatFee:
		b, ok := m.fees[c.ID]
		if !ok {
			return billing.ErrBillNotFound
		}
		b.Paid, b.Remaining, b.Status = c.Paid, c.Remaining, c.Status
		m.fees[c.ID] = b
	default:
		return billing.ErrInvalidKind
	}
	return nil
}

func chargeLess(a, b billing.Charge) bool {
	if !a.BillDate.Equal(b.BillDate) {
		return a.BillDate.Before(b.BillDate)
	}
	return a.ID < b.ID
}

// =============================================================================
// PAYMENTS AND ALLOCATIONS
// =============================================================================

func (m *Memory) SavePayment(_ context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id billing.PaymentID) (billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}
	return p, nil
}

func (m *Memory) UpsertAllocation(_ context.Context, a billing.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.allocations[a.Key()]; ok {
		a.ID = prev.ID
	}
	m.allocations[a.Key()] = a
	return nil
}

func (m *Memory) ListAllocations(_ context.Context, f billing.AllocationFilter) ([]billing.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Allocation
	for _, a := range m.allocations {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AllocatedAt.Equal(out[j].AllocatedAt) {
			return out[i].AllocatedAt.Before(out[j].AllocatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// FINANCE
// =============================================================================

func (m *Memory) SaveAccount(_ context.Context, a billing.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]billing.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Collect(maps.Values(m.accounts))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveCategory(_ context.Context, c billing.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[c.ID] = c
	return nil
}

func (m *Memory) ListCategories(_ context.Context) ([]billing.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Collect(maps.Values(m.categories))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveEntry(_ context.Context, e billing.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) ListEntries(_ context.Context) ([]billing.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries), nil
}

func (m *Memory) SaveTransfer(_ context.Context, t billing.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, t)
	return nil
}

func (m *Memory) ListTransfers(_ context.Context) ([]billing.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.transfers), nil
}

func (m *Memory) SaveEscrowDeposit(_ context.Context, d billing.EscrowDeposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escrow = append(m.escrow, d)
	return nil
}

func (m *Memory) ListEscrowDeposits(_ context.Context) ([]billing.EscrowDeposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.escrow), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized with each other but not with plain writes.
func (m *Memory) WithTx(_ context.Context, fn func(billing.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	periods     map[billing.PeriodID]billing.Period
	households  map[billing.HouseholdID]billing.Household
	tariffs     map[billing.TariffID]billing.Tariff
	water       map[billing.BillID]billing.WaterBill
	fees        map[billing.BillID]billing.FeeBill
	payments    map[billing.PaymentID]billing.Payment
	allocations map[billing.AllocationKey]billing.Allocation
	accounts    map[billing.AccountID]billing.Account
	categories  map[billing.CategoryID]billing.Category
	entries     []billing.Entry
	transfers   []billing.Transfer
	escrow      []billing.EscrowDeposit
}

func (m *Memory) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memorySnapshot{
		periods:     maps.Clone(m.periods),
		households:  maps.Clone(m.households),
		tariffs:     maps.Clone(m.tariffs),
		water:       maps.Clone(m.water),
		fees:        maps.Clone(m.fees),
		payments:    maps.Clone(m.payments),
		allocations: maps.Clone(m.allocations),
		accounts:    maps.Clone(m.accounts),
		categories:  maps.Clone(m.categories),
		entries:     slices.Clone(m.entries),
		transfers:   slices.Clone(m.transfers),
		escrow:      slices.Clone(m.escrow),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods = s.periods
	m.households = s.households
	m.tariffs = s.tariffs
	m.water = s.water
	m.fees = s.fees
	m.payments = s.payments
	m.allocations = s.allocations
	m.accounts = s.accounts
	m.categories = s.categories
	m.entries = s.entries
	m.transfers = s.transfers
	m.escrow = s.escrow
}

// Reset removes every record.
func (m *Memory) Reset(_ context.Context) error {
	m.restore(NewMemory().snapshot())
	return nil
}
