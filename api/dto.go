/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

WIRE FORMAT:
  Money, readings and rates travel as decimal strings ("60000", "162.5")
  so no client ever rounds them through a float. Dates are YYYY-MM-DD.

TYPES:
  Reference data:
    PeriodDTO, HouseholdDTO, TariffDTO (each doubles as its create request)

  Bills:
    ChargeDTO, WaterBillDTO, FeeBillDTO, HouseholdBillsDTO

  Generation:
    GenerateWaterRequest, ReadingRequest, GenerateFeesRequest,
    BatchResultDTO, OutcomeDTO, ReadingPreviewDTO

  Payments:
    PaymentDTO, AllocateRequest, AllocationDTO, AllocationResultDTO,
    PaymentSummaryDTO

  Finance:
    AccountDTO, CategoryDTO, EntryDTO, TransferDTO, EscrowDepositDTO,
    ReconciliationReportDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/water"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

type PeriodDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Sequence int    `json:"sequence"`
}

type HouseholdDTO struct {
	ID               string `json:"id"`
	Label            string `json:"label"`
	Occupancy        string `json:"occupancy"`
	WaterCustomer    bool   `json:"water_customer"`
	ResidentID       string `json:"resident_id,omitempty"`
	SpecialCondition bool   `json:"special_condition"`
}

type TariffDTO struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	EffectiveFrom string `json:"effective_from"`
	Active        bool   `json:"active"`
	Description   string `json:"description,omitempty"`
}

// =============================================================================
// BILLS
// =============================================================================

type ChargeDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	HouseholdID string `json:"household_id"`
	PeriodID    string `json:"period_id"`
	ResidentID  string `json:"resident_id,omitempty"`
	BillDate    string `json:"bill_date"`
	DueDate     string `json:"due_date"`
	Nominal     string `json:"nominal"`
	Paid        string `json:"paid"`
	Remaining   string `json:"remaining"`
	Status      string `json:"status"`
}

type WaterBillDTO struct {
	ChargeDTO
	CurrentReading  string `json:"current_reading"`
	PreviousReading string `json:"previous_reading"`
	Usage           string `json:"usage"`
	Rate            string `json:"rate"`
	TariffID        string `json:"tariff_id,omitempty"`
	Classification  string `json:"classification"`
	MeterReplaced   bool   `json:"meter_replaced"`
	Note            string `json:"note,omitempty"`
}

type FeeBillDTO struct {
	ChargeDTO
	Tier     string `json:"tier"`
	TariffID string `json:"tariff_id,omitempty"`
}

type HouseholdBillsDTO struct {
	HouseholdID string         `json:"household_id"`
	Water       []WaterBillDTO `json:"water"`
	Fees        []FeeBillDTO   `json:"ipl"`
	Outstanding string         `json:"outstanding"`
}

// =============================================================================
// GENERATION
// =============================================================================

type ReadingRequest struct {
	HouseholdID string `json:"household_id"`
	Current     string `json:"current"`
	Initiation  bool   `json:"initiation,omitempty"`
	Note        string `json:"note,omitempty"`
}

type GenerateWaterRequest struct {
	PeriodID string           `json:"period_id"`
	BillDate string           `json:"bill_date,omitempty"`
	Readings []ReadingRequest `json:"readings"`
}

type GenerateFeesRequest struct {
	PeriodID     string   `json:"period_id"`
	BillDate     string   `json:"bill_date,omitempty"`
	HouseholdIDs []string `json:"household_ids,omitempty"`
}

type OutcomeDTO struct {
	HouseholdID string   `json:"household_id"`
	Outcome     string   `json:"outcome"`
	Reason      string   `json:"reason,omitempty"`
	BillID      string   `json:"bill_id,omitempty"`
	Amount      string   `json:"amount,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Error       string   `json:"error,omitempty"`
}

type BatchResultDTO struct {
	Kind      string       `json:"kind"`
	PeriodID  string       `json:"period_id"`
	Bills     int          `json:"bills"`
	Baselines int          `json:"baselines"`
	Skipped   int          `json:"skipped"`
	Errors    int          `json:"errors"`
	Total     string       `json:"total"`
	Outcomes  []OutcomeDTO `json:"outcomes"`
}

type ReadingPreviewDTO struct {
	HouseholdID      string `json:"household_id"`
	PeriodID         string `json:"period_id"`
	HasPrevious      bool   `json:"has_previous"`
	PreviousPeriodID string `json:"previous_period_id,omitempty"`
	PreviousReading  string `json:"previous_reading,omitempty"`
	Current          string `json:"current,omitempty"`
	Usage            string `json:"usage"`
	MeterReplaced    bool   `json:"meter_replaced"`
	Clamped          bool   `json:"clamped"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID          string `json:"id"`
	HouseholdID string `json:"household_id"`
	Amount      string `json:"amount"`
	ReceivedAt  string `json:"received_at"`
	AccountID   string `json:"account_id,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

type AllocateRequest struct {
	Kind string `json:"kind"`
	// Empty means whatever the payment has left.
	Amount string `json:"amount,omitempty"`
	At     string `json:"at,omitempty"`
}

type AllocationDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	PaymentID   string `json:"payment_id"`
	BillID      string `json:"bill_id"`
	Amount      string `json:"amount"`
	AllocatedAt string `json:"allocated_at"`
	Category    string `json:"category,omitempty"`
}

type AllocationLineDTO struct {
	Allocation AllocationDTO `json:"allocation"`
	Placed     string        `json:"placed"`
	Bill       ChargeDTO     `json:"bill"`
}

type AllocationResultDTO struct {
	PaymentID   string              `json:"payment_id"`
	HouseholdID string              `json:"household_id"`
	Kind        string              `json:"kind"`
	Requested   string              `json:"requested"`
	Allocated   string              `json:"allocated"`
	Unallocated string              `json:"unallocated"`
	Lines       []AllocationLineDTO `json:"lines"`
}

type PaymentSummaryDTO struct {
	Payment     PaymentDTO      `json:"payment"`
	Allocated   string          `json:"allocated"`
	Unallocated string          `json:"unallocated"`
	Allocations []AllocationDTO `json:"allocations"`
}

// =============================================================================
// FINANCE
// =============================================================================

type AccountDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	StartingBalance string `json:"starting_balance"`
}

type CategoryDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	StartingBalance string `json:"starting_balance"`
}

type EntryDTO struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Direction   string `json:"direction"`
	Amount      string `json:"amount"`
	AccountID   string `json:"account_id,omitempty"`
	CategoryID  string `json:"category_id,omitempty"`
	Description string `json:"description,omitempty"`
}

type TransferDTO struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Note   string `json:"note,omitempty"`
}

type EscrowDepositDTO struct {
	ID         string `json:"id"`
	Date       string `json:"date"`
	AccountID  string `json:"account_id"`
	ResidentID string `json:"resident_id,omitempty"`
	Amount     string `json:"amount"`
	Note       string `json:"note,omitempty"`
}

type CategoryBalanceDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Inflows  string `json:"inflows"`
	Outflows string `json:"outflows"`
	Ending   string `json:"ending"`
}

type AccountBalanceDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Inflows      string `json:"inflows"`
	Outflows     string `json:"outflows"`
	TransfersIn  string `json:"transfers_in"`
	TransfersOut string `json:"transfers_out"`
	Escrow       string `json:"escrow"`
	Ending       string `json:"ending"`
}

type ReconciliationReportDTO struct {
	AsOf              string               `json:"as_of,omitempty"`
	CategoryTotal     string               `json:"category_total"`
	EscrowTotal       string               `json:"escrow_total"`
	AccountTotal      string               `json:"account_total"`
	Difference        string               `json:"difference"`
	Discrepancy       string               `json:"discrepancy"`
	Tolerance         string               `json:"tolerance"`
	Consistent        bool                 `json:"consistent"`
	UntaggedEntries   int                  `json:"untagged_entries"`
	UnassignedEntries int                  `json:"unassigned_entries"`
	Categories        []CategoryBalanceDTO `json:"categories"`
	Accounts          []AccountBalanceDTO  `json:"accounts"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERSIONS - Domain to DTO
// =============================================================================

func formatDate(tp billing.TimePoint) string {
	if tp.IsZero() {
		return ""
	}
	return tp.String()
}

func toPeriodDTO(p billing.Period) PeriodDTO {
	return PeriodDTO{
		ID:       string(p.ID),
		Name:     p.Name,
		Start:    formatDate(p.Start),
		End:      formatDate(p.End),
		Sequence: p.Sequence,
	}
}

func toHouseholdDTO(h billing.Household) HouseholdDTO {
	return HouseholdDTO{
		ID:               string(h.ID),
		Label:            h.Label,
		Occupancy:        string(h.Occupancy),
		WaterCustomer:    h.WaterCustomer,
		ResidentID:       string(h.ResidentID),
		SpecialCondition: h.SpecialCondition,
	}
}

func toTariffDTO(t billing.Tariff) TariffDTO {
	return TariffDTO{
		ID:            string(t.ID),
		Type:          string(t.Type),
		Amount:        t.Amount.String(),
		EffectiveFrom: formatDate(t.EffectiveFrom),
		Active:        t.Active,
		Description:   t.Description,
	}
}

func toChargeDTO(c billing.Charge) ChargeDTO {
	return ChargeDTO{
		ID:          string(c.ID),
		Kind:        string(c.Kind),
		HouseholdID: string(c.HouseholdID),
		PeriodID:    string(c.PeriodID),
		ResidentID:  string(c.ResidentID),
		BillDate:    formatDate(c.BillDate),
		DueDate:     formatDate(c.DueDate),
		Nominal:     c.Nominal.String(),
		Paid:        c.Paid.String(),
		Remaining:   c.Remaining.String(),
		Status:      string(c.Status),
	}
}

func toWaterBillDTO(b billing.WaterBill) WaterBillDTO {
	return WaterBillDTO{
		ChargeDTO:       toChargeDTO(b.Charge),
		CurrentReading:  b.CurrentReading.String(),
		PreviousReading: b.PreviousReading.String(),
		Usage:           b.Usage.String(),
		Rate:            b.Rate.String(),
		TariffID:        string(b.TariffID),
		Classification:  string(b.Classification),
		MeterReplaced:   b.MeterReplaced,
		Note:            b.Note,
	}
}

func toFeeBillDTO(b billing.FeeBill) FeeBillDTO {
	return FeeBillDTO{
		ChargeDTO: toChargeDTO(b.Charge),
		Tier:      string(b.Tier),
		TariffID:  string(b.TariffID),
	}
}

func toBatchResultDTO(r billing.BatchResult) BatchResultDTO {
	dto := BatchResultDTO{
		Kind:      string(r.Kind),
		PeriodID:  string(r.PeriodID),
		Bills:     r.Count(billing.OutcomeBill),
		Baselines: r.Count(billing.OutcomeBaseline),
		Skipped:   r.Count(billing.OutcomeSkipped),
		Errors:    r.Count(billing.OutcomeError),
		Total:     r.Total().String(),
		Outcomes:  make([]OutcomeDTO, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		od := OutcomeDTO{
			HouseholdID: string(o.HouseholdID),
			Outcome:     string(o.Kind),
			Reason:      o.Reason,
			BillID:      string(o.BillID),
			Warnings:    o.Warnings,
		}
		if o.Kind == billing.OutcomeBill || o.Kind == billing.OutcomeBaseline {
			od.Amount = o.Amount.String()
		}
		if o.Err != nil {
			od.Error = o.Err.Error()
		}
		dto.Outcomes = append(dto.Outcomes, od)
	}
	return dto
}

func toReadingPreviewDTO(pv water.Preview, withCurrent bool) ReadingPreviewDTO {
	dto := ReadingPreviewDTO{
		HouseholdID:   string(pv.HouseholdID),
		PeriodID:      string(pv.PeriodID),
		Usage:         pv.Usage.Usage.String(),
		MeterReplaced: pv.Usage.MeterReplaced,
		Clamped:       pv.Usage.Clamped,
	}
	if pv.Previous != nil {
		dto.HasPrevious = true
		dto.PreviousPeriodID = string(pv.Previous.PeriodID)
		dto.PreviousReading = pv.Previous.Reading.String()
	}
	if withCurrent {
		dto.Current = pv.Usage.Current.String()
	}
	return dto
}

func toPaymentDTO(p billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:          string(p.ID),
		HouseholdID: string(p.HouseholdID),
		Amount:      p.Amount.String(),
		ReceivedAt:  formatDate(p.ReceivedAt),
		AccountID:   string(p.AccountID),
		Reference:   p.Reference,
	}
}

func toAllocationDTO(a billing.Allocation) AllocationDTO {
	return AllocationDTO{
		ID:          string(a.ID),
		Kind:        string(a.Kind),
		PaymentID:   string(a.PaymentID),
		BillID:      string(a.BillID),
		Amount:      a.Amount.String(),
		AllocatedAt: formatDate(a.AllocatedAt),
		Category:    a.Category,
	}
}

func toAllocationResultDTO(r billing.AllocationResult) AllocationResultDTO {
	dto := AllocationResultDTO{
		PaymentID:   string(r.PaymentID),
		HouseholdID: string(r.HouseholdID),
		Kind:        string(r.Kind),
		Requested:   r.Requested.String(),
		Allocated:   r.Allocated.String(),
		Unallocated: r.Unallocated.String(),
		Lines:       make([]AllocationLineDTO, 0, len(r.Lines)),
	}
	for _, l := range r.Lines {
		dto.Lines = append(dto.Lines, AllocationLineDTO{
			Allocation: toAllocationDTO(l.Allocation),
			Placed:     l.Placed.String(),
			Bill:       toChargeDTO(l.Bill),
		})
	}
	return dto
}

func toPaymentSummaryDTO(s billing.PaymentSummary) PaymentSummaryDTO {
	dto := PaymentSummaryDTO{
		Payment:     toPaymentDTO(s.Payment),
		Allocated:   s.Allocated.String(),
		Unallocated: s.Unallocated.String(),
		Allocations: make([]AllocationDTO, 0, len(s.Allocations)),
	}
	for _, a := range s.Allocations {
		dto.Allocations = append(dto.Allocations, toAllocationDTO(a))
	}
	return dto
}

func toReconciliationReportDTO(r billing.ReconciliationReport) ReconciliationReportDTO {
	dto := ReconciliationReportDTO{
		CategoryTotal:     r.CategoryTotal.String(),
		EscrowTotal:       r.EscrowTotal.String(),
		AccountTotal:      r.AccountTotal.String(),
		Difference:        r.Difference.String(),
		Discrepancy:       r.Discrepancy.String(),
		Tolerance:         r.Tolerance.String(),
		Consistent:        r.Consistent,
		UntaggedEntries:   r.UntaggedEntries,
		UnassignedEntries: r.UnassignedEntries,
		Categories:        make([]CategoryBalanceDTO, 0, len(r.Categories)),
		Accounts:          make([]AccountBalanceDTO, 0, len(r.Accounts)),
	}
	if r.AsOf != nil {
		dto.AsOf = r.AsOf.String()
	}
	for _, c := range r.Categories {
		dto.Categories = append(dto.Categories, CategoryBalanceDTO{
			ID:       string(c.Category.ID),
			Name:     c.Category.Name,
			Inflows:  c.Inflows.String(),
			Outflows: c.Outflows.String(),
			Ending:   c.Ending.String(),
		})
	}
	for _, a := range r.Accounts {
		dto.Accounts = append(dto.Accounts, AccountBalanceDTO{
			ID:           string(a.Account.ID),
			Name:         a.Account.Name,
			Inflows:      a.Inflows.String(),
			Outflows:     a.Outflows.String(),
			TransfersIn:  a.TransfersIn.String(),
			TransfersOut: a.TransfersOut.String(),
			Escrow:       a.Escrow.String(),
			Ending:       a.Ending.String(),
		})
	}
	return dto
}
