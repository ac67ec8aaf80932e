/*
handlers.go - HTTP handlers for the estate ledger API

PURPOSE:
  Implements all REST API endpoints. Handlers are thin: they decode the
  request, call into the billing engine and encode the response.

ENDPOINTS:
  Reference data:
    GET    /api/periods                      List periods (most recent first)
    POST   /api/periods                      Create or update a period
    GET    /api/households                   List households
    POST   /api/households                   Create or update a household
    GET    /api/households/{id}/bills        Water and IPL bills of a household
    GET    /api/households/{id}/reading-preview?period_id=&current=

  Tariffs:
    GET    /api/tariffs?type=&active=        List tariffs
    POST   /api/tariffs                      Create or update a tariff (active deactivates siblings)
    GET    /api/tariffs/resolve?type=&date=  Tariff in force on a date
    POST   /api/tariffs/{id}/activate        Activate, deactivating siblings

  Billing:
    POST   /api/billing/water/generate       Bill a batch of meter readings
    POST   /api/billing/ipl/generate         Bill the flat fee for a period
    GET    /api/billing/{kind}?household_id=&period_id=&status=

  Payments:
    POST   /api/payments                     Record a payment
    GET    /api/payments/{id}                Payment and its allocations
    POST   /api/payments/{id}/allocate       Allocate to outstanding bills

  Finance:
    POST   /api/finance/{accounts,categories,entries,transfers,escrow}
    GET    /api/reconciliation?as_of=        Category vs account report

ERROR HANDLING:
  - 400 Bad Request: Invalid input (malformed JSON, amounts, dates)
  - 404 Not Found: Period, household, tariff, bill or payment not found
  - 409 Conflict: A bill already exists for the household and period,
    or a period sequence number is taken
  - 500 Internal Server Error: Store failures

  Batch generation always answers 200 with one outcome per household;
  skipped and failed households are reported in the body.

SEE ALSO:
  - dto.go: Request/response types
  - server.go: Route definitions
  - scenarios.go: Demo data loaders
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/ipl"
	"github.com/warp/estate-ledger/water"
)

// Resetter is implemented by stores that can drop every record.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Options carries the billing settings the handler builds its engine with.
type Options struct {
	DueDays                int
	Detector               water.AnomalyDetector
	TierPriority           ipl.TierPriority
	AllowCrossTierFallback bool
	Tolerance              billing.Money
}

func DefaultOptions() Options {
	return Options{
		DueDays:      water.DefaultDueDays,
		Detector:     water.DefaultAnomalyDetector(),
		TierPriority: ipl.SpecialFirst,
		Tolerance:    billing.DefaultTolerance,
	}
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Store      billing.Store
	Tariffs    *billing.TariffResolver
	Meter      *water.MeterReadingService
	Water      *water.Generator
	Fees       *ipl.Generator
	Allocator  *billing.PaymentAllocator
	Reconciler *billing.BalanceReconciler
	Logger     *zap.Logger

	NewID func() string

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the billing engine around the store.
func NewHandler(store billing.Store, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	tariffs := billing.NewTariffResolver(store, logger)

	wg := water.NewGenerator(store, tariffs, opts.Detector, logger)
	fg := ipl.NewGenerator(store, tariffs, opts.TierPriority, logger)
	fg.AllowCrossTierFallback = opts.AllowCrossTierFallback
	if opts.DueDays > 0 {
		wg.DueDays = opts.DueDays
		fg.DueDays = opts.DueDays
	}

	reconciler := billing.NewBalanceReconciler(store, logger)
	if !opts.Tolerance.IsZero() {
		reconciler.Tolerance = opts.Tolerance
	}

	return &Handler{
		Store:      store,
		Tariffs:    tariffs,
		Meter:      wg.Meter,
		Water:      wg,
		Fees:       fg,
		Allocator:  billing.NewPaymentAllocator(store, logger),
		Reconciler: reconciler,
		Logger:     logger.With(zap.String("component", "api")),
		NewID:      uuid.NewString,
	}
}

// =============================================================================
// PERIOD ENDPOINTS
// =============================================================================

// ListPeriods returns all periods, most recent first.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Store.ListPeriods(r.Context())
	if err != nil {
		h.fail(w, "failed to list periods", err)
		return
	}
	dtos := make([]PeriodDTO, 0, len(periods))
	for _, p := range periods {
		dtos = append(dtos, toPeriodDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SavePeriod creates or updates a period.
func (h *Handler) SavePeriod(w http.ResponseWriter, r *http.Request) {
	var req PeriodDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	start, err := billing.ParseDate(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start date", err)
		return
	}
	end, err := billing.ParseDate(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end date", err)
		return
	}
	p := billing.Period{ID: billing.PeriodID(req.ID), Name: req.Name, Start: start, End: end, Sequence: req.Sequence}
	if err := h.Store.SavePeriod(r.Context(), p); err != nil {
		h.fail(w, "failed to save period", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(p))
}

// =============================================================================
// HOUSEHOLD ENDPOINTS
// =============================================================================

// ListHouseholds returns all households.
func (h *Handler) ListHouseholds(w http.ResponseWriter, r *http.Request) {
	households, err := h.Store.ListHouseholds(r.Context())
	if err != nil {
		h.fail(w, "failed to list households", err)
		return
	}
	dtos := make([]HouseholdDTO, 0, len(households))
	for _, hh := range households {
		dtos = append(dtos, toHouseholdDTO(hh))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveHousehold creates or updates a household.
func (h *Handler) SaveHousehold(w http.ResponseWriter, r *http.Request) {
	var req HouseholdDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	occupancy := billing.Occupancy(req.Occupancy)
	switch occupancy {
	case "":
		occupancy = billing.Occupied
	case billing.Occupied, billing.Vacant:
	default:
		writeError(w, http.StatusBadRequest, "occupancy must be occupied or vacant", nil)
		return
	}
	hh := billing.Household{
		ID:               billing.HouseholdID(req.ID),
		Label:            req.Label,
		Occupancy:        occupancy,
		WaterCustomer:    req.WaterCustomer,
		ResidentID:       billing.ResidentID(req.ResidentID),
		SpecialCondition: req.SpecialCondition,
	}
	if hh.Label == "" {
		hh.Label = req.ID
	}
	if err := h.Store.SaveHousehold(r.Context(), hh); err != nil {
		h.fail(w, "failed to save household", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHouseholdDTO(hh))
}

// GetHouseholdBills returns every water and IPL bill of a household and the
// amount still outstanding across them.
func (h *Handler) GetHouseholdBills(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.HouseholdID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetHousehold(ctx, id); err != nil {
		h.fail(w, "household not found", err)
		return
	}
	filter := billing.BillFilter{HouseholdID: id}
	waterBills, err := h.Store.ListWaterBills(ctx, filter)
	if err != nil {
		h.fail(w, "failed to list water bills", err)
		return
	}
	feeBills, err := h.Store.ListFeeBills(ctx, filter)
	if err != nil {
		h.fail(w, "failed to list ipl bills", err)
		return
	}

	resp := HouseholdBillsDTO{
		HouseholdID: string(id),
		Water:       make([]WaterBillDTO, 0, len(waterBills)),
		Fees:        make([]FeeBillDTO, 0, len(feeBills)),
	}
	outstanding := billing.ZeroMoney()
	for _, b := range waterBills {
		resp.Water = append(resp.Water, toWaterBillDTO(b))
		if b.Status.Outstanding() {
			outstanding = outstanding.Add(b.Remaining)
		}
	}
	for _, b := range feeBills {
		resp.Fees = append(resp.Fees, toFeeBillDTO(b))
		if b.Status.Outstanding() {
			outstanding = outstanding.Add(b.Remaining)
		}
	}
	resp.Outstanding = outstanding.String()
	writeJSON(w, http.StatusOK, resp)
}

// PreviewReading returns the previous reading for a household and period
// and, when a current reading is given, the usage it would bill.
func (h *Handler) PreviewReading(w http.ResponseWriter, r *http.Request) {
	id := billing.HouseholdID(chi.URLParam(r, "id"))
	periodID := billing.PeriodID(r.URL.Query().Get("period_id"))
	if periodID == "" {
		writeError(w, http.StatusBadRequest, "period_id is required", nil)
		return
	}

	current := decimal.Zero
	raw := r.URL.Query().Get("current")
	if raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid current reading", err)
			return
		}
		current = d
	}

	pv, err := h.Meter.Preview(r.Context(), id, periodID, current)
	if err != nil {
		h.fail(w, "failed to preview reading", err)
		return
	}
	writeJSON(w, http.StatusOK, toReadingPreviewDTO(pv, raw != ""))
}

// =============================================================================
// TARIFF ENDPOINTS
// =============================================================================

// ListTariffs returns tariffs, optionally filtered by type and active flag.
func (h *Handler) ListTariffs(w http.ResponseWriter, r *http.Request) {
	filter := billing.TariffFilter{
		Type:       billing.TariffType(r.URL.Query().Get("type")),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	tariffs, err := h.Store.ListTariffs(r.Context(), filter)
	if err != nil {
		h.fail(w, "failed to list tariffs", err)
		return
	}
	dtos := make([]TariffDTO, 0, len(tariffs))
	for _, t := range tariffs {
		dtos = append(dtos, toTariffDTO(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveTariff creates or updates a tariff. Saving it active deactivates the
// other tariffs of its type.
func (h *Handler) SaveTariff(w http.ResponseWriter, r *http.Request) {
	var req TariffDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	typ := billing.TariffType(req.Type)
	if !typ.Valid() {
		writeError(w, http.StatusBadRequest, "unknown tariff type", fmt.Errorf("%q", req.Type))
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	from, err := billing.ParseDate(req.EffectiveFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid effective_from date", err)
		return
	}
	t := billing.Tariff{
		ID:            billing.TariffID(req.ID),
		Type:          typ,
		Amount:        amount,
		EffectiveFrom: from,
		Active:        req.Active,
		Description:   req.Description,
	}
	if t.ID == "" {
		t.ID = billing.TariffID(h.NewID())
	}
	saved, err := h.Tariffs.Save(r.Context(), t)
	if err != nil {
		h.fail(w, "failed to save tariff", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTariffDTO(saved))
}

// ResolveTariff returns the tariff of a type in force on a date and how far
// the resolver had to fall back to find it.
func (h *Handler) ResolveTariff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ := billing.TariffType(q.Get("type"))
	if !typ.Valid() {
		writeError(w, http.StatusBadRequest, "unknown tariff type", nil)
		return
	}
	asOf := billing.Today()
	if raw := q.Get("date"); raw != "" {
		d, err := billing.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date", err)
			return
		}
		asOf = d
	}

	resolve := h.Tariffs.Resolve
	if q.Get("any_type") == "true" {
		resolve = h.Tariffs.ResolveAnyType
	}
	res, err := resolve(r.Context(), typ, asOf)
	if err != nil {
		h.fail(w, "no tariff in force", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tariff":   toTariffDTO(res.Tariff),
		"fallback": res.Fallback.String(),
	})
}

// ActivateTariff marks a tariff active and deactivates the other tariffs of
// its type.
func (h *Handler) ActivateTariff(w http.ResponseWriter, r *http.Request) {
	id := billing.TariffID(chi.URLParam(r, "id"))
	t, err := h.Tariffs.Activate(r.Context(), id)
	if err != nil {
		h.fail(w, "failed to activate tariff", err)
		return
	}
	writeJSON(w, http.StatusOK, toTariffDTO(t))
}

// =============================================================================
// BILLING ENDPOINTS
// =============================================================================

// GenerateWaterBills bills a batch of meter readings for one period.
func (h *Handler) GenerateWaterBills(w http.ResponseWriter, r *http.Request) {
	var req GenerateWaterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PeriodID == "" {
		writeError(w, http.StatusBadRequest, "period_id is required", nil)
		return
	}
	billDate, ok := parseOptionalDate(w, req.BillDate, "bill_date")
	if !ok {
		return
	}

	readings := make([]water.Reading, 0, len(req.Readings))
	for i, rr := range req.Readings {
		current, err := decimal.NewFromString(rr.Current)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("readings[%d]: invalid current reading", i), err)
			return
		}
		readings = append(readings, water.Reading{
			HouseholdID: billing.HouseholdID(rr.HouseholdID),
			PeriodID:    billing.PeriodID(req.PeriodID),
			Current:     current,
			BillDate:    billDate,
			Initiation:  rr.Initiation,
			Note:        rr.Note,
		})
	}

	result := h.Water.GenerateBatch(r.Context(), billing.PeriodID(req.PeriodID), readings)
	writeJSON(w, http.StatusOK, toBatchResultDTO(result))
}

// GenerateFeeBills bills the flat fee for one period.
func (h *Handler) GenerateFeeBills(w http.ResponseWriter, r *http.Request) {
	var req GenerateFeesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PeriodID == "" {
		writeError(w, http.StatusBadRequest, "period_id is required", nil)
		return
	}
	billDate, ok := parseOptionalDate(w, req.BillDate, "bill_date")
	if !ok {
		return
	}

	run := ipl.Run{PeriodID: billing.PeriodID(req.PeriodID), BillDate: billDate}
	for _, id := range req.HouseholdIDs {
		run.HouseholdIDs = append(run.HouseholdIDs, billing.HouseholdID(id))
	}
	result, err := h.Fees.Generate(r.Context(), run)
	if err != nil {
		h.fail(w, "failed to generate ipl bills", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(result))
}

// ListCharges lists the payable part of bills of one kind, oldest first.
func (h *Handler) ListCharges(w http.ResponseWriter, r *http.Request) {
	kind := billing.BillKind(chi.URLParam(r, "kind"))
	q := r.URL.Query()
	filter := billing.BillFilter{
		HouseholdID: billing.HouseholdID(q.Get("household_id")),
		PeriodID:    billing.PeriodID(q.Get("period_id")),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, billing.BillStatus(strings.TrimSpace(s)))
		}
	}

	charges, err := h.Store.ListCharges(r.Context(), kind, filter)
	if err != nil {
		h.fail(w, "failed to list bills", err)
		return
	}
	dtos := make([]ChargeDTO, 0, len(charges))
	for _, c := range charges {
		dtos = append(dtos, toChargeDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// CreatePayment records an incoming payment.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req PaymentDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	if !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}
	receivedAt, ok := parseOptionalDate(w, req.ReceivedAt, "received_at")
	if !ok {
		return
	}
	if receivedAt.IsZero() {
		receivedAt = billing.Today()
	}
	if _, err := h.Store.GetHousehold(ctx, billing.HouseholdID(req.HouseholdID)); err != nil {
		h.fail(w, "household not found", err)
		return
	}

	p := billing.Payment{
		ID:          billing.PaymentID(req.ID),
		HouseholdID: billing.HouseholdID(req.HouseholdID),
		Amount:      amount,
		ReceivedAt:  receivedAt,
		AccountID:   billing.AccountID(req.AccountID),
		Reference:   req.Reference,
	}
	if p.ID == "" {
		p.ID = billing.PaymentID(h.NewID())
	}
	if err := h.Store.SavePayment(ctx, p); err != nil {
		h.fail(w, "failed to save payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// GetPayment returns a payment with every allocation row made from it.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := billing.PaymentID(chi.URLParam(r, "id"))
	summary, err := billing.SummarizePayment(r.Context(), h.Store, id)
	if err != nil {
		h.fail(w, "payment not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentSummaryDTO(summary))
}

// AllocatePayment places a payment on outstanding bills of one kind,
// oldest first. Retrying the same request does not allocate twice.
func (h *Handler) AllocatePayment(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ar := billing.AllocationRequest{
		PaymentID: billing.PaymentID(chi.URLParam(r, "id")),
		Kind:      billing.BillKind(req.Kind),
	}
	if req.Amount != "" {
		amount, ok := parseAmount(w, req.Amount)
		if !ok {
			return
		}
		ar.Amount = amount
	}
	at, ok := parseOptionalDate(w, req.At, "at")
	if !ok {
		return
	}
	ar.At = at

	result, err := h.Allocator.Allocate(r.Context(), ar)
	if err != nil {
		h.fail(w, "failed to allocate payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationResultDTO(result))
}

// =============================================================================
// FINANCE ENDPOINTS
// =============================================================================

// CreateAccount creates or updates a cash account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	start, ok := parseStartingBalance(w, req.StartingBalance)
	if !ok {
		return
	}
	a := billing.Account{ID: billing.AccountID(req.ID), Name: req.Name, StartingBalance: start}
	if a.ID == "" {
		a.ID = billing.AccountID(h.NewID())
	}
	if err := h.Store.SaveAccount(r.Context(), a); err != nil {
		h.fail(w, "failed to save account", err)
		return
	}
	req.ID, req.StartingBalance = string(a.ID), start.String()
	writeJSON(w, http.StatusCreated, req)
}

// CreateCategory creates or updates a budget category.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	start, ok := parseStartingBalance(w, req.StartingBalance)
	if !ok {
		return
	}
	c := billing.Category{ID: billing.CategoryID(req.ID), Name: req.Name, StartingBalance: start}
	if c.ID == "" {
		c.ID = billing.CategoryID(h.NewID())
	}
	if err := h.Store.SaveCategory(r.Context(), c); err != nil {
		h.fail(w, "failed to save category", err)
		return
	}
	req.ID, req.StartingBalance = string(c.ID), start.String()
	writeJSON(w, http.StatusCreated, req)
}

// CreateEntry records a cash movement.
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	dir := billing.Direction(req.Direction)
	if dir != billing.Inflow && dir != billing.Outflow {
		writeError(w, http.StatusBadRequest, "direction must be in or out", nil)
		return
	}
	amount, ok := parsePositiveAmount(w, req.Amount)
	if !ok {
		return
	}
	date, err := billing.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date", err)
		return
	}
	e := billing.Entry{
		ID:          req.ID,
		Date:        date,
		Direction:   dir,
		Amount:      amount,
		AccountID:   billing.AccountID(req.AccountID),
		CategoryID:  billing.CategoryID(req.CategoryID),
		Description: req.Description,
	}
	if e.ID == "" {
		e.ID = h.NewID()
	}
	if err := h.Store.SaveEntry(r.Context(), e); err != nil {
		h.fail(w, "failed to save entry", err)
		return
	}
	req.ID = e.ID
	writeJSON(w, http.StatusCreated, req)
}

// CreateTransfer records money moved between two accounts.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.From == "" || req.To == "" || req.From == req.To {
		writeError(w, http.StatusBadRequest, "from and to must be two different accounts", nil)
		return
	}
	amount, ok := parsePositiveAmount(w, req.Amount)
	if !ok {
		return
	}
	date, err := billing.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date", err)
		return
	}
	t := billing.Transfer{
		ID:     req.ID,
		Date:   date,
		From:   billing.AccountID(req.From),
		To:     billing.AccountID(req.To),
		Amount: amount,
		Note:   req.Note,
	}
	if t.ID == "" {
		t.ID = h.NewID()
	}
	if err := h.Store.SaveTransfer(r.Context(), t); err != nil {
		h.fail(w, "failed to save transfer", err)
		return
	}
	req.ID = t.ID
	writeJSON(w, http.StatusCreated, req)
}

// CreateEscrowDeposit records money held for a resident.
func (h *Handler) CreateEscrowDeposit(w http.ResponseWriter, r *http.Request) {
	var req EscrowDepositDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required", nil)
		return
	}
	amount, ok := parsePositiveAmount(w, req.Amount)
	if !ok {
		return
	}
	date, err := billing.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date", err)
		return
	}
	d := billing.EscrowDeposit{
		ID:         req.ID,
		Date:       date,
		AccountID:  billing.AccountID(req.AccountID),
		ResidentID: billing.ResidentID(req.ResidentID),
		Amount:     amount,
		Note:       req.Note,
	}
	if d.ID == "" {
		d.ID = h.NewID()
	}
	if err := h.Store.SaveEscrowDeposit(r.Context(), d); err != nil {
		h.fail(w, "failed to save escrow deposit", err)
		return
	}
	req.ID = d.ID
	writeJSON(w, http.StatusCreated, req)
}

// GetReconciliation compares the category view with the account view,
// optionally as of a date.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	var asOf *billing.TimePoint
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		d, err := billing.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid as_of date", err)
			return
		}
		asOf = &d
	}
	report, err := h.Reconciler.Reconcile(r.Context(), asOf)
	if err != nil {
		h.fail(w, "failed to reconcile balances", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Success: false, Message: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a billing error onto a status code.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	switch {
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, billing.ErrDuplicateBill), errors.Is(err, billing.ErrDuplicateSequence):
		writeError(w, http.StatusConflict, message, err)
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func parseAmount(w http.ResponseWriter, raw string) (billing.Money, bool) {
	amount, err := billing.ParseMoney(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", fmt.Errorf("%w: %q", err, raw))
		return billing.Money{}, false
	}
	if amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "amount must not be negative", nil)
		return billing.Money{}, false
	}
	return amount, true
}

func parsePositiveAmount(w http.ResponseWriter, raw string) (billing.Money, bool) {
	amount, ok := parseAmount(w, raw)
	if ok && amount.IsZero() {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return billing.Money{}, false
	}
	return amount, ok
}

// Starting balances may be negative (an overdrawn account) and default to 0.
func parseStartingBalance(w http.ResponseWriter, raw string) (billing.Money, bool) {
	if raw == "" {
		return billing.ZeroMoney(), true
	}
	amount, err := billing.ParseMoney(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid starting_balance", err)
		return billing.Money{}, false
	}
	return amount, true
}

func parseOptionalDate(w http.ResponseWriter, raw, field string) (billing.TimePoint, bool) {
	if raw == "" {
		return billing.TimePoint{}, true
	}
	d, err := billing.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+field, err)
		return billing.TimePoint{}, false
	}
	return d, true
}
