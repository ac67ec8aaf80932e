/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through zap
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/periods/*         Billing periods
  /api/households/*      Households, their bills, reading preview
  /api/tariffs/*         Tariff versions and activation
  /api/billing/*         Bill generation and listing
  /api/payments/*        Payments and allocation
  /api/finance/*         Accounts, categories, cash movements
  /api/reconciliation    Category vs account report
  /api/scenarios/*       Demo scenarios
  /metrics               Prometheus metrics
  /healthz               Liveness

SECURITY NOTE:
  No authentication middleware. Deploy behind the estate's admin proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Post("/", h.SavePeriod)
		})

		r.Route("/households", func(r chi.Router) {
			r.Get("/", h.ListHouseholds)
			r.Post("/", h.SaveHousehold)
			r.Get("/{id}/bills", h.GetHouseholdBills)
			r.Get("/{id}/reading-preview", h.PreviewReading)
		})

		r.Route("/tariffs", func(r chi.Router) {
			r.Get("/", h.ListTariffs)
			r.Post("/", h.SaveTariff)
			r.Get("/resolve", h.ResolveTariff)
			r.Post("/{id}/activate", h.ActivateTariff)
		})

		r.Route("/billing", func(r chi.Router) {
			r.Post("/water/generate", h.GenerateWaterBills)
			r.Post("/ipl/generate", h.GenerateFeeBills)
			r.Get("/{kind}", h.ListCharges)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePayment)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/allocate", h.AllocatePayment)
		})

		r.Route("/finance", func(r chi.Router) {
			r.Post("/accounts", h.CreateAccount)
			r.Post("/categories", h.CreateCategory)
			r.Post("/entries", h.CreateEntry)
			r.Post("/transfers", h.CreateTransfer)
			r.Post("/escrow", h.CreateEscrowDeposit)
		})

		r.Get("/reconciliation", h.GetReconciliation)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs one line per request with its status and latency.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
