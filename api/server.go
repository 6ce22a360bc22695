/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /health               Liveness
  /api/payouts/*        Generation, processing, cycles, statistics
  /api/accounts/*       Balances and ledger lines
  /api/transactions/*   Postings by reference
  /api/charges/*        Pending charges
  /api/members/*        Member charge batches
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. All endpoints are public; deploy behind the
  back office gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", h.ListPayouts)
			r.Post("/generate/savings", h.GenerateSavings)
			r.Post("/generate/loans", h.GenerateLoans)
			r.Post("/process-pending", h.ProcessPending)
			r.Post("/cycle", h.RunCycle)
			r.Get("/statistics", h.GetStatistics)
			r.Get("/{id}", h.GetPayout)
			r.Post("/{id}/process", h.ProcessPayout)
			r.Post("/{id}/cancel", h.CancelPayout)
			r.Delete("/{id}", h.DeletePayout)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/transactions", h.GetAccountTransactions)
		})

		r.Get("/transactions/{reference}", h.GetTransactionsByReference)

		r.Route("/charges", func(r chi.Router) {
			r.Post("/", h.CreateCharge)
			r.Get("/{id}", h.GetCharge)
			r.Post("/{id}/process", h.ProcessCharge)
			r.Post("/{id}/cancel", h.CancelCharge)
		})

		r.Post("/members/{id}/charges/process", h.ProcessMemberCharges)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
