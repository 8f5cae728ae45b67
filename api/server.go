/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the counter UI

ROUTE GROUPS:
  /api/slots/*        Slot availability and administration
  /api/bookings/*     Booking lifecycle
  /api/counters/*     Live counter dashboards
  /api/settlements/*  Shift-close reconciliation workflow

SECURITY NOTE:
  Actor identity arrives via X-Actor-Id / X-Actor-Role headers; the
  domain layer enforces role permissions. Authenticating those headers
  (session, token) belongs to the gateway in front of this service.

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
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-Id", "X-Actor-Role", "X-Counter-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Slot routes
		r.Route("/slots", func(r chi.Router) {
			r.Get("/", h.ListSlots)
			r.Post("/generate", h.GenerateSlots)
			r.Post("/{id}/lock", h.LockSlot)
			r.Post("/{id}/close", h.CloseSlot)
		})

		// Booking routes
		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.SearchBookings)
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Get("/{id}/history", h.BookingHistory)
			r.Post("/{id}/collect", h.CollectPayment)
			r.Post("/{id}/complete", h.MarkCompleted)
			r.Post("/{id}/no-show", h.MarkNoShow)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.Post("/{id}/refund", h.RecordRefund)
			r.Post("/{id}/reprint", h.ReprintReceipt)
		})

		// Counter dashboard routes
		r.Route("/counters", func(r chi.Router) {
			r.Get("/{id}/summary", h.CounterSummary)
		})

		// Settlement workflow routes
		r.Route("/settlements", func(r chi.Router) {
			r.Get("/", h.ListSettlements)
			r.Post("/open", h.OpenSettlement)
			r.Post("/submit", h.SubmitSettlement)
			r.Post("/approve", h.ApproveSettlement)
			r.Post("/reject", h.RejectSettlement)
			r.Post("/handover", h.HandoverSettlement)
			r.Get("/{counterID}/{date}", h.GetSettlement)
		})
	})

	return r
}
