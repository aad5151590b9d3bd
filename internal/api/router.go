// internal/api/router.go
package api

import (
	"net/http"

	"payout-ledger/internal/api/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handlers groups the HTTP handlers the router mounts.
type Handlers struct {
	Wallets      *handler.WalletHandler
	Payouts      *handler.PayoutHandler
	Reservations *handler.ReservationHandler
	Movements    *handler.MovementHandler
}

// NewRouter sets up and returns a new HTTP router.
func NewRouter(h Handlers, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(routeMetrics)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(handler.DefaultTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/payouts", func(r chi.Router) {
		r.Post("/cycles/{cycleID}/execute", h.Payouts.Execute)
		r.Get("/executions/{executionID}", h.Payouts.GetExecution)
	})

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/wallet", h.Wallets.GetUserWallet)
		r.Get("/payout-preference", h.Payouts.GetPreference)
		r.Put("/payout-preference", h.Payouts.PutPreference)
		r.Post("/reservations/sweep", h.Reservations.Sweep)
	})

	r.Route("/wallets/{walletID}", func(r chi.Router) {
		r.Post("/credit", h.Wallets.Credit)
		r.Post("/debit", h.Wallets.Debit)
		r.Get("/transactions", h.Wallets.GetTransactionHistory)
		r.Put("/status", h.Wallets.SetStatus)
		r.Post("/reservations", h.Reservations.Reserve)
	})

	r.Route("/reservations/{reservationID}", func(r chi.Router) {
		r.Post("/use", h.Reservations.Use)
		r.Post("/release", h.Reservations.Release)
	})

	r.Route("/money-movements/{movementID}", func(r chi.Router) {
		r.Post("/settle", h.Movements.Settle)
		r.Post("/reject", h.Movements.Reject)
	})

	return r
}
