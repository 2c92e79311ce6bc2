/**
 * @description
 * This file sets up the HTTP router for the payments-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PaymentRoutes creates and returns a new router for the payments service.
func PaymentRoutes(h *PaymentHandlers, auth AuthConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(MemberAuthMiddleware(auth))

		// Payment request lifecycle
		r.Post("/payments/upi/generate", h.GenerateUPIPaymentHandler)
		r.Post("/payments/upi/confirm", h.ConfirmUPIPaymentHandler)
		r.Get("/payments/status/{transaction_id}", h.PaymentStatusHandler)

		// History, receipts and the member ledger
		r.Get("/payments/history", h.PaymentHistoryHandler)
		r.Get("/payments/receipt/{receipt_number}", h.GetReceiptHandler)
		r.Get("/payments/ledger", h.LedgerHandler)
	})

	return r
}
