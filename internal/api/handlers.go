/**
 * @description
 * This file contains the HTTP handlers for the payments-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sahyog-coop/payments-service/internal/app"
	"github.com/sahyog-coop/payments-service/internal/domain"
	"github.com/sahyog-coop/payments-service/internal/store"
)

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service *app.Service
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service) *PaymentHandlers {
	return &PaymentHandlers{service: service}
}

// resolveMember extracts the authenticated subject from the request context and
// resolves it to the internal member UUID. It writes the error response itself
// and reports success through the boolean.
func (h *PaymentHandlers) resolveMember(w http.ResponseWriter, r *http.Request, endpoint string) (uuid.UUID, bool) {
	subject, ok := GetAuthSubject(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get member identity from context")
		return uuid.Nil, false
	}

	memberID, err := h.service.ResolveMemberID(r.Context(), subject)
	if err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=member_resolution_failed subject=%s err=%v", endpoint, subject, err)
		h.writeError(w, http.StatusNotFound, "Member not found")
		return uuid.Nil, false
	}
	return memberID, true
}

// GenerateUPIPaymentHandler handles POST /payments/upi/generate.
func (h *PaymentHandlers) GenerateUPIPaymentHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.resolveMember(w, r, "generate_upi_payment")
	if !ok {
		return
	}

	var payload domain.GenerateUPIPaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("level=warn component=api endpoint=generate_upi_payment outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	req, err := h.service.GenerateUPIPayment(r.Context(), memberID, payload)
	if err != nil {
		h.respondServiceError(w, "generate_upi_payment", memberID, err)
		return
	}

	log.Printf("level=info component=api endpoint=generate_upi_payment outcome=accepted member_id=%s transaction_id=%s amount=%d", memberID, req.TransactionID, req.Amount)
	h.writeJSON(w, http.StatusOK, req)
}

// ConfirmUPIPaymentHandler handles POST /payments/upi/confirm.
func (h *PaymentHandlers) ConfirmUPIPaymentHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.resolveMember(w, r, "confirm_upi_payment")
	if !ok {
		return
	}

	var payload domain.ConfirmUPIPaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("level=warn component=api endpoint=confirm_upi_payment outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.service.ConfirmUPIPayment(r.Context(), memberID, payload)
	if err != nil {
		h.respondServiceError(w, "confirm_upi_payment", memberID, err)
		return
	}

	log.Printf("level=info component=api endpoint=confirm_upi_payment outcome=accepted member_id=%s transaction_id=%s receipt_number=%s", memberID, result.TransactionID, result.ReceiptNumber)
	h.writeJSON(w, http.StatusOK, result)
}

// PaymentStatusHandler handles GET /payments/status/{transaction_id}.
func (h *PaymentHandlers) PaymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.resolveMember(w, r, "payment_status")
	if !ok {
		return
	}

	transactionID := chi.URLParam(r, "transaction_id")
	req, err := h.service.CheckPaymentStatus(r.Context(), memberID, transactionID)
	if err != nil {
		h.respondServiceError(w, "payment_status", memberID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, req)
}

// PaymentHistoryHandler handles GET /payments/history.
func (h *PaymentHandlers) PaymentHistoryHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.resolveMember(w, r, "payment_history")
	if !ok {
		return
	}

	opts := domain.PaymentHistoryOptions{
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	}
	items, err := h.service.ListPaymentHistory(r.Context(), memberID, opts)
	if err != nil {
		h.respondServiceError(w, "payment_history", memberID, err)
		return
	}
	if items == nil {
		items = []domain.PaymentHistoryItem{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"payments": items})
}

// GetReceiptHandler handles GET /payments/receipt/{receipt_number}.
func (h *PaymentHandlers) GetReceiptHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.resolveMember(w, r, "get_receipt")
	if !ok {
		return
	}

	receiptNumber := chi.URLParam(r, "receipt_number")
	receipt, err := h.service.GetReceipt(r.Context(), memberID, receiptNumber)
	if err != nil {
		h.respondServiceError(w, "get_receipt", memberID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, receipt)
}

// LedgerHandler handles GET /payments/ledger.
func (h *PaymentHandlers) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.resolveMember(w, r, "ledger")
	if !ok {
		return
	}

	entries, err := h.service.ListLedgerEntries(r.Context(), memberID, queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		h.respondServiceError(w, "ledger", memberID, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// respondServiceError maps service and store errors onto HTTP status codes.
func (h *PaymentHandlers) respondServiceError(w http.ResponseWriter, endpoint string, memberID uuid.UUID, err error) {
	var limited *app.ErrRateLimited
	switch {
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidPurpose),
		errors.Is(err, app.ErrDescriptionTooLong),
		errors.Is(err, app.ErrMissingTransaction):
		log.Printf("level=warn component=api endpoint=%s outcome=reject member_id=%s err=%v", endpoint, memberID, err)
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrMemberNotFound),
		errors.Is(err, store.ErrPaymentRequestNotFound),
		errors.Is(err, store.ErrReceiptNotFound):
		log.Printf("level=warn component=api endpoint=%s outcome=reject member_id=%s err=%v", endpoint, memberID, err)
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrPaymentAlreadyProcessed),
		errors.Is(err, store.ErrPaymentRequestExpired):
		log.Printf("level=warn component=api endpoint=%s outcome=reject member_id=%s err=%v", endpoint, memberID, err)
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again shortly.")
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed member_id=%s err=%v", endpoint, memberID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
