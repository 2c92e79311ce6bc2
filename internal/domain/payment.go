/**
 * @description
 * This file defines the core domain models for the payments-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (paise), which avoids floating-point inaccuracies with financial data.
 * - Payment requests, ledger entries, and receipts are never deleted; a payment
 *   request only moves forward through its status lifecycle.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment purposes drive which account-mutation rule applies at confirmation.
const (
	PurposeMembershipFee = "membership_fee"
	PurposeSharePurchase = "share_purchase"
	PurposeLoanRepayment = "loan_repayment"
	PurposeDeposit       = "deposit"
	PurposeOther         = "other"
)

// Payment request lifecycle states. A request leaves "pending" exactly once.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusExpired   = "expired"
	PaymentStatusFailed    = "failed"
)

// Member account states.
const (
	MemberStatusPendingPayment = "pending_payment"
	MemberStatusActive         = "active"
	MemberStatusSuspended      = "suspended"
	MemberStatusInactive       = "inactive"
)

// ValidPurpose reports whether the given purpose is one of the enumerated values.
func ValidPurpose(purpose string) bool {
	switch purpose {
	case PurposeMembershipFee, PurposeSharePurchase, PurposeLoanRepayment, PurposeDeposit, PurposeOther:
		return true
	}
	return false
}

// Member represents a society member's account. It maps to the `members` table.
type Member struct {
	ID               uuid.UUID `json:"id"`
	MemberNo         string    `json:"member_no"`
	FullName         string    `json:"full_name"`
	AccountNumber    string    `json:"account_number"`
	Balance          int64     `json:"balance"`     // in paise
	ShareCount       int64     `json:"share_count"`
	ShareValue       int64     `json:"share_value"` // in paise
	FeesPaid         int64     `json:"fees_paid"`   // cumulative membership fees, in paise
	EntryFeePaid     bool      `json:"entry_fee_paid"`
	WelfareFundPaid  bool      `json:"welfare_fund_paid"`
	BuildingFundPaid bool      `json:"building_fund_paid"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PaymentRequest represents a UPI payment intent awaiting out-of-band settlement.
// It maps to the `payment_requests` table.
type PaymentRequest struct {
	ID               uuid.UUID  `json:"id"`
	MemberID         uuid.UUID  `json:"member_id"`
	TransactionID    string     `json:"transaction_id"`
	Amount           int64      `json:"amount"` // in paise
	Purpose          string     `json:"purpose"`
	Description      *string    `json:"description,omitempty"`
	Status           string     `json:"status"`
	ExpiresAt        time.Time  `json:"expires_at"`
	PaymentMethod    *string    `json:"payment_method,omitempty"`
	BankReference    *string    `json:"bank_reference,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	ReceiptGenerated bool       `json:"receipt_generated"`
	PaymentURL       string     `json:"payment_url,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// LedgerEntry is one immutable row of the member's transaction log.
// BalanceAfter is the member's balance strictly after this entry's effect,
// read inside the same database transaction that applied the effect.
// Seq is the database-assigned insert sequence; because entries are inserted
// under the member row lock, seq order equals the order effects were applied.
type LedgerEntry struct {
	ID               uuid.UUID `json:"id"`
	Seq              int64     `json:"seq"`
	MemberID         uuid.UUID `json:"member_id"`
	PaymentRequestID uuid.UUID `json:"payment_request_id"`
	EntryType        string    `json:"entry_type"` // 'credit'
	Amount           int64     `json:"amount"`     // in paise
	BalanceAfter     int64     `json:"balance_after"`
	Description      string    `json:"description"`
	CreatedAt        time.Time `json:"created_at"`
}

// ReceiptDetails is the denormalized payload stored with a receipt so it
// remains renderable even if upstream rows later change.
type ReceiptDetails struct {
	SocietyName    string  `json:"society_name"`
	SocietyRegNo   string  `json:"society_reg_no"`
	MemberName     string  `json:"member_name"`
	MemberNo       string  `json:"member_no"`
	AccountNumber  string  `json:"account_number"`
	Amount         int64   `json:"amount"`
	Purpose        string  `json:"purpose"`
	PaymentMethod  *string `json:"payment_method,omitempty"`
	BankReference  *string `json:"bank_reference,omitempty"`
	PaidAt         string  `json:"paid_at"`
}

// Receipt is a durable, uniquely numbered proof of a completed payment.
// It maps to the `payment_receipts` table and is 1:1 with a completed request.
type Receipt struct {
	ID               uuid.UUID      `json:"id"`
	ReceiptNumber    string         `json:"receipt_number"`
	MemberID         uuid.UUID      `json:"member_id"`
	PaymentRequestID uuid.UUID      `json:"payment_request_id"`
	Amount           int64          `json:"amount"` // in paise
	Purpose          string         `json:"purpose"`
	BankReference    *string        `json:"bank_reference,omitempty"`
	Details          ReceiptDetails `json:"details"`
	CreatedAt        time.Time      `json:"created_at"`
}

// GenerateUPIPaymentPayload is the DTO for POST /payments/upi/generate.
type GenerateUPIPaymentPayload struct {
	Amount      int64   `json:"amount"` // in paise
	Purpose     string  `json:"purpose"`
	Description *string `json:"description,omitempty"`
}

// GeneratedPayment is the response DTO for POST /payments/upi/generate. It
// carries everything the client needs to render the payment screen and QR.
type GeneratedPayment struct {
	RequestID     uuid.UUID `json:"request_id"`
	TransactionID string    `json:"transaction_id"`
	UPIID         string    `json:"upi_id"`
	Amount        int64     `json:"amount"` // in paise
	Purpose       string    `json:"purpose"`
	Description   *string   `json:"description,omitempty"`
	MemberName    string    `json:"member_name"`
	AccountNumber string    `json:"account_number"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	PaymentURL    string    `json:"payment_url"`
}

// ConfirmUPIPaymentPayload is the DTO for POST /payments/upi/confirm.
type ConfirmUPIPaymentPayload struct {
	TransactionID string  `json:"transaction_id"`
	BankReference *string `json:"bank_reference_number,omitempty"`
	PaymentMethod *string `json:"payment_method,omitempty"`
}

// ConfirmResult summarizes a successful confirmation.
type ConfirmResult struct {
	TransactionID    string `json:"transaction_id"`
	Status           string `json:"status"`
	ReceiptNumber    string `json:"receipt_number"`
	ReceiptGenerated bool   `json:"receipt_generated"`
}

// PaymentHistoryItem is one row of a member's payment history, joined with
// the receipt number when a receipt exists.
type PaymentHistoryItem struct {
	PaymentRequest
	ReceiptNumber *string `json:"receipt_number,omitempty"`
}

// PaymentHistoryOptions controls pagination for history listings.
type PaymentHistoryOptions struct {
	Limit  int
	Offset int
}
