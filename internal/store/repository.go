/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the payments-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/sahyog-coop/payments-service/internal/domain"
)

// ConfirmPaymentParams carries everything the store needs to settle a payment
// request inside one database transaction.
type ConfirmPaymentParams struct {
	MemberID      uuid.UUID
	TransactionID string
	BankReference *string
	PaymentMethod *string

	// ReceiptNumber is generated by the caller; the receipt row's unique
	// constraint backs it up.
	ReceiptNumber string

	// Rules is the society fee schedule applied by the mutation engine.
	Rules domain.FeeRules

	// SocietyName and SocietyRegNo are denormalized into the receipt.
	SocietyName  string
	SocietyRegNo string
}

// ConfirmPaymentOutcome reports the state written by a successful confirmation.
type ConfirmPaymentOutcome struct {
	Request *domain.PaymentRequest
	Member  *domain.Member
	Entry   *domain.LedgerEntry
	Receipt *domain.Receipt
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Member methods
	// Resolve the internal member UUID from a bearer-token subject.
	FindMemberIDByAuthSubject(ctx context.Context, subject string) (uuid.UUID, error)
	FindMemberByID(ctx context.Context, memberID uuid.UUID) (*domain.Member, error)

	// Payment request lifecycle
	CreatePaymentRequest(ctx context.Context, req *domain.PaymentRequest) (*domain.PaymentRequest, error)
	// GetPaymentRequestByTransactionID first flips the row to "expired" when
	// it is pending past its expiry, so reads never report a stale "pending".
	GetPaymentRequestByTransactionID(ctx context.Context, memberID uuid.UUID, transactionID string) (*domain.PaymentRequest, error)
	// ConfirmPaymentRequest runs the whole settle sequence (lock, expiry
	// check, member mutation, ledger append, receipt issue, status flip)
	// in one database transaction.
	ConfirmPaymentRequest(ctx context.Context, params ConfirmPaymentParams) (*ConfirmPaymentOutcome, error)
	ListPaymentHistory(ctx context.Context, memberID uuid.UUID, opts domain.PaymentHistoryOptions) ([]domain.PaymentHistoryItem, error)
	// ExpireOverduePaymentRequests flips every pending request past its
	// expiry to "expired" and returns the flipped rows.
	ExpireOverduePaymentRequests(ctx context.Context) ([]domain.PaymentRequest, error)

	// Receipts
	GetReceiptByNumber(ctx context.Context, memberID uuid.UUID, receiptNumber string) (*domain.Receipt, error)

	// Ledger
	ListLedgerEntriesByMember(ctx context.Context, memberID uuid.UUID, limit int, offset int) ([]domain.LedgerEntry, error)
}
