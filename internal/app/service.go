/**
 * @description
 * This file contains the core business logic for the payments-service. The `Service`
 * struct orchestrates the UPI payment lifecycle, coordinating between the database
 * repository, the UPI link builder, and the message broker.
 *
 * Key features:
 * - Generates payment requests with unique transaction ids and upi:// deep links.
 * - Confirms payments atomically through the repository's settle transaction.
 * - Publishes lifecycle events to RabbitMQ for asynchronous processing by the
 *   society's notification services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - crypto/rand: For unguessable transaction and receipt number suffixes.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq, pkg/upi: For event publishing and UPI deep links.
 */

package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sahyog-coop/payments-service/internal/config"
	"github.com/sahyog-coop/payments-service/internal/domain"
	"github.com/sahyog-coop/payments-service/internal/store"
	"github.com/sahyog-coop/payments-service/pkg/rabbitmq"
	"github.com/sahyog-coop/payments-service/pkg/upi"
)

const maxDescriptionLength = 200

// Validation errors surfaced to the API layer as 400 responses.
var (
	ErrInvalidAmount      = errors.New("amount must be a positive integer in paise")
	ErrInvalidPurpose     = errors.New("purpose is not one of the accepted values")
	ErrDescriptionTooLong = errors.New("description exceeds 200 characters")
	ErrMissingTransaction = errors.New("transaction_id is required")
)

// ErrRateLimited is returned when a member exceeds the per-endpoint request budget.
type ErrRateLimited struct {
	RetryAfterSeconds int
}

func (e *ErrRateLimited) Error() string {
	return "too many requests"
}

// RateLimiter is the contract for the distributed fixed-window limiter.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for payments.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	rateLimiter   RateLimiter

	eventExchange string
	payeeVPA      string
	payeeName     string
	societyName   string
	societyRegNo  string
	expiryWindow  time.Duration
	feeRules      domain.FeeRules

	generateLimitPerMinute int
	confirmLimitPerMinute  int

	// now is swapped in tests for deterministic expiry assertions.
	now func() time.Time
}

// NewService creates a new payments service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher, limiter RateLimiter, cfg config.Config) *Service {
	return &Service{
		repo:          repo,
		eventProducer: producer,
		rateLimiter:   limiter,
		eventExchange: cfg.PaymentEventExchange,
		payeeVPA:      cfg.UPIPayeeVPA,
		payeeName:     cfg.UPIPayeeName,
		societyName:   cfg.SocietyName,
		societyRegNo:  cfg.SocietyRegNo,
		expiryWindow:  time.Duration(cfg.PaymentExpiryMinutes) * time.Minute,
		feeRules: domain.FeeRules{
			EntryFee:     cfg.EntryFeePaise,
			WelfareFund:  cfg.WelfareFundPaise,
			BuildingFund: cfg.BuildingFundPaise,
			SharePrice:   cfg.SharePricePaise,
		},
		generateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		confirmLimitPerMinute:  cfg.ConfirmRateLimitPerMinute,
		now:                    time.Now,
	}
}

// ResolveMemberID converts a bearer-token subject into the internal member UUID.
// This allows handlers to accept subjects from validated JWTs while the
// repositories continue to operate on UUIDs.
func (s *Service) ResolveMemberID(ctx context.Context, authSubject string) (uuid.UUID, error) {
	return s.repo.FindMemberIDByAuthSubject(ctx, authSubject)
}

// GenerateUPIPayment validates the payload, persists a pending payment request,
// and returns it with the upi:// deep link the client renders as a QR code.
func (s *Service) GenerateUPIPayment(ctx context.Context, memberID uuid.UUID, payload domain.GenerateUPIPaymentPayload) (*domain.GeneratedPayment, error) {
	if err := s.consumeLimit(ctx, "payment_generate", memberID, s.generateLimitPerMinute); err != nil {
		return nil, err
	}

	if payload.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !domain.ValidPurpose(payload.Purpose) {
		return nil, ErrInvalidPurpose
	}
	if payload.Description != nil && utf8.RuneCountInString(*payload.Description) > maxDescriptionLength {
		return nil, ErrDescriptionTooLong
	}

	member, err := s.repo.FindMemberByID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to find member: %w", err)
	}

	// Transaction ids carry a random suffix; on the rare collision the
	// unique constraint rejects the insert and we mint a fresh id.
	var created *domain.PaymentRequest
	for attempt := 0; attempt < 3; attempt++ {
		req := &domain.PaymentRequest{
			ID:            uuid.New(),
			MemberID:      memberID,
			TransactionID: newTransactionID(s.now()),
			Amount:        payload.Amount,
			Purpose:       payload.Purpose,
			Description:   payload.Description,
			Status:        domain.PaymentStatusPending,
			ExpiresAt:     s.now().Add(s.expiryWindow),
		}
		created, err = s.repo.CreatePaymentRequest(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateTransactionID) {
			return nil, fmt.Errorf("failed to create payment request: %w", err)
		}
		log.Printf("level=warn component=payment_service msg=\"transaction id collision; regenerating\" member_id=%s attempt=%d", memberID, attempt+1)
	}
	if created == nil {
		return nil, fmt.Errorf("failed to create payment request: %w", err)
	}

	paymentURL := upi.BuildPaymentLink(upi.Params{
		PayeeVPA:      s.payeeVPA,
		PayeeName:     s.payeeName,
		AmountPaise:   created.Amount,
		TransactionID: created.TransactionID,
		Note:          paymentNote(created.Purpose, member.AccountNumber),
	})

	log.Printf("level=info component=payment_service msg=\"payment request created\" member_id=%s transaction_id=%s amount=%d purpose=%s expires_at=%s",
		memberID, created.TransactionID, created.Amount, created.Purpose, created.ExpiresAt.UTC().Format(time.RFC3339))
	return &domain.GeneratedPayment{
		RequestID:     created.ID,
		TransactionID: created.TransactionID,
		UPIID:         s.payeeVPA,
		Amount:        created.Amount,
		Purpose:       created.Purpose,
		Description:   created.Description,
		MemberName:    member.FullName,
		AccountNumber: member.AccountNumber,
		Status:        created.Status,
		ExpiresAt:     created.ExpiresAt,
		PaymentURL:    paymentURL,
	}, nil
}

// ConfirmUPIPayment settles a pending payment request: it applies the account
// mutation for the request's purpose, appends a ledger entry, and issues a
// receipt, all inside one database transaction.
func (s *Service) ConfirmUPIPayment(ctx context.Context, memberID uuid.UUID, payload domain.ConfirmUPIPaymentPayload) (*domain.ConfirmResult, error) {
	if err := s.consumeLimit(ctx, "payment_confirm", memberID, s.confirmLimitPerMinute); err != nil {
		return nil, err
	}

	transactionID := strings.TrimSpace(payload.TransactionID)
	if transactionID == "" {
		return nil, ErrMissingTransaction
	}

	outcome, err := s.repo.ConfirmPaymentRequest(ctx, store.ConfirmPaymentParams{
		MemberID:      memberID,
		TransactionID: transactionID,
		BankReference: payload.BankReference,
		PaymentMethod: payload.PaymentMethod,
		ReceiptNumber: newReceiptNumber(s.now()),
		Rules:         s.feeRules,
		SocietyName:   s.societyName,
		SocietyRegNo:  s.societyRegNo,
	})
	if err != nil {
		return nil, err
	}

	s.publishPaymentEvent(ctx, rabbitmq.RoutingKeyPaymentCompleted, outcome.Request, outcome.Receipt.ReceiptNumber)

	log.Printf("level=info component=payment_service msg=\"payment confirmed\" member_id=%s transaction_id=%s receipt_number=%s amount=%d purpose=%s",
		memberID, transactionID, outcome.Receipt.ReceiptNumber, outcome.Request.Amount, outcome.Request.Purpose)

	return &domain.ConfirmResult{
		TransactionID:    outcome.Request.TransactionID,
		Status:           outcome.Request.Status,
		ReceiptNumber:    outcome.Receipt.ReceiptNumber,
		ReceiptGenerated: outcome.Request.ReceiptGenerated,
	}, nil
}

// CheckPaymentStatus returns the current state of a member's payment request.
// A pending request past its expiry is flipped to expired before it is reported.
func (s *Service) CheckPaymentStatus(ctx context.Context, memberID uuid.UUID, transactionID string) (*domain.PaymentRequest, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, ErrMissingTransaction
	}
	return s.repo.GetPaymentRequestByTransactionID(ctx, memberID, transactionID)
}

// ListPaymentHistory returns the member's payment requests, newest first,
// joined with receipt numbers where receipts exist.
func (s *Service) ListPaymentHistory(ctx context.Context, memberID uuid.UUID, opts domain.PaymentHistoryOptions) ([]domain.PaymentHistoryItem, error) {
	return s.repo.ListPaymentHistory(ctx, memberID, opts)
}

// GetReceipt fetches one of the member's receipts by receipt number.
func (s *Service) GetReceipt(ctx context.Context, memberID uuid.UUID, receiptNumber string) (*domain.Receipt, error) {
	receiptNumber = strings.TrimSpace(receiptNumber)
	if receiptNumber == "" {
		return nil, store.ErrReceiptNotFound
	}
	return s.repo.GetReceiptByNumber(ctx, memberID, receiptNumber)
}

// ListLedgerEntries returns the member's ledger, newest first.
func (s *Service) ListLedgerEntries(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	return s.repo.ListLedgerEntriesByMember(ctx, memberID, limit, offset)
}

// ExpireOverduePayments flips every pending request past its expiry and
// publishes an expiry event per flipped row. Called by the cron sweeper.
func (s *Service) ExpireOverduePayments(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireOverduePaymentRequests(ctx)
	if err != nil {
		return 0, err
	}
	for i := range expired {
		s.publishPaymentEvent(ctx, rabbitmq.RoutingKeyPaymentExpired, &expired[i], "")
	}
	return len(expired), nil
}

func (s *Service) consumeLimit(ctx context.Context, scope string, memberID uuid.UUID, limit int) error {
	if s.rateLimiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, memberID.String(), limit, time.Minute)
	if err != nil {
		// The limiter is advisory; an unreachable Redis must not block payments.
		log.Printf("level=warn component=payment_service msg=\"rate limiter unavailable; allowing request\" scope=%s member_id=%s err=%v", scope, memberID, err)
		return nil
	}
	if count > limit {
		return &ErrRateLimited{RetryAfterSeconds: retryAfter}
	}
	return nil
}

func (s *Service) publishPaymentEvent(ctx context.Context, routingKey string, req *domain.PaymentRequest, receiptNumber string) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.PaymentEvent{
		MemberID:      req.MemberID,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Purpose:       req.Purpose,
		Status:        req.Status,
		ReceiptNumber: receiptNumber,
		Timestamp:     s.now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, routingKey, event); err != nil {
		// Events are best-effort; the database is the source of truth.
		log.Printf("level=warn component=payment_service msg=\"event publish failed\" routing_key=%s transaction_id=%s err=%v", routingKey, req.TransactionID, err)
	}
}

// newTransactionID mints ids like "TXN17248001234561a2b3c4d": a millisecond
// timestamp for rough ordering plus a random suffix for uniqueness.
func newTransactionID(at time.Time) string {
	return fmt.Sprintf("TXN%d%s", at.UnixMilli(), randomHex(4))
}

// newReceiptNumber mints numbers like "RCP20260826A1B2C3D4".
func newReceiptNumber(at time.Time) string {
	return fmt.Sprintf("RCP%s%s", at.UTC().Format("20060102"), strings.ToUpper(randomHex(4)))
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure leaves no safe fallback for id material.
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

func paymentNote(purpose, accountNumber string) string {
	label := strings.ReplaceAll(purpose, "_", " ")
	if accountNumber == "" {
		return label
	}
	return fmt.Sprintf("%s %s", label, accountNumber)
}
