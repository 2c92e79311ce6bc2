package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sahyog-coop/payments-service/internal/config"
	"github.com/sahyog-coop/payments-service/internal/domain"
	"github.com/sahyog-coop/payments-service/internal/store"
	"github.com/sahyog-coop/payments-service/pkg/rabbitmq"
)

type paymentRepoStub struct {
	store.Repository

	member *domain.Member

	createCalled   int
	createdRequest *domain.PaymentRequest
	createErrs     []error

	confirmCalled  int
	confirmParams  store.ConfirmPaymentParams
	confirmOutcome *store.ConfirmPaymentOutcome
	confirmErr     error

	expired []domain.PaymentRequest
}

func (s *paymentRepoStub) FindMemberByID(ctx context.Context, memberID uuid.UUID) (*domain.Member, error) {
	if s.member == nil {
		return nil, store.ErrMemberNotFound
	}
	return s.member, nil
}

func (s *paymentRepoStub) CreatePaymentRequest(ctx context.Context, req *domain.PaymentRequest) (*domain.PaymentRequest, error) {
	s.createCalled++
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s.createdRequest = req
	return req, nil
}

func (s *paymentRepoStub) ConfirmPaymentRequest(ctx context.Context, params store.ConfirmPaymentParams) (*store.ConfirmPaymentOutcome, error) {
	s.confirmCalled++
	s.confirmParams = params
	if s.confirmErr != nil {
		return nil, s.confirmErr
	}
	return s.confirmOutcome, nil
}

func (s *paymentRepoStub) ExpireOverduePaymentRequests(ctx context.Context) ([]domain.PaymentRequest, error) {
	return s.expired, nil
}

type publisherStub struct {
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.published = append(p.published, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *publisherStub) Close() {}

func testConfig() config.Config {
	return config.Config{
		PaymentEventExchange: "society.events",
		SocietyName:          "Sahyog Cooperative Society",
		SocietyRegNo:         "MH/1234/2001",
		UPIPayeeVPA:          "sahyog@upi",
		UPIPayeeName:         "Sahyog Cooperative Society",
		PaymentExpiryMinutes: 30,
		EntryFeePaise:        20000,
		WelfareFundPaise:     40000,
		BuildingFundPaise:    240000,
		SharePricePaise:      10000,
	}
}

func newTestService(repo store.Repository, producer rabbitmq.Publisher) *Service {
	return NewService(repo, producer, nil, testConfig())
}

func strPtr(s string) *string { return &s }

func TestGenerateUPIPayment_ValidationErrors(t *testing.T) {
	repo := &paymentRepoStub{member: &domain.Member{ID: uuid.New(), AccountNumber: "SB-1042"}}
	svc := newTestService(repo, &publisherStub{})
	memberID := uuid.New()

	cases := []struct {
		name    string
		payload domain.GenerateUPIPaymentPayload
		wantErr error
	}{
		{
			name:    "zero amount",
			payload: domain.GenerateUPIPaymentPayload{Amount: 0, Purpose: domain.PurposeDeposit},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			payload: domain.GenerateUPIPaymentPayload{Amount: -500, Purpose: domain.PurposeDeposit},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "unknown purpose",
			payload: domain.GenerateUPIPaymentPayload{Amount: 1000, Purpose: "donation"},
			wantErr: ErrInvalidPurpose,
		},
		{
			name: "description too long",
			payload: domain.GenerateUPIPaymentPayload{
				Amount:      1000,
				Purpose:     domain.PurposeDeposit,
				Description: strPtr(strings.Repeat("x", 201)),
			},
			wantErr: ErrDescriptionTooLong,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.GenerateUPIPayment(context.Background(), memberID, tc.payload)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if repo.createCalled != 0 {
				t.Fatal("expected no payment request to be created")
			}
		})
	}
}

func TestGenerateUPIPayment_DescriptionLengthCountsRunes(t *testing.T) {
	repo := &paymentRepoStub{member: &domain.Member{ID: uuid.New(), AccountNumber: "SB-1042"}}
	svc := newTestService(repo, &publisherStub{})
	memberID := uuid.New()

	// 200 multi-byte characters is within the limit even though the byte
	// count is far above it.
	okDescription := strings.Repeat("₹", 200)
	if _, err := svc.GenerateUPIPayment(context.Background(), memberID, domain.GenerateUPIPaymentPayload{
		Amount:      1000,
		Purpose:     domain.PurposeDeposit,
		Description: strPtr(okDescription),
	}); err != nil {
		t.Fatalf("expected 200-rune description to be accepted, got %v", err)
	}

	longDescription := strings.Repeat("₹", 201)
	if _, err := svc.GenerateUPIPayment(context.Background(), memberID, domain.GenerateUPIPaymentPayload{
		Amount:      1000,
		Purpose:     domain.PurposeDeposit,
		Description: strPtr(longDescription),
	}); !errors.Is(err, ErrDescriptionTooLong) {
		t.Fatalf("expected ErrDescriptionTooLong for 201 runes, got %v", err)
	}
}

func TestGenerateUPIPayment_CreatesPendingRequestWithLink(t *testing.T) {
	repo := &paymentRepoStub{member: &domain.Member{ID: uuid.New(), AccountNumber: "SB-1042"}}
	svc := newTestService(repo, &publisherStub{})

	fixedNow := time.Date(2026, time.August, 26, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixedNow }

	memberID := uuid.New()
	created, err := svc.GenerateUPIPayment(context.Background(), memberID, domain.GenerateUPIPaymentPayload{
		Amount:  240000,
		Purpose: domain.PurposeMembershipFee,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if created.Status != domain.PaymentStatusPending {
		t.Fatalf("expected pending status, got %q", created.Status)
	}
	if created.UPIID != "sahyog@upi" {
		t.Fatalf("expected society VPA in response, got %q", created.UPIID)
	}
	if created.AccountNumber != "SB-1042" {
		t.Fatalf("expected member account number in response, got %q", created.AccountNumber)
	}
	if !strings.HasPrefix(created.TransactionID, "TXN") {
		t.Fatalf("expected TXN-prefixed transaction id, got %q", created.TransactionID)
	}
	if want := fixedNow.Add(30 * time.Minute); !created.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, created.ExpiresAt)
	}
	if !strings.HasPrefix(created.PaymentURL, "upi://pay?") {
		t.Fatalf("expected upi deep link, got %q", created.PaymentURL)
	}
	for _, fragment := range []string{"pa=sahyog%40upi", "am=2400.00", "cu=INR", "tr=" + created.TransactionID} {
		if !strings.Contains(created.PaymentURL, fragment) {
			t.Fatalf("expected link to contain %q, got %q", fragment, created.PaymentURL)
		}
	}
}

func TestGenerateUPIPayment_RetriesOnDuplicateTransactionID(t *testing.T) {
	repo := &paymentRepoStub{
		member:     &domain.Member{ID: uuid.New(), AccountNumber: "SB-1042"},
		createErrs: []error{store.ErrDuplicateTransactionID},
	}
	svc := newTestService(repo, &publisherStub{})

	created, err := svc.GenerateUPIPayment(context.Background(), uuid.New(), domain.GenerateUPIPaymentPayload{
		Amount:  1000,
		Purpose: domain.PurposeDeposit,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.createCalled != 2 {
		t.Fatalf("expected 2 create attempts, got %d", repo.createCalled)
	}
	if created == nil || created.TransactionID == "" {
		t.Fatal("expected a created request with a fresh transaction id")
	}
}

func TestConfirmUPIPayment_PublishesCompletedEvent(t *testing.T) {
	memberID := uuid.New()
	requestID := uuid.New()
	paidAt := time.Now()
	repo := &paymentRepoStub{
		confirmOutcome: &store.ConfirmPaymentOutcome{
			Request: &domain.PaymentRequest{
				ID:               requestID,
				MemberID:         memberID,
				TransactionID:    "TXN1724680012341a2b3c4d",
				Amount:           240000,
				Purpose:          domain.PurposeMembershipFee,
				Status:           domain.PaymentStatusCompleted,
				PaidAt:           &paidAt,
				ReceiptGenerated: true,
			},
			Member:  &domain.Member{ID: memberID, Status: domain.MemberStatusActive},
			Entry:   &domain.LedgerEntry{PaymentRequestID: requestID, Amount: 240000},
			Receipt: &domain.Receipt{ReceiptNumber: "RCP20260826A1B2C3D4"},
		},
	}
	producer := &publisherStub{}
	svc := newTestService(repo, producer)

	result, err := svc.ConfirmUPIPayment(context.Background(), memberID, domain.ConfirmUPIPaymentPayload{
		TransactionID: "TXN1724680012341a2b3c4d",
		BankReference: strPtr("UTR123456"),
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if result.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed status, got %q", result.Status)
	}
	if result.ReceiptNumber != "RCP20260826A1B2C3D4" {
		t.Fatalf("unexpected receipt number %q", result.ReceiptNumber)
	}
	if !result.ReceiptGenerated {
		t.Fatal("expected receipt_generated to be true")
	}
	if !strings.HasPrefix(repo.confirmParams.ReceiptNumber, "RCP") {
		t.Fatalf("expected RCP-prefixed receipt number, got %q", repo.confirmParams.ReceiptNumber)
	}

	if len(producer.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(producer.published))
	}
	evt := producer.published[0]
	if evt.routingKey != rabbitmq.RoutingKeyPaymentCompleted {
		t.Fatalf("expected routing key %q, got %q", rabbitmq.RoutingKeyPaymentCompleted, evt.routingKey)
	}
	if evt.exchange != "society.events" {
		t.Fatalf("expected society.events exchange, got %q", evt.exchange)
	}
	payload, ok := evt.body.(rabbitmq.PaymentEvent)
	if !ok {
		t.Fatalf("expected PaymentEvent body, got %T", evt.body)
	}
	if payload.ReceiptNumber != "RCP20260826A1B2C3D4" {
		t.Fatalf("unexpected event receipt number %q", payload.ReceiptNumber)
	}
}

func TestConfirmUPIPayment_RejectsSecondConfirmation(t *testing.T) {
	repo := &paymentRepoStub{confirmErr: store.ErrPaymentAlreadyProcessed}
	producer := &publisherStub{}
	svc := newTestService(repo, producer)

	_, err := svc.ConfirmUPIPayment(context.Background(), uuid.New(), domain.ConfirmUPIPaymentPayload{
		TransactionID: "TXN1724680012341a2b3c4d",
	})
	if !errors.Is(err, store.ErrPaymentAlreadyProcessed) {
		t.Fatalf("expected ErrPaymentAlreadyProcessed, got %v", err)
	}
	if len(producer.published) != 0 {
		t.Fatal("did not expect an event for a rejected confirmation")
	}
}

func TestConfirmUPIPayment_RequiresTransactionID(t *testing.T) {
	repo := &paymentRepoStub{}
	svc := newTestService(repo, &publisherStub{})

	_, err := svc.ConfirmUPIPayment(context.Background(), uuid.New(), domain.ConfirmUPIPaymentPayload{TransactionID: "   "})
	if !errors.Is(err, ErrMissingTransaction) {
		t.Fatalf("expected ErrMissingTransaction, got %v", err)
	}
	if repo.confirmCalled != 0 {
		t.Fatal("expected no repository call for a blank transaction id")
	}
}

func TestConfirmUPIPayment_SucceedsWhenPublishFails(t *testing.T) {
	memberID := uuid.New()
	repo := &paymentRepoStub{
		confirmOutcome: &store.ConfirmPaymentOutcome{
			Request: &domain.PaymentRequest{
				MemberID:         memberID,
				TransactionID:    "TXN1724680012341a2b3c4d",
				Amount:           1000,
				Purpose:          domain.PurposeDeposit,
				Status:           domain.PaymentStatusCompleted,
				ReceiptGenerated: true,
			},
			Member:  &domain.Member{ID: memberID},
			Entry:   &domain.LedgerEntry{Amount: 1000},
			Receipt: &domain.Receipt{ReceiptNumber: "RCP20260826DEADBEEF"},
		},
	}
	svc := newTestService(repo, &publisherStub{err: errors.New("broker unavailable")})

	result, err := svc.ConfirmUPIPayment(context.Background(), memberID, domain.ConfirmUPIPaymentPayload{
		TransactionID: "TXN1724680012341a2b3c4d",
	})
	if err != nil {
		t.Fatalf("expected confirmation to survive publish failure, got %v", err)
	}
	if result.ReceiptNumber != "RCP20260826DEADBEEF" {
		t.Fatalf("unexpected receipt number %q", result.ReceiptNumber)
	}
}

func TestExpireOverduePayments_PublishesExpiredEvents(t *testing.T) {
	repo := &paymentRepoStub{
		expired: []domain.PaymentRequest{
			{MemberID: uuid.New(), TransactionID: "TXN1", Amount: 1000, Purpose: domain.PurposeDeposit, Status: domain.PaymentStatusExpired},
			{MemberID: uuid.New(), TransactionID: "TXN2", Amount: 2000, Purpose: domain.PurposeOther, Status: domain.PaymentStatusExpired},
		},
	}
	producer := &publisherStub{}
	svc := newTestService(repo, producer)

	count, err := svc.ExpireOverduePayments(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 expired requests, got %d", count)
	}
	if len(producer.published) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(producer.published))
	}
	for _, evt := range producer.published {
		if evt.routingKey != rabbitmq.RoutingKeyPaymentExpired {
			t.Fatalf("expected routing key %q, got %q", rabbitmq.RoutingKeyPaymentExpired, evt.routingKey)
		}
	}
}

type limiterStub struct {
	count      int
	retryAfter int
	err        error
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return l.count, l.retryAfter, l.err
}

func TestConsumeLimit_RejectsOverBudget(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmRateLimitPerMinute = 5
	svc := NewService(&paymentRepoStub{}, &publisherStub{}, &limiterStub{count: 6, retryAfter: 17}, cfg)

	_, err := svc.ConfirmUPIPayment(context.Background(), uuid.New(), domain.ConfirmUPIPaymentPayload{TransactionID: "TXN1"})
	var limited *ErrRateLimited
	if !errors.As(err, &limited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if limited.RetryAfterSeconds != 17 {
		t.Fatalf("expected retry-after 17, got %d", limited.RetryAfterSeconds)
	}
}

func TestConsumeLimit_AllowsWhenLimiterUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmRateLimitPerMinute = 5
	repo := &paymentRepoStub{
		confirmOutcome: &store.ConfirmPaymentOutcome{
			Request: &domain.PaymentRequest{TransactionID: "TXN1", Status: domain.PaymentStatusCompleted, ReceiptGenerated: true},
			Member:  &domain.Member{},
			Entry:   &domain.LedgerEntry{},
			Receipt: &domain.Receipt{ReceiptNumber: "RCP20260826CAFED00D"},
		},
	}
	svc := NewService(repo, &publisherStub{}, &limiterStub{err: errors.New("redis down")}, cfg)

	if _, err := svc.ConfirmUPIPayment(context.Background(), uuid.New(), domain.ConfirmUPIPaymentPayload{TransactionID: "TXN1"}); err != nil {
		t.Fatalf("expected limiter outage to be ignored, got %v", err)
	}
}
