/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to members, payment requests, ledger entries, and receipts.
 *
 * The confirm path is the one correctness-critical sequence in the service:
 * it locks the payment-request row, re-checks its status under the lock,
 * applies the purpose effect to the member row, and appends the ledger entry
 * and receipt, all in a single transaction, so two concurrent confirms for
 * the same transaction id can never both credit the account.
 *
 * @dependencies
 * - context, encoding/json, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sahyog-coop/payments-service/internal/domain"
)

var (
	ErrMemberNotFound          = errors.New("member not found")
	ErrPaymentRequestNotFound  = errors.New("payment request not found")
	ErrPaymentAlreadyProcessed = errors.New("payment request already processed")
	ErrPaymentRequestExpired   = errors.New("payment request expired")
	ErrReceiptNotFound         = errors.New("receipt not found")
	ErrDuplicateTransactionID  = errors.New("transaction id already exists")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool

	// now is swapped in tests to pin the confirm-time expiry decision.
	now func() time.Time
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// confirmStatusError reports why a locked payment request cannot be
// confirmed, or nil when it is still confirmable. Expiry uses the same
// inclusive boundary as the sweep queries: a pending request is expired
// once now >= expires_at.
func confirmStatusError(req *domain.PaymentRequest, now time.Time) error {
	switch req.Status {
	case domain.PaymentStatusPending:
		if now.Before(req.ExpiresAt) {
			return nil
		}
		return ErrPaymentRequestExpired
	case domain.PaymentStatusExpired:
		return ErrPaymentRequestExpired
	default:
		return ErrPaymentAlreadyProcessed
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const memberColumns = `
	id, member_no, full_name, account_number, balance, share_count, share_value,
	fees_paid, entry_fee_paid, welfare_fund_paid, building_fund_paid, status,
	created_at, updated_at
`

func scanMember(row pgx.Row) (*domain.Member, error) {
	var m domain.Member
	err := row.Scan(
		&m.ID, &m.MemberNo, &m.FullName, &m.AccountNumber, &m.Balance,
		&m.ShareCount, &m.ShareValue, &m.FeesPaid, &m.EntryFeePaid,
		&m.WelfareFundPaid, &m.BuildingFundPaid, &m.Status,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindMemberIDByAuthSubject resolves the internal member UUID from the
// bearer-token subject set by the identity provider during onboarding.
func (r *PostgresRepository) FindMemberIDByAuthSubject(ctx context.Context, subject string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, "SELECT id FROM members WHERE auth_subject = $1", subject).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, ErrMemberNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// FindMemberByID retrieves a member account by its UUID.
func (r *PostgresRepository) FindMemberByID(ctx context.Context, memberID uuid.UUID) (*domain.Member, error) {
	query := `SELECT` + memberColumns + `FROM members WHERE id = $1`
	member, err := scanMember(r.db.QueryRow(ctx, query, memberID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return member, nil
}

// CreatePaymentRequest inserts a new pending payment request.
func (r *PostgresRepository) CreatePaymentRequest(ctx context.Context, req *domain.PaymentRequest) (*domain.PaymentRequest, error) {
	query := `
		INSERT INTO payment_requests (
			id, member_id, transaction_id, amount, purpose, description, status, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		req.ID,
		req.MemberID,
		req.TransactionID,
		req.Amount,
		req.Purpose,
		req.Description,
		req.Status,
		req.ExpiresAt,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateTransactionID
		}
		return nil, err
	}
	return req, nil
}

const paymentRequestColumns = `
	id, member_id, transaction_id, amount, purpose, description, status,
	expires_at, payment_method, bank_reference, paid_at, receipt_generated,
	created_at, updated_at
`

func scanPaymentRequest(row pgx.Row) (*domain.PaymentRequest, error) {
	var req domain.PaymentRequest
	err := row.Scan(
		&req.ID, &req.MemberID, &req.TransactionID, &req.Amount, &req.Purpose,
		&req.Description, &req.Status, &req.ExpiresAt, &req.PaymentMethod,
		&req.BankReference, &req.PaidAt, &req.ReceiptGenerated,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// expireIfOverdue flips one pending request past its expiry to "expired".
// The status guard makes it safe to run concurrently with a confirm; the
// conditional update simply matches zero rows once a terminal status is set.
func (r *PostgresRepository) expireIfOverdue(ctx context.Context, memberID uuid.UUID, transactionID string) error {
	query := `
		UPDATE payment_requests
		SET status = 'expired', updated_at = NOW()
		WHERE member_id = $1
		  AND transaction_id = $2
		  AND status = 'pending'
		  AND expires_at <= NOW()
	`
	_, err := r.db.Exec(ctx, query, memberID, transactionID)
	return err
}

// GetPaymentRequestByTransactionID returns one request owned by the member.
// Overdue pending rows are flipped to "expired" before the read so status
// projections always reflect the true lifecycle state.
func (r *PostgresRepository) GetPaymentRequestByTransactionID(ctx context.Context, memberID uuid.UUID, transactionID string) (*domain.PaymentRequest, error) {
	if err := r.expireIfOverdue(ctx, memberID, transactionID); err != nil {
		return nil, err
	}

	query := `SELECT` + paymentRequestColumns + `FROM payment_requests WHERE member_id = $1 AND transaction_id = $2`
	req, err := scanPaymentRequest(r.db.QueryRow(ctx, query, memberID, transactionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

// ConfirmPaymentRequest settles one pending payment request atomically.
// Sequence: lock the request row, re-check status under the lock, check the
// expiry, lock the member row, apply the purpose effect, persist the member,
// append the ledger entry with the post-mutation balance, insert the receipt,
// and mark the request completed. Any error rolls the whole unit back; the
// one exception is an expiry detected here, which commits only the "expired"
// status transition before failing.
func (r *PostgresRepository) ConfirmPaymentRequest(ctx context.Context, params ConfirmPaymentParams) (*ConfirmPaymentOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Lock the payment request row. Concurrent confirms for the same
	// transaction id serialize here; the loser observes a terminal status.
	lockQuery := `SELECT` + paymentRequestColumns + `FROM payment_requests WHERE member_id = $1 AND transaction_id = $2 FOR UPDATE`
	req, err := scanPaymentRequest(tx.QueryRow(ctx, lockQuery, params.MemberID, params.TransactionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentRequestNotFound
		}
		return nil, fmt.Errorf("failed to lock payment request: %w", err)
	}

	// 2. Status and expiry check under the lock. A pending request past its
	// expiry flips to "expired"; the transition is itself terminal state and
	// must survive the failed confirmation, so it is committed here.
	now := r.now().UTC()
	if statusErr := confirmStatusError(req, now); statusErr != nil {
		if req.Status == domain.PaymentStatusPending && errors.Is(statusErr, ErrPaymentRequestExpired) {
			expireQuery := `UPDATE payment_requests SET status = 'expired', updated_at = NOW() WHERE id = $1 AND status = 'pending'`
			if _, err := tx.Exec(ctx, expireQuery, req.ID); err != nil {
				return nil, fmt.Errorf("failed to expire payment request: %w", err)
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, err
			}
		}
		return nil, statusErr
	}

	// 3. Lock and load the member row.
	memberQuery := `SELECT` + memberColumns + `FROM members WHERE id = $1 FOR UPDATE`
	member, err := scanMember(tx.QueryRow(ctx, memberQuery, req.MemberID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to lock member: %w", err)
	}

	// 4. Apply the purpose-specific effect.
	description, err := domain.ApplyPaymentEffect(member, req.Amount, req.Purpose, params.Rules)
	if err != nil {
		return nil, err
	}

	updateMemberQuery := `
		UPDATE members
		SET balance = $1, share_count = $2, share_value = $3, fees_paid = $4,
		    entry_fee_paid = $5, welfare_fund_paid = $6, building_fund_paid = $7,
		    status = $8, updated_at = NOW()
		WHERE id = $9
	`
	if _, err := tx.Exec(ctx, updateMemberQuery,
		member.Balance, member.ShareCount, member.ShareValue, member.FeesPaid,
		member.EntryFeePaid, member.WelfareFundPaid, member.BuildingFundPaid,
		member.Status, member.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update member account: %w", err)
	}

	// 5. Append the ledger entry with the post-mutation balance snapshot.
	entry := &domain.LedgerEntry{
		ID:               uuid.New(),
		MemberID:         member.ID,
		PaymentRequestID: req.ID,
		EntryType:        "credit",
		Amount:           req.Amount,
		BalanceAfter:     member.Balance,
		Description:      description,
	}
	entryQuery := `
		INSERT INTO ledger_entries (
			id, member_id, payment_request_id, entry_type, amount, balance_after, description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq, created_at
	`
	if err := tx.QueryRow(ctx, entryQuery,
		entry.ID, entry.MemberID, entry.PaymentRequestID, entry.EntryType,
		entry.Amount, entry.BalanceAfter, entry.Description,
	).Scan(&entry.Seq, &entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	// 6. Issue the receipt. The unique constraint on payment_request_id
	// backs the one-receipt-per-request invariant at the schema level.
	receipt := &domain.Receipt{
		ID:               uuid.New(),
		ReceiptNumber:    params.ReceiptNumber,
		MemberID:         member.ID,
		PaymentRequestID: req.ID,
		Amount:           req.Amount,
		Purpose:          req.Purpose,
		BankReference:    params.BankReference,
		Details: domain.ReceiptDetails{
			SocietyName:   params.SocietyName,
			SocietyRegNo:  params.SocietyRegNo,
			MemberName:    member.FullName,
			MemberNo:      member.MemberNo,
			AccountNumber: member.AccountNumber,
			Amount:        req.Amount,
			Purpose:       req.Purpose,
			PaymentMethod: params.PaymentMethod,
			BankReference: params.BankReference,
			PaidAt:        now.Format(time.RFC3339),
		},
	}
	detailsJSON, err := json.Marshal(receipt.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal receipt details: %w", err)
	}
	receiptQuery := `
		INSERT INTO payment_receipts (
			id, receipt_number, member_id, payment_request_id, amount, purpose, bank_reference, details
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, receiptQuery,
		receipt.ID, receipt.ReceiptNumber, receipt.MemberID, receipt.PaymentRequestID,
		receipt.Amount, receipt.Purpose, receipt.BankReference, string(detailsJSON),
	).Scan(&receipt.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrPaymentAlreadyProcessed
		}
		return nil, fmt.Errorf("failed to insert receipt: %w", err)
	}

	// 7. Mark the request completed with the confirmation metadata.
	completeQuery := `
		UPDATE payment_requests
		SET status = 'completed', payment_method = $2, bank_reference = $3,
		    paid_at = $4, receipt_generated = true, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := tx.Exec(ctx, completeQuery, req.ID, params.PaymentMethod, params.BankReference, now)
	if err != nil {
		return nil, fmt.Errorf("failed to complete payment request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrPaymentAlreadyProcessed
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	req.Status = domain.PaymentStatusCompleted
	req.PaymentMethod = params.PaymentMethod
	req.BankReference = params.BankReference
	req.PaidAt = &now
	req.ReceiptGenerated = true

	return &ConfirmPaymentOutcome{
		Request: req,
		Member:  member,
		Entry:   entry,
		Receipt: receipt,
	}, nil
}

// expireOverdueForMember flips all of one member's overdue pending requests.
// Listing reads run it first so history rows never report a stale "pending".
func (r *PostgresRepository) expireOverdueForMember(ctx context.Context, memberID uuid.UUID) error {
	query := `
		UPDATE payment_requests
		SET status = 'expired', updated_at = NOW()
		WHERE member_id = $1
		  AND status = 'pending'
		  AND expires_at <= NOW()
	`
	_, err := r.db.Exec(ctx, query, memberID)
	return err
}

// ListPaymentHistory retrieves the member's payment requests, newest first,
// joined with the receipt number where one exists.
func (r *PostgresRepository) ListPaymentHistory(ctx context.Context, memberID uuid.UUID, opts domain.PaymentHistoryOptions) ([]domain.PaymentHistoryItem, error) {
	if err := r.expireOverdueForMember(ctx, memberID); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT
			pr.id, pr.member_id, pr.transaction_id, pr.amount, pr.purpose,
			pr.description, pr.status, pr.expires_at, pr.payment_method,
			pr.bank_reference, pr.paid_at, pr.receipt_generated,
			pr.created_at, pr.updated_at,
			rc.receipt_number
		FROM payment_requests pr
		LEFT JOIN payment_receipts rc ON rc.payment_request_id = pr.id
		WHERE pr.member_id = $1
		ORDER BY pr.created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, memberID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanPaymentHistoryRows(rows)
}

func scanPaymentHistoryRows(rows pgx.Rows) ([]domain.PaymentHistoryItem, error) {
	defer rows.Close()

	items := []domain.PaymentHistoryItem{}
	for rows.Next() {
		var item domain.PaymentHistoryItem
		err := rows.Scan(
			&item.ID, &item.MemberID, &item.TransactionID, &item.Amount, &item.Purpose,
			&item.Description, &item.Status, &item.ExpiresAt, &item.PaymentMethod,
			&item.BankReference, &item.PaidAt, &item.ReceiptGenerated,
			&item.CreatedAt, &item.UpdatedAt,
			&item.ReceiptNumber,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// ExpireOverduePaymentRequests flips every pending request past its expiry
// to "expired" and returns the flipped rows so the caller can publish events.
func (r *PostgresRepository) ExpireOverduePaymentRequests(ctx context.Context) ([]domain.PaymentRequest, error) {
	query := `
		UPDATE payment_requests
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at <= NOW()
		RETURNING` + paymentRequestColumns
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return scanPaymentRequestRows(rows)
}

func scanPaymentRequestRows(rows pgx.Rows) ([]domain.PaymentRequest, error) {
	defer rows.Close()

	var requests []domain.PaymentRequest
	for rows.Next() {
		var req domain.PaymentRequest
		err := rows.Scan(
			&req.ID, &req.MemberID, &req.TransactionID, &req.Amount, &req.Purpose,
			&req.Description, &req.Status, &req.ExpiresAt, &req.PaymentMethod,
			&req.BankReference, &req.PaidAt, &req.ReceiptGenerated,
			&req.CreatedAt, &req.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return requests, nil
}

// GetReceiptByNumber retrieves a receipt by number, scoped to the owning
// member. A receipt owned by another member is indistinguishable from one
// that does not exist.
func (r *PostgresRepository) GetReceiptByNumber(ctx context.Context, memberID uuid.UUID, receiptNumber string) (*domain.Receipt, error) {
	query := `
		SELECT id, receipt_number, member_id, payment_request_id, amount, purpose, bank_reference, details, created_at
		FROM payment_receipts
		WHERE receipt_number = $1 AND member_id = $2
	`
	var receipt domain.Receipt
	var detailsJSON []byte
	err := r.db.QueryRow(ctx, query, receiptNumber, memberID).Scan(
		&receipt.ID, &receipt.ReceiptNumber, &receipt.MemberID, &receipt.PaymentRequestID,
		&receipt.Amount, &receipt.Purpose, &receipt.BankReference, &detailsJSON, &receipt.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(detailsJSON, &receipt.Details); err != nil {
		return nil, fmt.Errorf("failed to decode receipt details: %w", err)
	}
	return &receipt, nil
}

// listLedgerEntriesQuery orders by seq, the insert sequence assigned while
// the confirm transaction holds the member lock. created_at cannot order the
// log: NOW() is the transaction start time, so a confirm that began earlier
// but applied its effect later would sort before the effect it built on.
const listLedgerEntriesQuery = `
	SELECT id, seq, member_id, payment_request_id, entry_type, amount, balance_after, description, created_at
	FROM ledger_entries
	WHERE member_id = $1
	ORDER BY seq DESC
	LIMIT $2 OFFSET $3
`

// ListLedgerEntriesByMember retrieves a member's transaction log, newest first.
func (r *PostgresRepository) ListLedgerEntriesByMember(ctx context.Context, memberID uuid.UUID, limit int, offset int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx, listLedgerEntriesQuery, memberID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanLedgerEntryRows(rows)
}

func scanLedgerEntryRows(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		err := rows.Scan(
			&entry.ID, &entry.Seq, &entry.MemberID, &entry.PaymentRequestID, &entry.EntryType,
			&entry.Amount, &entry.BalanceAfter, &entry.Description, &entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
