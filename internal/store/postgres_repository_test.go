package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sahyog-coop/payments-service/internal/domain"
)

func TestConfirmStatusError(t *testing.T) {
	now := time.Date(2026, time.August, 26, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		status    string
		expiresAt time.Time
		want      error
	}{
		{
			name:      "pending before expiry is confirmable",
			status:    domain.PaymentStatusPending,
			expiresAt: now.Add(time.Minute),
			want:      nil,
		},
		{
			name:      "pending exactly at expiry is expired",
			status:    domain.PaymentStatusPending,
			expiresAt: now,
			want:      ErrPaymentRequestExpired,
		},
		{
			name:      "pending past expiry is expired",
			status:    domain.PaymentStatusPending,
			expiresAt: now.Add(-time.Second),
			want:      ErrPaymentRequestExpired,
		},
		{
			name:      "already expired stays expired",
			status:    domain.PaymentStatusExpired,
			expiresAt: now.Add(-time.Hour),
			want:      ErrPaymentRequestExpired,
		},
		{
			name:      "completed rejects a second confirmation",
			status:    domain.PaymentStatusCompleted,
			expiresAt: now.Add(time.Hour),
			want:      ErrPaymentAlreadyProcessed,
		},
		{
			name:      "failed rejects confirmation",
			status:    domain.PaymentStatusFailed,
			expiresAt: now.Add(time.Hour),
			want:      ErrPaymentAlreadyProcessed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := &domain.PaymentRequest{Status: tc.status, ExpiresAt: tc.expiresAt}
			got := confirmStatusError(req, now)
			if !errors.Is(got, tc.want) {
				t.Fatalf("confirmStatusError(%q) = %v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

// The ledger must list entries in the order their balance mutations were
// applied. created_at cannot provide that: NOW() is the transaction start
// time, and a confirm that began earlier can apply its effect later. The
// seq column is assigned at insert time under the member row lock, so seq
// order always equals apply order.
func TestLedgerOrderingUsesInsertSequence(t *testing.T) {
	if !strings.Contains(listLedgerEntriesQuery, "ORDER BY seq DESC") {
		t.Fatalf("ledger listing must order by the insert sequence, got query: %s", listLedgerEntriesQuery)
	}
	if strings.Contains(listLedgerEntriesQuery, "ORDER BY created_at") {
		t.Fatal("ledger listing must not order by created_at")
	}

	var ledgerDDL string
	for _, stmt := range schemaStatements {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS ledger_entries") {
			ledgerDDL = stmt
			break
		}
	}
	if ledgerDDL == "" {
		t.Fatal("ledger_entries DDL not found in schema statements")
	}
	if !strings.Contains(ledgerDDL, "seq BIGSERIAL") {
		t.Fatal("ledger_entries must carry a database-assigned insert sequence column")
	}
}

// failingRows fakes a pgx result set that errors after iteration, the shape
// a broken connection produces mid-stream.
type failingRows struct {
	err error
}

func (r *failingRows) Close()                                       {}
func (r *failingRows) Err() error                                   { return r.err }
func (r *failingRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *failingRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *failingRows) Next() bool                                   { return false }
func (r *failingRows) Scan(dest ...any) error                       { return nil }
func (r *failingRows) Values() ([]any, error)                       { return nil, r.err }
func (r *failingRows) RawValues() [][]byte                          { return nil }
func (r *failingRows) Conn() *pgx.Conn                              { return nil }

func TestScanHelpers_PropagateRowsErr(t *testing.T) {
	streamErr := errors.New("connection reset mid-stream")
	rows := &failingRows{err: streamErr}

	if _, err := scanPaymentHistoryRows(rows); !errors.Is(err, streamErr) {
		t.Fatalf("expected history scan to surface the stream error, got %v", err)
	}
	if _, err := scanLedgerEntryRows(rows); !errors.Is(err, streamErr) {
		t.Fatalf("expected ledger scan to surface the stream error, got %v", err)
	}
	if _, err := scanPaymentRequestRows(rows); !errors.Is(err, streamErr) {
		t.Fatalf("expected payment request scan to surface the stream error, got %v", err)
	}
}
