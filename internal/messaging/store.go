package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the pool surface the store needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store keeps the per-message audit trail in Postgres. Every inbound and
// outbound SMS gets one row, optionally linked to the offer it concerns.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// LogOutbound records one outbound SMS.
func (s *Store) LogOutbound(ctx context.Context, q Querier, offerID *uuid.UUID, from, to, body, providerSID, status string) error {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO message_log (id, offer_id, direction, from_e164, to_e164, body, provider_sid, status, sent_at)
		VALUES ($1, $2, 'outbound', $3, $4, $5, NULLIF($6, ''), $7, now())
	`
	if _, err := q.Exec(ctx, query, uuid.New(), offerID, from, to, body, providerSID, status); err != nil {
		return fmt.Errorf("messaging: log outbound: %w", err)
	}
	return nil
}

// LogInbound records one inbound SMS.
func (s *Store) LogInbound(ctx context.Context, q Querier, offerID *uuid.UUID, from, to, body, providerSID string) error {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO message_log (id, offer_id, direction, from_e164, to_e164, body, provider_sid, status, received_at)
		VALUES ($1, $2, 'inbound', $3, $4, $5, NULLIF($6, ''), 'received', now())
	`
	if _, err := q.Exec(ctx, query, uuid.New(), offerID, from, to, body, providerSID); err != nil {
		return fmt.Errorf("messaging: log inbound: %w", err)
	}
	return nil
}

// UpdateDeliveryStatus applies a provider status callback to the matching
// outbound row. Unknown SIDs are ignored; Twilio retries callbacks and rows
// for other environments can share a number.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, providerSID, status, errorCode, errorMessage string) error {
	query := `
		UPDATE message_log
		SET status = $2,
			error_code = NULLIF($3, ''),
			error_message = NULLIF($4, '')
		WHERE provider_sid = $1 AND direction = 'outbound'
	`
	if _, err := s.pool.Exec(ctx, query, providerSID, status, errorCode, errorMessage); err != nil {
		return fmt.Errorf("messaging: update delivery status: %w", err)
	}
	return nil
}

// RecentForPhone lists the latest messages exchanged with a number, newest first.
func (s *Store) RecentForPhone(ctx context.Context, phone string, limit int) ([]LogEntry, error) {
	query := `
		SELECT id, offer_id, direction, from_e164, to_e164, body,
			COALESCE(provider_sid, ''), COALESCE(status, ''), sent_at, received_at, created_at
		FROM message_log
		WHERE from_e164 = $1 OR to_e164 = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("messaging: recent for phone: %w", err)
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.OfferID, &e.Direction, &e.From, &e.To, &e.Body,
			&e.ProviderSID, &e.Status, &e.SentAt, &e.ReceivedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("messaging: scan log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Recorder binds the clinic's sending number to the store so callers only
// supply the patient side of each outbound row.
type Recorder struct {
	store *Store
	from  string
}

func (s *Store) Recorder(from string) *Recorder {
	return &Recorder{store: s, from: from}
}

func (r *Recorder) LogOutbound(ctx context.Context, offerID *uuid.UUID, to, body, providerSID, status string) error {
	return r.store.LogOutbound(ctx, nil, offerID, r.from, to, body, providerSID, status)
}

// LogEntry is one audit row.
type LogEntry struct {
	ID          uuid.UUID
	OfferID     *uuid.UUID
	Direction   string
	From        string
	To          string
	Body        string
	ProviderSID string
	Status      string
	SentAt      *time.Time
	ReceivedAt  *time.Time
	CreatedAt   time.Time
}
