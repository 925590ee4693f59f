// Package postgres is the pgx-backed verify.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bivex/iap-bridge/verify"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

// Schema is the table this store expects. Shipped for migration
// tooling; the store never creates it itself.
const Schema = `
CREATE TABLE IF NOT EXISTS iap_purchases (
    id             UUID PRIMARY KEY,
    user_id        TEXT NOT NULL,
    platform       TEXT NOT NULL,
    receipt_hash   TEXT NOT NULL UNIQUE,
    product_id     TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    latest_receipt TEXT NOT NULL DEFAULT '',
    expires_at     TIMESTAMPTZ,
    auto_renewing  BOOLEAN NOT NULL DEFAULT FALSE,
    state          TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS iap_purchases_user_idx ON iap_purchases (user_id);
CREATE INDEX IF NOT EXISTS iap_purchases_renewing_idx ON iap_purchases (expires_at) WHERE auto_renewing AND state = 'active';
`

type Store struct {
	pool *pgxpool.Pool
}

// New creates a store over an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateRecord(ctx context.Context, record *verify.Record) error {
	const q = `
		INSERT INTO iap_purchases
			(id, user_id, platform, receipt_hash, product_id, transaction_id,
			 latest_receipt, expires_at, auto_renewing, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, q,
		record.ID, record.UserID, string(record.Platform), record.ReceiptHash,
		record.ProductID, record.TransactionID, record.LatestReceipt,
		nullableTime(record.ExpiresAt), record.AutoRenewing, string(record.State),
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return verify.ErrExists
		}
		return fmt.Errorf("failed to insert purchase record: %w", err)
	}
	return nil
}

func (s *Store) GetByReceiptHash(ctx context.Context, hash string) (*verify.Record, error) {
	const q = selectColumns + ` WHERE receipt_hash = $1`

	record, err := scanRecord(s.pool.QueryRow(ctx, q, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, verify.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get purchase record: %w", err)
	}
	return record, nil
}

func (s *Store) GetByUser(ctx context.Context, userID string) ([]*verify.Record, error) {
	const q = selectColumns + ` WHERE user_id = $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, verify.ErrNotFound
	}
	return records, nil
}

func (s *Store) UpdateRecord(ctx context.Context, record *verify.Record) error {
	const q = `
		UPDATE iap_purchases
		SET latest_receipt = $2, expires_at = $3, auto_renewing = $4, state = $5, updated_at = $6
		WHERE receipt_hash = $1`

	tag, err := s.pool.Exec(ctx, q,
		record.ReceiptHash, record.LatestReceipt, nullableTime(record.ExpiresAt),
		record.AutoRenewing, string(record.State), record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update purchase record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return verify.ErrNotFound
	}
	return nil
}

func (s *Store) ListRenewing(ctx context.Context, cutoff time.Time, limit int) ([]*verify.Record, error) {
	const q = selectColumns + `
		WHERE auto_renewing AND state = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list renewing records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

const selectColumns = `
	SELECT id, user_id, platform, receipt_hash, product_id, transaction_id,
	       latest_receipt, expires_at, auto_renewing, state, created_at, updated_at
	FROM iap_purchases`

func scanRecord(row pgx.Row) (*verify.Record, error) {
	var record verify.Record
	var platform, state string
	var expiresAt *time.Time

	err := row.Scan(
		&record.ID, &record.UserID, &platform, &record.ReceiptHash,
		&record.ProductID, &record.TransactionID, &record.LatestReceipt,
		&expiresAt, &record.AutoRenewing, &state, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Platform = verify.Platform(platform)
	record.State = verify.RecordState(state)
	if expiresAt != nil {
		record.ExpiresAt = *expiresAt
	}
	return &record, nil
}

func scanRecords(rows pgx.Rows) ([]*verify.Record, error) {
	var records []*verify.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read purchase records: %w", err)
	}
	return records, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
