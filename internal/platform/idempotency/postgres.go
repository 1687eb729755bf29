package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresDB is the subset of pgxpool.Pool used by PostgresStore.
type PostgresDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on the idempotency_keys table created by the schema migration.
type PostgresStore struct {
	db PostgresDB
}

func NewPostgresStore(db PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

const reserveSQL = `
INSERT INTO idempotency_keys (id, key, fingerprint, status, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, 'pending', $4, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	key = EXCLUDED.key,
	fingerprint = EXCLUDED.fingerprint,
	status = 'pending',
	response_status = 0,
	response_headers = NULL,
	response_body = NULL,
	created_at = EXCLUDED.created_at,
	updated_at = EXCLUDED.updated_at,
	expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.expires_at <= $4
RETURNING id`

const selectRecordSQL = `
SELECT key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at
FROM idempotency_keys WHERE id = $1`

const saveResponseSQL = `
INSERT INTO idempotency_keys (id, key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, 'completed', $4, $5, $6, $7, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	status = 'completed',
	response_status = EXCLUDED.response_status,
	response_headers = EXCLUDED.response_headers,
	response_body = EXCLUDED.response_body,
	updated_at = EXCLUDED.updated_at,
	expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.fingerprint = EXCLUDED.fingerprint
RETURNING id`

// Reserve claims the key in one statement: a fresh or expired row is (re)written as pending,
// otherwise the live row is classified.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	record := newPendingRecord(key, fingerprint, now, normalizeTTL(ttl))
	id := documentID(key)

	for attempt := 0; attempt < 3; attempt++ {
		var returned string
		err := s.db.QueryRow(ctx, reserveSQL, id, key, fingerprint, now, record.ExpiresAt).Scan(&returned)
		if err == nil {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		existing, found, err := s.load(ctx, id)
		if err != nil {
			return Reservation{}, err
		}
		if found {
			return reservationFor(existing, fingerprint)
		}
	}
	return Reservation{}, fmt.Errorf("idempotency: reserve: key %q kept changing", key)
}

func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	record := completeRecord(Record{Key: key, Fingerprint: fingerprint}, resp, now, normalizeTTL(ttl))
	headers, err := json.Marshal(record.ResponseHeaders)
	if err != nil {
		return err
	}
	var returned string
	err = s.db.QueryRow(ctx, saveResponseSQL,
		documentID(key), key, fingerprint, record.ResponseStatus, headers, record.ResponseBody, now, record.ExpiresAt,
	).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrFingerprintMismatch
	}
	if err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE id = $1 AND fingerprint = $2`, documentID(key), fingerprint)
	return err
}

func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tag, err := s.db.Exec(ctx, `
DELETE FROM idempotency_keys
WHERE id IN (SELECT id FROM idempotency_keys WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2)`, now.UTC(), limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) load(ctx context.Context, id string) (Record, bool, error) {
	var (
		record  Record
		status  string
		headers []byte
	)
	err := s.db.QueryRow(ctx, selectRecordSQL, id).Scan(
		&record.Key, &record.Fingerprint, &status, &record.ResponseStatus, &headers, &record.ResponseBody,
		&record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load: %w", err)
	}
	record.Status = Status(status)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &record.ResponseHeaders); err != nil {
			return Record{}, false, fmt.Errorf("idempotency: decode headers: %w", err)
		}
	}
	return record, true, nil
}
