package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/h7-ecom/api/internal/repositories"
)

// nextCounterSQL creates the counter on first use and otherwise advances it unless that would
// pass max_value, in which case no row is returned.
const nextCounterSQL = `
INSERT INTO counters AS c (id, current_value, step, updated_at)
VALUES ($1, GREATEST($2::bigint, 1), 1, $3)
ON CONFLICT (id) DO UPDATE SET
	current_value = c.current_value + CASE WHEN $2::bigint > 0 THEN $2::bigint ELSE GREATEST(c.step, 1) END,
	updated_at = $3
WHERE c.max_value IS NULL
	OR c.current_value + CASE WHEN $2::bigint > 0 THEN $2::bigint ELSE GREATEST(c.step, 1) END <= c.max_value
RETURNING current_value`

const configureCounterSQL = `
INSERT INTO counters AS c (id, current_value, step, max_value, updated_at)
VALUES ($1, COALESCE($3::bigint, 0), CASE WHEN $2::bigint > 0 THEN $2::bigint ELSE 1 END, $4::bigint, $5)
ON CONFLICT (id) DO UPDATE SET
	step = CASE WHEN $2::bigint > 0 THEN $2::bigint ELSE c.step END,
	max_value = COALESCE($4::bigint, c.max_value),
	current_value = CASE WHEN $3::bigint IS NOT NULL AND c.current_value = 0 THEN $3::bigint ELSE c.current_value END,
	updated_at = $5`

// CounterRepository allocates sequence values on the pool, outside any caller transaction, so a
// rolled back order leaves a gap instead of a reused number.
type CounterRepository struct {
	db    *DB
	clock func() time.Time
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}
	var value int64
	err := r.db.pool.QueryRow(ctx, nextCounterSQL, id, step, r.clock().UTC()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded its max value", id), nil)
	}
	if err != nil {
		return 0, wrapError("counters.next", err)
	}
	return value, nil
}

func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	_, err := r.db.pool.Exec(ctx, configureCounterSQL, id, cfg.Step, cfg.InitialValue, cfg.MaxValue, r.clock().UTC())
	return wrapError("counters.configure", err)
}
