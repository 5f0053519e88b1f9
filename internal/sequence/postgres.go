package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresCounter stores one row per day in daily_counters.
type PostgresCounter struct {
	db rowQuerier
}

// NewPostgresCounter initializes a counter backed by pgxpool.
func NewPostgresCounter(pool *pgxpool.Pool) *PostgresCounter {
	if pool == nil {
		panic("sequence: pgx pool required")
	}
	return &PostgresCounter{db: pool}
}

func newPostgresCounterWithDB(db rowQuerier) *PostgresCounter {
	return &PostgresCounter{db: db}
}

// Increment upserts the day row and returns the incremented sequence in a
// single statement; the row lock taken by ON CONFLICT serializes writers.
func (c *PostgresCounter) Increment(ctx context.Context, dateKey string) (int64, error) {
	query := `
		INSERT INTO daily_counters (date_key, sequence)
		VALUES ($1, 1)
		ON CONFLICT (date_key)
		DO UPDATE SET sequence = daily_counters.sequence + 1
		RETURNING sequence
	`
	var seq int64
	if err := c.db.QueryRow(ctx, query, dateKey).Scan(&seq); err != nil {
		return 0, fmt.Errorf("%w: upsert daily counter: %v", ErrAllocation, err)
	}
	return seq, nil
}
