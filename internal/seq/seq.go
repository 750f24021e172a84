// Package seq issues unique, monotonically increasing numbers scoped to a
// period key. The counter bump is a single atomic statement so concurrent
// callers can never observe the same value.
package seq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable signals that the counter storage could not perform the
// atomic increment. Callers must not fall back to numbering of their own.
var ErrUnavailable = errors.New("sequence allocation unavailable")

// Allocator hands out the next number for a period key.
type Allocator interface {
	Next(ctx context.Context, periodKey string) (int64, error)
}

// SQLiteAllocator implements Allocator on the sequence_counters table.
type SQLiteAllocator struct {
	DB *sql.DB
}

// Next atomically increments and returns the counter for periodKey,
// creating it at 1 on first use. The upsert-with-RETURNING form is one
// storage round trip with no read-then-write window.
func (a SQLiteAllocator) Next(ctx context.Context, periodKey string) (int64, error) {
	if periodKey == "" {
		return 0, fmt.Errorf("%w: empty period key", ErrUnavailable)
	}
	var n int64
	err := a.DB.QueryRowContext(ctx, `INSERT INTO sequence_counters(period_key, seq) VALUES (?, 1)
ON CONFLICT(period_key) DO UPDATE SET seq=seq+1
RETURNING seq`, periodKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// PeriodKey derives the numbering epoch for an instant, e.g. "25-01"
// for January 2025.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("06-01")
}

// Format builds the human-readable sequence number, e.g.
// Format("PA", "25-01", 7, 5) == "PA25-01-00007".
func Format(prefix, periodKey string, n int64, pad int) string {
	return fmt.Sprintf("%s%s-%0*d", prefix, periodKey, pad, n)
}
