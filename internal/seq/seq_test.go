package seq_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"civitrack/internal/db"
	"civitrack/internal/migrate"
	"civitrack/internal/seq"
)

func newAllocator(t *testing.T) seq.SQLiteAllocator {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return seq.SQLiteAllocator{DB: conn}
}

func TestNextAllocatesContiguously(t *testing.T) {
	a := newAllocator(t)
	ctx := context.Background()
	for want := int64(1); want <= 10; want++ {
		got, err := a.Next(ctx, "25-01")
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestNextConcurrentCallersGetDistinctNumbers(t *testing.T) {
	a := newAllocator(t)
	ctx := context.Background()
	const n = 25
	results := make(chan int64, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := a.Next(ctx, "25-01")
			if err != nil {
				errs <- err
				return
			}
			results <- v
		}()
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		t.Fatalf("next: %v", err)
	}
	seen := make(map[int64]bool, n)
	for v := range results {
		if seen[v] {
			t.Fatalf("duplicate number %d", v)
		}
		seen[v] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d numbers, got %d", n, len(seen))
	}
	// Distinct is not enough; the run must be contiguous from 1.
	for want := int64(1); want <= n; want++ {
		if !seen[want] {
			t.Fatalf("missing number %d in %v", want, seen)
		}
	}
}

func TestNextKeepsPeriodsIndependent(t *testing.T) {
	a := newAllocator(t)
	ctx := context.Background()
	if _, err := a.Next(ctx, "25-01"); err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, err := a.Next(ctx, "25-01"); err != nil {
		t.Fatalf("next: %v", err)
	}
	got, err := a.Next(ctx, "25-02")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != 1 {
		t.Fatalf("new period should start at 1, got %d", got)
	}
	got, err = a.Next(ctx, "25-01")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != 3 {
		t.Fatalf("original period should continue at 3, got %d", got)
	}
}

func TestNextRejectsEmptyPeriod(t *testing.T) {
	a := newAllocator(t)
	if _, err := a.Next(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty period key")
	}
}

func TestPeriodKey(t *testing.T) {
	got := seq.PeriodKey(time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC))
	if got != "25-01" {
		t.Fatalf("expected 25-01, got %s", got)
	}
	got = seq.PeriodKey(time.Date(2030, time.December, 31, 23, 59, 0, 0, time.UTC))
	if got != "30-12" {
		t.Fatalf("expected 30-12, got %s", got)
	}
}

func TestFormat(t *testing.T) {
	got := seq.Format("PA", "25-01", 7, 5)
	if got != "PA25-01-00007" {
		t.Fatalf("expected PA25-01-00007, got %s", got)
	}
	got = seq.Format("PA", "25-01", 123456, 5)
	if got != "PA25-01-123456" {
		t.Fatalf("padding must not truncate, got %s", got)
	}
}
