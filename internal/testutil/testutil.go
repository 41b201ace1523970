// Package testutil provides shared test helpers. Setup failures call
// t.Fatalf since they are not recoverable.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/database"
)

// SeededDB opens a fresh SQLite database in t.TempDir, creates the schema
// and seeds one screening with rows x perRow seats.
func SeededDB(t testing.TB, rows, perRow int) (*sql.DB, *database.SeedResult) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := database.EnsureSchema(ctx, db, "sqlite"); err != nil {
		t.Fatalf("schema: %v", err)
	}
	seed, err := database.Seed(ctx, db, rows, perRow, time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db, seed
}

// SeatIDs returns the seat ids of an auditorium in layout order.
func SeatIDs(t testing.TB, db *sql.DB, auditoriumID uint64) []uint64 {
	t.Helper()
	rows, err := db.Query(`SELECT id FROM seats WHERE auditorium_id = ? ORDER BY row_index, seat_number`, auditoriumID)
	if err != nil {
		t.Fatalf("query seats: %v", err)
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan seat: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

// Receive reads one value from ch or fails after timeout.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %s waiting for %s", timeout, what)
		var zero T
		return zero
	}
}
