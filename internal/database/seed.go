package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SeedResult reports the ids created by Seed.
type SeedResult struct {
	AuditoriumID  uint64
	ScreeningID   uint64
	TicketTypeIDs []uint64
}

// Seed inserts one auditorium with rows x perRow seats, a screening and the
// default ticket types inside a single transaction.
func Seed(ctx context.Context, db *sql.DB, rows, perRow int, startsAt time.Time) (*SeedResult, error) {
	if rows < 1 || rows > 26 || perRow < 1 {
		return nil, fmt.Errorf("seed: invalid layout %dx%d", rows, perRow)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res := &SeedResult{}
	audID, err := insertID(ctx, tx, `INSERT INTO auditoriums (name) VALUES (?)`, fmt.Sprintf("Hall %dx%d", rows, perRow))
	if err != nil {
		return nil, fmt.Errorf("seed auditorium: %w", err)
	}
	res.AuditoriumID = audID

	query := `INSERT INTO seats (auditorium_id, row_label, row_index, seat_number) VALUES `
	args := make([]any, 0, rows*perRow*4)
	for r := 0; r < rows; r++ {
		for n := 1; n <= perRow; n++ {
			if len(args) > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?)"
			args = append(args, audID, string(rune('A'+r)), r, n)
		}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("seed seats: %w", err)
	}

	res.ScreeningID, err = insertID(ctx, tx,
		`INSERT INTO screenings (auditorium_id, movie_title, starts_at) VALUES (?, ?, ?)`,
		audID, "Demo Screening", startsAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("seed screening: %w", err)
	}

	for _, tt := range []struct {
		name  string
		price int
	}{{"Adult", 1200}, {"Child", 800}, {"Senior", 900}} {
		id, err := insertID(ctx, tx, `INSERT INTO ticket_types (name, price_cents) VALUES (?, ?)`, tt.name, tt.price)
		if err != nil {
			return nil, fmt.Errorf("seed ticket type %s: %w", tt.name, err)
		}
		res.TicketTypeIDs = append(res.TicketTypeIDs, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return res, nil
}

func insertID(ctx context.Context, tx *sql.Tx, q string, args ...any) (uint64, error) {
	r, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	id, err := r.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}
