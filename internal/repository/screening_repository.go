package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// ScreeningRepo reads screenings and their seat layout. Screenings are
// never written by the booking flow.
type ScreeningRepo struct {
	db *sql.DB
}

// NewScreeningRepo returns a ScreeningRepo bound to db.
func NewScreeningRepo(db *sql.DB) *ScreeningRepo { return &ScreeningRepo{db: db} }

// DB exposes the handle so callers can begin transactions spanning
// repositories.
func (r *ScreeningRepo) DB() *sql.DB { return r.db }

// GetByID returns the screening with its auditorium name.
func (r *ScreeningRepo) GetByID(ctx context.Context, id uint64) (*model.Screening, error) {
	return getScreening(ctx, r.db, id)
}

// GetByIDTx is GetByID inside the caller's transaction.
func (r *ScreeningRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Screening, error) {
	return getScreening(ctx, tx, id)
}

func getScreening(ctx context.Context, q querier, id uint64) (*model.Screening, error) {
	const sel = `SELECT s.id, s.auditorium_id, a.name, s.movie_title, s.starts_at
	             FROM screenings s JOIN auditoriums a ON a.id = s.auditorium_id
	             WHERE s.id = ?`
	var s model.Screening
	err := q.QueryRowContext(ctx, sel, id).Scan(&s.ID, &s.AuditoriumID, &s.AuditoriumName, &s.MovieTitle, &s.StartsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScreeningNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Seats lists every seat of an auditorium ordered by row then seat number.
func (r *ScreeningRepo) Seats(ctx context.Context, auditoriumID uint64) ([]model.Seat, error) {
	const sel = `SELECT id, auditorium_id, row_label, row_index, seat_number
	             FROM seats WHERE auditorium_id = ?
	             ORDER BY row_index, seat_number`
	rows, err := r.db.QueryContext(ctx, sel, auditoriumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Seat
	for rows.Next() {
		var s model.Seat
		if err := rows.Scan(&s.ID, &s.AuditoriumID, &s.RowLabel, &s.RowIndex, &s.SeatNumber); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SeatsInAuditoriumTx returns the subset of seatIDs that belong to the
// auditorium.
func (r *ScreeningRepo) SeatsInAuditoriumTx(ctx context.Context, tx *sql.Tx, auditoriumID uint64, seatIDs []uint64) (map[uint64]bool, error) {
	found := make(map[uint64]bool, len(seatIDs))
	if len(seatIDs) == 0 {
		return found, nil
	}
	in, args := inClause(seatIDs)
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM seats WHERE auditorium_id = ? AND id IN (`+in+`)`,
		append([]any{auditoriumID}, args...)...)
	if err != nil {
		return nil, err
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		found[id] = true
	}
	return found, nil
}

// SeatInAuditorium reports whether seatID is a seat of the auditorium.
func (r *ScreeningRepo) SeatInAuditorium(ctx context.Context, auditoriumID, seatID uint64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seats WHERE auditorium_id = ? AND id = ?`, auditoriumID, seatID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
