package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// BookingRepo persists bookings and their seat assignments. The
// booking_seats (screening_id, seat_id) unique key is what finally stops two
// bookings from sharing a seat.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to db.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// DB exposes the underlying handle for transactions.
func (r *BookingRepo) DB() *sql.DB { return r.db }

// OccupiedSeats returns every booked seat of a screening in ascending order.
func (r *BookingRepo) OccupiedSeats(ctx context.Context, screeningID uint64) ([]uint64, error) {
	return occupiedSeats(ctx, r.db, screeningID)
}

// OccupiedSeatsTx is OccupiedSeats inside the caller's transaction.
func (r *BookingRepo) OccupiedSeatsTx(ctx context.Context, tx *sql.Tx, screeningID uint64) ([]uint64, error) {
	return occupiedSeats(ctx, tx, screeningID)
}

func occupiedSeats(ctx context.Context, q querier, screeningID uint64) ([]uint64, error) {
	rows, err := q.QueryContext(ctx, `SELECT seat_id FROM booking_seats WHERE screening_id = ? ORDER BY seat_id`, screeningID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

// CreateTx inserts the booking row and sets its generated id. The caller
// owns the transaction.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings (screening_id, session_id, confirmation_code, total_price_cents, created_at)
	           VALUES (?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.ScreeningID, b.SessionID, b.ConfirmationCode, b.TotalPriceCents, b.CreatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// CreateSeatsBulkTx inserts all seat assignments of a booking in one
// statement. Passing no seats is a no-op.
func (r *BookingRepo) CreateSeatsBulkTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	if len(b.Seats) == 0 {
		return nil
	}
	query := `INSERT INTO booking_seats (booking_id, screening_id, seat_id, ticket_type_id, price_cents) VALUES `
	args := make([]any, 0, len(b.Seats)*5)
	for i, s := range b.Seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, b.ID, b.ScreeningID, s.SeatID, s.TicketTypeID, s.PriceCents)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// GetByID loads a booking and its seats.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	const sel = `SELECT id, screening_id, session_id, confirmation_code, total_price_cents, created_at
	             FROM bookings WHERE id = ?`
	var b model.Booking
	err := r.db.QueryRowContext(ctx, sel, id).Scan(&b.ID, &b.ScreeningID, &b.SessionID, &b.ConfirmationCode, &b.TotalPriceCents, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT seat_id, ticket_type_id, price_cents FROM booking_seats WHERE booking_id = ? ORDER BY seat_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s model.BookingSeat
		if err := rows.Scan(&s.SeatID, &s.TicketTypeID, &s.PriceCents); err != nil {
			return nil, err
		}
		b.Seats = append(b.Seats, s)
	}
	return &b, rows.Err()
}
