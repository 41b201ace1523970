// Package queue defines the booking notification payload and the consumer
// that records confirmed bookings.
package queue

// BookingConfirmedQueue is the durable queue booking notifications go to.
const BookingConfirmedQueue = "booking.confirmed"

// BookingConfirmedEvent is published after a booking commits. It carries
// enough for consumers to log or notify without querying the database.
type BookingConfirmedEvent struct {
	BookingID        uint64   `json:"booking_id"`
	ConfirmationCode string   `json:"booking_confirmation"`
	ScreeningID      uint64   `json:"screening_id"`
	SessionID        string   `json:"session_id"`
	MovieTitle       string   `json:"movie_title"`
	AuditoriumName   string   `json:"auditorium_name"`
	StartsAt         string   `json:"starts_at"`
	SeatIDs          []uint64 `json:"seat_ids"`
	TotalPriceCents  uint32   `json:"total_price_cents"`
	ConfirmedAt      string   `json:"confirmed_at"`
}
