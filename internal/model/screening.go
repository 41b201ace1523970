package model

import "time"

// Screening is one showing of a movie in an auditorium. It is the scope for
// holds, stream events and bookings.
type Screening struct {
	ID             uint64    `json:"id"`
	AuditoriumID   uint64    `json:"auditorium_id"`
	AuditoriumName string    `json:"auditorium_name"`
	MovieTitle     string    `json:"movie_title"`
	StartsAt       time.Time `json:"starts_at"`
}

// TicketType prices a seat in a booking.
type TicketType struct {
	ID         uint64 `json:"id"`
	Name       string `json:"name"`
	PriceCents uint32 `json:"price_cents"`
}
