package model

import "time"

// Booking is a committed purchase of one or more seats for a screening.
// Its seats stay occupied for the lifetime of the screening.
type Booking struct {
	ID               uint64        `json:"booking_id"`
	ScreeningID      uint64        `json:"screening_id"`
	SessionID        string        `json:"-"`
	ConfirmationCode string        `json:"booking_confirmation"`
	TotalPriceCents  uint32        `json:"total_price"`
	CreatedAt        time.Time     `json:"created_at"`
	Seats            []BookingSeat `json:"seats"`
}

// BookingSeat assigns one seat and ticket type to a booking.
type BookingSeat struct {
	SeatID       uint64 `json:"seat_id"`
	TicketTypeID uint64 `json:"ticket_type_id"`
	PriceCents   uint32 `json:"price_cents"`
}

// SeatIDs returns the booked seat ids in booking order.
func (b *Booking) SeatIDs() []uint64 {
	ids := make([]uint64, len(b.Seats))
	for i, s := range b.Seats {
		ids[i] = s.SeatID
	}
	return ids
}
