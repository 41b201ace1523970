package model

// Seat is a physical seat in an auditorium. RowIndex and SeatNumber are
// layout geometry only; they play no part in booking correctness.
type Seat struct {
	ID           uint64 `json:"id"`            // seats.id
	AuditoriumID uint64 `json:"auditorium_id"` // seats.auditorium_id
	RowLabel     string `json:"row_label"`     // seats.row_label
	RowIndex     int    `json:"row_index"`     // seats.row_index, 0 is the front row
	SeatNumber   int    `json:"seat_number"`   // seats.seat_number, 1-based within the row
}
