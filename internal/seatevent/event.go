// Package seatevent defines the events pushed to viewers of a screening and
// their JSON payloads. The server and the client coordinator share it.
package seatevent

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types on a screening stream.
const (
	TypeSnapshot = "snapshot"
	TypeHeld     = "seat:held"
	TypeReleased = "seat:released"
	TypeBooked   = "seat:booked"
)

// Reasons a hold request is refused.
const (
	RefusedHeld     = "held"
	RefusedOccupied = "occupied"
)

// Release reasons carried by seat:released.
const (
	ReasonManual  = "manual"
	ReasonExpired = "expired"
	ReasonForce   = "force"
)

// Event is one message on a screening stream. ID is assigned by the
// broadcaster from a process-wide counter.
type Event struct {
	ID   uint64
	Type string
	Data any
}

// HeldSeat describes an active hold.
type HeldSeat struct {
	SeatID    uint64    `json:"seatId"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Snapshot is the full seat state sent once when a viewer attaches.
type Snapshot struct {
	ScreeningID uint64     `json:"screeningId"`
	Occupied    []uint64   `json:"occupied"`
	Held        []HeldSeat `json:"held"`
}

// SeatHeld is emitted when a hold is created or refreshed.
type SeatHeld struct {
	ScreeningID uint64    `json:"screeningId"`
	SeatID      uint64    `json:"seatId"`
	SessionID   string    `json:"sessionId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// SeatReleased is emitted when a hold ends without a booking.
type SeatReleased struct {
	ScreeningID uint64 `json:"screeningId"`
	SeatID      uint64 `json:"seatId"`
	SessionID   string `json:"sessionId"`
	Reason      string `json:"reason"`
}

// SeatBooked is emitted after a booking commits.
type SeatBooked struct {
	ScreeningID uint64   `json:"screeningId"`
	SeatIDs     []uint64 `json:"seatIds"`
	BookingID   uint64   `json:"bookingId"`
}

// Decode turns a raw stream frame back into a typed Event. Unknown types are
// returned with the raw payload so callers can ignore them.
func Decode(id uint64, typ string, data []byte) (Event, error) {
	ev := Event{ID: id, Type: typ}
	var err error
	switch typ {
	case TypeSnapshot:
		var p Snapshot
		err = json.Unmarshal(data, &p)
		ev.Data = p
	case TypeHeld:
		var p SeatHeld
		err = json.Unmarshal(data, &p)
		ev.Data = p
	case TypeReleased:
		var p SeatReleased
		err = json.Unmarshal(data, &p)
		ev.Data = p
	case TypeBooked:
		var p SeatBooked
		err = json.Unmarshal(data, &p)
		ev.Data = p
	default:
		ev.Data = json.RawMessage(data)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s event %d: %w", typ, id, err)
	}
	return ev, nil
}
