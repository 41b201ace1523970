package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-hold/internal/handler"
)

// Screening bundles what the screening and booking routes need. Identity
// resolves the session, Limit throttles writes and Cache fronts the layout.
type Screening struct {
	Seats    *handler.SeatHandler
	Stream   *handler.StreamHandler
	Bookings *handler.BookingHandler
	Identity echo.MiddlewareFunc
	Limit    echo.MiddlewareFunc
	Cache    echo.MiddlewareFunc
}

// RegisterScreenings registers the live seat map, hold and booking routes
// under /v1.
func RegisterScreenings(e *echo.Echo, r Screening) {
	r.defaults()
	g := e.Group("/v1", r.Identity)

	// Streams stay open for minutes; they are not rate limited per request.
	g.GET("/bookings/stream", r.Stream.Stream)
	g.GET("/screenings/:id/seats/stream", r.Stream.Stream)

	g.GET("/screenings/:id/layout", r.Seats.Layout, r.Cache)
	g.GET("/screenings/:id/holds", r.Seats.HoldSnapshot)
	g.POST("/screenings/:id/seats/:seatId/hold", r.Seats.Hold, r.Limit)
	g.DELETE("/screenings/:id/holds", r.Seats.ReleaseMine, r.Limit)

	g.POST("/makeBooking", r.Bookings.MakeBooking, r.Limit)
	g.GET("/bookings/:id", r.Bookings.GetBooking)
}

// defaults turns unset middleware slots into pass-throughs.
func (r *Screening) defaults() {
	for _, mw := range []*echo.MiddlewareFunc{&r.Identity, &r.Limit, &r.Cache} {
		if *mw == nil {
			*mw = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
		}
	}
}
