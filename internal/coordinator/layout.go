package coordinator

import (
	"math"
	"slices"
)

// LayoutSeat is one seat of the seat map as served by the layout endpoint.
type LayoutSeat struct {
	ID         uint64 `json:"id"`
	Taken      bool   `json:"taken"`
	SeatNumber int    `json:"seatNumber"`
}

// LayoutRow is one row of seats in display order.
type LayoutRow struct {
	RowLabel string       `json:"row_label"`
	Seats    []LayoutSeat `json:"seats"`
}

// Layout is the geometry of a screening's auditorium.
type Layout struct {
	ScreeningID    uint64      `json:"screening_id"`
	AuditoriumName string      `json:"auditorium_name"`
	Rows           []LayoutRow `json:"rows"`
}

// position places a seat on the auditorium grid. Shorter rows are centred
// against the widest one.
type position struct {
	row, col   int
	x          float64
	seatNumber int
}

type geometry struct {
	pos     map[uint64]position
	rows    [][]uint64
	centreY float64
	centreX float64
}

func newGeometry(l *Layout) *geometry {
	g := &geometry{pos: make(map[uint64]position)}
	widest := 0
	for _, r := range l.Rows {
		widest = max(widest, len(r.Seats))
	}
	for ri, r := range l.Rows {
		offset := float64(widest-len(r.Seats)) / 2
		ids := make([]uint64, len(r.Seats))
		for ci, s := range r.Seats {
			g.pos[s.ID] = position{row: ri, col: ci, x: float64(ci) + offset, seatNumber: s.SeatNumber}
			ids[ci] = s.ID
		}
		g.rows = append(g.rows, ids)
	}
	g.centreY = float64(len(l.Rows)-1) / 2
	g.centreX = float64(widest-1) / 2
	return g
}

func (g *geometry) distance(id uint64) float64 {
	p := g.pos[id]
	return math.Hypot(float64(p.row)-g.centreY, p.x-g.centreX)
}

// compare orders seats best first: nearest the centre, then nearest the
// middle row, then nearest the middle column, then by id.
func (g *geometry) compare(a, b uint64) int {
	da, db := g.distance(a), g.distance(b)
	if da != db {
		if da < db {
			return -1
		}
		return 1
	}
	pa, pb := g.pos[a], g.pos[b]
	ra, rb := math.Abs(float64(pa.row)-g.centreY), math.Abs(float64(pb.row)-g.centreY)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	ca, cb := math.Abs(pa.x-g.centreX), math.Abs(pb.x-g.centreX)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ranked returns ids sorted best first.
func (g *geometry) ranked(ids []uint64) []uint64 {
	out := slices.Clone(ids)
	slices.SortFunc(out, g.compare)
	return out
}

// bestAvailable picks n seats for which ok returns true. It prefers the
// contiguous run of n seats in one row with the lowest total distance to
// the centre and otherwise falls back to the n best individual seats. Fewer
// than n ids are returned when not enough seats are available.
func (g *geometry) bestAvailable(n int, ok func(uint64) bool) []uint64 {
	if n <= 0 {
		return nil
	}
	var best []uint64
	bestScore := math.Inf(1)
	for _, row := range g.rows {
		for start := 0; start+n <= len(row); start++ {
			run := row[start : start+n]
			if !g.contiguous(run, ok) {
				continue
			}
			score := 0.0
			for _, id := range run {
				score += g.distance(id)
			}
			if score < bestScore || (score == bestScore && best != nil && g.compare(run[0], best[0]) < 0) {
				best, bestScore = run, score
			}
		}
	}
	if best != nil {
		return slices.Clone(best)
	}

	var free []uint64
	for id := range g.pos {
		if ok(id) {
			free = append(free, id)
		}
	}
	free = g.ranked(free)
	return free[:min(n, len(free))]
}

// contiguous reports whether every seat of run is available and the seat
// numbers have no gaps, so an aisle never splits a block.
func (g *geometry) contiguous(run []uint64, ok func(uint64) bool) bool {
	for i, id := range run {
		if !ok(id) {
			return false
		}
		if i > 0 && g.pos[id].seatNumber != g.pos[run[i-1]].seatNumber+1 {
			return false
		}
	}
	return true
}
