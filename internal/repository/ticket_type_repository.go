package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// TicketTypeRepo reads ticket types and their prices.
type TicketTypeRepo struct {
	db *sql.DB
}

func NewTicketTypeRepo(db *sql.DB) *TicketTypeRepo { return &TicketTypeRepo{db: db} }

// List returns all ticket types ordered by id.
func (r *TicketTypeRepo) List(ctx context.Context) ([]model.TicketType, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, price_cents FROM ticket_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanTicketTypes(rows)
}

// ByIDsTx loads the ticket types among ids, keyed by id. Unknown ids are
// simply absent from the map.
func (r *TicketTypeRepo) ByIDsTx(ctx context.Context, tx *sql.Tx, ids []uint64) (map[uint64]model.TicketType, error) {
	out := make(map[uint64]model.TicketType, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	in, args := inClause(ids)
	rows, err := tx.QueryContext(ctx, `SELECT id, name, price_cents FROM ticket_types WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return nil, err
	}
	list, err := scanTicketTypes(rows)
	if err != nil {
		return nil, err
	}
	for _, tt := range list {
		out[tt.ID] = tt
	}
	return out, nil
}

func scanTicketTypes(rows *sql.Rows) ([]model.TicketType, error) {
	defer rows.Close()
	var out []model.TicketType
	for rows.Next() {
		var tt model.TicketType
		if err := rows.Scan(&tt.ID, &tt.Name, &tt.PriceCents); err != nil {
			return nil, err
		}
		out = append(out, tt)
	}
	return out, rows.Err()
}
