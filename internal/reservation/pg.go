package reservation

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) Record(ctx context.Context, orderID string, lines []Line) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, ln := range lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(order_id, product_id, portion_size_id, qty, status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (order_id, product_id, portion_size_id) DO NOTHING
		`, orderID, ln.Key.ProductID, ln.Key.PortionSizeID, ln.Qty, StatusReserved); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) MarkReleased(ctx context.Context, orderID string) ([]Line, error) {
	return s.mark(ctx, orderID, StatusReleased)
}

func (s *PGStore) MarkCommitted(ctx context.Context, orderID string) ([]Line, error) {
	return s.mark(ctx, orderID, StatusCommitted)
}

// mark claims the order's RESERVED lines in one statement. The conditional
// UPDATE is the race arbiter: whichever caller flips a row first owns it, the
// other sees no row returned.
func (s *PGStore) mark(ctx context.Context, orderID, to string) ([]Line, error) {
	rows, err := s.DB.Query(ctx, `UPDATE reservations SET status=$2
		WHERE order_id=$1 AND status=$3
		RETURNING product_id, portion_size_id, qty`, orderID, to, StatusReserved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var ln Line
		if err := rows.Scan(&ln.Key.ProductID, &ln.Key.PortionSizeID, &ln.Qty); err != nil {
			return nil, err
		}
		out = append(out, ln)
	}
	return out, rows.Err()
}
