package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository backs the ledger with Postgres. Mutate takes the row lock
// (SELECT ... FOR UPDATE) so two orders racing for the last unit serialize at
// the database.
type PGRepository struct{ DB *pgxpool.Pool }

const entryColumns = `current_stock, reserved_stock, weekly_limit, restocked_this_week, week_start, last_restocked`

func (r *PGRepository) Get(ctx context.Context, key EntryKey) (Entry, error) {
	e := Entry{Key: key}
	err := r.DB.QueryRow(ctx, `SELECT `+entryColumns+`
		FROM stock_entries WHERE product_id=$1 AND portion_size_id=$2`,
		key.ProductID, key.PortionSizeID,
	).Scan(&e.CurrentStock, &e.ReservedStock, &e.WeeklyLimit, &e.RestockedThisWeek, &e.WeekStart, &e.LastRestocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrStockEntryNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (r *PGRepository) Mutate(ctx context.Context, key EntryKey, fn func(*Entry) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	e := Entry{Key: key}
	err = tx.QueryRow(ctx, `SELECT `+entryColumns+`
		FROM stock_entries WHERE product_id=$1 AND portion_size_id=$2 FOR UPDATE`,
		key.ProductID, key.PortionSizeID,
	).Scan(&e.CurrentStock, &e.ReservedStock, &e.WeeklyLimit, &e.RestockedThisWeek, &e.WeekStart, &e.LastRestocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrStockEntryNotFound
	}
	if err != nil {
		return err
	}

	if err := fn(&e); err != nil {
		return err // rollback via defer
	}

	if _, err := tx.Exec(ctx, `UPDATE stock_entries
		SET current_stock=$3, reserved_stock=$4, restocked_this_week=$5, week_start=$6, last_restocked=$7
		WHERE product_id=$1 AND portion_size_id=$2`,
		key.ProductID, key.PortionSizeID,
		e.CurrentStock, e.ReservedStock, e.RestockedThisWeek, e.WeekStart, e.LastRestocked,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGRepository) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.DB.Query(ctx, `SELECT product_id, portion_size_id, `+entryColumns+`
		FROM stock_entries ORDER BY product_id, portion_size_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key.ProductID, &e.Key.PortionSizeID,
			&e.CurrentStock, &e.ReservedStock, &e.WeeklyLimit, &e.RestockedThisWeek, &e.WeekStart, &e.LastRestocked); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PGRepository) Stats(ctx context.Context, lowStockThreshold int) (Stats, error) {
	var s Stats
	err := r.DB.QueryRow(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(current_stock), 0),
			COALESCE(SUM(reserved_stock), 0),
			COUNT(*) FILTER (WHERE current_stock - reserved_stock > 0 AND current_stock - reserved_stock <= $1),
			COUNT(*) FILTER (WHERE current_stock - reserved_stock = 0)
		FROM stock_entries`, lowStockThreshold,
	).Scan(&s.Entries, &s.TotalStock, &s.TotalReserved, &s.LowStock, &s.OutOfStock)
	if err != nil {
		return Stats{}, err
	}
	return s, nil
}
