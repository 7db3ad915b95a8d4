package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ItemInput struct {
	ProductID     string `json:"product_id"`
	PortionSizeID string `json:"portion_size_id"`
	Qty           int    `json:"qty"`
}

type CreateOrderInput struct {
	ExternalID   string
	CustomerID   string
	AddressID    string
	PaymentDueAt time.Time
	DeliveryDate time.Time
	Items        []ItemInput
}

type PGRepository struct{ DB *pgxpool.Pool }

// CreateOrderTx creates a PENDING order with its items in one transaction,
// idempotent via external_id. Unit prices are snapshotted from stock_entries
// inside the tx; the client never supplies a price. Two concurrent creates
// with the same external_id both get the winner's order: the loser's insert
// trips the unique constraint and is answered with a re-read.
func (r *PGRepository) CreateOrderTx(ctx context.Context, in CreateOrderInput) (Order, bool, error) {
	if o, ok, err := r.byExternalID(ctx, in.ExternalID); err != nil {
		return Order{}, false, err
	} else if ok {
		return o, true, nil
	}

	o, err := r.insertOrder(ctx, in)
	if isUniqueViolation(err) {
		// lost the create race
		if o, ok, err2 := r.byExternalID(ctx, in.ExternalID); err2 == nil && ok {
			return o, true, nil
		}
		return Order{}, false, err
	}
	return o, false, err
}

func (r *PGRepository) byExternalID(ctx context.Context, externalID string) (Order, bool, error) {
	var o Order
	row := r.DB.QueryRow(ctx, `SELECT id, status, total_cents, payment_due_at FROM orders WHERE external_id=$1`, externalID)
	if err := row.Scan(&o.ID, &o.Status, &o.TotalCents, &o.PaymentDueAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, false, nil
		}
		return Order{}, false, err
	}
	o.ExternalID = externalID
	return o, true, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505) anywhere in its chain.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PGRepository) insertOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// price snapshot per (product, portion size); reject inactive products
	total := 0
	items := make([]Item, 0, len(in.Items))
	for _, it := range in.Items {
		if it.Qty <= 0 {
			return Order{}, fmt.Errorf("invalid qty for product %s", it.ProductID)
		}
		var price int
		var active bool
		err := tx.QueryRow(ctx, `SELECT se.price_cents, p.active
			FROM stock_entries se JOIN products p ON p.id = se.product_id
			WHERE se.product_id=$1 AND se.portion_size_id=$2`,
			it.ProductID, it.PortionSizeID).Scan(&price, &active)
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, fmt.Errorf("product not found: %s/%s", it.ProductID, it.PortionSizeID)
		}
		if err != nil {
			return Order{}, err
		}
		if !active {
			return Order{}, fmt.Errorf("product not available: %s", it.ProductID)
		}
		total += price * it.Qty
		items = append(items, Item{
			ProductID:     it.ProductID,
			PortionSizeID: it.PortionSizeID,
			Qty:           it.Qty,
			PriceCents:    price,
		})
	}

	o := Order{
		ID:           uuid.NewString(),
		ExternalID:   in.ExternalID,
		CustomerID:   in.CustomerID,
		AddressID:    in.AddressID,
		Status:       StatusPending,
		TotalCents:   total,
		PaymentDueAt: in.PaymentDueAt,
		DeliveryDate: in.DeliveryDate,
		Items:        items,
	}
	var delivery any
	if !o.DeliveryDate.IsZero() {
		delivery = o.DeliveryDate
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, customer_id, address_id, status, total_cents, payment_due_at, delivery_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.ExternalID, o.CustomerID, o.AddressID, o.Status, o.TotalCents, o.PaymentDueAt, delivery)
	if err != nil {
		return Order{}, err
	}

	for i := range o.Items {
		o.Items[i].OrderID = o.ID
		it := o.Items[i]
		if _, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, portion_size_id, qty, price_cents)
			VALUES ($1, $2, $3, $4, $5)`,
			it.OrderID, it.ProductID, it.PortionSizeID, it.Qty, it.PriceCents,
		); err != nil {
			return Order{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

const orderColumns = `id, external_id, customer_id, address_id, status, COALESCE(cancel_reason, ''), total_cents,
	payment_due_at, delivery_date, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var delivery *time.Time
	err := row.Scan(&o.ID, &o.ExternalID, &o.CustomerID, &o.AddressID, &o.Status, &o.CancelReason,
		&o.TotalCents, &o.PaymentDueAt, &delivery, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if delivery != nil {
		o.DeliveryDate = *delivery
	}
	return o, err
}

func (r *PGRepository) Get(ctx context.Context, orderID string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
	if err != nil {
		return Order{}, err
	}

	rows, err := r.DB.Query(ctx, `SELECT order_id, product_id, portion_size_id, qty, price_cents
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.PortionSizeID, &it.Qty, &it.PriceCents); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r *PGRepository) GetStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

// UpdateStatusIf is the CAS primitive behind every status transition: the
// update applies only while the order is still in from. reason, when set, is
// persisted as the cancel reason.
func (r *PGRepository) UpdateStatusIf(ctx context.Context, orderID string, from, to Status, reason string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `UPDATE orders
		SET status=$3,
		    cancel_reason=CASE WHEN $4 = '' THEN cancel_reason ELSE $4 END,
		    updated_at=now()
		WHERE id=$1 AND status=$2`,
		orderID, from, to, reason)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// FindExpired returns orders past their payment deadline that are still
// awaiting payment. CANCELLING rows are included so a sweep interrupted
// mid-release gets finished by the next run.
func (r *PGRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE payment_due_at < $1 AND status IN ($2, $3)
		ORDER BY payment_due_at
		LIMIT $4`,
		now, StatusPending, StatusCancelling, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// FindApproachingDeadline is read-only: orders still PENDING whose deadline
// falls within window of now, for reminder dispatch.
func (r *PGRepository) FindApproachingDeadline(ctx context.Context, now time.Time, window time.Duration) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status=$1 AND payment_due_at >= $2 AND payment_due_at < $3
		ORDER BY payment_due_at`,
		StatusPending, now, now.Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PGRepository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, sku, name, age_group, texture, active, created_at, updated_at
		FROM products WHERE active ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.AgeGroup, &p.Texture, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
