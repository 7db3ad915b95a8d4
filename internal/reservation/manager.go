package reservation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sproutmeals/fulfillment/internal/stock"
)

// Line is one order item's hold against a stock entry.
type Line struct {
	Key stock.EntryKey
	Qty int
}

// Reservation record statuses.
const (
	StatusReserved  = "RESERVED"
	StatusReleased  = "RELEASED"
	StatusCommitted = "COMMITTED"
)

// Store persists which lines of an order are still held. MarkReleased and
// MarkCommitted atomically claim the order's RESERVED lines and return only
// the lines claimed, so two racing callers cannot both act on the same hold.
type Store interface {
	Record(ctx context.Context, orderID string, lines []Line) error
	MarkReleased(ctx context.Context, orderID string) ([]Line, error)
	MarkCommitted(ctx context.Context, orderID string) ([]Line, error)
}

// Ledger is the slice of the stock ledger the manager needs.
type Ledger interface {
	Reserve(ctx context.Context, key stock.EntryKey, qty int) error
	Release(ctx context.Context, key stock.EntryKey, qty int) error
	Commit(ctx context.Context, key stock.EntryKey, qty int) error
}

// Manager coordinates multi-item reservations as a unit. The ledger primitive
// is single-item; order-level all-or-nothing comes from releasing every line
// already held when a later line fails.
type Manager struct {
	Ledger Ledger
	Store  Store
	Log    zerolog.Logger
}

// ReserveForOrder holds stock for every line or none. On the first failing
// line it releases the lines reserved so far and returns that line's error.
func (m *Manager) ReserveForOrder(ctx context.Context, orderID string, lines []Line) error {
	for i, ln := range lines {
		if err := m.Ledger.Reserve(ctx, ln.Key, ln.Qty); err != nil {
			m.rollback(ctx, orderID, lines[:i])
			return fmt.Errorf("reserve order %s line %s: %w", orderID, ln.Key, err)
		}
	}
	if err := m.Store.Record(ctx, orderID, lines); err != nil {
		// Without the records release/commit can't find the holds later, so
		// back the holds out now.
		m.rollback(ctx, orderID, lines)
		return fmt.Errorf("record reservations for order %s: %w", orderID, err)
	}
	return nil
}

func (m *Manager) rollback(ctx context.Context, orderID string, held []Line) {
	for _, ln := range held {
		if err := m.Ledger.Release(ctx, ln.Key, ln.Qty); err != nil {
			m.Log.Error().Err(err).
				Str("order_id", orderID).
				Str("entry", ln.Key.String()).
				Msg("compensating release failed")
		}
	}
}

// ReleaseForOrder drops the order's remaining holds. The store claim decides
// which lines this caller owns: a concurrent or repeated release claims
// nothing and releases nothing, so the ledger is decremented exactly once per
// hold. Returns how many lines were released.
func (m *Manager) ReleaseForOrder(ctx context.Context, orderID string) (int, error) {
	claimed, err := m.Store.MarkReleased(ctx, orderID)
	if err != nil {
		return 0, err
	}
	for _, ln := range claimed {
		if err := m.Ledger.Release(ctx, ln.Key, ln.Qty); err != nil {
			return 0, fmt.Errorf("release order %s line %s: %w", orderID, ln.Key, err)
		}
	}
	return len(claimed), nil
}

// CommitForOrder consumes the order's holds on payment confirmation. Claims
// the lines first, so a second call (or a racing release) finds nothing and
// is a no-op.
func (m *Manager) CommitForOrder(ctx context.Context, orderID string) error {
	claimed, err := m.Store.MarkCommitted(ctx, orderID)
	if err != nil {
		return err
	}
	for _, ln := range claimed {
		if err := m.Ledger.Commit(ctx, ln.Key, ln.Qty); err != nil {
			return fmt.Errorf("commit order %s line %s: %w", orderID, ln.Key, err)
		}
	}
	return nil
}
