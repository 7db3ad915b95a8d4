package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Ledger is the authoritative counter for available/reserved stock per
// (product, portion size). All mutations funnel through Repository.Mutate,
// which serializes writers per entry.
type Ledger struct {
	Repo              Repository
	Log               zerolog.Logger
	LowStockThreshold int

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

// Restock adds stock, capped by the entry's weekly limit. The weekly window
// rolls at Monday 00:00 UTC; a restock that would push the running weekly
// total past the limit fails whole with ErrRestockLimitExceeded.
func (l *Ledger) Restock(ctx context.Context, key EntryKey, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("restock %s: amount must be positive, got %d", key, amount)
	}
	return l.Repo.Mutate(ctx, key, func(e *Entry) error {
		now := l.now()
		rollWeek(e, now)
		if e.WeeklyLimit > 0 && e.RestockedThisWeek+amount > e.WeeklyLimit {
			return fmt.Errorf("%w: %s already restocked %d of %d this week, requested %d",
				ErrRestockLimitExceeded, key, e.RestockedThisWeek, e.WeeklyLimit, amount)
		}
		e.CurrentStock += amount
		e.RestockedThisWeek += amount
		e.LastRestocked = now
		return nil
	})
}

type RestockItem struct {
	ProductID     string `json:"product_id"`
	PortionSizeID string `json:"portion_size_id"`
	Amount        int    `json:"amount"`
}

func (it RestockItem) key() EntryKey {
	return EntryKey{ProductID: it.ProductID, PortionSizeID: it.PortionSizeID}
}

type BulkItemResult struct {
	RestockItem
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type BulkResult struct {
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Items     []BulkItemResult `json:"items"`
}

// BulkRestock applies each item independently: one item exceeding its weekly
// limit (or referencing a missing entry) does not abort the rest.
func (l *Ledger) BulkRestock(ctx context.Context, items []RestockItem) (BulkResult, error) {
	res := BulkResult{Items: make([]BulkItemResult, 0, len(items))}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r := BulkItemResult{RestockItem: it}
		if err := l.Restock(ctx, it.key(), it.Amount); err != nil {
			r.Error = err.Error()
			res.Failed++
		} else {
			r.OK = true
			res.Succeeded++
		}
		res.Items = append(res.Items, r)
	}
	return res, nil
}

// Reserve places a hold of qty against the entry. Fails with
// InsufficientStockError, leaving the entry untouched, when available < qty.
func (l *Ledger) Reserve(ctx context.Context, key EntryKey, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("reserve %s: qty must be positive, got %d", key, qty)
	}
	return l.Repo.Mutate(ctx, key, func(e *Entry) error {
		if e.Available() < qty {
			return &InsufficientStockError{Key: key, Required: qty, Available: e.Available()}
		}
		e.ReservedStock += qty
		return nil
	})
}

// Release drops a hold of qty. Floored at zero: a double release never drives
// reserved_stock negative, but it is an anomaly worth a log line.
func (l *Ledger) Release(ctx context.Context, key EntryKey, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("release %s: qty must be positive, got %d", key, qty)
	}
	return l.Repo.Mutate(ctx, key, func(e *Entry) error {
		if qty > e.ReservedStock {
			l.Log.Warn().
				Str("entry", key.String()).
				Int("qty", qty).
				Int("reserved", e.ReservedStock).
				Msg("release exceeds reserved stock, flooring at zero")
			e.ReservedStock = 0
			return nil
		}
		e.ReservedStock -= qty
		return nil
	})
}

// Commit consumes a hold on payment: both current and reserved drop by qty,
// so available stock is unchanged.
func (l *Ledger) Commit(ctx context.Context, key EntryKey, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("commit %s: qty must be positive, got %d", key, qty)
	}
	return l.Repo.Mutate(ctx, key, func(e *Entry) error {
		if qty > e.ReservedStock {
			return fmt.Errorf("commit %s: qty %d exceeds reserved stock %d", key, qty, e.ReservedStock)
		}
		e.CurrentStock -= qty
		e.ReservedStock -= qty
		return nil
	})
}

func (l *Ledger) Statistics(ctx context.Context) (Stats, error) {
	return l.Repo.Stats(ctx, l.LowStockThreshold)
}

// rollWeek resets the weekly restock counter once the entry's window falls
// behind the week containing now.
func rollWeek(e *Entry, now time.Time) {
	ws := weekStart(now)
	if e.WeekStart.Before(ws) {
		e.WeekStart = ws
		e.RestockedThisWeek = 0
	}
}

func weekStart(t time.Time) time.Time {
	t = t.UTC()
	// Monday-based week.
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}
