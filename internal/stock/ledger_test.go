package stock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = EntryKey{ProductID: "prod-a", PortionSizeID: "portion-s"}

func testLedger(t *testing.T, e Entry) (*Ledger, *MemRepository) {
	t.Helper()
	repo := NewMemRepository()
	if e.Key == (EntryKey{}) {
		e.Key = testKey
	}
	repo.Put(e)
	return &Ledger{Repo: repo, Log: zerolog.Nop(), LowStockThreshold: 5}, repo
}

func mustGet(t *testing.T, repo *MemRepository, key EntryKey) Entry {
	t.Helper()
	e, err := repo.Get(context.Background(), key)
	require.NoError(t, err)
	return e
}

func TestReserveInsufficientLeavesStateUntouched(t *testing.T) {
	l, repo := testLedger(t, Entry{CurrentStock: 10, ReservedStock: 8})

	err := l.Reserve(context.Background(), testKey, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var detail *InsufficientStockError
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, 5, detail.Required)
	assert.Equal(t, 2, detail.Available)

	e := mustGet(t, repo, testKey)
	assert.Equal(t, 8, e.ReservedStock)
	assert.Equal(t, 10, e.CurrentStock)
}

func TestReserveHoldsStock(t *testing.T) {
	l, repo := testLedger(t, Entry{CurrentStock: 10})

	require.NoError(t, l.Reserve(context.Background(), testKey, 4))

	e := mustGet(t, repo, testKey)
	assert.Equal(t, 4, e.ReservedStock)
	assert.Equal(t, 10, e.CurrentStock)
	assert.Equal(t, 6, e.Available())
	assert.LessOrEqual(t, e.ReservedStock, e.CurrentStock)
}

func TestReleaseFloorsAtZero(t *testing.T) {
	l, repo := testLedger(t, Entry{CurrentStock: 10, ReservedStock: 3})

	require.NoError(t, l.Release(context.Background(), testKey, 3))
	// double release: floored, never negative
	require.NoError(t, l.Release(context.Background(), testKey, 3))

	e := mustGet(t, repo, testKey)
	assert.Equal(t, 0, e.ReservedStock)
	assert.Equal(t, 10, e.CurrentStock)
}

func TestCommitConsumesStock(t *testing.T) {
	l, repo := testLedger(t, Entry{CurrentStock: 10, ReservedStock: 4})

	before := mustGet(t, repo, testKey)
	require.NoError(t, l.Commit(context.Background(), testKey, 4))

	e := mustGet(t, repo, testKey)
	assert.Equal(t, 6, e.CurrentStock)
	assert.Equal(t, 0, e.ReservedStock)
	// available unchanged relative to pre-commit
	assert.Equal(t, before.Available(), e.Available())
}

func TestCommitBeyondReservedFails(t *testing.T) {
	l, repo := testLedger(t, Entry{CurrentStock: 10, ReservedStock: 2})

	require.Error(t, l.Commit(context.Background(), testKey, 3))

	e := mustGet(t, repo, testKey)
	assert.Equal(t, 10, e.CurrentStock)
	assert.Equal(t, 2, e.ReservedStock)
}

func TestRestockWeeklyLimit(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) // Wednesday
	l, repo := testLedger(t, Entry{CurrentStock: 1, WeeklyLimit: 50})
	l.Now = func() time.Time { return now }

	require.NoError(t, l.Restock(context.Background(), testKey, 30))
	e := mustGet(t, repo, testKey)
	assert.Equal(t, 31, e.CurrentStock)
	assert.Equal(t, 30, e.RestockedThisWeek)
	assert.Equal(t, now, e.LastRestocked)

	// 30 + 30 > 50: whole operation rejected
	err := l.Restock(context.Background(), testKey, 30)
	assert.ErrorIs(t, err, ErrRestockLimitExceeded)
	e = mustGet(t, repo, testKey)
	assert.Equal(t, 31, e.CurrentStock)
	assert.Equal(t, 30, e.RestockedThisWeek)

	// still room for 20
	require.NoError(t, l.Restock(context.Background(), testKey, 20))

	// next week the counter resets
	l.Now = func() time.Time { return now.AddDate(0, 0, 7) }
	require.NoError(t, l.Restock(context.Background(), testKey, 50))
	e = mustGet(t, repo, testKey)
	assert.Equal(t, 50, e.RestockedThisWeek)
}

func TestRestockUncapped(t *testing.T) {
	l, repo := testLedger(t, Entry{WeeklyLimit: 0})
	require.NoError(t, l.Restock(context.Background(), testKey, 10_000))
	assert.Equal(t, 10_000, mustGet(t, repo, testKey).CurrentStock)
}

func TestBulkRestockIsolatesFailures(t *testing.T) {
	repo := NewMemRepository()
	good := EntryKey{ProductID: "prod-a", PortionSizeID: "s"}
	capped := EntryKey{ProductID: "prod-b", PortionSizeID: "s"}
	repo.Put(Entry{Key: good, WeeklyLimit: 0})
	repo.Put(Entry{Key: capped, WeeklyLimit: 5, RestockedThisWeek: 5, WeekStart: weekStart(time.Now().UTC())})
	l := &Ledger{Repo: repo, Log: zerolog.Nop()}

	res, err := l.BulkRestock(context.Background(), []RestockItem{
		{ProductID: "prod-b", PortionSizeID: "s", Amount: 1}, // exceeds weekly limit
		{ProductID: "prod-a", PortionSizeID: "s", Amount: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Items, 2)
	assert.False(t, res.Items[0].OK)
	assert.Contains(t, res.Items[0].Error, "restock limit exceeded")
	assert.True(t, res.Items[1].OK)

	assert.Equal(t, 7, mustGet(t, repo, good).CurrentStock)
	assert.Equal(t, 0, mustGet(t, repo, capped).CurrentStock)
}

func TestBulkRestockUnknownEntry(t *testing.T) {
	l, _ := testLedger(t, Entry{})
	res, err := l.BulkRestock(context.Background(), []RestockItem{
		{ProductID: "ghost", PortionSizeID: "s", Amount: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Items[0].Error, "stock entry not found")
}

func TestStatistics(t *testing.T) {
	repo := NewMemRepository()
	repo.Put(Entry{Key: EntryKey{"a", "s"}, CurrentStock: 100})                   // healthy
	repo.Put(Entry{Key: EntryKey{"b", "s"}, CurrentStock: 8, ReservedStock: 5})   // available 3 -> low
	repo.Put(Entry{Key: EntryKey{"c", "s"}, CurrentStock: 4, ReservedStock: 4})   // available 0 -> out
	repo.Put(Entry{Key: EntryKey{"d", "s"}})                                      // empty -> out
	l := &Ledger{Repo: repo, Log: zerolog.Nop(), LowStockThreshold: 5}

	s, err := l.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, s.Entries)
	assert.Equal(t, 112, s.TotalStock)
	assert.Equal(t, 9, s.TotalReserved)
	assert.Equal(t, 1, s.LowStock)
	assert.Equal(t, 2, s.OutOfStock)
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	l, repo := testLedger(t, Entry{CurrentStock: 5})

	var wg sync.WaitGroup
	succ := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Reserve(context.Background(), testKey, 1); err == nil {
				succ <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(succ)

	assert.Equal(t, 5, len(succ))
	e := mustGet(t, repo, testKey)
	assert.Equal(t, 5, e.ReservedStock)
	assert.LessOrEqual(t, e.ReservedStock, e.CurrentStock)
}
