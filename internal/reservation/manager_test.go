package reservation

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutmeals/fulfillment/internal/stock"
)

var (
	keyA = stock.EntryKey{ProductID: "prod-a", PortionSizeID: "s"}
	keyB = stock.EntryKey{ProductID: "prod-b", PortionSizeID: "s"}
)

func testManager(t *testing.T) (*Manager, *stock.MemRepository) {
	t.Helper()
	repo := stock.NewMemRepository()
	repo.Put(stock.Entry{Key: keyA, CurrentStock: 10})
	repo.Put(stock.Entry{Key: keyB, CurrentStock: 2})
	ledger := &stock.Ledger{Repo: repo, Log: zerolog.Nop()}
	return &Manager{Ledger: ledger, Store: NewMemStore(), Log: zerolog.Nop()}, repo
}

func reservedOf(t *testing.T, repo *stock.MemRepository, key stock.EntryKey) int {
	t.Helper()
	e, err := repo.Get(context.Background(), key)
	require.NoError(t, err)
	return e.ReservedStock
}

func TestReserveForOrderAllOrNothing(t *testing.T) {
	m, repo := testManager(t)

	// keyB only has 2, so the order as a whole must fail and the keyA hold
	// must be rolled back
	err := m.ReserveForOrder(context.Background(), "ord-1", []Line{
		{Key: keyA, Qty: 3},
		{Key: keyB, Qty: 5},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, stock.ErrInsufficientStock)

	assert.Equal(t, 0, reservedOf(t, repo, keyA))
	assert.Equal(t, 0, reservedOf(t, repo, keyB))

	// nothing to release either
	n, err := m.ReleaseForOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReserveThenReleaseRoundTrip(t *testing.T) {
	m, repo := testManager(t)

	require.NoError(t, m.ReserveForOrder(context.Background(), "ord-1", []Line{
		{Key: keyA, Qty: 3},
		{Key: keyB, Qty: 1},
	}))
	assert.Equal(t, 3, reservedOf(t, repo, keyA))
	assert.Equal(t, 1, reservedOf(t, repo, keyB))

	n, err := m.ReleaseForOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, reservedOf(t, repo, keyA))
	assert.Equal(t, 0, reservedOf(t, repo, keyB))
}

func TestReleaseForOrderIdempotent(t *testing.T) {
	m, repo := testManager(t)
	require.NoError(t, m.ReserveForOrder(context.Background(), "ord-1", []Line{{Key: keyA, Qty: 4}}))

	n, err := m.ReleaseForOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// second call finds no active lines
	n, err = m.ReleaseForOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, reservedOf(t, repo, keyA))
}

func TestCommitForOrderConsumesStock(t *testing.T) {
	m, repo := testManager(t)
	require.NoError(t, m.ReserveForOrder(context.Background(), "ord-1", []Line{{Key: keyA, Qty: 4}}))

	require.NoError(t, m.CommitForOrder(context.Background(), "ord-1"))

	e, err := repo.Get(context.Background(), keyA)
	require.NoError(t, err)
	assert.Equal(t, 6, e.CurrentStock)
	assert.Equal(t, 0, e.ReservedStock)

	// commit again: no-op
	require.NoError(t, m.CommitForOrder(context.Background(), "ord-1"))
	e, _ = repo.Get(context.Background(), keyA)
	assert.Equal(t, 6, e.CurrentStock)

	// release after commit: nothing held
	n, err := m.ReleaseForOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestConcurrentReleaseKeepsOtherHolds(t *testing.T) {
	m, repo := testManager(t)
	require.NoError(t, m.ReserveForOrder(context.Background(), "ord-1", []Line{{Key: keyA, Qty: 4}}))
	require.NoError(t, m.ReserveForOrder(context.Background(), "ord-2", []Line{{Key: keyA, Qty: 4}}))

	var wg sync.WaitGroup
	counts := make(chan int, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := m.ReleaseForOrder(context.Background(), "ord-1")
			counts <- n
			errs <- err
		}()
	}
	wg.Wait()
	close(counts)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	total := 0
	for n := range counts {
		total += n
	}
	// the hold is claimed by exactly one caller, so the ledger drops by 4
	// once and ord-2's hold on the same entry survives
	assert.Equal(t, 1, total)
	assert.Equal(t, 4, reservedOf(t, repo, keyA))
}

func TestReserveForOrderSeparateOrders(t *testing.T) {
	m, repo := testManager(t)
	require.NoError(t, m.ReserveForOrder(context.Background(), "ord-1", []Line{{Key: keyA, Qty: 6}}))
	require.NoError(t, m.ReserveForOrder(context.Background(), "ord-2", []Line{{Key: keyA, Qty: 4}}))

	// releasing ord-1 must not touch ord-2's hold
	_, err := m.ReleaseForOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 4, reservedOf(t, repo, keyA))
}
