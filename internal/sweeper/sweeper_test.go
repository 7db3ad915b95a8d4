package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutmeals/fulfillment/internal/cache"
	"github.com/sproutmeals/fulfillment/internal/orders"
	"github.com/sproutmeals/fulfillment/internal/reservation"
	"github.com/sproutmeals/fulfillment/internal/stock"
)

type memOrderStore struct {
	mu     sync.Mutex
	orders map[string]orders.Order
}

func newMemOrderStore(os ...orders.Order) *memOrderStore {
	s := &memOrderStore{orders: make(map[string]orders.Order)}
	for _, o := range os {
		s.orders[o.ID] = o
	}
	return s
}

func (s *memOrderStore) FindExpired(ctx context.Context, now time.Time, limit int) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.PaymentDueAt.Before(now) && o.Status.AwaitingPayment() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrderStore) FindApproachingDeadline(ctx context.Context, now time.Time, window time.Duration) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.Status == orders.StatusPending && !o.PaymentDueAt.Before(now) && o.PaymentDueAt.Before(now.Add(window)) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrderStore) UpdateStatusIf(ctx context.Context, orderID string, from, to orders.Status, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if reason != "" {
		o.CancelReason = reason
	}
	s.orders[orderID] = o
	return true, nil
}

func (s *memOrderStore) get(orderID string) orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderID]
}

type recordingNotifier struct {
	mu        sync.Mutex
	cancelled []string
	reminders []string
}

func (n *recordingNotifier) OrderCancelled(ctx context.Context, o orders.Order, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, o.ID)
}

func (n *recordingNotifier) PaymentReminder(ctx context.Context, o orders.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, o.ID)
}

type fakeLocker struct{ held bool }

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return !l.held, nil
}
func (l *fakeLocker) Unlock(ctx context.Context, key string) error { return nil }

var swKey = stock.EntryKey{ProductID: "prod-a", PortionSizeID: "s"}

var now = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func expiredOrder(id string) orders.Order {
	return orders.Order{
		ID:           id,
		CustomerID:   "cust-1",
		Status:       orders.StatusPending,
		PaymentDueAt: now.Add(-time.Hour),
		Items: []orders.Item{
			{OrderID: id, ProductID: "prod-a", PortionSizeID: "s", Qty: 3, PriceCents: 599},
		},
	}
}

func testSweeper(t *testing.T, os ...orders.Order) (*Sweeper, *memOrderStore, *stock.MemRepository, *recordingNotifier) {
	t.Helper()
	repo := stock.NewMemRepository()
	repo.Put(stock.Entry{Key: swKey, CurrentStock: 20})
	ledger := &stock.Ledger{Repo: repo, Log: zerolog.Nop()}
	mgr := &reservation.Manager{Ledger: ledger, Store: reservation.NewMemStore(), Log: zerolog.Nop()}

	store := newMemOrderStore(os...)
	for _, o := range os {
		if o.Status == orders.StatusPending {
			require.NoError(t, mgr.ReserveForOrder(context.Background(), o.ID, orders.Lines(o.Items)))
		}
	}
	n := &recordingNotifier{}
	s := &Sweeper{
		Orders:       store,
		Reservations: mgr,
		Notifier:     n,
		Log:          zerolog.Nop(),
		Workers:      2,
	}
	return s, store, repo, n
}

func reservedOf(t *testing.T, repo *stock.MemRepository) int {
	t.Helper()
	e, err := repo.Get(context.Background(), swKey)
	require.NoError(t, err)
	return e.ReservedStock
}

func TestSweepExpiresOverdueOrders(t *testing.T) {
	s, store, repo, n := testSweeper(t, expiredOrder("ord-1"))
	assert.Equal(t, 3, reservedOf(t, repo))

	res, err := s.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Released: 1}, res)

	o := store.get("ord-1")
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, orders.ReasonPaymentTimeout, o.CancelReason)
	assert.Equal(t, 0, reservedOf(t, repo))
	assert.Equal(t, []string{"ord-1"}, n.cancelled)
}

func TestSweepTwiceReleasesOnce(t *testing.T) {
	s, _, repo, _ := testSweeper(t, expiredOrder("ord-1"))

	res, err := s.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, reservedOf(t, repo))

	// cancelled orders are not selected again
	res, err = s.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 0, reservedOf(t, repo))
}

func TestSweepLeavesFutureDeadlinesAlone(t *testing.T) {
	o := expiredOrder("ord-1")
	o.PaymentDueAt = now.Add(time.Hour)
	s, store, repo, _ := testSweeper(t, o)

	res, err := s.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, orders.StatusPending, store.get("ord-1").Status)
	assert.Equal(t, 3, reservedOf(t, repo))
}

func TestSweepSingleFlight(t *testing.T) {
	s, _, _, _ := testSweeper(t, expiredOrder("ord-1"))
	s.Locker = &fakeLocker{held: true}

	_, err := s.Sweep(context.Background(), now)
	assert.ErrorIs(t, err, orders.ErrAlreadyProcessed)
}

type failingReleaser struct {
	inner  Releaser
	failID string
}

func (f *failingReleaser) ReleaseForOrder(ctx context.Context, orderID string) (int, error) {
	if orderID == f.failID {
		return 0, errors.New("storage unavailable")
	}
	return f.inner.ReleaseForOrder(ctx, orderID)
}

func TestSweepIsolatesPerOrderFailures(t *testing.T) {
	s, store, _, _ := testSweeper(t, expiredOrder("ord-1"), expiredOrder("ord-2"))
	s.Reservations = &failingReleaser{inner: s.Reservations, failID: "ord-2"}

	res, err := s.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)

	assert.Equal(t, orders.StatusCancelled, store.get("ord-1").Status)
	// the failed order stays claimed and is retried by the next run
	assert.Equal(t, orders.StatusCancelling, store.get("ord-2").Status)

	s.Reservations = (s.Reservations.(*failingReleaser)).inner
	res, err = s.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, orders.StatusCancelled, store.get("ord-2").Status)
}

func TestFindApproachingDeadlineReadOnly(t *testing.T) {
	o := expiredOrder("ord-1")
	o.PaymentDueAt = now.Add(30 * time.Minute)
	s, store, repo, _ := testSweeper(t, o)

	got, err := s.FindApproachingDeadline(context.Background(), now, time.Hour)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ord-1", got[0].ID)

	// no side effects
	assert.Equal(t, orders.StatusPending, store.get("ord-1").Status)
	assert.Equal(t, 3, reservedOf(t, repo))
}

func TestSendRemindersDedups(t *testing.T) {
	o := expiredOrder("ord-1")
	o.PaymentDueAt = now.Add(30 * time.Minute)
	s, _, _, n := testSweeper(t, o)
	s.ReminderWindow = time.Hour
	s.Reminders = cache.NewMemory()

	sent, err := s.SendReminders(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = s.SendReminders(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, []string{"ord-1"}, n.reminders)
}
