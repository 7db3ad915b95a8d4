package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sproutmeals/fulfillment/internal/cache"
	"github.com/sproutmeals/fulfillment/internal/orders"
)

// OrderStore is the slice of the order repository the sweeper needs.
type OrderStore interface {
	FindExpired(ctx context.Context, now time.Time, limit int) ([]orders.Order, error)
	FindApproachingDeadline(ctx context.Context, now time.Time, window time.Duration) ([]orders.Order, error)
	UpdateStatusIf(ctx context.Context, orderID string, from, to orders.Status, reason string) (bool, error)
}

// Releaser is implemented by reservation.Manager.
type Releaser interface {
	ReleaseForOrder(ctx context.Context, orderID string) (int, error)
}

type Notifier interface {
	OrderCancelled(ctx context.Context, o orders.Order, reason string)
	PaymentReminder(ctx context.Context, o orders.Order)
}

// Locker guards the sweep across processes (Redis SET NX in production).
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Result struct {
	Processed int `json:"processed"`
	Released  int `json:"released"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

const (
	lockKey = "sweep:payment-timeout:lock"
	lockTTL = 2 * time.Minute

	defaultBatchSize = 500
)

// Sweeper expires unpaid orders past their payment deadline and releases
// their stock. Sweep is single-flight: an in-process mutex plus the Locker
// keep overlapping runs (timer + manual trigger, or two replicas) from
// double-processing the same orders.
type Sweeper struct {
	Orders       OrderStore
	Reservations Releaser
	Notifier     Notifier
	Locker       Locker
	Log          zerolog.Logger

	Interval       time.Duration
	ReminderWindow time.Duration
	Workers        int
	BatchSize      int

	// Reminders dedups reminder sends per order; nil disables dedup.
	Reminders cache.Cache

	mu sync.Mutex
}

// FindExpired returns the orders a sweep at now would process. Read-only.
func (s *Sweeper) FindExpired(ctx context.Context, now time.Time) ([]orders.Order, error) {
	return s.Orders.FindExpired(ctx, now, s.batch())
}

// FindApproachingDeadline returns orders whose deadline falls within the
// reminder window of now. Read-only, no side effects.
func (s *Sweeper) FindApproachingDeadline(ctx context.Context, now time.Time, window time.Duration) ([]orders.Order, error) {
	return s.Orders.FindApproachingDeadline(ctx, now, window)
}

// Sweep expires every order past its deadline: claim PENDING -> CANCELLING,
// release the reservation, finalize CANCELLED. Per-order failures are
// isolated and counted, never aborting the batch. Safe to call on a timer:
// already-cancelled orders are not selected again, and a concurrent sweep
// gets ErrAlreadyProcessed instead of a second pass.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Result, error) {
	if !s.mu.TryLock() {
		return Result{}, fmt.Errorf("sweep: %w", orders.ErrAlreadyProcessed)
	}
	defer s.mu.Unlock()

	if s.Locker != nil {
		ok, err := s.Locker.TryLock(ctx, lockKey, lockTTL)
		if err != nil {
			return Result{}, fmt.Errorf("sweep lock: %w", err)
		}
		if !ok {
			return Result{}, fmt.Errorf("sweep: %w", orders.ErrAlreadyProcessed)
		}
		defer func() {
			if err := s.Locker.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
				s.Log.Warn().Err(err).Msg("sweep unlock failed")
			}
		}()
	}

	expired, err := s.Orders.FindExpired(ctx, now, s.batch())
	if err != nil {
		return Result{}, err
	}

	var (
		resMu sync.Mutex
		res   Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	for _, o := range expired {
		o := o
		g.Go(func() error {
			outcome := s.expireOne(gctx, o)
			resMu.Lock()
			switch outcome {
			case expireOK:
				res.Processed++
				res.Released++
			case expireNoStock:
				res.Processed++
			case expireSkipped:
				res.Skipped++
			case expireFailed:
				res.Failed++
			}
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.Log.Info().
		Int("processed", res.Processed).
		Int("released", res.Released).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Time("now", now).
		Msg("payment timeout sweep done")
	return res, nil
}

type expireOutcome int

const (
	expireOK expireOutcome = iota
	expireNoStock
	expireSkipped
	expireFailed
)

func (s *Sweeper) expireOne(ctx context.Context, o orders.Order) expireOutcome {
	log := s.Log.With().Str("order_id", o.ID).Logger()

	// Claim by status transition. A CANCELLING row means an earlier sweep
	// died between release and finalize; take it over, the release below is
	// idempotent.
	if o.Status == orders.StatusPending {
		ok, err := s.Orders.UpdateStatusIf(ctx, o.ID, orders.StatusPending, orders.StatusCancelling, "")
		if err != nil {
			log.Error().Err(err).Msg("expire claim failed")
			return expireFailed
		}
		if !ok {
			return expireSkipped // paid or cancelled since the scan
		}
	}

	released, err := s.Reservations.ReleaseForOrder(ctx, o.ID)
	if err != nil {
		// Order stays CANCELLING; FindExpired picks it up next run.
		log.Error().Err(err).Msg("release on expiry failed")
		return expireFailed
	}

	ok, err := s.Orders.UpdateStatusIf(ctx, o.ID, orders.StatusCancelling, orders.StatusCancelled, orders.ReasonPaymentTimeout)
	if err != nil || !ok {
		log.Error().Err(err).Bool("cas_ok", ok).Msg("expire finalize failed")
		return expireFailed
	}

	if s.Notifier != nil {
		o.Status = orders.StatusCancelled
		s.Notifier.OrderCancelled(ctx, o, orders.ReasonPaymentTimeout)
	}
	log.Info().Int("released_lines", released).Msg("order expired for payment timeout")
	if released > 0 {
		return expireOK
	}
	return expireNoStock
}

// SendReminders notifies customers whose payment deadline falls within the
// reminder window. One reminder per order, deduped through the cache.
func (s *Sweeper) SendReminders(ctx context.Context, now time.Time) (int, error) {
	if s.Notifier == nil {
		return 0, nil
	}
	window := s.ReminderWindow
	if window <= 0 {
		window = 2 * time.Hour
	}
	approaching, err := s.Orders.FindApproachingDeadline(ctx, now, window)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, o := range approaching {
		if s.Reminders != nil {
			key := "remind:order:" + o.ID
			if _, hit, _ := s.Reminders.Get(ctx, key); hit {
				continue
			}
			_ = s.Reminders.Set(ctx, key, "1", window)
		}
		s.Notifier.PaymentReminder(ctx, o)
		sent++
	}
	return sent, nil
}

// Run drives Sweep and SendReminders on a fixed interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if _, err := s.Sweep(ctx, now.UTC()); err != nil {
				s.Log.Warn().Err(err).Msg("scheduled sweep failed")
			}
			if _, err := s.SendReminders(ctx, now.UTC()); err != nil {
				s.Log.Warn().Err(err).Msg("payment reminders failed")
			}
		}
	}
}

func (s *Sweeper) workers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return 4
}

func (s *Sweeper) batch() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return defaultBatchSize
}
