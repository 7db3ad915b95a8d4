package orders

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sproutmeals/fulfillment/internal/reservation"
	"github.com/sproutmeals/fulfillment/internal/stock"
)

// Store is the slice of the order repository the machine needs.
type Store interface {
	Get(ctx context.Context, orderID string) (Order, error)
	UpdateStatusIf(ctx context.Context, orderID string, from, to Status, reason string) (bool, error)
}

// Coordinator is implemented by reservation.Manager.
type Coordinator interface {
	ReserveForOrder(ctx context.Context, orderID string, lines []reservation.Line) error
	ReleaseForOrder(ctx context.Context, orderID string) (int, error)
	CommitForOrder(ctx context.Context, orderID string) error
}

// Notifier dispatches customer messages. Fire-and-forget: implementations
// never fail the transition.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o Order)
	OrderCancelled(ctx context.Context, o Order, reason string)
}

// Machine owns every order status change and the stock side effect each edge
// carries. Claims go through the repository's CAS so two workers racing on
// the same order cannot both apply side effects.
type Machine struct {
	Store        Store
	Reservations Coordinator
	Notifier     Notifier
	Log          zerolog.Logger
}

// Lines maps an order's items onto reservation lines.
func Lines(items []Item) []reservation.Line {
	out := make([]reservation.Line, 0, len(items))
	for _, it := range items {
		out = append(out, reservation.Line{
			Key: stock.EntryKey{ProductID: it.ProductID, PortionSizeID: it.PortionSizeID},
			Qty: it.Qty,
		})
	}
	return out
}

// Transition moves the order to the requested status, applying side effects:
//
//	PENDING -> CONFIRMED            commit reserved stock, notify
//	PENDING -> CANCELLED            release reserved stock, notify
//	CONFIRMED.. -> CANCELLED        no automatic restock (stock committed), notify
//	OUT_FOR_DELIVERY -> DELIVERED   none
//
// An illegal edge fails with ErrInvalidTransition and leaves the order
// untouched. A lost CAS race fails with ErrAlreadyProcessed.
func (m *Machine) Transition(ctx context.Context, orderID string, to Status, reason string) (Order, error) {
	o, err := m.Store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !Valid(to) {
		return o, fmt.Errorf("unknown status %q", to)
	}
	if !CanTransition(o.Status, to) {
		return o, &InvalidTransitionError{From: o.Status, To: to}
	}

	switch {
	case o.Status == StatusPending && to == StatusConfirmed:
		return m.confirm(ctx, o)
	case to == StatusCancelled || to == StatusCancelling:
		return m.cancel(ctx, o, reason)
	default:
		ok, err := m.Store.UpdateStatusIf(ctx, o.ID, o.Status, to, "")
		if err != nil {
			return o, err
		}
		if !ok {
			return o, fmt.Errorf("order %s: %w", o.ID, ErrAlreadyProcessed)
		}
		o.Status = to
		return o, nil
	}
}

func (m *Machine) confirm(ctx context.Context, o Order) (Order, error) {
	ok, err := m.Store.UpdateStatusIf(ctx, o.ID, StatusPending, StatusConfirmed, "")
	if err != nil {
		return o, err
	}
	if !ok {
		return o, fmt.Errorf("order %s: %w", o.ID, ErrAlreadyProcessed)
	}
	// Commit consults the reservation records, so a retry after a partial
	// failure picks up the lines still held.
	if err := m.Reservations.CommitForOrder(ctx, o.ID); err != nil {
		return o, err
	}
	o.Status = StatusConfirmed
	if m.Notifier != nil {
		m.Notifier.OrderConfirmed(ctx, o)
	}
	return o, nil
}

func (m *Machine) cancel(ctx context.Context, o Order, reason string) (Order, error) {
	if reason == "" {
		reason = ReasonAdminCancel
	}

	if o.Status.AwaitingPayment() {
		// Claim first (PENDING -> CANCELLING), release, then finalize. A
		// CANCELLING order found here is a cancel interrupted mid-release;
		// finish it instead of skipping.
		if o.Status == StatusPending {
			ok, err := m.Store.UpdateStatusIf(ctx, o.ID, StatusPending, StatusCancelling, "")
			if err != nil {
				return o, err
			}
			if !ok {
				return o, fmt.Errorf("order %s: %w", o.ID, ErrAlreadyProcessed)
			}
		}
		if _, err := m.Reservations.ReleaseForOrder(ctx, o.ID); err != nil {
			return o, err
		}
		ok, err := m.Store.UpdateStatusIf(ctx, o.ID, StatusCancelling, StatusCancelled, reason)
		if err != nil {
			return o, err
		}
		if !ok {
			// another worker finalized first; it owns the notification
			return o, fmt.Errorf("order %s: %w", o.ID, ErrAlreadyProcessed)
		}
	} else {
		// Stock was committed at confirmation; cancelling now does not
		// restock automatically. Putting units back is a separate manual
		// restock decision.
		ok, err := m.Store.UpdateStatusIf(ctx, o.ID, o.Status, StatusCancelled, reason)
		if err != nil {
			return o, err
		}
		if !ok {
			return o, fmt.Errorf("order %s: %w", o.ID, ErrAlreadyProcessed)
		}
	}

	o.Status = StatusCancelled
	o.CancelReason = reason
	if m.Notifier != nil {
		m.Notifier.OrderCancelled(ctx, o, reason)
	}
	return o, nil
}
