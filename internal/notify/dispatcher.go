// Package notify publishes customer-facing notification events. Dispatch is
// fire-and-forget: a broker problem is logged by the producer loop and never
// rolls back the order transition that triggered it.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/sproutmeals/fulfillment/internal/kafka"
	"github.com/sproutmeals/fulfillment/internal/orders"
)

type Dispatcher struct {
	Confirmed *kafkax.Producer // fulfillment.order.confirmed
	Cancelled *kafkax.Producer // fulfillment.order.cancelled
	Reminder  *kafkax.Producer // fulfillment.payment.reminder
	Service   string
	Log       zerolog.Logger
}

func (d *Dispatcher) OrderConfirmed(ctx context.Context, o orders.Order) {
	d.publish(d.Confirmed, orders.EventOrderConfirmed, o.ID, orders.OrderConfirmedPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		TotalCents: o.TotalCents,
	})
}

func (d *Dispatcher) OrderCancelled(ctx context.Context, o orders.Order, reason string) {
	d.publish(d.Cancelled, orders.EventOrderCancelled, o.ID, orders.OrderCancelledPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Reason:     reason,
	})
}

func (d *Dispatcher) PaymentReminder(ctx context.Context, o orders.Order) {
	d.publish(d.Reminder, orders.EventPaymentReminder, o.ID, orders.PaymentReminderPayload{
		OrderID:      o.ID,
		CustomerID:   o.CustomerID,
		TotalCents:   o.TotalCents,
		PaymentDueAt: o.PaymentDueAt,
	})
}

func (d *Dispatcher) publish(p *kafkax.Producer, eventType, orderID string, payload any) {
	if p == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      d.Service,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
