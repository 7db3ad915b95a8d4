// Package payments consumes payment confirmations from the payments service
// and turns them into order confirmations (stock commit included).
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/sproutmeals/fulfillment/internal/kafka"
	"github.com/sproutmeals/fulfillment/internal/orders"
	"github.com/sproutmeals/fulfillment/internal/redisx"
)

type Service struct {
	Machine     *orders.Machine
	Redis       *redis.Client
	ServiceName string
	Log         zerolog.Logger
}

// HandleConfirmed is the consumer handler for payments.confirmed.
func (s *Service) HandleConfirmed(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventPaymentConfirmed {
		return nil // ignore
	}

	// dedup by event_id so a redelivered message does not re-run the commit
	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
		exists, _ := redisx.Exists(ctx, s.Redis, dkey)
		if exists {
			return nil
		}
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	p, err := kafkax.UnwrapPayload[orders.PaymentConfirmedPayload](env.Payload)
	if err != nil {
		return err
	}

	_, err = s.Machine.Transition(ctx, p.OrderID, orders.StatusConfirmed, "")
	switch {
	case err == nil:
		s.Log.Info().Str("order_id", p.OrderID).Str("payment_ref", p.PaymentRef).Msg("order confirmed on payment")
		return nil
	case errors.Is(err, orders.ErrAlreadyProcessed):
		// lost the race to another consumer; offset may be committed
		return nil
	case errors.Is(err, orders.ErrInvalidTransition):
		// payment landed after expiry or delivery; log and drop, the payments
		// service handles refunds
		s.Log.Warn().Err(err).Str("order_id", p.OrderID).Msg("late payment confirmation dropped")
		return nil
	default:
		return err
	}
}
