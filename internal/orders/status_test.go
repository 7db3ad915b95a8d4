package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelling, true},
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusPreparing, true},
		{StatusPreparing, StatusReady, true},
		{StatusReady, StatusOutForDelivery, true},
		{StatusOutForDelivery, StatusDelivered, true},
		{StatusCancelling, StatusCancelled, true},

		// CANCELLED reachable from every non-terminal state
		{StatusConfirmed, StatusCancelled, true},
		{StatusPreparing, StatusCancelled, true},
		{StatusReady, StatusCancelled, true},
		{StatusOutForDelivery, StatusCancelled, true},

		// no going backwards, no leaving terminal states
		{StatusDelivered, StatusConfirmed, false},
		{StatusDelivered, StatusPending, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusConfirmed, StatusPending, false},
		{StatusPending, StatusDelivered, false},
		{StatusPending, StatusPreparing, false},
		{StatusReady, StatusDelivered, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusCancelling.Terminal())
	assert.False(t, StatusOutForDelivery.Terminal())
}

func TestAwaitingPayment(t *testing.T) {
	assert.True(t, StatusPending.AwaitingPayment())
	assert.True(t, StatusCancelling.AwaitingPayment())
	assert.False(t, StatusConfirmed.AwaitingPayment())
	assert.False(t, StatusCancelled.AwaitingPayment())
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(StatusPending))
	assert.True(t, Valid(StatusCancelled))
	assert.False(t, Valid(Status("SHIPPED")))
	assert.False(t, Valid(Status("")))
}
