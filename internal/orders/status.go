package orders

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusPreparing      Status = "PREPARING"
	StatusReady          Status = "READY"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelling     Status = "CANCELLING" // internal claim state while releasing stock
	StatusCancelled      Status = "CANCELLED"
)

// Cancel reasons persisted on the order row.
const (
	ReasonPaymentTimeout    = "payment_timeout"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonCustomerRequest   = "customer_request"
	ReasonAdminCancel       = "admin_cancel"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:        {StatusConfirmed: true, StatusCancelling: true, StatusCancelled: true},
	StatusConfirmed:      {StatusPreparing: true, StatusCancelled: true},
	StatusPreparing:      {StatusReady: true, StatusCancelled: true},
	StatusReady:          {StatusOutForDelivery: true, StatusCancelled: true},
	StatusOutForDelivery: {StatusDelivered: true, StatusCancelled: true},
	StatusCancelling:     {StatusCancelled: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func Valid(s Status) bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// AwaitingPayment marks the statuses the payment-timeout sweep may expire.
func (s Status) AwaitingPayment() bool {
	return s == StatusPending || s == StatusCancelling
}
