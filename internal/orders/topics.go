package orders

const (
	TopicOrderConfirmed   = "fulfillment.order.confirmed"
	TopicOrderCancelled   = "fulfillment.order.cancelled"
	TopicPaymentReminder  = "fulfillment.payment.reminder"
	TopicPaymentConfirmed = "payments.confirmed"
)

// Partition key = order_id, so every event of one order keeps its ordering.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
