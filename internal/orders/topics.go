package orders

const (
	TopicOrderPaid     = "order.paid"
	TopicPOSSynced     = "order.pos.synced"
	TopicPOSSyncFailed = "order.pos.failed"
)

// Partition key = order_id so every event for one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
