package shop

// Single lifecycle topic; the event type travels in the envelope and in
// the x-event-type header so consumers can filter cheaply.
const TopicOrderLifecycle = "shop.order.lifecycle"

// Partition key = order_id, so all events of one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
