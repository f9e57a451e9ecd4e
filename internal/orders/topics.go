package orders

// Partition key = order_id, so every message for one order lands on one partition.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
