package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeFillID computes a deterministic fill_id using SHA256.
// Formula: SHA256(order_id|exec_id|timestamp)
// Returns hex-encoded hash (64 characters).
//
// exec_id is the exchange-assigned execution identifier. Gateways that
// deliver the same execution twice (reconnect replay, reconciliation)
// produce the same fill_id, so the journal dedups them.
func ComputeFillID(orderID string, execID string, timestamp int64) string {
	data := fmt.Sprintf("%s|%s|%d", orderID, execID, timestamp)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
