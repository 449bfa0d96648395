// Package xid generates prefixed identifiers for entities and ledger rows.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a unique id of the form "<prefix>-<unixnano>-<8 random bytes>".
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Movement returns the deterministic id for the stock outflow a sale causes
// on one product. Replaying the same sale yields the same id, so the ledger
// can deduplicate instead of decrementing twice.
func Movement(saleID, productID string) string {
	return fmt.Sprintf("mv-%s-%s", saleID, productID)
}
