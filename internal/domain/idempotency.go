package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// OperationKind names the gateway mutation a ledger entry records
type OperationKind string

const (
	OperationCreateIntent OperationKind = "create_intent"
	OperationRefund       OperationKind = "refund"
)

// LedgerEntry is the recorded first successful result for an idempotency key
type LedgerEntry struct {
	Key            string          `json:"key"`
	OperationKind  OperationKind   `json:"operation_kind"`
	ResultSnapshot json.RawMessage `json:"result_snapshot"`
	CreatedAt      time.Time       `json:"created_at"`
}

const dateLayout = "2006-01-02"

// IntentIdempotencyKey derives the key for one logical payment attempt. The
// same inputs always give the same key, so a retried or duplicated initiate
// resolves to the same gateway intent.
func IntentIdempotencyKey(guestID, accommodationID string, checkIn, checkOut time.Time, attemptNonce string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		guestID,
		accommodationID,
		checkIn.UTC().Format(dateLayout),
		checkOut.UTC().Format(dateLayout),
		attemptNonce,
	}, "|")))
	return "intent_" + hex.EncodeToString(h.Sum(nil))[:48]
}

// RefundIdempotencyKey derives the key for refunding an intent in full.
// One intent is refunded at most once.
func RefundIdempotencyKey(intentID string) string {
	return "refund_" + intentID
}
