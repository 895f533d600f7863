package utils

import (
	"strings"

	"github.com/google/uuid"
)

const CorrelationIDPrefix = "txn"

// GenerateID generates a unique ID with the given prefix. UUIDv7 keeps ids roughly
// ordered by creation time, which helps index locality on the transactions table.
func GenerateID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + id.String()
}

// GenerateCorrelationID returns a new external transaction identifier.
func GenerateCorrelationID() string {
	return GenerateID(CorrelationIDPrefix)
}

// ValidateCorrelationID validates the correlation id format.
func ValidateCorrelationID(correlationID string) bool {
	rest, ok := strings.CutPrefix(correlationID, CorrelationIDPrefix+"-")
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

// IdempotencyKey derives the ledger idempotency key for one leg of a saga.
func IdempotencyKey(correlationID, leg, accountID string) string {
	return correlationID + ":" + leg + ":" + accountID
}
