package command

import (
	"fmt"

	"github.com/eaglebank/transaction-service/shared/models"
)

// ValidationError rejects a command before any ledger call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// LegError is a ledger failure that ended the saga. Transaction is the failed
// row, already recorded when the store accepted it.
type LegError struct {
	Leg         string
	Err         error
	Transaction *models.Transaction
}

func (e *LegError) Error() string {
	return fmt.Sprintf("%s leg failed: %v", e.Leg, e.Err)
}

func (e *LegError) Unwrap() error { return e.Err }

// CompensationFailureError means funds left the source account and were
// neither delivered nor restored. The attempt needs reconciliation.
type CompensationFailureError struct {
	Cause           error
	CompensationErr error
	Transaction     *models.Transaction
}

func (e *CompensationFailureError) Error() string {
	return fmt.Sprintf("compensation failed after %v: %v; reconciliation required", e.Cause, e.CompensationErr)
}

func (e *CompensationFailureError) Unwrap() []error {
	return []error{e.Cause, e.CompensationErr}
}

// RecordError means the ledger side finished but the row could not be stored.
type RecordError struct {
	CorrelationID string
	Err           error
	Transaction   *models.Transaction
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("failed to record transaction %s: %v", e.CorrelationID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
