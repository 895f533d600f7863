package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	TransactionCompleted = "transaction.completed"
	TransactionFailed    = "transaction.failed"

	ReconciliationRequested    = "reconciliation.requested"
	ReconciliationSucceeded    = "reconciliation.succeeded"
	ReconciliationDeadLettered = "reconciliation.dead_lettered"
)

// Stream names
const (
	TransactionEventsStream = "transaction.events"
	ReconciliationStream    = "transaction.reconciliation"
	ReconciliationDLQStream = "transaction.reconciliation.dlq"
)

// Base event structure
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// TransactionOutcomeEvent is published once per attempt after its terminal
// status has been decided.
type TransactionOutcomeEvent struct {
	CorrelationID          string          `json:"correlationId"`
	UserID                 string          `json:"userId"`
	Kind                   string          `json:"kind"`
	FromAccountID          string          `json:"fromAccountId,omitempty"`
	ToAccountID            string          `json:"toAccountId,omitempty"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	Status                 string          `json:"status"`
	FailureReason          string          `json:"failureReason,omitempty"`
	ReconciliationRequired bool            `json:"reconciliationRequired"`
	Recorded               bool            `json:"recorded"`
}

// ReconciliationRequestedEvent asks the reconciler to restore funds that were
// debited from AccountID but could not be compensated inline.
type ReconciliationRequestedEvent struct {
	CorrelationID string          `json:"correlationId"`
	UserID        string          `json:"userId"`
	AccountID     string          `json:"accountId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason"`
}

type ReconciliationResultEvent struct {
	CorrelationID string          `json:"correlationId"`
	AccountID     string          `json:"accountId"`
	Amount        decimal.Decimal `json:"amount"`
	Attempts      int             `json:"attempts"`
	Error         string          `json:"error,omitempty"`

	// ObservedBalance is the account balance read after a failed restore, so an
	// operator can tell whether an unacknowledged credit landed.
	ObservedBalance *decimal.Decimal `json:"observedBalance,omitempty"`
}
