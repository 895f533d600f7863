package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindTransfer TransactionKind = "transfer"
	KindPayment  TransactionKind = "payment"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// IsTerminal reports whether no further transition can happen from s.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction is the durable record of one transfer or payment attempt.
// Rows are written once with a terminal status and never updated.
type Transaction struct {
	ID                     int64             `json:"id"`
	CorrelationID          string            `json:"transaction_id"`
	UserID                 string            `json:"user_id"`
	FromAccountID          string            `json:"from_account_id,omitempty"`
	ToAccountID            string            `json:"to_account_id,omitempty"`
	Kind                   TransactionKind   `json:"transaction_type"`
	Amount                 decimal.Decimal   `json:"amount"`
	Currency               string            `json:"currency"`
	Status                 TransactionStatus `json:"status"`
	Description            string            `json:"description,omitempty"`
	FailureReason          string            `json:"failure_reason,omitempty"`
	ReconciliationRequired bool              `json:"reconciliation_required"`
	CreatedAt              time.Time         `json:"created_at"`
	CompletedAt            *time.Time        `json:"completed_at,omitempty"`
}

// Involves reports whether accountID participates in t on either leg.
func (t *Transaction) Involves(accountID string) bool {
	return accountID != "" && (t.FromAccountID == accountID || t.ToAccountID == accountID)
}
