// Package ledger talks to the account ledger that owns balances. The ledger is
// remote; every mutation is a separate call with its own failure modes.
package ledger

import (
	"context"

	"github.com/eaglebank/transaction-service/shared/models"
	"github.com/shopspring/decimal"
)

// Account is the ledger's view of an account after a call.
type Account struct {
	ID       models.FlexibleID `json:"id"`
	Balance  decimal.Decimal   `json:"balance"`
	Currency string            `json:"currency"`
	Status   string            `json:"status,omitempty"`
}

// MutationRequest describes one debit or credit. IdempotencyKey is optional;
// when empty the call carries no deduplication guarantee.
type MutationRequest struct {
	AccountID      string
	Amount         decimal.Decimal
	Authorization  string
	IdempotencyKey string
}

// Client is the capability to move money on the account ledger.
//
// Debit fails with ErrNotFound, ErrInactive, ErrInsufficientFunds,
// ErrUnauthorized, ErrUnavailable or ErrRejected. Credit fails the same way
// except for ErrInsufficientFunds.
type Client interface {
	Debit(ctx context.Context, req MutationRequest) (*Account, error)
	Credit(ctx context.Context, req MutationRequest) (*Account, error)
	Balance(ctx context.Context, accountID, authorization string) (*Account, error)
}

const (
	OpDebit   = "debit"
	OpCredit  = "credit"
	OpBalance = "balance"
)
