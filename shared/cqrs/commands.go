package cqrs

import "github.com/shopspring/decimal"

// TransferCommand moves Amount from one account to another. Authorization is the
// caller's bearer header, forwarded unchanged to the ledger.
type TransferCommand struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	UserID        string
	Authorization string
}

// PaymentCommand debits Amount from a single account towards an external recipient.
type PaymentCommand struct {
	AccountID     string
	Amount        decimal.Decimal
	Currency      string
	Recipient     string
	Description   string
	UserID        string
	Authorization string
}
