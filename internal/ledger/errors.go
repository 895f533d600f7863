package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrInactive          = errors.New("account inactive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnauthorized      = errors.New("not authorized for account")
	ErrUnavailable       = errors.New("account ledger unavailable")
	ErrRejected          = errors.New("request rejected by account ledger")
)

// Error is a failed ledger call. Err is always one of the package sentinels.
type Error struct {
	Op        string
	AccountID string
	Status    int
	Message   string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ledger %s on account %s: %v", e.Op, e.AccountID, e.Err)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Reason returns a short machine-readable label for err, used on failed
// transaction rows and in API error codes.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "ACCOUNT_NOT_FOUND"
	case errors.Is(err, ErrInactive):
		return "ACCOUNT_INACTIVE"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrUnavailable):
		return "LEDGER_UNAVAILABLE"
	default:
		return "LEDGER_REJECTED"
	}
}
