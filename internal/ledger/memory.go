package ledger

import (
	"context"
	"sync"

	"github.com/eaglebank/transaction-service/shared/models"
	"github.com/shopspring/decimal"
)

type memoryAccount struct {
	balance  decimal.Decimal
	currency string
	active   bool
}

// MemoryLedger is an in-process ledger used in mock mode and tests. Debits are
// conditional on sufficient balance and applied atomically.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]*memoryAccount
	applied  map[string]Account
}

var _ Client = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*memoryAccount),
		applied:  make(map[string]Account),
	}
}

// Seed creates or replaces an active account.
func (m *MemoryLedger) Seed(accountID string, balance decimal.Decimal, currency string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[accountID] = &memoryAccount{balance: balance, currency: currency, active: true}
}

func (m *MemoryLedger) SetActive(accountID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[accountID]; ok {
		acc.active = active
	}
}

func (m *MemoryLedger) Debit(ctx context.Context, req MutationRequest) (*Account, error) {
	return m.mutate(ctx, OpDebit, req)
}

func (m *MemoryLedger) Credit(ctx context.Context, req MutationRequest) (*Account, error) {
	return m.mutate(ctx, OpCredit, req)
}

func (m *MemoryLedger) Balance(ctx context.Context, accountID, authorization string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: OpBalance, AccountID: accountID, Err: ErrUnavailable, Message: err.Error()}
	}
	if authorization == "" {
		return nil, &Error{Op: OpBalance, AccountID: accountID, Err: ErrUnauthorized}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return nil, &Error{Op: OpBalance, AccountID: accountID, Err: ErrNotFound}
	}
	return snapshot(accountID, acc), nil
}

func (m *MemoryLedger) mutate(ctx context.Context, op string, req MutationRequest) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: op, AccountID: req.AccountID, Err: ErrUnavailable, Message: err.Error()}
	}
	if req.Authorization == "" {
		return nil, &Error{Op: op, AccountID: req.AccountID, Err: ErrUnauthorized}
	}
	if !req.Amount.IsPositive() {
		return nil, &Error{Op: op, AccountID: req.AccountID, Err: ErrRejected, Message: "amount must be positive"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	replayKey := op + "|" + req.IdempotencyKey
	if req.IdempotencyKey != "" {
		if prev, ok := m.applied[replayKey]; ok {
			return &prev, nil
		}
	}

	acc, ok := m.accounts[req.AccountID]
	if !ok {
		return nil, &Error{Op: op, AccountID: req.AccountID, Err: ErrNotFound}
	}
	if !acc.active {
		return nil, &Error{Op: op, AccountID: req.AccountID, Err: ErrInactive}
	}

	switch op {
	case OpDebit:
		if acc.balance.LessThan(req.Amount) {
			return nil, &Error{Op: op, AccountID: req.AccountID, Err: ErrInsufficientFunds}
		}
		acc.balance = acc.balance.Sub(req.Amount)
	case OpCredit:
		acc.balance = acc.balance.Add(req.Amount)
	}

	out := snapshot(req.AccountID, acc)
	if req.IdempotencyKey != "" {
		m.applied[replayKey] = *out
	}
	return out, nil
}

func snapshot(accountID string, acc *memoryAccount) *Account {
	status := "active"
	if !acc.active {
		status = "inactive"
	}
	return &Account{
		ID:       models.FlexibleID(accountID),
		Balance:  acc.balance,
		Currency: acc.currency,
		Status:   status,
	}
}
