package query

import (
	"context"
	"strings"

	"github.com/eaglebank/transaction-service/shared/cqrs"
	"github.com/eaglebank/transaction-service/shared/models"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// TransactionReader is the read side of the transaction store.
type TransactionReader interface {
	GetByCorrelationID(ctx context.Context, correlationID, userID string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error)
	ListByAccount(ctx context.Context, accountID, userID string, limit, offset int) ([]models.Transaction, error)
}

// TransactionQueryService serves reads. Every query is scoped to the caller,
// so another user's transaction is indistinguishable from a missing one.
type TransactionQueryService struct {
	reader TransactionReader
}

func NewTransactionQueryService(reader TransactionReader) *TransactionQueryService {
	return &TransactionQueryService{reader: reader}
}

func (s *TransactionQueryService) GetTransaction(ctx context.Context, q cqrs.GetTransactionQuery) (*models.Transaction, error) {
	return s.reader.GetByCorrelationID(ctx, strings.TrimSpace(q.CorrelationID), q.UserID)
}

func (s *TransactionQueryService) ListTransactions(ctx context.Context, q cqrs.ListTransactionsQuery) (*models.TransactionPage, error) {
	limit, offset := Page(q.Limit, q.Offset)
	transactions, err := s.reader.ListByUser(ctx, q.UserID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &models.TransactionPage{Transactions: transactions, Limit: limit, Offset: offset}, nil
}

func (s *TransactionQueryService) ListAccountTransactions(ctx context.Context, q cqrs.ListAccountTransactionsQuery) (*models.TransactionPage, error) {
	limit, offset := Page(q.Limit, q.Offset)
	transactions, err := s.reader.ListByAccount(ctx, strings.TrimSpace(q.AccountID), q.UserID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &models.TransactionPage{Transactions: transactions, Limit: limit, Offset: offset}, nil
}

// Page clamps paging parameters: limit defaults to DefaultLimit and is capped
// at MaxLimit, negative offsets become zero.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
