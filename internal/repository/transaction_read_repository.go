package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transaction-service/shared/models"
	sharedredis "github.com/eaglebank/transaction-service/shared/redis"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const transactionViewKeyPrefix = "transaction:view:"

var ErrTransactionNotFound = errors.New("transaction not found")

const selectColumns = `
	SELECT id, transaction_id, user_id, from_account_id, to_account_id, transaction_type,
	       amount, currency, status, description, failure_reason,
	       reconciliation_required, created_at, completed_at
	FROM transactions
`

// TransactionReadRepository serves reads from Postgres. Single lookups go
// through a Redis read-through cache; rows never change once written so
// cached entries cannot go stale.
type TransactionReadRepository struct {
	db     *sql.DB
	cache  *sharedredis.ViewCache[models.Transaction]
	logger *zap.Logger
}

func NewTransactionReadRepository(db *sql.DB, redisClient *goredis.Client, ttl time.Duration, logger *zap.Logger) *TransactionReadRepository {
	return &TransactionReadRepository{
		db:     db,
		cache:  sharedredis.NewViewCache[models.Transaction](redisClient, ttl, logger),
		logger: logger,
	}
}

func (r *TransactionReadRepository) GetByCorrelationID(ctx context.Context, correlationID, userID string) (*models.Transaction, error) {
	if t, ok := r.cache.Get(ctx, cacheKey(userID, correlationID)); ok {
		return t, nil
	}

	row := r.db.QueryRowContext(ctx, selectColumns+`WHERE transaction_id = $1 AND user_id = $2`, correlationID, userID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	r.CacheTransaction(ctx, t)
	return t, nil
}

// ListByUser returns the user's transactions, newest first.
func (r *TransactionReadRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	query := selectColumns + `
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	return r.list(ctx, query, userID, limit, offset)
}

// ListByAccount returns the user's transactions touching accountID on either leg.
func (r *TransactionReadRepository) ListByAccount(ctx context.Context, accountID, userID string, limit, offset int) ([]models.Transaction, error) {
	query := selectColumns + `
		WHERE user_id = $1 AND (from_account_id = $2 OR to_account_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	return r.list(ctx, query, userID, accountID, limit, offset)
}

// CacheTransaction stores t in Redis. Called after a successful Append.
func (r *TransactionReadRepository) CacheTransaction(ctx context.Context, t *models.Transaction) {
	r.cache.Set(ctx, cacheKey(t.UserID, t.CorrelationID), t)
}

func (r *TransactionReadRepository) list(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]models.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return transactions, nil
}

func cacheKey(userID, correlationID string) string {
	return fmt.Sprintf("%s%s:%s", transactionViewKeyPrefix, userID, correlationID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s rowScanner) (*models.Transaction, error) {
	var (
		t                      models.Transaction
		from, to, desc, reason sql.NullString
		kind, status           string
		completedAt            sql.NullTime
	)
	if err := s.Scan(
		&t.ID, &t.CorrelationID, &t.UserID, &from, &to, &kind,
		&t.Amount, &t.Currency, &status, &desc, &reason,
		&t.ReconciliationRequired, &t.CreatedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	t.FromAccountID = from.String
	t.ToAccountID = to.String
	t.Kind = models.TransactionKind(kind)
	t.Status = models.TransactionStatus(status)
	t.Description = desc.String
	t.FailureReason = reason.String
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
