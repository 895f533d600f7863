package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eaglebank/transaction-service/shared/models"
)

// TransactionWriteRepository appends transaction records to Postgres.
type TransactionWriteRepository struct {
	db *sql.DB
}

func NewTransactionWriteRepository(db *sql.DB) *TransactionWriteRepository {
	return &TransactionWriteRepository{db: db}
}

// Append inserts t inside a local SQL transaction and returns a copy carrying
// the assigned id and created_at.
func (r *TransactionWriteRepository) Append(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	if !t.Status.IsTerminal() {
		return nil, fmt.Errorf("refusing to record transaction %s with non-terminal status %q", t.CorrelationID, t.Status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO transactions (
			transaction_id, user_id, from_account_id, to_account_id, transaction_type,
			amount, currency, status, description, failure_reason,
			reconciliation_required, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`
	out := *t
	err = tx.QueryRowContext(ctx, query,
		t.CorrelationID, t.UserID, nullString(t.FromAccountID), nullString(t.ToAccountID), string(t.Kind),
		t.Amount, t.Currency, string(t.Status), nullString(t.Description), nullString(t.FailureReason),
		t.ReconciliationRequired, nullTime(t.CompletedAt),
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction %s: %w", t.CorrelationID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction %s: %w", t.CorrelationID, err)
	}
	return &out, nil
}
