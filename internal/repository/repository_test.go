package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/eaglebank/transaction-service/shared/models"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var columns = []string{
	"id", "transaction_id", "user_id", "from_account_id", "to_account_id", "transaction_type",
	"amount", "currency", "status", "description", "failure_reason",
	"reconciliation_required", "created_at", "completed_at",
}

func completedTransfer() *models.Transaction {
	done := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &models.Transaction{
		CorrelationID: "txn-1",
		UserID:        "usr-1",
		FromAccountID: "A",
		ToAccountID:   "B",
		Kind:          models.KindTransfer,
		Amount:        decimal.RequireFromString("50.00"),
		Currency:      "USD",
		Status:        models.StatusCompleted,
		CompletedAt:   &done,
	}
}

func TestAppendCommitsInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO transactions")).
		WithArgs("txn-1", "usr-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "transfer",
			sqlmock.AnyArg(), "USD", "completed", sqlmock.AnyArg(), sqlmock.AnyArg(),
			false, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), created))
	mock.ExpectCommit()

	repo := NewTransactionWriteRepository(db)
	in := completedTransfer()
	out, err := repo.Append(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(7), out.ID)
	assert.Equal(t, created, out.CreatedAt)
	assert.Zero(t, in.ID, "input must not be mutated")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRollsBackOnInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO transactions")).WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	_, err = NewTransactionWriteRepository(db).Append(context.Background(), completedTransfer())
	assert.ErrorContains(t, err, "duplicate key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRejectsNonTerminalStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	in := completedTransfer()
	in.Status = models.StatusPending
	_, err = NewTransactionWriteRepository(db).Append(context.Background(), in)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newReadRepo(t *testing.T) (*TransactionReadRepository, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewTransactionReadRepository(db, client, time.Minute, zap.NewNop()), mock, mr
}

func TestGetByCorrelationIDReadsThroughCache(t *testing.T) {
	repo, mock, mr := newReadRepo(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE transaction_id = $1 AND user_id = $2")).
		WithArgs("txn-1", "usr-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			int64(1), "txn-1", "usr-1", "A", "B", "transfer",
			"50.00", "USD", "completed", nil, nil,
			false, created, created,
		))

	first, err := repo.GetByCorrelationID(context.Background(), "txn-1", "usr-1")
	require.NoError(t, err)
	assert.Equal(t, "A", first.FromAccountID)
	assert.Equal(t, models.StatusCompleted, first.Status)
	assert.True(t, first.Amount.Equal(decimal.NewFromInt(50)))
	require.NotNil(t, first.CompletedAt)
	assert.True(t, mr.Exists("transaction:view:usr-1:txn-1"))

	// second read is served from Redis; sqlmock would fail on an unexpected query
	second, err := repo.GetByCorrelationID(context.Background(), "txn-1", "usr-1")
	require.NoError(t, err)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByCorrelationIDNotFound(t *testing.T) {
	repo, mock, _ := newReadRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE transaction_id = $1")).
		WithArgs("txn-x", "usr-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByCorrelationID(context.Background(), "txn-x", "usr-1")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestListByUser(t *testing.T) {
	repo, mock, _ := newReadRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC")).
		WithArgs("usr-1", 2, 1).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(3), "txn-3", "usr-1", "A", nil, "payment", "5.00", "USD", "failed", "Payment to Bob: rent", "INSUFFICIENT_FUNDS", false, now, now).
			AddRow(int64(2), "txn-2", "usr-1", "A", "B", "transfer", "10.00", "USD", "completed", nil, nil, false, now.Add(-time.Minute), now))

	got, err := repo.ListByUser(context.Background(), "usr-1", 2, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "txn-3", got[0].CorrelationID)
	assert.Equal(t, models.KindPayment, got[0].Kind)
	assert.Equal(t, "INSUFFICIENT_FUNDS", got[0].FailureReason)
	assert.Empty(t, got[0].ToAccountID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByAccountEmpty(t *testing.T) {
	repo, mock, _ := newReadRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("(from_account_id = $2 OR to_account_id = $2)")).
		WithArgs("usr-1", "A", 50, 0).
		WillReturnRows(sqlmock.NewRows(columns))

	got, err := repo.ListByAccount(context.Background(), "A", "usr-1", 50, 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMemoryTransactionStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTransactionStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	add := func(corr, user, from, to string) {
		_, err := s.Append(ctx, &models.Transaction{
			CorrelationID: corr, UserID: user, FromAccountID: from, ToAccountID: to,
			Kind: models.KindTransfer, Amount: decimal.NewFromInt(1), Currency: "USD", Status: models.StatusCompleted,
		})
		require.NoError(t, err)
	}
	add("txn-1", "usr-1", "A", "B")
	add("txn-2", "usr-1", "B", "C")
	add("txn-3", "usr-2", "A", "B")
	add("txn-4", "usr-1", "C", "D")

	_, err := s.Append(ctx, &models.Transaction{CorrelationID: "txn-1", Status: models.StatusFailed})
	assert.Error(t, err, "duplicate correlation id")

	all, _ := s.ListByUser(ctx, "usr-1", 50, 0)
	assert.Equal(t, []string{"txn-4", "txn-2", "txn-1"}, corrIDs(all))

	page, _ := s.ListByUser(ctx, "usr-1", 1, 1)
	assert.Equal(t, []string{"txn-2"}, corrIDs(page))

	past, _ := s.ListByUser(ctx, "usr-1", 10, 10)
	assert.Empty(t, past)

	byAccount, _ := s.ListByAccount(ctx, "B", "usr-1", 50, 0)
	assert.Equal(t, []string{"txn-2", "txn-1"}, corrIDs(byAccount))

	_, err = s.GetByCorrelationID(ctx, "txn-3", "usr-1")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	got, err := s.GetByCorrelationID(ctx, "txn-3", "usr-2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
}

func corrIDs(ts []models.Transaction) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.CorrelationID)
	}
	return out
}
