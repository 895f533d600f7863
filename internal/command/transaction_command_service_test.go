package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eaglebank/transaction-service/internal/ledger"
	"github.com/eaglebank/transaction-service/internal/repository"
	"github.com/eaglebank/transaction-service/shared/cqrs"
	"github.com/eaglebank/transaction-service/shared/events"
	"github.com/eaglebank/transaction-service/shared/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- fakes ----

type ledgerCall struct {
	op        string
	accountID string
	key       string
}

// faultyLedger wraps a MemoryLedger, records every call and injects failures
// per operation and account.
type faultyLedger struct {
	inner *ledger.MemoryLedger

	mu         sync.Mutex
	calls      []ledgerCall
	failDebit  map[string]error
	failCredit map[string]error
	afterDebit func()
}

func newFaultyLedger() *faultyLedger {
	m := ledger.NewMemoryLedger()
	m.Seed("A", decimal.RequireFromString("100.00"), "USD")
	m.Seed("B", decimal.RequireFromString("20.00"), "USD")
	return &faultyLedger{inner: m, failDebit: map[string]error{}, failCredit: map[string]error{}}
}

func (f *faultyLedger) record(op string, req ledger.MutationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ledgerCall{op: op, accountID: req.AccountID, key: req.IdempotencyKey})
	if op == ledger.OpDebit {
		return f.failDebit[req.AccountID]
	}
	return f.failCredit[req.AccountID]
}

func (f *faultyLedger) Debit(ctx context.Context, req ledger.MutationRequest) (*ledger.Account, error) {
	if err := f.record(ledger.OpDebit, req); err != nil {
		return nil, err
	}
	acc, err := f.inner.Debit(ctx, req)
	if err == nil && f.afterDebit != nil {
		f.afterDebit()
	}
	return acc, err
}

func (f *faultyLedger) Credit(ctx context.Context, req ledger.MutationRequest) (*ledger.Account, error) {
	if err := f.record(ledger.OpCredit, req); err != nil {
		return nil, err
	}
	return f.inner.Credit(ctx, req)
}

func (f *faultyLedger) Balance(ctx context.Context, accountID, authorization string) (*ledger.Account, error) {
	return f.inner.Balance(ctx, accountID, authorization)
}

func (f *faultyLedger) callsTo(op, accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.op == op && c.accountID == accountID {
			n++
		}
	}
	return n
}

func (f *faultyLedger) balance(t *testing.T, accountID string) string {
	t.Helper()
	acc, err := f.inner.Balance(context.Background(), accountID, testAuth)
	require.NoError(t, err)
	return acc.Balance.StringFixed(2)
}

type publishedEvent struct {
	stream    string
	eventType string
	data      any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, stream, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{stream: stream, eventType: eventType, data: data})
	return nil
}

type failingStore struct{ err error }

func (s failingStore) Append(context.Context, *models.Transaction) (*models.Transaction, error) {
	return nil, s.err
}

type cacheSpy struct{ cached []string }

func (c *cacheSpy) CacheTransaction(_ context.Context, t *models.Transaction) {
	c.cached = append(c.cached, t.CorrelationID)
}

// ---- helpers ----

const testAuth = "Bearer test-token"

var unavailable = &ledger.Error{Op: ledger.OpCredit, Err: ledger.ErrUnavailable, Message: "timed out"}

type fixture struct {
	ledger    *faultyLedger
	store     *repository.MemoryTransactionStore
	cache     *cacheSpy
	events    *recordingPublisher
	reconcile *recordingPublisher
	svc       *TransactionCommandService
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		ledger:    newFaultyLedger(),
		store:     repository.NewMemoryTransactionStore(),
		cache:     &cacheSpy{},
		events:    &recordingPublisher{},
		reconcile: &recordingPublisher{},
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "txn-test-1" }
	}
	f.svc = NewTransactionCommandService(f.ledger, f.store, f.cache, f.events, f.reconcile, zap.NewNop(), opts)
	return f
}

func transferAtoB(amount string) cqrs.TransferCommand {
	return cqrs.TransferCommand{
		FromAccountID: "A",
		ToAccountID:   "B",
		Amount:        decimal.RequireFromString(amount),
		UserID:        "usr-1",
		Authorization: testAuth,
	}
}

// ---- transfer ----

func TestTransferSuccess(t *testing.T) {
	f := newFixture(t, Options{})

	tx, err := f.svc.Transfer(context.Background(), transferAtoB("50.00"))
	require.NoError(t, err)

	assert.Equal(t, "50.00", f.ledger.balance(t, "A"))
	assert.Equal(t, "70.00", f.ledger.balance(t, "B"))
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.Equal(t, "txn-test-1", tx.CorrelationID)
	assert.Equal(t, "USD", tx.Currency)
	assert.NotZero(t, tx.ID)
	assert.NotNil(t, tx.CompletedAt)
	assert.False(t, tx.ReconciliationRequired)

	assert.Equal(t, []ledgerCall{{op: "debit", accountID: "A"}, {op: "credit", accountID: "B"}}, f.ledger.calls)
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, []string{"txn-test-1"}, f.cache.cached)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, events.TransactionCompleted, f.events.events[0].eventType)
	outcome := f.events.events[0].data.(events.TransactionOutcomeEvent)
	assert.True(t, outcome.Recorded)
	assert.Empty(t, f.reconcile.events)
}

func TestTransferCreditFailureCompensates(t *testing.T) {
	f := newFixture(t, Options{})
	f.ledger.failCredit["B"] = unavailable

	_, err := f.svc.Transfer(context.Background(), transferAtoB("50.00"))
	require.Error(t, err)

	var legErr *LegError
	require.True(t, errors.As(err, &legErr))
	assert.Equal(t, LegCredit, legErr.Leg)
	assert.ErrorIs(t, err, ledger.ErrUnavailable)

	assert.Equal(t, "100.00", f.ledger.balance(t, "A"))
	assert.Equal(t, "20.00", f.ledger.balance(t, "B"))
	assert.Equal(t, 1, f.ledger.callsTo(ledger.OpCredit, "A"), "compensating credit issued exactly once")

	require.NotNil(t, legErr.Transaction)
	assert.Equal(t, models.StatusFailed, legErr.Transaction.Status)
	assert.Equal(t, "LEDGER_UNAVAILABLE", legErr.Transaction.FailureReason)
	assert.False(t, legErr.Transaction.ReconciliationRequired)
	assert.Equal(t, 1, f.store.Len())

	require.Len(t, f.events.events, 1)
	assert.Equal(t, events.TransactionFailed, f.events.events[0].eventType)
	assert.Empty(t, f.reconcile.events)
}

func TestTransferDebitFailureMovesNothing(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		setup      func(*faultyLedger)
		wantErr    error
		wantReason string
	}{
		{
			name:       "insufficient funds",
			amount:     "150.00",
			wantErr:    ledger.ErrInsufficientFunds,
			wantReason: "INSUFFICIENT_FUNDS",
		},
		{
			name:       "inactive source",
			amount:     "10.00",
			setup:      func(l *faultyLedger) { l.inner.SetActive("A", false) },
			wantErr:    ledger.ErrInactive,
			wantReason: "ACCOUNT_INACTIVE",
		},
		{
			name:       "ledger unavailable",
			amount:     "10.00",
			setup:      func(l *faultyLedger) { l.failDebit["A"] = &ledger.Error{Op: ledger.OpDebit, Err: ledger.ErrUnavailable} },
			wantErr:    ledger.ErrUnavailable,
			wantReason: "LEDGER_UNAVAILABLE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			if tt.setup != nil {
				tt.setup(f.ledger)
			}

			_, err := f.svc.Transfer(context.Background(), transferAtoB(tt.amount))
			assert.ErrorIs(t, err, tt.wantErr)

			var legErr *LegError
			require.True(t, errors.As(err, &legErr))
			assert.Equal(t, LegDebit, legErr.Leg)
			assert.Equal(t, tt.wantReason, legErr.Transaction.FailureReason)

			assert.Equal(t, 0, f.ledger.callsTo(ledger.OpCredit, "A"))
			assert.Equal(t, 0, f.ledger.callsTo(ledger.OpCredit, "B"))
			assert.Equal(t, "20.00", f.ledger.balance(t, "B"))
			assert.Equal(t, 1, f.store.Len())
		})
	}
}

func TestTransferCompensationBypassesOpenBreaker(t *testing.T) {
	f := newFixture(t, Options{})
	f.svc = NewTransactionCommandService(
		ledger.NewBreakerClient(f.ledger, ledger.BreakerSettings{ConsecutiveFailures: 1, Cooldown: time.Minute}, zap.NewNop()),
		f.store, f.cache, f.events, f.reconcile, zap.NewNop(),
		Options{NewID: func() string { return "txn-test-1" }, Compensations: f.ledger},
	)
	f.ledger.failCredit["B"] = unavailable

	_, err := f.svc.Transfer(context.Background(), transferAtoB("50.00"))

	var legErr *LegError
	require.True(t, errors.As(err, &legErr), "got %v", err)
	assert.Equal(t, LegCredit, legErr.Leg)
	assert.Equal(t, 1, f.ledger.callsTo(ledger.OpCredit, "A"), "compensating credit reached the ledger")
	assert.Equal(t, "100.00", f.ledger.balance(t, "A"))
	assert.False(t, legErr.Transaction.ReconciliationRequired)
	assert.Empty(t, f.reconcile.events)
}

func TestTransferCompensationFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.ledger.failCredit["B"] = unavailable
	f.ledger.failCredit["A"] = unavailable

	_, err := f.svc.Transfer(context.Background(), transferAtoB("50.00"))

	var compErr *CompensationFailureError
	require.True(t, errors.As(err, &compErr))
	assert.ErrorIs(t, compErr.Cause, ledger.ErrUnavailable)
	assert.ErrorIs(t, compErr.CompensationErr, ledger.ErrUnavailable)
	assert.Equal(t, 1, f.ledger.callsTo(ledger.OpCredit, "A"))

	assert.Equal(t, "50.00", f.ledger.balance(t, "A"), "funds stay debited until reconciled")
	require.NotNil(t, compErr.Transaction)
	assert.Equal(t, models.StatusFailed, compErr.Transaction.Status)
	assert.True(t, compErr.Transaction.ReconciliationRequired)

	require.Len(t, f.reconcile.events, 1)
	req := f.reconcile.events[0]
	assert.Equal(t, events.ReconciliationStream, req.stream)
	assert.Equal(t, events.ReconciliationRequested, req.eventType)
	payload := req.data.(events.ReconciliationRequestedEvent)
	assert.Equal(t, "A", payload.AccountID)
	assert.Equal(t, "txn-test-1", payload.CorrelationID)
	assert.True(t, payload.Amount.Equal(decimal.NewFromInt(50)))
}

func TestTransferValidationMakesNoLedgerCalls(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*cqrs.TransferCommand)
		wantField string
	}{
		{"same account", func(c *cqrs.TransferCommand) { c.ToAccountID = "A" }, "to_account_id"},
		{"zero amount", func(c *cqrs.TransferCommand) { c.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(c *cqrs.TransferCommand) { c.Amount = decimal.NewFromInt(-5) }, "amount"},
		{"sub-cent amount", func(c *cqrs.TransferCommand) { c.Amount = decimal.RequireFromString("1.005") }, "amount"},
		{"missing source", func(c *cqrs.TransferCommand) { c.FromAccountID = " " }, "from_account_id"},
		{"missing destination", func(c *cqrs.TransferCommand) { c.ToAccountID = "" }, "to_account_id"},
		{"missing user", func(c *cqrs.TransferCommand) { c.UserID = "" }, "user_id"},
		{"bad currency", func(c *cqrs.TransferCommand) { c.Currency = "DOLLARS" }, "currency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			cmd := transferAtoB("10.00")
			tt.mutate(&cmd)

			_, err := f.svc.Transfer(context.Background(), cmd)
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.wantField, vErr.Field)
			assert.Empty(t, f.ledger.calls)
			assert.Equal(t, 0, f.store.Len())
			assert.Empty(t, f.events.events)
		})
	}
}

func TestTransferAcceptsTrailingZeros(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Transfer(context.Background(), transferAtoB("10.000"))
	require.NoError(t, err)
	assert.Equal(t, "90.00", f.ledger.balance(t, "A"))
}

func TestTransferIdempotencyKeys(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.svc.Transfer(context.Background(), transferAtoB("10.00"))
		require.NoError(t, err)
		for _, c := range f.ledger.calls {
			assert.Empty(t, c.key)
		}
	})

	t.Run("one key per leg when enabled", func(t *testing.T) {
		f := newFixture(t, Options{IdempotencyKeys: true})
		f.ledger.failCredit["B"] = unavailable

		_, err := f.svc.Transfer(context.Background(), transferAtoB("10.00"))
		require.Error(t, err)
		assert.Equal(t, []ledgerCall{
			{op: "debit", accountID: "A", key: "txn-test-1:debit:A"},
			{op: "credit", accountID: "B", key: "txn-test-1:credit:B"},
			{op: "credit", accountID: "A", key: "txn-test-1:compensate:A"},
		}, f.ledger.calls)
	})
}

func TestTransferSurvivesCallerCancellationAfterDebit(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	f.ledger.afterDebit = cancel

	tx, err := f.svc.Transfer(ctx, transferAtoB("50.00"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.Equal(t, "70.00", f.ledger.balance(t, "B"))
	assert.Equal(t, 1, f.store.Len())
}

func TestTransferRecordFailure(t *testing.T) {
	l := newFaultyLedger()
	pub := &recordingPublisher{}
	svc := NewTransactionCommandService(l, failingStore{err: errors.New("db down")}, nil, pub, nil, zap.NewNop(), Options{})

	_, err := svc.Transfer(context.Background(), transferAtoB("50.00"))

	var recErr *RecordError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, models.StatusCompleted, recErr.Transaction.Status)
	assert.Equal(t, "70.00", l.balance(t, "B"))

	require.Len(t, pub.events, 1)
	outcome := pub.events[0].data.(events.TransactionOutcomeEvent)
	assert.False(t, outcome.Recorded)
}

func TestTransferPublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, Options{})
	f.events.err = errors.New("redis down")

	tx, err := f.svc.Transfer(context.Background(), transferAtoB("50.00"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
}

func TestTransferScenarioTable(t *testing.T) {
	tests := []struct {
		name       string
		failCredit bool
		wantA      string
		wantB      string
		wantStatus models.TransactionStatus
		wantComp   int
	}{
		{"happy path", false, "50.00", "70.00", models.StatusCompleted, 0},
		{"credit leg fails", true, "100.00", "20.00", models.StatusFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			if tt.failCredit {
				f.ledger.failCredit["B"] = unavailable
			}
			_, _ = f.svc.Transfer(context.Background(), transferAtoB("50.00"))

			assert.Equal(t, tt.wantA, f.ledger.balance(t, "A"))
			assert.Equal(t, tt.wantB, f.ledger.balance(t, "B"))
			rows, _ := f.store.ListByUser(context.Background(), "usr-1", 10, 0)
			require.Len(t, rows, 1)
			assert.Equal(t, tt.wantStatus, rows[0].Status)
			assert.Equal(t, tt.wantComp, f.ledger.callsTo(ledger.OpCredit, "A"))
		})
	}
}

// ---- payment ----

func TestPayment(t *testing.T) {
	f := newFixture(t, Options{})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.opts.Now = func() time.Time { return fixed }

	tx, err := f.svc.Payment(context.Background(), cqrs.PaymentCommand{
		AccountID:     "A",
		Amount:        decimal.RequireFromString("30.00"),
		Currency:      "usd",
		Recipient:     "Electric Co",
		Description:   "March bill",
		UserID:        "usr-1",
		Authorization: testAuth,
	})
	require.NoError(t, err)
	assert.Equal(t, "70.00", f.ledger.balance(t, "A"))
	assert.Equal(t, models.KindPayment, tx.Kind)
	assert.Equal(t, "Payment to Electric Co: March bill", tx.Description)
	assert.Equal(t, "USD", tx.Currency)
	assert.Empty(t, tx.ToAccountID)
	assert.Equal(t, fixed, *tx.CompletedAt)
	assert.Equal(t, []ledgerCall{{op: "debit", accountID: "A"}}, f.ledger.calls)
}

func TestPaymentFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.ledger.inner.SetActive("A", false)

	_, err := f.svc.Payment(context.Background(), cqrs.PaymentCommand{
		AccountID: "A", Amount: decimal.NewFromInt(5), Recipient: "Bob", UserID: "usr-1", Authorization: testAuth,
	})
	assert.ErrorIs(t, err, ledger.ErrInactive)

	var legErr *LegError
	require.True(t, errors.As(err, &legErr))
	assert.Equal(t, "Payment to Bob", legErr.Transaction.Description)
	assert.Equal(t, models.StatusFailed, legErr.Transaction.Status)
	assert.Equal(t, 1, f.store.Len())
	assert.Empty(t, f.ledger.calls[1:], "payments never compensate")
}

func TestPaymentValidation(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.Payment(context.Background(), cqrs.PaymentCommand{
		AccountID: "A", Amount: decimal.NewFromInt(5), UserID: "usr-1", Authorization: testAuth,
	})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "recipient", vErr.Field)
	assert.Empty(t, f.ledger.calls)
}
