package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eaglebank/transaction-service/internal/ledger"
	"github.com/eaglebank/transaction-service/shared/cqrs"
	"github.com/eaglebank/transaction-service/shared/events"
	"github.com/eaglebank/transaction-service/shared/models"
	"github.com/eaglebank/transaction-service/shared/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	LegDebit      = "debit"
	LegCredit     = "credit"
	LegCompensate = "compensate"
)

// TransactionRecorder appends one terminal row per attempt.
type TransactionRecorder interface {
	Append(ctx context.Context, t *models.Transaction) (*models.Transaction, error)
}

// TransactionCache is warmed with freshly recorded rows.
type TransactionCache interface {
	CacheTransaction(ctx context.Context, t *models.Transaction)
}

type Options struct {
	// IdempotencyKeys attaches a per-leg key to every ledger mutation.
	IdempotencyKeys bool
	// Compensations issues compensating credits. It must not sit behind the
	// circuit breaker that gates the forward legs. Defaults to the main client.
	Compensations   ledger.Client
	DefaultCurrency string
	RecordTimeout   time.Duration
	NewID           func() string
	Now             func() time.Time
}

// TransactionCommandService coordinates transfers and payments against the
// account ledger and records the outcome.
type TransactionCommandService struct {
	ledger         ledger.Client
	store          TransactionRecorder
	cache          TransactionCache
	publisher      events.EventPublisher
	reconciliation events.EventPublisher
	logger         *zap.Logger
	opts           Options
}

// NewTransactionCommandService wires the coordinator. cache may be nil.
// reconciliation receives requests for compensations that failed inline.
func NewTransactionCommandService(
	ledgerClient ledger.Client,
	store TransactionRecorder,
	cache TransactionCache,
	publisher events.EventPublisher,
	reconciliation events.EventPublisher,
	logger *zap.Logger,
	opts Options,
) *TransactionCommandService {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	if opts.Compensations == nil {
		opts.Compensations = ledgerClient
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = 5 * time.Second
	}
	if opts.NewID == nil {
		opts.NewID = utils.GenerateCorrelationID
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &TransactionCommandService{
		ledger:         ledgerClient,
		store:          store,
		cache:          cache,
		publisher:      publisher,
		reconciliation: reconciliation,
		logger:         logger,
		opts:           opts,
	}
}

// Transfer debits the source account, credits the destination and, if the
// credit fails, credits the source back.
func (s *TransactionCommandService) Transfer(ctx context.Context, cmd cqrs.TransferCommand) (*models.Transaction, error) {
	cmd.FromAccountID = strings.TrimSpace(cmd.FromAccountID)
	cmd.ToAccountID = strings.TrimSpace(cmd.ToAccountID)
	currency, err := s.validateCommon(cmd.UserID, cmd.Amount, cmd.Currency)
	if err != nil {
		return nil, err
	}
	switch {
	case cmd.FromAccountID == "":
		return nil, &ValidationError{Field: "from_account_id", Message: "is required"}
	case cmd.ToAccountID == "":
		return nil, &ValidationError{Field: "to_account_id", Message: "is required"}
	case cmd.FromAccountID == cmd.ToAccountID:
		return nil, &ValidationError{Field: "to_account_id", Message: "cannot transfer to the same account"}
	}

	correlationID := s.opts.NewID()
	logger := s.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("kind", string(models.KindTransfer)),
		zap.String("user_id", cmd.UserID))

	debit := s.mutation(correlationID, LegDebit, cmd.FromAccountID, cmd.Amount, cmd.Authorization)
	credit := s.mutation(correlationID, LegCredit, cmd.ToAccountID, cmd.Amount, cmd.Authorization)
	restore := s.mutation(correlationID, LegCompensate, cmd.FromAccountID, cmd.Amount, cmd.Authorization)

	result := newSaga(logger,
		Step{
			Name:    LegDebit,
			Reached: StateDebited,
			Action: func(ctx context.Context) error {
				_, err := s.ledger.Debit(ctx, debit)
				return err
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.opts.Compensations.Credit(ctx, restore)
				return err
			},
		},
		Step{
			Name: LegCredit,
			Action: func(ctx context.Context) error {
				_, err := s.ledger.Credit(ctx, credit)
				return err
			},
		},
	).run(ctx)

	return s.finish(ctx, logger, &models.Transaction{
		CorrelationID: correlationID,
		UserID:        cmd.UserID,
		FromAccountID: cmd.FromAccountID,
		ToAccountID:   cmd.ToAccountID,
		Kind:          models.KindTransfer,
		Amount:        cmd.Amount,
		Currency:      currency,
		Description:   strings.TrimSpace(cmd.Description),
	}, result)
}

// Payment debits a single account towards an external recipient.
func (s *TransactionCommandService) Payment(ctx context.Context, cmd cqrs.PaymentCommand) (*models.Transaction, error) {
	cmd.AccountID = strings.TrimSpace(cmd.AccountID)
	cmd.Recipient = strings.TrimSpace(cmd.Recipient)
	currency, err := s.validateCommon(cmd.UserID, cmd.Amount, cmd.Currency)
	if err != nil {
		return nil, err
	}
	switch {
	case cmd.AccountID == "":
		return nil, &ValidationError{Field: "account_id", Message: "is required"}
	case cmd.Recipient == "":
		return nil, &ValidationError{Field: "recipient", Message: "is required"}
	}

	correlationID := s.opts.NewID()
	logger := s.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("kind", string(models.KindPayment)),
		zap.String("user_id", cmd.UserID))

	debit := s.mutation(correlationID, LegDebit, cmd.AccountID, cmd.Amount, cmd.Authorization)
	result := newSaga(logger, Step{
		Name:    LegDebit,
		Reached: StateDebited,
		Action: func(ctx context.Context) error {
			_, err := s.ledger.Debit(ctx, debit)
			return err
		},
	}).run(ctx)

	return s.finish(ctx, logger, &models.Transaction{
		CorrelationID: correlationID,
		UserID:        cmd.UserID,
		FromAccountID: cmd.AccountID,
		Kind:          models.KindPayment,
		Amount:        cmd.Amount,
		Currency:      currency,
		Description:   paymentDescription(cmd.Recipient, cmd.Description),
	}, result)
}

func (s *TransactionCommandService) validateCommon(userID string, amount decimal.Decimal, currency string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", &ValidationError{Field: "user_id", Message: "is required"}
	}
	if !amount.IsPositive() {
		return "", &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if !amount.Equal(amount.Round(2)) {
		return "", &ValidationError{Field: "amount", Message: "must have at most 2 decimal places"}
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	if len(currency) != 3 {
		return "", &ValidationError{Field: "currency", Message: "must be a 3-letter code"}
	}
	return currency, nil
}

func (s *TransactionCommandService) mutation(correlationID, leg, accountID string, amount decimal.Decimal, authorization string) ledger.MutationRequest {
	req := ledger.MutationRequest{
		AccountID:     accountID,
		Amount:        amount,
		Authorization: authorization,
	}
	if s.opts.IdempotencyKeys {
		req.IdempotencyKey = utils.IdempotencyKey(correlationID, leg, accountID)
	}
	return req
}

// finish records the terminal row, publishes the outcome and maps the saga
// result to the caller-facing error.
func (s *TransactionCommandService) finish(ctx context.Context, logger *zap.Logger, t *models.Transaction, result SagaResult) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RecordTimeout)
	defer cancel()

	completedAt := s.opts.Now()
	t.CompletedAt = &completedAt
	if result.State == StateCompleted {
		t.Status = models.StatusCompleted
	} else {
		t.Status = models.StatusFailed
		t.FailureReason = ledger.Reason(result.Err)
		t.ReconciliationRequired = result.CompensationErr != nil
	}

	record := t
	saved, recErr := s.store.Append(ctx, t)
	if recErr != nil {
		logger.Error("failed to record transaction outcome",
			zap.String("status", string(t.Status)),
			zap.String("amount", t.Amount.StringFixed(2)),
			zap.Error(recErr))
	} else {
		record = saved
		if s.cache != nil {
			s.cache.CacheTransaction(ctx, saved)
		}
	}
	s.publishOutcome(ctx, logger, record, recErr == nil)

	switch {
	case result.CompensationErr != nil:
		logger.Error("compensation failed, funds debited and not restored",
			zap.String("account_id", t.FromAccountID),
			zap.String("amount", t.Amount.StringFixed(2)),
			zap.String("failed_step", result.FailedStep),
			zap.NamedError("cause", result.Err),
			zap.NamedError("compensation_error", result.CompensationErr))
		s.requestReconciliation(ctx, logger, record, result)
		return nil, &CompensationFailureError{Cause: result.Err, CompensationErr: result.CompensationErr, Transaction: record}
	case result.Err != nil:
		logger.Warn("transaction failed",
			zap.String("failed_step", result.FailedStep),
			zap.Int("compensations", result.Compensations),
			zap.Error(result.Err))
		return nil, &LegError{Leg: result.FailedStep, Err: result.Err, Transaction: record}
	case recErr != nil:
		return nil, &RecordError{CorrelationID: t.CorrelationID, Err: recErr, Transaction: record}
	}

	logger.Info("transaction completed", zap.String("amount", t.Amount.StringFixed(2)))
	return record, nil
}

func (s *TransactionCommandService) publishOutcome(ctx context.Context, logger *zap.Logger, t *models.Transaction, recorded bool) {
	eventType := events.TransactionCompleted
	if t.Status == models.StatusFailed {
		eventType = events.TransactionFailed
	}
	err := s.publisher.Publish(ctx, events.TransactionEventsStream, eventType, events.TransactionOutcomeEvent{
		CorrelationID:          t.CorrelationID,
		UserID:                 t.UserID,
		Kind:                   string(t.Kind),
		FromAccountID:          t.FromAccountID,
		ToAccountID:            t.ToAccountID,
		Amount:                 t.Amount,
		Currency:               t.Currency,
		Status:                 string(t.Status),
		FailureReason:          t.FailureReason,
		ReconciliationRequired: t.ReconciliationRequired,
		Recorded:               recorded,
	})
	if err != nil {
		logger.Warn("failed to publish transaction outcome", zap.String("type", eventType), zap.Error(err))
	}
}

func (s *TransactionCommandService) requestReconciliation(ctx context.Context, logger *zap.Logger, t *models.Transaction, result SagaResult) {
	if s.reconciliation == nil {
		logger.Error("no reconciliation queue configured; manual reconciliation required")
		return
	}
	err := s.reconciliation.Publish(ctx, events.ReconciliationStream, events.ReconciliationRequested, events.ReconciliationRequestedEvent{
		CorrelationID: t.CorrelationID,
		UserID:        t.UserID,
		AccountID:     t.FromAccountID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Reason:        fmt.Sprintf("%s failed: %v; compensation failed: %v", result.FailedStep, result.Err, result.CompensationErr),
	})
	if err != nil {
		logger.Error("failed to queue reconciliation request; manual reconciliation required", zap.Error(err))
		return
	}
	logger.Info("reconciliation requested", zap.String("account_id", t.FromAccountID))
}

func paymentDescription(recipient, description string) string {
	description = strings.TrimSpace(description)
	if description == "" {
		return "Payment to " + recipient
	}
	return fmt.Sprintf("Payment to %s: %s", recipient, description)
}
