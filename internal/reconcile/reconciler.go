// Package reconcile restores funds for transfers whose inline compensation
// failed. Requests arrive on a Redis stream. With idempotency keys the credit is
// retried with backoff until it lands or attempts run out; without them it is
// tried once. Anything left over is dead-lettered for an operator.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eaglebank/transaction-service/internal/command"
	"github.com/eaglebank/transaction-service/internal/ledger"
	"github.com/eaglebank/transaction-service/shared/events"
	"github.com/eaglebank/transaction-service/shared/utils"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const consumerGroup = "transaction-reconciler"

// ProcessedStore remembers correlation ids that have been reconciled.
type ProcessedStore interface {
	IsProcessed(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id string) error
}

type Config struct {
	ServiceToken    string
	// IdempotencyKeys reports whether the ledger deduplicates keyed credits.
	// Without it a restore is attempted once, since a timed-out credit may
	// already have been applied.
	IdempotencyKeys bool
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Reconciler struct {
	ledger    ledger.Client
	publisher events.EventPublisher
	processed ProcessedStore
	cfg       Config
	logger    *zap.Logger
}

func NewReconciler(ledgerClient ledger.Client, publisher events.EventPublisher, processed ProcessedStore, cfg Config, logger *zap.Logger) *Reconciler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if !cfg.IdempotencyKeys {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	return &Reconciler{
		ledger:    ledgerClient,
		publisher: publisher,
		processed: processed,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "reconciler")),
	}
}

// Run consumes reconciliation requests until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, client *redis.Client, consumer string) error {
	sub := events.NewSubscriber(client, events.SubscriberConfig{
		Group:    consumerGroup,
		Consumer: consumer,
		Stream:   events.ReconciliationStream,
		Handler:  r.HandleEvent,
		MinIdle:  2 * time.Minute,
		Logger:   r.logger,
	})
	return sub.Start(ctx)
}

// HandleEvent processes one message. A nil return acknowledges it.
func (r *Reconciler) HandleEvent(ctx context.Context, e events.Event) error {
	if e.Type != events.ReconciliationRequested {
		return nil
	}
	var req events.ReconciliationRequestedEvent
	if err := events.Decode(e, &req); err != nil {
		r.logger.Error("discarding malformed reconciliation request", zap.Error(err))
		return nil
	}
	logger := r.logger.With(
		zap.String("correlation_id", req.CorrelationID),
		zap.String("account_id", req.AccountID),
		zap.String("amount", req.Amount.StringFixed(2)))

	done, err := r.processed.IsProcessed(ctx, req.CorrelationID)
	if err != nil {
		return fmt.Errorf("failed to check processed marker: %w", err)
	}
	if done {
		logger.Info("reconciliation already applied, skipping")
		return nil
	}

	attempts, creditErr := r.restore(ctx, logger, req)
	result := events.ReconciliationResultEvent{
		CorrelationID: req.CorrelationID,
		AccountID:     req.AccountID,
		Amount:        req.Amount,
		Attempts:      attempts,
	}

	if creditErr != nil {
		if ctx.Err() != nil {
			// shutting down; leave the message pending for the next run
			return ctx.Err()
		}
		result.Error = creditErr.Error()
		result.ObservedBalance = r.observeBalance(ctx, logger, req.AccountID)
		if err := r.publisher.Publish(ctx, events.ReconciliationDLQStream, events.ReconciliationDeadLettered, result); err != nil {
			return fmt.Errorf("failed to dead-letter reconciliation %s: %w", req.CorrelationID, err)
		}
		logger.Error("reconciliation exhausted, dead-lettered for manual review",
			zap.Int("attempts", attempts),
			zap.Error(creditErr))
	} else {
		if err := r.publisher.Publish(ctx, events.TransactionEventsStream, events.ReconciliationSucceeded, result); err != nil {
			logger.Warn("failed to publish reconciliation result", zap.Error(err))
		}
		logger.Info("funds restored", zap.Int("attempts", attempts))
	}

	if err := r.processed.MarkProcessed(ctx, req.CorrelationID); err != nil {
		logger.Warn("failed to mark reconciliation processed", zap.Error(err))
	}
	return nil
}

// restore credits the source account back. Only ErrUnavailable is retried,
// and only for keyed credits; any other ledger answer is final.
func (r *Reconciler) restore(ctx context.Context, logger *zap.Logger, req events.ReconciliationRequestedEvent) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)

	mutation := ledger.MutationRequest{
		AccountID:     req.AccountID,
		Amount:        req.Amount,
		Authorization: r.authorization(),
	}
	if r.cfg.IdempotencyKeys {
		mutation.IdempotencyKey = utils.IdempotencyKey(req.CorrelationID, command.LegCompensate, req.AccountID)
	}

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		_, err := r.ledger.Credit(ctx, mutation)
		if err != nil && !errors.Is(err, ledger.ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		logger.Warn("reconciliation credit failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	return attempts, err
}

func (r *Reconciler) authorization() string {
	return "Bearer " + r.cfg.ServiceToken
}

// observeBalance reads the account after a failed restore. Errors only log.
func (r *Reconciler) observeBalance(ctx context.Context, logger *zap.Logger, accountID string) *decimal.Decimal {
	acc, err := r.ledger.Balance(ctx, accountID, r.authorization())
	if err != nil {
		logger.Warn("failed to read balance after failed restore", zap.Error(err))
		return nil
	}
	logger.Info("balance after failed restore", zap.String("balance", acc.Balance.StringFixed(2)))
	return &acc.Balance
}
