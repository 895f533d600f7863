package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryingClient retries ErrUnavailable outcomes, but only for mutations that
// carry an idempotency key; an unkeyed retry could apply a leg twice.
type RetryingClient struct {
	next            Client
	maxAttempts     int
	initialInterval time.Duration
	logger          *zap.Logger
}

var _ Client = (*RetryingClient)(nil)

func NewRetryingClient(next Client, maxAttempts int, initialInterval time.Duration, logger *zap.Logger) *RetryingClient {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initialInterval <= 0 {
		initialInterval = 100 * time.Millisecond
	}
	return &RetryingClient{next: next, maxAttempts: maxAttempts, initialInterval: initialInterval, logger: logger}
}

func (r *RetryingClient) Debit(ctx context.Context, req MutationRequest) (*Account, error) {
	if req.IdempotencyKey == "" {
		return r.next.Debit(ctx, req)
	}
	return r.retry(ctx, OpDebit, req.AccountID, func() (*Account, error) { return r.next.Debit(ctx, req) })
}

func (r *RetryingClient) Credit(ctx context.Context, req MutationRequest) (*Account, error) {
	if req.IdempotencyKey == "" {
		return r.next.Credit(ctx, req)
	}
	return r.retry(ctx, OpCredit, req.AccountID, func() (*Account, error) { return r.next.Credit(ctx, req) })
}

// Balance is a read and is always safe to retry.
func (r *RetryingClient) Balance(ctx context.Context, accountID, authorization string) (*Account, error) {
	return r.retry(ctx, OpBalance, accountID, func() (*Account, error) { return r.next.Balance(ctx, accountID, authorization) })
}

func (r *RetryingClient) retry(ctx context.Context, op, accountID string, fn func() (*Account, error)) (*Account, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxAttempts-1)), ctx)

	var acc *Account
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		var err error
		acc, err = fn()
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		r.logger.Warn("retrying ledger call",
			zap.String("op", op),
			zap.String("account_id", accountID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		var lerr *Error
		if !errors.As(err, &lerr) {
			// backoff reports the context error once the caller gives up
			return nil, &Error{Op: op, AccountID: accountID, Err: ErrUnavailable, Message: err.Error()}
		}
		return nil, err
	}
	return acc, nil
}
