package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	Cooldown            time.Duration
}

// BreakerClient stops calling the ledger after repeated ErrUnavailable
// outcomes. Business rejections (not found, insufficient funds, ...) mean the
// ledger is healthy and do not count against it.
type BreakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

var _ Client = (*BreakerClient)(nil)

func NewBreakerClient(next Client, settings BreakerSettings, logger *zap.Logger) *BreakerClient {
	if settings.Name == "" {
		settings.Name = "account-ledger"
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	return &BreakerClient{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        settings.Name,
			MaxRequests: 1,
			Timeout:     settings.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, ErrUnavailable)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("ledger circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

func (b *BreakerClient) Debit(ctx context.Context, req MutationRequest) (*Account, error) {
	return b.execute(OpDebit, req.AccountID, func() (*Account, error) { return b.next.Debit(ctx, req) })
}

func (b *BreakerClient) Credit(ctx context.Context, req MutationRequest) (*Account, error) {
	return b.execute(OpCredit, req.AccountID, func() (*Account, error) { return b.next.Credit(ctx, req) })
}

func (b *BreakerClient) Balance(ctx context.Context, accountID, authorization string) (*Account, error) {
	return b.execute(OpBalance, accountID, func() (*Account, error) { return b.next.Balance(ctx, accountID, authorization) })
}

func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) execute(op, accountID string, fn func() (*Account, error)) (*Account, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &Error{Op: op, AccountID: accountID, Err: ErrUnavailable, Message: err.Error()}
		}
		return nil, err
	}
	acc, _ := res.(*Account)
	return acc, nil
}
