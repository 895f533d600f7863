package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the log instead of a broker. Used in mock mode.
type LogPublisher struct {
	logger *zap.Logger
}

var _ EventPublisher = (*LogPublisher)(nil)

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, stream, eventType string, data any) error {
	p.logger.Info("event published",
		zap.String("stream", stream),
		zap.String("type", eventType),
		zap.Any("data", data))
	return nil
}
