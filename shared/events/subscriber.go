package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, event Event) error

// errMalformed marks messages that can never be decoded; they are acknowledged
// instead of being reclaimed forever.
var errMalformed = errors.New("malformed message")

type Subscriber struct {
	client        *redis.Client
	group         string
	consumer      string
	stream        string
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
	minIdle       time.Duration
	reclaimEvery  time.Duration
	logger        *zap.Logger
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Stream        string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration

	// MinIdle is how long a message must sit unacknowledged before it is
	// reclaimed and handed to the handler again.
	MinIdle         time.Duration
	// ReclaimInterval is how often pending messages are reclaimed.
	ReclaimInterval time.Duration
	Logger          *zap.Logger
}

func NewSubscriber(client *redis.Client, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.MinIdle == 0 {
		config.MinIdle = 30 * time.Second
	}
	if config.ReclaimInterval == 0 {
		config.ReclaimInterval = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Subscriber{
		client:        client,
		group:         config.Group,
		consumer:      config.Consumer,
		stream:        config.Stream,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		minIdle:       config.MinIdle,
		reclaimEvery:  config.ReclaimInterval,
		logger: config.Logger.With(
			zap.String("stream", config.Stream),
			zap.String("group", config.Group),
			zap.String("consumer", config.Consumer),
		),
	}
}

// Start consumes the stream until ctx is cancelled. Messages left pending by a
// previous run of this consumer are replayed first, and messages whose handler
// failed are reclaimed periodically.
func (s *Subscriber) Start(ctx context.Context) error {
	// Create consumer group if it doesn't exist
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	s.logger.Info("subscriber started")

	if err := s.replayPending(ctx); err != nil {
		s.logger.Warn("failed to replay pending messages", zap.Error(err))
	}

	lastReclaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("subscriber stopping")
			return ctx.Err()
		default:
			if time.Since(lastReclaim) >= s.reclaimEvery {
				if err := s.reclaim(ctx); err != nil && ctx.Err() == nil {
					s.logger.Warn("failed to reclaim pending messages", zap.Error(err))
				}
				lastReclaim = time.Now()
			}
			if err := s.readMessages(ctx, ">"); err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.logger.Error("error reading messages", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}
}

func (s *Subscriber) readMessages(ctx context.Context, id string) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, id},
		Count:    s.batchSize,
		Block:    s.blockDuration,
	}).Result()

	if err == redis.Nil {
		return nil // No messages
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		s.handleMessages(ctx, stream.Messages)
	}

	return nil
}

// replayPending walks this consumer's pending entries batch by batch.
func (s *Subscriber) replayPending(ctx context.Context) error {
	cursor := "0"
	for ctx.Err() == nil {
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, cursor},
			Count:    s.batchSize,
		}).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read pending messages: %w", err)
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			return nil
		}
		messages := streams[0].Messages
		s.handleMessages(ctx, messages)
		cursor = messages[len(messages)-1].ID
	}
	return ctx.Err()
}

// reclaim takes over messages idle for longer than minIdle, including those
// of consumers that went away, and hands them to the handler again.
func (s *Subscriber) reclaim(ctx context.Context) error {
	start := "0-0"
	for ctx.Err() == nil {
		messages, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  s.minIdle,
			Start:    start,
			Count:    s.batchSize,
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to reclaim messages: %w", err)
		}
		if len(messages) > 0 {
			s.logger.Info("reclaimed pending messages", zap.Int("count", len(messages)))
			s.handleMessages(ctx, messages)
		}
		if next == "0-0" || next == "" {
			return nil
		}
		start = next
	}
	return ctx.Err()
}

func (s *Subscriber) handleMessages(ctx context.Context, messages []redis.XMessage) {
	for _, message := range messages {
		if err := s.processMessage(ctx, message); err != nil {
			s.logger.Error("failed to process message", zap.String("message_id", message.ID), zap.Error(err))
			if !errors.Is(err, errMalformed) {
				// left pending for reclaim
				continue
			}
		}

		if err := s.client.XAck(ctx, s.stream, s.group, message.ID).Err(); err != nil {
			s.logger.Warn("failed to ack message", zap.String("message_id", message.ID), zap.Error(err))
		}
	}
}

func (s *Subscriber) processMessage(ctx context.Context, message redis.XMessage) error {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return fmt.Errorf("%w: missing event field", errMalformed)
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	return s.handler(ctx, event)
}
