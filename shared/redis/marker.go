package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ProcessedMarker records ids that a consumer has already applied, guarding
// against duplicate delivery under at-least-once Redis Streams semantics.
type ProcessedMarker struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

func NewProcessedMarker(client *goredis.Client, prefix string, ttl time.Duration) *ProcessedMarker {
	return &ProcessedMarker{client: client, prefix: prefix, ttl: ttl}
}

// IsProcessed returns true if id has already been marked.
func (m *ProcessedMarker) IsProcessed(ctx context.Context, id string) (bool, error) {
	n, err := m.client.Exists(ctx, m.prefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed records id. The key expires after the marker's TTL, which must
// cover any realistic redelivery window from a consumer group.
func (m *ProcessedMarker) MarkProcessed(ctx context.Context, id string) error {
	return m.client.Set(ctx, m.prefix+id, "1", m.ttl).Err()
}
