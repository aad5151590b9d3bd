// internal/gateway/redis_streams.go
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"payout-ledger/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamAdder is the part of the redis client the publisher needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

type StreamNames struct {
	Notifications string
	OpsReview     string
	Engagement    string
}

// StreamPublisher appends notifications, ops review items and engagement
// events to Redis Streams. Consumers read them with consumer groups.
type StreamPublisher struct {
	rdb    StreamAdder
	names  StreamNames
	maxLen int64
	logger *zap.Logger
}

func NewStreamPublisher(rdb StreamAdder, names StreamNames, maxLen int64, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, names: names, maxLen: maxLen, logger: logger}
}

func (p *StreamPublisher) Notify(ctx context.Context, n domain.Notification) error {
	return p.add(ctx, p.names.Notifications, "notification", n.UserID.String(), n)
}

func (p *StreamPublisher) EnqueueReview(ctx context.Context, item domain.OpsReviewItem) error {
	return p.add(ctx, p.names.OpsReview, "ops_review", item.ExecutionID, item)
}

func (p *StreamPublisher) Publish(ctx context.Context, event domain.EngagementEvent) error {
	return p.add(ctx, p.names.Engagement, event.Type, event.UserID.String(), event)
}

func (p *StreamPublisher) add(ctx context.Context, stream, kind, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("StreamPublisher: failed to encode %s: %w", kind, err)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"kind":    kind,
			"key":     key,
			"payload": string(body),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("StreamPublisher: failed to append %s to %s: %w", kind, stream, err)
	}
	p.logger.Debug("stream entry appended", zap.String("stream", stream), zap.String("kind", kind), zap.String("entry_id", id))
	return nil
}
