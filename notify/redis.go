package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/muellerberndt/legion-core/telemetry"
)

// maxRedisMessageSize bounds a single queued message. A message larger
// than this is split into sequentially-numbered parts rather than
// truncated, since the interface guarantees the core hands a whole
// message to the sender and the sender owns how it actually gets
// delivered (spec §4.10).
const maxRedisMessageSize = 4000

// RedisQueue is a Notifier that pushes messages onto a Redis list, for
// deployments where a separate worker drains the queue toward a chat
// transport (Slack, Discord, Telegram) rather than the core reaching out
// to that transport directly — the transport adapter itself is a Non-goal
// of this module (spec §1).
type RedisQueue struct {
	client *redis.Client
	key    string
	logger telemetry.Logger
}

// NewRedisQueue constructs a RedisQueue pushing onto the given list key.
func NewRedisQueue(client *redis.Client, key string, logger telemetry.Logger) *RedisQueue {
	return &RedisQueue{client: client, key: key, logger: logger}
}

// SendMessage pushes message onto the queue, splitting it into
// maxRedisMessageSize-byte, sequentially-numbered parts when it exceeds
// that limit.
func (q *RedisQueue) SendMessage(message string) error {
	ctx := context.Background()
	parts := splitMessage(message, maxRedisMessageSize)
	for i, part := range parts {
		payload := part
		if len(parts) > 1 {
			payload = fmt.Sprintf("[%d/%d] %s", i+1, len(parts), part)
		}
		if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
			return fmt.Errorf("notify: failed to push message to redis: %w", err)
		}
	}
	q.logger.Debug("notify: message queued", telemetry.F("parts", len(parts)))
	return nil
}

// splitMessage breaks s into chunks of at most limit bytes, splitting on
// rune boundaries so a multi-byte character is never cut in half. A
// message within the limit is returned as a single-element slice.
func splitMessage(s string, limit int) []string {
	if len(s) <= limit {
		return []string{s}
	}

	var chunks []string
	runes := []rune(s)
	var current []rune
	size := 0
	for _, r := range runes {
		rlen := len(string(r))
		if size+rlen > limit && len(current) > 0 {
			chunks = append(chunks, string(current))
			current = nil
			size = 0
		}
		current = append(current, r)
		size += rlen
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}
