package bridge

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// StreamReader is the slice of the Redis client the consumer needs.
// *redis.Client satisfies it.
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Emitter delivers a payload to viewers. The hub satisfies it.
type Emitter interface {
	Broadcast(symbol string, payload []byte) error
	BroadcastAll(payload []byte) error
}
