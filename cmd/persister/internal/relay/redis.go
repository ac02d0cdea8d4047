package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mya15oct/stock-backend/pkg/models"
)

// StreamClient is the slice of the Redis API the relay needs.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamRelay appends persisted events onto the Redis streams the fan-out
// bridge consumes. Entries carry the symbol as its own field so the bridge
// can route without decoding the payload.
type StreamRelay struct {
	client       StreamClient
	tradesStream string
	barsStream   string
	maxLen       int64
}

func NewStreamRelay(client StreamClient, tradesStream, barsStream string, maxLen int64) *StreamRelay {
	return &StreamRelay{
		client:       client,
		tradesStream: tradesStream,
		barsStream:   barsStream,
		maxLen:       maxLen,
	}
}

func (r *StreamRelay) PublishTrade(ctx context.Context, ev models.TradeEvent) error {
	return r.publish(ctx, r.tradesStream, ev.Symbol, ev)
}

func (r *StreamRelay) PublishBar(ctx context.Context, ev models.BarEvent) error {
	return r.publish(ctx, r.barsStream, ev.Symbol, ev)
}

func (r *StreamRelay) publish(ctx context.Context, stream, symbol string, ev interface{}) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: r.maxLen,
		Approx: true, // cap is a bound, not an exact length
		Values: map[string]interface{}{
			"symbol": symbol,
			"data":   string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}
