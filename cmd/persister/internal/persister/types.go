package persister

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/mya15oct/stock-backend/pkg/models"
)

// KafkaReader abstracts the input stream. FetchMessage does not advance the
// group offset; CommitMessages does, and is only called once a batch is
// durably stored (or dead-lettered).
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Store is the relational sink. Both writes are idempotent under the
// storage uniqueness keys, so redelivered batches are safe to re-apply.
type Store interface {
	SaveTrades(ctx context.Context, trades []models.TradeEvent) error
	UpsertBars(ctx context.Context, bars []models.BarEvent) error
}

// Relay republishes persisted events onto the streams the fan-out bridge
// drains.
type Relay interface {
	PublishTrade(ctx context.Context, ev models.TradeEvent) error
	PublishBar(ctx context.Context, ev models.BarEvent) error
}

// DeadLetterSink receives permanently failed records so a poison message
// never blocks its partition.
type DeadLetterSink interface {
	Send(ctx context.Context, msg kafka.Message, reason string) error
}
