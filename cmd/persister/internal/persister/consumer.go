package persister

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/pkg/metrics"
	"github.com/mya15oct/stock-backend/pkg/models"
)

// Consumer turns the log's at-least-once delivery into exactly-once-effect
// storage writes: batches are applied in log order against idempotent keys,
// and offsets are committed only after the write is durable.
type Consumer struct {
	logger     *zap.Logger
	reg        *metrics.Registry
	reader     KafkaReader
	store      Store
	relay      Relay
	deadLetter DeadLetterSink

	batchSize    int
	batchWait    time.Duration
	writeRetries int

	mu       sync.Mutex
	cutBatch context.CancelFunc
}

func NewConsumer(
	logger *zap.Logger,
	reg *metrics.Registry,
	reader KafkaReader,
	store Store,
	relay Relay,
	deadLetter DeadLetterSink,
	batchSize int,
	batchWait time.Duration,
	writeRetries int,
) *Consumer {
	return &Consumer{
		logger:       logger,
		reg:          reg,
		reader:       reader,
		store:        store,
		relay:        relay,
		deadLetter:   deadLetter,
		batchSize:    batchSize,
		batchWait:    batchWait,
		writeRetries: writeRetries,
	}
}

// Refresh cuts the in-progress batch short so buffered events hit storage
// immediately. Called by the admin refresh trigger.
func (c *Consumer) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cutBatch != nil {
		c.cutBatch()
	}
	return nil
}

// Run reads and applies batches until ctx is cancelled. An in-flight batch
// is finished (stored + committed, or dead-lettered) before returning.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Persister started",
		zap.Int("batch_size", c.batchSize), zap.Duration("batch_wait", c.batchWait))

	for {
		if ctx.Err() != nil {
			return nil
		}

		batch, err := c.readBatch(ctx)
		if len(batch) > 0 {
			// Finish the batch even when ctx was cancelled mid-read.
			c.processBatch(batch)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Kafka Read Error", zap.Error(err))
			time.Sleep(time.Second)
		}
	}
}

// readBatch fetches up to batchSize messages, waiting at most batchWait for
// the batch to fill.
func (c *Consumer) readBatch(ctx context.Context) ([]kafka.Message, error) {
	batchCtx, cancel := context.WithTimeout(ctx, c.batchWait)
	defer cancel()

	c.mu.Lock()
	c.cutBatch = cancel
	c.mu.Unlock()

	var batch []kafka.Message
	for len(batch) < c.batchSize {
		m, err := c.reader.FetchMessage(batchCtx)
		if err != nil {
			// The batch window closing is not an error, just a flush.
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				if ctx.Err() != nil {
					return batch, ctx.Err()
				}
				return batch, nil
			}
			return batch, err
		}
		batch = append(batch, m)
	}
	return batch, nil
}

// processBatch decodes, stores, relays and finally commits one batch.
// Writes use a background context so cancellation never abandons a batch
// between store and commit.
func (c *Consumer) processBatch(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var trades []models.TradeEvent
	var bars []models.BarEvent
	dlOK := true

	for _, m := range batch {
		event, err := models.UnwrapEvent(m.Value)
		if err != nil {
			dlOK = c.sendToDeadLetter(ctx, m, err.Error()) && dlOK
			continue
		}

		// Log order within the batch is preserved: bars for the same key
		// must be applied oldest first or an older revision could win.
		switch ev := event.(type) {
		case models.TradeEvent:
			if err := ev.Validate(); err != nil {
				dlOK = c.sendToDeadLetter(ctx, m, err.Error()) && dlOK
				continue
			}
			trades = append(trades, ev)
		case models.BarEvent:
			if err := ev.Validate(); err != nil {
				dlOK = c.sendToDeadLetter(ctx, m, err.Error()) && dlOK
				continue
			}
			bars = append(bars, ev)
		}
	}

	if !c.writeWithRetry(ctx, trades, bars) {
		// Retry ceiling hit: dead-letter the batch rather than stall the
		// partition forever.
		for _, m := range batch {
			dlOK = c.sendToDeadLetter(ctx, m, "storage write failed after retries") && dlOK
		}
	} else {
		c.reg.Add(metrics.PersistedTrades, int64(len(trades)))
		c.reg.Add(metrics.PersistedBars, int64(len(bars)))
		c.relayBatch(ctx, trades, bars)
	}

	// A record is acknowledged only once it is stored or dead-lettered. If
	// routing to the dead-letter topic failed, the offset stays put and the
	// log redelivers the batch; re-applying is a no-op under the storage keys.
	if !dlOK {
		c.logger.Warn("Dead letter write failed, holding batch for redelivery",
			zap.Int("batch", len(batch)))
		return
	}

	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		// Redelivery after a commit failure is safe: the storage keys make
		// re-applying this batch a no-op.
		c.logger.Error("Kafka Commit Error", zap.Error(err))
	}
}

func (c *Consumer) writeWithRetry(ctx context.Context, trades []models.TradeEvent, bars []models.BarEvent) bool {
	if len(trades) == 0 && len(bars) == 0 {
		return true
	}

	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < c.writeRetries; attempt++ {
		err := c.writeOnce(ctx, trades, bars)
		if err == nil {
			return true
		}

		c.logger.Warn("Storage write failed",
			zap.Error(err), zap.Int("attempt", attempt+1),
			zap.Int("trades", len(trades)), zap.Int("bars", len(bars)))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
		backoff *= 2
	}
	return false
}

func (c *Consumer) writeOnce(ctx context.Context, trades []models.TradeEvent, bars []models.BarEvent) error {
	if len(trades) > 0 {
		if err := c.store.SaveTrades(ctx, trades); err != nil {
			return err
		}
	}
	if len(bars) > 0 {
		if err := c.store.UpsertBars(ctx, bars); err != nil {
			return err
		}
	}
	return nil
}

// relayBatch pushes stored events onto the fan-out streams. Failures cost
// freshness, not correctness, so they are logged and not retried here.
func (c *Consumer) relayBatch(ctx context.Context, trades []models.TradeEvent, bars []models.BarEvent) {
	for _, ev := range trades {
		if err := c.relay.PublishTrade(ctx, ev); err != nil {
			c.logger.Error("Relay Error", zap.Error(err), zap.String("symbol", ev.Symbol))
		} else {
			c.reg.Inc(metrics.RelayedEvents)
		}
	}
	for _, ev := range bars {
		if err := c.relay.PublishBar(ctx, ev); err != nil {
			c.logger.Error("Relay Error", zap.Error(err), zap.String("symbol", ev.Symbol))
		} else {
			c.reg.Inc(metrics.RelayedEvents)
		}
	}
}

// sendToDeadLetter routes one record to the dead-letter topic; false means
// the record is neither stored nor dead-lettered and must not be committed.
func (c *Consumer) sendToDeadLetter(ctx context.Context, m kafka.Message, reason string) bool {
	if err := c.deadLetter.Send(ctx, m, reason); err != nil {
		c.logger.Error("Dead Letter Error", zap.Error(err), zap.String("reason", reason))
		return false
	}
	c.reg.Inc(metrics.DeadLetters)
	return true
}
