package publisher_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/cmd/ingestor/internal/publisher"
	"github.com/mya15oct/stock-backend/cmd/ingestor/internal/testutils"
	"github.com/mya15oct/stock-backend/pkg/metrics"
	"github.com/mya15oct/stock-backend/pkg/models"
)

func trade(symbol string, ts int64) models.TradeEvent {
	return models.TradeEvent{Type: models.TypeTrade, Symbol: symbol, Price: 100, Size: 1, Timestamp: ts}
}

func TestPublisher_RoutesTopicsAndKeys(t *testing.T) {
	writer := &testutils.MockKafkaWriter{}
	reg := metrics.NewRegistry()
	pub := publisher.NewPublisher(zap.NewNop(), reg, writer, "trades", "bars", 16, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); pub.Run(ctx) }()

	pub.EnqueueTrade(trade("AAPL", 1))
	pub.EnqueueBar(models.BarEvent{
		Type: models.TypeBar, Symbol: "MSFT", Timeframe: models.Timeframe1Min,
		Timestamp: 2, Open: 1, High: 2, Low: 1, Close: 2, Volume: 10,
	})

	require.Eventually(t, func() bool { return writer.Count() == 2 }, time.Second, 5*time.Millisecond)

	writer.Mu.Lock()
	defer writer.Mu.Unlock()
	assert.Equal(t, "trades", writer.Messages[0].Topic)
	assert.Equal(t, "AAPL", string(writer.Messages[0].Key))
	assert.Contains(t, string(writer.Messages[0].Value), `"data"`)
	assert.Equal(t, "bars", writer.Messages[1].Topic)
	assert.Equal(t, "MSFT", string(writer.Messages[1].Key))

	cancel()
	<-done
	assert.Equal(t, int64(2), reg.Get(metrics.PublishedEvents))
}

func TestPublisher_ShedsOldestWhenFull(t *testing.T) {
	writer := &testutils.MockKafkaWriter{}
	reg := metrics.NewRegistry()
	// Run is never started: everything stays buffered
	pub := publisher.NewPublisher(zap.NewNop(), reg, writer, "trades", "bars", 2, 3)

	pub.EnqueueTrade(trade("AAPL", 1))
	pub.EnqueueTrade(trade("AAPL", 2))
	pub.EnqueueTrade(trade("AAPL", 3)) // buffer full: drops ts=1

	assert.Equal(t, int64(1), reg.Get(metrics.PublishSheds))

	// Drain now and check the oldest event is the one missing
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); pub.Run(ctx) }()

	require.Eventually(t, func() bool { return writer.Count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	writer.Mu.Lock()
	defer writer.Mu.Unlock()
	assert.Contains(t, string(writer.Messages[0].Value), `"timestamp":2`)
	assert.Contains(t, string(writer.Messages[1].Value), `"timestamp":3`)
}

func TestPublisher_RetriesTransientWriteFailure(t *testing.T) {
	writer := &testutils.MockKafkaWriter{FailFirst: 2, Err: errors.New("broker unavailable")}
	reg := metrics.NewRegistry()
	pub := publisher.NewPublisher(zap.NewNop(), reg, writer, "trades", "bars", 16, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); pub.Run(ctx) }()

	pub.EnqueueTrade(trade("AAPL", 1))

	require.Eventually(t, func() bool { return writer.Count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), reg.Get(metrics.PublishSheds))

	cancel()
	<-done
}
