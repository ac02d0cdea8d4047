package publisher

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/pkg/metrics"
	"github.com/mya15oct/stock-backend/pkg/models"
)

// KafkaWriter abstracts the output stream
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher decouples the feed read loop from Kafka: events land in a
// bounded buffer and a separate goroutine drains it, so a log outage never
// blocks reads. When the buffer fills, the oldest event is shed first.
type Publisher struct {
	logger      *zap.Logger
	reg         *metrics.Registry
	writer      KafkaWriter
	tradesTopic string
	barsTopic   string
	retries     int

	buf chan kafka.Message
}

func NewPublisher(
	logger *zap.Logger,
	reg *metrics.Registry,
	writer KafkaWriter,
	tradesTopic, barsTopic string,
	bufferSize, retries int,
) *Publisher {
	return &Publisher{
		logger:      logger,
		reg:         reg,
		writer:      writer,
		tradesTopic: tradesTopic,
		barsTopic:   barsTopic,
		retries:     retries,
		buf:         make(chan kafka.Message, bufferSize),
	}
}

func (p *Publisher) EnqueueTrade(ev models.TradeEvent) {
	p.enqueue(p.tradesTopic, ev.Symbol, ev)
}

func (p *Publisher) EnqueueBar(ev models.BarEvent) {
	p.enqueue(p.barsTopic, ev.Symbol, ev)
}

func (p *Publisher) enqueue(topic, symbol string, ev interface{}) {
	value, err := models.WrapEvent(ev)
	if err != nil {
		p.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(symbol), // Key ensures partition ordering per symbol
		Value: value,
	}

	select {
	case p.buf <- msg:
		return
	default:
	}

	// Buffer full: shed the oldest entry to make room. Losing the stalest
	// event keeps memory bounded through a sustained log outage.
	select {
	case <-p.buf:
		p.reg.Inc(metrics.PublishSheds)
	default:
	}

	select {
	case p.buf <- msg:
	default:
		p.reg.Inc(metrics.PublishSheds)
	}
}

// Run drains the buffer until ctx is cancelled, then flushes whatever is
// already buffered before returning.
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("Publisher started", zap.Int("buffer", cap(p.buf)))

	for {
		select {
		case msg := <-p.buf:
			p.write(ctx, msg)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

func (p *Publisher) drain() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case msg := <-p.buf:
			p.write(flushCtx, msg)
		default:
			return
		}
	}
}

// write retries with exponential backoff up to the configured attempt
// count, then drops the message and counts the shed.
func (p *Publisher) write(ctx context.Context, msg kafka.Message) {
	backoff := 100 * time.Millisecond

	for attempt := 0; attempt < p.retries; attempt++ {
		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			p.reg.Inc(metrics.PublishedEvents)
			return
		}
		if ctx.Err() != nil {
			p.reg.Inc(metrics.PublishSheds)
			return
		}

		p.logger.Warn("Kafka Write Error",
			zap.Error(err), zap.Int("attempt", attempt+1), zap.String("key", string(msg.Key)))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			p.reg.Inc(metrics.PublishSheds)
			return
		}
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}

	p.reg.Inc(metrics.PublishSheds)
	p.logger.Error("Giving up on message after retries", zap.String("key", string(msg.Key)))
}
