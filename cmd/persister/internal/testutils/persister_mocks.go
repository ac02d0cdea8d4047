package testutils

import (
	"context"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/mya15oct/stock-backend/pkg/models"
)

// MockKafkaReader feeds scripted messages, then reports an exhausted batch
// window so the consumer flushes.
type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Commits  [][]kafka.Message
	Closed   bool
	Mu       sync.Mutex
}

func (m *MockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()

	if m.Closed {
		m.Mu.Unlock()
		return kafka.Message{}, io.EOF
	}
	if m.Index >= len(m.Messages) {
		m.Mu.Unlock()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}

	msg := m.Messages[m.Index]
	m.Index++
	m.Mu.Unlock()
	return msg, nil
}

func (m *MockKafkaReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Commits = append(m.Commits, msgs)
	return nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockKafkaReader) CommitCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Commits)
}

// MockStore records writes in call order; FailFirst makes the first N
// write calls fail to exercise the retry path.
type MockStore struct {
	Trades    [][]models.TradeEvent
	Bars      [][]models.BarEvent
	FailFirst int
	Err       error
	Mu        sync.Mutex
}

func (m *MockStore) SaveTrades(ctx context.Context, trades []models.TradeEvent) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailFirst > 0 {
		m.FailFirst--
		return m.Err
	}
	m.Trades = append(m.Trades, trades)
	return nil
}

func (m *MockStore) UpsertBars(ctx context.Context, bars []models.BarEvent) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailFirst > 0 {
		m.FailFirst--
		return m.Err
	}
	m.Bars = append(m.Bars, bars)
	return nil
}

// MockRelay records relayed events; Err fails every publish.
type MockRelay struct {
	Trades []models.TradeEvent
	Bars   []models.BarEvent
	Err    error
	Mu     sync.Mutex
}

func (m *MockRelay) PublishTrade(ctx context.Context, ev models.TradeEvent) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Trades = append(m.Trades, ev)
	return nil
}

func (m *MockRelay) PublishBar(ctx context.Context, ev models.BarEvent) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Bars = append(m.Bars, ev)
	return nil
}

// MockDeadLetter records dead-letter attempts; Err fails every Send.
type MockDeadLetter struct {
	Msgs    []kafka.Message
	Reasons []string
	Err     error
	Mu      sync.Mutex
}

func (m *MockDeadLetter) Send(ctx context.Context, msg kafka.Message, reason string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Msgs = append(m.Msgs, msg)
	m.Reasons = append(m.Reasons, reason)
	return m.Err
}

func (m *MockDeadLetter) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Msgs)
}
