package testutils

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mya15oct/stock-backend/cmd/ingestor/internal/feed"
	"github.com/mya15oct/stock-backend/pkg/models"
)

// MockFeedConn plays back a scripted sequence of upstream messages and
// records everything the client writes.
type MockFeedConn struct {
	Inbound chan []byte
	Written []interface{}
	Mu      sync.Mutex
	closed  bool
}

func NewMockFeedConn(messages ...[]byte) *MockFeedConn {
	c := &MockFeedConn{Inbound: make(chan []byte, 64)}
	for _, m := range messages {
		c.Inbound <- m
	}
	return c
}

func (c *MockFeedConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.Inbound
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, msg, nil
}

func (c *MockFeedConn) WriteJSON(v interface{}) error {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.Written = append(c.Written, v)
	return nil
}

func (c *MockFeedConn) Close() error {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Inbound)
	}
	return nil
}

func (c *MockFeedConn) WrittenCount() int {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return len(c.Written)
}

// MockDialer hands out scripted connections in order; once exhausted it
// blocks until the context dies.
type MockDialer struct {
	Conns []*MockFeedConn
	Calls int
	Mu    sync.Mutex
}

func (d *MockDialer) DialContext(ctx context.Context, url string) (feed.FeedConn, error) {
	d.Mu.Lock()

	if d.Calls >= len(d.Conns) {
		d.Mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	conn := d.Conns[d.Calls]
	d.Calls++
	d.Mu.Unlock()
	return conn, nil
}

// MockSink records normalized events.
type MockSink struct {
	Trades []models.TradeEvent
	Bars   []models.BarEvent
	Mu     sync.Mutex
}

func (s *MockSink) EnqueueTrade(ev models.TradeEvent) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.Trades = append(s.Trades, ev)
}

func (s *MockSink) EnqueueBar(ev models.BarEvent) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.Bars = append(s.Bars, ev)
}

func (s *MockSink) TradeCount() int {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return len(s.Trades)
}

// MockClock advances instantly so backoff doesn't slow tests down.
type MockClock struct {
	CurrentTime time.Time
	Slept       []time.Duration
	Mu          sync.Mutex
}

func (c *MockClock) Now() time.Time {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.CurrentTime
}

func (c *MockClock) Sleep(d time.Duration) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.Slept = append(c.Slept, d)
	c.CurrentTime = c.CurrentTime.Add(d)
}

type MockRand struct{ ValFloat float64 }

func (r *MockRand) Float64() float64 { return r.ValFloat }

// MockKafkaWriter records written messages; FailFirst makes the first N
// writes error to exercise the retry path.
type MockKafkaWriter struct {
	Messages  []kafka.Message
	FailFirst int
	Err       error
	Mu        sync.Mutex
}

func (w *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.Mu.Lock()
	defer w.Mu.Unlock()

	if w.FailFirst > 0 {
		w.FailFirst--
		return w.Err
	}
	w.Messages = append(w.Messages, msgs...)
	return nil
}

func (w *MockKafkaWriter) Close() error { return nil }

func (w *MockKafkaWriter) Count() int {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	return len(w.Messages)
}
