package feed_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/cmd/ingestor/internal/feed"
	"github.com/mya15oct/stock-backend/cmd/ingestor/internal/testutils"
	"github.com/mya15oct/stock-backend/pkg/metrics"
)

var symbols = []string{"AAPL", "MSFT"}

func newClient(dialer *testutils.MockDialer, sink *testutils.MockSink, reg *metrics.Registry) *feed.Client {
	return feed.NewClient(
		zap.NewNop(), reg, dialer, sink,
		&testutils.MockClock{CurrentTime: time.Unix(0, 0)},
		&testutils.MockRand{ValFloat: 0.5},
		"wss://feed.test/v2", "key", "secret",
		symbols, 5*time.Second,
	)
}

func sessionScript(extra ...string) [][]byte {
	msgs := [][]byte{
		[]byte(`[{"T":"success","msg":"connected"}]`),
		[]byte(`[{"T":"success","msg":"authenticated"}]`),
		[]byte(`[{"T":"subscription","trades":["AAPL","MSFT"]}]`),
	}
	for _, m := range extra {
		msgs = append(msgs, []byte(m))
	}
	return msgs
}

func TestClient_SubscribesAfterAuth(t *testing.T) {
	conn := testutils.NewMockFeedConn(sessionScript(
		`[{"T":"t","S":"AAPL","p":150.25,"s":100,"t":1234567890000000000}]`,
	)...)
	dialer := &testutils.MockDialer{Conns: []*testutils.MockFeedConn{conn}}
	sink := &testutils.MockSink{}
	reg := metrics.NewRegistry()

	client := newClient(dialer, sink, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.TradeCount() == 1 }, time.Second, 5*time.Millisecond)

	sink.Mu.Lock()
	trade := sink.Trades[0]
	sink.Mu.Unlock()
	assert.Equal(t, "AAPL", trade.Symbol)
	assert.Equal(t, int64(1234567890000000000), trade.Timestamp)

	// auth then subscribe, with the full symbol set
	conn.Mu.Lock()
	require.Len(t, conn.Written, 2)
	sub := conn.Written[1]
	conn.Mu.Unlock()

	payload, _ := json.Marshal(sub)
	assert.Contains(t, string(payload), `"subscribe"`)
	assert.Contains(t, string(payload), `"AAPL"`)
	assert.Contains(t, string(payload), `"MSFT"`)

	cancel()
	require.NoError(t, <-done)
}

func TestClient_ReconnectResubscribesFullSet(t *testing.T) {
	first := testutils.NewMockFeedConn(sessionScript()...)
	first.Close() // session ends after the script drains
	second := testutils.NewMockFeedConn(sessionScript()...)

	dialer := &testutils.MockDialer{Conns: []*testutils.MockFeedConn{first, second}}
	sink := &testutils.MockSink{}
	reg := metrics.NewRegistry()

	client := newClient(dialer, sink, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool { return second.WrittenCount() == 2 }, time.Second, 5*time.Millisecond)

	second.Mu.Lock()
	payload, _ := json.Marshal(second.Written[1])
	second.Mu.Unlock()
	assert.Contains(t, string(payload), `"AAPL"`)
	assert.Contains(t, string(payload), `"MSFT"`)

	require.Eventually(t, func() bool { return client.State() == feed.StateSubscribed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), reg.Get(metrics.FeedReconnects))

	cancel()
	require.NoError(t, <-done)
}

func TestClient_AuthRejectionIsFatal(t *testing.T) {
	conn := testutils.NewMockFeedConn(
		[]byte(`[{"T":"success","msg":"connected"}]`),
		[]byte(`[{"T":"error","code":402,"msg":"auth failed"}]`),
	)
	dialer := &testutils.MockDialer{Conns: []*testutils.MockFeedConn{conn}}
	client := newClient(dialer, &testutils.MockSink{}, metrics.NewRegistry())

	err := client.Run(context.Background())
	assert.True(t, errors.Is(err, feed.ErrAuthRejected))
}

func TestClient_MalformedMessagesAreDroppedNotFatal(t *testing.T) {
	conn := testutils.NewMockFeedConn(sessionScript(
		`{not json`,
		`[{"T":"t","S":"aapl!","p":1,"s":1,"t":1}]`,
		`[{"T":"t","S":"AAPL","p":150.25,"s":100,"t":1234567890000000000}]`,
	)...)
	dialer := &testutils.MockDialer{Conns: []*testutils.MockFeedConn{conn}}
	sink := &testutils.MockSink{}
	reg := metrics.NewRegistry()

	client := newClient(dialer, sink, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.TradeCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), reg.Get(metrics.FeedDecodeDrops))

	cancel()
	require.NoError(t, <-done)
}
