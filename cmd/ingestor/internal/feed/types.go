package feed

import (
	"context"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mya15oct/stock-backend/pkg/models"
)

// FeedConn is the subset of the websocket connection the client uses.
type FeedConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// FeedDialer abstracts connection establishment for tests.
type FeedDialer interface {
	DialContext(ctx context.Context, url string) (FeedConn, error)
}

// EventSink receives normalized events; the publisher implements it.
type EventSink interface {
	EnqueueTrade(ev models.TradeEvent)
	EnqueueBar(ev models.BarEvent)
}

// for deterministic testing
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type Rand interface {
	Float64() float64
}

type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

type RealRand struct{ *rand.Rand }

func (r RealRand) Float64() float64 { return r.Rand.Float64() }

// GorillaDialer adapts *websocket.Dialer to FeedDialer.
type GorillaDialer struct{ Dialer *websocket.Dialer }

func (d *GorillaDialer) DialContext(ctx context.Context, url string) (FeedConn, error) {
	conn, _, err := d.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
