package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/pkg/metrics"
)

// ErrAuthRejected is fatal: the upstream refused the credentials and
// retrying would only risk a lockout.
var ErrAuthRejected = errors.New("feed credentials rejected")

// Connection lifecycle states.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateReconnecting
)

const (
	initialBackoff = 500 * time.Millisecond
)

type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type subscribeRequest struct {
	Action string   `json:"action"`
	Trades []string `json:"trades"`
	Bars   []string `json:"bars"`
}

// Client owns the single upstream connection: handshake, the full symbol
// set, and republication of every well-formed frame into the sink.
type Client struct {
	logger  *zap.Logger
	reg     *metrics.Registry
	dialer  FeedDialer
	sink    EventSink
	clock   Clock
	rand    Rand
	url     string
	key     string
	secret  string
	symbols []string

	maxBackoff time.Duration
	state      atomic.Int32
}

func NewClient(
	logger *zap.Logger,
	reg *metrics.Registry,
	dialer FeedDialer,
	sink EventSink,
	clock Clock,
	rnd Rand,
	url, key, secret string,
	symbols []string,
	maxBackoff time.Duration,
) *Client {
	return &Client{
		logger:     logger,
		reg:        reg,
		dialer:     dialer,
		sink:       sink,
		clock:      clock,
		rand:       rnd,
		url:        url,
		key:        key,
		secret:     secret,
		symbols:    symbols,
		maxBackoff: maxBackoff,
	}
}

func (c *Client) State() State {
	return State(c.state.Load())
}

// Run drives the reconnect state machine until ctx is cancelled or the
// credentials are rejected. Every other failure reconnects with jittered
// exponential backoff, re-subscribing the full symbol set each time.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			c.state.Store(int32(StateDisconnected))
			return nil
		}

		err := c.session(ctx)
		switch {
		case errors.Is(err, ErrAuthRejected):
			c.state.Store(int32(StateDisconnected))
			return err
		case ctx.Err() != nil:
			c.state.Store(int32(StateDisconnected))
			return nil
		}

		c.state.Store(int32(StateReconnecting))
		c.reg.Inc(metrics.FeedReconnects)
		c.logger.Warn("Feed connection lost, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))

		c.clock.Sleep(jitter(backoff, c.rand))
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
		if c.healthyReset(err) {
			backoff = initialBackoff
		}
	}
}

// healthyReset resets backoff after a session that got as far as being
// subscribed; only pre-subscribe failures keep escalating the delay.
func (c *Client) healthyReset(err error) bool {
	var se *sessionError
	return errors.As(err, &se) && se.subscribed
}

type sessionError struct {
	err        error
	subscribed bool
}

func (e *sessionError) Error() string { return e.err.Error() }
func (e *sessionError) Unwrap() error { return e.err }

// session runs one connection: dial, authenticate, subscribe, then the read
// loop until the connection dies.
func (c *Client) session(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))

	conn, err := c.dialer.DialContext(ctx, c.url)
	if err != nil {
		return &sessionError{err: err}
	}
	defer conn.Close()

	// Close the socket when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(authRequest{Action: "auth", Key: c.key, Secret: c.secret}); err != nil {
		return &sessionError{err: err}
	}

	subscribed := false
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return &sessionError{err: err, subscribed: subscribed}
		}

		frames, err := splitFrames(payload)
		if err != nil {
			// A malformed message never terminates the connection.
			c.reg.Inc(metrics.FeedDecodeDrops)
			c.logger.Warn("Dropping malformed feed message", zap.Error(err))
			continue
		}

		for _, raw := range frames {
			fatal, err := c.handleFrame(conn, raw, &subscribed)
			if fatal {
				return err
			}
			if err != nil {
				c.reg.Inc(metrics.FeedDecodeDrops)
				c.logger.Warn("Dropping malformed frame", zap.Error(err))
			}
		}
	}
}

func (c *Client) handleFrame(conn FeedConn, raw json.RawMessage, subscribed *bool) (fatal bool, err error) {
	var head frameHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return false, err
	}

	switch head.Type {
	case frameSuccess:
		if head.Msg == "authenticated" {
			if err := conn.WriteJSON(subscribeRequest{
				Action: "subscribe",
				Trades: c.symbols,
				Bars:   c.symbols,
			}); err != nil {
				return true, &sessionError{err: err}
			}
			c.logger.Info("Authenticated, subscribing", zap.Strings("symbols", c.symbols))
		}
		return false, nil

	case frameSubscription:
		*subscribed = true
		c.state.Store(int32(StateSubscribed))
		c.logger.Info("Subscription confirmed")
		return false, nil

	case frameError:
		if authErrorCodes[head.Code] {
			c.logger.Error("Feed rejected credentials", zap.Int("code", head.Code), zap.String("msg", head.Msg))
			return true, ErrAuthRejected
		}
		// Any other upstream error ends the session and goes through the
		// normal reconnect path.
		return true, &sessionError{err: errors.New("feed error: " + head.Msg), subscribed: *subscribed}

	case frameTrade:
		if c.State() != StateSubscribed {
			return false, nil
		}
		ev, err := NormalizeTrade(raw, c.clock.Now())
		if err != nil {
			return false, err
		}
		c.sink.EnqueueTrade(ev)
		return false, nil

	case frameBar:
		if c.State() != StateSubscribed {
			return false, nil
		}
		ev, err := NormalizeBar(raw, c.clock.Now())
		if err != nil {
			return false, err
		}
		c.sink.EnqueueBar(ev)
		return false, nil

	default:
		// Unknown control frames are ignored, not errors.
		return false, nil
	}
}

// jitter spreads the delay over [d/2, d) so reconnecting instances don't
// thundering-herd a recovering feed.
func jitter(d time.Duration, rnd Rand) time.Duration {
	half := d / 2
	return half + time.Duration(rnd.Float64()*float64(half))
}
