package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/cmd/bridge/internal/hub"
	"github.com/mya15oct/stock-backend/cmd/bridge/internal/protocol"
)

const (
	maxMessageSize = 64 * 1024
)

var (
	errFrameTooLarge = errors.New("frame exceeds size limit")
	errFragmented    = errors.New("fragmented frames unsupported")
)

type ClientAdapter struct {
	id     string
	conn   net.Conn
	hub    *hub.Hub
	send   chan []byte
	logger *zap.Logger

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger) *ClientAdapter {
	return &ClientAdapter{
		id:         uuid.NewString(),
		conn:       conn,
		hub:        h,
		send:       make(chan []byte, 256),
		logger:     logger,
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (c *ClientAdapter) Start() {
	c.hub.Register(c)
	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.id }
func (c *ClientAdapter) Close()     { close(c.send) } // Only close channel, let writePump close conn

func (c *ClientAdapter) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err == nil {
		c.SendBytes(b)
	}
}

func (c *ClientAdapter) SendBytes(b []byte) {
	select {
	case c.send <- b:
	default:
		// Drop message if buffer full (Backpressure)
	}
}

// readPump consumes viewer frames until the connection dies; any protocol
// violation (oversized or fragmented frame) drops the connection rather than
// trying to resynchronize mid-stream.
func (c *ClientAdapter) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		frame, err := c.readFrame()
		if err != nil {
			return
		}

		switch frame.Header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong, ws.OpPing:
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		case ws.OpText:
			c.dispatch(frame.Payload)
		}
	}
}

// readFrame reads and unmasks one complete frame, bounding the payload size
// before any allocation happens.
func (c *ClientAdapter) readFrame() (ws.Frame, error) {
	header, err := ws.ReadHeader(c.conn)
	if err != nil {
		return ws.Frame{}, err
	}

	if header.Length > int64(maxMessageSize) {
		c.logger.Warn("Dropping connection, frame too large", zap.Int64("size", header.Length))
		return ws.Frame{}, errFrameTooLarge
	}
	if !header.Fin {
		c.logger.Warn("Dropping connection, fragmented frames unsupported")
		return ws.Frame{}, errFragmented
	}

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return ws.Frame{}, err
	}
	if header.Masked {
		ws.Cipher(payload, header.Mask, 0)
	}

	return ws.Frame{Header: header, Payload: payload}, nil
}

func (c *ClientAdapter) dispatch(payload []byte) {
	var req protocol.WSRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, Message: "Invalid JSON"})
		return
	}
	c.hub.HandleCommand(c, req)
}

// writePump is the only goroutine writing to the socket: outbound payloads
// and keepalive pings are serialized here.
func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				// Hub closed the channel: say goodbye properly
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
