package ws

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
	"golang.org/x/time/rate"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Envelope is the wire frame for both directions of the realtime channel.
type Envelope struct {
	Type    string  `json:"type"`
	Payload Payload `json:"payload"`
}

type Payload struct {
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Content        string `json:"content,omitempty"`
	MsgType        string `json:"msg_type,omitempty"`
}

// Client→server frame types. Server→client types come from the dispatcher.
const (
	FrameSendMessage      = "SEND_MESSAGE"
	FrameMarkDelivered    = "MARK_DELIVERED"
	FrameMarkRead         = "MARK_READ"
	FrameReadConversation = "READ_CONVERSATION"
)

// Client owns one websocket connection. Writes go through a buffered
// channel drained by writePump so fan-out never blocks on a slow peer; a
// full buffer or closed connection surfaces as a soft push failure.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	closed  int32

	pingInterval  time.Duration
	writeDeadline time.Duration
	maxMsgSize    int64
}

func NewClient(conn *websocket.Conn, pingInterval, writeDeadline time.Duration, maxMsgSize int64, ratePerSec int) *Client {
	return &Client{
		conn:          conn,
		send:          make(chan []byte, 256),
		limiter:       rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		pingInterval:  pingInterval,
		writeDeadline: writeDeadline,
		maxMsgSize:    maxMsgSize,
	}
}

// Send queues a payload for the write pump. Safe to call concurrently
// with Close; a racing disconnect returns an error instead of panicking
// or blocking.
func (c *Client) Send(data []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close is idempotent. The send channel is never closed so concurrent
// Send calls cannot panic; writePump exits through the dead connection.
func (c *Client) Close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings. Exits on any write error; readPump notices the dead connection
// and tears the client down.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// readPump reads frames until the connection dies and hands each one to
// route. Malformed or rate-limited frames are ignored.
func (c *Client) readPump(route func(Envelope)) {
	c.conn.SetReadLimit(c.maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
		if !c.limiter.Allow() {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		route(env)
	}
}
