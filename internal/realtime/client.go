package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

const (
	sendBufferSize = 64
	defaultPing    = 54 * time.Second
)

// Client is one server-side socket. All writes go through its send buffer so
// the write pump stays the single writer gorilla requires.
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func NewClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *Client) ID() string { return c.id }

// Send enqueues without blocking. A full buffer means the peer is not keeping
// up and the caller should drop it.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSlowConsumer
	}
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *Client) Done() <-chan struct{} { return c.done }

// WritePump drains the send buffer with a bounded write deadline. It returns
// when the client is closed or a write fails, and calls onExit before the
// socket is torn down.
func (c *Client) WritePump(writeWait, pingPeriod time.Duration, onExit func()) {
	if pingPeriod <= 0 {
		pingPeriod = defaultPing
	}
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if onExit != nil {
			onExit()
		}
		c.Close()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("ws write failed", zap.String("conn_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// flush what was queued before the close, e.g. an auth_error frame
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}
