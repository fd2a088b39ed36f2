package wsclient

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a websocket connection the channel drives. Writes
// are serialized by the channel; ReadMessage runs on one goroutine.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla. The returned connection answers server
// pings and treats ReadWait without any inbound frame as a dead peer.
type WebsocketDialer struct {
	Dialer   *websocket.Dialer
	Header   http.Header
	ReadWait time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	readWait := d.ReadWait
	if readWait <= 0 {
		readWait = 75 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(msg string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(msg), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return &deadlineConn{Conn: conn, readWait: readWait}, nil
}

type deadlineConn struct {
	*websocket.Conn
	readWait time.Duration
}

func (c *deadlineConn) ReadMessage() (int, []byte, error) {
	mt, p, err := c.Conn.ReadMessage()
	if err == nil {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.readWait))
	}
	return mt, p, err
}
