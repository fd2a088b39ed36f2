package wsclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lv-restrict/internal/logging"
	"lv-restrict/internal/metrics"
	"lv-restrict/internal/pubsub"
	"lv-restrict/internal/types"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

const (
	DefaultBackoff     = 3 * time.Second
	defaultWriteWait   = 10 * time.Second
	defaultDialTimeout = 10 * time.Second
)

type Options struct {
	URL         string
	Dialer      Dialer
	Backoff     time.Duration
	WriteWait   time.Duration
	DialTimeout time.Duration
	Logger      *zap.Logger
}

// Channel owns one logical realtime connection and keeps it alive with a
// fixed backoff until Disconnect is called.
type Channel struct {
	url         string
	dialer      Dialer
	backoff     time.Duration
	writeWait   time.Duration
	dialTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	status   Status
	identity string
	gen      uint64
	conn     Conn
	timer    *time.Timer

	writeMu  sync.Mutex
	messages *pubsub.Bus[[]byte]
	statuses *pubsub.Bus[Status]
}

func NewChannel(opts Options) *Channel {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	opts.Logger = logging.OrNop(opts.Logger)
	return &Channel{
		url:         opts.URL,
		dialer:      opts.Dialer,
		backoff:     opts.Backoff,
		writeWait:   opts.WriteWait,
		dialTimeout: opts.DialTimeout,
		logger:      opts.Logger,
		status:      StatusDisconnected,
		messages:    pubsub.NewBus[[]byte](0, opts.Logger),
		statuses:    pubsub.NewBus[Status](0, opts.Logger),
	}
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect starts the connection. It is a no-op while connecting or
// connected. Called during a backoff it dials right away. A non-empty
// identity is sent as the auth frame on every open.
func (c *Channel) Connect(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusConnecting || c.status == StatusConnected {
		return
	}
	c.identity = identity
	c.stopTimerLocked()
	c.dialLocked()
}

// Disconnect closes the connection and cancels any pending reconnect. Safe to
// call repeatedly.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.stopTimerLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setStatusLocked(StatusDisconnected)
}

// Send writes v immediately and reports whether it went out. Nothing is
// queued while the channel is not connected. []byte is sent as is, anything
// else is JSON encoded.
func (c *Channel) Send(v any) bool {
	payload, ok := v.([]byte)
	if !ok {
		raw, err := json.Marshal(v)
		if err != nil {
			c.logger.Warn("ws send encode failed", zap.Error(err))
			return false
		}
		payload = raw
	}
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return false
	}
	if err := c.write(conn, payload); err != nil {
		c.logger.Debug("ws send failed", zap.Error(err))
		c.mu.Lock()
		c.dropLocked(conn)
		c.mu.Unlock()
		return false
	}
	return true
}

// OnMessage registers fn for every inbound frame. The returned func removes it.
func (c *Channel) OnMessage(fn func([]byte)) func() {
	return c.messages.Listen(fn)
}

// OnStatus registers fn for status changes; fn first receives the current status.
func (c *Channel) OnStatus(fn func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses.ListenWith(c.status, fn)
}

func (c *Channel) write(conn Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Channel) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	c.statuses.Publish(s)
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) dialLocked() {
	c.gen++
	gen := c.gen
	c.setStatusLocked(StatusConnecting)
	go c.dial(gen, c.identity)
}

func (c *Channel) dial(gen uint64, identity string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	conn, err := c.dialer.Dial(ctx, c.url)
	cancel()
	if err == nil && identity != "" {
		frame, _ := json.Marshal(types.Envelope{Type: types.EventTypeAuth, Token: identity})
		if err = c.write(conn, frame); err != nil {
			_ = conn.Close()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.logger.Debug("ws dial failed", zap.String("url", c.url), zap.Error(err))
		c.scheduleReconnectLocked()
		return
	}
	c.conn = conn
	c.setStatusLocked(StatusConnected)
	go c.readLoop(conn)
}

func (c *Channel) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.dropLocked(conn)
			c.mu.Unlock()
			return
		}
		c.messages.Publish(data)
	}
}

// dropLocked retires conn if it is still current and schedules a reconnect.
func (c *Channel) dropLocked(conn Conn) {
	if c.conn != conn {
		return
	}
	_ = conn.Close()
	c.conn = nil
	c.gen++
	c.scheduleReconnectLocked()
}

func (c *Channel) scheduleReconnectLocked() {
	c.setStatusLocked(StatusReconnecting)
	c.stopTimerLocked()
	metrics.ClientReconnects.Inc()
	gen := c.gen
	c.timer = time.AfterFunc(c.backoff, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.status != StatusReconnecting {
			return
		}
		c.timer = nil
		c.dialLocked()
	})
}
