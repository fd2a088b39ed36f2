package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lv-restrict/internal/auth"
	"lv-restrict/internal/logging"
	"lv-restrict/internal/metrics"
	"lv-restrict/internal/realtime"
	"lv-restrict/internal/types"
)

const (
	defaultWriteWait     = 10 * time.Second
	defaultHandshakeWait = 10 * time.Second
	pongWait             = 60 * time.Second
	pingPeriod           = (pongWait * 9) / 10
	maxMessageSize       = 4096
)

// WSHandler upgrades realtime sockets. A socket is only registered for
// addressed delivery after its first frame carries a valid token.
type WSHandler struct {
	registry      *realtime.Registry
	authSvc       *auth.Service
	origin        string
	writeWait     time.Duration
	handshakeWait time.Duration
	upgrader      websocket.Upgrader
	logger        *zap.Logger
}

func NewWSHandler(registry *realtime.Registry, authSvc *auth.Service, origin string, writeWait, handshakeWait time.Duration, logger *zap.Logger) *WSHandler {
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	if handshakeWait <= 0 {
		handshakeWait = defaultHandshakeWait
	}
	logger = logging.OrNop(logger)
	return &WSHandler{
		registry:      registry,
		authSvc:       authSvc,
		origin:        origin,
		writeWait:     writeWait,
		handshakeWait: handshakeWait,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

func allowOrigin(r *http.Request, origin string) bool {
	reqOrigin := r.Header.Get("Origin")
	if reqOrigin == "" {
		// non-browser clients
		return true
	}
	for _, o := range allowedOrigins(origin) {
		if o == "*" || strings.EqualFold(reqOrigin, o) {
			return true
		}
		// localhost and 127.0.0.1 are interchangeable in development
		if strings.Contains(o, "localhost") || strings.Contains(o, "127.0.0.1") {
			if strings.Contains(reqOrigin, "localhost") || strings.Contains(reqOrigin, "127.0.0.1") {
				return true
			}
		}
	}
	return false
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxMessageSize)
	client := realtime.NewClient(conn, h.logger)
	go client.WritePump(h.writeWait, pingPeriod, func() { h.registry.Unregister(client) })

	userID, ok := h.handshake(conn, client)
	if !ok {
		client.Close()
		return
	}
	defer func() {
		h.registry.Unregister(client)
		client.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("ws read closed", zap.String("user_id", userID), zap.Error(err))
			}
			return
		}
		// any inbound frame counts as liveness
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// handshake waits for the auth frame. On success the client is registered
// and acknowledged; on failure an auth_error frame is queued ahead of the close.
func (h *WSHandler) handshake(conn *websocket.Conn, client *realtime.Client) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(h.handshakeWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		metrics.WSHandshakes.WithLabelValues("timeout").Inc()
		return "", false
	}
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != types.EventTypeAuth {
		metrics.WSHandshakes.WithLabelValues("malformed").Inc()
		h.reject(client, "expected auth frame")
		return "", false
	}
	userID, err := h.authSvc.ParseToken(strings.TrimSpace(env.Token))
	if err != nil {
		metrics.WSHandshakes.WithLabelValues("rejected").Inc()
		h.reject(client, "invalid token")
		return "", false
	}
	if err := h.registry.Register(client, userID); err != nil {
		metrics.WSHandshakes.WithLabelValues("rejected").Inc()
		h.reject(client, err.Error())
		return "", false
	}
	ack, _ := json.Marshal(types.Envelope{Type: types.EventTypeAuthOK, UserID: userID, TS: time.Now().UnixMilli()})
	if err := client.Send(ack); err != nil {
		h.registry.Unregister(client)
		return "", false
	}
	metrics.WSHandshakes.WithLabelValues("ok").Inc()
	h.logger.Debug("ws authenticated", zap.String("user_id", userID), zap.String("conn_id", client.ID()))
	return userID, true
}

func (h *WSHandler) reject(client *realtime.Client, reason string) {
	payload, _ := json.Marshal(types.Envelope{Type: types.EventTypeAuthError, Error: reason})
	_ = client.Send(payload)
}
