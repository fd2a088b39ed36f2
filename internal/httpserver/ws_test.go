package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lv-restrict/internal/auth"
	"lv-restrict/internal/realtime"
	"lv-restrict/internal/types"
)

func newWSServer(t *testing.T) (*httptest.Server, *realtime.Registry, *auth.Service) {
	t.Helper()
	registry := realtime.NewRegistry(nil)
	authSvc := auth.NewService("lv-restrict", []byte("test-secret"), time.Hour)
	h := NewWSHandler(registry, authSvc, "http://localhost:3000", time.Second, 500*time.Millisecond, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, registry, authSvc
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) types.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return env
}

func waitCount(t *testing.T, registry *realtime.Registry, userID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Count(userID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %s: want %d conns, have %d", userID, want, registry.Count(userID))
}

func TestHandshakeRegistersAfterAuth(t *testing.T) {
	srv, registry, authSvc := newWSServer(t)
	conn := dialWS(t, srv)

	// connected but unauthenticated: not addressable
	time.Sleep(50 * time.Millisecond)
	if registry.Len() != 0 {
		t.Fatal("pending connection registered")
	}

	token, _ := authSvc.Sign("u-1")
	if err := conn.WriteJSON(types.Envelope{Type: types.EventTypeAuth, Token: token}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack := readEnvelope(t, conn)
	if ack.Type != types.EventTypeAuthOK || ack.UserID != "u-1" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	waitCount(t, registry, "u-1", 1)

	if n := registry.SendToUser("u-1", []byte(`{"type":"restriction_update","user_id":"u-1"}`)); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if got := readEnvelope(t, conn); got.Type != types.EventTypeRestrictionUpdate {
		t.Fatalf("unexpected frame %+v", got)
	}

	conn.Close()
	waitCount(t, registry, "u-1", 0)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	srv, registry, _ := newWSServer(t)
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(types.Envelope{Type: types.EventTypeAuth, Token: "garbage"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readEnvelope(t, conn)
	if got.Type != types.EventTypeAuthError || got.Error == "" {
		t.Fatalf("expected auth_error, got %+v", got)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected server to close the socket")
	}
	if registry.Len() != 0 {
		t.Fatal("rejected connection registered")
	}
}

func TestHandshakeRejectsNonAuthFirstFrame(t *testing.T) {
	srv, registry, _ := newWSServer(t)
	conn := dialWS(t, srv)

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
	if got := readEnvelope(t, conn); got.Type != types.EventTypeAuthError {
		t.Fatalf("expected auth_error, got %+v", got)
	}
	if registry.Len() != 0 {
		t.Fatal("connection registered without auth")
	}
}

func TestHandshakeTimesOut(t *testing.T) {
	srv, registry, _ := newWSServer(t)
	conn := dialWS(t, srv)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if registry.Len() != 0 {
		t.Fatal("silent connection registered")
	}
}

func TestAllowOrigin(t *testing.T) {
	cases := []struct {
		allowed, origin string
		want            bool
	}{
		{"https://app.example.com", "", true},
		{"https://app.example.com", "https://app.example.com", true},
		{"https://app.example.com, https://admin.example.com", "https://admin.example.com", true},
		{"https://app.example.com", "https://evil.example.com", false},
		{"http://localhost:3000", "http://127.0.0.1:3000", true},
		{"*", "https://anything.test", true},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := allowOrigin(r, tc.allowed); got != tc.want {
			t.Errorf("allowOrigin(%q, %q) = %v, want %v", tc.allowed, tc.origin, got, tc.want)
		}
	}
}
