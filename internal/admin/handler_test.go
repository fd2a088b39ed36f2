package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lv-restrict/internal/types"
)

type captureNotifier struct {
	broadcasts []types.Envelope
}

func (n *captureNotifier) NotifyUser(context.Context, string, types.Envelope) error { return nil }

func (n *captureNotifier) Broadcast(_ context.Context, evt types.Envelope) error {
	n.broadcasts = append(n.broadcasts, evt)
	return nil
}

const adminSecret = "admin-secret"

func authed(t *testing.T, role string, rights []string, next http.Handler) (http.Handler, string) {
	t.Helper()
	token, err := SignToken([]byte(adminSecret), "alice", role, rights, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return AdminAuthMiddleware(adminSecret)(next), token
}

func TestBroadcastQueuesNotice(t *testing.T) {
	n := &captureNotifier{}
	h := NewHandler(nil, adminSecret, n, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/notices", strings.NewReader(`{"title":"Maintenance","body":"Back at 10:00"}`))
	rec := httptest.NewRecorder()
	h.Broadcast(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	if len(n.broadcasts) != 1 || n.broadcasts[0].Type != types.EventTypePlatformNotice || n.broadcasts[0].UserID != "" {
		t.Fatalf("unexpected broadcasts %+v", n.broadcasts)
	}

	rec = httptest.NewRecorder()
	h.Broadcast(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/notices", strings.NewReader(`{"title":"  "}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank title: expected 400, got %d", rec.Code)
	}
}

func TestMeReportsRights(t *testing.T) {
	h := NewHandler(nil, adminSecret, &captureNotifier{}, nil)
	mw, token := authed(t, "owner", nil, http.HandlerFunc(h.Me))
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	var body struct {
		Username string   `json:"username"`
		Rights   []string `json:"rights"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Username != "alice" || len(body.Rights) != len(allAdminRights) {
		t.Fatalf("unexpected %+v", body)
	}
}

func TestRequireRight(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	cases := []struct {
		name   string
		role   string
		rights []string
		want   int
	}{
		{"granted", "admin", []string{RightRestrictions}, http.StatusOK},
		{"other right", "admin", []string{RightNotices}, http.StatusForbidden},
		{"owner", "owner", nil, http.StatusOK},
		{"not admin", "user", []string{RightRestrictions}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mw, token := authed(t, tc.role, tc.rights, RequireRight(RightRestrictions)(ok))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("got %d want %d", rec.Code, tc.want)
			}
		})
	}
}
