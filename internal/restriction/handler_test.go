package restriction

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"lv-restrict/internal/admin"
)

const adminSecret = "admin-secret"

func newAdminRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/admin/restrictions", func(r chi.Router) {
		r.Use(admin.AdminAuthMiddleware(adminSecret))
		r.Use(admin.RequireRight(admin.RightRestrictions))
		r.Post("/", h.AdminApply)
		r.Get("/{userID}", h.AdminGet)
		r.Put("/{userID}/threshold", h.AdminSetThreshold)
		r.Put("/{userID}/override", h.AdminSetOverride)
		r.Put("/{userID}/template", h.AdminSetTemplate)
	})
	r.Post("/v1/internal/restrictions/{userID}/refresh", h.InternalRefresh)
	return r
}

func adminToken(t *testing.T, rights ...string) string {
	t.Helper()
	tok, err := admin.SignToken([]byte(adminSecret), "alice", "admin", rights, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeMutation(t *testing.T, rec *httptest.ResponseRecorder) mutationResponse {
	t.Helper()
	var resp mutationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return resp
}

func TestAdminApplyReturnsDecision(t *testing.T) {
	svc, store, notifier, _ := newTestService()
	router := newAdminRouter(NewHandler(svc))
	tok := adminToken(t, admin.RightRestrictions)

	rec := do(t, router, http.MethodPost, "/v1/admin/restrictions/", tok, `{"user_id":"u-1","threshold":"0"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeMutation(t, rec)
	if resp.UserID != "u-1" || resp.Decision.HasRestriction {
		t.Fatalf("unexpected response %+v", resp)
	}
	if store.cfgs["u-1"].UpdatedBy != "alice" {
		t.Fatalf("actor not recorded: %q", store.cfgs["u-1"].UpdatedBy)
	}
	if len(notifier.events()) != 1 {
		t.Fatal("expected one push")
	}
}

func TestAdminApplyRejectsBadInput(t *testing.T) {
	svc, store, _, _ := newTestService()
	router := newAdminRouter(NewHandler(svc))
	tok := adminToken(t, admin.RightRestrictions)

	for name, body := range map[string]string{
		"negative":      `{"user_id":"u-1","threshold":"-5"}`,
		"not a number":  `{"user_id":"u-1","threshold":"lots"}`,
		"unknown field": `{"user_id":"u-1","limit":"5"}`,
		"empty":         `{"user_id":"u-1"}`,
		"no user":       `{"threshold":"5"}`,
	} {
		rec := do(t, router, http.MethodPost, "/v1/admin/restrictions/", tok, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", name, rec.Code)
		}
	}
	if store.applies != 0 {
		t.Fatal("bad input reached the store")
	}
}

func TestAdminThresholdAcceptsNumbersAndStrings(t *testing.T) {
	svc, store, _, _ := newTestService()
	router := newAdminRouter(NewHandler(svc))
	tok := adminToken(t, admin.RightRestrictions)

	rec := do(t, router, http.MethodPost, "/v1/admin/restrictions/", tok, `{"user_id":"u-1","threshold":0}`)
	if rec.Code != http.StatusOK || decodeMutation(t, rec).Decision.HasRestriction {
		t.Fatalf("numeric zero: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, router, http.MethodPut, "/v1/admin/restrictions/u-1/threshold", tok, `{"threshold":750.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("numeric put: %d %s", rec.Code, rec.Body.String())
	}
	if got := store.cfgs["u-1"].MinimumDepositThreshold; !got.Equal(dec("750.5")) {
		t.Fatalf("threshold stored as %s", got)
	}
	rec = do(t, router, http.MethodPut, "/v1/admin/restrictions/u-1/threshold", tok, `{"threshold":"900"}`)
	if rec.Code != http.StatusOK || !store.cfgs["u-1"].MinimumDepositThreshold.Equal(dec("900")) {
		t.Fatalf("string put: %d %s", rec.Code, rec.Body.String())
	}

	for name, body := range map[string]string{
		"missing":  `{}`,
		"negative": `{"threshold":-1}`,
		"garbage":  `{"threshold":"lots"}`,
	} {
		rec := do(t, router, http.MethodPut, "/v1/admin/restrictions/u-1/threshold", tok, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", name, rec.Code)
		}
	}
}

func TestAdminRoutesRequireRight(t *testing.T) {
	svc, _, _, _ := newTestService()
	router := newAdminRouter(NewHandler(svc))

	if rec := do(t, router, http.MethodGet, "/v1/admin/restrictions/u-1", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}
	tok := adminToken(t, admin.RightNotices)
	if rec := do(t, router, http.MethodGet, "/v1/admin/restrictions/u-1", tok, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("missing right: status %d", rec.Code)
	}
}

func TestAdminSetOverrideNullClears(t *testing.T) {
	svc, store, _, _ := newTestService()
	router := newAdminRouter(NewHandler(svc))
	tok := adminToken(t, admin.RightRestrictions)

	rec := do(t, router, http.MethodPut, "/v1/admin/restrictions/u-1/override", tok, `{"override":true}`)
	if rec.Code != http.StatusOK || !decodeMutation(t, rec).Decision.CanWithdraw {
		t.Fatalf("force allow failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, router, http.MethodPut, "/v1/admin/restrictions/u-1/override", tok, `{"override":null}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear failed: %d %s", rec.Code, rec.Body.String())
	}
	if store.cfgs["u-1"].CanWithdrawOverride != nil {
		t.Fatal("override not cleared")
	}
	rec = do(t, router, http.MethodPut, "/v1/admin/restrictions/u-1/override", tok, `{"override":"yes"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad override value: status %d", rec.Code)
	}
	rec = do(t, router, http.MethodPut, "/v1/admin/restrictions/u-1/override", tok, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing override: status %d", rec.Code)
	}
}

func TestAdminSetThresholdAndTemplate(t *testing.T) {
	svc, _, _, _ := newTestService()
	router := newAdminRouter(NewHandler(svc))
	tok := adminToken(t, admin.RightRestrictions)

	rec := do(t, router, http.MethodPut, "/v1/admin/restrictions/u-1/template", tok, `{"template":"Need {amount}."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("template: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, router, http.MethodPut, "/v1/admin/restrictions/u-1/threshold", tok, `{"threshold":"1500"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("threshold: %d %s", rec.Code, rec.Body.String())
	}
	if msg := decodeMutation(t, rec).Decision.Message; msg != "Need $1,500.00." {
		t.Fatalf("unexpected message %q", msg)
	}

	rec = do(t, router, http.MethodGet, "/v1/admin/restrictions/u-1", tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	var got adminConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Config.MessageTemplate != "Need {amount}." || got.Config.MinimumDepositThreshold.String() != "1500" {
		t.Fatalf("unexpected config %+v", got.Config)
	}
}

func TestPersistenceErrorIs500(t *testing.T) {
	svc, store, notifier, _ := newTestService()
	store.applyErr = errors.New("db down")
	router := newAdminRouter(NewHandler(svc))
	rec := do(t, router, http.MethodPut, "/v1/admin/restrictions/u-1/threshold", adminToken(t, admin.RightRestrictions), `{"threshold":"10"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rec.Code)
	}
	if len(notifier.events()) != 0 {
		t.Fatal("pushed after failed write")
	}
}

func TestUserViews(t *testing.T) {
	svc, store, _, _ := newTestService()
	store.deposits["u-1"] = dec("120")
	h := NewHandler(svc)

	rec := httptest.NewRecorder()
	h.Eligibility(rec, httptest.NewRequest(http.MethodGet, "/v1/withdrawal/eligibility", nil), "u-1")
	var el EligibilityView
	if err := json.Unmarshal(rec.Body.Bytes(), &el); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if el.CanWithdraw || el.Shortfall.String() != "380" {
		t.Fatalf("unexpected eligibility %+v", el)
	}

	rec = httptest.NewRecorder()
	h.Settings(rec, httptest.NewRequest(http.MethodGet, "/v1/restrictions/settings", nil), "u-1")
	var st SettingsView
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.HasRestriction || st.MinimumDepositThreshold.String() != "500" {
		t.Fatalf("unexpected settings %+v", st)
	}
}

func TestInternalRefresh(t *testing.T) {
	svc, _, notifier, _ := newTestService()
	router := newAdminRouter(NewHandler(svc))
	rec := do(t, router, http.MethodPost, "/v1/internal/restrictions/u-1/refresh", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if len(notifier.events()) != 1 {
		t.Fatal("refresh did not push")
	}
}
