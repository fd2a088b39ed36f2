package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"lv-restrict/internal/httputil"
	"lv-restrict/internal/realtime"
	"lv-restrict/internal/types"
)

const (
	RightRestrictions = "restrictions"
	RightNotices      = "notices"
)

var allAdminRights = []string{RightRestrictions, RightNotices}

// Handler handles admin authentication and platform notices.
type Handler struct {
	pool      *pgxpool.Pool
	jwtSecret []byte
	notifier  realtime.Notifier
	logger    *zap.Logger
}

func NewHandler(pool *pgxpool.Pool, jwtSecret string, notifier realtime.Notifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pool:      pool,
		jwtSecret: []byte(jwtSecret),
		notifier:  notifier,
		logger:    logger,
	}
}

// Login handles admin login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid request"})
		return
	}

	var id int
	var passwordHash string
	var rights []string
	err := h.pool.QueryRow(r.Context(),
		"SELECT id, password_hash, rights FROM admin_users WHERE username = $1", req.Username,
	).Scan(&id, &passwordHash, &rights)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			h.logger.Error("admin login lookup failed", zap.Error(err))
		}
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid credentials"})
		return
	}

	tokenStr, err := SignToken(h.jwtSecret, req.Username, "admin", rights, 24*time.Hour)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "token generation failed"})
		return
	}
	h.logger.Info("admin login", zap.Int("admin_id", id), zap.String("username", req.Username))
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"token":    tokenStr,
		"username": req.Username,
	})
}

// Me returns admin info
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	role, _ := r.Context().Value(adminRoleKey).(string)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"username": Username(r),
		"role":     role,
		"rights":   rightsList(r),
	})
}

// Broadcast pushes a platform-wide notice to every connected session.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid request"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "title is required"})
		return
	}
	evt, err := types.NewEnvelope(types.EventTypePlatformNotice, "", req)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.notifier.Broadcast(r.Context(), evt); err != nil {
		h.logger.Warn("notice broadcast failed", zap.Error(err))
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "event_id": evt.EventID})
}

// SignToken issues an admin JWT carrying role and rights claims.
func SignToken(secret []byte, username, role string, rights []string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"role":     role,
		"rights":   rights,
		"exp":      time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

// AdminAuthMiddleware validates admin JWT token
func AdminAuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing authorization"})
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid authorization format"})
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("invalid signing method")
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "invalid token"})
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid claims"})
				return
			}

			role, _ := claims["role"].(string)
			if role != "admin" && role != "owner" {
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "admin access required"})
				return
			}

			username, _ := claims["username"].(string)
			if username == "" {
				username = role
			}
			rightsMap := map[string]bool{}
			if rightsRaw, ok := claims["rights"].([]interface{}); ok {
				for _, raw := range rightsRaw {
					if right, ok := raw.(string); ok && right != "" {
						rightsMap[right] = true
					}
				}
			}
			if role == "owner" {
				for _, right := range allAdminRights {
					rightsMap[right] = true
				}
			}
			ctx := context.WithValue(r.Context(), adminUsernameKey, username)
			ctx = context.WithValue(ctx, adminRoleKey, role)
			ctx = context.WithValue(ctx, adminRightsKey, rightsMap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type contextKey string

const adminUsernameKey contextKey = "admin_username"
const adminRoleKey contextKey = "admin_role"
const adminRightsKey contextKey = "admin_rights"

// Username returns the authenticated admin, or "" outside the admin group.
func Username(r *http.Request) string {
	v, _ := r.Context().Value(adminUsernameKey).(string)
	return v
}

func rightsList(r *http.Request) []string {
	rights, _ := r.Context().Value(adminRightsKey).(map[string]bool)
	out := make([]string, 0, len(rights))
	for _, right := range allAdminRights {
		if rights[right] {
			out = append(out, right)
		}
	}
	return out
}

func RequireRight(right string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := r.Context().Value(adminRoleKey).(string)
			if role == "owner" {
				next.ServeHTTP(w, r)
				return
			}
			rights, _ := r.Context().Value(adminRightsKey).(map[string]bool)
			if rights == nil || !rights[right] {
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "insufficient rights"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
