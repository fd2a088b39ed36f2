package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"lv-restrict/internal/admin"
	"lv-restrict/internal/auth"
	"lv-restrict/internal/health"
	"lv-restrict/internal/metrics"
	"lv-restrict/internal/restriction"
)

type RouterDeps struct {
	RestrictionHandler *restriction.Handler
	AdminHandler       *admin.Handler
	HealthHandler      *health.Handler
	AuthService        *auth.Service
	RateLimiter        *RateLimiter
	InternalToken      string
	JWTSecret          string
	AllowedOrigin      string
	WSHandler          http.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(d.AllowedOrigin),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Internal-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(SecurityHeaders)
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	r.Get("/health", d.HealthHandler.Ready)
	r.Get("/health/live", d.HealthHandler.Live)
	r.Get("/health/full", d.HealthHandler.Full)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ws", d.WSHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/withdrawal/eligibility", WithUser(d.RestrictionHandler.Eligibility))
			r.Get("/restrictions/settings", WithUser(d.RestrictionHandler.Settings))
		})

		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/internal/restrictions/{userID}/refresh", d.RestrictionHandler.InternalRefresh)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", d.AdminHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(admin.AdminAuthMiddleware(d.JWTSecret))
				r.Get("/me", d.AdminHandler.Me)
				r.With(admin.RequireRight(admin.RightNotices)).Post("/notices", d.AdminHandler.Broadcast)

				r.Route("/restrictions", func(r chi.Router) {
					r.Use(admin.RequireRight(admin.RightRestrictions))
					r.Post("/", d.RestrictionHandler.AdminApply)
					r.Get("/{userID}", d.RestrictionHandler.AdminGet)
					r.Put("/{userID}/threshold", d.RestrictionHandler.AdminSetThreshold)
					r.Put("/{userID}/override", d.RestrictionHandler.AdminSetOverride)
					r.Put("/{userID}/template", d.RestrictionHandler.AdminSetTemplate)
				})
			})
		})
	})
	return r
}

func allowedOrigins(origin string) []string {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "*" {
		return []string{"*"}
	}
	out := []string{}
	for _, o := range strings.Split(origin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
