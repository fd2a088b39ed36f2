package health

import (
	"context"
	"crypto/subtle"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"lv-restrict/internal/httputil"
)

const checkTimeout = time.Second

// Pinger is any dependency that can report reachability, e.g. a pgx pool or a
// redis client wrapped with PingFunc.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// ConnCounter reports live realtime connections.
type ConnCounter interface {
	Len() int
}

type Handler struct {
	startedAt   time.Time
	deps        map[string]Pinger
	required    map[string]bool
	conns       ConnCounter
	httpAddr    string
	internalTok string
	now         func() time.Time
}

func NewHandler(startedAt time.Time, httpAddr, internalToken string, conns ConnCounter) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{
		startedAt:   start,
		deps:        make(map[string]Pinger),
		required:    make(map[string]bool),
		conns:       conns,
		httpAddr:    strings.TrimSpace(httpAddr),
		internalTok: strings.TrimSpace(internalToken),
		now:         time.Now,
	}
}

// Check adds a dependency. A failing required dependency makes the service
// not ready; an optional one only shows up as degraded.
func (h *Handler) Check(name string, p Pinger, required bool) *Handler {
	if p == nil {
		return h
	}
	h.deps[name] = p
	h.required[name] = required
	return h
}

type depStatus struct {
	Reachable bool   `json:"reachable"`
	Required  bool   `json:"required"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string               `json:"status"`
	Timestamp    string               `json:"timestamp"`
	UptimeSec    int64                `json:"uptime_sec"`
	Dependencies map[string]depStatus `json:"dependencies"`
}

type fullResponse struct {
	readinessResponse
	HTTPAddr    string `json:"http_addr"`
	Connections int    `json:"connections"`
	PID         int    `json:"pid"`
	Hostname    string `json:"hostname"`
	GoVersion   string `json:"go_version"`
	Goroutines  int    `json:"goroutines"`
	HeapBytes   uint64 `json:"heap_alloc_bytes"`
	Version     string `json:"version,omitempty"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func (h *Handler) collect(ctx context.Context) (readinessResponse, int) {
	now := h.now().UTC()
	resp := readinessResponse{
		Status:       "ok",
		Timestamp:    now.Format(time.RFC3339),
		UptimeSec:    int64(h.uptime(now).Seconds()),
		Dependencies: make(map[string]depStatus, len(h.deps)),
	}
	code := http.StatusOK
	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		start := time.Now()
		pingCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := h.deps[name].Ping(pingCtx)
		cancel()
		st := depStatus{Reachable: err == nil, Required: h.required[name], PingMs: time.Since(start).Milliseconds()}
		if err != nil {
			st.Error = err.Error()
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
			if st.Required {
				resp.Status = "down"
				code = http.StatusServiceUnavailable
			}
		}
		resp.Dependencies[name] = st
	}
	return resp, code
}

// Live does not touch dependencies.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"timestamp":  now.Format(time.RFC3339),
		"uptime_sec": int64(h.uptime(now).Seconds()),
	})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp, code := h.collect(r.Context())
	httputil.WriteJSON(w, code, resp)
}

// Full adds process diagnostics and requires X-Internal-Token.
func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	if h.internalTok == "" {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "internal token is not configured"})
		return
	}
	provided := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.internalTok)) != 1 {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid internal token"})
		return
	}
	ready, code := h.collect(r.Context())
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	resp := fullResponse{
		readinessResponse: ready,
		HTTPAddr:          h.httpAddr,
		PID:               os.Getpid(),
		GoVersion:         runtime.Version(),
		Goroutines:        runtime.NumGoroutine(),
		HeapBytes:         mem.HeapAlloc,
	}
	if h.conns != nil {
		resp.Connections = h.conns.Len()
	}
	if host, err := os.Hostname(); err == nil {
		resp.Hostname = host
	}
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		resp.Version = strings.TrimSpace(info.Main.Version)
	}
	httputil.WriteJSON(w, code, resp)
}
