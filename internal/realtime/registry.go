package realtime

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"lv-restrict/internal/logging"
	"lv-restrict/internal/metrics"
)

var ErrAnonymous = errors.New("connection has no user identity")

// Conn is what the registry needs from a live connection. Send must not block.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

// Registry tracks authenticated connections by user. Pending connections are
// never registered, so they cannot receive addressed messages.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]map[string]Conn
	owners map[string]string
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	logger = logging.OrNop(logger)
	return &Registry{
		users:  make(map[string]map[string]Conn),
		owners: make(map[string]string),
		logger: logger,
	}
}

// Register binds c to userID. Re-registering a connection under another user
// replaces its previous entry.
func (r *Registry) Register(c Conn, userID string) error {
	if userID == "" {
		return ErrAnonymous
	}
	id := c.ID()
	r.mu.Lock()
	if prev, ok := r.owners[id]; ok && prev != userID {
		r.removeLocked(id, prev)
	}
	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]Conn)
		r.users[userID] = conns
	}
	_, existed := conns[id]
	conns[id] = c
	r.owners[id] = userID
	total := len(conns)
	r.mu.Unlock()

	if !existed {
		metrics.WSConnections.Inc()
	}
	r.logger.Info("ws registered", zap.String("user_id", userID), zap.String("conn_id", id), zap.Int("user_conns", total))
	return nil
}

// Unregister is idempotent and reports whether an entry was removed.
func (r *Registry) Unregister(c Conn) bool {
	id := c.ID()
	r.mu.Lock()
	userID, ok := r.owners[id]
	if ok {
		r.removeLocked(id, userID)
	}
	r.mu.Unlock()
	if ok {
		r.logger.Info("ws unregistered", zap.String("user_id", userID), zap.String("conn_id", id))
	}
	return ok
}

func (r *Registry) removeLocked(connID, userID string) {
	delete(r.owners, connID)
	if conns, ok := r.users[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.users, userID)
		}
	}
	metrics.WSConnections.Dec()
}

// SendToUser delivers payload to every connection of userID and returns how
// many accepted it. Zero matches is not an error.
func (r *Registry) SendToUser(userID string, payload []byte) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.users[userID]))
	for _, c := range r.users[userID] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	return r.deliver(targets, payload, "addressed")
}

// Broadcast delivers to every registered connection regardless of identity.
func (r *Registry) Broadcast(payload []byte) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.owners))
	for _, conns := range r.users {
		for _, c := range conns {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()
	return r.deliver(targets, payload, "broadcast")
}

func (r *Registry) deliver(targets []Conn, payload []byte, kind string) int {
	delivered := 0
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			metrics.PushDeliveries.WithLabelValues(kind, "dropped").Inc()
			r.logger.Warn("ws delivery failed, dropping connection", zap.String("conn_id", c.ID()), zap.Error(err))
			if r.Unregister(c) {
				_ = c.Close()
			}
			continue
		}
		delivered++
	}
	if delivered > 0 {
		metrics.PushDeliveries.WithLabelValues(kind, "delivered").Add(float64(delivered))
	} else {
		metrics.PushDeliveries.WithLabelValues(kind, "missed").Inc()
	}
	return delivered
}

func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
