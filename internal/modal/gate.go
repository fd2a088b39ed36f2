package modal

import "sync"

// Gate guarantees at most one open instance per dialog id. Callers must show
// a dialog only when Open returns true.
type Gate struct {
	mu   sync.Mutex
	open map[string]struct{}
}

func NewGate() *Gate {
	return &Gate{open: make(map[string]struct{})}
}

// Open marks id open and reports whether the caller won.
func (g *Gate) Open(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.open[id]; ok {
		return false
	}
	g.open[id] = struct{}{}
	return true
}

func (g *Gate) Close(id string) {
	g.mu.Lock()
	delete(g.open, id)
	g.mu.Unlock()
}

// CloseAll is used on logout.
func (g *Gate) CloseAll() {
	g.mu.Lock()
	clear(g.open)
	g.mu.Unlock()
}

func (g *Gate) IsOpen(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.open[id]
	return ok
}
