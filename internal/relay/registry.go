package relay

import "sync"

// Registry is the process-wide set of live Connections, at most one per
// origin.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register records c under its origin and returns the Connection it
// replaced, if any. The caller is responsible for closing the replaced one.
func (r *Registry) Register(c *Connection) (replaced *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced = r.conns[c.Origin()]
	r.conns[c.Origin()] = c
	return replaced
}

// Remove drops c if it is still the Connection registered for its origin.
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.Origin()] != c {
		return false
	}
	delete(r.conns, c.Origin())
	return true
}

// Get returns the Connection registered for origin.
func (r *Registry) Get(origin string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[origin]
	return c, ok
}

// Len returns the number of registered Connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every registered Connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
