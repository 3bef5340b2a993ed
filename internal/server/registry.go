package server

import "sync"

// Registry maps a durable user id to the connection currently addressable by
// that identity. At most one connection per user id: a later Bind for the
// same id takes over addressability, the earlier connection stays open but
// can no longer be reached by identity.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]*Client),
	}
}

// Bind upserts the mapping userId -> c. It returns the connection the bind
// evicted, if any, and whether the user id had no prior binding. Binding the
// same connection twice is a no-op.
func (r *Registry) Bind(userId string, c *Client) (evicted *Client, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.byUser[userId]
	if prev == c {
		return nil, false
	}

	r.byUser[userId] = c
	if !ok {
		return nil, true
	}
	return prev, false
}

// Resolve returns the connection currently bound to userId. A miss is a
// normal condition, not an error.
func (r *Registry) Resolve(userId string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byUser[userId]
	return c, ok
}

// Unbind releases the mapping for userId only if it still points at c, so a
// stale disconnect cannot evict a newer binding. It reports whether the
// mapping was released.
func (r *Registry) Unbind(userId string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[userId] != c {
		return false
	}

	delete(r.byUser, userId)
	return true
}

func (r *Registry) NumBound() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser)
}
