package cache

import "sync"

// Manager maps session IDs to their message caches.
type Manager struct {
	mu     sync.Mutex
	caches map[string]*MessageCache
}

// NewManager creates an empty cache manager.
func NewManager() *Manager {
	return &Manager{caches: make(map[string]*MessageCache)}
}

// GetOrCreate returns the cache for a session, creating it on first use.
func (m *Manager) GetOrCreate(sessionID, fromTeam, toTeam string) *MessageCache {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.caches[sessionID]; ok {
		return c
	}
	c := NewMessageCache(sessionID, fromTeam, toTeam)
	m.caches[sessionID] = c
	return c
}

// Get returns the cache for a session, if present.
func (m *Manager) Get(sessionID string) (*MessageCache, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[sessionID]
	return c, ok
}

// Delete destroys and removes a session's cache.
func (m *Manager) Delete(sessionID string) {
	m.mu.Lock()
	c, ok := m.caches[sessionID]
	delete(m.caches, sessionID)
	m.mu.Unlock()

	if ok {
		c.Destroy()
	}
}

// Len returns the number of live caches.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.caches)
}

// DestroyAll destroys every cache and empties the manager.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	caches := make([]*MessageCache, 0, len(m.caches))
	for _, c := range m.caches {
		caches = append(caches, c)
	}
	m.caches = make(map[string]*MessageCache)
	m.mu.Unlock()

	for _, c := range caches {
		c.Destroy()
	}
}
