package handle

import (
	"sync"

	"github.com/google/uuid"
)

// URLPrefix is prepended to every handle URL.
const URLPrefix = "blob:"

// Handle is a revocable reference to an in-memory payload.
// The zero Handle is not live and releasing it is a no-op.
type Handle struct {
	URL string
}

// IsZero reports whether h refers to nothing.
func (h Handle) IsZero() bool {
	return h.URL == ""
}

type object struct {
	data     []byte
	mimeType string
}

// Manager owns every live handle of a session.
type Manager struct {
	mu       sync.RWMutex
	objects  map[string]object
	acquired int64
	released int64
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		objects: make(map[string]object),
	}
}

// Acquire registers data under a fresh handle.
func (m *Manager) Acquire(data []byte, mimeType string) Handle {
	h := Handle{URL: URLPrefix + uuid.NewString()}

	m.mu.Lock()
	m.objects[h.URL] = object{data: data, mimeType: mimeType}
	m.acquired++
	m.mu.Unlock()

	return h
}

// Release revokes h. It returns false if h was not live.
func (m *Manager) Release(h Handle) bool {
	if h.IsZero() {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[h.URL]; !ok {
		return false
	}
	delete(m.objects, h.URL)
	m.released++
	return true
}

// Open returns the payload behind a live handle URL.
func (m *Manager) Open(url string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[url]
	if !ok {
		return nil, "", false
	}
	return obj.data, obj.mimeType, true
}

// IsLive reports whether url refers to a live handle.
func (m *Manager) IsLive(url string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[url]
	return ok
}

// Live returns the number of live handles.
func (m *Manager) Live() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Counts returns how many handles were acquired and released in total.
func (m *Manager) Counts() (acquired, released int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.acquired, m.released
}

// ReleaseAll revokes every live handle and returns how many were released.
func (m *Manager) ReleaseAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.objects)
	m.objects = make(map[string]object)
	m.released += int64(n)
	return n
}
