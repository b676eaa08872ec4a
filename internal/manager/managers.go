package manager

import (
	"sort"
	"sync"

	"github.com/rendis/dccmcp/pkg/schema"
)

// Managers is a concurrency-safe collection of managers keyed by
// "scope:name". Hosts that serve several DCCs keep one of these instead of
// a process-wide cache.
type Managers struct {
	mu       sync.Mutex
	managers map[string]*Manager
}

// NewManagers creates an empty collection.
func NewManagers() *Managers {
	return &Managers{managers: make(map[string]*Manager)}
}

func managerKey(scope, name string) string {
	if scope == "" {
		scope = schema.AnyScope
	}
	if name == "" {
		name = scope
	}
	return scope + ":" + name
}

// GetOrCreate returns the manager for opts.Scope and opts.Name, creating it
// from opts on first use. Later calls ignore the remaining options.
func (ms *Managers) GetOrCreate(opts Options) (*Manager, error) {
	key := managerKey(opts.Scope, opts.Name)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if m, ok := ms.managers[key]; ok {
		return m, nil
	}
	m, err := New(opts)
	if err != nil {
		return nil, err
	}
	ms.managers[key] = m
	return m, nil
}

// Get returns an existing manager.
func (ms *Managers) Get(scope, name string) (*Manager, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, ok := ms.managers[managerKey(scope, name)]
	return m, ok
}

// Remove closes and forgets a manager.
func (ms *Managers) Remove(scope, name string) bool {
	key := managerKey(scope, name)
	ms.mu.Lock()
	m, ok := ms.managers[key]
	delete(ms.managers, key)
	ms.mu.Unlock()
	if ok {
		m.Close()
	}
	return ok
}

// Keys lists the managed "scope:name" keys in order.
func (ms *Managers) Keys() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	keys := make([]string, 0, len(ms.managers))
	for k := range ms.managers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close closes every manager and empties the collection.
func (ms *Managers) Close() {
	ms.mu.Lock()
	all := ms.managers
	ms.managers = make(map[string]*Manager)
	ms.mu.Unlock()
	for _, m := range all {
		m.Close()
	}
}
