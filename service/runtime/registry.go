package runtime

import "sync"

// Registry is a map-backed Source that runtimes register their handles into.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]any
}

func NewRegistry() *Registry {
	return &Registry{
		handles: map[string]any{},
	}
}

func (r *Registry) Register(name string, handle any) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[name] = handle
	return r
}

func (r *Registry) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.handles[name]
	return v, ok
}
