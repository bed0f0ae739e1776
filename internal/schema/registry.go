package schema

import (
	"sort"
	"sync"
)

type Registry struct {
	mu          sync.RWMutex
	collections map[string]*Collection
}

func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]*Collection)}
}

// Default returns a registry loaded with the built-in collections.
func Default() *Registry {
	r := NewRegistry()
	r.Load(Builtin())
	return r
}

// Get returns the collection with the given name, or nil.
func (r *Registry) Get(name string) *Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collections[name]
}

// All returns every registered collection sorted by name.
func (r *Registry) All() []*Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Collection, 0, len(r.collections))
	for _, c := range r.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Register adds or replaces a single collection.
func (r *Registry) Register(c *Collection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[c.Name] = c
}

// Load replaces all collections in the registry.
func (r *Registry) Load(collections []*Collection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections = make(map[string]*Collection, len(collections))
	for _, c := range collections {
		r.collections[c.Name] = c
	}
}
