package image

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the definitions registered at startup. Registration is
// write-once per name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. Re-registering a name fails.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("definition name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("definition %q already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// Put adds or replaces a definition, unlike the write-once Register.
func (r *Registry) Put(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("definition name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	return nil
}

// Remove drops a definition by name. It reports whether one existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[name]; !ok {
		return false
	}
	delete(r.defs, name)
	return true
}

// Get looks up a definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
