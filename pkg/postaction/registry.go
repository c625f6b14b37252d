package postaction

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds post-actions by name. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action. Names must be unique.
func (r *Registry) Register(a Action) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("register post-action: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[a.Name()]; exists {
		return fmt.Errorf("register post-action: %q already registered", a.Name())
	}
	r.actions[a.Name()] = a
	return nil
}

// MustRegister is Register for package init paths; it panics on error.
func (r *Registry) MustRegister(a Action) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// Get returns the action registered under name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Lookup is Get with an error wrapping ErrUnknownAction.
func (r *Registry) Lookup(name string) (Action, error) {
	a, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return a, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
