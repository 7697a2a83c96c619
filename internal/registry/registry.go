// Package registry maps stable names to constructors. Registries are filled
// explicitly at startup and looked up by name afterwards.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a new T.
type Factory[T any] func() (T, error)

// Registry is a named set of factories for one kind of component.
type Registry[T any] struct {
	kind string

	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// New returns an empty registry. kind names the component in errors.
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, factories: make(map[string]Factory[T])}
}

// Register adds f under name. Registering a name twice is an error.
func (r *Registry[T]) Register(name string, f Factory[T]) error {
	if name == "" || f == nil {
		return fmt.Errorf("%s: empty name or nil factory", r.kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("%s %q already registered", r.kind, name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics on error, for static setup.
func (r *Registry[T]) MustRegister(name string, f Factory[T]) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// New builds the component registered under name.
func (r *Registry[T]) New(name string) (T, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("unknown %s %q (have %v)", r.kind, name, r.Names())
	}
	v, err := f()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("build %s %q: %w", r.kind, name, err)
	}
	return v, nil
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
