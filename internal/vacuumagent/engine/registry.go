package engine

import (
	"context"
	"sync"

	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/core"
)

// LookupFunc resolves or creates a named resource and returns its handle.
type LookupFunc func(ctx context.Context, name string) (string, error)

// Ensure looks name up and creates it on a failed lookup. A failed creation
// after a failed lookup returns a *core.ProvisionError.
func Ensure(ctx context.Context, resource, name string, find, create LookupFunc) (string, error) {
	handle, lookupErr := find(ctx, name)
	if lookupErr == nil {
		return handle, nil
	}

	handle, createErr := create(ctx, name)
	if createErr != nil {
		return "", &core.ProvisionError{Resource: resource, Name: name, LookupErr: lookupErr, CreateErr: createErr}
	}
	return handle, nil
}

// Registry maps logical topic names to sink handles. It is filled once at
// construction and only read afterwards, except for removals on teardown.
type Registry struct {
	mu      sync.RWMutex
	names   []string
	handles map[string]string
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]string)}
}

// Provision ensures every named topic exists. It stops at the first failure.
func (r *Registry) Provision(ctx context.Context, p core.TopicProvisioner, names ...string) error {
	for _, name := range names {
		if _, ok := r.Handle(name); ok {
			continue
		}
		handle, err := Ensure(ctx, "topic", name, p.FindTopic, p.CreateTopic)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.names = append(r.names, name)
		r.handles[name] = handle
		r.mu.Unlock()
	}
	return nil
}

// Handle returns the handle registered for name.
func (r *Registry) Handle(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	return h, ok
}

// Names returns the registered names in provisioning order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Remove forgets name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[name]; !ok {
		return
	}
	delete(r.handles, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
}
