package sandbox

import "sync"

// Factory materializes a sandbox handle for a logical name.
type Factory func(name string) Sandbox

// Registry holds lazily-materialized sandbox handles keyed by logical name.
// Exactly one handle exists per name for the life of the process; handles
// are never removed because the container lifecycle belongs to the host
// platform, not to us.
type Registry struct {
	mu        sync.Mutex
	factory   Factory
	sandboxes map[string]Sandbox
}

// NewRegistry creates a registry backed by the given factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:   factory,
		sandboxes: make(map[string]Sandbox),
	}
}

// Get returns the sandbox handle for name, materializing it on first use.
func (r *Registry) Get(name string) Sandbox {
	r.mu.Lock()
	defer r.mu.Unlock()

	sb, ok := r.sandboxes[name]
	if !ok {
		sb = r.factory(name)
		r.sandboxes[name] = sb
	}
	return sb
}
