package bot

import "sync"

// Registry collects modules in registration order.
type Registry struct {
	mu      sync.RWMutex
	modules []Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a module to the registry.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	r.modules = append(r.modules, m)
	r.mu.Unlock()
}

// Modules returns a copy of the registered modules so callers cannot mutate
// the registry through the returned slice.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// globalRegistry backs module self-registration from package init functions.
var globalRegistry = NewRegistry()

// Register adds a module to the global registry. Modules call it from their
// init function and get picked up by Bot.LoadModules.
func Register(m Module) {
	globalRegistry.Register(m)
}

// Modules returns the contents of the global registry.
func Modules() []Module {
	return globalRegistry.Modules()
}

// ResetGlobalRegistry replaces the global registry with an empty one. Tests
// use it to isolate registration state.
func ResetGlobalRegistry() {
	globalRegistry = NewRegistry()
}
