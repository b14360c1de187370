package module

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/stupiduntilnot/officebot/internal/commander"
)

// DuplicateModuleError is returned when a name is registered twice.
type DuplicateModuleError struct {
	Name string
}

func (e *DuplicateModuleError) Error() string {
	return fmt.Sprintf("module already registered: %s", e.Name)
}

// Registry stores modules by unique name. It is filled at startup and
// only read once traffic flows.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
	caps    map[string][]string
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{
		modules: map[string]Module{},
		caps:    map[string][]string{},
	}
}

// Register stores m under its name. It does not call Initialize.
func (r *Registry) Register(m Module) error {
	if m == nil {
		return fmt.Errorf("module is nil")
	}
	name := strings.TrimSpace(m.Name())
	if name == "" {
		return fmt.Errorf("module name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[name]; exists {
		return &DuplicateModuleError{Name: name}
	}
	r.modules[name] = m
	r.caps[name] = append([]string(nil), m.Capabilities()...)
	r.order = append(r.order, name)
	return nil
}

// Get returns the named module, or false when it is not registered.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// CapabilitiesDirectory returns a snapshot of name -> capabilities.
func (r *Registry) CapabilitiesDirectory() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.caps))
	for name, caps := range r.caps {
		out[name] = append([]string(nil), caps...)
	}
	return out
}

// Descriptors lists registered modules sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	dir := r.CapabilitiesDirectory()
	names := make([]string, 0, len(dir))
	for name := range dir {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, Descriptor{Name: name, Capabilities: dir[name]})
	}
	return out
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitializeAll calls Initialize on every module in registration order.
func (r *Registry) InitializeAll(mux commander.Mux) error {
	r.mu.RLock()
	mods := make([]Module, 0, len(r.order))
	for _, name := range r.order {
		mods = append(mods, r.modules[name])
	}
	r.mu.RUnlock()

	for _, m := range mods {
		if err := m.Initialize(mux); err != nil {
			return fmt.Errorf("initialize module %s: %w", m.Name(), err)
		}
	}
	return nil
}
