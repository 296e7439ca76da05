package protocol

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a fresh executor instance for a protocol type.
// Constructors must be cheap and side-effect free; the registry calls
// them at most once per type.
type Constructor func() Module

// Registry maps a protocol type to a lazily constructed, cached executor
// instance. Safe for concurrent use; concurrent first-time resolutions
// for the same type observe a single instance.
type Registry struct {
	mu        sync.Mutex
	ctors     map[Type]Constructor
	instances map[Type]Module
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ctors:     make(map[Type]Constructor),
		instances: make(map[Type]Module),
	}
}

// Register binds a constructor to a protocol type. Registering a type
// twice panics: duplicate registrations indicate conflicting executor
// packages, which is a programmer error.
func (r *Registry) Register(t Type, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[t]; exists {
		panic(fmt.Sprintf("protocol: duplicate registration for type %q", t))
	}
	r.ctors[t] = ctor
}

// Resolve returns the executor for the given type, constructing it on
// first use.
func (r *Registry) Resolve(t Type) (Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[t]; ok {
		return inst, nil
	}
	ctor, ok := r.ctors[t]
	if !ok {
		return nil, fmt.Errorf("unknown protocol type %q", t)
	}
	inst := ctor()
	r.instances[t] = inst
	return inst, nil
}

// Types returns the registered protocol types in sorted order.
func (r *Registry) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]Type, 0, len(r.ctors))
	for t := range r.ctors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// defaultRegistry is shared by the executor packages, which register
// themselves in their init functions.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register binds a constructor in the default registry.
func Register(t Type, ctor Constructor) {
	defaultRegistry.Register(t, ctor)
}

// Resolve resolves a type against the default registry.
func Resolve(t Type) (Module, error) {
	return defaultRegistry.Resolve(t)
}
