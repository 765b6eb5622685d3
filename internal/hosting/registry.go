package hosting

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/flowvm/pkg/interp"
	"github.com/rendis/flowvm/pkg/schema"
)

// Callable is a host-side unit a program invokes by name. It returns a
// sub-event stream that terminates in a result value.
type Callable func(ctx context.Context, args map[string]any) (interp.Stream, error)

// Func adapts a plain function into a Callable with an empty event stream.
// Most callables complete synchronously and use this.
func Func(fn func(ctx context.Context, args map[string]any) (any, error)) Callable {
	return func(ctx context.Context, args map[string]any) (interp.Stream, error) {
		value, err := fn(ctx, args)
		return interp.NewSliceStream(nil, value, err), nil
	}
}

// Registry is a thread-safe name-to-callable map.
type Registry struct {
	mu        sync.RWMutex
	callables map[string]Callable
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{callables: make(map[string]Callable)}
}

// Register adds a callable. Returns error on duplicate or empty name.
func (r *Registry) Register(name string, c Callable) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "callable name is empty")
	}
	if c == nil {
		return schema.NewError(schema.ErrCodeValidation, "callable is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.callables[name]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "callable %q already registered", name)
	}
	r.callables[name] = c
	return nil
}

// Get retrieves a callable by name.
func (r *Registry) Get(name string) (Callable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.callables[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeHost, "callable %q not registered", name)
	}
	return c, nil
}

// Has checks if a callable is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.callables[name]
	return ok
}

// Names returns all registered callable names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.callables))
	for name := range r.callables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
