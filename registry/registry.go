// Package registry is an in-memory function registry for the dispatcher.
//
// Functions are registered by category and name; handlers additionally by
// HTTP method. A handler registered without methods answers every method
// that has no more specific registration.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cloudcode/handler"
)

// ErrDuplicate is wrapped by every registration error caused by a name that
// is already taken.
var ErrDuplicate = errors.New("already registered")

// anyMethod is the method key of handlers registered without methods.
const anyMethod = "*"

// Registry implements handler.Registry. The zero value is not usable; call New.
type Registry struct {
	mu       sync.RWMutex
	funcs    map[handler.Category]map[string]handler.Func
	handlers map[string]map[string]handler.HandlerFunc
}

var _ handler.Registry = (*Registry)(nil)

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		funcs: map[handler.Category]map[string]handler.Func{
			handler.CategoryHook:  {},
			handler.CategoryOp:    {},
			handler.CategoryTimer: {},
		},
		handlers: map[string]map[string]handler.HandlerFunc{},
	}
}

// RegisterHook registers a hook callback.
func (r *Registry) RegisterHook(name string, fn handler.Func) error {
	return r.register(handler.CategoryHook, name, fn)
}

// RegisterOp registers an op callback.
func (r *Registry) RegisterOp(name string, fn handler.Func) error {
	return r.register(handler.CategoryOp, name, fn)
}

// RegisterTimer registers a timer callback.
func (r *Registry) RegisterTimer(name string, fn handler.Func) error {
	return r.register(handler.CategoryTimer, name, fn)
}

func (r *Registry) register(category handler.Category, name string, fn handler.Func) error {
	if name == "" {
		return fmt.Errorf("register %s: name is required", category)
	}
	if fn == nil {
		return fmt.Errorf("register %s %q: nil function", category, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[category][name]; exists {
		return fmt.Errorf("register %s %q: %w", category, name, ErrDuplicate)
	}
	r.funcs[category][name] = fn
	return nil
}

// RegisterHandler registers fn for name and the given methods. With no
// methods the handler answers any method.
func (r *Registry) RegisterHandler(name string, fn handler.HandlerFunc, methods ...string) error {
	if name == "" {
		return fmt.Errorf("register handler: name is required")
	}
	if fn == nil {
		return fmt.Errorf("register handler %q: nil function", name)
	}

	keys := make([]string, 0, len(methods))
	for _, m := range methods {
		keys = append(keys, strings.ToUpper(m))
	}
	if len(keys) == 0 {
		keys = append(keys, anyMethod)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byMethod, ok := r.handlers[name]
	if !ok {
		byMethod = map[string]handler.HandlerFunc{}
		r.handlers[name] = byMethod
	}

	for _, m := range keys {
		if _, exists := byMethod[m]; exists {
			return fmt.Errorf("register handler %q (%s): %w", name, m, ErrDuplicate)
		}
	}
	for _, m := range keys {
		byMethod[m] = fn
	}
	return nil
}

// MustRegisterHook is like RegisterHook but panics on error.
func (r *Registry) MustRegisterHook(name string, fn handler.Func) {
	if err := r.RegisterHook(name, fn); err != nil {
		panic(err)
	}
}

// MustRegisterOp is like RegisterOp but panics on error.
func (r *Registry) MustRegisterOp(name string, fn handler.Func) {
	if err := r.RegisterOp(name, fn); err != nil {
		panic(err)
	}
}

// MustRegisterTimer is like RegisterTimer but panics on error.
func (r *Registry) MustRegisterTimer(name string, fn handler.Func) {
	if err := r.RegisterTimer(name, fn); err != nil {
		panic(err)
	}
}

// MustRegisterHandler is like RegisterHandler but panics on error.
func (r *Registry) MustRegisterHandler(name string, fn handler.HandlerFunc, methods ...string) {
	if err := r.RegisterHandler(name, fn, methods...); err != nil {
		panic(err)
	}
}

// Lookup implements handler.Registry.
func (r *Registry) Lookup(category handler.Category, name string) (handler.Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[category][name]
	return fn, ok
}

// LookupHandler implements handler.Registry. Method matching is
// case-insensitive; an exact method wins over a handler for any method.
func (r *Registry) LookupHandler(name, method string) (handler.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byMethod, ok := r.handlers[name]
	if !ok {
		return nil, false
	}
	if fn, ok := byMethod[strings.ToUpper(method)]; ok {
		return fn, true
	}
	fn, ok := byMethod[anyMethod]
	return fn, ok
}

// FuncList implements handler.Registry. Names are sorted and appear once
// even when registered in several categories.
func (r *Registry) FuncList() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, byName := range r.funcs {
		for name := range byName {
			seen[name] = struct{}{}
		}
	}
	for name := range r.handlers {
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
