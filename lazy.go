package keel

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// deferred is implemented by the lazy handle types. A field or parameter of
// a deferred type is injected with an unresolved handle instead of the
// dependency itself.
type deferred interface {
	bind(c *Container, desc Descriptor)
}

var deferredType = reflect.TypeOf((*deferred)(nil)).Elem()

func isDeferredType(t reflect.Type) bool {
	return t.Kind() == reflect.Ptr && t.Implements(deferredType)
}

// deferredHandle creates a bound handle of type desc.Type. With desc.Eager
// the dependency is checked right away.
func (c *Container) deferredHandle(ctx context.Context, desc Descriptor) (reflect.Value, error) {
	v := reflect.New(desc.Type.Elem())

	h, _ := v.Interface().(deferred)
	h.bind(c, desc)

	if desc.Eager {
		if e, ok := h.(interface{ resolveNow(context.Context) error }); ok {
			if err := e.resolveNow(ctx); err != nil {
				return reflect.Value{}, err
			}
		}
	}

	return v, nil
}

// Lazy wraps a dependency that is resolved on first access.
// This is useful for breaking circular dependencies between constructors or
// deferring creation of expensive components until they are actually needed.
type Lazy[T any] struct {
	c        *Container
	name     string
	desc     Descriptor
	once     sync.Once
	value    T
	err      error
	resolved atomic.Bool
}

// NewLazy creates a lazy handle for the component with the given name.
func NewLazy[T any](c *Container, name string) *Lazy[T] {
	return &Lazy[T]{c: c, name: name}
}

func (l *Lazy[T]) bind(c *Container, desc Descriptor) {
	l.c = c
	l.desc = desc
	l.desc.Type = reflect.TypeOf((*T)(nil)).Elem()
	l.desc.Shape = ShapeAuto
	l.desc.Required = true
}

func (l *Lazy[T]) resolveNow(ctx context.Context) error {
	_, err := l.Get(ctx)

	return err
}

// Get resolves the dependency and returns it.
// The resolution happens only once; subsequent calls return the cached value.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.once.Do(func() {
		var (
			obj any
			err error
		)

		if l.name != "" {
			obj, err = l.c.Get(ctx, l.name)
		} else {
			obj, err = l.c.ResolveDependency(ctx, l.desc)
		}

		if err != nil {
			l.err = err

			return
		}

		typed, ok := obj.(T)
		if !ok {
			var zero T

			l.err = fmt.Errorf("lazy dependency %s: expected type %T, got %T", l.Name(), zero, obj)

			return
		}

		l.value = typed
		l.resolved.Store(true)
	})

	return l.value, l.err
}

// MustGet resolves the dependency and returns it, panicking on error.
func (l *Lazy[T]) MustGet(ctx context.Context) T {
	value, err := l.Get(ctx)
	if err != nil {
		panic(fmt.Sprintf("lazy dependency %s failed: %v", l.Name(), err))
	}

	return value
}

// IsResolved returns true if the dependency has been resolved.
func (l *Lazy[T]) IsResolved() bool {
	return l.resolved.Load()
}

// Name returns the name of the dependency, or the descriptor it was bound
// to when it was injected by type.
func (l *Lazy[T]) Name() string {
	if l.name != "" {
		return l.name
	}

	return l.desc.String()
}

// Provider resolves its dependency again on every call. Injected into a
// component it gives access to transient or scoped components without
// holding one instance.
type Provider[T any] struct {
	c    *Container
	desc Descriptor
}

// NewProvider creates a provider for components of type T. A non-empty
// qualifier restricts the candidates.
func NewProvider[T any](c *Container, qualifier string) *Provider[T] {
	p := &Provider[T]{}
	p.bind(c, Descriptor{Qualifier: qualifier})

	return p
}

func (p *Provider[T]) bind(c *Container, desc Descriptor) {
	p.c = c
	p.desc = desc
	p.desc.Type = reflect.TypeOf((*T)(nil)).Elem()
	p.desc.Shape = ShapeSingle
}

func (p *Provider[T]) resolve(ctx context.Context, desc Descriptor) (T, bool, error) {
	var zero T

	obj, err := p.c.ResolveDependency(ctx, desc)
	if err != nil || obj == nil {
		return zero, false, err
	}

	typed, ok := obj.(T)
	if !ok {
		return zero, false, fmt.Errorf("provider %s: expected type %T, got %T", desc, zero, obj)
	}

	return typed, true, nil
}

// Get resolves the unique matching component.
func (p *Provider[T]) Get(ctx context.Context) (T, error) {
	desc := p.desc
	desc.Required = true

	v, _, err := p.resolve(ctx, desc)

	return v, err
}

// IfAvailable resolves the component if one exists. Several candidates that
// cannot be narrowed to one are still an error.
func (p *Provider[T]) IfAvailable(ctx context.Context) (T, bool, error) {
	desc := p.desc
	desc.Required = false

	return p.resolve(ctx, desc)
}

// IfUnique resolves the component only if exactly one can be selected.
func (p *Provider[T]) IfUnique(ctx context.Context) (T, bool, error) {
	desc := p.desc
	desc.Required = false
	desc.AcceptNonUnique = true

	return p.resolve(ctx, desc)
}

// All resolves every matching component in injection order.
func (p *Provider[T]) All(ctx context.Context) ([]T, error) {
	desc := p.desc
	desc.Type = reflect.TypeOf((*[]T)(nil)).Elem()
	desc.Shape = ShapeSlice
	desc.Required = false

	obj, err := p.c.ResolveDependency(ctx, desc)
	if err != nil || obj == nil {
		return nil, err
	}

	out, _ := obj.([]T)

	return out, nil
}
