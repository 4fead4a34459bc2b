package keel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/xraph/go-utils/errs"
	"github.com/xraph/go-utils/log"
)

// earlyFactory produces the early reference of a singleton in creation.
type earlyFactory func() (any, error)

// getSingleton returns a finished singleton. For the resolution holding the
// creation lock it also returns the early reference of a singleton that is
// currently in creation, producing it from the factory cache on first use
// when allowEarly is set.
func (c *Container) getSingleton(r *resolution, name string, allowEarly bool) (any, bool, error) {
	if obj, ok := c.finished.Load(name); ok {
		return obj, true, nil
	}

	if r == nil || !c.lock.heldBy(r) {
		return nil, false, nil
	}

	c.stateMu.Lock()

	if !c.inCreation[name] {
		c.stateMu.Unlock()

		return nil, false, nil
	}

	if obj, ok := c.early[name]; ok {
		c.stateMu.Unlock()

		return obj, true, nil
	}

	factory, ok := c.factories[name]
	if !allowEarly || !ok {
		c.stateMu.Unlock()

		return nil, false, nil
	}

	delete(c.factories, name)
	c.stateMu.Unlock()

	obj, err := factory()
	if err != nil {
		return nil, false, err
	}

	c.stateMu.Lock()
	c.early[name] = obj
	c.stateMu.Unlock()

	c.metrics.earlyReference()
	c.logger.Debug("returning early reference of component in creation",
		log.String("component", name),
	)

	return obj, true, nil
}

// getOrCreateSingleton returns the finished singleton for name, creating it
// with create under the creation lock if needed.
func (c *Container) getOrCreateSingleton(ctx context.Context, r *resolution, name string, create func() (any, error)) (any, error) {
	c.lock.lock(r)
	defer c.lock.unlock(r)

	if c.closed.Load() {
		return nil, ErrContainerClosed
	}

	if obj, ok := c.finished.Load(name); ok {
		return obj, nil
	}

	c.stateMu.Lock()
	if c.inCreation[name] {
		c.stateMu.Unlock()

		return nil, ErrCurrentlyInCreation(name)
	}

	c.inCreation[name] = true
	c.stateMu.Unlock()

	obj, err := create()

	c.stateMu.Lock()
	delete(c.inCreation, name)

	if err != nil {
		delete(c.early, name)
		delete(c.factories, name)
		c.stateMu.Unlock()

		if derr := c.destroySingleton(ctx, name); derr != nil {
			c.logger.Warn("failed to clean up after creation failure",
				log.String("component", name),
				log.Error(derr),
			)
		}

		return nil, err
	}

	c.finished.Store(name, obj)
	delete(c.early, name)
	delete(c.factories, name)

	if !slices.Contains(c.singletons, name) {
		c.singletons = append(c.singletons, name)
	}
	c.stateMu.Unlock()

	return obj, nil
}

// addEarlyFactory exposes a factory for the early reference of a singleton
// in creation.
func (c *Container) addEarlyFactory(name string, factory earlyFactory) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if _, ok := c.finished.Load(name); ok {
		return
	}

	c.factories[name] = factory
	delete(c.early, name)
}

func (c *Container) isSingletonInCreation(name string) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.inCreation[name]
}

func (c *Container) containsSingleton(name string) bool {
	_, ok := c.finished.Load(name)

	return ok
}

// singletonNames returns finished singletons in registration order.
func (c *Container) singletonNames() []string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return slices.Clone(c.singletons)
}

// RegisterSingleton registers a fully built object under name. The object
// takes no part in the lifecycle: it is not populated, initialized or
// destroyed by the container.
func (c *Container) RegisterSingleton(name string, obj any) error {
	if name == "" {
		return ErrInvalidDefinition(name, "component name cannot be empty")
	}

	if obj == nil {
		return ErrInvalidDefinition(name, "singleton object cannot be nil")
	}

	if c.closed.Load() {
		return ErrContainerClosed
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if existing, ok := c.finished.Load(name); ok {
		return errs.NewError(
			CodeDefinitionOverride,
			fmt.Sprintf("could not register object [%T] under name '%s': there is already object [%T] bound", obj, name, existing),
			nil,
		)
	}

	c.finished.Store(name, obj)
	c.singletons = append(c.singletons, name)
	c.manual = append(c.manual, name)
	c.types.invalidate()

	return nil
}

// RegisterResolvableDependency makes value the answer to every dependency
// of exactly type t, without registering it as a component.
func (c *Container) RegisterResolvableDependency(t reflect.Type, value any) error {
	if t == nil {
		return errors.New("resolvable dependency type cannot be nil")
	}

	if value != nil && !reflect.TypeOf(value).AssignableTo(t) {
		return ErrTypeMismatch(t.String(), t, value)
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.resolvable[t] = value

	return nil
}

func (c *Container) resolvableFor(t reflect.Type) (any, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	v, ok := c.resolvable[t]

	return v, ok
}

// DestroySingleton destroys the singleton bound to name. Components that
// depend on it are destroyed first. A later Get creates it again.
func (c *Container) DestroySingleton(ctx context.Context, name string) error {
	_, r, done := enterResolution(ctx)
	defer done()

	c.lock.lock(r)
	defer c.lock.unlock(r)

	return c.destroySingleton(ctx, c.canonicalName(name))
}

// destroySingleton removes name from every cache and destroys it together
// with its dependents and contained components.
func (c *Container) destroySingleton(ctx context.Context, name string) error {
	c.stateMu.Lock()
	c.finished.Delete(name)
	c.products.Delete(name)
	delete(c.early, name)
	delete(c.factories, name)
	c.singletons = slices.DeleteFunc(c.singletons, func(n string) bool { return n == name })
	c.manual = slices.DeleteFunc(c.manual, func(n string) bool { return n == name })

	adapter := c.disposables[name]
	delete(c.disposables, name)
	c.disposeSeq = slices.DeleteFunc(c.disposeSeq, func(n string) bool { return n == name })
	c.stateMu.Unlock()

	c.types.invalidate()

	return c.destroyComponent(ctx, name, adapter)
}

// destroyComponent destroys dependents first, then the component itself,
// then the inner components it contained.
func (c *Container) destroyComponent(ctx context.Context, name string, adapter *disposableAdapter) error {
	dependents, contained := c.graph.Remove(name)

	var errList []error

	for _, dep := range dependents {
		if err := c.destroySingleton(ctx, dep); err != nil {
			errList = append(errList, err)
		}
	}

	if adapter != nil {
		if err := adapter.destroy(ctx); err != nil {
			errList = append(errList, err)
		}
	}

	for _, inner := range contained {
		if err := c.destroySingleton(ctx, inner); err != nil {
			errList = append(errList, err)
		}
	}

	return errors.Join(errList...)
}
