package keel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// FactoryPrefix in front of a component name asks for a ComponentFactory
// itself instead of the object it produces.
const FactoryPrefix = "&"

// ComponentFactory is a component that produces the object exposed under
// its name. Get("name") returns the produced object; Get("&name") returns
// the factory.
//
// ObjectType may be called on a zero value of the factory type before the
// factory is created, so it must not depend on the factory's state. A nil
// result leaves the component unmatched by type until it is created.
type ComponentFactory interface {
	Object(ctx context.Context) (any, error)
	ObjectType() reflect.Type
	// IsSingleton reports whether the produced object is cached. It only
	// applies when the factory itself is a singleton.
	IsSingleton() bool
}

var componentFactoryType = reflect.TypeOf((*ComponentFactory)(nil)).Elem()

func isFactoryDereference(name string) bool {
	return strings.HasPrefix(name, FactoryPrefix)
}

// transformedName strips any factory dereference prefix.
func transformedName(name string) string {
	return strings.TrimLeft(name, FactoryPrefix)
}

// objectForInstance returns what Get hands out for obj: the object produced
// by a ComponentFactory, or obj itself.
func (c *Container) objectForInstance(ctx context.Context, r *resolution, name, canonical string, obj any, requiredType reflect.Type) (any, error) {
	factory, isFactory := obj.(ComponentFactory)

	if isFactoryDereference(name) {
		if !isFactory {
			return nil, ErrTypeMismatch(canonical, componentFactoryType, obj)
		}

		return checkType(canonical, obj, requiredType)
	}

	if !isFactory {
		return checkType(canonical, obj, requiredType)
	}

	product, err := c.objectFromFactory(ctx, r, canonical, factory)
	if err != nil {
		return nil, err
	}

	return checkType(canonical, product, requiredType)
}

// objectFromFactory caches the product of a singleton factory bound as a
// singleton. Any other factory produces a new object per call.
func (c *Container) objectFromFactory(ctx context.Context, r *resolution, name string, factory ComponentFactory) (any, error) {
	if !factory.IsSingleton() || !c.isFinishedInstance(name, factory) {
		return c.callFactory(ctx, name, factory)
	}

	if product, ok := c.products.Load(name); ok {
		return product, nil
	}

	c.lock.lock(r)
	defer c.lock.unlock(r)

	if product, ok := c.products.Load(name); ok {
		return product, nil
	}

	product, err := c.callFactory(ctx, name, factory)
	if err != nil {
		return nil, err
	}

	c.products.Store(name, product)

	return product, nil
}

// callFactory obtains an object from factory and passes it through the
// after-initialization processors.
func (c *Container) callFactory(ctx context.Context, name string, factory ComponentFactory) (any, error) {
	product, err := factory.Object(ctx)
	if err != nil {
		return nil, newCreationError(name, StateInitialized, fmt.Errorf("component factory: %w", err))
	}

	if product == nil {
		return nil, newCreationError(name, StateInitialized, errors.New("component factory returned nil"))
	}

	product, err = c.applyAfterInitialization(ctx, name, product)
	if err != nil {
		return nil, newCreationError(name, StateInitialized, err)
	}

	return product, nil
}

func (c *Container) isFinishedInstance(name string, obj any) bool {
	finished, ok := c.finished.Load(name)

	return ok && sameInstance(finished, obj)
}

// exposedType maps the type of a component to the type Get returns for it.
// instance is the created component, if any.
func exposedType(t reflect.Type, instance any) reflect.Type {
	if t == nil || !t.Implements(componentFactoryType) {
		return t
	}

	if factory, ok := instance.(ComponentFactory); ok {
		return factory.ObjectType()
	}

	var zero reflect.Value

	switch {
	case t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct:
		zero = reflect.New(t.Elem())
	case t.Kind() != reflect.Interface && t.Kind() != reflect.Ptr:
		zero = reflect.Zero(t)
	default:
		return nil
	}

	factory, ok := zero.Interface().(ComponentFactory)
	if !ok {
		return nil
	}

	return factory.ObjectType()
}
