package keel

import (
	"context"
	"fmt"
	"reflect"
)

// NameAware components are told the name they were created under.
type NameAware interface {
	SetComponentName(name string)
}

// ContainerAware components receive the container that created them.
// Lookups made while the component is still being created, for example from
// AfterPropertiesSet, must use the ctx handed to that callback. A lookup with
// an unrelated context waits for the creation in progress and deadlocks.
type ContainerAware interface {
	SetContainer(c *Container)
}

// Initializer components are called once their properties are populated.
// ctx carries the ongoing creation; pass it on to any Get.
type Initializer interface {
	AfterPropertiesSet(ctx context.Context) error
}

// SingletonsInstantiated components are called once PreInstantiateSingletons
// has created every non-lazy singleton.
type SingletonsInstantiated interface {
	AfterSingletonsInstantiated(ctx context.Context) error
}

// initialize runs, in order: aware callbacks, before-initialization
// processors, AfterPropertiesSet, named init methods and after-initialization
// processors. It returns the possibly replaced object.
func (c *Container) initialize(ctx context.Context, name string, md *mergedDefinition, obj any) (any, error) {
	if aware, ok := obj.(NameAware); ok {
		aware.SetComponentName(name)
	}

	if aware, ok := obj.(ContainerAware); ok {
		aware.SetContainer(c)
	}

	current, err := c.applyBeforeInitialization(ctx, name, obj)
	if err != nil {
		return nil, err
	}

	initializer, isInitializer := current.(Initializer)
	if isInitializer {
		if err := initializer.AfterPropertiesSet(ctx); err != nil {
			return nil, fmt.Errorf("AfterPropertiesSet: %w", err)
		}
	}

	for _, m := range md.InitMethods {
		if isInitializer && m == "AfterPropertiesSet" {
			continue
		}

		if err := callLifecycleMethod(ctx, current, m); err != nil {
			return nil, fmt.Errorf("init method %s: %w", m, err)
		}
	}

	return c.applyAfterInitialization(ctx, name, current)
}

// callLifecycleMethod calls an exported no-result or error-returning method,
// passing ctx when the method takes a context.
func callLifecycleMethod(ctx context.Context, obj any, name string) error {
	m := reflect.ValueOf(obj).MethodByName(name)
	if !m.IsValid() {
		return fmt.Errorf("method %s not found on %T", name, obj)
	}

	mt := m.Type()

	var args []reflect.Value

	switch {
	case mt.NumIn() == 0:
	case mt.NumIn() == 1 && mt.In(0) == contextType:
		args = []reflect.Value{reflect.ValueOf(ctx)}
	default:
		return fmt.Errorf("method %s must take no arguments or a context.Context", name)
	}

	switch {
	case mt.NumOut() == 0:
		m.Call(args)

		return nil
	case mt.NumOut() == 1 && mt.Out(0) == errorType:
		out := m.Call(args)
		if out[0].IsNil() {
			return nil
		}

		err, _ := out[0].Interface().(error)

		return err
	default:
		return fmt.Errorf("method %s must return nothing or an error", name)
	}
}
