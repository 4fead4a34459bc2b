package keel

import (
	"context"
	"fmt"
	"reflect"
)

// Resolve with type safety.
func Resolve[T any](ctx context.Context, c *Container, name string) (T, error) {
	var zero T

	instance, err := c.getComponent(ctx, name, reflect.TypeOf((*T)(nil)).Elem(), nil)
	if err != nil {
		return zero, err
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, ErrTypeMismatch(name, reflect.TypeOf((*T)(nil)).Elem(), instance)
	}

	return typed, nil
}

// Must resolves or panics - use only during startup.
func Must[T any](ctx context.Context, c *Container, name string) T {
	instance, err := Resolve[T](ctx, c, name)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve %s: %v", name, err))
	}

	return instance
}

// ResolveType resolves the unique component assignable to T.
func ResolveType[T any](ctx context.Context, c *Container) (T, error) {
	var zero T

	instance, err := c.GetByType(ctx, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}

	typed, _ := instance.(T)

	return typed, nil
}

// ResolveAll resolves every component assignable to T, in injection order.
func ResolveAll[T any](ctx context.Context, c *Container) ([]T, error) {
	return NewProvider[T](c, "").All(ctx)
}

// ResolveScope resolves name with sc as the current request scope.
func ResolveScope[T any](ctx context.Context, c *Container, sc *ScopeContext, name string) (T, error) {
	return Resolve[T](WithScopeContext(ctx, sc), c, name)
}

// MustScope resolves from scope or panics.
func MustScope[T any](ctx context.Context, c *Container, sc *ScopeContext, name string) T {
	instance, err := ResolveScope[T](ctx, c, sc, name)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve %s from scope: %v", name, err))
	}

	return instance
}
