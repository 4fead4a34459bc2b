package keel

import (
	"context"
	"reflect"
)

// Key provides type-safe component identification.
// Use NewKey to create typed keys for your components.
type Key[T any] struct {
	name string
}

// NewKey creates a new typed component key.
// The type parameter T ensures type safety when registering and resolving components.
//
// Example:
//
//	var DatabaseKey = keel.NewKey[*Database]("database")
//	var UserServiceKey = keel.NewKey[*UserService]("userService")
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the component name of the key.
func (k Key[T]) Name() string {
	return k.name
}

// Type returns T.
func (k Key[T]) Type() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// RegisterKey registers def under the key name. A definition without a
// Type gets T, so the component is found by type before it is created.
//
// Example:
//
//	keel.RegisterKey(c, DatabaseKey, &keel.Definition{
//	    Constructors: []keel.Executable{keel.Ctor(NewDatabase)},
//	})
func RegisterKey[T any](c *Container, key Key[T], def *Definition) error {
	if def != nil && def.Type == nil && def.Parent == "" {
		def = def.Clone()
		def.Type = key.Type()
	}

	return c.RegisterDefinition(key.name, def)
}

// GetKey resolves a component using a typed key.
//
// Example:
//
//	db, err := keel.GetKey(ctx, c, DatabaseKey)
func GetKey[T any](ctx context.Context, c *Container, key Key[T]) (T, error) {
	return Resolve[T](ctx, c, key.name)
}

// MustKey resolves a component using a typed key and panics on error.
func MustKey[T any](ctx context.Context, c *Container, key Key[T]) T {
	result, err := GetKey(ctx, c, key)
	if err != nil {
		panic(err)
	}

	return result
}

// HasKey checks if a component is known under the key name.
func HasKey[T any](c *Container, key Key[T]) bool {
	return c.ContainsComponent(key.name)
}

// InspectKey returns diagnostic information about a component using a typed key.
func InspectKey[T any](c *Container, key Key[T]) ComponentInfo {
	return c.Inspect(key.name)
}
