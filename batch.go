package keel

import "fmt"

// ComponentRegistration holds a definition to be registered under Name.
type ComponentRegistration struct {
	Name       string
	Definition *Definition
}

// Component creates a ComponentRegistration for batch registration.
//
// Example:
//
//	c.RegisterDefinitions(
//	    keel.Component("db", &keel.Definition{Constructors: []keel.Executable{keel.Ctor(NewDatabase)}}),
//	    keel.Component("cache", &keel.Definition{Constructors: []keel.Executable{keel.Ctor(NewCache)}}),
//	)
func Component(name string, def *Definition) ComponentRegistration {
	return ComponentRegistration{
		Name:       name,
		Definition: def,
	}
}

// RegisterDefinitions registers multiple definitions in order and stops at
// the first failure. Definitions registered before the failure stay.
func (c *Container) RegisterDefinitions(regs ...ComponentRegistration) error {
	for _, reg := range regs {
		if err := c.RegisterDefinition(reg.Name, reg.Definition); err != nil {
			return fmt.Errorf("register %s: %w", reg.Name, err)
		}
	}

	return nil
}

// KeyedRegistration pairs a typed key with its definition.
type KeyedRegistration[T any] struct {
	Key        Key[T]
	Definition *Definition
}

// KeyedComponent creates a KeyedRegistration for batch registration with keys.
func KeyedComponent[T any](key Key[T], def *Definition) KeyedRegistration[T] {
	return KeyedRegistration[T]{Key: key, Definition: def}
}

// RegisterKeyed registers multiple keyed definitions of the same type.
func RegisterKeyed[T any](c *Container, regs ...KeyedRegistration[T]) error {
	for _, reg := range regs {
		if err := RegisterKey(c, reg.Key, reg.Definition); err != nil {
			return fmt.Errorf("register %s: %w", reg.Key.Name(), err)
		}
	}

	return nil
}
