package keel

import (
	"context"
	"fmt"
	"reflect"
	"slices"
)

// Built-in scope names.
const (
	// ScopeSingleton keeps one instance per container.
	ScopeSingleton = "singleton"
	// ScopeTransient builds a new instance for every request.
	ScopeTransient = "transient"
	// ScopePrototype is an alias of ScopeTransient.
	ScopePrototype = "prototype"
	// ScopeRequest keeps one instance per ScopeContext.
	ScopeRequest = "request"
)

// InferDestroyMethod asks the container to call Close or Shutdown on
// destruction when the component has one.
const InferDestroyMethod = "(inferred)"

// Role describes who contributed a definition. Higher roles may silently
// replace definitions of lower roles.
type Role int

const (
	// RoleApplication marks definitions written by the application.
	RoleApplication Role = iota
	// RoleSupport marks definitions that support a larger configuration.
	RoleSupport
	// RoleInfrastructure marks definitions that are purely internal.
	RoleInfrastructure
)

func (r Role) String() string {
	switch r {
	case RoleApplication:
		return "application"
	case RoleSupport:
		return "support"
	case RoleInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// AutowireMode selects how exported fields are filled after construction.
// Constructor parameters are autowired for every mode except AutowireNo.
type AutowireMode int

const (
	// AutowireDefault inherits the parent's mode, falling back to tag-only injection.
	AutowireDefault AutowireMode = iota
	// AutowireNo disables autowiring; only explicit arguments and properties apply.
	AutowireNo
	// AutowireByName fills nil exported fields from components named like the field.
	AutowireByName
	// AutowireByType fills nil exported fields from the unique component of the field type.
	AutowireByType
	// AutowireConstructor only autowires constructor parameters.
	AutowireConstructor
)

func (m AutowireMode) String() string {
	switch m {
	case AutowireDefault:
		return "default"
	case AutowireNo:
		return "no"
	case AutowireByName:
		return "byName"
	case AutowireByType:
		return "byType"
	case AutowireConstructor:
		return "constructor"
	default:
		return "unknown"
	}
}

// Executable is a constructor candidate: a function returning the component,
// optionally followed by an error.
type Executable struct {
	Fn any
	// ParamNames names the parameters positionally, used for named arguments
	// and the name-match fallback during autowiring.
	ParamNames []string
	// NonPublic candidates are only considered when non-public access is allowed.
	NonPublic bool
}

// Ctor declares a public constructor candidate.
func Ctor(fn any, paramNames ...string) Executable {
	return Executable{Fn: fn, ParamNames: paramNames}
}

// Hidden declares a non-public constructor candidate.
func Hidden(fn any, paramNames ...string) Executable {
	return Executable{Fn: fn, ParamNames: paramNames, NonPublic: true}
}

// Definition is the blueprint of a component. Unset fields of a child
// definition inherit the parent's values when Parent is set.
type Definition struct {
	// Type is the component type. It is used for by-type matching before an
	// instance exists and, when no constructor is given, for zero-value
	// instantiation of struct pointers.
	Type reflect.Type

	Constructors []Executable

	// Supplier builds the instance directly, bypassing constructor resolution.
	Supplier func(ctx context.Context) (any, error)

	// FactoryComponent and FactoryMethod build the instance by calling an
	// exported method on another component.
	FactoryComponent string
	FactoryMethod    string

	Scope    string
	Lazy     *bool
	Abstract bool
	Parent   string

	// DependsOn lists components that must be created first.
	DependsOn []string

	Args       []Value
	Properties []Property
	Autowire   AutowireMode

	// AutowireCandidate excludes the component from by-type lookups when false.
	AutowireCandidate *bool
	Primary           bool
	Priority          *int
	Order             *int
	Qualifiers        []string
	Aliases           []string
	Role              Role

	InitMethods    []string
	DestroyMethods []string

	NonPublicAccess *bool
	Lenient         *bool

	Description string
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}

	cp := *d
	cp.Constructors = slices.Clone(d.Constructors)
	cp.DependsOn = slices.Clone(d.DependsOn)
	cp.Qualifiers = slices.Clone(d.Qualifiers)
	cp.Aliases = slices.Clone(d.Aliases)
	cp.InitMethods = slices.Clone(d.InitMethods)
	cp.DestroyMethods = slices.Clone(d.DestroyMethods)
	cp.Lazy = clonePtr(d.Lazy)
	cp.AutowireCandidate = clonePtr(d.AutowireCandidate)
	cp.Priority = clonePtr(d.Priority)
	cp.Order = clonePtr(d.Order)
	cp.NonPublicAccess = clonePtr(d.NonPublicAccess)
	cp.Lenient = clonePtr(d.Lenient)

	if d.Args != nil {
		cp.Args = make([]Value, len(d.Args))
		for i, v := range d.Args {
			cp.Args[i] = v.clone()
		}
	}

	if d.Properties != nil {
		cp.Properties = make([]Property, len(d.Properties))
		for i, p := range d.Properties {
			cp.Properties[i] = Property{Name: p.Name, Value: p.Value.clone()}
		}
	}

	return &cp
}

// IsSingleton reports whether the definition uses the singleton scope.
func (d *Definition) IsSingleton() bool {
	return d.Scope == "" || d.Scope == ScopeSingleton
}

// IsTransient reports whether the definition builds a new instance on every request.
func (d *Definition) IsTransient() bool {
	return d.Scope == ScopeTransient || d.Scope == ScopePrototype
}

// IsLazy reports whether the component is skipped by PreInstantiateSingletons.
func (d *Definition) IsLazy() bool {
	return d.Lazy != nil && *d.Lazy
}

// IsAutowireCandidate reports whether by-type lookups may select this component.
func (d *Definition) IsAutowireCandidate() bool {
	return d.AutowireCandidate == nil || *d.AutowireCandidate
}

// HasQualifier reports whether q is one of the declared qualifiers.
func (d *Definition) HasQualifier(q string) bool {
	return slices.Contains(d.Qualifiers, q)
}

func (d *Definition) validate(name string) error {
	if name == "" {
		return ErrInvalidDefinition(name, "component name cannot be empty")
	}

	if d == nil {
		return ErrInvalidDefinition(name, "definition cannot be nil")
	}

	if d.Supplier != nil && len(d.Constructors) > 0 {
		return ErrInvalidDefinition(name, "supplier and constructors are mutually exclusive")
	}

	if d.FactoryMethod != "" && d.FactoryComponent == "" {
		return ErrInvalidDefinition(name, "factory method requires a factory component")
	}

	if d.FactoryMethod != "" && (d.Supplier != nil || len(d.Constructors) > 0) {
		return ErrInvalidDefinition(name, "factory method cannot be combined with a supplier or constructors")
	}

	for i, ex := range d.Constructors {
		if ex.Fn == nil || reflect.TypeOf(ex.Fn).Kind() != reflect.Func {
			return ErrInvalidDefinition(name, fmt.Sprintf("constructor %d is not a function", i))
		}
	}

	for _, dep := range d.DependsOn {
		if dep == name {
			return ErrInvalidDefinition(name, "component cannot depend on itself")
		}
	}

	if d.Parent == "" && !d.Abstract && d.Type == nil && d.Supplier == nil &&
		len(d.Constructors) == 0 && d.FactoryMethod == "" {
		return ErrInvalidDefinition(name, "definition needs a type, constructor, supplier or factory method")
	}

	return nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}

	v := *p

	return &v
}
