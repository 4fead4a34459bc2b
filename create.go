package keel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/xraph/go-utils/errs"
	"github.com/xraph/go-utils/log"
)

// LifecycleState is a stage of the creation pipeline.
type LifecycleState int

// Creation pipeline states, in order.
const (
	StateRequested LifecycleState = iota
	StateDefinitionMerged
	StateDependenciesSatisfied
	StateInstantiated
	StateEarlyExposed
	StatePropertiesPopulated
	StateInitialized
	StateRegistered
	StateDestroyed
)

func (s LifecycleState) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateDefinitionMerged:
		return "definition merge"
	case StateDependenciesSatisfied:
		return "dependency resolution"
	case StateInstantiated:
		return "instantiation"
	case StateEarlyExposed:
		return "early exposure"
	case StatePropertiesPopulated:
		return "property population"
	case StateInitialized:
		return "initialization"
	case StateRegistered:
		return "registration"
	case StateDestroyed:
		return "destruction"
	default:
		return "unknown"
	}
}

// Get returns the component registered under name, creating it if its
// scope holds no instance yet. A component that is a ComponentFactory yields
// its product; prefix the name with FactoryPrefix to get the factory.
//
// Code running during a creation, such as AfterPropertiesSet or a
// ComponentFactory's Object, must pass the ctx it was given. A fresh
// context starts a new resolution that waits for the creation in progress
// and never returns.
func (c *Container) Get(ctx context.Context, name string) (any, error) {
	return c.getComponent(ctx, name, nil, nil)
}

// GetWithArgs creates the component with explicit constructor arguments.
// The arguments are used verbatim and must match a constructor exactly.
// An existing singleton is returned as is.
func (c *Container) GetWithArgs(ctx context.Context, name string, args ...any) (any, error) {
	return c.getComponent(ctx, name, nil, args)
}

func (c *Container) getComponent(ctx context.Context, name string, requiredType reflect.Type, args []any) (any, error) {
	if c.closed.Load() {
		return nil, ErrContainerClosed
	}

	ctx, r, done := enterResolution(ctx)
	defer done()

	canonical := c.canonicalName(transformedName(name))

	if args == nil {
		obj, ok, err := c.getSingleton(r, canonical, true)
		if err != nil {
			return nil, newCreationError(canonical, StateEarlyExposed, err)
		}

		if ok {
			return c.objectForInstance(ctx, r, name, canonical, obj, requiredType)
		}
	}

	// A non-singleton already being built by this call stack is a cycle
	// that no early reference can break.
	if r.isInProgress(c, canonical) {
		return nil, ErrCurrentlyInCreation(canonical)
	}

	if !c.ContainsDefinition(canonical) {
		if c.parent != nil {
			return c.parent.getComponent(ctx, name, requiredType, args)
		}

		return nil, ErrNoSuchComponent(name)
	}

	md, err := c.mergedDefinition(canonical)
	if err != nil {
		return nil, err
	}

	if md.Abstract {
		return nil, ErrAbstractComponent(canonical)
	}

	if err := c.satisfyDependsOn(ctx, canonical, md); err != nil {
		return nil, err
	}

	var obj any

	switch {
	case md.IsSingleton():
		obj, err = c.getOrCreateSingleton(ctx, r, canonical, func() (any, error) {
			return c.createComponent(ctx, canonical, md, args)
		})
	case md.IsTransient():
		obj, err = c.createTracked(ctx, r, canonical, md, args)
	default:
		s, ok := c.RegisteredScope(md.Scope)
		if !ok {
			return nil, ErrUnknownScope(md.Scope, canonical)
		}

		obj, err = s.Get(ctx, canonical, func() (any, error) {
			return c.createTracked(ctx, r, canonical, md, args)
		})
	}

	if err != nil {
		return nil, err
	}

	return c.objectForInstance(ctx, r, name, canonical, obj, requiredType)
}

// satisfyDependsOn creates the declared depends-on components first.
func (c *Container) satisfyDependsOn(ctx context.Context, name string, md *mergedDefinition) error {
	for _, dep := range md.DependsOn {
		depName := c.canonicalName(dep)

		if c.graph.IsDependent(name, depName) {
			return ErrCircularDependsOn(name, depName)
		}

		c.graph.AddDependent(depName, name)

		if _, err := c.getComponent(ctx, depName, nil, nil); err != nil {
			return newCreationError(name, StateDependenciesSatisfied,
				fmt.Errorf("depends-on '%s': %w", dep, err))
		}
	}

	return nil
}

// createTracked creates a non-singleton, marking it in progress for the
// current resolution.
func (c *Container) createTracked(ctx context.Context, r *resolution, name string, md *mergedDefinition, args []any) (any, error) {
	r.begin(c, name)
	defer r.end(c, name)

	return c.createComponent(ctx, name, md, args)
}

// createComponent runs the creation pipeline inside a span and records the
// outcome in the metrics.
func (c *Container) createComponent(ctx context.Context, name string, md *mergedDefinition, args []any) (any, error) {
	start := time.Now()

	ctx, span := c.startCreateSpan(ctx, name, md.Scope)
	obj, err := c.doCreate(ctx, name, md, args)
	endSpan(span, err)

	if err != nil {
		c.metrics.failed(md.Scope)
		c.logger.Debug("component creation failed",
			log.String("component", name),
			log.String("resolution", resolutionID(ctx)),
			log.Error(err),
		)

		return nil, err
	}

	c.metrics.created(md.Scope, time.Since(start))
	c.logger.Debug("created component",
		log.String("component", name),
		log.String("scope", md.Scope),
		log.String("resolution", resolutionID(ctx)),
	)

	return obj, nil
}

func (c *Container) doCreate(ctx context.Context, name string, md *mergedDefinition, args []any) (any, error) {
	substitute, err := c.applyBeforeInstantiation(ctx, name, md)
	if err != nil {
		return nil, newCreationError(name, StateRequested, err)
	}

	if substitute != nil {
		return substitute, nil
	}

	raw, err := c.instantiate(ctx, name, md, args)
	if err != nil {
		return nil, newCreationError(name, StateInstantiated, err)
	}

	if err := c.applyMergedDefinition(ctx, name, md, raw); err != nil {
		return nil, newCreationError(name, StateInstantiated, err)
	}

	obj, err := c.applyAfterInstantiation(ctx, name, raw)
	if err != nil {
		return nil, newCreationError(name, StateInstantiated, err)
	}

	r := resolutionFrom(ctx)

	earlyExposure := md.IsSingleton() && !md.inner &&
		c.config.AllowCircularReferences && c.isSingletonInCreation(name)
	if earlyExposure {
		c.logger.Debug("caching component early to allow circular references",
			log.String("component", name),
			log.String("resolution", resolutionID(ctx)),
		)
		c.addEarlyFactory(name, func() (any, error) {
			return c.applyEarlyReference(ctx, name, obj)
		})
	}

	if err := c.populate(ctx, name, md, obj); err != nil {
		return nil, newCreationError(name, StatePropertiesPopulated, err)
	}

	final, err := c.initialize(ctx, name, md, obj)
	if err != nil {
		return nil, newCreationError(name, StateInitialized, err)
	}

	if earlyExposure {
		final, err = c.reconcileEarlyReference(r, name, obj, final)
		if err != nil {
			return nil, err
		}
	}

	if err := c.registerDisposableIfNecessary(ctx, name, md, obj); err != nil {
		return nil, newCreationError(name, StateRegistered, err)
	}

	return final, nil
}

// reconcileEarlyReference makes sure components that received the early
// reference of name hold the same object Get returns. If initialization
// replaced the object after its early reference was handed out, those
// components hold a stale reference.
func (c *Container) reconcileEarlyReference(r *resolution, name string, raw, final any) (any, error) {
	exposed, ok, err := c.getSingleton(r, name, false)
	if err != nil || !ok {
		return final, err
	}

	if sameInstance(final, raw) {
		return exposed, nil
	}

	if c.config.AllowRawInjectionDespiteWrapping || !c.graph.HasDependents(name) {
		return final, nil
	}

	dependents := c.graph.Dependents(name)

	return nil, newCreationError(name, StateInitialized, errs.NewError(
		CodeCurrentlyInCreation,
		fmt.Sprintf("component '%s' has been injected into other components [%s] in its raw version as part of a circular reference, but has eventually been replaced: those components do not use the final version",
			name, strings.Join(dependents, ", ")),
		nil,
	))
}

// instantiate builds the raw object: supplier, factory method, constructors,
// or the zero value of a struct pointer type, in that order.
func (c *Container) instantiate(ctx context.Context, name string, md *mergedDefinition, args []any) (any, error) {
	var (
		obj any
		err error
	)

	switch {
	case md.Supplier != nil:
		if args != nil {
			return nil, ErrInvalidDefinition(name, "explicit arguments require a constructor or factory method")
		}

		obj, err = md.Supplier(ctx)
		if err == nil && obj == nil {
			err = errors.New("supplier returned nil")
		}
	case md.FactoryMethod != "":
		obj, err = c.instantiateUsingFactoryMethod(ctx, name, md, args)
	case len(md.Constructors) > 0:
		obj, err = c.autowireConstructor(ctx, name, md, args)
	case md.Type != nil:
		if args != nil {
			return nil, ErrInvalidDefinition(name, "explicit arguments require a constructor or factory method")
		}

		if md.Type.Kind() != reflect.Ptr || md.Type.Elem().Kind() != reflect.Struct {
			return nil, ErrInvalidDefinition(name, fmt.Sprintf("type %s cannot be instantiated without a constructor", md.Type))
		}

		obj = reflect.New(md.Type.Elem()).Interface()
	default:
		return nil, ErrInvalidDefinition(name, "no way to instantiate the component")
	}

	if err != nil {
		return nil, err
	}

	if md.Type != nil && !typeMatches(reflect.TypeOf(obj), md.Type) {
		return nil, ErrTypeMismatch(name, md.Type, obj)
	}

	return obj, nil
}

// PreInstantiateSingletons freezes the configuration and creates every
// non-lazy singleton in registration order. Components implementing
// SingletonsInstantiated are called once afterwards.
func (c *Container) PreInstantiateSingletons(ctx context.Context) error {
	if c.closed.Load() {
		return ErrContainerClosed
	}

	c.Freeze()

	names := c.DefinitionNames()

	for _, name := range names {
		md, err := c.mergedDefinition(name)
		if err != nil {
			return err
		}

		if md.Abstract || !md.IsSingleton() || md.IsLazy() {
			continue
		}

		if _, err := c.Get(ctx, name); err != nil {
			return err
		}
	}

	if !c.instantiated.CompareAndSwap(false, true) {
		return nil
	}

	for _, name := range names {
		obj, ok := c.finished.Load(name)
		if !ok {
			continue
		}

		if s, ok := obj.(SingletonsInstantiated); ok {
			if err := s.AfterSingletonsInstantiated(ctx); err != nil {
				return newCreationError(name, StateRegistered, err)
			}
		}
	}

	return nil
}

func checkType(name string, obj any, required reflect.Type) (any, error) {
	if required != nil && !typeMatches(reflect.TypeOf(obj), required) {
		return nil, ErrTypeMismatch(name, required, obj)
	}

	return obj, nil
}

// sameInstance reports reference equality for reference kinds and value
// equality for comparable values.
func sameInstance(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() {
		return !va.IsValid() && !vb.IsValid()
	}

	if va.Type() != vb.Type() {
		return false
	}

	switch va.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	default:
		if va.Type().Comparable() {
			return a == b
		}

		return false
	}
}
