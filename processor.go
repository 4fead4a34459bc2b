package keel

import (
	"context"
	"errors"
	"reflect"
)

// Processors hook into component creation and destruction. A processor
// implements one or more of the interfaces below and is registered with
// AddProcessor. Processors run in registration order.

// BeforeInstantiationProcessor may supply an instance in place of the
// regular instantiation. Returning a non-nil object short-circuits creation:
// only after-initialization processors run on it.
type BeforeInstantiationProcessor interface {
	BeforeInstantiation(ctx context.Context, name string, def *Definition) (any, error)
}

// MergedDefinitionProcessor sees the merged definition of a component once,
// right after its first instance is built and before properties are
// populated. typ is the type of that instance. Changes it makes to def, such
// as added properties or init methods, apply to every later creation.
type MergedDefinitionProcessor interface {
	ProcessMergedDefinition(ctx context.Context, name string, def *Definition, typ reflect.Type) error
}

// AfterInstantiationProcessor runs after instantiation, before properties
// are populated. It returns the same or a replacement object.
type AfterInstantiationProcessor interface {
	AfterInstantiation(ctx context.Context, name string, obj any) (any, error)
}

// EarlyReferenceProcessor wraps the early reference handed out while a
// singleton is part of a circular reference.
type EarlyReferenceProcessor interface {
	EarlyReference(ctx context.Context, name string, obj any) (any, error)
}

// BeforeInitializationProcessor runs before init callbacks.
type BeforeInitializationProcessor interface {
	BeforeInitialization(ctx context.Context, name string, obj any) (any, error)
}

// AfterInitializationProcessor runs after init callbacks and may replace
// the final reference, for example with a wrapper.
type AfterInitializationProcessor interface {
	AfterInitialization(ctx context.Context, name string, obj any) (any, error)
}

// DestructionProcessor runs before a component is destroyed.
type DestructionProcessor interface {
	BeforeDestruction(ctx context.Context, name string, obj any) error
	// RequiresDestruction reports whether obj needs BeforeDestruction at all.
	RequiresDestruction(obj any) bool
}

// FuncProcessor wraps functions as a processor. Nil functions pass the
// object through unchanged.
type FuncProcessor struct {
	BeforeInstantiationFunc  func(ctx context.Context, name string, def *Definition) (any, error)
	MergedDefinitionFunc     func(ctx context.Context, name string, def *Definition, typ reflect.Type) error
	AfterInstantiationFunc   func(ctx context.Context, name string, obj any) (any, error)
	EarlyReferenceFunc       func(ctx context.Context, name string, obj any) (any, error)
	BeforeInitializationFunc func(ctx context.Context, name string, obj any) (any, error)
	AfterInitializationFunc  func(ctx context.Context, name string, obj any) (any, error)
	BeforeDestructionFunc    func(ctx context.Context, name string, obj any) error
}

// BeforeInstantiation implements BeforeInstantiationProcessor.
func (f *FuncProcessor) BeforeInstantiation(ctx context.Context, name string, def *Definition) (any, error) {
	if f.BeforeInstantiationFunc != nil {
		return f.BeforeInstantiationFunc(ctx, name, def)
	}

	return nil, nil
}

// ProcessMergedDefinition implements MergedDefinitionProcessor.
func (f *FuncProcessor) ProcessMergedDefinition(ctx context.Context, name string, def *Definition, typ reflect.Type) error {
	if f.MergedDefinitionFunc != nil {
		return f.MergedDefinitionFunc(ctx, name, def, typ)
	}

	return nil
}

// AfterInstantiation implements AfterInstantiationProcessor.
func (f *FuncProcessor) AfterInstantiation(ctx context.Context, name string, obj any) (any, error) {
	if f.AfterInstantiationFunc != nil {
		return f.AfterInstantiationFunc(ctx, name, obj)
	}

	return obj, nil
}

// EarlyReference implements EarlyReferenceProcessor.
func (f *FuncProcessor) EarlyReference(ctx context.Context, name string, obj any) (any, error) {
	if f.EarlyReferenceFunc != nil {
		return f.EarlyReferenceFunc(ctx, name, obj)
	}

	return obj, nil
}

// BeforeInitialization implements BeforeInitializationProcessor.
func (f *FuncProcessor) BeforeInitialization(ctx context.Context, name string, obj any) (any, error) {
	if f.BeforeInitializationFunc != nil {
		return f.BeforeInitializationFunc(ctx, name, obj)
	}

	return obj, nil
}

// AfterInitialization implements AfterInitializationProcessor.
func (f *FuncProcessor) AfterInitialization(ctx context.Context, name string, obj any) (any, error) {
	if f.AfterInitializationFunc != nil {
		return f.AfterInitializationFunc(ctx, name, obj)
	}

	return obj, nil
}

// BeforeDestruction implements DestructionProcessor.
func (f *FuncProcessor) BeforeDestruction(ctx context.Context, name string, obj any) error {
	if f.BeforeDestructionFunc != nil {
		return f.BeforeDestructionFunc(ctx, name, obj)
	}

	return nil
}

// RequiresDestruction implements DestructionProcessor.
func (f *FuncProcessor) RequiresDestruction(any) bool {
	return f.BeforeDestructionFunc != nil
}

// processorSet keeps processors split by capability.
type processorSet struct {
	beforeInstantiation  []BeforeInstantiationProcessor
	mergedDefinition     []MergedDefinitionProcessor
	afterInstantiation   []AfterInstantiationProcessor
	earlyReference       []EarlyReferenceProcessor
	beforeInitialization []BeforeInitializationProcessor
	afterInitialization  []AfterInitializationProcessor
	destruction          []DestructionProcessor
}

// AddProcessor registers p for every processor interface it implements.
// Processors apply to components created after registration.
func (c *Container) AddProcessor(p any) error {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	matched := false

	if v, ok := p.(BeforeInstantiationProcessor); ok {
		c.processors.beforeInstantiation = append(c.processors.beforeInstantiation, v)
		matched = true
	}

	if v, ok := p.(MergedDefinitionProcessor); ok {
		c.processors.mergedDefinition = append(c.processors.mergedDefinition, v)
		matched = true
	}

	if v, ok := p.(AfterInstantiationProcessor); ok {
		c.processors.afterInstantiation = append(c.processors.afterInstantiation, v)
		matched = true
	}

	if v, ok := p.(EarlyReferenceProcessor); ok {
		c.processors.earlyReference = append(c.processors.earlyReference, v)
		matched = true
	}

	if v, ok := p.(BeforeInitializationProcessor); ok {
		c.processors.beforeInitialization = append(c.processors.beforeInitialization, v)
		matched = true
	}

	if v, ok := p.(AfterInitializationProcessor); ok {
		c.processors.afterInitialization = append(c.processors.afterInitialization, v)
		matched = true
	}

	if v, ok := p.(DestructionProcessor); ok {
		c.processors.destruction = append(c.processors.destruction, v)
		matched = true
	}

	if !matched {
		return errors.New("processor implements no processor interface")
	}

	return nil
}

func (c *Container) processorsSnapshot() processorSet {
	c.procMu.RLock()
	defer c.procMu.RUnlock()

	return c.processors
}

// applyBeforeInstantiation returns the first non-nil substitute, passed
// through the after-initialization processors.
func (c *Container) applyBeforeInstantiation(ctx context.Context, name string, md *mergedDefinition) (any, error) {
	ps := c.processorsSnapshot()

	for _, p := range ps.beforeInstantiation {
		obj, err := p.BeforeInstantiation(ctx, name, md.Definition)
		if err != nil {
			return nil, err
		}

		if obj != nil {
			return c.applyAfterInitialization(ctx, name, obj)
		}
	}

	return nil, nil
}

// applyMergedDefinition runs the merged definition processors the first time
// md produces an instance. A failed run is retried by the next creation.
func (c *Container) applyMergedDefinition(ctx context.Context, name string, md *mergedDefinition, obj any) error {
	md.postProcessMu.Lock()
	defer md.postProcessMu.Unlock()

	if md.postProcessed {
		return nil
	}

	typ := reflect.TypeOf(obj)

	for _, p := range c.processorsSnapshot().mergedDefinition {
		if err := p.ProcessMergedDefinition(ctx, name, md.Definition, typ); err != nil {
			return err
		}
	}

	md.postProcessed = true

	return nil
}

func (c *Container) applyAfterInstantiation(ctx context.Context, name string, obj any) (any, error) {
	current := obj

	for _, p := range c.processorsSnapshot().afterInstantiation {
		next, err := p.AfterInstantiation(ctx, name, current)
		if err != nil {
			return nil, err
		}

		if next != nil {
			current = next
		}
	}

	return current, nil
}

func (c *Container) applyEarlyReference(ctx context.Context, name string, obj any) (any, error) {
	current := obj

	for _, p := range c.processorsSnapshot().earlyReference {
		next, err := p.EarlyReference(ctx, name, current)
		if err != nil {
			return nil, err
		}

		if next != nil {
			current = next
		}
	}

	return current, nil
}

// applyBeforeInitialization stops at the first processor returning nil and
// keeps the object produced so far.
func (c *Container) applyBeforeInitialization(ctx context.Context, name string, obj any) (any, error) {
	current := obj

	for _, p := range c.processorsSnapshot().beforeInitialization {
		next, err := p.BeforeInitialization(ctx, name, current)
		if err != nil {
			return nil, err
		}

		if next == nil {
			return current, nil
		}

		current = next
	}

	return current, nil
}

func (c *Container) applyAfterInitialization(ctx context.Context, name string, obj any) (any, error) {
	current := obj

	for _, p := range c.processorsSnapshot().afterInitialization {
		next, err := p.AfterInitialization(ctx, name, current)
		if err != nil {
			return nil, err
		}

		if next == nil {
			return current, nil
		}

		current = next
	}

	return current, nil
}
