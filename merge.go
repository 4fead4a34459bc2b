package keel

import (
	"slices"
	"sync"
	"sync/atomic"
)

// mergedDefinition is a definition flattened through its parent chain,
// plus caches filled while the component is built.
type mergedDefinition struct {
	*Definition

	name  string
	inner bool
	stale atomic.Bool

	analyzeOnce sync.Once
	executables []*executableInfo
	analyzeErr  error

	// Constructor resolution cache.
	resolveMu sync.Mutex
	resolved  *executableInfo
	recipe    []preparedArg
	argsFinal bool
	hasRecipe bool

	postProcessMu sync.Mutex
	postProcessed bool
}

// cachedResolution returns the executable and argument recipe chosen by a
// previous creation.
func (md *mergedDefinition) cachedResolution() (*executableInfo, []preparedArg, bool) {
	md.resolveMu.Lock()
	defer md.resolveMu.Unlock()

	if !md.hasRecipe || md.stale.Load() {
		return nil, nil, false
	}

	return md.resolved, md.recipe, true
}

func (md *mergedDefinition) cacheResolution(info *executableInfo, recipe []preparedArg) {
	md.resolveMu.Lock()
	defer md.resolveMu.Unlock()

	md.resolved = info
	md.recipe = recipe
	md.hasRecipe = true
	md.argsFinal = true

	for _, p := range recipe {
		if p.source != argFixed {
			md.argsFinal = false

			break
		}
	}
}

// constructors analyzes the declared constructors once.
func (md *mergedDefinition) constructors() ([]*executableInfo, error) {
	md.analyzeOnce.Do(func() {
		for _, ex := range md.Constructors {
			info, err := analyzeExecutable(ex)
			if err != nil {
				md.analyzeErr = ErrInvalidDefinition(md.name, err.Error())

				return
			}

			md.executables = append(md.executables, info)
		}
	})

	return md.executables, md.analyzeErr
}

// mergedCache holds merged definitions by name. The mutex guards the map
// only; merging itself happens outside it so that merges may recurse.
type mergedCache struct {
	mu   sync.Mutex
	defs map[string]*mergedDefinition
}

func newMergedCache() *mergedCache {
	return &mergedCache{defs: make(map[string]*mergedDefinition)}
}

func (m *mergedCache) get(name string) *mergedDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.defs[name]
}

// putIfAbsent stores md unless another merge won the race, and returns the
// cached value.
func (m *mergedCache) putIfAbsent(name string, md *mergedDefinition) *mergedDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.defs[name]; ok {
		return existing
	}

	m.defs[name] = md

	return md
}

func (m *mergedCache) evict(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if md, ok := m.defs[name]; ok {
		md.stale.Store(true)
		delete(m.defs, name)
	}
}

func (m *mergedCache) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, md := range m.defs {
		md.stale.Store(true)
	}

	m.defs = make(map[string]*mergedDefinition)
}

// mergedDefinition returns the merged definition of a local component.
func (c *Container) mergedDefinition(name string) (*mergedDefinition, error) {
	if md := c.merged.get(name); md != nil {
		return md, nil
	}

	def := c.localDefinition(name)
	if def == nil {
		return nil, ErrNoSuchComponent(name)
	}

	return c.mergeDefinition(name, def, nil)
}

// mergeDefinition flattens def through its parent chain. containing is the
// definition def is nested in, if any.
func (c *Container) mergeDefinition(name string, def *Definition, containing *mergedDefinition) (*mergedDefinition, error) {
	var flat *Definition

	if def.Parent == "" {
		flat = def.Clone()
	} else {
		parent, err := c.parentDefinition(name, def.Parent)
		if err != nil {
			return nil, ErrUnresolvableParent(name, def.Parent, err)
		}

		flat = parent.Definition.Clone()
		overrideFrom(flat, def)
	}

	switch flat.Scope {
	case "":
		flat.Scope = ScopeSingleton
	case ScopePrototype:
		flat.Scope = ScopeTransient
	}

	// A singleton cannot outlive the non-singleton component that contains it.
	if containing != nil && !containing.IsSingleton() && flat.IsSingleton() {
		flat.Scope = containing.Scope
	}

	md := &mergedDefinition{Definition: flat, name: name, inner: containing != nil}

	if md.inner || md.Abstract {
		return md, nil
	}

	// Only cache while the definition is still the one bound to name.
	if c.localDefinition(name) != def {
		return md, nil
	}

	return c.merged.putIfAbsent(name, md), nil
}

// parentDefinition merges the parent of a definition. A parent with the
// same name as the child is looked up in the parent container.
func (c *Container) parentDefinition(name, parentName string) (*mergedDefinition, error) {
	canonical := c.canonicalName(parentName)

	if canonical != name && c.ContainsDefinition(canonical) {
		return c.mergedDefinition(canonical)
	}

	for ancestor := c.parent; ancestor != nil; ancestor = ancestor.parent {
		ac := ancestor.canonicalName(parentName)
		if ancestor.ContainsDefinition(ac) {
			return ancestor.mergedDefinition(ac)
		}
	}

	return nil, ErrNoSuchComponent(parentName)
}

// overrideFrom overlays every explicitly set field of child onto dst.
func overrideFrom(dst, child *Definition) {
	if child.Type != nil {
		dst.Type = child.Type
	}

	// The instantiation strategy is replaced as a whole.
	if child.Supplier != nil || len(child.Constructors) > 0 || child.FactoryMethod != "" {
		dst.Supplier = child.Supplier
		dst.Constructors = slices.Clone(child.Constructors)
		dst.FactoryComponent = child.FactoryComponent
		dst.FactoryMethod = child.FactoryMethod
	}

	if child.Scope != "" {
		dst.Scope = child.Scope
	}

	if child.Lazy != nil {
		dst.Lazy = clonePtr(child.Lazy)
	}

	dst.Abstract = child.Abstract
	dst.Parent = ""

	if child.DependsOn != nil {
		dst.DependsOn = slices.Clone(child.DependsOn)
	}

	dst.Args = mergeArgs(dst.Args, child.Args)
	dst.Properties = mergeProperties(dst.Properties, child.Properties)

	if child.Autowire != AutowireDefault {
		dst.Autowire = child.Autowire
	}

	if child.AutowireCandidate != nil {
		dst.AutowireCandidate = clonePtr(child.AutowireCandidate)
	}

	dst.Primary = child.Primary

	if child.Priority != nil {
		dst.Priority = clonePtr(child.Priority)
	}

	if child.Order != nil {
		dst.Order = clonePtr(child.Order)
	}

	for _, q := range child.Qualifiers {
		if !slices.Contains(dst.Qualifiers, q) {
			dst.Qualifiers = append(dst.Qualifiers, q)
		}
	}

	dst.Aliases = slices.Clone(child.Aliases)
	dst.Role = child.Role

	if child.InitMethods != nil {
		dst.InitMethods = slices.Clone(child.InitMethods)
	}

	if child.DestroyMethods != nil {
		dst.DestroyMethods = slices.Clone(child.DestroyMethods)
	}

	if child.NonPublicAccess != nil {
		dst.NonPublicAccess = clonePtr(child.NonPublicAccess)
	}

	if child.Lenient != nil {
		dst.Lenient = clonePtr(child.Lenient)
	}

	if child.Description != "" {
		dst.Description = child.Description
	}
}
