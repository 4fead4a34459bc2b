package keel

import (
	"reflect"
	"slices"
	"sync"
)

// typeIndex memoises component names by requested type once the
// configuration is frozen. Before that every lookup is computed afresh.
type typeIndex struct {
	mu      sync.RWMutex
	enabled bool
	names   map[reflect.Type][]string
}

func newTypeIndex() *typeIndex {
	return &typeIndex{names: make(map[reflect.Type][]string)}
}

func (t *typeIndex) enable() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = true
	t.names = make(map[reflect.Type][]string)
}

func (t *typeIndex) invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.names) > 0 {
		t.names = make(map[reflect.Type][]string)
	}
}

func (t *typeIndex) get(typ reflect.Type) ([]string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.enabled {
		return nil, false
	}

	names, ok := t.names[typ]

	return names, ok
}

func (t *typeIndex) put(typ reflect.Type, names []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enabled {
		t.names[typ] = names
	}
}

// NamesForType returns the names of local and ancestor components assignable
// to typ, local names first. Abstract definitions are skipped.
func (c *Container) NamesForType(typ reflect.Type) []string {
	names := c.localNamesForType(typ)

	if c.parent != nil {
		for _, n := range c.parent.NamesForType(typ) {
			if !slices.Contains(names, n) && !c.containsLocal(n) {
				names = append(names, n)
			}
		}
	}

	return names
}

func (c *Container) localNamesForType(typ reflect.Type) []string {
	if cached, ok := c.types.get(typ); ok {
		return slices.Clone(cached)
	}

	var names []string

	for _, name := range c.DefinitionNames() {
		md, err := c.mergedDefinition(name)
		if err != nil || md.Abstract {
			continue
		}

		if typeMatches(c.predictType(name, md), typ) {
			names = append(names, name)
		}
	}

	c.stateMu.Lock()
	manual := slices.Clone(c.manual)
	c.stateMu.Unlock()

	for _, name := range manual {
		if slices.Contains(names, name) || c.ContainsDefinition(name) {
			continue
		}

		if obj, ok := c.finished.Load(name); ok && typeMatches(exposedType(reflect.TypeOf(obj), obj), typ) {
			names = append(names, name)
		}
	}

	c.types.put(typ, names)

	return slices.Clone(names)
}

// predictType determines the type Get returns for the component without
// creating it. For a ComponentFactory that is the type of its product.
func (c *Container) predictType(name string, md *mergedDefinition) reflect.Type {
	obj, _ := c.finished.Load(name)

	return exposedType(c.predictRawType(name, md), obj)
}

// predictRawType determines the type of the component itself.
func (c *Container) predictRawType(name string, md *mergedDefinition) reflect.Type {
	if obj, ok := c.finished.Load(name); ok {
		return reflect.TypeOf(obj)
	}

	if md.Type != nil {
		return md.Type
	}

	if md.FactoryMethod != "" {
		return c.factoryMethodReturnType(md)
	}

	if infos, err := md.constructors(); err == nil && len(infos) > 0 {
		return infos[0].result
	}

	return nil
}

func (c *Container) factoryMethodReturnType(md *mergedDefinition) reflect.Type {
	factoryType, err := c.TypeOf(md.FactoryComponent)
	if err != nil || factoryType == nil {
		return nil
	}

	method, ok := factoryType.MethodByName(md.FactoryMethod)
	if !ok || method.Type.NumOut() == 0 {
		return nil
	}

	return method.Type.Out(0)
}

// typeMatches reports whether a value of type actual can be used as want.
func typeMatches(actual, want reflect.Type) bool {
	if actual == nil || want == nil {
		return false
	}

	return actual == want || actual.AssignableTo(want)
}
