package keel

import (
	"context"
	"errors"
	"math"
	"reflect"
	"slices"
	"sort"
)

// ResolveDependency resolves an injection point. An optional dependency
// without candidates resolves to nil.
func (c *Container) ResolveDependency(ctx context.Context, desc Descriptor) (any, error) {
	if c.closed.Load() {
		return nil, ErrContainerClosed
	}

	ctx, _, done := enterResolution(ctx)
	defer done()

	v, err := c.resolveDependency(ctx, desc)
	if err != nil || !v.IsValid() {
		return nil, err
	}

	return v.Interface(), nil
}

// GetByType returns the unique component assignable to t.
func (c *Container) GetByType(ctx context.Context, t reflect.Type) (any, error) {
	return c.ResolveDependency(ctx, Descriptor{Type: t, Required: true, Shape: ShapeSingle})
}

// GetOfType creates and returns every component assignable to t, keyed by
// name. Components excluded from autowiring are included.
func (c *Container) GetOfType(ctx context.Context, t reflect.Type) (map[string]any, error) {
	if c.closed.Load() {
		return nil, ErrContainerClosed
	}

	ctx, _, done := enterResolution(ctx)
	defer done()

	out := make(map[string]any)

	for _, name := range c.NamesForType(t) {
		obj, err := c.getComponent(ctx, name, t, nil)
		if err != nil {
			return nil, err
		}

		out[name] = obj
	}

	return out, nil
}

// resolveDependency returns a value assignable to desc.Type, or an invalid
// Value when an optional dependency is absent.
func (c *Container) resolveDependency(ctx context.Context, desc Descriptor) (reflect.Value, error) {
	if desc.Type == nil {
		return reflect.Value{}, errors.New("dependency descriptor has no type")
	}

	if err := desc.validateShape(); err != nil {
		return reflect.Value{}, err
	}

	if isDeferredType(desc.Type) {
		return c.deferredHandle(ctx, desc)
	}

	if v, ok := c.resolvableValue(desc.Type); ok {
		return v, nil
	}

	switch desc.shape() {
	case ShapeSlice, ShapeMap:
		v, found, err := c.resolveMultiple(ctx, desc)
		if err != nil || found {
			return v, err
		}

		// Nothing matched the element type; the collection type itself may
		// still be a component.
		single := desc
		single.Shape = ShapeSingle

		v, err = c.resolveSingle(ctx, single)
		if err != nil && !desc.Required && errors.Is(err, ErrNoSuchComponentSentinel) {
			return reflect.Value{}, nil
		}

		return v, err
	default:
		return c.resolveSingle(ctx, desc)
	}
}

// resolvableValue looks up a pre-registered value for exactly t here or in
// an ancestor.
func (c *Container) resolvableValue(t reflect.Type) (reflect.Value, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		if v, ok := cur.resolvableFor(t); ok {
			if v == nil {
				return reflect.Zero(t), true
			}

			return reflect.ValueOf(v), true
		}
	}

	return reflect.Value{}, false
}

func (c *Container) resolveSingle(ctx context.Context, desc Descriptor) (reflect.Value, error) {
	names := c.findCandidates(desc.Type, desc, false)

	var chosen string

	switch len(names) {
	case 0:
		if desc.Required {
			return reflect.Value{}, ErrNoSuchComponentOfType(desc.Type, desc.String())
		}

		return reflect.Value{}, nil
	case 1:
		chosen = names[0]
	default:
		name, err := c.determineCandidate(names, desc)
		if err != nil {
			return reflect.Value{}, err
		}

		if name == "" {
			if desc.AcceptNonUnique {
				return reflect.Value{}, nil
			}

			return reflect.Value{}, ErrNoUniqueComponent(desc.Type, names, "")
		}

		chosen = name
	}

	obj, err := c.materialize(ctx, chosen, desc)
	if err != nil {
		return reflect.Value{}, err
	}

	return assignableValue(chosen, obj, desc.Type)
}

// resolveMultiple collects every candidate of the element type. found is
// false when there were none.
func (c *Container) resolveMultiple(ctx context.Context, desc Descriptor) (reflect.Value, bool, error) {
	elem := desc.Type.Elem()
	names := c.findCandidates(elem, desc, true)

	if len(names) == 0 {
		return reflect.Value{}, false, nil
	}

	objs := make([]any, len(names))

	for i, name := range names {
		obj, err := c.materialize(ctx, name, desc)
		if err != nil {
			return reflect.Value{}, false, err
		}

		if _, err := assignableValue(name, obj, elem); err != nil {
			return reflect.Value{}, false, err
		}

		objs[i] = obj
	}

	if desc.shape() == ShapeMap {
		m := reflect.MakeMapWithSize(desc.Type, len(names))
		for i, name := range names {
			m.SetMapIndex(reflect.ValueOf(name).Convert(desc.Type.Key()), reflect.ValueOf(objs[i]))
		}

		return m, true, nil
	}

	c.sortCandidates(names, objs)

	s := reflect.MakeSlice(desc.Type, 0, len(objs))
	for _, obj := range objs {
		s = reflect.Append(s, reflect.ValueOf(obj))
	}

	return s, true, nil
}

// sortCandidates orders multi-value results with the configured comparator,
// or by Ordered, Definition.Order, then Definition.Priority.
func (c *Container) sortCandidates(names []string, objs []any) {
	idx := make([]int, len(objs))
	for i := range idx {
		idx[i] = i
	}

	if c.comparator != nil {
		sort.SliceStable(idx, func(i, j int) bool {
			return c.comparator(objs[idx[i]], objs[idx[j]]) < 0
		})
	} else {
		orders := make([]int, len(objs))
		for i := range objs {
			orders[i] = c.orderOf(names[i], objs[i])
		}

		sort.SliceStable(idx, func(i, j int) bool {
			return orders[idx[i]] < orders[idx[j]]
		})
	}

	sortedNames := make([]string, len(names))
	sortedObjs := make([]any, len(objs))

	for i, k := range idx {
		sortedNames[i] = names[k]
		sortedObjs[i] = objs[k]
	}

	copy(names, sortedNames)
	copy(objs, sortedObjs)
}

func (c *Container) orderOf(name string, obj any) int {
	if o, ok := obj.(Ordered); ok {
		return o.Order()
	}

	if md := c.candidateDefinition(name); md != nil {
		if md.Order != nil {
			return *md.Order
		}

		if md.Priority != nil {
			return *md.Priority
		}
	}

	return math.MaxInt
}

// findCandidates returns the names of autowire candidates for typ, local
// names first. Self references are only used when nothing else matches,
// and never the requester itself for multi-value injections.
func (c *Container) findCandidates(typ reflect.Type, desc Descriptor, multi bool) []string {
	all := c.NamesForType(typ)

	var (
		result []string
		self   []string
	)

	for _, name := range all {
		if !c.isAutowireCandidate(name) || !c.matchesQualifier(name, desc.Qualifier) {
			continue
		}

		if c.isSelfReference(desc.Requester, name) {
			self = append(self, name)

			continue
		}

		result = append(result, name)
	}

	if len(result) == 0 {
		for _, name := range self {
			if !multi || name != desc.Requester {
				result = append(result, name)
			}
		}
	}

	return result
}

// isSelfReference reports whether candidate is the requester or is built
// by a factory method on the requester.
func (c *Container) isSelfReference(requester, candidate string) bool {
	if requester == "" {
		return false
	}

	if candidate == requester {
		return true
	}

	md := c.candidateDefinition(candidate)

	return md != nil && md.FactoryComponent != "" && c.canonicalName(md.FactoryComponent) == requester
}

func (c *Container) isAutowireCandidate(name string) bool {
	md := c.candidateDefinition(name)

	return md == nil || md.IsAutowireCandidate()
}

func (c *Container) matchesQualifier(name, qualifier string) bool {
	if qualifier == "" || name == qualifier {
		return true
	}

	for cur := c; cur != nil; cur = cur.parent {
		if cur.containsLocal(name) {
			if slices.Contains(cur.Aliases(name), qualifier) {
				return true
			}

			break
		}
	}

	md := c.candidateDefinition(name)

	return md != nil && md.HasQualifier(qualifier)
}

// candidateDefinition returns the merged definition of name from the
// closest container defining it, or nil for manual singletons.
func (c *Container) candidateDefinition(name string) *mergedDefinition {
	for cur := c; cur != nil; cur = cur.parent {
		if cur.ContainsDefinition(name) {
			md, err := cur.mergedDefinition(name)
			if err != nil {
				return nil
			}

			return md
		}

		if cur.containsSingleton(name) {
			return nil
		}
	}

	return nil
}

// determineCandidate narrows several candidates to one: a single primary,
// then the highest priority, then a name match. It returns "" when none
// of these decide.
func (c *Container) determineCandidate(names []string, desc Descriptor) (string, error) {
	primary, err := c.determinePrimary(names, desc)
	if err != nil || primary != "" {
		return primary, err
	}

	prioritized, err := c.determineHighestPriority(names, desc)
	if err != nil || prioritized != "" {
		return prioritized, err
	}

	if desc.Name != "" {
		for _, name := range names {
			if c.matchesName(name, desc.Name) {
				return name, nil
			}
		}
	}

	return "", nil
}

// determinePrimary returns the single primary candidate. Two local primaries
// are ambiguous; a local primary beats one inherited from an ancestor.
func (c *Container) determinePrimary(names []string, desc Descriptor) (string, error) {
	var primary string

	for _, name := range names {
		md := c.candidateDefinition(name)
		if md == nil || !md.Primary {
			continue
		}

		if primary == "" {
			primary = name

			continue
		}

		candidateLocal := c.ContainsDefinition(name)
		primaryLocal := c.ContainsDefinition(primary)

		switch {
		case candidateLocal && primaryLocal:
			return "", ErrNoUniqueComponent(desc.Type, names, "more than one 'primary' component found among candidates")
		case candidateLocal:
			primary = name
		}
	}

	return primary, nil
}

// determineHighestPriority returns the candidate with the lowest Priority
// value. Candidates without a priority are ignored; a tie is an error.
func (c *Container) determineHighestPriority(names []string, desc Descriptor) (string, error) {
	var (
		best         string
		bestPriority int
	)

	for _, name := range names {
		md := c.candidateDefinition(name)
		if md == nil || md.Priority == nil {
			continue
		}

		p := *md.Priority

		switch {
		case best == "" || p < bestPriority:
			best = name
			bestPriority = p
		case p == bestPriority:
			return "", ErrNoUniqueComponent(desc.Type, names,
				"multiple components found with the same priority ('"+best+"', '"+name+"')")
		}
	}

	return best, nil
}

func (c *Container) matchesName(candidate, name string) bool {
	if candidate == name {
		return true
	}

	for cur := c; cur != nil; cur = cur.parent {
		if cur.containsLocal(candidate) {
			return slices.Contains(cur.Aliases(candidate), name)
		}
	}

	return false
}

// materialize creates the chosen candidate and records the requester as
// its dependent.
func (c *Container) materialize(ctx context.Context, name string, desc Descriptor) (any, error) {
	obj, err := c.getComponent(ctx, name, nil, nil)
	if err != nil {
		return nil, err
	}

	if desc.Requester != "" && c.containsLocal(name) {
		c.graph.AddDependent(name, desc.Requester)
	}

	return obj, nil
}

func assignableValue(name string, obj any, t reflect.Type) (reflect.Value, error) {
	v := reflect.ValueOf(obj)
	if !v.IsValid() || !v.Type().AssignableTo(t) {
		return reflect.Value{}, ErrTypeMismatch(name, t, obj)
	}

	return v, nil
}
