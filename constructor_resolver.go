package keel

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/go-viper/mapstructure/v2"
)

// argSource says how a prepared argument is produced on each creation.
type argSource int

const (
	// argFixed is a converted literal reused as is.
	argFixed argSource = iota
	// argValue is a reference or inner value resolved again per creation.
	argValue
	// argAutowired is resolved through the dependency resolver per creation.
	argAutowired
	// argContext is the context of the creation.
	argContext
	// argIn is a parameter object whose fields are prepared arguments.
	argIn
)

// preparedArg is one entry of a cached argument recipe.
type preparedArg struct {
	source argSource
	fixed  reflect.Value
	value  Value
	param  paramInfo
	fields []preparedArg
}

// resolvedArg is a definition argument resolved for one creation.
type resolvedArg struct {
	source Value
	value  reflect.Value
}

// resolvedArgs holds the definition arguments of one creation.
type resolvedArgs struct {
	indexed map[int]resolvedArg
	generic []resolvedArg
	// min is the minimum parameter count a candidate needs.
	min int
}

// boundArgs is the outcome of binding one candidate.
type boundArgs struct {
	recipe  []preparedArg
	values  []reflect.Value
	matches []argMatch
}

func (c *Container) nonPublicAllowed(md *mergedDefinition) bool {
	if md.NonPublicAccess != nil {
		return *md.NonPublicAccess
	}

	return c.config.NonPublicAccess
}

func (c *Container) lenient(md *mergedDefinition) bool {
	if md.Lenient != nil {
		return *md.Lenient
	}

	return c.config.LenientConstructorResolution
}

// autowireConstructor instantiates md through its declared constructors.
func (c *Container) autowireConstructor(ctx context.Context, name string, md *mergedDefinition, explicit []any) (any, error) {
	candidates, err := md.constructors()
	if err != nil {
		return nil, err
	}

	return c.resolveAndCall(ctx, name, md, candidates, explicit)
}

// instantiateUsingFactoryMethod calls FactoryMethod on the factory component.
// The method is looked up on every creation because a non-singleton factory
// component yields a new receiver each time.
func (c *Container) instantiateUsingFactoryMethod(ctx context.Context, name string, md *mergedDefinition, explicit []any) (any, error) {
	factoryName := c.canonicalName(md.FactoryComponent)
	if factoryName == name {
		return nil, ErrInvalidDefinition(name, "factory component reference points back to the same definition")
	}

	factory, err := c.getComponent(ctx, factoryName, nil, nil)
	if err != nil {
		return nil, err
	}

	if c.containsLocal(factoryName) {
		c.graph.AddDependent(factoryName, name)
	}

	method := reflect.ValueOf(factory).MethodByName(md.FactoryMethod)
	if !method.IsValid() {
		return nil, ErrNoMatchingConstructor(name, nil,
			fmt.Sprintf("factory method '%s' not found on component '%s' of type %T", md.FactoryMethod, factoryName, factory))
	}

	info, err := analyzeMethod(method)
	if err != nil {
		return nil, ErrInvalidDefinition(name, fmt.Sprintf("factory method '%s': %s", md.FactoryMethod, err))
	}

	return c.resolveAndCall(ctx, name, md, []*executableInfo{info}, explicit)
}

// resolveAndCall selects one of candidates, binds its arguments and calls it.
func (c *Container) resolveAndCall(ctx context.Context, name string, md *mergedDefinition, candidates []*executableInfo, explicit []any) (any, error) {
	if explicit != nil {
		return c.callWithExplicitArgs(name, md, candidates, explicit)
	}

	if info, recipe, ok := md.cachedResolution(); ok {
		if info.method && len(candidates) == 1 && candidates[0].signature == info.signature {
			info = candidates[0]
		}

		values, err := c.realizeArgs(ctx, name, md, recipe)
		if err != nil {
			return nil, err
		}

		return info.call(values)
	}

	info, bound, err := c.selectExecutable(ctx, name, md, candidates)
	if err != nil {
		return nil, err
	}

	md.cacheResolution(info, bound.recipe)

	return info.call(bound.values)
}

// selectExecutable runs the weighted candidate search.
func (c *Container) selectExecutable(ctx context.Context, name string, md *mergedDefinition, candidates []*executableInfo) (*executableInfo, *boundArgs, error) {
	args, err := c.resolveDefinitionArgs(ctx, name, md)
	if err != nil {
		return nil, nil, err
	}

	nonPublic := c.nonPublicAllowed(md)
	autowiring := md.Autowire != AutowireNo

	shapes := make([]candidateShape, 0, len(candidates))
	for i, info := range candidates {
		if !info.public && !nonPublic {
			continue
		}

		shapes = append(shapes, candidateShape{index: i, public: info.public, params: len(info.params)})
	}

	if len(shapes) == 0 {
		return nil, nil, ErrNoMatchingConstructor(name, nil, "no accessible constructor found")
	}

	sortCandidates(shapes)

	var (
		scored   []scoredCandidate
		bindings []*boundArgs
		failures []error
		found    bool
		bestW    = weightUnmatchable
		bestLen  int
	)

	for _, shape := range shapes {
		info := candidates[shape.index]

		if shouldStopSearch(found, bestLen, shape.params) {
			break
		}

		if shape.params < args.min {
			failures = append(failures, fmt.Errorf("%s: takes %d parameters, at least %d arguments are declared",
				info.signature, shape.params, args.min))

			continue
		}

		bound, err := c.bindArguments(ctx, name, md, info, args, autowiring)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", info.signature, err))

			continue
		}

		w := typeDifferenceWeight(bound.matches)
		if w == weightUnmatchable {
			failures = append(failures, fmt.Errorf("%s: argument types do not match", info.signature))

			continue
		}

		scored = append(scored, scoredCandidate{shape: shape, weight: w, signature: info.signature})
		bindings = append(bindings, bound)

		if !found || w < bestW {
			found = true
			bestW = w
			bestLen = shape.params
		}
	}

	best, ties := selectCandidate(scored, c.lenient(md))
	if best < 0 {
		return nil, nil, c.noMatchError(name, md, args, failures)
	}

	if len(ties) > 0 {
		sigs := []string{scored[best].signature}
		for _, t := range ties {
			sigs = append(sigs, scored[t].signature)
		}

		return nil, nil, ErrAmbiguousConstructor(name, sigs)
	}

	return candidates[scored[best].shape.index], bindings[best], nil
}

// noMatchError reports the last failure, with the earlier ones attached as
// related causes.
func (c *Container) noMatchError(name string, md *mergedDefinition, args *resolvedArgs, failures []error) error {
	attempted := make([]string, 0, len(md.Args))
	for _, i := range slices.Sorted(maps.Keys(args.indexed)) {
		attempted = append(attempted, valueTypeName(args.indexed[i].value))
	}

	for _, ra := range args.generic {
		attempted = append(attempted, valueTypeName(ra.value))
	}

	if len(failures) == 0 {
		return ErrNoMatchingConstructor(name, attempted, "")
	}

	last := failures[len(failures)-1]
	supp := &suppressed{limit: c.config.SuppressedErrorLimit}

	for _, f := range failures[:len(failures)-1] {
		supp.add(f)
	}

	err := errors.Join(ErrNoMatchingConstructor(name, attempted, ""), last)

	return supp.attach(name, StateInstantiated, &CreationError{Component: name, Phase: StateInstantiated, Cause: err})
}

func valueTypeName(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}

	return v.Type().String()
}

// callWithExplicitArgs uses args verbatim: the parameter count must match
// exactly and no conversion takes place.
func (c *Container) callWithExplicitArgs(name string, md *mergedDefinition, candidates []*executableInfo, args []any) (any, error) {
	nonPublic := c.nonPublicAllowed(md)

	var (
		scored []scoredCandidate
		values [][]reflect.Value
	)

	for i, info := range candidates {
		if (!info.public && !nonPublic) || len(info.params) != len(args) {
			continue
		}

		vals := make([]reflect.Value, len(args))
		matches := make([]argMatch, len(args))

		for j, a := range args {
			p := info.params[j]

			if a == nil {
				if !nillable(p.typ) {
					matches[j] = argMatch{mismatch: true}

					continue
				}

				vals[j] = reflect.Zero(p.typ)
				matches[j] = argMatch{nilArg: true}

				continue
			}

			matches[j] = matchType(reflect.TypeOf(a), p.typ)
			vals[j] = reflect.ValueOf(a)
		}

		w := typeDifferenceWeight(matches)
		if w == weightUnmatchable {
			continue
		}

		scored = append(scored, scoredCandidate{
			shape:     candidateShape{index: i, public: info.public, params: len(info.params)},
			weight:    w,
			signature: info.signature,
		})
		values = append(values, vals)
	}

	best, ties := selectCandidate(scored, c.lenient(md))
	if best < 0 {
		attempted := make([]string, len(args))
		for i, a := range args {
			attempted[i] = fmt.Sprintf("%T", a)
		}

		return nil, ErrNoMatchingConstructor(name, attempted, "explicit arguments must match a constructor exactly")
	}

	if len(ties) > 0 {
		sigs := []string{scored[best].signature}
		for _, t := range ties {
			sigs = append(sigs, scored[t].signature)
		}

		return nil, ErrAmbiguousConstructor(name, sigs)
	}

	return candidates[scored[best].shape.index].call(values[best])
}

// resolveDefinitionArgs resolves references and inner values of the
// definition arguments. Literals stay raw until a parameter type is known.
func (c *Container) resolveDefinitionArgs(ctx context.Context, name string, md *mergedDefinition) (*resolvedArgs, error) {
	out := &resolvedArgs{indexed: make(map[int]resolvedArg)}

	for _, v := range md.Args {
		raw, err := c.resolveValue(ctx, name, md, v)
		if err != nil {
			return nil, newCreationError(name, StateDependenciesSatisfied,
				fmt.Errorf("cannot resolve argument %s: %w", v, err))
		}

		ra := resolvedArg{source: v, value: raw}

		if i, ok := v.Index(); ok {
			if i < 0 {
				return nil, ErrInvalidDefinition(name, fmt.Sprintf("invalid argument index %d", i))
			}

			out.indexed[i] = ra

			if i+1 > out.min {
				out.min = i + 1
			}

			continue
		}

		out.generic = append(out.generic, ra)
	}

	if n := len(out.indexed) + len(out.generic); n > out.min {
		out.min = n
	}

	return out, nil
}

// bindArguments binds every parameter of info. Indexed arguments come
// first, then generic arguments, then autowiring.
func (c *Container) bindArguments(ctx context.Context, name string, md *mergedDefinition, info *executableInfo, args *resolvedArgs, autowiring bool) (*boundArgs, error) {
	n := len(info.params)
	out := &boundArgs{
		recipe:  make([]preparedArg, n),
		values:  make([]reflect.Value, n),
		matches: make([]argMatch, n),
	}

	used := make([]bool, len(args.generic))
	loose := !autowiring || n == len(args.indexed)+len(args.generic)

	for i, p := range info.params {
		if p.isContext {
			out.recipe[i] = preparedArg{source: argContext, param: p}
			out.values[i] = reflect.ValueOf(ctx)
			out.matches[i] = argMatch{exact: true}

			continue
		}

		ra, ok := args.indexed[i]
		if !ok {
			ra, ok = takeGeneric(args.generic, used, p, loose)
		}

		if ok {
			v, m, err := convertArg(ra.value, ra.source.Kind() == LiteralValue, p.typ)
			if err != nil {
				return nil, fmt.Errorf("argument %d (%s): %w", i, p.typ, err)
			}

			out.values[i] = v
			out.matches[i] = m
			out.recipe[i] = preparedFrom(ra, v, p)

			continue
		}

		if !autowiring {
			return nil, fmt.Errorf("unsatisfied parameter %d of type %s: autowiring is disabled and no argument was declared", i, p.typ)
		}

		if p.isIn {
			v, fields, err := c.autowireIn(ctx, name, p)
			if err != nil {
				return nil, err
			}

			out.values[i] = v
			out.matches[i] = argMatch{exact: true}
			out.recipe[i] = preparedArg{source: argIn, param: p, fields: fields}

			continue
		}

		v, err := c.autowireParam(ctx, name, p)
		if err != nil {
			return nil, fmt.Errorf("unsatisfied parameter %d of type %s: %w", i, p.typ, err)
		}

		out.values[i] = v
		out.matches[i] = matchType(v.Type(), p.typ)
		out.recipe[i] = preparedArg{source: argAutowired, param: p}
	}

	return out, nil
}

// takeGeneric finds an unused generic argument for p. Named and typed
// arguments only match their parameter; plain ones match by assignability,
// or, when loose, unconditionally.
func takeGeneric(generic []resolvedArg, used []bool, p paramInfo, loose bool) (resolvedArg, bool) {
	for j, ra := range generic {
		if used[j] {
			continue
		}

		switch {
		case ra.source.Name() != "":
			if ra.source.Name() != p.name {
				continue
			}
		case ra.source.Type() != nil:
			if ra.source.Type() != p.typ {
				continue
			}
		default:
			if !ra.value.IsValid() || !ra.value.Type().AssignableTo(p.typ) {
				continue
			}
		}

		used[j] = true

		return ra, true
	}

	if !loose {
		return resolvedArg{}, false
	}

	for j, ra := range generic {
		if used[j] || ra.source.Name() != "" || ra.source.Type() != nil {
			continue
		}

		used[j] = true

		return ra, true
	}

	return resolvedArg{}, false
}

func preparedFrom(ra resolvedArg, converted reflect.Value, p paramInfo) preparedArg {
	if ra.source.Kind() == LiteralValue {
		return preparedArg{source: argFixed, fixed: converted, param: p}
	}

	return preparedArg{source: argValue, value: ra.source, param: p}
}

func (c *Container) paramDescriptor(requester string, p paramInfo) Descriptor {
	return Descriptor{
		Type:      p.typ,
		Requester: requester,
		Name:      p.name,
		Qualifier: p.qualifier,
		Required:  !p.optional,
	}
}

// autowireParam resolves a parameter through the dependency resolver. An
// absent optional dependency becomes the zero value.
func (c *Container) autowireParam(ctx context.Context, name string, p paramInfo) (reflect.Value, error) {
	v, err := c.resolveDependency(ctx, c.paramDescriptor(name, p))
	if err != nil {
		return reflect.Value{}, err
	}

	if !v.IsValid() {
		return reflect.Zero(p.typ), nil
	}

	return v, nil
}

func (c *Container) autowireIn(ctx context.Context, name string, p paramInfo) (reflect.Value, []preparedArg, error) {
	values := make([]reflect.Value, len(p.inFields))
	fields := make([]preparedArg, len(p.inFields))

	for j, f := range p.inFields {
		if f.isContext {
			values[j] = reflect.ValueOf(ctx)
			fields[j] = preparedArg{source: argContext, param: f}

			continue
		}

		v, err := c.autowireParam(ctx, name, f)
		if err != nil {
			return reflect.Value{}, nil, fmt.Errorf("unsatisfied field %s of type %s: %w", f.name, f.typ, err)
		}

		values[j] = v
		fields[j] = preparedArg{source: argAutowired, param: f}
	}

	return buildInStruct(p, values), fields, nil
}

// realizeArgs produces argument values from a cached recipe.
func (c *Container) realizeArgs(ctx context.Context, name string, md *mergedDefinition, recipe []preparedArg) ([]reflect.Value, error) {
	values := make([]reflect.Value, len(recipe))

	for i, pa := range recipe {
		v, err := c.realizeArg(ctx, name, md, pa)
		if err != nil {
			return nil, err
		}

		values[i] = v
	}

	return values, nil
}

func (c *Container) realizeArg(ctx context.Context, name string, md *mergedDefinition, pa preparedArg) (reflect.Value, error) {
	switch pa.source {
	case argFixed:
		return pa.fixed, nil
	case argContext:
		return reflect.ValueOf(ctx), nil
	case argValue:
		raw, err := c.resolveValue(ctx, name, md, pa.value)
		if err != nil {
			return reflect.Value{}, newCreationError(name, StateDependenciesSatisfied,
				fmt.Errorf("cannot resolve argument %s: %w", pa.value, err))
		}

		v, _, err := convertArg(raw, false, pa.param.typ)

		return v, err
	case argIn:
		values := make([]reflect.Value, len(pa.fields))
		for j, f := range pa.fields {
			v, err := c.realizeArg(ctx, name, md, f)
			if err != nil {
				return reflect.Value{}, err
			}

			values[j] = v
		}

		return buildInStruct(pa.param, values), nil
	default:
		v, err := c.autowireParam(ctx, name, pa.param)
		if err != nil {
			return reflect.Value{}, newCreationError(name, StateDependenciesSatisfied,
				fmt.Errorf("unsatisfied parameter of type %s: %w", pa.param.typ, err))
		}

		return v, nil
	}
}

// resolveValue turns a definition value into an object: literals as is,
// references through Get and inner definitions by creating them.
func (c *Container) resolveValue(ctx context.Context, owner string, md *mergedDefinition, v Value) (reflect.Value, error) {
	switch v.Kind() {
	case ReferenceValue:
		ref := c.canonicalName(v.RefName())

		obj, err := c.getComponent(ctx, ref, nil, nil)
		if err != nil {
			return reflect.Value{}, err
		}

		if owner != "" && c.containsLocal(ref) {
			c.graph.AddDependent(ref, owner)
		}

		return reflect.ValueOf(obj), nil
	case InnerValue:
		obj, err := c.createInner(ctx, owner, md, v.inner)
		if err != nil {
			return reflect.Value{}, err
		}

		return reflect.ValueOf(obj), nil
	default:
		return reflect.ValueOf(v.Literal()), nil
	}
}

// createInner builds a nested definition for its containing component. The
// inner component is destroyed together with its owner.
func (c *Container) createInner(ctx context.Context, owner string, containing *mergedDefinition, def *Definition) (any, error) {
	innerName := fmt.Sprintf("%s(inner)#%d", owner, c.innerSeq.Add(1))

	if err := def.validate(innerName); err != nil {
		return nil, err
	}

	imd, err := c.mergeDefinition(innerName, def, containing)
	if err != nil {
		return nil, err
	}

	if imd.Abstract {
		return nil, ErrAbstractComponent(innerName)
	}

	for _, dep := range imd.DependsOn {
		depName := c.canonicalName(dep)
		if _, err := c.getComponent(ctx, depName, nil, nil); err != nil {
			return nil, newCreationError(innerName, StateDependenciesSatisfied, err)
		}

		c.graph.AddDependent(depName, innerName)
	}

	obj, err := c.createComponent(ctx, innerName, imd, nil)
	if err != nil {
		return nil, err
	}

	if !imd.IsTransient() {
		c.graph.AddContained(innerName, owner)
	}

	return obj, nil
}

// convertArg fits raw to target. Literals that are not assignable are
// converted with weakly typed decoding; other values must be assignable.
func convertArg(raw reflect.Value, literal bool, target reflect.Type) (reflect.Value, argMatch, error) {
	if !raw.IsValid() {
		if nillable(target) {
			return reflect.Zero(target), argMatch{nilArg: true}, nil
		}

		return reflect.Value{}, argMatch{mismatch: true}, fmt.Errorf("nil cannot be used as %s", target)
	}

	if m := matchType(raw.Type(), target); !m.mismatch {
		return raw, m, nil
	}

	if !literal {
		return reflect.Value{}, argMatch{mismatch: true}, fmt.Errorf("%s is not assignable to %s", raw.Type(), target)
	}

	out := reflect.New(target)

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out.Interface(),
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return reflect.Value{}, argMatch{mismatch: true}, err
	}

	if err := dec.Decode(raw.Interface()); err != nil {
		return reflect.Value{}, argMatch{mismatch: true}, fmt.Errorf("cannot convert %s to %s: %w", raw.Type(), target, err)
	}

	return out.Elem(), argMatch{converted: true}, nil
}

// matchType classifies how a value of type src fits a parameter of type target.
func matchType(src, target reflect.Type) argMatch {
	switch {
	case src == target:
		return argMatch{exact: true}
	case !src.AssignableTo(target):
		return argMatch{mismatch: true}
	case target.Kind() == reflect.Interface && target.NumMethod() == 0:
		return argMatch{interfaceHops: 1, emptyInterface: true}
	default:
		return argMatch{interfaceHops: 1}
	}
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}
