package keel

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

// injectionField is an exported struct field the container may fill.
type injectionField struct {
	index     int
	name      string
	typ       reflect.Type
	tagged    bool
	qualifier string
	optional  bool
}

// injectionMetadata is computed once per struct type.
type injectionMetadata struct {
	fields []injectionField
	err    error
}

// injectionMetadataFor inspects the fields of struct type t. Fields tagged
// `inject:"qualifier"` are always injection points; `optional:"true"` makes
// them non-required. Other exported pointer, interface, slice and map
// fields are candidates for by-name and by-type autowiring.
func (c *Container) injectionMetadataFor(t reflect.Type) *injectionMetadata {
	if cached, ok := c.injection.Load(t); ok {
		return cached.(*injectionMetadata)
	}

	meta := &injectionMetadata{}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		qualifier, tagged := f.Tag.Lookup("inject")

		if !f.IsExported() {
			if tagged {
				meta.err = fmt.Errorf("field %s.%s is tagged for injection but is not exported", t, f.Name)

				break
			}

			continue
		}

		if f.Anonymous && !tagged {
			continue
		}

		if !tagged && !nillable(f.Type) {
			continue
		}

		meta.fields = append(meta.fields, injectionField{
			index:     i,
			name:      lowerFirst(f.Name),
			typ:       f.Type,
			tagged:    tagged,
			qualifier: qualifier,
			optional:  strings.EqualFold(f.Tag.Get("optional"), "true"),
		})
	}

	actual, _ := c.injection.LoadOrStore(t, meta)

	return actual.(*injectionMetadata)
}

// populate autowires the fields of obj and applies the declared properties.
func (c *Container) populate(ctx context.Context, name string, md *mergedDefinition, obj any) error {
	if md.Autowire != AutowireNo {
		if err := c.autowireFields(ctx, name, md, obj); err != nil {
			return err
		}
	}

	for _, p := range md.Properties {
		if err := c.applyProperty(ctx, name, md, obj, p); err != nil {
			return err
		}
	}

	return nil
}

func structElem(obj any) (reflect.Value, bool) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, false
	}

	return v.Elem(), true
}

// autowireFields fills tagged fields, then, for by-name and by-type modes,
// every other nil candidate field not set by a declared property.
func (c *Container) autowireFields(ctx context.Context, name string, md *mergedDefinition, obj any) error {
	sv, ok := structElem(obj)
	if !ok {
		return nil
	}

	meta := c.injectionMetadataFor(sv.Type())
	if meta.err != nil {
		return ErrInvalidDefinition(name, meta.err.Error())
	}

	for _, f := range meta.fields {
		field := sv.Field(f.index)

		switch {
		case f.tagged:
			desc := Descriptor{
				Type:      f.typ,
				Requester: name,
				Name:      f.name,
				Qualifier: f.qualifier,
				Required:  !f.optional,
			}

			v, err := c.resolveDependency(ctx, desc)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.name, err)
			}

			if v.IsValid() {
				field.Set(v)
			}
		case !field.IsNil() || hasProperty(md, f.name):
		case md.Autowire == AutowireByName:
			if err := c.autowireFieldByName(ctx, name, f, field); err != nil {
				return err
			}
		case md.Autowire == AutowireByType:
			v, err := c.resolveDependency(ctx, Descriptor{Type: f.typ, Requester: name, Name: f.name})
			if err != nil {
				return fmt.Errorf("field %s: %w", f.name, err)
			}

			if v.IsValid() {
				field.Set(v)
			}
		}
	}

	return nil
}

func (c *Container) autowireFieldByName(ctx context.Context, name string, f injectionField, field reflect.Value) error {
	if f.name == name || !c.ContainsComponent(f.name) {
		return nil
	}

	obj, err := c.getComponent(ctx, f.name, nil, nil)
	if err != nil {
		return fmt.Errorf("field %s: %w", f.name, err)
	}

	v, err := assignableValue(f.name, obj, f.typ)
	if err != nil {
		return err
	}

	field.Set(v)

	canonical := c.canonicalName(f.name)
	if c.containsLocal(canonical) {
		c.graph.AddDependent(canonical, name)
	}

	return nil
}

func hasProperty(md *mergedDefinition, field string) bool {
	for _, p := range md.Properties {
		if lowerFirst(p.Name) == field {
			return true
		}
	}

	return false
}

// applyProperty assigns one declared property through SetX or field X.
func (c *Container) applyProperty(ctx context.Context, name string, md *mergedDefinition, obj any, p Property) error {
	raw, err := c.resolveValue(ctx, name, md, p.Value)
	if err != nil {
		return fmt.Errorf("property %s: %w", p.Name, err)
	}

	literal := p.Value.Kind() == LiteralValue
	exported := upperFirst(p.Name)

	if setter := reflect.ValueOf(obj).MethodByName("Set" + exported); setter.IsValid() {
		st := setter.Type()
		if st.NumIn() == 1 && (st.NumOut() == 0 || (st.NumOut() == 1 && st.Out(0) == errorType)) {
			v, _, err := convertArg(raw, literal, st.In(0))
			if err != nil {
				return fmt.Errorf("property %s: %w", p.Name, err)
			}

			out := setter.Call([]reflect.Value{v})
			if len(out) == 1 && !out[0].IsNil() {
				err, _ := out[0].Interface().(error)

				return fmt.Errorf("property %s: %w", p.Name, err)
			}

			return nil
		}
	}

	sv, ok := structElem(obj)
	if !ok {
		return ErrInvalidDefinition(name, fmt.Sprintf("no writable property '%s' on %T", p.Name, obj))
	}

	sf, ok := sv.Type().FieldByName(exported)
	if !ok || !sf.IsExported() {
		return ErrInvalidDefinition(name, fmt.Sprintf("no writable property '%s' on %T", p.Name, obj))
	}

	field := sv.FieldByIndex(sf.Index)
	if !field.CanSet() {
		return ErrInvalidDefinition(name, fmt.Sprintf("property '%s' on %T is not settable", p.Name, obj))
	}

	v, _, err := convertArg(raw, literal, field.Type())
	if err != nil {
		return fmt.Errorf("property %s: %w", p.Name, err)
	}

	field.Set(v)

	return nil
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}

	return string(unicode.ToUpper(r)) + s[size:]
}

// Inject fills the tagged fields of an object the container did not create.
// target must be a pointer to a struct.
func (c *Container) Inject(ctx context.Context, target any) error {
	if c.closed.Load() {
		return ErrContainerClosed
	}

	if _, ok := structElem(target); !ok {
		return fmt.Errorf("inject target must be a non-nil pointer to a struct, got %T", target)
	}

	ctx, _, done := enterResolution(ctx)
	defer done()

	md := &mergedDefinition{Definition: &Definition{Scope: ScopeTransient}}

	return c.autowireFields(ctx, "", md, target)
}
