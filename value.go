package keel

import (
	"fmt"
	"reflect"
)

// ValueKind distinguishes the sources of an argument or property value.
type ValueKind int

const (
	// LiteralValue is a plain value, converted to the target type when needed.
	LiteralValue ValueKind = iota
	// ReferenceValue names another component.
	ReferenceValue
	// InnerValue is a nested definition built for its containing component only.
	InnerValue
)

func (k ValueKind) String() string {
	switch k {
	case LiteralValue:
		return "literal"
	case ReferenceValue:
		return "reference"
	case InnerValue:
		return "inner"
	default:
		return "unknown"
	}
}

// Value is an explicit constructor argument or property value.
//
// Arguments are either indexed (bound to one parameter position) or generic
// (matched against any parameter by name, declared type or assignability).
type Value struct {
	kind    ValueKind
	literal any
	ref     string
	inner   *Definition

	indexed bool
	index   int
	name    string
	typ     reflect.Type
}

// Lit creates a literal value.
func Lit(v any) Value {
	return Value{kind: LiteralValue, literal: v}
}

// Ref creates a reference to the component with the given name.
func Ref(name string) Value {
	return Value{kind: ReferenceValue, ref: name}
}

// Inner creates a nested definition value.
func Inner(def *Definition) Value {
	return Value{kind: InnerValue, inner: def}
}

// Named binds v to the parameter with the given name. A non-Value v is
// wrapped with Lit.
func Named(name string, v any) Value {
	val := asValue(v)
	val.name = name

	return val
}

// Indexed binds v to the parameter at position i.
func Indexed(i int, v any) Value {
	val := asValue(v)
	val.indexed = true
	val.index = i

	return val
}

// Typed restricts a generic value to parameters of type t.
func Typed(t reflect.Type, v any) Value {
	val := asValue(v)
	val.typ = t

	return val
}

// Kind returns the value source.
func (v Value) Kind() ValueKind { return v.kind }

// Index returns the bound position of an indexed value.
func (v Value) Index() (int, bool) { return v.index, v.indexed }

// Name returns the bound parameter name, if any.
func (v Value) Name() string { return v.name }

// Type returns the declared type restriction, if any.
func (v Value) Type() reflect.Type { return v.typ }

// Literal returns the raw literal.
func (v Value) Literal() any { return v.literal }

// RefName returns the referenced component name.
func (v Value) RefName() string { return v.ref }

func (v Value) String() string {
	var body string

	switch v.kind {
	case ReferenceValue:
		body = "ref(" + v.ref + ")"
	case InnerValue:
		body = "inner"
	default:
		body = fmt.Sprintf("%v", v.literal)
	}

	if v.indexed {
		return fmt.Sprintf("[%d]=%s", v.index, body)
	}

	if v.name != "" {
		return v.name + "=" + body
	}

	return body
}

func (v Value) clone() Value {
	cp := v
	cp.inner = v.inner.Clone()

	return cp
}

func asValue(v any) Value {
	if val, ok := v.(Value); ok {
		return val
	}

	return Lit(v)
}

// Property is a named value assigned after construction, through a SetX
// method or an exported field X.
type Property struct {
	Name  string
	Value Value
}

// Prop creates a property. A non-Value v is wrapped with Lit.
func Prop(name string, v any) Property {
	return Property{Name: name, Value: asValue(v)}
}

// mergeArgs overlays child arguments on parent arguments. Indexed child
// values replace the parent value at the same index, named generic values
// replace the parent value with the same name, other generic values append.
func mergeArgs(parent, child []Value) []Value {
	if len(child) == 0 {
		return parent
	}

	out := make([]Value, 0, len(parent)+len(child))
	out = append(out, parent...)

	for _, cv := range child {
		replaced := false

		for i, pv := range out {
			if cv.indexed && pv.indexed && cv.index == pv.index {
				out[i] = cv
				replaced = true

				break
			}

			if !cv.indexed && !pv.indexed && cv.name != "" && cv.name == pv.name {
				out[i] = cv
				replaced = true

				break
			}
		}

		if !replaced {
			out = append(out, cv)
		}
	}

	return out
}

// mergeProperties overlays child properties on parent properties by name,
// keeping the parent's order for inherited entries.
func mergeProperties(parent, child []Property) []Property {
	if len(child) == 0 {
		return parent
	}

	out := make([]Property, 0, len(parent)+len(child))
	out = append(out, parent...)

	for _, cp := range child {
		replaced := false

		for i, pp := range out {
			if pp.Name == cp.Name {
				out[i] = cp
				replaced = true

				break
			}
		}

		if !replaced {
			out = append(out, cp)
		}
	}

	return out
}
