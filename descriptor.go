package keel

import (
	"fmt"
	"reflect"
)

// Shape is the collection shape of an injection point.
type Shape int

const (
	// ShapeAuto derives the shape from the descriptor type: slices and
	// string-keyed maps collect every candidate, anything else is single.
	ShapeAuto Shape = iota
	// ShapeSingle resolves exactly one candidate, even for slice or map types.
	ShapeSingle
	// ShapeSlice collects all candidates of the element type into a slice.
	ShapeSlice
	// ShapeMap collects all candidates of the element type keyed by name.
	ShapeMap
)

// Descriptor describes one injection point.
type Descriptor struct {
	// Type is the declared type of the injection point.
	Type reflect.Type
	// Requester is the component being injected, empty for root lookups.
	Requester string
	// Name is the field or parameter name, used as the last tie-breaker.
	Name string
	// Qualifier restricts candidates to the component with that name or
	// alias, or to components declaring it in Definition.Qualifiers.
	Qualifier string
	Required  bool
	Shape     Shape
	// Eager resolves lazy handles immediately so missing dependencies fail
	// at creation time.
	Eager bool
	// AcceptNonUnique returns nothing instead of failing when several
	// candidates remain after disambiguation.
	AcceptNonUnique bool
}

// shape returns the effective shape of the descriptor.
func (d Descriptor) shape() Shape {
	if d.Shape != ShapeAuto {
		return d.Shape
	}

	switch d.Type.Kind() {
	case reflect.Slice:
		return ShapeSlice
	case reflect.Map:
		if d.Type.Key().Kind() == reflect.String {
			return ShapeMap
		}
	}

	return ShapeSingle
}

// validateShape rejects an explicit Shape the declared type cannot hold.
func (d Descriptor) validateShape() error {
	owner := d.Requester
	if owner == "" {
		owner = typeName(d.Type)
	}

	switch d.Shape {
	case ShapeSlice:
		if d.Type.Kind() != reflect.Slice {
			return ErrInvalidDefinition(owner, fmt.Sprintf("%s uses ShapeSlice but is not a slice", d))
		}
	case ShapeMap:
		if d.Type.Kind() != reflect.Map || d.Type.Key().Kind() != reflect.String {
			return ErrInvalidDefinition(owner, fmt.Sprintf("%s uses ShapeMap but is not a map with string keys", d))
		}
	}

	return nil
}

func (d Descriptor) String() string {
	s := fmt.Sprintf("dependency of type '%s'", typeName(d.Type))

	if d.Name != "" {
		s = fmt.Sprintf("dependency '%s' of type '%s'", d.Name, typeName(d.Type))
	}

	if d.Requester != "" {
		s += fmt.Sprintf(" of component '%s'", d.Requester)
	}

	if d.Qualifier != "" {
		s += fmt.Sprintf(" qualified by '%s'", d.Qualifier)
	}

	return s
}

// Ordered components report their position in multi-value injections.
// Lower values come first.
type Ordered interface {
	Order() int
}

// DependencyComparator orders two candidate objects of a multi-value
// injection. It returns a negative number when a comes first.
type DependencyComparator func(a, b any) int
