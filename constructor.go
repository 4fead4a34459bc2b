package keel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

// In is a marker type that should be embedded in structs to indicate
// they are parameter objects. Each exported field of the struct becomes
// an injection point of its own.
//
// Example:
//
//	type ServiceParams struct {
//	    keel.In
//
//	    Repo     *Repository
//	    Logger   Logger        `optional:"true"`
//	    Cache    Cache         `name:"redis"`
//	    Handlers []http.Handler
//	}
type In struct{}

var (
	inType      = reflect.TypeOf(In{})
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// executableInfo holds analyzed constructor or factory method metadata.
type executableInfo struct {
	fn        reflect.Value
	fnType    reflect.Type
	params    []paramInfo
	result    reflect.Type
	hasError  bool
	variadic  bool
	public    bool
	signature string
	// method marks a factory method bound to its receiver.
	method bool
}

// paramInfo describes a constructor parameter or a field of an In struct.
type paramInfo struct {
	typ       reflect.Type
	index     int
	name      string // parameter or field name, used for named args and name matching
	qualifier string // From `name:"..."` tag
	optional  bool   // From `optional:"true"` tag
	isContext bool
	isIn      bool
	inPtr     bool
	inFields  []paramInfo
}

// analyzeExecutable inspects a constructor function.
func analyzeExecutable(ex Executable) (*executableInfo, error) {
	if ex.Fn == nil {
		return nil, errors.New("constructor must be a function")
	}

	fnValue := reflect.ValueOf(ex.Fn)
	if fnValue.Kind() != reflect.Func {
		return nil, errors.New("constructor must be a function")
	}

	info, err := analyzeFunc(fnValue, ex.ParamNames)
	if err != nil {
		return nil, err
	}

	info.public = !ex.NonPublic

	return info, nil
}

// analyzeMethod inspects an exported method value bound to its receiver.
func analyzeMethod(method reflect.Value) (*executableInfo, error) {
	info, err := analyzeFunc(method, nil)
	if err != nil {
		return nil, err
	}

	info.public = true
	info.method = true

	return info, nil
}

func analyzeFunc(fnValue reflect.Value, names []string) (*executableInfo, error) {
	fnType := fnValue.Type()
	info := &executableInfo{
		fn:       fnValue,
		fnType:   fnType,
		variadic: fnType.IsVariadic(),
	}

	switch fnType.NumOut() {
	case 1:
	case 2:
		if fnType.Out(1) != errorType {
			return nil, errors.New("second return value must be error")
		}

		info.hasError = true
	default:
		return nil, errors.New("constructor must return a value and an optional error")
	}

	info.result = fnType.Out(0)
	if info.result == errorType {
		return nil, errors.New("constructor must return at least one non-error value")
	}

	for i := 0; i < fnType.NumIn(); i++ {
		param, err := analyzeParam(fnType.In(i), i)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}

		if i < len(names) {
			param.name = names[i]
		}

		info.params = append(info.params, param)
	}

	info.signature = fnType.String()

	return info, nil
}

// analyzeParam analyzes a single parameter type.
func analyzeParam(t reflect.Type, index int) (paramInfo, error) {
	param := paramInfo{
		typ:       t,
		index:     index,
		isContext: t == contextType,
	}

	if isInStruct(t) {
		param.isIn = true
		param.inPtr = t.Kind() == reflect.Ptr

		fields, err := expandInStruct(t)
		if err != nil {
			return param, err
		}

		param.inFields = fields
	}

	return param, nil
}

// isInStruct checks if a type embeds keel.In.
func isInStruct(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return false
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && field.Type == inType {
			return true
		}

		if field.Anonymous && isInStruct(field.Type) {
			return true
		}
	}

	return false
}

// expandInStruct expands an In struct into its field dependencies.
func expandInStruct(t reflect.Type) ([]paramInfo, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	var params []paramInfo

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Anonymous && (field.Type == inType || isInStruct(field.Type)) {
			continue
		}

		if !field.IsExported() {
			continue
		}

		if isInStruct(field.Type) {
			return nil, fmt.Errorf("field %s: nested parameter objects are not supported", field.Name)
		}

		param := paramInfo{
			typ:       field.Type,
			index:     i,
			name:      lowerFirst(field.Name),
			isContext: field.Type == contextType,
		}

		if tag := field.Tag.Get("name"); tag != "" {
			param.qualifier = tag
		}

		if tag := field.Tag.Get("optional"); strings.EqualFold(tag, "true") {
			param.optional = true
		}

		params = append(params, param)
	}

	return params, nil
}

// buildInStruct assembles a parameter object from resolved field values.
func buildInStruct(p paramInfo, values []reflect.Value) reflect.Value {
	t := p.typ
	if p.inPtr {
		t = t.Elem()
	}

	obj := reflect.New(t).Elem()

	for i, f := range p.inFields {
		if values[i].IsValid() {
			obj.Field(f.index).Set(values[i])
		}
	}

	if p.inPtr {
		return obj.Addr()
	}

	return obj
}

// call invokes the executable with fully bound arguments.
func (e *executableInfo) call(args []reflect.Value) (any, error) {
	var out []reflect.Value
	if e.variadic {
		out = e.fn.CallSlice(args)
	} else {
		out = e.fn.Call(args)
	}

	if e.hasError && !out[1].IsNil() {
		err, _ := out[1].Interface().(error)

		return nil, err
	}

	result := out[0]
	if isNilValue(result) {
		return nil, fmt.Errorf("%s returned nil", e.signature)
	}

	return result.Interface(), nil
}

// paramTypes renders the parameter types for diagnostics.
func (e *executableInfo) paramTypes() []string {
	types := make([]string, len(e.params))
	for i, p := range e.params {
		types[i] = p.typ.String()
	}

	return types
}

func isNilValue(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}

	r, size := utf8.DecodeRuneInString(s)

	return string(unicode.ToLower(r)) + s[size:]
}
