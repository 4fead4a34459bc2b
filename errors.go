package keel

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/xraph/go-utils/errs"
)

// =============================================================================
// ERROR CODES
// =============================================================================

const (
	// CodeNoSuchComponent indicates no component exists for a name or type
	CodeNoSuchComponent = "NO_SUCH_COMPONENT"

	// CodeNoUniqueComponent indicates several candidates matched a single-valued dependency
	CodeNoUniqueComponent = "NO_UNIQUE_COMPONENT"

	// CodeCurrentlyInCreation indicates an unresolvable re-entrant creation
	CodeCurrentlyInCreation = "CURRENTLY_IN_CREATION"

	// CodeCircularDependsOn indicates a cycle among depends-on declarations
	CodeCircularDependsOn = "CIRCULAR_DEPENDS_ON"

	// CodeUnresolvableParent indicates a parent definition could not be found
	CodeUnresolvableParent = "UNRESOLVABLE_PARENT"

	// CodeAbstractComponent indicates an attempt to instantiate a template definition
	CodeAbstractComponent = "ABSTRACT_COMPONENT"

	// CodeNoMatchingConstructor indicates no constructor or factory method fits
	CodeNoMatchingConstructor = "NO_MATCHING_CONSTRUCTOR"

	// CodeAmbiguousConstructor indicates several constructors tied on weight
	CodeAmbiguousConstructor = "AMBIGUOUS_CONSTRUCTOR"

	// CodeDefinitionOverride indicates a forbidden definition override
	CodeDefinitionOverride = "DEFINITION_OVERRIDE"

	// CodeConfigurationFrozen indicates a definition change after Freeze
	CodeConfigurationFrozen = "CONFIGURATION_FROZEN"

	// CodeInvalidDefinition indicates a malformed definition
	CodeInvalidDefinition = "INVALID_DEFINITION"

	// CodeScopeNotActive indicates a custom scope has no active context
	CodeScopeNotActive = "SCOPE_NOT_ACTIVE"

	// CodeUnknownScope indicates a definition refers to an unregistered scope
	CodeUnknownScope = "UNKNOWN_SCOPE"

	// CodeScopeEnded indicates operation on an ended scope context
	CodeScopeEnded = "SCOPE_ENDED"

	// CodeTypeMismatch indicates a component is not of the requested type
	CodeTypeMismatch = "TYPE_MISMATCH"

	// CodeComponentCreation indicates a failure while building a component
	CodeComponentCreation = "COMPONENT_CREATION"

	// CodeContainerClosed indicates the container has been closed
	CodeContainerClosed = "CONTAINER_CLOSED"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

// Sentinels match any error carrying the same code through errors.Is.
var (
	ErrNoSuchComponentSentinel       = &errs.Error{Code: CodeNoSuchComponent}
	ErrNoUniqueComponentSentinel     = &errs.Error{Code: CodeNoUniqueComponent}
	ErrCurrentlyInCreationSentinel   = &errs.Error{Code: CodeCurrentlyInCreation}
	ErrCircularDependsOnSentinel     = &errs.Error{Code: CodeCircularDependsOn}
	ErrUnresolvableParentSentinel    = &errs.Error{Code: CodeUnresolvableParent}
	ErrAbstractComponentSentinel     = &errs.Error{Code: CodeAbstractComponent}
	ErrNoMatchingConstructorSentinel = &errs.Error{Code: CodeNoMatchingConstructor}
	ErrAmbiguousConstructorSentinel  = &errs.Error{Code: CodeAmbiguousConstructor}
	ErrDefinitionOverrideSentinel    = &errs.Error{Code: CodeDefinitionOverride}
	ErrConfigurationFrozenSentinel   = &errs.Error{Code: CodeConfigurationFrozen}
	ErrInvalidDefinitionSentinel     = &errs.Error{Code: CodeInvalidDefinition}
	ErrScopeNotActiveSentinel        = &errs.Error{Code: CodeScopeNotActive}
	ErrUnknownScopeSentinel          = &errs.Error{Code: CodeUnknownScope}
	ErrTypeMismatchSentinel          = &errs.Error{Code: CodeTypeMismatch}
)

// ErrScopeEnded is returned when operations are attempted on an ended scope context.
var ErrScopeEnded = errs.NewError(CodeScopeEnded, "scope context has ended", nil)

// ErrContainerClosed is returned when a closed container is asked for a component.
var ErrContainerClosed = errs.NewError(CodeContainerClosed, "container has been closed", nil)

// =============================================================================
// ERROR CONSTRUCTORS
// =============================================================================

// ErrNoSuchComponent creates an error for an unknown component name.
func ErrNoSuchComponent(name string) *errs.Error {
	return errs.NewError(
		CodeNoSuchComponent,
		fmt.Sprintf("no component named '%s' is defined", name),
		nil,
	)
}

// ErrNoSuchComponentOfType creates an error for a required dependency without candidates.
func ErrNoSuchComponentOfType(typ reflect.Type, desc string) *errs.Error {
	msg := fmt.Sprintf("no qualifying component of type '%s' available", typeName(typ))
	if desc != "" {
		msg += ": " + desc
	}

	return errs.NewError(CodeNoSuchComponent, msg, nil)
}

// ErrNoUniqueComponent creates an error listing every candidate that matched.
func ErrNoUniqueComponent(typ reflect.Type, candidates []string, reason string) *errs.Error {
	msg := fmt.Sprintf(
		"no qualifying component of type '%s' available: expected single matching component but found %d: %s",
		typeName(typ), len(candidates), strings.Join(candidates, ","),
	)
	if reason != "" {
		msg += " (" + reason + ")"
	}

	return errs.NewError(CodeNoUniqueComponent, msg, nil)
}

// ErrCurrentlyInCreation creates an error for an unresolvable circular reference.
func ErrCurrentlyInCreation(name string) *errs.Error {
	return errs.NewError(
		CodeCurrentlyInCreation,
		fmt.Sprintf("component '%s' is currently in creation: is there an unresolvable circular reference?", name),
		nil,
	)
}

// ErrCircularDependsOn creates an error for a depends-on cycle.
func ErrCircularDependsOn(name, dependsOn string) *errs.Error {
	return errs.NewError(
		CodeCircularDependsOn,
		fmt.Sprintf("circular depends-on relationship between '%s' and '%s'", name, dependsOn),
		nil,
	)
}

// ErrUnresolvableParent creates an error for a missing parent definition.
func ErrUnresolvableParent(name, parent string, cause error) *errs.Error {
	return errs.NewError(
		CodeUnresolvableParent,
		fmt.Sprintf("could not resolve parent definition '%s' of component '%s'", parent, name),
		cause,
	)
}

// ErrAbstractComponent creates an error for an attempt to build a template.
func ErrAbstractComponent(name string) *errs.Error {
	return errs.NewError(
		CodeAbstractComponent,
		fmt.Sprintf("component definition '%s' is abstract", name),
		nil,
	)
}

// ErrNoMatchingConstructor creates an error describing the attempted argument types.
func ErrNoMatchingConstructor(name string, attempted []string, detail string) *errs.Error {
	msg := fmt.Sprintf("could not resolve matching constructor for component '%s'", name)
	if len(attempted) > 0 {
		msg += fmt.Sprintf(" with argument types [%s]", strings.Join(attempted, ", "))
	}

	if detail != "" {
		msg += ": " + detail
	}

	return errs.NewError(CodeNoMatchingConstructor, msg, nil)
}

// ErrAmbiguousConstructor creates an error listing the tied candidates.
func ErrAmbiguousConstructor(name string, candidates []string) *errs.Error {
	return errs.NewError(
		CodeAmbiguousConstructor,
		fmt.Sprintf("ambiguous constructor matches found for component '%s': %s", name, strings.Join(candidates, "; ")),
		nil,
	)
}

// ErrDefinitionOverride creates an error for a forbidden override.
func ErrDefinitionOverride(name string) *errs.Error {
	return errs.NewError(
		CodeDefinitionOverride,
		fmt.Sprintf("cannot register definition for component '%s': there is already a definition bound", name),
		nil,
	)
}

// ErrConfigurationFrozen creates an error for a definition change after Freeze.
func ErrConfigurationFrozen(operation, name string) *errs.Error {
	return errs.NewError(
		CodeConfigurationFrozen,
		fmt.Sprintf("cannot %s definition '%s': configuration is frozen", operation, name),
		nil,
	)
}

// ErrInvalidDefinition creates an error for a malformed definition.
func ErrInvalidDefinition(name, reason string) *errs.Error {
	return errs.NewError(
		CodeInvalidDefinition,
		fmt.Sprintf("invalid definition for component '%s': %s", name, reason),
		nil,
	)
}

// ErrScopeNotActive creates an error for a custom scope without an active context.
func ErrScopeNotActive(scope, name string, cause error) *errs.Error {
	return errs.NewError(
		CodeScopeNotActive,
		fmt.Sprintf("scope '%s' is not active for component '%s'", scope, name),
		cause,
	)
}

// ErrUnknownScope creates an error for a definition using an unregistered scope.
func ErrUnknownScope(scope, name string) *errs.Error {
	return errs.NewError(
		CodeUnknownScope,
		fmt.Sprintf("no scope registered for scope name '%s' used by component '%s'", scope, name),
		nil,
	)
}

// ErrTypeMismatch creates an error for a component that is not of the expected type.
func ErrTypeMismatch(name string, expected reflect.Type, actual any) *errs.Error {
	return errs.NewError(
		CodeTypeMismatch,
		fmt.Sprintf("component '%s' is expected to be of type '%s' but was '%T'", name, typeName(expected), actual),
		nil,
	)
}

// =============================================================================
// CREATION ERROR
// =============================================================================

// CreationError reports a failure while building a component. Nested creations
// wrap each other, so the chain reads from the requested component down to the
// root cause.
type CreationError struct {
	Component string
	Phase     LifecycleState
	Cause     error
	// Related holds causes suppressed while fallback candidates were tried.
	Related []error
}

func (e *CreationError) Error() string {
	msg := fmt.Sprintf("error creating component '%s' during %s", e.Component, e.Phase)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

func (e *CreationError) Unwrap() error {
	return e.Cause
}

// Is matches another CreationError for the same component (an empty component matches any).
func (e *CreationError) Is(target error) bool {
	t, ok := target.(*CreationError)
	if !ok {
		return false
	}

	return t.Component == "" || e.Component == "" || t.Component == e.Component
}

// Code returns the structured error code.
func (e *CreationError) Code() string {
	return CodeComponentCreation
}

// newCreationError wraps cause unless it already describes the same component.
func newCreationError(name string, phase LifecycleState, cause error) error {
	if ce, ok := cause.(*CreationError); ok && ce.Component == name {
		return ce
	}

	return &CreationError{Component: name, Phase: phase, Cause: cause}
}

// suppressed collects secondary errors up to a fixed limit.
type suppressed struct {
	limit  int
	errors []error
}

func (s *suppressed) add(err error) {
	if err == nil || len(s.errors) >= s.limit {
		return
	}

	s.errors = append(s.errors, err)
}

// attach hangs the collected errors on err when it is a CreationError, or wraps it.
func (s *suppressed) attach(name string, phase LifecycleState, err error) error {
	if len(s.errors) == 0 {
		return err
	}

	ce, ok := err.(*CreationError)
	if !ok {
		ce = &CreationError{Component: name, Phase: phase, Cause: err}
	}

	for _, rel := range s.errors {
		if rel == err || len(ce.Related) >= s.limit {
			continue
		}

		ce.Related = append(ce.Related, rel)
	}

	return ce
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	return t.String()
}
