package keel

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tracingProcessor struct {
	label string
	log   *[]string
}

func (p *tracingProcessor) AfterInitialization(_ context.Context, name string, obj any) (any, error) {
	*p.log = append(*p.log, p.label+":"+name)

	if repo, ok := obj.(*Repo); ok {
		return &Repo{ID: repo.ID + "+" + p.label}, nil
	}

	return obj, nil
}

func TestProcessor_RequiresAProcessorInterface(t *testing.T) {
	c := New()

	assert.Error(t, c.AddProcessor(struct{}{}))
	assert.NoError(t, c.AddProcessor(&FuncProcessor{}))
}

func TestProcessor_RunInRegistrationOrder(t *testing.T) {
	c := New()
	ctx := context.Background()

	var events []string

	require.NoError(t, c.AddProcessor(&tracingProcessor{label: "outer", log: &events}))
	require.NoError(t, c.AddProcessor(&tracingProcessor{label: "inner", log: &events}))
	require.NoError(t, c.RegisterDefinition("repo", &Definition{Constructors: []Executable{Ctor(NewRepo)}}))

	repo, err := Resolve[*Repo](ctx, c, "repo")
	require.NoError(t, err)

	assert.Equal(t, []string{"outer:repo", "inner:repo"}, events)
	assert.Equal(t, "repo+outer+inner", repo.ID)
}

func TestProcessor_NilStopsInitializationChain(t *testing.T) {
	c := New()
	ctx := context.Background()

	var events []string

	require.NoError(t, c.AddProcessor(&FuncProcessor{
		BeforeInitializationFunc: func(_ context.Context, name string, obj any) (any, error) {
			events = append(events, "first")

			return nil, nil
		},
		AfterInitializationFunc: func(_ context.Context, name string, obj any) (any, error) {
			events = append(events, "after")

			return nil, nil
		},
	}))
	require.NoError(t, c.AddProcessor(&tracingProcessor{label: "skipped", log: &events}))
	require.NoError(t, c.AddProcessor(&FuncProcessor{
		BeforeInitializationFunc: func(_ context.Context, name string, obj any) (any, error) {
			events = append(events, "second")

			return obj, nil
		},
	}))
	require.NoError(t, c.RegisterDefinition("repo", &Definition{Constructors: []Executable{Ctor(NewRepo)}}))

	repo, err := Resolve[*Repo](ctx, c, "repo")
	require.NoError(t, err)

	assert.Equal(t, "repo", repo.ID)
	assert.Equal(t, []string{"first", "after"}, events)
}

func TestProcessor_AfterInstantiationNilKeepsObject(t *testing.T) {
	c := New()
	ctx := context.Background()

	require.NoError(t, c.AddProcessor(&FuncProcessor{
		AfterInstantiationFunc: func(context.Context, string, any) (any, error) {
			return nil, nil
		},
	}))
	require.NoError(t, c.RegisterDefinition("repo", &Definition{Constructors: []Executable{Ctor(NewRepo)}}))

	repo, err := Resolve[*Repo](ctx, c, "repo")
	require.NoError(t, err)
	assert.Equal(t, "repo", repo.ID)
}

func TestProcessor_ErrorFailsCreation(t *testing.T) {
	c := New()
	ctx := context.Background()

	errVeto := errors.New("vetoed")

	require.NoError(t, c.AddProcessor(&FuncProcessor{
		AfterInitializationFunc: func(_ context.Context, name string, obj any) (any, error) {
			if name == "repo" {
				return nil, errVeto
			}

			return obj, nil
		},
	}))
	require.NoError(t, c.RegisterDefinition("repo", &Definition{Constructors: []Executable{Ctor(NewRepo)}}))

	_, err := c.Get(ctx, "repo")
	require.ErrorIs(t, err, errVeto)

	var ce *CreationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "repo", ce.Component)
	_, cached := c.finished.Load("repo")
	assert.False(t, cached)
}

func TestProcessor_AppliesOnlyToLaterCreations(t *testing.T) {
	c := New()
	ctx := context.Background()

	var events []string

	require.NoError(t, c.RegisterDefinition("repo", &Definition{Constructors: []Executable{Ctor(NewRepo)}}))

	_, err := c.Get(ctx, "repo")
	require.NoError(t, err)

	require.NoError(t, c.AddProcessor(&tracingProcessor{label: "late", log: &events}))

	repo, err := Resolve[*Repo](ctx, c, "repo")
	require.NoError(t, err)
	assert.Equal(t, "repo", repo.ID)
	assert.Empty(t, events)
}

func TestProcessor_MergedDefinitionRunsOnce(t *testing.T) {
	c := New()
	ctx := context.Background()

	var seen []reflect.Type

	require.NoError(t, c.AddProcessor(&FuncProcessor{
		MergedDefinitionFunc: func(_ context.Context, name string, def *Definition, typ reflect.Type) error {
			if name != "endpoint" {
				return nil
			}

			seen = append(seen, typ)
			def.Properties = append(def.Properties, Prop("label", "from-processor"))

			return nil
		},
	}))
	require.NoError(t, c.RegisterDefinition("endpoint", &Definition{
		Scope: ScopeTransient,
		Type:  typeOf[*endpointConfig](),
	}))

	first, err := Resolve[*endpointConfig](ctx, c, "endpoint")
	require.NoError(t, err)

	second, err := Resolve[*endpointConfig](ctx, c, "endpoint")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, "from-processor", first.label)
	assert.Equal(t, "from-processor", second.label)
	assert.Equal(t, []reflect.Type{typeOf[*endpointConfig]()}, seen)

	// The registered definition is left untouched.
	def, err := c.Definition("endpoint")
	require.NoError(t, err)
	assert.Empty(t, def.Properties)
}

func TestProcessor_MergedDefinitionFailureIsRetried(t *testing.T) {
	c := New()
	ctx := context.Background()

	errNotReady := errors.New("not ready")
	calls := 0

	require.NoError(t, c.AddProcessor(&FuncProcessor{
		MergedDefinitionFunc: func(context.Context, string, *Definition, reflect.Type) error {
			calls++
			if calls == 1 {
				return errNotReady
			}

			return nil
		},
	}))
	require.NoError(t, c.RegisterDefinition("repo", &Definition{Constructors: []Executable{Ctor(NewRepo)}}))

	_, err := c.Get(ctx, "repo")
	require.ErrorIs(t, err, errNotReady)

	var ce *CreationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StateInstantiated, ce.Phase)

	_, err = c.Get(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
