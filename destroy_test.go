package keel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closable is an io.Closer that optionally records the order of closing.
type closable struct {
	name   string
	closed bool
	err    error
	log    *[]string
}

func (c *closable) Close() error {
	c.closed = true

	if c.log != nil {
		*c.log = append(*c.log, c.name)
	}

	return c.err
}

type closableUser struct {
	Dep *closable
}

// dependentCloser is closed before the closable injected into it.
type dependentCloser struct {
	Dep *closable `inject:""`

	name string
	log  *[]string
}

func (d *dependentCloser) Close() error {
	*d.log = append(*d.log, d.name)

	return nil
}

type shutdowner struct {
	shut bool
}

func (s *shutdowner) Shutdown(ctx context.Context) error {
	s.shut = true

	return nil
}

type flusher struct {
	flushed  bool
	released bool
}

func (f *flusher) Flush() {
	f.flushed = true
}

func (f *flusher) Release(ctx context.Context) error {
	f.released = true

	return nil
}

func TestDestroy_DependentsBeforeDependencies(t *testing.T) {
	c := New()
	ctx := context.Background()

	var events []string

	require.NoError(t, c.RegisterDefinition("d", &Definition{
		Supplier: supply(&closable{name: "d", log: &events}),
		Type:     typeOf[*closable](),
	}))
	require.NoError(t, c.RegisterDefinition("c", &Definition{
		Supplier: supply(&dependentCloser{name: "c", log: &events}),
	}))

	_, err := c.Get(ctx, "c")
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, []string{"c", "d"}, events)
}

func TestDestroy_DestroySingletonCascades(t *testing.T) {
	c := New()
	ctx := context.Background()

	var events []string

	require.NoError(t, c.RegisterDefinition("d", &Definition{
		Constructors: []Executable{Ctor(func() *closable { return &closable{name: "d", log: &events} })},
	}))
	require.NoError(t, c.RegisterDefinition("c", &Definition{
		Supplier: supply(&dependentCloser{name: "c", log: &events}),
	}))

	first, err := c.Get(ctx, "c")
	require.NoError(t, err)

	require.NoError(t, c.DestroySingleton(ctx, "d"))
	assert.Equal(t, []string{"c", "d"}, events)
	assert.False(t, c.Inspect("c").Created)
	assert.False(t, c.Inspect("d").Created)

	// Both are built again on demand.
	second, err := c.Get(ctx, "c")
	require.NoError(t, err)
	assert.Same(t, first, second, "the supplier hands out the same object")

	d, err := Resolve[*closable](ctx, c, "d")
	require.NoError(t, err)
	assert.False(t, d.closed)
}

func TestDestroy_Dispose(t *testing.T) {
	c := New()
	ctx := context.Background()

	svc := &mockService{name: "svc", healthy: true}
	require.NoError(t, c.RegisterDefinition("svc", &Definition{Supplier: supply(svc)}))

	_, err := c.Get(ctx, "svc")
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	assert.True(t, svc.disposed)
}

func TestDestroy_InferredDestroyMethod(t *testing.T) {
	c := New()
	ctx := context.Background()

	inferred := &shutdowner{}
	plain := &shutdowner{}

	require.NoError(t, c.RegisterDefinition("inferred", &Definition{
		Supplier:       supply(inferred),
		DestroyMethods: []string{InferDestroyMethod},
	}))
	require.NoError(t, c.RegisterDefinition("plain", &Definition{Supplier: supply(plain)}))

	_, err := c.Get(ctx, "inferred")
	require.NoError(t, err)

	_, err = c.Get(ctx, "plain")
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	assert.True(t, inferred.shut)
	assert.False(t, plain.shut)
}

func TestDestroy_NamedDestroyMethods(t *testing.T) {
	c := New()
	ctx := context.Background()

	f := &flusher{}
	require.NoError(t, c.RegisterDefinition("flusher", &Definition{
		Supplier:       supply(f),
		DestroyMethods: []string{"Flush", "Release"},
	}))

	_, err := c.Get(ctx, "flusher")
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	assert.True(t, f.flushed)
	assert.True(t, f.released)
}

func TestDestroy_MissingDestroyMethodIsInvalid(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("flusher", &Definition{
		Supplier:       supply(&flusher{}),
		DestroyMethods: []string{"Drain"},
	}))

	_, err := c.Get(context.Background(), "flusher")
	assert.ErrorIs(t, err, ErrInvalidDefinitionSentinel)
	assert.Contains(t, err.Error(), "Drain")
	assert.False(t, c.Inspect("flusher").Created)
}

func TestDestroy_FailuresDoNotStopTeardown(t *testing.T) {
	c := New()
	ctx := context.Background()

	broken := &closable{name: "broken", err: errors.New("close failed")}
	healthy := &closable{name: "healthy"}

	require.NoError(t, c.RegisterDefinition("broken", &Definition{Supplier: supply(broken)}))
	require.NoError(t, c.RegisterDefinition("healthy", &Definition{Supplier: supply(healthy)}))
	require.NoError(t, c.PreInstantiateSingletons(ctx))

	err := c.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
	assert.Contains(t, err.Error(), "broken")

	assert.True(t, broken.closed)
	assert.True(t, healthy.closed)
}

func TestDestroy_TransientsAreNotTracked(t *testing.T) {
	c := New()
	ctx := context.Background()

	require.NoError(t, c.RegisterDefinition("conn", &Definition{
		Scope:        ScopeTransient,
		Constructors: []Executable{Ctor(func() *closable { return &closable{name: "conn"} })},
	}))

	conn, err := Resolve[*closable](ctx, c, "conn")
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	assert.False(t, conn.closed)
}

func TestDestroy_DestructionProcessor(t *testing.T) {
	c := New()
	ctx := context.Background()

	var events []string

	require.NoError(t, c.AddProcessor(&FuncProcessor{
		BeforeDestructionFunc: func(ctx context.Context, name string, obj any) error {
			events = append(events, "before:"+name)

			return nil
		},
	}))

	repo := &closable{name: "repo", log: &events}
	require.NoError(t, c.RegisterDefinition("repo", &Definition{Supplier: supply(repo)}))
	require.NoError(t, c.RegisterDefinition("plain", &Definition{Constructors: []Executable{Ctor(NewRepo)}}))
	require.NoError(t, c.PreInstantiateSingletons(ctx))

	require.NoError(t, c.Close(ctx))
	assert.ElementsMatch(t, []string{"before:repo", "repo", "before:plain"}, events)
	assert.Less(t, indexOf(events, "before:repo"), indexOf(events, "repo"))
}

func TestDestroy_CloseStopsServicesFirst(t *testing.T) {
	c := New()
	ctx := context.Background()

	var events []string

	svc := &mockService{
		name:    "svc",
		healthy: true,
		onStop:  func() { events = append(events, "stop") },
	}
	require.NoError(t, c.RegisterDefinition("svc", &Definition{Supplier: supply(svc)}))
	require.NoError(t, c.Start(ctx))
	assert.True(t, svc.started)

	require.NoError(t, c.Close(ctx))
	assert.True(t, svc.stopped)
	assert.True(t, svc.disposed)
	assert.Equal(t, []string{"stop"}, events)

	assert.NoError(t, c.Close(ctx), "closing twice is a no-op")
}

func TestDestroy_ContainedComponentsGoWithTheirOwner(t *testing.T) {
	c := New()
	ctx := context.Background()

	inner := &closable{name: "inner"}

	require.NoError(t, c.RegisterDefinition("holder", &Definition{
		Type:       typeOf[*closableUser](),
		Properties: []Property{Prop("Dep", Inner(&Definition{Supplier: supply(inner)}))},
	}))

	holder, err := Resolve[*closableUser](ctx, c, "holder")
	require.NoError(t, err)
	assert.Same(t, inner, holder.Dep)

	require.NoError(t, c.DestroySingleton(ctx, "holder"))
	assert.True(t, inner.closed)
}

func indexOf(s []string, v string) int {
	for i, e := range s {
		if e == v {
			return i
		}
	}

	return -1
}
