package keel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Settings struct {
	Name string
}

type Cache struct{}

type Missing struct{}

// multi records which constructor built it.
type multi struct {
	via  string
	repo *Repo
}

type endpoint struct {
	host string
	port int
}

func newEndpoint(host string, port int) *endpoint {
	return &endpoint{host: host, port: port}
}

type serviceParams struct {
	In

	Repo     *Repo
	Cache    *Cache `optional:"true"`
	Settings *Settings `name:"prod"`
}

type paramService struct {
	params serviceParams
}

func TestConstructor_AnalyzeInStruct(t *testing.T) {
	info, err := analyzeExecutable(Ctor(func(p serviceParams) *paramService {
		return &paramService{params: p}
	}))
	require.NoError(t, err)

	require.Len(t, info.params, 1)
	p := info.params[0]
	assert.True(t, p.isIn)
	require.Len(t, p.inFields, 3)

	assert.Equal(t, "repo", p.inFields[0].name)
	assert.True(t, p.inFields[1].optional)
	assert.Equal(t, "prod", p.inFields[2].qualifier)
	assert.Equal(t, typeOf[*paramService](), info.result)
	assert.True(t, info.public)
}

func TestConstructor_AnalyzeRejectsBadSignatures(t *testing.T) {
	_, err := analyzeExecutable(Ctor(func() {}))
	assert.Error(t, err)

	_, err = analyzeExecutable(Ctor(func() (*Repo, string) { return nil, "" }))
	assert.Error(t, err)

	_, err = analyzeExecutable(Ctor(func() error { return nil }))
	assert.Error(t, err)

	_, err = analyzeExecutable(Executable{Fn: "not a func"})
	assert.Error(t, err)
}

func TestConstructor_InStructInjection(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("repo", &Definition{Constructors: []Executable{Ctor(NewRepo)}}))
	require.NoError(t, c.RegisterDefinition("dev", &Definition{Supplier: supply(&Settings{Name: "dev"}), Type: typeOf[*Settings]()}))
	require.NoError(t, c.RegisterDefinition("prod", &Definition{Supplier: supply(&Settings{Name: "prod"}), Type: typeOf[*Settings]()}))
	require.NoError(t, c.RegisterDefinition("svc", &Definition{
		Constructors: []Executable{Ctor(func(p serviceParams) *paramService {
			return &paramService{params: p}
		})},
	}))

	svc, err := Resolve[*paramService](context.Background(), c, "svc")
	require.NoError(t, err)

	assert.NotNil(t, svc.params.Repo)
	assert.Nil(t, svc.params.Cache)
	assert.Equal(t, "prod", svc.params.Settings.Name)
}

func TestConstructor_PrefersGreediestSatisfiableConstructor(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("repo", &Definition{Constructors: []Executable{Ctor(NewRepo)}}))
	require.NoError(t, c.RegisterDefinition("multi", &Definition{
		Constructors: []Executable{
			Ctor(func() *multi { return &multi{via: "none"} }),
			Ctor(func(r *Repo) *multi { return &multi{via: "repo", repo: r} }),
			Ctor(func(r *Repo, m *Missing) *multi { return &multi{via: "missing"} }),
		},
	}))

	m, err := Resolve[*multi](context.Background(), c, "multi")
	require.NoError(t, err)
	assert.Equal(t, "repo", m.via)
	assert.NotNil(t, m.repo)
}

func TestConstructor_AmbiguousConstructors(t *testing.T) {
	newDef := func() *Definition {
		return &Definition{
			Constructors: []Executable{
				Ctor(func(r *Repo) *multi { return &multi{via: "repo"} }),
				Ctor(func(s *Settings) *multi { return &multi{via: "settings"} }),
			},
		}
	}

	setup := func(c *Container) {
		require.NoError(t, c.RegisterDefinition("repo", &Definition{Constructors: []Executable{Ctor(NewRepo)}}))
		require.NoError(t, c.RegisterDefinition("settings", &Definition{Supplier: supply(&Settings{}), Type: typeOf[*Settings]()}))
		require.NoError(t, c.RegisterDefinition("multi", newDef()))
	}

	strict := New()
	setup(strict)

	_, err := strict.Get(context.Background(), "multi")
	assert.ErrorIs(t, err, ErrAmbiguousConstructorSentinel)
	assert.Contains(t, err.Error(), "*keel.Repo")
	assert.Contains(t, err.Error(), "*keel.Settings")

	lenient := New(WithConfig(configWith(func(cfg *Config) { cfg.LenientConstructorResolution = true })))
	setup(lenient)

	m, err := Resolve[*multi](context.Background(), lenient, "multi")
	require.NoError(t, err)
	assert.Equal(t, "repo", m.via)
}

func TestConstructor_LowestWeightWins(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("multi", &Definition{
		Constructors: []Executable{
			Ctor(func(n int) *multi { return &multi{via: "int"} }),
			Ctor(func(s string) *multi { return &multi{via: "string"} }),
		},
		Args: []Value{Lit("42")},
	}))

	m, err := Resolve[*multi](context.Background(), c, "multi")
	require.NoError(t, err)
	assert.Equal(t, "string", m.via)
}

func TestConstructor_LiteralConversion(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("endpoint", &Definition{
		Constructors: []Executable{Ctor(newEndpoint)},
		Args:         []Value{Indexed(0, "api"), Indexed(1, "8080")},
	}))

	e, err := Resolve[*endpoint](context.Background(), c, "endpoint")
	require.NoError(t, err)
	assert.Equal(t, "api", e.host)
	assert.Equal(t, 8080, e.port)
}

func TestConstructor_NamedArguments(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("endpoint", &Definition{
		Constructors: []Executable{Ctor(newEndpoint, "host", "port")},
		Args:         []Value{Named("port", 80), Named("host", "example.com")},
	}))

	e, err := Resolve[*endpoint](context.Background(), c, "endpoint")
	require.NoError(t, err)
	assert.Equal(t, "example.com", e.host)
	assert.Equal(t, 80, e.port)
}

func TestConstructor_InvalidLiteralConversion(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("endpoint", &Definition{
		Constructors: []Executable{Ctor(newEndpoint)},
		Args:         []Value{Indexed(0, "api"), Indexed(1, "not-a-number")},
	}))

	_, err := c.Get(context.Background(), "endpoint")
	assert.ErrorIs(t, err, ErrNoMatchingConstructorSentinel)
	assert.Contains(t, err.Error(), "cannot convert string to int")
}

func TestConstructor_TooManyArguments(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("endpoint", &Definition{
		Constructors: []Executable{Ctor(newEndpoint)},
		Args:         []Value{Lit("a"), Lit(1), Lit("extra")},
	}))

	_, err := c.Get(context.Background(), "endpoint")
	assert.ErrorIs(t, err, ErrNoMatchingConstructorSentinel)
}

func TestConstructor_ReferenceArgument(t *testing.T) {
	c := New()
	ctx := context.Background()

	require.NoError(t, c.RegisterDefinition("primary", &Definition{Supplier: supply(&Repo{ID: "primary"}), Type: typeOf[*Repo]()}))
	require.NoError(t, c.RegisterDefinition("backup", &Definition{Supplier: supply(&Repo{ID: "backup"}), Type: typeOf[*Repo]()}))
	require.NoError(t, c.RegisterDefinition("service", &Definition{
		Constructors: []Executable{Ctor(NewService)},
		Args:         []Value{Ref("backup")},
	}))

	svc, err := Resolve[*Service](ctx, c, "service")
	require.NoError(t, err)
	assert.Equal(t, "backup", svc.Repo.ID)
	assert.Equal(t, []string{"service"}, c.graph.Dependents("backup"))
}

func TestConstructor_InnerDefinitionArgument(t *testing.T) {
	c := New()
	ctx := context.Background()

	inner := &closable{name: "inner"}

	require.NoError(t, c.RegisterDefinition("holder", &Definition{
		Constructors: []Executable{Ctor(func(dep *closable) *closableUser {
			return &closableUser{Dep: dep}
		})},
		Args: []Value{Inner(&Definition{Supplier: supply(inner)})},
	}))

	holder, err := Resolve[*closableUser](ctx, c, "holder")
	require.NoError(t, err)
	assert.Same(t, inner, holder.Dep)

	// Inner components are not registered under a name of their own.
	assert.Equal(t, []string{"holder"}, c.DefinitionNames())

	require.NoError(t, c.Close(ctx))
	assert.True(t, inner.closed)
}

func TestConstructor_AutowireNoRequiresArguments(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("repo", &Definition{Constructors: []Executable{Ctor(NewRepo)}}))
	require.NoError(t, c.RegisterDefinition("service", &Definition{
		Constructors: []Executable{Ctor(NewService)},
		Autowire:     AutowireNo,
	}))

	_, err := c.Get(context.Background(), "service")
	assert.ErrorIs(t, err, ErrNoMatchingConstructorSentinel)
	assert.Contains(t, err.Error(), "autowiring is disabled")
}

func TestConstructor_HiddenConstructors(t *testing.T) {
	def := func() *Definition {
		return &Definition{Constructors: []Executable{Hidden(NewRepo)}}
	}

	open := New()
	require.NoError(t, open.RegisterDefinition("repo", def()))

	_, err := open.Get(context.Background(), "repo")
	assert.NoError(t, err)

	closed := New(WithConfig(configWith(func(cfg *Config) { cfg.NonPublicAccess = false })))
	require.NoError(t, closed.RegisterDefinition("repo", def()))

	_, err = closed.Get(context.Background(), "repo")
	assert.ErrorIs(t, err, ErrNoMatchingConstructorSentinel)

	perDefinition := def()
	perDefinition.NonPublicAccess = Bool(true)
	require.NoError(t, closed.RegisterDefinition("repo2", perDefinition))

	_, err = closed.Get(context.Background(), "repo2")
	assert.NoError(t, err)
}

func TestConstructor_PublicPreferredOverHidden(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("multi", &Definition{
		Constructors: []Executable{
			Hidden(func() *multi { return &multi{via: "hidden"} }),
			Ctor(func() *multi { return &multi{via: "public"} }),
		},
	}))

	m, err := Resolve[*multi](context.Background(), c, "multi")
	require.NoError(t, err)
	assert.Equal(t, "public", m.via)
}

func TestConstructor_ContextParameter(t *testing.T) {
	type ctxKey struct{}

	c := New()

	require.NoError(t, c.RegisterDefinition("settings", &Definition{
		Constructors: []Executable{Ctor(func(ctx context.Context) *Settings {
			name, _ := ctx.Value(ctxKey{}).(string)

			return &Settings{Name: name}
		})},
	}))

	ctx := context.WithValue(context.Background(), ctxKey{}, "from-context")

	s, err := Resolve[*Settings](ctx, c, "settings")
	require.NoError(t, err)
	assert.Equal(t, "from-context", s.Name)
}

func TestConstructor_ErrorIsWrapped(t *testing.T) {
	c := New()
	boom := errors.New("boom")

	require.NoError(t, c.RegisterDefinition("repo", &Definition{
		Constructors: []Executable{Ctor(func() (*Repo, error) { return nil, boom })},
	}))

	_, err := c.Get(context.Background(), "repo")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var ce *CreationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "repo", ce.Component)
	assert.Equal(t, StateInstantiated, ce.Phase)
}

func TestConstructor_NilResultIsAnError(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("repo", &Definition{
		Constructors: []Executable{Ctor(func() *Repo { return nil })},
	}))
	require.NoError(t, c.RegisterDefinition("supplied", &Definition{
		Supplier: func(context.Context) (any, error) { return nil, nil },
	}))

	_, err := c.Get(context.Background(), "repo")
	assert.ErrorContains(t, err, "returned nil")

	_, err = c.Get(context.Background(), "supplied")
	assert.ErrorContains(t, err, "supplier returned nil")
}

func TestConstructor_TransientReusesResolution(t *testing.T) {
	c := New()
	ctx := context.Background()

	var calls int

	require.NoError(t, c.RegisterDefinition("repo", &Definition{Constructors: []Executable{Ctor(NewRepo)}}))
	require.NoError(t, c.RegisterDefinition("service", &Definition{
		Scope: ScopeTransient,
		Constructors: []Executable{Ctor(func(r *Repo) *Service {
			calls++

			return NewService(r)
		})},
	}))

	a, err := Resolve[*Service](ctx, c, "service")
	require.NoError(t, err)

	md, err := c.mergedDefinition("service")
	require.NoError(t, err)

	info, recipe, ok := md.cachedResolution()
	require.True(t, ok)
	assert.NotNil(t, info)
	require.Len(t, recipe, 1)
	assert.Equal(t, argAutowired, recipe[0].source)

	b, err := Resolve[*Service](ctx, c, "service")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Same(t, a.Repo, b.Repo)
	assert.Equal(t, 2, calls)
}

type connFactory struct {
	prefix string
}

type conn struct {
	dsn string
}

func (f *connFactory) Open(dsn string) *conn {
	return &conn{dsn: f.prefix + dsn}
}

func (f *connFactory) OpenDefault(s *Settings) (*conn, error) {
	if s == nil {
		return nil, errors.New("no settings")
	}

	return &conn{dsn: f.prefix + s.Name}, nil
}

func TestConstructor_FactoryMethod(t *testing.T) {
	c := New()
	ctx := context.Background()

	require.NoError(t, c.RegisterDefinition("factory", &Definition{Supplier: supply(&connFactory{prefix: "pg://"})}))
	require.NoError(t, c.RegisterDefinition("settings", &Definition{Supplier: supply(&Settings{Name: "main"}), Type: typeOf[*Settings]()}))
	require.NoError(t, c.RegisterDefinition("explicit", &Definition{
		FactoryComponent: "factory",
		FactoryMethod:    "Open",
		Args:             []Value{Lit("db")},
	}))
	require.NoError(t, c.RegisterDefinition("autowired", &Definition{
		FactoryComponent: "factory",
		FactoryMethod:    "OpenDefault",
	}))

	explicit, err := Resolve[*conn](ctx, c, "explicit")
	require.NoError(t, err)
	assert.Equal(t, "pg://db", explicit.dsn)

	autowired, err := Resolve[*conn](ctx, c, "autowired")
	require.NoError(t, err)
	assert.Equal(t, "pg://main", autowired.dsn)

	assert.ElementsMatch(t, []string{"explicit", "autowired"}, c.graph.Dependents("factory"))
}

func TestConstructor_FactoryMethodTypePrediction(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("factory", &Definition{Constructors: []Executable{Ctor(func() *connFactory {
		return &connFactory{}
	})}}))
	require.NoError(t, c.RegisterDefinition("conn", &Definition{
		FactoryComponent: "factory",
		FactoryMethod:    "Open",
		Args:             []Value{Lit("x")},
	}))

	assert.Equal(t, []string{"conn"}, c.NamesForType(typeOf[*conn]()))

	typ, err := c.TypeOf("conn")
	require.NoError(t, err)
	assert.Equal(t, typeOf[*conn](), typ)
}

func TestConstructor_FactoryMethodNotFound(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterDefinition("factory", &Definition{Supplier: supply(&connFactory{})}))
	require.NoError(t, c.RegisterDefinition("conn", &Definition{FactoryComponent: "factory", FactoryMethod: "Dial"}))

	_, err := c.Get(context.Background(), "conn")
	assert.ErrorIs(t, err, ErrNoMatchingConstructorSentinel)
	assert.Contains(t, err.Error(), "Dial")
}

func TestConstructor_SuppressedCausesAreCapped(t *testing.T) {
	c := New(WithConfig(configWith(func(cfg *Config) { cfg.SuppressedErrorLimit = 1 })))

	require.NoError(t, c.RegisterDefinition("multi", &Definition{
		Constructors: []Executable{
			Ctor(func(a *Missing, b *Missing, d *Missing) *multi { return nil }),
			Ctor(func(a *Missing, b *Missing) *multi { return nil }),
			Ctor(func(a *Missing) *multi { return nil }),
		},
	}))

	_, err := c.Get(context.Background(), "multi")
	require.Error(t, err)

	var ce *CreationError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Related, 1)
	assert.ErrorIs(t, err, ErrNoMatchingConstructorSentinel)
	assert.ErrorIs(t, err, ErrNoSuchComponentSentinel)
}

func TestConstructor_LowerFirstIsRuneAware(t *testing.T) {
	assert.Equal(t, "", lowerFirst(""))
	assert.Equal(t, "repo", lowerFirst("Repo"))
	assert.Equal(t, "ärger", lowerFirst("Ärger"))
	assert.Equal(t, "éclair", lowerFirst("Éclair"))
}
