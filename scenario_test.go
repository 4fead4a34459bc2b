package keel

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appDatabase struct {
	dsn    string
	events *[]string
}

func (d *appDatabase) Name() string { return "database" }

func (d *appDatabase) Start(context.Context) error {
	*d.events = append(*d.events, "start database")

	return nil
}

func (d *appDatabase) Stop(context.Context) error {
	*d.events = append(*d.events, "stop database")

	return nil
}

func (d *appDatabase) Health(context.Context) error { return nil }

func (d *appDatabase) Close() error {
	*d.events = append(*d.events, "close database")

	return nil
}

type appUsers struct {
	db *appDatabase
}

func (u *appUsers) Find(id int) string {
	return fmt.Sprintf("user-%d@%s", id, u.db.dsn)
}

type appRequest struct {
	id string
}

type appHandler struct {
	Users    *appUsers              `inject:""`
	Requests *Provider[*appRequest] `inject:""`
	Audit    *Lazy[*appAudit]       `inject:""`
	events   *[]string
}

func (h *appHandler) Serve(ctx context.Context, id int) (string, error) {
	req, err := h.Requests.Get(ctx)
	if err != nil {
		return "", err
	}

	audit, err := h.Audit.Get(ctx)
	if err != nil {
		return "", err
	}

	audit.record(req.id)

	return h.Users.Find(id), nil
}

func (h *appHandler) Close() error {
	*h.events = append(*h.events, "close handler")

	return nil
}

type appAudit struct {
	seen []string
}

func (a *appAudit) record(id string) {
	a.seen = append(a.seen, id)
}

func TestScenario_ApplicationLifecycle(t *testing.T) {
	var events []string

	cfg := DefaultConfig()
	cfg.OverridePolicy = OverrideError

	c := New(WithConfig(cfg))
	ctx := context.Background()

	require.NoError(t, c.RegisterDefinitions(
		Component("database", &Definition{
			Constructors: []Executable{Ctor(func(dsn string) *appDatabase {
				return &appDatabase{dsn: dsn, events: &events}
			})},
			Args: []Value{Indexed(0, "postgres://db")},
		}),
		Component("users", &Definition{
			Constructors: []Executable{Ctor(func(db *appDatabase) *appUsers { return &appUsers{db: db} })},
		}),
		Component("handler", &Definition{
			Constructors: []Executable{Ctor(func() *appHandler { return &appHandler{events: &events} })},
		}),
		Component("request", &Definition{
			Scope: ScopeRequest,
			Constructors: []Executable{Ctor(func() *appRequest {
				return &appRequest{id: NewScopeContext().ID()}
			})},
		}),
		Component("audit", &Definition{Type: typeOf[*appAudit](), Lazy: Bool(true)}),
	))

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, []string{"start database"}, events)
	assert.False(t, c.Inspect("audit").Created)

	handler, err := Resolve[*appHandler](ctx, c, "handler")
	require.NoError(t, err)

	var requestIDs []string

	for i := range 2 {
		reqCtx, sc := c.BeginScope(ctx)

		out, err := handler.Serve(reqCtx, i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("user-%d@postgres://db", i), out)

		again, err := handler.Requests.Get(reqCtx)
		require.NoError(t, err)
		requestIDs = append(requestIDs, again.id)

		require.NoError(t, sc.End())
	}

	assert.NotEqual(t, requestIDs[0], requestIDs[1])

	audit := Must[*appAudit](ctx, c, "audit")
	assert.Equal(t, requestIDs, audit.seen)

	_, err = handler.Requests.Get(ctx)
	assert.ErrorIs(t, err, ErrScopeNotActiveSentinel)

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, []string{"start database", "stop database", "close handler", "close database"}, events)

	_, err = c.Get(ctx, "users")
	assert.ErrorIs(t, err, ErrContainerClosed)
}
