package keel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// resolution is one top-level Get call stack. Everything created on behalf
// of that call, however deep, shares it through the context.
type resolution struct {
	id     string
	active atomic.Bool

	mu sync.Mutex
	// inProgress holds non-singleton components being created by this stack.
	inProgress map[inProgressKey]int
}

type inProgressKey struct {
	container *Container
	name      string
}

type resolutionKey struct{}

// enterResolution returns the active resolution carried by ctx, or starts a
// new one. done must be called when the caller that started it returns.
func enterResolution(ctx context.Context) (context.Context, *resolution, func()) {
	if r, ok := ctx.Value(resolutionKey{}).(*resolution); ok && r.active.Load() {
		return ctx, r, func() {}
	}

	r := &resolution{
		id:         uuid.NewString(),
		inProgress: make(map[inProgressKey]int),
	}
	r.active.Store(true)

	return context.WithValue(ctx, resolutionKey{}, r), r, func() { r.active.Store(false) }
}

// resolutionFrom returns the resolution in ctx, if one is active.
func resolutionFrom(ctx context.Context) *resolution {
	if r, ok := ctx.Value(resolutionKey{}).(*resolution); ok && r.active.Load() {
		return r
	}

	return nil
}

// resolutionID returns the id of the resolution in ctx, or "" outside one.
func resolutionID(ctx context.Context) string {
	if r := resolutionFrom(ctx); r != nil {
		return r.id
	}

	return ""
}

func (r *resolution) begin(c *Container, name string) {
	r.mu.Lock()
	r.inProgress[inProgressKey{c, name}]++
	r.mu.Unlock()
}

func (r *resolution) end(c *Container, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := inProgressKey{c, name}
	if r.inProgress[key] <= 1 {
		delete(r.inProgress, key)

		return
	}

	r.inProgress[key]--
}

func (r *resolution) isInProgress(c *Container, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.inProgress[inProgressKey{c, name}] > 0
}

// creationLock is the container-wide singleton creation mutex. It is
// reentrant for the resolution holding it, so nested creations on the same
// call stack proceed while other resolutions wait.
type creationLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner *resolution
	depth int
}

func newCreationLock() *creationLock {
	l := &creationLock{}
	l.cond = sync.NewCond(&l.mu)

	return l
}

func (l *creationLock) lock(r *resolution) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.owner != nil && l.owner != r {
		l.cond.Wait()
	}

	l.owner = r
	l.depth++
}

func (l *creationLock) unlock(r *resolution) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner != r {
		return
	}

	l.depth--
	if l.depth == 0 {
		l.owner = nil
		l.cond.Broadcast()
	}
}

// heldBy reports whether r currently owns the lock.
func (l *creationLock) heldBy(r *resolution) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return r != nil && l.owner == r
}
