package keel

import (
	"github.com/xraph/go-utils/log"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the container logger.
func WithLogger(l log.Logger) Option {
	return func(c *Container) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithConfig replaces the container configuration.
func WithConfig(cfg Config) Option {
	return func(c *Container) {
		c.config = cfg
	}
}

// WithMetrics records creation and destruction metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Container) {
		c.metrics = m
	}
}

// WithTracerProvider records a span per component creation.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Container) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

func withTracer(t trace.Tracer) Option {
	return func(c *Container) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithDependencyComparator orders multi-value injections. It takes precedence
// over Ordered and Definition.Order.
func WithDependencyComparator(cmp DependencyComparator) Option {
	return func(c *Container) {
		c.comparator = cmp
	}
}

// WithScope registers a custom scope.
func WithScope(name string, s Scope) Option {
	return func(c *Container) {
		if name != ScopeSingleton && name != ScopeTransient && name != ScopePrototype && s != nil {
			c.scopes[name] = s
		}
	}
}
