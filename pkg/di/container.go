package di

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/goliatone/go-entity-manager/entitymanager"
	"github.com/goliatone/go-entity-manager/mapping"
	"github.com/goliatone/go-entity-manager/storage/bunstore"
)

// Container owns the process wide collaborators of the entity manager: the
// database handle, the statement builder, the metadata registry, the logger
// and the metrics. Sessions created from it share these and nothing else.
type Container struct {
	config   bunstore.Config
	storage  *bunstore.Storage
	builder  *bunstore.Builder
	registry *mapping.Registry
	logger   *zap.Logger
	metrics  *entitymanager.Metrics
}

// Option customizes a Container.
type Option func(*containerOptions)

type containerOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	provider   mapping.Provider
}

// WithLogger sets the logger shared by the storage and every session.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) { o.logger = logger }
}

// WithRegisterer registers the entity manager metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *containerOptions) { o.registerer = reg }
}

// WithProvider sets the metadata provider. Defaults to struct tags.
func WithProvider(p mapping.Provider) Option {
	return func(o *containerOptions) { o.provider = p }
}

// NewContainer opens the database described by config and wires the shared
// collaborators.
func NewContainer(ctx context.Context, config bunstore.Config, opts ...Option) (*Container, error) {
	o := containerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	store, builder, err := bunstore.Open(ctx, config, o.logger)
	if err != nil {
		return nil, err
	}

	return &Container{
		config:   config,
		storage:  store,
		builder:  builder,
		registry: mapping.NewRegistry(o.provider),
		logger:   o.logger,
		metrics:  entitymanager.NewMetrics(o.registerer),
	}, nil
}

// NewContainerWithDefaults creates a container over an in-memory SQLite database.
func NewContainerWithDefaults(ctx context.Context, opts ...Option) (*Container, error) {
	return NewContainer(ctx, bunstore.DefaultConfig(), opts...)
}

// Storage returns the shared storage.
func (c *Container) Storage() *bunstore.Storage { return c.storage }

// Builder returns the shared statement builder.
func (c *Container) Builder() *bunstore.Builder { return c.builder }

// Registry returns the shared metadata registry.
func (c *Container) Registry() *mapping.Registry { return c.registry }

// Logger returns the shared logger.
func (c *Container) Logger() *zap.Logger { return c.logger }

// Metrics returns the shared metrics.
func (c *Container) Metrics() *entitymanager.Metrics { return c.metrics }

// Config returns the storage configuration used by this container.
func (c *Container) Config() bunstore.Config { return c.config }

// Close closes the database.
func (c *Container) Close() error { return c.storage.Close() }

// NewEntityManager starts a new session. Options are applied after the
// container defaults.
func (c *Container) NewEntityManager(opts ...entitymanager.Option) (*entitymanager.EntityManager, error) {
	defaults := []entitymanager.Option{
		entitymanager.WithBuilder(c.builder),
		entitymanager.WithRegistry(c.registry),
		entitymanager.WithLogger(c.logger),
		entitymanager.WithMetrics(c.metrics),
	}
	return entitymanager.New(c.storage, append(defaults, opts...)...)
}

// NewRepository starts a new session and returns a typed repository over it.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewRepository[Order](container)
func NewRepository[T any](container *Container, opts ...entitymanager.Option) (*entitymanager.Repository[T], error) {
	em, err := container.NewEntityManager(opts...)
	if err != nil {
		return nil, err
	}
	return entitymanager.NewRepository[T](em)
}
