package entitymanager

import (
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-entity-manager/mapping"
	"github.com/goliatone/go-entity-manager/storage"
)

// Option configures an EntityManager.
type Option func(*EntityManager)

// WithLogger sets the session logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(em *EntityManager) {
		if logger != nil {
			em.logger = logger
		}
	}
}

// WithMetrics records flush metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(em *EntityManager) {
		em.metrics = m
	}
}

// WithBuilder sets the statement builder. It is required unless the storage
// also implements storage.Builder.
func WithBuilder(b storage.Builder) Option {
	return func(em *EntityManager) {
		em.builder = b
	}
}

// WithRegistry sets the metadata registry. Defaults to mapping.Default().
func WithRegistry(r *mapping.Registry) Option {
	return func(em *EntityManager) {
		if r != nil {
			em.registry = r
		}
	}
}

// WithClock replaces time.Now for flush timing.
func WithClock(now func() time.Time) Option {
	return func(em *EntityManager) {
		if now != nil {
			em.now = now
		}
	}
}
