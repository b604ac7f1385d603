package entitymanager

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-entity-manager/identity"
	"github.com/goliatone/go-entity-manager/mapping"
	"github.com/goliatone/go-entity-manager/ormerr"
	"github.com/goliatone/go-entity-manager/persister"
	"github.com/goliatone/go-entity-manager/storage"
	"github.com/goliatone/go-entity-manager/tracking"
	"github.com/goliatone/go-entity-manager/unitofwork"
)

// EntityManager is one session over a storage. It owns an identity map, a
// change tracker and a unit of work, and is not safe for concurrent use.
type EntityManager struct {
	registry *mapping.Registry
	storage  storage.Storage
	builder  storage.Builder

	identity *identity.Map
	tracker  *tracking.Tracker
	uow      *unitofwork.Manager

	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
	session string
}

// New creates a session writing through store.
func New(store storage.Storage, opts ...Option) (*EntityManager, error) {
	if store == nil {
		return nil, errors.New("entitymanager: storage is required")
	}
	em := &EntityManager{
		registry: mapping.Default(),
		storage:  store,
		logger:   zap.NewNop(),
		now:      time.Now,
		session:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(em)
	}
	if em.builder == nil {
		b, ok := store.(storage.Builder)
		if !ok {
			return nil, errors.New("entitymanager: a statement builder is required")
		}
		em.builder = b
	}

	em.identity = identity.New()
	em.tracker = tracking.New(em.registry)
	em.uow = unitofwork.New(em.registry)
	em.logger = em.logger.With(zap.String("session", em.session))
	return em, nil
}

// Session returns the session id attached to every log entry.
func (em *EntityManager) Session() string { return em.session }

// Registry returns the metadata registry of the session.
func (em *EntityManager) Registry() *mapping.Registry { return em.registry }

// UnitOfWork exposes the session's unit of work for inspection.
func (em *EntityManager) UnitOfWork() *unitofwork.Manager { return em.uow }

// Tracker exposes the session's change tracker for inspection.
func (em *EntityManager) Tracker() *tracking.Tracker { return em.tracker }

// Persist makes a new entity managed; it is inserted by the next Flush.
// Related entities reachable through cascade relations are persisted too.
//
// Persisting a managed entity only re-applies cascades. Persisting an entity
// pending removal cancels the removal. An unknown entity whose generated key
// is already set is detached and fails with an IdentityError.
func (em *EntityManager) Persist(entity any) error {
	return em.persist(entity, make(map[any]struct{}))
}

func (em *EntityManager) persist(entity any, visited map[any]struct{}) error {
	if _, ok := visited[entity]; ok {
		return nil
	}
	visited[entity] = struct{}{}

	meta, err := em.registry.MetadataOf(entity)
	if err != nil {
		return err
	}

	state, known := em.uow.State(entity)
	switch {
	case !known:
		if err := em.checkNew(meta, entity); err != nil {
			return err
		}
		if err := em.uow.ScheduleInsert(entity); err != nil {
			return err
		}
	case state == unitofwork.StateRemoved:
		em.uow.CancelDelete(entity)
	}
	return em.cascadePersist(meta, entity, visited)
}

func (em *EntityManager) checkNew(meta *mapping.EntityMetadata, entity any) error {
	id, err := meta.ID(entity)
	if err != nil {
		return err
	}
	if id == nil {
		return nil
	}
	if meta.IDStrategy() == mapping.IDAuto {
		return ormerr.NewIdentity("persist", meta.Name(), identity.FormatID(id),
			"entity has a generated key but is not managed by this session")
	}
	if existing, ok := em.identity.Get(meta.Type(), id); ok && existing != entity {
		return ormerr.NewIdentity("persist", meta.Name(), identity.FormatID(id),
			"another instance with the same identity is already managed")
	}
	return nil
}

// Remove schedules a managed entity for deletion by the next Flush. Removing
// an entity that was persisted but never flushed cancels its insertion and
// leaves it detached. Cascade relations are followed.
//
// A transient entity fails with a ConstraintError; a detached one with an
// IdentityError.
func (em *EntityManager) Remove(entity any) error {
	return em.remove(entity, make(map[any]struct{}))
}

func (em *EntityManager) remove(entity any, visited map[any]struct{}) error {
	if _, ok := visited[entity]; ok {
		return nil
	}
	visited[entity] = struct{}{}

	meta, err := em.registry.MetadataOf(entity)
	if err != nil {
		return err
	}

	state, known := em.uow.State(entity)
	if !known {
		id, err := meta.ID(entity)
		if err != nil {
			return err
		}
		if id == nil {
			return ormerr.NewConstraint("remove", meta.Name(), ormerr.Transient,
				"a transient entity cannot be removed")
		}
		return ormerr.NewIdentity("remove", meta.Name(), identity.FormatID(id),
			"entity is not managed by this session")
	}
	if state == unitofwork.StateRemoved {
		return nil
	}

	if err := em.cascadeRemove(meta, entity, visited); err != nil {
		return err
	}
	cancelled, err := em.uow.ScheduleDelete(entity)
	if err != nil {
		return err
	}
	if cancelled {
		em.tracker.Clear(entity)
		em.identity.RemoveEntity(entity)
		return nil
	}
	em.uow.MarkRemoved(entity)
	return nil
}

// Detach removes entity from the session. Pending changes are not written.
func (em *EntityManager) Detach(entity any) {
	em.uow.Detach(entity)
	em.identity.RemoveEntity(entity)
	em.tracker.Clear(entity)
}

// Clear detaches every entity of the session.
func (em *EntityManager) Clear() {
	em.uow.Clear()
	em.identity.ClearAll()
	em.tracker.ClearAll()
}

// Contains reports whether entity is managed or pending insertion.
func (em *EntityManager) Contains(entity any) bool {
	state, ok := em.uow.State(entity)
	return ok && (state == unitofwork.StateNew || state == unitofwork.StateManaged)
}

// State returns the lifecycle state of entity in this session.
func (em *EntityManager) State(entity any) unitofwork.State {
	state, _ := em.uow.State(entity)
	return state
}

func (em *EntityManager) env() persister.Env {
	return persister.Env{
		Registry: em.registry,
		Identity: em.identity,
		Tracker:  em.tracker,
		Builder:  em.builder,
		Logger:   em.logger,
	}
}
