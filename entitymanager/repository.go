package entitymanager

import (
	"context"
	"fmt"
	"reflect"

	repository "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-entity-manager/ormerr"
)

// Find is the typed form of EntityManager.Find.
func Find[T any](ctx context.Context, em *EntityManager, id any) (*T, error) {
	t, err := entityType[T]()
	if err != nil {
		return nil, err
	}
	e, err := em.Find(ctx, t, id)
	if err != nil {
		return nil, err
	}
	return e.(*T), nil
}

// Repository is a typed view of one entity type within a session.
type Repository[T any] struct {
	em *EntityManager
}

// NewRepository returns a repository for T. It fails with a MappingError when
// T cannot be mapped.
func NewRepository[T any](em *EntityManager) (*Repository[T], error) {
	t, err := entityType[T]()
	if err != nil {
		return nil, err
	}
	if _, err := em.registry.Metadata(t); err != nil {
		return nil, err
	}
	return &Repository[T]{em: em}, nil
}

// Find returns the entity identified by id.
func (r *Repository[T]) Find(ctx context.Context, id any) (*T, error) {
	return Find[T](ctx, r.em, id)
}

// FindBy returns the entities matching criteria.
func (r *Repository[T]) FindBy(ctx context.Context, criteria ...repository.SelectCriteria) ([]*T, error) {
	found, err := r.em.FindBy(ctx, typeOf[T](), criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(found))
	for i, e := range found {
		out[i] = e.(*T)
	}
	return out, nil
}

// FindOne returns the first entity matching criteria, or an error wrapping
// ormerr.ErrNotFound.
func (r *Repository[T]) FindOne(ctx context.Context, criteria ...repository.SelectCriteria) (*T, error) {
	found, err := r.FindBy(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%s: %w", typeOf[T]().Name(), ormerr.ErrNotFound)
	}
	return found[0], nil
}

// Persist schedules entity for insertion.
func (r *Repository[T]) Persist(entity *T) error { return r.em.Persist(entity) }

// Remove schedules entity for deletion.
func (r *Repository[T]) Remove(entity *T) error { return r.em.Remove(entity) }

// EntityManager returns the session behind the repository.
func (r *Repository[T]) EntityManager() *EntityManager { return r.em }

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// entityType returns the struct type behind T. Pointer types are rejected:
// the registry maps *T and T to the same metadata, which would hand out **T.
func entityType[T any]() (reflect.Type, error) {
	t := typeOf[T]()
	if t.Kind() != reflect.Struct {
		return nil, ormerr.NewMapping(t.String(), "entity type must be a struct, got "+t.Kind().String())
	}
	return t, nil
}
