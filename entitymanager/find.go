package entitymanager

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	repository "github.com/goliatone/go-repository-bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-entity-manager/identity"
	"github.com/goliatone/go-entity-manager/mapping"
	"github.com/goliatone/go-entity-manager/ormerr"
	"github.com/goliatone/go-entity-manager/persister"
	"github.com/goliatone/go-entity-manager/storage"
)

// Find returns the entity of type t identified by id. Within a session the
// same identity always yields the same instance: the identity map is checked
// first and storage is only queried on a miss. Owning relations of a loaded
// entity are resolved eagerly the same way.
//
// A missing row returns an error wrapping ormerr.ErrNotFound.
func (em *EntityManager) Find(ctx context.Context, t reflect.Type, id any) (any, error) {
	meta, err := em.registry.Metadata(t)
	if err != nil {
		return nil, err
	}
	if _, err := identity.NormalizeID(id); err != nil {
		return nil, ormerr.NewIdentity("find", meta.Name(), ormerr.Transient, err.Error())
	}
	return em.find(ctx, meta, id)
}

func (em *EntityManager) find(ctx context.Context, meta *mapping.EntityMetadata, id any) (any, error) {
	if e, ok := em.identity.Get(meta.Type(), id); ok {
		em.metrics.lookup(true)
		return e, nil
	}
	em.metrics.lookup(false)

	rows, err := em.selectByID(ctx, meta, id)
	if err != nil {
		return nil, err
	}
	return em.hydrate(ctx, meta, rows[0])
}

// FindBy returns the entities of type t matching criteria. Rows whose identity
// is already loaded resolve to the loaded instance, keeping its unflushed
// changes.
func (em *EntityManager) FindBy(ctx context.Context, t reflect.Type, criteria ...repository.SelectCriteria) ([]any, error) {
	meta, err := em.registry.Metadata(t)
	if err != nil {
		return nil, err
	}
	stmt, err := em.builder.Select(meta.Table(), meta.Columns(), criteria...)
	if err != nil {
		return nil, ormerr.NewTransaction("find by", meta.Name(), "", err)
	}
	rows, err := em.storage.Query(ctx, stmt)
	if err != nil {
		return nil, ormerr.NewTransaction("find by", meta.Name(), "", err)
	}

	out := make([]any, 0, len(rows))
	for _, row := range rows {
		e, err := em.hydrate(ctx, meta, row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Refresh reloads a managed entity from storage, overwriting its in-memory
// values and discarding pending changes.
func (em *EntityManager) Refresh(ctx context.Context, entity any) error {
	meta, err := em.registry.MetadataOf(entity)
	if err != nil {
		return err
	}
	if !em.uow.IsManaged(entity) {
		return ormerr.NewIdentity("refresh", meta.Name(), persister.IdentityOf(meta, entity),
			"entity is not managed by this session")
	}
	id, err := meta.ID(entity)
	if err != nil {
		return err
	}
	rows, err := em.selectByID(ctx, meta, id)
	if err != nil {
		return err
	}
	if err := assignRow(meta, entity, rows[0]); err != nil {
		return err
	}
	if err := em.loadRelations(ctx, meta, entity, rows[0]); err != nil {
		return err
	}
	if err := em.tracker.Refresh(entity); err != nil {
		return err
	}
	return persister.Run(ctx, persister.AfterLoad, entity)
}

func (em *EntityManager) selectByID(ctx context.Context, meta *mapping.EntityMetadata, id any) ([]storage.Row, error) {
	stmt, err := em.builder.SelectByID(meta.Table(), meta.Columns(), meta.IDColumn(), id)
	if err != nil {
		return nil, ormerr.NewTransaction("find", meta.Name(), identity.FormatID(id), err)
	}
	rows, err := em.storage.Query(ctx, stmt)
	if err != nil {
		return nil, ormerr.NewTransaction("find", meta.Name(), identity.FormatID(id), err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %s: %w", meta.Name(), identity.FormatID(id), ormerr.ErrNotFound)
	}
	return rows, nil
}

// hydrate turns row into a managed entity, reusing the instance already
// registered under the row's identity.
func (em *EntityManager) hydrate(ctx context.Context, meta *mapping.EntityMetadata, row storage.Row) (any, error) {
	e := meta.New()
	if err := assignRow(meta, e, row); err != nil {
		return nil, err
	}
	id, err := meta.ID(e)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, ormerr.NewIdentity("hydrate", meta.Name(), ormerr.Transient, "row has no primary key value")
	}
	if existing, ok := em.identity.Get(meta.Type(), id); ok {
		return existing, nil
	}

	// registered before relations are resolved so reference cycles terminate
	if err := em.identity.Put(meta.Type(), id, e); err != nil {
		return nil, err
	}
	em.uow.Manage(e)
	if err := em.loadRelations(ctx, meta, e, row); err != nil {
		em.Detach(e)
		return nil, err
	}
	if err := em.tracker.Refresh(e); err != nil {
		em.Detach(e)
		return nil, err
	}
	if err := persister.Run(ctx, persister.AfterLoad, e); err != nil {
		em.Detach(e)
		return nil, ormerr.NewTransaction("after load hook", meta.Name(), identity.FormatID(id), err)
	}
	return e, nil
}

// loadRelations resolves the owning relations of e from the foreign keys in row.
func (em *EntityManager) loadRelations(ctx context.Context, meta *mapping.EntityMetadata, e any, row storage.Row) error {
	acc := meta.Accessor()
	for _, rel := range meta.OwningRelations() {
		fk, ok := row[rel.JoinColumn]
		if !ok {
			continue
		}
		if mapping.IsZero(fk) {
			if err := acc.Set(e, rel.Name, nil); err != nil {
				return err
			}
			continue
		}
		target, err := em.registry.Metadata(rel.Target)
		if err != nil {
			return err
		}
		related, err := em.find(ctx, target, fk)
		if errors.Is(err, ormerr.ErrNotFound) {
			em.logger.Warn("dangling reference",
				zap.String("entity", meta.Name()),
				zap.String("relation", rel.Name),
				zap.String("identity", identity.FormatID(fk)),
			)
			continue
		}
		if err != nil {
			return err
		}
		if err := acc.Set(e, rel.Name, related); err != nil {
			return err
		}
	}
	return nil
}

// assignRow copies the scalar columns of row into e. Foreign keys only set
// the relation's key property; the relation itself is resolved separately.
func assignRow(meta *mapping.EntityMetadata, e any, row storage.Row) error {
	acc := meta.Accessor()
	for _, p := range meta.Properties() {
		v, ok := row[p.Column]
		if !ok {
			continue
		}
		property := p.Name
		if p.Association {
			rel, _ := meta.Relation(p.Name)
			if rel.KeyProperty == "" {
				continue
			}
			property = rel.KeyProperty
		}
		if err := acc.Set(e, property, v); err != nil {
			return &ormerr.MappingError{Details: ormerr.Details{
				Entity: meta.Name(),
				Op:     "hydrate",
				Reason: fmt.Sprintf("column %s cannot be assigned to %s", p.Column, property),
				Err:    err,
			}}
		}
	}
	return nil
}
