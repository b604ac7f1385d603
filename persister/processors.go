// Package persister turns the schedules of a unit of work into writes.
//
// The three processors run inside one transaction in the order insert, update,
// delete. Each records its in-memory side effects in a Journal so the caller
// can undo them when the transaction is rolled back.
package persister

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-entity-manager/identity"
	"github.com/goliatone/go-entity-manager/mapping"
	"github.com/goliatone/go-entity-manager/ormerr"
	"github.com/goliatone/go-entity-manager/storage"
	"github.com/goliatone/go-entity-manager/tracking"
)

// Env holds the collaborators shared by the processors of one session.
type Env struct {
	Registry *mapping.Registry
	Identity *identity.Map
	Tracker  *tracking.Tracker
	Builder  storage.Builder
	Logger   *zap.Logger
}

func (env Env) logger() *zap.Logger {
	if env.Logger == nil {
		return zap.NewNop()
	}
	return env.Logger
}

// InsertionProcessor writes NEW entities.
type InsertionProcessor struct{ env Env }

// UpdateProcessor writes the changed columns of MANAGED entities.
type UpdateProcessor struct{ env Env }

// DeletionProcessor deletes REMOVED entities.
type DeletionProcessor struct{ env Env }

// NewInsertionProcessor creates an insertion processor.
func NewInsertionProcessor(env Env) *InsertionProcessor { return &InsertionProcessor{env: env} }

// NewUpdateProcessor creates an update processor.
func NewUpdateProcessor(env Env) *UpdateProcessor { return &UpdateProcessor{env: env} }

// NewDeletionProcessor creates a deletion processor.
func NewDeletionProcessor(env Env) *DeletionProcessor { return &DeletionProcessor{env: env} }

// Process inserts entities in the given order, which must already satisfy
// foreign key dependencies. Every row carries all mapped columns. Generated
// keys are read back (RETURNING when the dialect supports it, the driver's
// last insert id otherwise) and assigned to the entity, which is then
// registered in the identity map and snapshotted.
func (p *InsertionProcessor) Process(ctx context.Context, exec storage.Executor, entities []any, journal *Journal) error {
	for _, e := range entities {
		if err := p.insert(ctx, exec, e, journal); err != nil {
			return err
		}
	}
	return nil
}

func (p *InsertionProcessor) insert(ctx context.Context, exec storage.Executor, e any, journal *Journal) error {
	env := p.env
	meta, err := env.Registry.MetadataOf(e)
	if err != nil {
		return err
	}

	if err := Run(ctx, BeforeInsert, e); err != nil {
		return wrap("before insert hook", meta, e, err)
	}

	id, err := meta.ID(e)
	if err != nil {
		return wrap("insert", meta, e, err)
	}
	if id == nil {
		switch meta.IDStrategy() {
		case mapping.IDAssigned:
			return ormerr.NewConstraint("insert", meta.Name(), ormerr.Transient,
				"primary key must be assigned before insertion")
		case mapping.IDUUID:
			if id, err = assignUUID(meta, e, journal); err != nil {
				return wrap("insert", meta, e, err)
			}
		}
	}
	generate := id == nil

	values, err := env.Registry.Values(e)
	if err != nil {
		return wrap("insert", meta, e, err)
	}
	columns := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, cv := range values {
		if cv.Pending != nil {
			return ormerr.NewConstraint("insert", meta.Name(), ormerr.Transient,
				fmt.Sprintf("%s references an entity that has not been persisted; persist it first or enable cascade", cv.Property))
		}
		if cv.Column == meta.IDColumn() && generate {
			continue
		}
		columns = append(columns, cv.Column)
		args = append(args, cv.Value)
	}

	returning := ""
	if generate && env.Builder.SupportsReturning() {
		returning = meta.IDColumn()
	}
	stmt, err := env.Builder.Insert(meta.Table(), columns, args, returning)
	if err != nil {
		return wrap("insert", meta, e, err)
	}

	if returning != "" {
		rows, err := exec.Query(ctx, stmt)
		if err != nil {
			return wrap("insert", meta, e, err)
		}
		if len(rows) > 0 {
			id = rows[0][returning]
		}
	} else {
		res, err := exec.Exec(ctx, stmt)
		if err != nil {
			return wrap("insert", meta, e, err)
		}
		if generate && res.HasLastInsertID && res.LastInsertID != 0 {
			id = res.LastInsertID
		}
	}
	if mapping.IsZero(id) {
		return ormerr.NewConstraint("insert", meta.Name(), ormerr.Transient,
			"insert did not yield a primary key")
	}

	if generate {
		if err := meta.SetID(e, id); err != nil {
			return wrap("insert", meta, e, err)
		}
		journal.OnUndo(func() { _ = meta.SetID(e, nil) })
		// read back through the accessor so the key has the field's type
		if id, err = meta.ID(e); err != nil {
			return wrap("insert", meta, e, err)
		}
	}

	if err := env.Identity.Put(meta.Type(), id, e); err != nil {
		return err
	}
	journal.OnUndo(func() { env.Identity.RemoveEntity(e) })

	if err := syncKeys(env, meta, e, journal); err != nil {
		return wrap("insert", meta, e, err)
	}
	if err := refresh(env, e, journal); err != nil {
		return wrap("insert", meta, e, err)
	}
	journal.recordInsert(e)

	env.logger().Debug("entity inserted",
		zap.String("entity", meta.Name()),
		zap.String("identity", identity.FormatID(id)),
	)
	return nil
}

// Process writes the change set of every entity. Entities whose change set is
// empty are skipped without issuing a statement. BeforeUpdate hooks run only
// for entities with changes, and their own modifications are included.
func (p *UpdateProcessor) Process(ctx context.Context, exec storage.Executor, entities []any, journal *Journal) error {
	for _, e := range entities {
		if err := p.update(ctx, exec, e, journal); err != nil {
			return err
		}
	}
	return nil
}

func (p *UpdateProcessor) update(ctx context.Context, exec storage.Executor, e any, journal *Journal) error {
	env := p.env
	meta, err := env.Registry.MetadataOf(e)
	if err != nil {
		return err
	}

	changes, err := env.Tracker.ComputeChanges(e)
	if err != nil {
		return wrap("update", meta, e, err)
	}
	if changes.Empty() {
		return nil
	}
	if err := Run(ctx, BeforeUpdate, e); err != nil {
		return wrap("before update hook", meta, e, err)
	}
	if changes, err = env.Tracker.ComputeChanges(e); err != nil {
		return wrap("update", meta, e, err)
	}
	if changes.Empty() {
		return nil
	}

	id, err := meta.ID(e)
	if err != nil {
		return wrap("update", meta, e, err)
	}
	if id == nil {
		return ormerr.NewConstraint("update", meta.Name(), ormerr.Transient,
			"cannot update an entity without identity")
	}

	columns := make([]string, 0, len(changes))
	args := make([]any, 0, len(changes))
	for _, prop := range meta.Properties() {
		change, ok := changes[prop.Name]
		if !ok {
			continue
		}
		if change.Pending {
			return ormerr.NewConstraint("update", meta.Name(), identity.FormatID(id),
				fmt.Sprintf("%s references an entity that has not been persisted", prop.Name))
		}
		if prop.Column == meta.IDColumn() {
			return ormerr.NewIdentity("update", meta.Name(), identity.FormatID(change.Old),
				"primary key of a managed entity cannot change")
		}
		columns = append(columns, prop.Column)
		args = append(args, change.New)
	}

	stmt, err := env.Builder.Update(meta.Table(), columns, args, meta.IDColumn(), id)
	if err != nil {
		return wrap("update", meta, e, err)
	}
	res, err := exec.Exec(ctx, stmt)
	if err != nil {
		return wrap("update", meta, e, err)
	}
	if res.RowsAffected == 0 {
		env.logger().Warn("update matched no row",
			zap.String("entity", meta.Name()),
			zap.String("identity", identity.FormatID(id)),
		)
	}

	if err := syncKeys(env, meta, e, journal); err != nil {
		return wrap("update", meta, e, err)
	}
	if err := refresh(env, e, journal); err != nil {
		return wrap("update", meta, e, err)
	}
	journal.recordUpdate(e)

	env.logger().Debug("entity updated",
		zap.String("entity", meta.Name()),
		zap.String("identity", identity.FormatID(id)),
		zap.Strings("columns", columns),
	)
	return nil
}

// Process deletes entities by identity. An entity without identity cannot be
// deleted and fails with a ConstraintError. Deleted entities leave the
// identity map and the change tracker.
func (p *DeletionProcessor) Process(ctx context.Context, exec storage.Executor, entities []any, journal *Journal) error {
	for _, e := range entities {
		if err := p.delete(ctx, exec, e, journal); err != nil {
			return err
		}
	}
	return nil
}

func (p *DeletionProcessor) delete(ctx context.Context, exec storage.Executor, e any, journal *Journal) error {
	env := p.env
	meta, err := env.Registry.MetadataOf(e)
	if err != nil {
		return err
	}
	id, err := meta.ID(e)
	if err != nil {
		return wrap("delete", meta, e, err)
	}
	if id == nil {
		return ormerr.NewConstraint("delete", meta.Name(), ormerr.Transient,
			"a transient entity cannot be deleted from storage")
	}

	if err := Run(ctx, BeforeDelete, e); err != nil {
		return wrap("before delete hook", meta, e, err)
	}

	stmt, err := env.Builder.Delete(meta.Table(), meta.IDColumn(), id)
	if err != nil {
		return wrap("delete", meta, e, err)
	}
	if _, err := exec.Exec(ctx, stmt); err != nil {
		return wrap("delete", meta, e, err)
	}

	if key, ok := env.Identity.KeyOf(e); ok {
		env.Identity.RemoveEntity(e)
		journal.OnUndo(func() { _ = env.Identity.Put(key.Type, key.ID, e) })
	}
	if snap, ok := env.Tracker.Original(e); ok {
		env.Tracker.Clear(e)
		journal.OnUndo(func() { env.Tracker.Restore(e, snap) })
	}
	journal.recordDelete(e)

	env.logger().Debug("entity deleted",
		zap.String("entity", meta.Name()),
		zap.String("identity", identity.FormatID(id)),
	)
	return nil
}

func assignUUID(meta *mapping.EntityMetadata, e any, journal *Journal) (any, error) {
	current, err := meta.Accessor().Get(e, meta.PrimaryKey())
	if err != nil {
		return nil, err
	}
	var generated any = uuid.New()
	if _, ok := current.(string); ok {
		generated = uuid.NewString()
	}
	if err := meta.SetID(e, generated); err != nil {
		return nil, err
	}
	journal.OnUndo(func() { _ = meta.SetID(e, nil) })
	return meta.ID(e)
}

// syncKeys copies related identities into scalar key properties, recording
// the previous values.
func syncKeys(env Env, meta *mapping.EntityMetadata, e any, journal *Journal) error {
	acc := meta.Accessor()
	for _, rel := range meta.OwningRelations() {
		if rel.KeyProperty == "" {
			continue
		}
		prev, err := acc.Get(e, rel.KeyProperty)
		if err != nil {
			return err
		}
		property := rel.KeyProperty
		journal.OnUndo(func() { _ = acc.Set(e, property, prev) })
	}
	return env.Registry.SyncKeys(e)
}

// refresh re-snapshots e, recording the previous baseline.
func refresh(env Env, e any, journal *Journal) error {
	prev, tracked := env.Tracker.Original(e)
	if err := env.Tracker.Refresh(e); err != nil {
		return err
	}
	journal.OnUndo(func() {
		if tracked {
			env.Tracker.Restore(e, prev)
		} else {
			env.Tracker.Clear(e)
		}
	})
	return nil
}

// wrap attaches the entity type and identity to err unless it already is one
// of the entity manager error kinds.
func wrap(op string, meta *mapping.EntityMetadata, e any, err error) error {
	var (
		me *ormerr.MappingError
		ie *ormerr.IdentityError
		ce *ormerr.ConstraintError
		te *ormerr.TransactionError
	)
	if errors.As(err, &me) || errors.As(err, &ie) || errors.As(err, &ce) || errors.As(err, &te) {
		return err
	}
	return ormerr.NewTransaction(op, meta.Name(), IdentityOf(meta, e), err)
}

// IdentityOf renders the identity of e for error messages, or ormerr.Transient.
func IdentityOf(meta *mapping.EntityMetadata, e any) string {
	id, err := meta.ID(e)
	if err != nil || id == nil {
		return ormerr.Transient
	}
	return identity.FormatID(id)
}
