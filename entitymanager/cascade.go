package entitymanager

import (
	"github.com/goliatone/go-entity-manager/mapping"
)

func (em *EntityManager) cascadePersist(meta *mapping.EntityMetadata, entity any, visited map[any]struct{}) error {
	for _, rel := range meta.Relations() {
		if !rel.Cascade {
			continue
		}
		related, err := em.registry.RelatedAll(entity, rel)
		if err != nil {
			return err
		}
		for _, r := range related {
			if rel.Kind == mapping.OneToMany {
				if err := em.linkInverse(meta, entity, rel, r); err != nil {
					return err
				}
			}
			if err := em.persist(r, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func (em *EntityManager) cascadeRemove(meta *mapping.EntityMetadata, entity any, visited map[any]struct{}) error {
	for _, rel := range meta.Relations() {
		if !rel.Cascade {
			continue
		}
		related, err := em.registry.RelatedAll(entity, rel)
		if err != nil {
			return err
		}
		for _, r := range related {
			// entities the session never saw have nothing to delete
			if _, known := em.uow.State(r); !known {
				continue
			}
			if err := em.remove(r, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// linkInverse points the owning side of a one-to-many relation back at parent
// when the child has not set it, so the child's foreign key gets written.
func (em *EntityManager) linkInverse(meta *mapping.EntityMetadata, parent any, rel mapping.Relation, child any) error {
	childMeta, err := em.registry.MetadataOf(child)
	if err != nil {
		return err
	}
	for _, owning := range childMeta.OwningRelations() {
		if owning.Target != meta.Type() || owning.JoinColumn != rel.ReferencedColumn {
			continue
		}
		current, err := childMeta.Accessor().Get(child, owning.Name)
		if err != nil {
			return err
		}
		if mapping.IsZero(current) {
			return childMeta.Accessor().Set(child, owning.Name, parent)
		}
		return nil
	}
	return nil
}

// recordDependencies makes every scheduled insertion depend on the scheduled
// insertions it references through owning relations.
func (em *EntityManager) recordDependencies() error {
	for _, e := range em.uow.ScheduledInsertions() {
		meta, err := em.registry.MetadataOf(e)
		if err != nil {
			return err
		}
		for _, rel := range meta.OwningRelations() {
			related, err := em.registry.Related(e, rel)
			if err != nil {
				return err
			}
			if related != nil && em.uow.IsScheduledForInsert(related) {
				em.uow.AddDependency(e, related)
			}
		}
	}
	return nil
}

// orderedDeletions returns the scheduled deletions with every entity ahead of
// the entities it references, so rows are deleted before the rows their
// foreign keys point at. Unrelated entities keep their scheduling order.
func (em *EntityManager) orderedDeletions() ([]any, error) {
	scheduled := em.uow.ScheduledDeletes()
	referencedBy := make(map[any][]any, len(scheduled))
	for _, e := range scheduled {
		meta, err := em.registry.MetadataOf(e)
		if err != nil {
			return nil, err
		}
		for _, rel := range meta.OwningRelations() {
			related, err := em.registry.Related(e, rel)
			if err != nil {
				return nil, err
			}
			if related != nil && related != e && em.uow.IsScheduledForDelete(related) {
				referencedBy[related] = append(referencedBy[related], e)
			}
		}
	}

	out := make([]any, 0, len(scheduled))
	visited := make(map[any]bool, len(scheduled))
	var visit func(e any)
	visit = func(e any) {
		if visited[e] {
			return
		}
		visited[e] = true
		for _, dependent := range referencedBy[e] {
			visit(dependent)
		}
		out = append(out, e)
	}
	for _, e := range scheduled {
		visit(e)
	}
	return out, nil
}
