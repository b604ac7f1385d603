package mapping

import (
	"fmt"
	"reflect"
)

// ColumnValue is the current in-memory value of one mapped column of an entity.
type ColumnValue struct {
	Property string
	Column   string
	Value    any
	// Pending holds the related entity when an association points at an
	// entity without identity yet. Value is nil in that case.
	Pending any
}

// Values reads every mapped column of entity in declaration order.
// Associations are translated to the identity value of the related entity, so
// two distinct instances with the same identity produce the same value.
func (r *Registry) Values(entity any) ([]ColumnValue, error) {
	meta, err := r.MetadataOf(entity)
	if err != nil {
		return nil, err
	}
	acc := meta.Accessor()
	out := make([]ColumnValue, 0, len(meta.properties))
	for _, p := range meta.properties {
		cv := ColumnValue{Property: p.Name, Column: p.Column}
		if !p.Association {
			v, err := acc.Get(entity, p.Name)
			if err != nil {
				return nil, err
			}
			cv.Value = v
			out = append(out, cv)
			continue
		}

		rel, _ := meta.Relation(p.Name)
		id, pending, err := r.associationValue(meta, rel, entity)
		if err != nil {
			return nil, err
		}
		cv.Value = id
		cv.Pending = pending
		out = append(out, cv)
	}
	return out, nil
}

// Related returns the entity referenced by an owning relation, or nil.
func (r *Registry) Related(entity any, rel Relation) (any, error) {
	meta, err := r.MetadataOf(entity)
	if err != nil {
		return nil, err
	}
	v, err := meta.Accessor().Get(entity, rel.Name)
	if err != nil {
		return nil, err
	}
	if IsZero(v) {
		return nil, nil
	}
	return v, nil
}

// RelatedAll returns every entity reachable through rel, for single valued
// and collection relations alike.
func (r *Registry) RelatedAll(entity any, rel Relation) ([]any, error) {
	meta, err := r.MetadataOf(entity)
	if err != nil {
		return nil, err
	}
	v, err := meta.Accessor().Get(entity, rel.Name)
	if err != nil {
		return nil, err
	}
	return flattenRelated(v), nil
}

func (r *Registry) associationValue(meta *EntityMetadata, rel Relation, entity any) (id any, pending any, err error) {
	related, err := meta.Accessor().Get(entity, rel.Name)
	if err != nil {
		return nil, nil, err
	}
	if IsZero(related) {
		if rel.KeyProperty == "" {
			return nil, nil, nil
		}
		key, err := meta.Accessor().Get(entity, rel.KeyProperty)
		if err != nil {
			return nil, nil, err
		}
		if IsZero(key) {
			return nil, nil, nil
		}
		return key, nil, nil
	}

	target, err := r.MetadataOf(related)
	if err != nil {
		return nil, nil, err
	}
	if target.Type() != rel.Target {
		return nil, nil, fmt.Errorf("relation %s.%s expects %s, got %T", meta.Name(), rel.Name, rel.Target.Name(), related)
	}
	relatedID, err := target.ID(related)
	if err != nil {
		return nil, nil, err
	}
	if relatedID == nil {
		return nil, related, nil
	}
	return relatedID, nil, nil
}

// SyncKeys copies the identity of related entities into the scalar key
// properties that mirror owning relations.
func (r *Registry) SyncKeys(entity any) error {
	meta, err := r.MetadataOf(entity)
	if err != nil {
		return err
	}
	for _, rel := range meta.relations {
		if !rel.Owning() || rel.KeyProperty == "" {
			continue
		}
		related, err := meta.Accessor().Get(entity, rel.Name)
		if err != nil {
			return err
		}
		if IsZero(related) {
			continue
		}
		target, err := r.MetadataOf(related)
		if err != nil {
			return err
		}
		id, err := target.ID(related)
		if err != nil {
			return err
		}
		if id == nil {
			continue
		}
		if err := meta.Accessor().Set(entity, rel.KeyProperty, id); err != nil {
			return err
		}
	}
	return nil
}

func flattenRelated(v any) []any {
	if IsZero(v) {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		return []any{v}
	case reflect.Slice, reflect.Array:
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem := rv.Index(i)
			switch {
			case elem.Kind() == reflect.Ptr && !elem.IsNil():
				out = append(out, elem.Interface())
			case elem.Kind() == reflect.Struct && elem.CanAddr():
				out = append(out, elem.Addr().Interface())
			}
		}
		return out
	}
	return nil
}
