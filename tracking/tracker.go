// Package tracking detects property level changes of managed entities.
//
// The Tracker keeps one immutable snapshot of column values per entity, taken
// when the entity became managed or was last written, and diffs the current
// in-memory values against it on demand. Values are compared by value: times
// with time.Time.Equal, byte slices by content, integers regardless of their
// width, and associations by the identity of the related entity.
package tracking

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/goliatone/go-entity-manager/mapping"
)

// Change is the old and new value of one property.
type Change struct {
	Old any
	New any
	// Pending is set when New is a related entity that has no identity yet.
	Pending bool
}

// ChangeSet maps property names to their changes.
type ChangeSet map[string]Change

// Empty reports whether the set holds no change.
func (c ChangeSet) Empty() bool { return len(c) == 0 }

// Properties returns the changed property names in sorted order.
func (c ChangeSet) Properties() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot is the baseline of one entity: column name to normalized value.
type Snapshot map[string]any

// Tracker stores snapshots for the entities of one session. It is not safe for
// concurrent use.
type Tracker struct {
	registry  *mapping.Registry
	snapshots map[any]Snapshot
}

// New creates a tracker resolving entity mappings through registry.
func New(registry *mapping.Registry) *Tracker {
	if registry == nil {
		registry = mapping.Default()
	}
	return &Tracker{registry: registry, snapshots: make(map[any]Snapshot)}
}

// Snapshot stores columnValues as the baseline of entity, replacing any
// previous one. Values are normalized and copied.
func (t *Tracker) Snapshot(entity any, columnValues map[string]any) error {
	if _, err := t.registry.MetadataOf(entity); err != nil {
		return err
	}
	snap := make(Snapshot, len(columnValues))
	for column, v := range columnValues {
		snap[column] = Normalize(v)
	}
	t.snapshots[entity] = snap
	return nil
}

// Refresh re-snapshots entity from its current values, discarding pending changes.
func (t *Tracker) Refresh(entity any) error {
	values, err := t.registry.Values(entity)
	if err != nil {
		return err
	}
	snap := make(Snapshot, len(values))
	for _, cv := range values {
		snap[cv.Column] = Normalize(cv.Value)
	}
	t.snapshots[entity] = snap
	return nil
}

// Restore puts back a snapshot previously obtained from Original. A nil
// snapshot stops tracking entity.
func (t *Tracker) Restore(entity any, snap Snapshot) {
	if snap == nil {
		delete(t.snapshots, entity)
		return
	}
	t.snapshots[entity] = snap
}

// ComputeChanges diffs the current values of entity against its baseline.
//
// Entities without a baseline report every non-nil value as a change whose
// Old value is nil. An association pointing at an entity that has no identity
// yet is always reported as changed, with the related entity as New value.
func (t *Tracker) ComputeChanges(entity any) (ChangeSet, error) {
	values, err := t.registry.Values(entity)
	if err != nil {
		return nil, err
	}
	snap, tracked := t.snapshots[entity]

	changes := ChangeSet{}
	for _, cv := range values {
		if cv.Pending != nil {
			changes[cv.Property] = Change{Old: snap[cv.Column], New: cv.Pending, Pending: true}
			continue
		}
		current := Normalize(cv.Value)
		if !tracked {
			if current != nil {
				changes[cv.Property] = Change{New: current}
			}
			continue
		}
		old, ok := snap[cv.Column]
		if !ok || !Equal(old, current) {
			changes[cv.Property] = Change{Old: old, New: current}
		}
	}
	return changes, nil
}

// HasChanges reports whether ComputeChanges would return a non empty set.
func (t *Tracker) HasChanges(entity any) (bool, error) {
	changes, err := t.ComputeChanges(entity)
	if err != nil {
		return false, err
	}
	return !changes.Empty(), nil
}

// Original returns the baseline of entity.
func (t *Tracker) Original(entity any) (Snapshot, bool) {
	snap, ok := t.snapshots[entity]
	return snap, ok
}

// IsTracked reports whether entity has a baseline.
func (t *Tracker) IsTracked(entity any) bool {
	_, ok := t.snapshots[entity]
	return ok
}

// Clear drops the baseline of entity.
func (t *Tracker) Clear(entity any) {
	delete(t.snapshots, entity)
}

// ClearAll drops every baseline.
func (t *Tracker) ClearAll() {
	clear(t.snapshots)
}

// Len returns the number of tracked entities.
func (t *Tracker) Len() int {
	return len(t.snapshots)
}

// Normalize converts v into the canonical form stored in snapshots.
func Normalize(v any) any {
	if v == nil {
		return nil
	}
	switch tv := v.(type) {
	case time.Time:
		return tv
	case []byte:
		if tv == nil {
			return nil
		}
		return string(tv)
	case driver.Valuer:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			return nil
		}
		dv, err := tv.Value()
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return Normalize(dv)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if n := rv.Uint(); n <= math.MaxInt64 {
			return int64(n)
		}
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes())
		}
		cp := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(cp, rv)
		return cp.Interface()
	}
	return v
}

// Equal compares two normalized values.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}
