// Package unitofwork holds the entity state machine and the write schedules of
// one session.
//
// Entities are tracked by pointer. Each instance receives a monotonically
// increasing token the first time the Manager sees it, and every ordered view
// (insertions, updates, deletions, managed entities) follows token order, so
// work is emitted in the order it was scheduled unless a dependency says
// otherwise. Scheduling is pure bookkeeping and never touches storage.
package unitofwork

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/goliatone/go-entity-manager/mapping"
	"github.com/goliatone/go-entity-manager/ormerr"
)

// State is the lifecycle state of an entity within a session.
type State int

const (
	// StateNew entities are scheduled for insertion and have never been written.
	StateNew State = iota
	// StateManaged entities are persisted and tracked for changes.
	StateManaged
	// StateRemoved entities are scheduled for deletion.
	StateRemoved
	// StateDetached entities are not tracked by the session.
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateManaged:
		return "managed"
	case StateRemoved:
		return "removed"
	default:
		return "detached"
	}
}

type record struct {
	token uint64
	state State
}

// Manager is the unit of work of one session. It is not safe for concurrent use.
type Manager struct {
	registry *mapping.Registry
	next     uint64
	records  map[any]*record

	insertions map[any]struct{}
	updates    map[any]struct{}
	deletions  map[any]struct{}
	// dependent -> dependencies that must be inserted first
	dependencies map[any]map[any]struct{}
}

// New creates an empty unit of work.
func New(registry *mapping.Registry) *Manager {
	if registry == nil {
		registry = mapping.Default()
	}
	return &Manager{
		registry:     registry,
		records:      make(map[any]*record),
		insertions:   make(map[any]struct{}),
		updates:      make(map[any]struct{}),
		deletions:    make(map[any]struct{}),
		dependencies: make(map[any]map[any]struct{}),
	}
}

func (m *Manager) track(entity any, state State) *record {
	rec, ok := m.records[entity]
	if !ok {
		m.next++
		rec = &record{token: m.next, state: state}
		m.records[entity] = rec
		return rec
	}
	rec.state = state
	return rec
}

func (m *Manager) validate(entity any) error {
	_, err := m.registry.MetadataOf(entity)
	return err
}

// ScheduleInsert schedules entity for insertion. It is idempotent and drops
// any pending update or deletion of the same instance.
func (m *Manager) ScheduleInsert(entity any) error {
	if err := m.validate(entity); err != nil {
		return err
	}
	if _, ok := m.insertions[entity]; ok {
		return nil
	}
	delete(m.updates, entity)
	delete(m.deletions, entity)
	m.insertions[entity] = struct{}{}
	m.track(entity, StateNew)
	return nil
}

// ScheduleUpdate schedules entity for an update. Entities already scheduled
// for deletion or insertion are left alone.
func (m *Manager) ScheduleUpdate(entity any) error {
	if err := m.validate(entity); err != nil {
		return err
	}
	if _, ok := m.deletions[entity]; ok {
		return nil
	}
	if _, ok := m.insertions[entity]; ok {
		return nil
	}
	m.updates[entity] = struct{}{}
	if _, ok := m.records[entity]; !ok {
		m.track(entity, StateManaged)
	}
	return nil
}

// ScheduleDelete schedules entity for deletion. When entity was only scheduled
// for insertion the insertion is cancelled instead, the entity becomes
// detached and cancelled is true.
func (m *Manager) ScheduleDelete(entity any) (cancelled bool, err error) {
	if err := m.validate(entity); err != nil {
		return false, err
	}
	if _, ok := m.insertions[entity]; ok {
		m.forget(entity)
		return true, nil
	}
	delete(m.updates, entity)
	m.deletions[entity] = struct{}{}
	if _, ok := m.records[entity]; !ok {
		m.track(entity, StateManaged)
	}
	return false, nil
}

// CancelDelete drops a pending deletion and returns entity to the managed state.
func (m *Manager) CancelDelete(entity any) {
	if _, ok := m.deletions[entity]; !ok {
		return
	}
	delete(m.deletions, entity)
	m.track(entity, StateManaged)
}

// AddDependency records that dependent must be inserted after dependency.
func (m *Manager) AddDependency(dependent, dependency any) {
	deps, ok := m.dependencies[dependent]
	if !ok {
		deps = make(map[any]struct{})
		m.dependencies[dependent] = deps
	}
	deps[dependency] = struct{}{}
}

// OrderedInsertions returns the scheduled insertions with every dependency
// ahead of its dependents. Unrelated entities keep their scheduling order.
// A dependency cycle, including an entity depending on itself, fails with a
// ConstraintError.
func (m *Manager) OrderedInsertions() ([]any, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	nodes := m.sorted(m.insertions)
	marks := make(map[any]int, len(nodes))
	out := make([]any, 0, len(nodes))

	var visit func(entity any, path []any) error
	visit = func(entity any, path []any) error {
		switch marks[entity] {
		case done:
			return nil
		case visiting:
			return m.cycleError(entity, append(path, entity))
		}
		marks[entity] = visiting
		path = append(path, entity)

		deps := make(map[any]struct{})
		for dep := range m.dependencies[entity] {
			if _, scheduled := m.insertions[dep]; scheduled {
				deps[dep] = struct{}{}
			}
		}
		for _, dep := range m.sorted(deps) {
			if err := visit(dep, path); err != nil {
				return err
			}
		}
		marks[entity] = done
		out = append(out, entity)
		return nil
	}

	for _, entity := range nodes {
		if err := visit(entity, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Manager) cycleError(entity any, path []any) error {
	names := make([]string, 0, len(path))
	start := 0
	for i, e := range path {
		if e == entity {
			start = i
			break
		}
	}
	for _, e := range path[start:] {
		names = append(names, typeName(e))
	}
	return ormerr.NewConstraint("order insertions", typeName(entity), ormerr.Transient,
		fmt.Sprintf("insertion dependency cycle %v; persist one side first and set the reference in a later flush", names))
}

// ScheduledInsertions returns the insertions in scheduling order.
func (m *Manager) ScheduledInsertions() []any { return m.sorted(m.insertions) }

// ScheduledUpdates returns the updates in scheduling order.
func (m *Manager) ScheduledUpdates() []any { return m.sorted(m.updates) }

// ScheduledDeletes returns the deletions in scheduling order.
func (m *Manager) ScheduledDeletes() []any { return m.sorted(m.deletions) }

// IsScheduledForInsert reports whether entity awaits insertion.
func (m *Manager) IsScheduledForInsert(entity any) bool {
	_, ok := m.insertions[entity]
	return ok
}

// IsScheduledForUpdate reports whether entity awaits an update.
func (m *Manager) IsScheduledForUpdate(entity any) bool {
	_, ok := m.updates[entity]
	return ok
}

// IsScheduledForDelete reports whether entity awaits deletion.
func (m *Manager) IsScheduledForDelete(entity any) bool {
	_, ok := m.deletions[entity]
	return ok
}

// HasWork reports whether anything is scheduled.
func (m *Manager) HasWork() bool {
	return len(m.insertions)+len(m.updates)+len(m.deletions) > 0
}

// Manage registers a persisted entity, typically after hydration.
func (m *Manager) Manage(entity any) {
	m.track(entity, StateManaged)
}

// IsManaged reports whether entity is in the managed state.
func (m *Manager) IsManaged(entity any) bool {
	rec, ok := m.records[entity]
	return ok && rec.state == StateManaged
}

// Contains reports whether the session knows entity in any state.
func (m *Manager) Contains(entity any) bool {
	_, ok := m.records[entity]
	return ok
}

// State returns the lifecycle state of entity. Unknown entities are reported
// as detached with ok set to false.
func (m *Manager) State(entity any) (state State, ok bool) {
	rec, ok := m.records[entity]
	if !ok {
		return StateDetached, false
	}
	return rec.state, true
}

// MarkPersisted moves entity to the managed state after its insertion.
func (m *Manager) MarkPersisted(entity any) {
	delete(m.insertions, entity)
	m.track(entity, StateManaged)
}

// MarkRemoved moves entity to the removed state.
func (m *Manager) MarkRemoved(entity any) {
	m.track(entity, StateRemoved)
}

// Detach forgets entity: its schedules, dependencies and state.
func (m *Manager) Detach(entity any) {
	m.forget(entity)
}

// Managed returns every entity in the managed state in token order.
func (m *Manager) Managed() []any {
	set := make(map[any]struct{})
	for entity, rec := range m.records {
		if rec.state == StateManaged {
			set[entity] = struct{}{}
		}
	}
	return m.sorted(set)
}

// ClearSchedules drops all schedules and dependencies but keeps entity states.
func (m *Manager) ClearSchedules() {
	clear(m.insertions)
	clear(m.updates)
	clear(m.deletions)
	clear(m.dependencies)
}

// Clear resets the unit of work.
func (m *Manager) Clear() {
	m.ClearSchedules()
	clear(m.records)
}

// Len returns the number of entities known to the session.
func (m *Manager) Len() int {
	return len(m.records)
}

func (m *Manager) forget(entity any) {
	delete(m.insertions, entity)
	delete(m.updates, entity)
	delete(m.deletions, entity)
	delete(m.dependencies, entity)
	for _, deps := range m.dependencies {
		delete(deps, entity)
	}
	delete(m.records, entity)
}

func (m *Manager) sorted(set map[any]struct{}) []any {
	out := make([]any, 0, len(set))
	for entity := range set {
		out = append(out, entity)
	}
	sort.Slice(out, func(i, j int) bool {
		return m.token(out[i]) < m.token(out[j])
	})
	return out
}

func (m *Manager) token(entity any) uint64 {
	if rec, ok := m.records[entity]; ok {
		return rec.token
	}
	return ^uint64(0)
}

func typeName(entity any) string {
	t := reflect.TypeOf(entity)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}
