// Package identity implements the session scoped identity map: at most one
// live instance per (entity type, primary key) pair.
//
// A Map is owned by a single EntityManager session and is not safe for
// concurrent use.
package identity

import (
	"reflect"

	"github.com/goliatone/go-entity-manager/ormerr"
)

// Map guarantees that two lookups for the same identity return the same instance.
type Map struct {
	entries  map[Key]any
	byEntity map[any]Key
}

// New returns an empty identity map.
func New() *Map {
	return &Map{
		entries:  make(map[Key]any),
		byEntity: make(map[any]Key),
	}
}

// Get returns the instance registered under (t, id).
func (m *Map) Get(t reflect.Type, id any) (any, bool) {
	key, err := NewKey(t, id)
	if err != nil {
		return nil, false
	}
	entity, ok := m.entries[key]
	return entity, ok
}

// Put registers entity under (t, id). It fails with an IdentityError when id
// is unset or when a different instance already owns the identity. Registering
// the same instance twice is a no-op; an instance registered under another
// identity is moved.
func (m *Map) Put(t reflect.Type, id any, entity any) error {
	key, err := NewKey(t, id)
	if err != nil {
		return ormerr.NewIdentity("identity.put", typeName(t), ormerr.Transient, err.Error())
	}
	if entity == nil {
		return ormerr.NewIdentity("identity.put", typeName(t), key.String(), "nil entity")
	}
	if current, ok := m.entries[key]; ok {
		if current == entity {
			return nil
		}
		return ormerr.NewIdentity("identity.put", typeName(t), FormatID(key.ID),
			"another instance is already registered under this identity")
	}
	if previous, ok := m.byEntity[entity]; ok {
		delete(m.entries, previous)
	}
	m.entries[key] = entity
	m.byEntity[entity] = key
	return nil
}

// Remove unregisters whatever instance owns (t, id).
func (m *Map) Remove(t reflect.Type, id any) {
	key, err := NewKey(t, id)
	if err != nil {
		return
	}
	if entity, ok := m.entries[key]; ok {
		delete(m.byEntity, entity)
		delete(m.entries, key)
	}
}

// RemoveEntity unregisters entity, whatever identity it was registered under.
func (m *Map) RemoveEntity(entity any) {
	key, ok := m.byEntity[entity]
	if !ok {
		return
	}
	delete(m.entries, key)
	delete(m.byEntity, entity)
}

// KeyOf returns the identity entity is registered under.
func (m *Map) KeyOf(entity any) (Key, bool) {
	key, ok := m.byEntity[entity]
	return key, ok
}

// Contains reports whether entity is registered.
func (m *Map) Contains(entity any) bool {
	_, ok := m.byEntity[entity]
	return ok
}

// Clear unregisters every instance of type t.
func (m *Map) Clear(t reflect.Type) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	for key, entity := range m.entries {
		if key.Type == t {
			delete(m.entries, key)
			delete(m.byEntity, entity)
		}
	}
}

// ClearAll empties the map.
func (m *Map) ClearAll() {
	clear(m.entries)
	clear(m.byEntity)
}

// Len returns the number of registered instances.
func (m *Map) Len() int {
	return len(m.entries)
}

func typeName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}
