package mapping

import (
	"fmt"
	"reflect"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-entity-manager/ormerr"
)

// Provider produces the raw mapping of an entity type from whatever declarative
// source backs it (struct tags, code generation, mapping files).
type Provider interface {
	Definition(t reflect.Type) (Definition, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(t reflect.Type) (Definition, error)

// Definition implements Provider.
func (f ProviderFunc) Definition(t reflect.Type) (Definition, error) { return f(t) }

type registryEntry struct {
	meta *EntityMetadata
	err  error
}

// Registry resolves and caches EntityMetadata once per entity type. It is safe
// for concurrent use: each type is resolved exactly once, and both successful
// results and mapping failures are cached for the lifetime of the registry.
type Registry struct {
	provider Provider
	entries  *xsync.MapOf[reflect.Type, registryEntry]
}

// NewRegistry creates a registry backed by provider. A nil provider falls back to TagProvider.
func NewRegistry(provider Provider) *Registry {
	if provider == nil {
		provider = NewTagProvider()
	}
	return &Registry{
		provider: provider,
		entries:  xsync.NewMapOf[reflect.Type, registryEntry](),
	}
}

var defaultRegistry = NewRegistry(nil)

// Default returns the process wide registry backed by TagProvider.
func Default() *Registry { return defaultRegistry }

// Metadata returns the metadata for entity type t. Pointer types are dereferenced.
func (r *Registry) Metadata(t reflect.Type) (*EntityMetadata, error) {
	if t == nil {
		return nil, ormerr.NewMapping("", "nil entity type")
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, ormerr.NewMapping(t.String(), "entity type must be a struct")
	}

	entry, _ := r.entries.LoadOrCompute(t, func() registryEntry {
		def, err := r.provider.Definition(t)
		if err != nil {
			if ormerr.IsMapping(err) {
				return registryEntry{err: err}
			}
			return registryEntry{err: &ormerr.MappingError{Details: ormerr.Details{
				Entity: t.Name(), Op: "metadata", Reason: "provider failed", Err: err,
			}}}
		}
		if def.Type == nil {
			def.Type = t
		}
		meta, err := Build(def)
		return registryEntry{meta: meta, err: err}
	})
	return entry.meta, entry.err
}

// MetadataOf returns the metadata for the dynamic type of entity, which must be
// a non-nil pointer to a struct.
func (r *Registry) MetadataOf(entity any) (*EntityMetadata, error) {
	rv := reflect.ValueOf(entity)
	if !rv.IsValid() {
		return nil, ormerr.NewMapping("", "nil entity")
	}
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, ormerr.NewMapping(rv.Type().String(), fmt.Sprintf("entities must be non-nil struct pointers, got %T", entity))
	}
	return r.Metadata(rv.Type())
}

// Reset drops every cached entry. Intended for test isolation.
func (r *Registry) Reset() {
	r.entries.Clear()
}

// Len returns the number of resolved entity types.
func (r *Registry) Len() int {
	return r.entries.Size()
}
