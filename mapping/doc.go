// Package mapping resolves the structural mapping between entity types and tables.
//
// # Overview
//
// Every other package of the entity manager obtains table names, property to
// column translation, primary keys, relations and property accessors from a
// single Registry. The Registry asks a Provider for a raw Definition the first
// time a type is seen, validates it with Build and caches the resulting
// EntityMetadata for its lifetime. Mapping failures are cached too: a type
// without a table or primary key fails the same way on every access.
//
// # Providers
//
//   - TagProvider: reads bun style struct tags, so bun models can be managed as is
//   - StaticProvider: serves Definitions written by hand or by code generation
//   - YAMLProvider: reads Definitions from a mapping document
//   - ChainProvider: tries several providers in order
//
// # Basic Usage
//
//	registry := mapping.NewRegistry(mapping.NewTagProvider())
//	meta, err := registry.Metadata(reflect.TypeOf(Order{}))
//	if err != nil {
//		return err // *ormerr.MappingError
//	}
//	column, _ := meta.Column("CustomerID")
//
// # Associations
//
// Owning relations (many-to-one and owning one-to-one) are mapped as
// association properties whose column holds the identity value of the
// related entity. Registry.Values performs that translation, which lets the
// change tracker compare associations by identity instead of by pointer.
// When the struct also carries a scalar foreign key field for the same
// column, it becomes the relation's KeyProperty and is kept in sync.
//
// Inverse relations (has-one, has-many) and many-to-many relations are
// described but never written by the unit of work.
package mapping
