package mapping

import (
	"fmt"
	"reflect"

	"github.com/goliatone/go-entity-manager/ormerr"
)

// RelationKind enumerates the association cardinalities understood by the mapper.
type RelationKind int

const (
	OneToOne RelationKind = iota + 1
	OneToMany
	ManyToOne
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToMany:
		return "many-to-many"
	default:
		return "invalid"
	}
}

// IDStrategy describes where primary key values come from.
type IDStrategy int

const (
	// IDAssigned means the application sets the primary key before persisting.
	IDAssigned IDStrategy = iota
	// IDAuto means the database generates the key on insert.
	IDAuto
	// IDUUID means a random UUID is generated client side on insert.
	IDUUID
)

func (s IDStrategy) String() string {
	switch s {
	case IDAuto:
		return "auto"
	case IDUUID:
		return "uuid"
	default:
		return "assigned"
	}
}

// Property maps one entity property to one column.
type Property struct {
	Name   string
	Column string
	// Association is set when the property holds a related entity whose
	// identity value is stored in Column.
	Association bool
}

// Relation describes an association between two entity types.
type Relation struct {
	Name   string
	Kind   RelationKind
	Target reflect.Type
	// JoinColumn is the foreign key column on this entity's table. Only owning
	// relations (many-to-one, owning one-to-one) have one.
	JoinColumn string
	// ReferencedColumn is the column on the other side of the join.
	ReferencedColumn string
	// KeyProperty is an optional scalar property mirroring JoinColumn, kept in
	// sync with the related entity's identity.
	KeyProperty string
	// JoinTable names the link table of a many-to-many relation.
	JoinTable string
	// Cascade propagates persist and remove along the relation.
	Cascade bool
}

// Owning reports whether the relation stores a foreign key on this entity's table.
func (r Relation) Owning() bool {
	return r.JoinColumn != "" && (r.Kind == ManyToOne || r.Kind == OneToOne)
}

// Collection reports whether the relation holds many entities.
func (r Relation) Collection() bool {
	return r.Kind == OneToMany || r.Kind == ManyToMany
}

// Definition is the raw mapping produced by a Provider. Build validates it
// into an immutable EntityMetadata.
type Definition struct {
	Type       reflect.Type
	Table      string
	PrimaryKey string
	IDStrategy IDStrategy
	Properties []Property
	Relations  []Relation
	// Accessor is optional; a reflection backed accessor is derived from the
	// property names when nil.
	Accessor Accessor
}

// EntityMetadata is the resolved, immutable mapping of one entity type.
type EntityMetadata struct {
	typ        reflect.Type
	table      string
	primaryKey string
	idColumn   string
	idStrategy IDStrategy
	properties []Property
	byName     map[string]int
	byColumn   map[string]int
	relations  []Relation
	relByName  map[string]int
	accessor   Accessor
}

// Build validates a Definition and returns the metadata it describes.
func Build(def Definition) (*EntityMetadata, error) {
	if def.Type == nil {
		return nil, ormerr.NewMapping("", "definition has no type")
	}
	typ := def.Type
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	name := typ.Name()
	if typ.Kind() != reflect.Struct {
		return nil, ormerr.NewMapping(typ.String(), "entity type must be a struct")
	}
	if def.Table == "" {
		return nil, ormerr.NewMapping(name, "no table declared")
	}
	if def.PrimaryKey == "" {
		return nil, ormerr.NewMapping(name, "no primary key declared")
	}

	meta := &EntityMetadata{
		typ:        typ,
		table:      def.Table,
		primaryKey: def.PrimaryKey,
		idStrategy: def.IDStrategy,
		byName:     make(map[string]int, len(def.Properties)),
		byColumn:   make(map[string]int, len(def.Properties)),
		relByName:  make(map[string]int, len(def.Relations)),
	}

	for _, p := range def.Properties {
		if err := meta.addProperty(p); err != nil {
			return nil, err
		}
	}

	for _, rel := range def.Relations {
		if rel.Name == "" {
			return nil, ormerr.NewMapping(name, "relation without a name")
		}
		if _, dup := meta.relByName[rel.Name]; dup {
			return nil, ormerr.NewMapping(name, fmt.Sprintf("relation %q declared twice", rel.Name))
		}
		if rel.Target == nil {
			return nil, ormerr.NewMapping(name, fmt.Sprintf("relation %q has no target type", rel.Name))
		}
		for rel.Target.Kind() == reflect.Ptr {
			rel.Target = rel.Target.Elem()
		}
		meta.relByName[rel.Name] = len(meta.relations)
		meta.relations = append(meta.relations, rel)

		if rel.Owning() {
			if err := meta.addProperty(Property{Name: rel.Name, Column: rel.JoinColumn, Association: true}); err != nil {
				return nil, err
			}
		}
	}

	idx, ok := meta.byName[def.PrimaryKey]
	if !ok {
		return nil, ormerr.NewMapping(name, fmt.Sprintf("primary key %q is not a mapped property", def.PrimaryKey))
	}
	if meta.properties[idx].Association {
		return nil, ormerr.NewMapping(name, "primary key cannot be an association")
	}
	meta.idColumn = meta.properties[idx].Column

	if def.Accessor != nil {
		meta.accessor = def.Accessor
	} else {
		names := make([]string, 0, len(meta.properties)+len(meta.relations))
		for _, p := range meta.properties {
			names = append(names, p.Name)
		}
		for _, rel := range meta.relations {
			if !rel.Owning() {
				names = append(names, rel.Name)
			}
			if rel.KeyProperty != "" {
				names = append(names, rel.KeyProperty)
			}
		}
		accessor, err := NewStructAccessor(typ, names...)
		if err != nil {
			return nil, ormerr.NewMapping(name, err.Error())
		}
		meta.accessor = accessor
	}

	return meta, nil
}

func (m *EntityMetadata) addProperty(p Property) error {
	if p.Name == "" || p.Column == "" {
		return ormerr.NewMapping(m.typ.Name(), "property needs both a name and a column")
	}
	if _, dup := m.byName[p.Name]; dup {
		return ormerr.NewMapping(m.typ.Name(), fmt.Sprintf("property %q mapped twice", p.Name))
	}
	if other, dup := m.byColumn[p.Column]; dup {
		return ormerr.NewMapping(m.typ.Name(), fmt.Sprintf("column %q mapped by both %q and %q", p.Column, m.properties[other].Name, p.Name))
	}
	m.byName[p.Name] = len(m.properties)
	m.byColumn[p.Column] = len(m.properties)
	m.properties = append(m.properties, p)
	return nil
}

// Type returns the entity struct type.
func (m *EntityMetadata) Type() reflect.Type { return m.typ }

// Name returns the entity type name.
func (m *EntityMetadata) Name() string { return m.typ.Name() }

// Table returns the mapped table name.
func (m *EntityMetadata) Table() string { return m.table }

// PrimaryKey returns the primary key property name.
func (m *EntityMetadata) PrimaryKey() string { return m.primaryKey }

// IDColumn returns the primary key column name.
func (m *EntityMetadata) IDColumn() string { return m.idColumn }

// IDStrategy returns how primary key values are produced.
func (m *EntityMetadata) IDStrategy() IDStrategy { return m.idStrategy }

// Accessor returns the property accessor for this entity type.
func (m *EntityMetadata) Accessor() Accessor { return m.accessor }

// Properties returns the mapped properties in declaration order.
func (m *EntityMetadata) Properties() []Property {
	return append([]Property(nil), m.properties...)
}

// Columns returns the mapped column names in declaration order.
func (m *EntityMetadata) Columns() []string {
	cols := make([]string, len(m.properties))
	for i, p := range m.properties {
		cols[i] = p.Column
	}
	return cols
}

// Column returns the column mapped by property.
func (m *EntityMetadata) Column(property string) (string, bool) {
	idx, ok := m.byName[property]
	if !ok {
		return "", false
	}
	return m.properties[idx].Column, true
}

// Property returns the property mapped to column.
func (m *EntityMetadata) Property(column string) (Property, bool) {
	idx, ok := m.byColumn[column]
	if !ok {
		return Property{}, false
	}
	return m.properties[idx], true
}

// Relations returns every declared relation.
func (m *EntityMetadata) Relations() []Relation {
	return append([]Relation(nil), m.relations...)
}

// Relation looks a relation up by property name.
func (m *EntityMetadata) Relation(name string) (Relation, bool) {
	idx, ok := m.relByName[name]
	if !ok {
		return Relation{}, false
	}
	return m.relations[idx], true
}

// OwningRelations returns the relations that store a foreign key on this table.
func (m *EntityMetadata) OwningRelations() []Relation {
	var out []Relation
	for _, rel := range m.relations {
		if rel.Owning() {
			out = append(out, rel)
		}
	}
	return out
}

// Matches reports whether entity is a pointer to this metadata's struct type.
func (m *EntityMetadata) Matches(entity any) bool {
	t := reflect.TypeOf(entity)
	return t != nil && t.Kind() == reflect.Ptr && t.Elem() == m.typ
}

// ID returns the primary key value of entity, or nil when it is unset.
func (m *EntityMetadata) ID(entity any) (any, error) {
	v, err := m.accessor.Get(entity, m.primaryKey)
	if err != nil {
		return nil, err
	}
	if IsZero(v) {
		return nil, nil
	}
	return v, nil
}

// SetID assigns the primary key value of entity.
func (m *EntityMetadata) SetID(entity any, id any) error {
	return m.accessor.Set(entity, m.primaryKey, id)
}

// New allocates a new zero entity of this type and returns a pointer to it.
func (m *EntityMetadata) New() any {
	return reflect.New(m.typ).Interface()
}

// IsZero reports whether v is nil or the zero value of its type. Unset
// primary keys and empty associations are both represented this way.
func IsZero(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return rv.IsZero()
}
