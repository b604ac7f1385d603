package mapping

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/vmihailenco/tagparser/v2"

	"github.com/goliatone/go-entity-manager/ormerr"
)

// DefaultTagKey is the struct tag read by TagProvider. Entities therefore stay
// valid bun models.
const DefaultTagKey = "bun"

var uuidType = reflect.TypeOf(uuid.UUID{})

// TagProvider derives entity mappings from struct tags.
//
//	type Order struct {
//		bun.BaseModel `bun:"table:orders"`
//
//		ID         int64     `bun:"id,pk,autoincrement"`
//		CustomerID int64     `bun:"customer_id"`
//		Customer   *Customer `bun:"rel:belongs-to,join:customer_id=id"`
//		Lines      []*Line   `bun:"rel:has-many,join:id=order_id,cascade"`
//	}
//
// Without a table option the table name is the pluralised snake_case type name.
// Columns default to the snake_case field name, and a field named ID is the
// primary key when no field carries the pk option.
type TagProvider struct {
	tagKey string
}

// NewTagProvider returns a provider reading the `bun` struct tag.
func NewTagProvider() *TagProvider {
	return &TagProvider{tagKey: DefaultTagKey}
}

// NewTagProviderWithKey returns a provider reading a custom struct tag key.
func NewTagProviderWithKey(key string) *TagProvider {
	return &TagProvider{tagKey: key}
}

// Definition implements Provider.
func (p *TagProvider) Definition(t reflect.Type) (Definition, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	def := Definition{Type: t}
	if t.Kind() != reflect.Struct {
		return def, ormerr.NewMapping(t.String(), "entity type must be a struct")
	}

	var pkField *reflect.StructField
	if err := p.collect(t, &def, &pkField); err != nil {
		return def, err
	}

	if def.Table == "" {
		def.Table = defaultTableName(t.Name())
	}

	if def.PrimaryKey == "" {
		for _, prop := range def.Properties {
			if prop.Name == "ID" {
				def.PrimaryKey = prop.Name
				f, _ := t.FieldByName("ID")
				pkField = &f
				break
			}
		}
	}
	if pkField != nil {
		def.IDStrategy = p.strategy(*pkField)
	}

	mirrorKeyProperties(&def)
	return def, nil
}

func (p *TagProvider) collect(t reflect.Type, def *Definition, pkField **reflect.StructField) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		raw, hasTag := field.Tag.Lookup(p.tagKey)
		tag := tagparser.Parse(raw)

		if table, ok := tag.Options["table"]; ok {
			def.Table = strings.TrimSpace(strings.SplitN(table, " ", 2)[0])
		}
		if tag.Name == "-" {
			continue
		}

		if field.Anonymous {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			// embedded base models only carry table options
			if ft.Kind() == reflect.Struct && !tag.HasOption("rel") && ft.Name() != "BaseModel" {
				if err := p.collect(ft, def, pkField); err != nil {
					return err
				}
			}
			continue
		}
		if !field.IsExported() {
			continue
		}

		if relKind, ok := tag.Options["rel"]; ok {
			rel, err := p.relation(t, field, relKind, tag)
			if err != nil {
				return err
			}
			def.Relations = append(def.Relations, rel)
			continue
		}

		if !hasTag && !isScalarField(field.Type) {
			continue
		}

		column := tag.Name
		if column == "" {
			column = defaultColumnName(field.Name)
		}
		def.Properties = append(def.Properties, Property{Name: field.Name, Column: column})

		if tag.HasOption("pk") {
			if def.PrimaryKey != "" {
				return ormerr.NewMapping(t.Name(), "composite primary keys are not supported")
			}
			def.PrimaryKey = field.Name
			f := field
			*pkField = &f
		}
	}
	return nil
}

func (p *TagProvider) relation(owner reflect.Type, field reflect.StructField, kind string, tag *tagparser.Tag) (Relation, error) {
	rel := Relation{Name: field.Name, Cascade: tag.HasOption("cascade")}

	target := field.Type
	for target.Kind() == reflect.Ptr || target.Kind() == reflect.Slice || target.Kind() == reflect.Array {
		target = target.Elem()
	}
	if target.Kind() != reflect.Struct {
		return rel, ormerr.NewMapping(owner.Name(), fmt.Sprintf("relation %s must point at a struct type", field.Name))
	}
	rel.Target = target

	local, remote := splitJoin(tag.Options["join"])

	switch kind {
	case "belongs-to", "many-to-one":
		rel.Kind = ManyToOne
		if local == "" {
			local = defaultColumnName(field.Name) + "_id"
		}
		rel.JoinColumn = local
		rel.ReferencedColumn = orDefault(remote, "id")
	case "one-to-one":
		rel.Kind = OneToOne
		if local == "" {
			local = defaultColumnName(field.Name) + "_id"
		}
		rel.JoinColumn = local
		rel.ReferencedColumn = orDefault(remote, "id")
	case "has-one":
		rel.Kind = OneToOne
		rel.ReferencedColumn = orDefault(remote, defaultColumnName(owner.Name())+"_id")
	case "has-many", "one-to-many":
		rel.Kind = OneToMany
		rel.ReferencedColumn = orDefault(remote, defaultColumnName(owner.Name())+"_id")
	case "m2m", "many-to-many":
		rel.Kind = ManyToMany
		rel.JoinTable = tag.Options["m2m"]
		if rel.JoinTable == "" {
			return rel, ormerr.NewMapping(owner.Name(), fmt.Sprintf("many-to-many relation %s needs an m2m join table", field.Name))
		}
	default:
		return rel, ormerr.NewMapping(owner.Name(), fmt.Sprintf("unknown relation kind %q on %s", kind, field.Name))
	}

	if rel.Collection() && field.Type.Kind() != reflect.Slice {
		return rel, ormerr.NewMapping(owner.Name(), fmt.Sprintf("relation %s is %s and must be a slice", field.Name, rel.Kind))
	}
	if !rel.Collection() && field.Type.Kind() != reflect.Ptr {
		return rel, ormerr.NewMapping(owner.Name(), fmt.Sprintf("relation %s is %s and must be a pointer", field.Name, rel.Kind))
	}
	return rel, nil
}

func (p *TagProvider) strategy(field reflect.StructField) IDStrategy {
	tag := tagparser.Parse(field.Tag.Get(p.tagKey))
	switch {
	case tag.HasOption("autoincrement"), tag.HasOption("identity"):
		return IDAuto
	case tag.HasOption("uuid"), field.Type == uuidType:
		return IDUUID
	case isInteger(field.Type.Kind()), isUnsigned(field.Type.Kind()):
		return IDAuto
	}
	return IDAssigned
}

// mirrorKeyProperties turns scalar properties that map an owning relation's
// join column into that relation's KeyProperty, so a single column is written.
func mirrorKeyProperties(def *Definition) {
	for i := range def.Relations {
		rel := &def.Relations[i]
		if !rel.Owning() {
			continue
		}
		for j, prop := range def.Properties {
			if prop.Column == rel.JoinColumn && prop.Name != def.PrimaryKey {
				rel.KeyProperty = prop.Name
				def.Properties = append(def.Properties[:j], def.Properties[j+1:]...)
				break
			}
		}
	}
}

func splitJoin(join string) (local, remote string) {
	if join == "" {
		return "", ""
	}
	parts := strings.SplitN(join, "=", 2)
	local = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		remote = strings.TrimSpace(parts[1])
	}
	return local, remote
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// isScalarField reports whether an untagged field can be mapped to a column.
// Untagged struct pointers and slices of structs are left alone since they are
// most likely undeclared associations.
func isScalarField(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.Interface, reflect.Map, reflect.UnsafePointer:
		return false
	case reflect.Slice:
		return isBytes(t)
	case reflect.Struct:
		return t == timeType || t.Implements(valuerType) || reflect.PointerTo(t).Implements(scannerType)
	}
	return true
}
