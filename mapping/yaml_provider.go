package mapping

import (
	"fmt"
	"os"
	"reflect"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-entity-manager/ormerr"
)

// yamlMapping is the document layout read by YAMLProvider:
//
//	entities:
//	  Order:
//	    table: orders
//	    primary_key: ID
//	    id_strategy: auto
//	    properties:
//	      - {name: ID, column: id}
//	      - {name: Total, column: total}
//	    relations:
//	      - {name: Customer, kind: many-to-one, target: Customer, join_column: customer_id, key_property: CustomerID}
type yamlMapping struct {
	Entities map[string]yamlEntity `yaml:"entities"`
}

type yamlEntity struct {
	Table      string         `yaml:"table"`
	PrimaryKey string         `yaml:"primary_key"`
	IDStrategy string         `yaml:"id_strategy"`
	Properties []yamlProperty `yaml:"properties"`
	Relations  []yamlRelation `yaml:"relations"`
}

type yamlProperty struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column"`
}

type yamlRelation struct {
	Name             string `yaml:"name"`
	Kind             string `yaml:"kind"`
	Target           string `yaml:"target"`
	JoinColumn       string `yaml:"join_column"`
	ReferencedColumn string `yaml:"referenced_column"`
	KeyProperty      string `yaml:"key_property"`
	JoinTable        string `yaml:"join_table"`
	Cascade          bool   `yaml:"cascade"`
}

// YAMLProvider reads entity mappings from a YAML document. Go types must be
// registered under the names used in the document.
type YAMLProvider struct {
	mu       sync.RWMutex
	types    map[string]reflect.Type
	names    map[reflect.Type]string
	entities map[string]yamlEntity
}

// NewYAMLProvider creates an empty provider.
func NewYAMLProvider() *YAMLProvider {
	return &YAMLProvider{
		types:    make(map[string]reflect.Type),
		names:    make(map[reflect.Type]string),
		entities: make(map[string]yamlEntity),
	}
}

// Register binds name to the dynamic type of sample, e.g. Register("Order", (*Order)(nil)).
func (p *YAMLProvider) Register(name string, sample any) {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	p.mu.Lock()
	p.types[name] = t
	p.names[t] = name
	p.mu.Unlock()
}

// LoadFile reads a mapping document from path.
func (p *YAMLProvider) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read mapping: %w", err)
	}
	return p.Load(data)
}

// Load merges a mapping document into the provider.
func (p *YAMLProvider) Load(data []byte) error {
	var doc yamlMapping
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse mapping: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, entity := range doc.Entities {
		p.entities[name] = entity
	}
	return nil
}

// Definition implements Provider.
func (p *YAMLProvider) Definition(t reflect.Type) (Definition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	def := Definition{Type: t}
	name, ok := p.names[t]
	if !ok {
		return def, ormerr.NewMapping(t.Name(), "type not registered with the yaml provider")
	}
	entity, ok := p.entities[name]
	if !ok {
		return def, ormerr.NewMapping(t.Name(), fmt.Sprintf("no yaml mapping for %q", name))
	}

	def.Table = entity.Table
	def.PrimaryKey = entity.PrimaryKey
	switch entity.IDStrategy {
	case "", "assigned":
		def.IDStrategy = IDAssigned
	case "auto":
		def.IDStrategy = IDAuto
	case "uuid":
		def.IDStrategy = IDUUID
	default:
		return def, ormerr.NewMapping(t.Name(), fmt.Sprintf("unknown id strategy %q", entity.IDStrategy))
	}

	for _, prop := range entity.Properties {
		column := prop.Column
		if column == "" {
			column = defaultColumnName(prop.Name)
		}
		def.Properties = append(def.Properties, Property{Name: prop.Name, Column: column})
	}

	for _, r := range entity.Relations {
		target, ok := p.types[r.Target]
		if !ok {
			return def, ormerr.NewMapping(t.Name(), fmt.Sprintf("relation %s targets unregistered type %q", r.Name, r.Target))
		}
		kind, err := parseKind(r.Kind)
		if err != nil {
			return def, ormerr.NewMapping(t.Name(), err.Error())
		}
		def.Relations = append(def.Relations, Relation{
			Name:             r.Name,
			Kind:             kind,
			Target:           target,
			JoinColumn:       r.JoinColumn,
			ReferencedColumn: r.ReferencedColumn,
			KeyProperty:      r.KeyProperty,
			JoinTable:        r.JoinTable,
			Cascade:          r.Cascade,
		})
	}
	return def, nil
}

func parseKind(kind string) (RelationKind, error) {
	switch kind {
	case "one-to-one", "has-one":
		return OneToOne, nil
	case "one-to-many", "has-many":
		return OneToMany, nil
	case "many-to-one", "belongs-to":
		return ManyToOne, nil
	case "many-to-many", "m2m":
		return ManyToMany, nil
	}
	return 0, fmt.Errorf("unknown relation kind %q", kind)
}
