package bunstore

import (
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-entity-manager/storage"
)

// Builder renders statements with the dialect of a bun database. Values are
// inlined by the dialect formatter, so statements carry no separate arguments.
type Builder struct {
	db *bun.DB
}

var _ storage.Builder = (*Builder)(nil)

// NewBuilder returns a builder for db's dialect.
func NewBuilder(db *bun.DB) *Builder {
	return &Builder{db: db}
}

func (b *Builder) fmter() schema.Formatter {
	return b.db.Formatter()
}

// SupportsReturning implements storage.Builder.
func (b *Builder) SupportsReturning() bool {
	return b.db.Dialect().Features().Has(feature.InsertReturning)
}

// Insert implements storage.Builder.
func (b *Builder) Insert(table string, columns []string, values []any, returning string) (storage.Statement, error) {
	if len(columns) != len(values) {
		return storage.Statement{}, fmt.Errorf("insert %s: %d columns but %d values", table, len(columns), len(values))
	}
	f := b.fmter()

	var q string
	if len(columns) == 0 {
		q = f.FormatQuery("INSERT INTO ? DEFAULT VALUES", bun.Ident(table))
	} else {
		q = f.FormatQuery("INSERT INTO ? (?) VALUES ", bun.Ident(table), bun.In(idents(columns))) +
			"(" + strings.Join(literals(f, values), ", ") + ")"
	}
	if returning != "" && b.SupportsReturning() {
		q += f.FormatQuery(" RETURNING ?", bun.Ident(returning))
	}
	return storage.Statement{Query: q}, nil
}

// Update implements storage.Builder.
func (b *Builder) Update(table string, columns []string, values []any, idColumn string, id any) (storage.Statement, error) {
	if len(columns) == 0 {
		return storage.Statement{}, fmt.Errorf("update %s: no columns", table)
	}
	if len(columns) != len(values) {
		return storage.Statement{}, fmt.Errorf("update %s: %d columns but %d values", table, len(columns), len(values))
	}
	f := b.fmter()

	sets := make([]string, len(columns))
	for i, column := range columns {
		sets[i] = f.FormatQuery("? = ?", bun.Ident(column), values[i])
	}

	var sb strings.Builder
	sb.WriteString(f.FormatQuery("UPDATE ? SET ", bun.Ident(table)))
	sb.WriteString(strings.Join(sets, ", "))
	sb.WriteString(f.FormatQuery(" WHERE ? = ?", bun.Ident(idColumn), id))
	return storage.Statement{Query: sb.String()}, nil
}

// Delete implements storage.Builder.
func (b *Builder) Delete(table string, idColumn string, id any) (storage.Statement, error) {
	q := b.fmter().FormatQuery("DELETE FROM ? WHERE ? = ?", bun.Ident(table), bun.Ident(idColumn), id)
	return storage.Statement{Query: q}, nil
}

// SelectByID implements storage.Builder.
func (b *Builder) SelectByID(table string, columns []string, idColumn string, id any) (storage.Statement, error) {
	if len(columns) == 0 {
		return storage.Statement{}, fmt.Errorf("select %s: no columns", table)
	}
	q := b.fmter().FormatQuery("SELECT ? FROM ? WHERE ? = ?",
		bun.In(idents(columns)), bun.Ident(table), bun.Ident(idColumn), id)
	return storage.Statement{Query: q}, nil
}

// Select implements storage.Builder. Criteria are applied to a bun select
// query on table, so the usual repository helpers (where clauses, ordering,
// limits) can be reused.
func (b *Builder) Select(table string, columns []string, criteria ...repository.SelectCriteria) (storage.Statement, error) {
	if len(columns) == 0 {
		return storage.Statement{}, fmt.Errorf("select %s: no columns", table)
	}
	q := b.db.NewSelect().TableExpr("?", bun.Ident(table))
	for _, column := range columns {
		q = q.ColumnExpr("?", bun.Ident(column))
	}
	for _, c := range criteria {
		if c != nil {
			q = c(q)
		}
	}
	// repository criteria qualify columns with ?TableAlias
	f := b.fmter().WithNamedArg("TableAlias", bun.Ident(table))
	raw, err := q.AppendQuery(f, nil)
	if err != nil {
		return storage.Statement{}, fmt.Errorf("select %s: %w", table, err)
	}
	return storage.Statement{Query: string(raw)}, nil
}

// literals formats each value on its own; a nil value renders as NULL.
func literals(f schema.Formatter, values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = f.FormatQuery("?", v)
	}
	return out
}

func idents(names []string) []bun.Ident {
	out := make([]bun.Ident, len(names))
	for i, name := range names {
		out[i] = bun.Ident(name)
	}
	return out
}
