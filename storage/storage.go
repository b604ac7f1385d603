// Package storage declares the collaborators the unit of work writes through:
// a statement executor with transactions, and a builder that renders
// dialect specific statements.
//
// The persistence processors depend only on these interfaces. The bunstore
// package implements them on top of bun; tests use an in-memory recorder.
package storage

import (
	"context"

	repository "github.com/goliatone/go-repository-bun"
)

// Statement is a rendered query with its arguments.
type Statement struct {
	Query string
	Args  []any
}

// Row is one result row keyed by column name.
type Row map[string]any

// Result describes the outcome of a write.
type Result struct {
	RowsAffected    int64
	LastInsertID    int64
	HasLastInsertID bool
}

// Executor runs statements.
type Executor interface {
	Exec(ctx context.Context, stmt Statement) (Result, error)
	Query(ctx context.Context, stmt Statement) ([]Row, error)
}

// Tx is an open transaction.
type Tx interface {
	Executor
	Commit() error
	Rollback() error
}

// Storage executes statements outside a transaction and opens transactions.
type Storage interface {
	Executor
	Begin(ctx context.Context) (Tx, error)
}

// Builder turns abstract write and read requests into statements.
type Builder interface {
	// Insert renders an insert of columns/values into table. When returning
	// is not empty and the dialect supports it, the statement returns that
	// column of the inserted row.
	Insert(table string, columns []string, values []any, returning string) (Statement, error)
	// Update renders an update of columns/values limited to the row whose
	// idColumn equals id.
	Update(table string, columns []string, values []any, idColumn string, id any) (Statement, error)
	// Delete renders a delete of the row whose idColumn equals id.
	Delete(table string, idColumn string, id any) (Statement, error)
	// SelectByID renders a select of columns for one row.
	SelectByID(table string, columns []string, idColumn string, id any) (Statement, error)
	// Select renders a select of columns filtered by repository criteria.
	Select(table string, columns []string, criteria ...repository.SelectCriteria) (Statement, error)
	// SupportsReturning reports whether Insert can return generated keys.
	SupportsReturning() bool
}
