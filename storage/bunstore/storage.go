// Package bunstore implements the storage collaborators on top of bun.
//
// Storage runs statements on a *bun.DB, so every statement goes through
// bun's query hooks, and Builder renders statements with the database
// dialect's formatter. Both support SQLite (modernc.org/sqlite) and
// PostgreSQL (lib/pq).
package bunstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-entity-manager/storage"
)

// Storage implements storage.Storage over a bun database.
type Storage struct {
	db *bun.DB
}

var _ storage.Storage = (*Storage)(nil)

// New wraps db.
func New(db *bun.DB) *Storage {
	return &Storage{db: db}
}

// DB returns the underlying bun database.
func (s *Storage) DB() *bun.DB { return s.db }

// Close closes the underlying database.
func (s *Storage) Close() error { return s.db.Close() }

// Exec implements storage.Executor.
func (s *Storage) Exec(ctx context.Context, stmt storage.Statement) (storage.Result, error) {
	return exec(ctx, s.db, stmt)
}

// Query implements storage.Executor.
func (s *Storage) Query(ctx context.Context, stmt storage.Statement) ([]storage.Row, error) {
	return query(ctx, s.db, stmt)
}

// Begin implements storage.Storage.
func (s *Storage) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &transaction{tx: tx}, nil
}

type transaction struct {
	tx bun.Tx
}

func (t *transaction) Exec(ctx context.Context, stmt storage.Statement) (storage.Result, error) {
	return exec(ctx, t.tx, stmt)
}

func (t *transaction) Query(ctx context.Context, stmt storage.Statement) ([]storage.Row, error) {
	return query(ctx, t.tx, stmt)
}

func (t *transaction) Commit() error { return t.tx.Commit() }

func (t *transaction) Rollback() error { return t.tx.Rollback() }

func exec(ctx context.Context, conn bun.IConn, stmt storage.Statement) (storage.Result, error) {
	res, err := conn.ExecContext(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		return storage.Result{}, err
	}
	var out storage.Result
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
		out.HasLastInsertID = true
	}
	return out, nil
}

func query(ctx context.Context, conn bun.IConn, stmt storage.Statement) ([]storage.Row, error) {
	rows, err := conn.QueryContext(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]storage.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []storage.Row
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(storage.Row, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
			row[column] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
