package testsupport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	repository "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-entity-manager/storage"
)

// Request is the structured form of a statement rendered by MemoryStore.
type Request struct {
	Op        string
	Table     string
	Columns   []string
	Values    []any
	IDColumn  string
	ID        any
	Returning string
}

// Value returns the value written to column, if any.
func (r Request) Value(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// MemoryStore is an in-memory storage.Storage and storage.Builder that
// records every executed request. Tables are created on first insert; rows
// without an "id" column get a sequential one, returned as the last insert id
// or through RETURNING when Returning is set.
//
// Select criteria cannot be evaluated in memory: Select returns every row of
// the table.
type MemoryStore struct {
	// Returning makes SupportsReturning report true.
	Returning bool
	// FailOn is consulted before each request runs; a non nil error is returned as is.
	FailOn func(Request) error
	// FailBegin and FailCommit are returned by Begin and Commit when set.
	FailBegin  error
	FailCommit error
	// NoKey makes inserts report no generated key.
	NoKey bool

	mu        sync.Mutex
	tables    map[string]*memTable
	requests  []Request
	begins    int
	commits   int
	rollbacks int
}

type memTable struct {
	next int64
	rows []storage.Row
}

var (
	_ storage.Storage = (*MemoryStore)(nil)
	_ storage.Builder = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*memTable)}
}

// Seed inserts rows directly, bypassing request recording.
func (s *MemoryStore) Seed(table string, rows ...storage.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table)
	for _, row := range rows {
		cp := copyRow(row)
		if id, ok := cp["id"].(int64); ok && id > t.next {
			t.next = id
		}
		t.rows = append(t.rows, cp)
	}
}

// Rows returns a copy of every row of table.
func (s *MemoryStore) Rows(table string) []storage.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return nil
	}
	out := make([]storage.Row, len(t.rows))
	for i, row := range t.rows {
		out[i] = copyRow(row)
	}
	return out
}

// Requests returns every executed request in order.
func (s *MemoryStore) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Writes returns the executed insert, update and delete requests.
func (s *MemoryStore) Writes() []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Op != "select" {
			out = append(out, r)
		}
	}
	return out
}

// Count returns how many requests of op were executed.
func (s *MemoryStore) Count(op string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Op == op {
			n++
		}
	}
	return n
}

// Transactions returns how many transactions were begun, committed and rolled back.
func (s *MemoryStore) Transactions() (begins, commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, s.commits, s.rollbacks
}

// ResetRequests forgets recorded requests and transaction counters, keeping data.
func (s *MemoryStore) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
	s.begins, s.commits, s.rollbacks = 0, 0, 0
}

// SupportsReturning implements storage.Builder.
func (s *MemoryStore) SupportsReturning() bool { return s.Returning }

// Insert implements storage.Builder.
func (s *MemoryStore) Insert(table string, columns []string, values []any, returning string) (storage.Statement, error) {
	if len(columns) != len(values) {
		return storage.Statement{}, fmt.Errorf("insert %s: %d columns but %d values", table, len(columns), len(values))
	}
	req := &Request{Op: "insert", Table: table, Columns: columns, Values: values, Returning: returning}
	return statement(req, "INSERT INTO %s (%s)", table, strings.Join(columns, ", ")), nil
}

// Update implements storage.Builder.
func (s *MemoryStore) Update(table string, columns []string, values []any, idColumn string, id any) (storage.Statement, error) {
	if len(columns) == 0 || len(columns) != len(values) {
		return storage.Statement{}, fmt.Errorf("update %s: invalid columns", table)
	}
	req := &Request{Op: "update", Table: table, Columns: columns, Values: values, IDColumn: idColumn, ID: id}
	return statement(req, "UPDATE %s SET %s WHERE %s = %v", table, strings.Join(columns, ", "), idColumn, id), nil
}

// Delete implements storage.Builder.
func (s *MemoryStore) Delete(table string, idColumn string, id any) (storage.Statement, error) {
	req := &Request{Op: "delete", Table: table, IDColumn: idColumn, ID: id}
	return statement(req, "DELETE FROM %s WHERE %s = %v", table, idColumn, id), nil
}

// SelectByID implements storage.Builder.
func (s *MemoryStore) SelectByID(table string, columns []string, idColumn string, id any) (storage.Statement, error) {
	req := &Request{Op: "select", Table: table, Columns: columns, IDColumn: idColumn, ID: id}
	return statement(req, "SELECT %s FROM %s WHERE %s = %v", strings.Join(columns, ", "), table, idColumn, id), nil
}

// Select implements storage.Builder. Criteria are ignored.
func (s *MemoryStore) Select(table string, columns []string, _ ...repository.SelectCriteria) (storage.Statement, error) {
	req := &Request{Op: "select", Table: table, Columns: columns}
	return statement(req, "SELECT %s FROM %s", strings.Join(columns, ", "), table), nil
}

func statement(req *Request, format string, args ...any) storage.Statement {
	return storage.Statement{Query: fmt.Sprintf(format, args...), Args: []any{req}}
}

// Exec implements storage.Executor.
func (s *MemoryStore) Exec(ctx context.Context, stmt storage.Statement) (storage.Result, error) {
	req, err := decode(stmt)
	if err != nil {
		return storage.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(req)
}

// Query implements storage.Executor.
func (s *MemoryStore) Query(ctx context.Context, stmt storage.Statement) ([]storage.Row, error) {
	req, err := decode(stmt)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Op == "insert" {
		res, err := s.apply(req)
		if err != nil {
			return nil, err
		}
		if req.Returning == "" || !res.HasLastInsertID {
			return nil, nil
		}
		return []storage.Row{{req.Returning: res.LastInsertID}}, nil
	}
	if req.Op != "select" {
		return nil, fmt.Errorf("memory store: %s cannot be queried", req.Op)
	}

	s.requests = append(s.requests, req)
	if s.FailOn != nil {
		if err := s.FailOn(req); err != nil {
			return nil, err
		}
	}
	t, ok := s.tables[req.Table]
	if !ok {
		return nil, nil
	}
	var out []storage.Row
	for _, row := range t.rows {
		if req.IDColumn != "" && !sameID(row[req.IDColumn], req.ID) {
			continue
		}
		proj := make(storage.Row, len(req.Columns))
		for _, c := range req.Columns {
			proj[c] = row[c]
		}
		out = append(out, proj)
	}
	return out, nil
}

func (s *MemoryStore) apply(req Request) (storage.Result, error) {
	s.requests = append(s.requests, req)
	if s.FailOn != nil {
		if err := s.FailOn(req); err != nil {
			return storage.Result{}, err
		}
	}

	t := s.table(req.Table)
	switch req.Op {
	case "insert":
		row := make(storage.Row, len(req.Columns)+1)
		for i, c := range req.Columns {
			row[c] = req.Values[i]
		}
		res := storage.Result{RowsAffected: 1}
		if _, ok := row["id"]; !ok {
			t.next++
			row["id"] = t.next
			if !s.NoKey {
				res.LastInsertID = t.next
				res.HasLastInsertID = true
			}
		}
		t.rows = append(t.rows, row)
		return res, nil
	case "update":
		var n int64
		for _, row := range t.rows {
			if sameID(row[req.IDColumn], req.ID) {
				for i, c := range req.Columns {
					row[c] = req.Values[i]
				}
				n++
			}
		}
		return storage.Result{RowsAffected: n}, nil
	case "delete":
		kept := t.rows[:0]
		var n int64
		for _, row := range t.rows {
			if sameID(row[req.IDColumn], req.ID) {
				n++
				continue
			}
			kept = append(kept, row)
		}
		t.rows = kept
		return storage.Result{RowsAffected: n}, nil
	}
	return storage.Result{}, fmt.Errorf("memory store: %s cannot be executed", req.Op)
}

// Begin implements storage.Storage. Writes go straight to the store; a
// rollback restores the tables as they were when the transaction began.
func (s *MemoryStore) Begin(ctx context.Context) (storage.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	if s.FailBegin != nil {
		return nil, s.FailBegin
	}
	return &memTx{store: s, saved: s.cloneTables()}, nil
}

type memTx struct {
	store *MemoryStore
	saved map[string]*memTable
	done  bool
}

func (tx *memTx) Exec(ctx context.Context, stmt storage.Statement) (storage.Result, error) {
	if tx.done {
		return storage.Result{}, errors.New("memory store: transaction already finished")
	}
	return tx.store.Exec(ctx, stmt)
}

func (tx *memTx) Query(ctx context.Context, stmt storage.Statement) ([]storage.Row, error) {
	if tx.done {
		return nil, errors.New("memory store: transaction already finished")
	}
	return tx.store.Query(ctx, stmt)
}

func (tx *memTx) Commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.done {
		return errors.New("memory store: transaction already finished")
	}
	if s.FailCommit != nil {
		return s.FailCommit
	}
	tx.done = true
	s.commits++
	return nil
}

func (tx *memTx) Rollback() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.done {
		return errors.New("memory store: transaction already finished")
	}
	tx.done = true
	s.rollbacks++
	s.tables = tx.saved
	return nil
}

func (s *MemoryStore) table(name string) *memTable {
	if s.tables == nil {
		s.tables = make(map[string]*memTable)
	}
	t, ok := s.tables[name]
	if !ok {
		t = &memTable{}
		s.tables[name] = t
	}
	return t
}

func (s *MemoryStore) cloneTables() map[string]*memTable {
	out := make(map[string]*memTable, len(s.tables))
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := s.tables[name]
		cp := &memTable{next: t.next, rows: make([]storage.Row, len(t.rows))}
		for i, row := range t.rows {
			cp.rows[i] = copyRow(row)
		}
		out[name] = cp
	}
	return out
}

func decode(stmt storage.Statement) (Request, error) {
	if len(stmt.Args) == 1 {
		if req, ok := stmt.Args[0].(*Request); ok {
			return *req, nil
		}
	}
	return Request{}, fmt.Errorf("memory store: unsupported statement %q", stmt.Query)
}

func copyRow(row storage.Row) storage.Row {
	cp := make(storage.Row, len(row))
	for k, v := range row {
		cp[k] = v
	}
	return cp
}

func sameID(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
