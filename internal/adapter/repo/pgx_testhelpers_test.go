package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type funcRow func(dest ...any) error

func (f funcRow) Scan(dest ...any) error { return f(dest...) }

type scriptedRows struct {
	rows []funcRow
	idx  int
	err  error
}

func (r *scriptedRows) Close()                                       {}
func (r *scriptedRows) Err() error                                   { return r.err }
func (r *scriptedRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *scriptedRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *scriptedRows) Conn() *pgx.Conn                              { return nil }
func (r *scriptedRows) RawValues() [][]byte                          { return nil }
func (r *scriptedRows) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (r *scriptedRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *scriptedRows) Scan(dest ...any) error {
	return r.rows[r.idx-1](dest...)
}

type call struct {
	query string
	args  []any
}

// scriptedExecutor answers each query through per-statement handlers.
type scriptedExecutor struct {
	mu       sync.Mutex
	calls    []call
	exec     map[string]func(args []any) (pgconn.CommandTag, error)
	queryRow map[string]func(args []any) pgx.Row
	query    map[string]func(args []any) (pgx.Rows, error)
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		exec:     map[string]func([]any) (pgconn.CommandTag, error){},
		queryRow: map[string]func([]any) pgx.Row{},
		query:    map[string]func([]any) (pgx.Rows, error){},
	}
}

func (s *scriptedExecutor) record(query string, args []any) {
	s.mu.Lock()
	s.calls = append(s.calls, call{query: query, args: args})
	s.mu.Unlock()
}

func (s *scriptedExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.record(query, args)
	if fn, ok := s.exec[query]; ok {
		return fn(args)
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected exec")
}

func (s *scriptedExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.record(query, args)
	if fn, ok := s.queryRow[query]; ok {
		return fn(args)
	}
	return funcRow(func(...any) error { return fmt.Errorf("unexpected query row") })
}

func (s *scriptedExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.record(query, args)
	if fn, ok := s.query[query]; ok {
		return fn(args)
	}
	return nil, fmt.Errorf("unexpected query")
}
