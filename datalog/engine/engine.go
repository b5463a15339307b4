// Package engine composes the query pipeline: parse, algebrize against
// the store's current schema snapshot, translate to SQL, execute, and
// project the rows into a shaped result.
package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/algebra"
	"github.com/jmallove/datalith/datalog/parser"
	"github.com/jmallove/datalith/datalog/project"
	"github.com/jmallove/datalith/datalog/pull"
	"github.com/jmallove/datalith/datalog/query"
	"github.com/jmallove/datalith/datalog/schema"
	"github.com/jmallove/datalith/datalog/translate"
)

// Store is the storage surface the engine composes over. The SQLite
// store satisfies it; tests may substitute pieces.
type Store interface {
	// QueryContext executes a translated statement.
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

	// Catalog returns the current schema snapshot.
	Catalog() *schema.Snapshot

	// ResolveUnique backs the unique-attribute short circuit.
	ResolveUnique(attr schema.Attribute, value datalog.TypedValue) (datalog.EntityID, bool, error)

	// EntityFacts backs pull expansion.
	EntityFacts(id datalog.EntityID) ([]pull.Fact, error)
}

// ExecutionError wraps a storage-level failure opaquely: compilation
// succeeded, execution did not.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Options tunes the engine.
type Options struct {
	// PullDepth bounds component recursion; 0 selects the default.
	PullDepth int
	// DisableUniqueResolution turns the unique-attribute short circuit
	// off; results are identical either way.
	DisableUniqueResolution bool
}

// Engine runs queries against one store.
type Engine struct {
	store  Store
	puller *pull.Engine
	opts   Options
}

// New builds an engine over the store.
func New(store Store, opts Options) *Engine {
	return &Engine{
		store:  store,
		puller: pull.NewEngine(store, opts.PullDepth),
		opts:   opts,
	}
}

// Query parses, compiles, and runs one query text.
func (e *Engine) Query(ctx context.Context, text string, inputs algebra.Inputs) (*project.Result, error) {
	q, err := parser.Parse(text)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, q, inputs)
}

// Run compiles and executes an already-parsed query.
func (e *Engine) Run(ctx context.Context, q *query.Query, inputs algebra.Inputs) (*project.Result, error) {
	stmt, err := e.compile(q, inputs)
	if err != nil {
		return nil, err
	}

	if stmt.KnownEmpty {
		return project.Project(stmt, nil, e.puller)
	}

	rows, err := e.store.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}

	// Pull expansion issues its own queries during projection, so the
	// cursor must be drained and closed first; a single-connection
	// store would otherwise block on itself.
	buf, err := bufferRows(rows)
	rows.Close()
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}

	result, err := project.Project(stmt, buf, e.puller)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// bufferedRows materializes a result set so projection runs against
// memory, not a live cursor.
type bufferedRows struct {
	cols []string
	rows [][]interface{}
	next int
}

func bufferRows(rows *sql.Rows) (*bufferedRows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	buf := &bufferedRows{cols: cols}
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		buf.rows = append(buf.rows, raw)
	}
	return buf, rows.Err()
}

func (b *bufferedRows) Columns() ([]string, error) { return b.cols, nil }

func (b *bufferedRows) Next() bool {
	b.next++
	return b.next <= len(b.rows)
}

func (b *bufferedRows) Scan(dest ...interface{}) error {
	row := b.rows[b.next-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan expects %d destinations, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		ptr, ok := d.(*interface{})
		if !ok {
			return fmt.Errorf("scan destination %d is %T", i, d)
		}
		*ptr = row[i]
	}
	return nil
}

func (b *bufferedRows) Err() error { return nil }

// Explain compiles a query text and returns the statement without
// executing it.
func (e *Engine) Explain(text string, inputs algebra.Inputs) (*translate.Statement, error) {
	q, err := parser.Parse(text)
	if err != nil {
		return nil, err
	}
	return e.compile(q, inputs)
}

func (e *Engine) compile(q *query.Query, inputs algebra.Inputs) (*translate.Statement, error) {
	opts := algebra.Options{}
	if !e.opts.DisableUniqueResolution {
		opts.Resolver = e.store
	}

	aq, err := algebra.Algebrize(q, e.store.Catalog(), inputs, opts)
	if err != nil {
		return nil, err
	}
	return translate.Translate(aq)
}
