// Package project turns raw SQL rows back into typed, shaped results.
// The statement's column descriptors are the contract: value columns
// decode through the stored type tag or the statically fixed type, and
// a cell that fails to decode is storage corruption, never caller
// misuse.
package project

import (
	"fmt"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/algebra"
	"github.com/jmallove/datalith/datalog/pull"
	"github.com/jmallove/datalith/datalog/query"
	"github.com/jmallove/datalith/datalog/translate"
)

// InvariantViolation reports a row cell that contradicts its column
// descriptor.
type InvariantViolation struct {
	Column query.Symbol
	Err    error
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("projection invariant violated at %s: %v", e.Column, e.Err)
}

func (e *InvariantViolation) Unwrap() error { return e.Err }

// Rows is the subset of database/sql.Rows the projector consumes.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// Puller expands pull columns. Nil is allowed when the statement has
// no pull elements.
type Puller interface {
	Pull(id datalog.EntityID, pattern query.PullPattern) (*pull.Node, error)
}

// Cell is one typed output position. Node is set for pull columns; the
// value then holds the pulled entity's reference.
type Cell struct {
	Value datalog.TypedValue
	Node  *pull.Node
}

func (c Cell) String() string {
	if c.Node != nil {
		return fmt.Sprintf("(pull %d)", int64(c.Node.Entity))
	}
	return c.Value.String()
}

// Row is one output tuple.
type Row []Cell

// Result is the shaped output of one query. Rows always holds the
// underlying tuples; the shape accessors view them.
type Result struct {
	Shape   query.FindShape
	Columns []string
	Rows    []Row
}

// Scalar returns the single value of a scalar-shaped result.
func (r *Result) Scalar() (Cell, bool) {
	if len(r.Rows) == 0 || len(r.Rows[0]) == 0 {
		return Cell{}, false
	}
	return r.Rows[0][0], true
}

// Tuple returns the single row of a tuple-shaped result.
func (r *Result) Tuple() (Row, bool) {
	if len(r.Rows) == 0 {
		return nil, false
	}
	return r.Rows[0], true
}

// Collection returns the first cell of every row.
func (r *Result) Collection() []Cell {
	out := make([]Cell, 0, len(r.Rows))
	for _, row := range r.Rows {
		out = append(out, row[0])
	}
	return out
}

// Len returns the number of result tuples.
func (r *Result) Len() int { return len(r.Rows) }

// Project consumes rows against the statement's descriptors. A
// known-empty statement shapes the empty result without touching rows,
// which may then be nil.
func Project(stmt *translate.Statement, rows Rows, puller Puller) (*Result, error) {
	result := &Result{
		Shape:   stmt.Shape,
		Columns: columnNames(stmt),
	}
	if stmt.KnownEmpty {
		return result, nil
	}

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}
	width := len(names)

	raw := make([]interface{}, width)
	dest := make([]interface{}, width)
	for i := range raw {
		dest[i] = &raw[i]
	}

	for rows.Next() {
		for i := range raw {
			raw[i] = nil
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}

		row, keep, err := projectRow(stmt, raw, puller)
		if err != nil {
			return nil, err
		}
		if keep {
			result.Rows = append(result.Rows, row)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return result, nil
}

// projectRow decodes one raw row. keep is false for the single
// NULL-aggregate row an aggregate-only query yields over an empty set.
func projectRow(stmt *translate.Statement, raw []interface{}, puller Puller) (Row, bool, error) {
	row := make(Row, 0, len(stmt.Columns))
	for _, desc := range stmt.Columns {
		if desc.ValueIndex >= len(raw) {
			return nil, false, &InvariantViolation{
				Column: desc.Var,
				Err:    fmt.Errorf("value index %d out of row width %d", desc.ValueIndex, len(raw)),
			}
		}
		cellRaw := raw[desc.ValueIndex]

		if cellRaw == nil {
			if desc.Kind == algebra.ProjAggregate {
				return nil, false, nil
			}
			return nil, false, &InvariantViolation{Column: desc.Var, Err: fmt.Errorf("unexpected NULL cell")}
		}

		tag := int64(desc.FixedType)
		if desc.TagIndex >= 0 {
			if desc.TagIndex >= len(raw) {
				return nil, false, &InvariantViolation{
					Column: desc.Var,
					Err:    fmt.Errorf("tag index %d out of row width %d", desc.TagIndex, len(raw)),
				}
			}
			t, ok := raw[desc.TagIndex].(int64)
			if !ok {
				return nil, false, &InvariantViolation{
					Column: desc.Var,
					Err:    fmt.Errorf("tag cell holds %T", raw[desc.TagIndex]),
				}
			}
			tag = t
		}

		value, err := datalog.DecodeSQL(tag, cellRaw)
		if err != nil {
			return nil, false, &InvariantViolation{Column: desc.Var, Err: err}
		}

		cell := Cell{Value: value}
		if desc.Kind == algebra.ProjPull {
			if puller == nil {
				return nil, false, &InvariantViolation{Column: desc.Var, Err: fmt.Errorf("pull column without a puller")}
			}
			id, ok := value.Ref()
			if !ok {
				return nil, false, &InvariantViolation{Column: desc.Var, Err: fmt.Errorf("pull column decoded to %s", value.Type())}
			}
			node, err := puller.Pull(id, desc.Pull)
			if err != nil {
				return nil, false, fmt.Errorf("pulling %s: %w", desc.Var, err)
			}
			cell.Node = node
		}
		row = append(row, cell)
	}
	return row, true, nil
}

func columnNames(stmt *translate.Statement) []string {
	names := make([]string, len(stmt.Columns))
	for i, desc := range stmt.Columns {
		switch {
		case desc.Aggregate != "":
			names[i] = fmt.Sprintf("(%s %s)", desc.Aggregate, desc.Var)
		case desc.Kind == algebra.ProjPull:
			names[i] = fmt.Sprintf("(pull %s %s)", desc.Var, desc.Pull)
		default:
			names[i] = desc.Var.String()
		}
	}
	return names
}
