// Package translate renders an algebrized query into a single SQL
// statement with bound parameters, plus the column descriptors the
// projector needs to rebuild typed values from raw rows.
package translate

import (
	"fmt"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/algebra"
	"github.com/jmallove/datalith/datalog/query"
)

// Error reports an internal translation failure: an algebrized form
// the renderer has no lowering for. Seeing one means the algebrizer
// and the translator disagree, not that the caller's query is wrong.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("translate: %s: %s", e.Op, e.Msg)
}

func errf(op, format string, args ...interface{}) *Error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ColumnDescriptor maps one projected element to its raw row columns.
type ColumnDescriptor struct {
	Var       query.Symbol
	Kind      algebra.ProjKind
	Aggregate string
	Pull      query.PullPattern

	// ValueIndex is the element's position in the raw row. TagIndex is
	// the discriminant column's position, or -1 when the type is fixed
	// and no tag column is emitted.
	ValueIndex int
	TagIndex   int

	// FixedType is the statically known value type when TagIndex is -1.
	FixedType datalog.ValueType
}

// Statement is the executable form of one query: SQL text, bound
// parameters in placeholder order, and the projection contract.
type Statement struct {
	SQL  string
	Args []interface{}

	Shape   query.FindShape
	Columns []ColumnDescriptor

	// KnownEmpty marks a query proven empty at compile time; execution
	// is skipped entirely and the empty result is shaped directly.
	KnownEmpty  bool
	EmptyReason string
}
