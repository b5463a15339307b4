package algebra

import (
	"fmt"

	"github.com/jmallove/datalith/datalog/query"
)

// TypeConflictError reports contradictory type constraints on one
// variable across clauses.
type TypeConflictError struct {
	Var      query.Symbol
	Existing TypeSet
	Proposed TypeSet
}

func (e *TypeConflictError) Error() string {
	return fmt.Sprintf("type conflict on %s: %s is incompatible with %s",
		e.Var, e.Existing, e.Proposed)
}

// UnboundVariableError reports a variable used where a binding is
// required, carrying the clause context.
type UnboundVariableError struct {
	Var     query.Symbol
	Context string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("unbound variable %s in %s", e.Var, e.Context)
}

// UnsupportedPredicateError reports an application or clause shape the
// compiler cannot render.
type UnsupportedPredicateError struct {
	Fn     string
	Reason string
}

func (e *UnsupportedPredicateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported predicate %s: %s", e.Fn, e.Reason)
	}
	return fmt.Sprintf("unsupported predicate %s", e.Fn)
}
