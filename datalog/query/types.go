// Package query defines the typed AST a parsed query compiles to:
// find-spec shapes, input bindings, with-variables, where clauses, and
// the builtin function registry. The AST is pure data; algebrization
// against a schema happens downstream.
package query

import (
	"fmt"
	"strings"

	"github.com/jmallove/datalith/datalog"
)

// Symbol is a query variable name such as "?e".
type Symbol string

// IsVariable reports whether the symbol names a variable.
func (s Symbol) IsVariable() bool {
	return len(s) > 0 && s[0] == '?'
}

func (s Symbol) String() string { return string(s) }

// PatternElement is one slot of a pattern: a variable, a constant, or
// a wildcard.
type PatternElement interface {
	IsVariable() bool
	String() string
}

// Variable is a named placeholder slot.
type Variable struct {
	Name Symbol
}

func (v Variable) IsVariable() bool { return true }
func (v Variable) String() string   { return v.Name.String() }

// Constant is a literal slot. Attribute slots hold datalog.Keyword;
// value slots hold datalog.TypedValue.
type Constant struct {
	Value datalog.TypedValue
}

func (c Constant) IsVariable() bool { return false }
func (c Constant) String() string   { return c.Value.String() }

// Wildcard matches anything and binds nothing.
type Wildcard struct{}

func (w Wildcard) IsVariable() bool { return false }
func (w Wildcard) String() string   { return "_" }

// FindShape is the declared output shape of a query.
type FindShape uint8

const (
	// FindRelation returns an ordered sequence of tuples: ?a ?b
	FindRelation FindShape = iota
	// FindCollection returns an ordered sequence: [?a ...]
	FindCollection
	// FindTuple returns a single fixed-width tuple: [?a ?b]
	FindTuple
	// FindScalar returns a single value: ?a .
	FindScalar
)

func (s FindShape) String() string {
	switch s {
	case FindRelation:
		return "relation"
	case FindCollection:
		return "collection"
	case FindTuple:
		return "tuple"
	case FindScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// FindSpec is the find clause: a shape plus its ordered elements.
type FindSpec struct {
	Shape    FindShape
	Elements []FindElement
}

// Variables returns the distinct variables mentioned by the find spec.
func (f FindSpec) Variables() []Symbol {
	seen := make(map[Symbol]bool)
	var out []Symbol
	for _, e := range f.Elements {
		v := e.Variable()
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func (f FindSpec) String() string {
	parts := make([]string, len(f.Elements))
	for i, e := range f.Elements {
		parts[i] = e.String()
	}
	body := strings.Join(parts, " ")
	switch f.Shape {
	case FindScalar:
		return body + " ."
	case FindCollection:
		return "[" + body + " ...]"
	case FindTuple:
		return "[" + body + "]"
	default:
		return body
	}
}

// FindElement is one projected element: a plain variable, an
// aggregate application, or a pull expression.
type FindElement interface {
	// Variable is the query variable the element projects from.
	Variable() Symbol
	String() string
}

// FindVariable projects a variable's value directly.
type FindVariable struct {
	Symbol Symbol
}

func (f FindVariable) Variable() Symbol { return f.Symbol }
func (f FindVariable) String() string   { return f.Symbol.String() }

// FindAggregate projects an aggregate over a variable: (count ?x).
type FindAggregate struct {
	Fn  string
	Arg Symbol
}

func (f FindAggregate) Variable() Symbol { return f.Arg }
func (f FindAggregate) String() string   { return fmt.Sprintf("(%s %s)", f.Fn, f.Arg) }

// FindPull projects a pull expansion of an entity variable:
// (pull ?e [:person/name :person/friends]).
type FindPull struct {
	Symbol  Symbol
	Pattern PullPattern
}

func (f FindPull) Variable() Symbol { return f.Symbol }
func (f FindPull) String() string   { return fmt.Sprintf("(pull %s %s)", f.Symbol, f.Pattern) }

// PullPattern selects the attributes a pull expression expands.
type PullPattern struct {
	// Wildcard expands every attribute present on the entity.
	Wildcard bool
	// Attrs lists explicit attribute idents to expand.
	Attrs []datalog.Keyword
}

func (p PullPattern) String() string {
	if p.Wildcard {
		return "[*]"
	}
	parts := make([]string, len(p.Attrs))
	for i, a := range p.Attrs {
		parts[i] = a.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// InputSpec declares one entry of the :in clause.
type InputSpec interface {
	inputSpec()
	String() string
}

// DatabaseInput is the store marker "$".
type DatabaseInput struct{}

func (DatabaseInput) inputSpec()     {}
func (DatabaseInput) String() string { return "$" }

// ScalarInput binds one variable to one caller-supplied value.
type ScalarInput struct {
	Symbol Symbol
}

func (s ScalarInput) inputSpec()     {}
func (s ScalarInput) String() string { return s.Symbol.String() }

// CollectionInput binds one variable to each of a sequence of values:
// [?x ...].
type CollectionInput struct {
	Symbol Symbol
}

func (c CollectionInput) inputSpec()     {}
func (c CollectionInput) String() string { return "[" + c.Symbol.String() + " ...]" }

// OrderDirection orders ascending or descending.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// OrderBy is a single ordering key.
type OrderBy struct {
	Variable  Symbol
	Direction OrderDirection
}

func (o OrderBy) String() string {
	if o.Direction == "" || o.Direction == OrderAsc {
		return o.Variable.String()
	}
	return fmt.Sprintf("[%s :desc]", o.Variable)
}

// Query is the parsed, typed form of one query.
type Query struct {
	Find    FindSpec
	In      []InputSpec
	With    []Symbol
	Where   []Clause
	OrderBy []OrderBy
	Limit   int // 0 means no limit
}

// InputVariables returns the variables declared by the :in clause.
func (q *Query) InputVariables() []Symbol {
	var out []Symbol
	for _, in := range q.In {
		switch spec := in.(type) {
		case ScalarInput:
			out = append(out, spec.Symbol)
		case CollectionInput:
			out = append(out, spec.Symbol)
		}
	}
	return out
}
