// Package algebra turns a parsed query into a typed constraint/join
// graph against one schema snapshot.
//
// File organization:
//   - types.go: ConjoiningClauses, constraints, operands, type sets
//   - algebrizer.go: entry point, inputs, pattern clauses
//   - predicates.go: predicate and function-binding clauses
//   - subclauses.go: not and or clauses
//   - projection.go: projection spec derivation
//   - errors.go: the compile-time error taxonomy
//
// Start with Algebrize() in algebrizer.go.
package algebra

import (
	"fmt"
	"strings"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/query"
)

// SourceAlias names one join of the generic fact table. Every pattern
// occurrence gets a fresh alias, so repeated attributes never collide.
type SourceAlias string

// Column is a physical column of the fact table.
type Column string

const (
	ColEntity    Column = "e"
	ColAttribute Column = "a"
	ColValue     Column = "v"
	ColTx        Column = "tx"
	ColTag       Column = "value_type_tag"
)

// QualifiedColumn is one column of one aliased join.
type QualifiedColumn struct {
	Alias  SourceAlias
	Column Column
}

func (q QualifiedColumn) String() string {
	return string(q.Alias) + "." + string(q.Column)
}

// TagColumn returns the column carrying this column's type tag.
// Entity, attribute, and tx columns always hold refs and have none.
func (q QualifiedColumn) TagColumn() (QualifiedColumn, bool) {
	switch q.Column {
	case ColEntity, ColAttribute, ColTx, ColTag:
		return QualifiedColumn{}, false
	case ColValue:
		return QualifiedColumn{q.Alias, ColTag}, true
	default:
		// Derived-table columns carry their tag in a sibling column.
		return QualifiedColumn{q.Alias, q.Column + "_t"}, true
	}
}

// TypeSet is a set of possible value types for a variable, represented
// as a bitmask over the ValueType discriminants.
type TypeSet uint16

const allTypesMask TypeSet = (1 << (datalog.TypeBytes + 1)) - 1

// AllTypes is the unconstrained set.
func AllTypes() TypeSet { return allTypesMask }

// TypeSetOf builds a set from explicit members.
func TypeSetOf(types ...datalog.ValueType) TypeSet {
	var s TypeSet
	for _, t := range types {
		s |= 1 << t
	}
	return s
}

// NumericTypes is the set a comparison operand may inhabit.
func NumericTypes() TypeSet {
	return TypeSetOf(datalog.TypeLong, datalog.TypeDouble)
}

// Intersect returns the common subset.
func (s TypeSet) Intersect(o TypeSet) TypeSet { return s & o }

// Union returns the combined set.
func (s TypeSet) Union(o TypeSet) TypeSet { return s | o }

// IsEmpty reports an unsatisfiable set.
func (s TypeSet) IsEmpty() bool { return s == 0 }

// Contains reports membership.
func (s TypeSet) Contains(t datalog.ValueType) bool { return s&(1<<t) != 0 }

// Single returns the sole member when the set has exactly one.
func (s TypeSet) Single() (datalog.ValueType, bool) {
	if s == 0 || s&(s-1) != 0 {
		return 0, false
	}
	for t := datalog.TypeRef; t <= datalog.TypeBytes; t++ {
		if s.Contains(t) {
			return t, true
		}
	}
	return 0, false
}

func (s TypeSet) String() string {
	if s == allTypesMask {
		return "{any}"
	}
	var parts []string
	for t := datalog.TypeRef; t <= datalog.TypeBytes; t++ {
		if s.Contains(t) {
			parts = append(parts, t.String())
		}
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Operand is a value position in a constraint: a column, a constant,
// or a computed expression.
type Operand interface {
	operand()
	String() string
}

// ColumnOperand references an aliased column.
type ColumnOperand struct {
	Col QualifiedColumn
}

func (ColumnOperand) operand()         {}
func (o ColumnOperand) String() string { return o.Col.String() }

// ValueOperand is a constant, passed as a bound parameter.
type ValueOperand struct {
	Value datalog.TypedValue
}

func (ValueOperand) operand()         {}
func (o ValueOperand) String() string { return o.Value.String() }

// ExprOperand is a computed scalar expression from a function binding.
type ExprOperand struct {
	Expr *Expr
}

func (ExprOperand) operand()         {}
func (o ExprOperand) String() string { return o.Expr.String() }

// Expr is a scalar expression tree: an operator applied to operands.
type Expr struct {
	Op   string
	Args []Operand
}

func (e *Expr) String() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = a.String()
	}
	return "(" + e.Op + " " + strings.Join(parts, " ") + ")"
}

// Constraint is one conjunct of the WHERE graph. The variants form a
// closed set matched exhaustively by the translator.
type Constraint interface {
	constraint()
	String() string
}

func (ColumnEquals) constraint()    {}
func (AttributeEquals) constraint() {}
func (EntityEquals) constraint()    {}
func (ValueEquals) constraint()     {}
func (TagEquals) constraint()       {}
func (InValues) constraint()        {}
func (Compare) constraint()         {}
func (NotExists) constraint()       {}
func (Exists) constraint()          {}
func (OrGroup) constraint()         {}

// ColumnEquals joins two column occurrences of one variable.
type ColumnEquals struct {
	Left  QualifiedColumn
	Right QualifiedColumn
}

func (c ColumnEquals) String() string { return c.Left.String() + " = " + c.Right.String() }

// AttributeEquals fixes a join's attribute column to an attribute entid.
type AttributeEquals struct {
	Alias SourceAlias
	ID    datalog.EntityID
}

func (c AttributeEquals) String() string {
	return fmt.Sprintf("%s.a = %d", c.Alias, int64(c.ID))
}

// EntityEquals fixes an entity-typed column to a known entity id.
type EntityEquals struct {
	Col QualifiedColumn
	ID  datalog.EntityID
}

func (c EntityEquals) String() string {
	return fmt.Sprintf("%s = %d", c.Col, int64(c.ID))
}

// ValueEquals fixes a value column to a constant.
type ValueEquals struct {
	Col   QualifiedColumn
	Value datalog.TypedValue
}

func (c ValueEquals) String() string { return c.Col.String() + " = " + c.Value.String() }

// TagEquals fixes a type tag column. Emitted when the stored tag is
// not already pinned by a known attribute.
type TagEquals struct {
	Col QualifiedColumn
	Tag datalog.ValueType
}

func (c TagEquals) String() string {
	return fmt.Sprintf("%s = %d", c.Col, uint8(c.Tag))
}

// InValues constrains a column to a collection input's values.
type InValues struct {
	Col    QualifiedColumn
	Values []datalog.TypedValue
}

func (c InValues) String() string {
	parts := make([]string, len(c.Values))
	for i, v := range c.Values {
		parts[i] = v.String()
	}
	return c.Col.String() + " in (" + strings.Join(parts, " ") + ")"
}

// Compare is a rendered predicate: left op right.
type Compare struct {
	Op    string // "=", "!=", "<", "<=", ">", ">="
	Left  Operand
	Right Operand
}

func (c Compare) String() string {
	return c.Left.String() + " " + c.Op + " " + c.Right.String()
}

// NotExists renders a not-clause as a correlated non-existence
// condition over an isolated sub-scope.
type NotExists struct {
	Sub *ConjoiningClauses
}

func (NotExists) String() string { return "not-exists(...)" }

// Exists renders a correlated existence condition over an isolated
// sub-scope. Used for or-branches that cannot share a single alias.
type Exists struct {
	Sub *ConjoiningClauses
}

func (Exists) String() string { return "exists(...)" }

// OrGroup is a disjunction of constraint conjunctions over shared
// aliases: (c11 AND c12) OR (c21) OR ...
type OrGroup struct {
	Alternatives [][]Constraint
}

func (o OrGroup) String() string {
	parts := make([]string, len(o.Alternatives))
	for i, alt := range o.Alternatives {
		inner := make([]string, len(alt))
		for j, c := range alt {
			inner[j] = c.String()
		}
		parts[i] = "(" + strings.Join(inner, " and ") + ")"
	}
	return strings.Join(parts, " or ")
}

// DerivedTable joins the union of several sub-scopes as one aliased
// source. Every branch projects the same ordered variable list: column
// i is f{i}, its type tag f{i}_t.
type DerivedTable struct {
	Alias    SourceAlias
	Vars     []query.Symbol
	Branches []*ConjoiningClauses
}

// ConjoiningClauses accumulates the AND of every processed clause: the
// joined aliases, per-variable column bindings and type sets, constant
// bindings, computed expressions, and the constraint conjunction.
type ConjoiningClauses struct {
	Aliases         []SourceAlias
	Derived         []DerivedTable
	Bindings        map[query.Symbol][]QualifiedColumn
	KnownTypes      map[query.Symbol]TypeSet
	ValueBound      map[query.Symbol]datalog.TypedValue
	CollectionBound map[query.Symbol][]datalog.TypedValue
	Computed        map[query.Symbol]*Expr
	Constraints     []Constraint

	// PendingTags holds tag columns of polymorphic bindings whose type
	// is still ambiguous; a later narrowing to one type pins them all.
	PendingTags map[query.Symbol][]QualifiedColumn

	// KnownEmpty marks a query proven to return nothing at compile
	// time; translation then skips statement generation entirely.
	KnownEmpty  bool
	EmptyReason string
}

func newCC() *ConjoiningClauses {
	return &ConjoiningClauses{
		Bindings:        make(map[query.Symbol][]QualifiedColumn),
		KnownTypes:      make(map[query.Symbol]TypeSet),
		ValueBound:      make(map[query.Symbol]datalog.TypedValue),
		CollectionBound: make(map[query.Symbol][]datalog.TypedValue),
		Computed:        make(map[query.Symbol]*Expr),
		PendingTags:     make(map[query.Symbol][]QualifiedColumn),
	}
}

// IsBound reports whether the variable is resolvable: column-bound,
// constant-bound, collection-bound, or computed.
func (cc *ConjoiningClauses) IsBound(sym query.Symbol) bool {
	if _, ok := cc.Bindings[sym]; ok {
		return true
	}
	if _, ok := cc.ValueBound[sym]; ok {
		return true
	}
	if _, ok := cc.CollectionBound[sym]; ok {
		return true
	}
	if _, ok := cc.Computed[sym]; ok {
		return true
	}
	return false
}

// PrimaryColumn returns the first recorded column for a variable.
func (cc *ConjoiningClauses) PrimaryColumn(sym query.Symbol) (QualifiedColumn, bool) {
	cols, ok := cc.Bindings[sym]
	if !ok || len(cols) == 0 {
		return QualifiedColumn{}, false
	}
	return cols[0], true
}

// Operand resolves a variable to the operand the translator should
// render: its column, its computed expression, or its constant.
func (cc *ConjoiningClauses) Operand(sym query.Symbol) (Operand, bool) {
	if col, ok := cc.PrimaryColumn(sym); ok {
		return ColumnOperand{Col: col}, true
	}
	if expr, ok := cc.Computed[sym]; ok {
		return ExprOperand{Expr: expr}, true
	}
	if v, ok := cc.ValueBound[sym]; ok {
		return ValueOperand{Value: v}, true
	}
	return nil, false
}

// TypeOf returns the variable's current type set.
func (cc *ConjoiningClauses) TypeOf(sym query.Symbol) TypeSet {
	if t, ok := cc.KnownTypes[sym]; ok {
		return t
	}
	return AllTypes()
}

// markEmpty records a compile-time proof of emptiness. The first
// reason wins.
func (cc *ConjoiningClauses) markEmpty(reason string) {
	if !cc.KnownEmpty {
		cc.KnownEmpty = true
		cc.EmptyReason = reason
	}
}

// ProjKind says how a projected element renders.
type ProjKind uint8

const (
	// ProjValue renders the variable's typed value.
	ProjValue ProjKind = iota
	// ProjEntity renders an entity reference (the type is known ref).
	ProjEntity
	// ProjPull expands the entity through a pull pattern.
	ProjPull
	// ProjAggregate renders an aggregate over the variable.
	ProjAggregate
)

// ProjElement is one projected output position.
type ProjElement struct {
	Var       query.Symbol
	Kind      ProjKind
	Aggregate string            // for ProjAggregate
	Pull      query.PullPattern // for ProjPull
	// FixedType is set when the variable's type is fully known, which
	// lets the projector skip the discriminant check.
	FixedType datalog.ValueType
	HasFixed  bool
}

// Projection is the derived output spec: shape, ordered elements, and
// the with-variables carried to preserve multiplicity.
type Projection struct {
	Shape    query.FindShape
	Elements []ProjElement
	With     []query.Symbol
}

// HasAggregates reports whether any element aggregates.
func (p Projection) HasAggregates() bool {
	for _, e := range p.Elements {
		if e.Kind == ProjAggregate {
			return true
		}
	}
	return false
}

// AlgebrizedQuery is the compiled form handed to the translator and
// the projector.
type AlgebrizedQuery struct {
	CC         *ConjoiningClauses
	Projection Projection
	OrderBy    []query.OrderBy
	Limit      int
}
