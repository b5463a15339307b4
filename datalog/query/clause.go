package query

import (
	"fmt"
	"strings"
)

// Clause is anything that can appear in a query's :where clause. The
// variants are a closed set so the algebrizer can match exhaustively.
type Clause interface {
	clause()
	// Variables returns the distinct variables the clause can bind,
	// in slot order.
	Variables() []Symbol
	String() string
}

func (*Pattern) clause()      {}
func (*Predicate) clause()    {}
func (*FunctionBind) clause() {}
func (*NotClause) clause()    {}
func (*OrClause) clause()     {}

// Pattern is a data pattern [e a v] or [e a v tx]. A nil Tx means the
// transaction slot was omitted.
type Pattern struct {
	E  PatternElement
	A  PatternElement
	V  PatternElement
	Tx PatternElement
}

// Slots returns the present slots in e/a/v/tx order.
func (p *Pattern) Slots() []PatternElement {
	slots := []PatternElement{p.E, p.A, p.V}
	if p.Tx != nil {
		slots = append(slots, p.Tx)
	}
	return slots
}

func (p *Pattern) Variables() []Symbol {
	return variablesOf(p.Slots())
}

func (p *Pattern) String() string {
	parts := make([]string, 0, 4)
	for _, s := range p.Slots() {
		parts = append(parts, s.String())
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Predicate is a boolean builtin application: [(< ?age 30)].
type Predicate struct {
	Fn   string
	Args []PatternElement
}

func (p *Predicate) Variables() []Symbol {
	return variablesOf(p.Args)
}

func (p *Predicate) String() string {
	return "[(" + p.Fn + " " + joinElements(p.Args) + ")]"
}

// FunctionBind applies a builtin and binds its result to a fresh
// variable: [(+ ?a 1) ?b].
type FunctionBind struct {
	Fn      string
	Args    []PatternElement
	Binding Symbol
}

func (f *FunctionBind) Variables() []Symbol {
	vars := variablesOf(f.Args)
	return appendUnique(vars, f.Binding)
}

func (f *FunctionBind) String() string {
	return fmt.Sprintf("[(%s %s) %s]", f.Fn, joinElements(f.Args), f.Binding)
}

// NotClause negates a conjunction of sub-clauses. The body may only
// reference variables bound outside the not.
type NotClause struct {
	Clauses []Clause
}

// Variables returns nothing: a not-clause constrains but never binds.
func (n *NotClause) Variables() []Symbol { return nil }

// BodyVariables returns the variables referenced inside the body.
func (n *NotClause) BodyVariables() []Symbol {
	var out []Symbol
	for _, c := range n.Clauses {
		for _, v := range c.Variables() {
			out = appendUnique(out, v)
		}
	}
	return out
}

func (n *NotClause) String() string {
	parts := make([]string, len(n.Clauses))
	for i, c := range n.Clauses {
		parts[i] = c.String()
	}
	return "(not " + strings.Join(parts, " ") + ")"
}

// OrClause holds alternative branches, each a conjunction. Every
// branch must bind the identical variable set.
type OrClause struct {
	Branches [][]Clause
}

// Variables returns the variables of the first branch; algebrization
// verifies every branch agrees.
func (o *OrClause) Variables() []Symbol {
	if len(o.Branches) == 0 {
		return nil
	}
	var out []Symbol
	for _, c := range o.Branches[0] {
		for _, v := range c.Variables() {
			out = appendUnique(out, v)
		}
	}
	return out
}

// BranchVariables returns the distinct variable set bound by branch i.
func (o *OrClause) BranchVariables(i int) []Symbol {
	var out []Symbol
	for _, c := range o.Branches[i] {
		for _, v := range c.Variables() {
			out = appendUnique(out, v)
		}
	}
	return out
}

func (o *OrClause) String() string {
	parts := make([]string, 0, len(o.Branches))
	for _, branch := range o.Branches {
		if len(branch) == 1 {
			parts = append(parts, branch[0].String())
			continue
		}
		inner := make([]string, len(branch))
		for i, c := range branch {
			inner[i] = c.String()
		}
		parts = append(parts, "(and "+strings.Join(inner, " ")+")")
	}
	return "(or " + strings.Join(parts, " ") + ")"
}

func variablesOf(elems []PatternElement) []Symbol {
	var out []Symbol
	for _, e := range elems {
		if v, ok := e.(Variable); ok {
			out = appendUnique(out, v.Name)
		}
	}
	return out
}

func appendUnique(syms []Symbol, s Symbol) []Symbol {
	for _, existing := range syms {
		if existing == s {
			return syms
		}
	}
	return append(syms, s)
}

func joinElements(elems []PatternElement) string {
	parts := make([]string, len(elems))
	for i, e := range elems {
		parts[i] = e.String()
	}
	return strings.Join(parts, " ")
}
