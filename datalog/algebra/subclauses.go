package algebra

import (
	"fmt"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/query"
	"github.com/jmallove/datalith/datalog/schema"
)

// applyNot compiles a not-clause into a correlated non-existence
// condition. Body variables restrict rather than bind, so every
// variable the body mentions must already be bound outside.
func (a *algebrizer) applyNot(cc *ConjoiningClauses, n *query.NotClause) error {
	for _, sym := range n.BodyVariables() {
		if !cc.IsBound(sym) {
			return &UnboundVariableError{Var: sym, Context: "not clause"}
		}
	}

	sub, err := a.subScope(cc, n.Clauses)
	if err != nil {
		return err
	}
	if sub.KnownEmpty {
		// A provably empty body excludes nothing.
		return nil
	}

	a.correlate(cc, sub)
	cc.Constraints = append(cc.Constraints, NotExists{Sub: sub})
	return nil
}

// applyOr compiles a disjunction. Every branch must bind the same
// variable set. Branches of single patterns with matching variable
// placement share one alias; branches whose variables are all bound
// outside become correlated existence alternatives; branches that
// themselves bind join as the union of their projections.
func (a *algebrizer) applyOr(cc *ConjoiningClauses, o *query.OrClause) error {
	if len(o.Branches) == 0 {
		return &UnsupportedPredicateError{Fn: "or", Reason: "no branches"}
	}

	base := symbolSet(o.BranchVariables(0))
	for i := 1; i < len(o.Branches); i++ {
		other := symbolSet(o.BranchVariables(i))
		for sym := range base {
			if !other[sym] {
				return &UnboundVariableError{Var: sym, Context: "or clause branch"}
			}
		}
		for sym := range other {
			if !base[sym] {
				return &UnboundVariableError{Var: sym, Context: "or clause branch"}
			}
		}
	}

	if patterns, ok := simpleOrBranches(o); ok {
		return a.applySimpleOr(cc, patterns)
	}

	for sym := range base {
		if !cc.IsBound(sym) {
			return a.applyUnionOr(cc, o)
		}
	}

	// Every branch variable is bound outside: the or restricts rather
	// than binds.
	alternatives := make([][]Constraint, 0, len(o.Branches))
	for _, branch := range o.Branches {
		sub, err := a.subScope(cc, branch)
		if err != nil {
			return err
		}
		if sub.KnownEmpty {
			continue
		}
		a.correlate(cc, sub)
		alternatives = append(alternatives, []Constraint{Exists{Sub: sub}})
	}
	if len(alternatives) == 0 {
		cc.markEmpty("every or branch is provably empty")
		return nil
	}
	cc.Constraints = append(cc.Constraints, OrGroup{Alternatives: alternatives})
	return nil
}

// applyUnionOr lowers a binding disjunction as a derived table: each
// branch compiles in isolation and projects the shared variable set;
// the branches union, and the outer scope binds the union's columns
// like any other source. Correlation back to outer columns happens
// outside the union, so branches may not reference outer-only
// variables.
func (a *algebrizer) applyUnionOr(cc *ConjoiningClauses, o *query.OrClause) error {
	vars := o.BranchVariables(0)
	alias := a.freshDerivedAlias()

	types := make([]TypeSet, len(vars))
	branches := make([]*ConjoiningClauses, 0, len(o.Branches))
	for _, branch := range o.Branches {
		sub, err := a.subScope(cc, branch)
		if err != nil {
			return err
		}
		if sub.KnownEmpty {
			continue
		}
		for i, sym := range vars {
			if _, ok := sub.Operand(sym); !ok {
				return &UnboundVariableError{Var: sym, Context: "or clause branch"}
			}
			types[i] = types[i].Union(sub.TypeOf(sym))
		}
		branches = append(branches, sub)
	}
	if len(branches) == 0 {
		cc.markEmpty("every or branch is provably empty")
		return nil
	}

	cc.Derived = append(cc.Derived, DerivedTable{Alias: alias, Vars: vars, Branches: branches})
	for i, sym := range vars {
		col := QualifiedColumn{alias, Column(fmt.Sprintf("f%d", i))}
		if err := a.bindColumn(cc, sym, col, types[i]); err != nil {
			return err
		}
		a.trackValueTag(cc, sym, col, false)
	}
	return nil
}

// simpleOrBranches reports whether every branch is a lone pattern with
// variables in identical slots, which lets the branches share one
// alias.
func simpleOrBranches(o *query.OrClause) ([]*query.Pattern, bool) {
	patterns := make([]*query.Pattern, 0, len(o.Branches))
	for _, branch := range o.Branches {
		if len(branch) != 1 {
			return nil, false
		}
		p, ok := branch[0].(*query.Pattern)
		if !ok {
			return nil, false
		}
		patterns = append(patterns, p)
	}

	first := patterns[0]
	for _, p := range patterns[1:] {
		if !sameSlotVariable(first.E, p.E) ||
			!sameSlotVariable(first.A, p.A) ||
			!sameSlotVariable(first.V, p.V) ||
			!sameSlotVariable(first.Tx, p.Tx) {
			return nil, false
		}
	}
	return patterns, true
}

func sameSlotVariable(a, b query.PatternElement) bool {
	av, aIsVar := a.(query.Variable)
	bv, bIsVar := b.(query.Variable)
	if aIsVar != bIsVar {
		return false
	}
	return !aIsVar || av.Name == bv.Name
}

// applySimpleOr joins one shared alias and turns each branch's constant
// slots into one alternative of an OrGroup.
func (a *algebrizer) applySimpleOr(cc *ConjoiningClauses, patterns []*query.Pattern) error {
	alias := a.freshAlias()
	cc.Aliases = append(cc.Aliases, alias)

	branchAttrs := make([]*schema.Attribute, len(patterns))
	for i, p := range patterns {
		if c, ok := p.A.(query.Constant); ok {
			kw, isKw := c.Value.Keyword()
			if !isKw {
				return &UnsupportedPredicateError{Fn: "or", Reason: "attribute constant must be a keyword"}
			}
			attr, err := a.catalog.Lookup(kw)
			if err != nil {
				return err
			}
			branchAttrs[i] = &attr
		}
	}

	// Bind the shared variable slots with the union of per-branch types.
	first := patterns[0]
	if v, ok := first.E.(query.Variable); ok {
		if err := a.bindColumn(cc, v.Name, QualifiedColumn{alias, ColEntity}, TypeSetOf(datalog.TypeRef)); err != nil {
			return err
		}
	}
	if v, ok := first.A.(query.Variable); ok {
		if err := a.bindColumn(cc, v.Name, QualifiedColumn{alias, ColAttribute}, TypeSetOf(datalog.TypeRef)); err != nil {
			return err
		}
	}
	if v, ok := first.V.(query.Variable); ok {
		var types TypeSet
		for _, attr := range branchAttrs {
			if attr == nil {
				types = AllTypes()
				break
			}
			types = types.Union(TypeSetOf(attr.ValueType))
		}
		if err := a.bindColumn(cc, v.Name, QualifiedColumn{alias, ColValue}, types); err != nil {
			return err
		}
		// The shared alias's tag varies per branch, so it is never
		// pinned by one attribute.
		a.trackValueTag(cc, v.Name, QualifiedColumn{alias, ColValue}, false)
	}
	if v, ok := first.Tx.(query.Variable); ok {
		if err := a.bindColumn(cc, v.Name, QualifiedColumn{alias, ColTx}, TypeSetOf(datalog.TypeRef)); err != nil {
			return err
		}
	}

	alternatives := make([][]Constraint, 0, len(patterns))
	for i, p := range patterns {
		group, ok, err := branchConstraints(alias, p, branchAttrs[i])
		if err != nil {
			return err
		}
		if !ok {
			// This branch can never match; the others still can.
			continue
		}
		alternatives = append(alternatives, group)
	}
	if len(alternatives) == 0 {
		cc.markEmpty("every or branch is provably empty")
		return nil
	}
	cc.Constraints = append(cc.Constraints, OrGroup{Alternatives: alternatives})
	return nil
}

// branchConstraints collects the constant-slot constraints of one
// branch against the shared alias. ok is false when the branch is
// provably unsatisfiable.
func branchConstraints(alias SourceAlias, p *query.Pattern, attr *schema.Attribute) ([]Constraint, bool, error) {
	var group []Constraint

	if attr != nil {
		group = append(group, AttributeEquals{Alias: alias, ID: attr.ID})
	}
	if c, ok := p.E.(query.Constant); ok {
		id, isRef := c.Value.Ref()
		if !isRef {
			return nil, false, &UnsupportedPredicateError{Fn: "or", Reason: "entity constant must be a reference"}
		}
		group = append(group, EntityEquals{Col: QualifiedColumn{alias, ColEntity}, ID: id})
	}
	if c, ok := p.V.(query.Constant); ok {
		v := c.Value
		if attr != nil {
			coerced, fits := coerceToAttribute(v, attr)
			if !fits {
				return nil, false, nil
			}
			v = coerced
		} else {
			group = append(group, TagEquals{Col: QualifiedColumn{alias, ColTag}, Tag: v.Type()})
		}
		group = append(group, ValueEquals{Col: QualifiedColumn{alias, ColValue}, Value: v})
	}
	if c, ok := p.Tx.(query.Constant); ok {
		id, isRef := c.Value.Ref()
		if !isRef {
			return nil, false, &UnsupportedPredicateError{Fn: "or", Reason: "transaction constant must be a reference"}
		}
		group = append(group, EntityEquals{Col: QualifiedColumn{alias, ColTx}, ID: id})
	}
	return group, true, nil
}

// subScope algebrizes clauses into an isolated accumulator seeded with
// the outer scope's constants and type knowledge. Aliases stay unique
// across scopes through the shared counter.
func (a *algebrizer) subScope(outer *ConjoiningClauses, clauses []query.Clause) (*ConjoiningClauses, error) {
	sub := newCC()
	for sym, t := range outer.KnownTypes {
		sub.KnownTypes[sym] = t
	}
	for sym, v := range outer.ValueBound {
		sub.ValueBound[sym] = v
	}
	for sym, vs := range outer.CollectionBound {
		sub.CollectionBound[sym] = vs
	}

	for _, clause := range clauses {
		if err := a.applyClause(sub, clause); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// correlate ties a sub-scope's variable columns back to the outer
// scope's columns for every shared variable. Value columns whose type
// is not fully pinned on both sides also tie their tag columns, so the
// correlation never matches raw encodings across types.
func (a *algebrizer) correlate(outer, sub *ConjoiningClauses) {
	for sym := range sub.Bindings {
		outerCol, ok := outer.PrimaryColumn(sym)
		if !ok {
			continue
		}
		subCol, ok := sub.PrimaryColumn(sym)
		if !ok {
			continue
		}
		sub.Constraints = append(sub.Constraints, ColumnEquals{Left: outerCol, Right: subCol})

		outerTag, outerHas := outerCol.TagColumn()
		subTag, subHas := subCol.TagColumn()
		if !outerHas || !subHas {
			continue
		}
		_, outerSingle := outer.TypeOf(sym).Single()
		_, subSingle := sub.TypeOf(sym).Single()
		if outerSingle && subSingle {
			continue
		}
		sub.Constraints = append(sub.Constraints, ColumnEquals{Left: outerTag, Right: subTag})
	}
}

func symbolSet(syms []query.Symbol) map[query.Symbol]bool {
	set := make(map[query.Symbol]bool, len(syms))
	for _, s := range syms {
		set[s] = true
	}
	return set
}
