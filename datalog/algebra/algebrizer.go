package algebra

import (
	"fmt"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/query"
	"github.com/jmallove/datalith/datalog/schema"
)

// UniqueResolver resolves a (unique attribute, value) pair to the one
// entity holding it, if any. It backs the unique-attribute
// short-circuit, which is a pure optimization: results must be
// identical with or without a resolver.
type UniqueResolver interface {
	ResolveUnique(attr schema.Attribute, value datalog.TypedValue) (datalog.EntityID, bool, error)
}

// Inputs carries the caller-supplied bindings for the :in clause.
type Inputs struct {
	Scalars     map[query.Symbol]datalog.TypedValue
	Collections map[query.Symbol][]datalog.TypedValue
}

// NewInputs returns an empty input set.
func NewInputs() Inputs {
	return Inputs{
		Scalars:     make(map[query.Symbol]datalog.TypedValue),
		Collections: make(map[query.Symbol][]datalog.TypedValue),
	}
}

// Bind adds a scalar input binding.
func (in Inputs) Bind(sym query.Symbol, v datalog.TypedValue) Inputs {
	in.Scalars[sym] = v
	return in
}

// BindAll adds a collection input binding.
func (in Inputs) BindAll(sym query.Symbol, vs []datalog.TypedValue) Inputs {
	in.Collections[sym] = vs
	return in
}

// Options configures algebrization.
type Options struct {
	// Resolver enables the unique-attribute short circuit; nil
	// disables it.
	Resolver UniqueResolver
}

// Algebrize compiles an AST against one schema snapshot and a set of
// bound inputs. Every failure is compile-time; the first error in
// clause order is returned and no partial result is produced.
func Algebrize(q *query.Query, catalog schema.Catalog, inputs Inputs, opts Options) (*AlgebrizedQuery, error) {
	a := &algebrizer{catalog: catalog, opts: opts}
	cc := newCC()

	if err := a.seedInputs(cc, q, inputs); err != nil {
		return nil, err
	}

	for _, clause := range q.Where {
		if err := a.applyClause(cc, clause); err != nil {
			return nil, err
		}
	}

	projection, err := a.deriveProjection(cc, q)
	if err != nil {
		return nil, err
	}

	return &AlgebrizedQuery{
		CC:         cc,
		Projection: projection,
		OrderBy:    q.OrderBy,
		Limit:      q.Limit,
	}, nil
}

type algebrizer struct {
	catalog    schema.Catalog
	opts       Options
	aliasCount int
}

func (a *algebrizer) freshAlias() SourceAlias {
	alias := SourceAlias(fmt.Sprintf("datoms%02d", a.aliasCount))
	a.aliasCount++
	return alias
}

func (a *algebrizer) freshDerivedAlias() SourceAlias {
	alias := SourceAlias(fmt.Sprintf("or%02d", a.aliasCount))
	a.aliasCount++
	return alias
}

// seedInputs binds declared :in variables to their supplied values and
// rejects both missing and undeclared inputs.
func (a *algebrizer) seedInputs(cc *ConjoiningClauses, q *query.Query, inputs Inputs) error {
	declared := make(map[query.Symbol]bool)
	for _, in := range q.In {
		switch spec := in.(type) {
		case query.ScalarInput:
			declared[spec.Symbol] = true
			v, ok := inputs.Scalars[spec.Symbol]
			if !ok {
				return &UnboundVariableError{Var: spec.Symbol, Context: "in-binding"}
			}
			cc.ValueBound[spec.Symbol] = v
			if err := a.mergeType(cc, spec.Symbol, TypeSetOf(v.Type())); err != nil {
				return err
			}
		case query.CollectionInput:
			declared[spec.Symbol] = true
			vs, ok := inputs.Collections[spec.Symbol]
			if !ok {
				return &UnboundVariableError{Var: spec.Symbol, Context: "in-binding"}
			}
			if len(vs) == 0 {
				cc.markEmpty(fmt.Sprintf("empty collection input %s", spec.Symbol))
			}
			cc.CollectionBound[spec.Symbol] = vs
			var types TypeSet
			for _, v := range vs {
				types = types.Union(TypeSetOf(v.Type()))
			}
			if len(vs) > 0 {
				if err := a.mergeType(cc, spec.Symbol, types); err != nil {
					return err
				}
			}
		}
	}

	for sym := range inputs.Scalars {
		if !declared[sym] {
			return fmt.Errorf("input %s not declared in :in", sym)
		}
	}
	for sym := range inputs.Collections {
		if !declared[sym] {
			return fmt.Errorf("input %s not declared in :in", sym)
		}
	}
	return nil
}

// applyClause dispatches exhaustively over the clause variants.
func (a *algebrizer) applyClause(cc *ConjoiningClauses, clause query.Clause) error {
	switch c := clause.(type) {
	case *query.Pattern:
		return a.applyPattern(cc, c)
	case *query.Predicate:
		return a.applyPredicate(cc, c)
	case *query.FunctionBind:
		return a.applyFunctionBind(cc, c)
	case *query.NotClause:
		return a.applyNot(cc, c)
	case *query.OrClause:
		return a.applyOr(cc, c)
	default:
		return fmt.Errorf("unhandled clause type %T", clause)
	}
}

// applyPattern joins a fresh alias of the fact table and records the
// constraints and bindings the pattern's slots impose.
func (a *algebrizer) applyPattern(cc *ConjoiningClauses, p *query.Pattern) error {
	alias := a.freshAlias()
	cc.Aliases = append(cc.Aliases, alias)

	// Attribute slot first: a constant attribute narrows the value
	// slot's type through the schema.
	var attr *schema.Attribute
	switch elem := p.A.(type) {
	case query.Constant:
		kw, ok := elem.Value.Keyword()
		if !ok {
			return fmt.Errorf("attribute constant must be a keyword, got %s", elem.Value.Type())
		}
		found, err := a.catalog.Lookup(kw)
		if err != nil {
			return err
		}
		attr = &found
		cc.Constraints = append(cc.Constraints, AttributeEquals{Alias: alias, ID: attr.ID})
	case query.Variable:
		// A variable attribute joins against the generic attribute
		// index; the value slot stays unconstrained.
		if err := a.bindColumn(cc, elem.Name, QualifiedColumn{alias, ColAttribute}, TypeSetOf(datalog.TypeRef)); err != nil {
			return err
		}
	case query.Wildcard:
	}

	// Entity slot.
	switch elem := p.E.(type) {
	case query.Variable:
		if err := a.bindColumn(cc, elem.Name, QualifiedColumn{alias, ColEntity}, TypeSetOf(datalog.TypeRef)); err != nil {
			return err
		}
	case query.Constant:
		id, ok := elem.Value.Ref()
		if !ok {
			return fmt.Errorf("entity constant must be a reference, got %s", elem.Value.Type())
		}
		cc.Constraints = append(cc.Constraints, EntityEquals{Col: QualifiedColumn{alias, ColEntity}, ID: id})
	}

	// Value slot.
	switch elem := p.V.(type) {
	case query.Variable:
		types := AllTypes()
		if attr != nil {
			types = TypeSetOf(attr.ValueType)
		}
		if err := a.bindColumn(cc, elem.Name, QualifiedColumn{alias, ColValue}, types); err != nil {
			return err
		}
		a.trackValueTag(cc, elem.Name, QualifiedColumn{alias, ColValue}, attr != nil)
	case query.Constant:
		v := elem.Value
		if attr != nil {
			coerced, ok := coerceToAttribute(v, attr)
			if !ok {
				cc.markEmpty(fmt.Sprintf("constant %s can never match %s attribute %s",
					v, attr.ValueType, attr.Ident))
				return nil
			}
			v = coerced
		} else {
			cc.Constraints = append(cc.Constraints, TagEquals{Col: QualifiedColumn{alias, ColTag}, Tag: v.Type()})
		}
		cc.Constraints = append(cc.Constraints, ValueEquals{Col: QualifiedColumn{alias, ColValue}, Value: v})

		// Unique-attribute short circuit: a constant value for a
		// unique attribute names at most one entity, so downstream
		// joins can use the entity id directly.
		if attr != nil && attr.IsUnique() && a.opts.Resolver != nil {
			if evar, ok := p.E.(query.Variable); ok {
				if err := a.resolveUnique(cc, *attr, v, evar.Name); err != nil {
					return err
				}
			}
		}
	}

	// Transaction slot.
	if p.Tx != nil {
		switch elem := p.Tx.(type) {
		case query.Variable:
			if err := a.bindColumn(cc, elem.Name, QualifiedColumn{alias, ColTx}, TypeSetOf(datalog.TypeRef)); err != nil {
				return err
			}
		case query.Constant:
			id, ok := elem.Value.Ref()
			if !ok {
				return fmt.Errorf("transaction constant must be a reference, got %s", elem.Value.Type())
			}
			cc.Constraints = append(cc.Constraints, EntityEquals{Col: QualifiedColumn{alias, ColTx}, ID: id})
		}
	}

	return nil
}

func (a *algebrizer) resolveUnique(cc *ConjoiningClauses, attr schema.Attribute, v datalog.TypedValue, evar query.Symbol) error {
	id, found, err := a.opts.Resolver.ResolveUnique(attr, v)
	if err != nil {
		return fmt.Errorf("resolving unique %s: %w", attr.Ident, err)
	}
	if !found {
		cc.markEmpty(fmt.Sprintf("no entity has %s %s", attr.Ident, v))
		return nil
	}

	if bound, ok := cc.ValueBound[evar]; ok {
		if !bound.Equal(datalog.Ref(id)) {
			cc.markEmpty(fmt.Sprintf("%s cannot be both %s and %d", evar, bound, int64(id)))
		}
		return nil
	}
	cc.ValueBound[evar] = datalog.Ref(id)

	// Columns already recorded for the variable pick up the constant.
	for _, col := range cc.Bindings[evar] {
		cc.Constraints = append(cc.Constraints, EntityEquals{Col: col, ID: id})
	}
	return nil
}

// bindColumn records a column binding for a variable, narrows its
// type, and emits the equality constraints that keep every occurrence
// of the variable joined.
func (a *algebrizer) bindColumn(cc *ConjoiningClauses, sym query.Symbol, col QualifiedColumn, types TypeSet) error {
	if err := a.mergeType(cc, sym, types); err != nil {
		return err
	}

	if existing, ok := cc.PrimaryColumn(sym); ok {
		cc.Constraints = append(cc.Constraints, ColumnEquals{Left: existing, Right: col})
	}
	cc.Bindings[sym] = append(cc.Bindings[sym], col)

	if v, ok := cc.ValueBound[sym]; ok {
		if id, isRef := v.Ref(); isRef && col.Column != ColValue {
			cc.Constraints = append(cc.Constraints, EntityEquals{Col: col, ID: id})
		} else {
			cc.Constraints = append(cc.Constraints, ValueEquals{Col: col, Value: v})
		}
	}
	if vs, ok := cc.CollectionBound[sym]; ok && len(cc.Bindings[sym]) == 1 {
		cc.Constraints = append(cc.Constraints, InValues{Col: col, Values: vs})
	}
	return nil
}

// mergeType intersects a new constraint into the variable's type set,
// failing on contradiction. Narrowing to one type pins the tag of
// every earlier occurrence that joined the value column ambiguously.
func (a *algebrizer) mergeType(cc *ConjoiningClauses, sym query.Symbol, types TypeSet) error {
	existing := cc.TypeOf(sym)
	merged := existing.Intersect(types)
	if merged.IsEmpty() {
		return &TypeConflictError{Var: sym, Existing: existing, Proposed: types}
	}
	cc.KnownTypes[sym] = merged
	if t, single := merged.Single(); single {
		for _, tagCol := range cc.PendingTags[sym] {
			cc.Constraints = append(cc.Constraints, TagEquals{Col: tagCol, Tag: t})
		}
		delete(cc.PendingTags, sym)
	}
	return nil
}

// trackValueTag keeps joins on the polymorphic value column sound. A
// binding whose stored tag is not pinned by a known attribute either
// pins it (the variable's type is fully known) or joins its tag column
// against the variable's other ambiguous occurrences.
func (a *algebrizer) trackValueTag(cc *ConjoiningClauses, sym query.Symbol, col QualifiedColumn, pinned bool) {
	if pinned {
		return
	}
	tagCol, ok := col.TagColumn()
	if !ok {
		return
	}
	if t, single := cc.TypeOf(sym).Single(); single {
		cc.Constraints = append(cc.Constraints, TagEquals{Col: tagCol, Tag: t})
		return
	}
	if prev := cc.PendingTags[sym]; len(prev) > 0 {
		cc.Constraints = append(cc.Constraints, ColumnEquals{Left: prev[0], Right: tagCol})
	}
	cc.PendingTags[sym] = append(cc.PendingTags[sym], tagCol)
}

// coerceToAttribute adapts a constant literal to the attribute's
// declared type where a lossless interpretation exists.
func coerceToAttribute(v datalog.TypedValue, attr *schema.Attribute) (datalog.TypedValue, bool) {
	if v.Type() == attr.ValueType {
		return v, true
	}
	if i, ok := v.Long(); ok {
		switch attr.ValueType {
		case datalog.TypeRef:
			return datalog.Ref(datalog.EntityID(i)), true
		case datalog.TypeDouble:
			return datalog.Double(float64(i)), true
		}
	}
	return datalog.TypedValue{}, false
}
