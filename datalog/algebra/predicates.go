package algebra

import (
	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/query"
)

// applyPredicate renders a comparison predicate as a constraint over
// already-bound operands. Predicates filter; they never bind.
func (a *algebrizer) applyPredicate(cc *ConjoiningClauses, p *query.Predicate) error {
	left, leftTypes, err := a.operandFor(cc, p.Args[0], "predicate "+p.Fn)
	if err != nil {
		return err
	}
	right, rightTypes, err := a.operandFor(cc, p.Args[1], "predicate "+p.Fn)
	if err != nil {
		return err
	}

	switch p.Fn {
	case "<", "<=", ">", ">=":
		// Ordering comparisons require numeric operands on both sides.
		for i, arg := range p.Args {
			types := leftTypes
			if i == 1 {
				types = rightTypes
			}
			if types.Intersect(NumericTypes()).IsEmpty() {
				return &UnsupportedPredicateError{
					Fn:     p.Fn,
					Reason: "arguments must be numeric, got " + types.String(),
				}
			}
			if v, ok := arg.(query.Variable); ok {
				if err := a.mergeType(cc, v.Name, NumericTypes()); err != nil {
					return err
				}
			}
		}

	case "=", "!=":
		// Equality narrows both sides to their common types.
		if leftTypes.Intersect(rightTypes).IsEmpty() {
			cc.markEmpty("comparison " + p.String() + " can never hold")
			return nil
		}
		for i, arg := range p.Args {
			other := rightTypes
			if i == 1 {
				other = leftTypes
			}
			if v, ok := arg.(query.Variable); ok && p.Fn == "=" {
				if err := a.mergeType(cc, v.Name, other); err != nil {
					return err
				}
			}
		}

	default:
		return &UnsupportedPredicateError{Fn: p.Fn, Reason: "not renderable as a constraint"}
	}

	cc.Constraints = append(cc.Constraints, Compare{Op: p.Fn, Left: left, Right: right})
	return nil
}

// applyFunctionBind evaluates a computed binding. ground aliases a
// constant or an existing binding; the arithmetic functions build an
// expression over numeric operands.
func (a *algebrizer) applyFunctionBind(cc *ConjoiningClauses, f *query.FunctionBind) error {
	if f.Fn == "ground" {
		return a.applyGround(cc, f)
	}

	args := make([]Operand, 0, len(f.Args))
	resultTypes := TypeSetOf(datalog.TypeLong)
	for _, arg := range f.Args {
		op, types, err := a.operandFor(cc, arg, "function "+f.Fn)
		if err != nil {
			return err
		}
		if types.Intersect(NumericTypes()).IsEmpty() {
			return &UnsupportedPredicateError{
				Fn:     f.Fn,
				Reason: "arguments must be numeric, got " + types.String(),
			}
		}
		if v, ok := arg.(query.Variable); ok {
			if err := a.mergeType(cc, v.Name, NumericTypes()); err != nil {
				return err
			}
		}
		if types.Contains(datalog.TypeDouble) {
			resultTypes = NumericTypes()
		}
		args = append(args, op)
	}

	expr := &Expr{Op: f.Fn, Args: args}
	return a.bindComputed(cc, f.Binding, expr, resultTypes)
}

// applyGround binds a variable to a literal or aliases another binding.
func (a *algebrizer) applyGround(cc *ConjoiningClauses, f *query.FunctionBind) error {
	switch arg := f.Args[0].(type) {
	case query.Constant:
		if bound, ok := cc.ValueBound[f.Binding]; ok {
			if !bound.Equal(arg.Value) {
				cc.markEmpty(f.Binding.String() + " cannot hold two distinct constants")
			}
			return nil
		}
		if err := a.mergeType(cc, f.Binding, TypeSetOf(arg.Value.Type())); err != nil {
			return err
		}
		if cols, ok := cc.Bindings[f.Binding]; ok {
			for _, col := range cols {
				cc.Constraints = append(cc.Constraints, ValueEquals{Col: col, Value: arg.Value})
			}
			return nil
		}
		cc.ValueBound[f.Binding] = arg.Value
		return nil

	case query.Variable:
		op, types, err := a.operandFor(cc, arg, "function ground")
		if err != nil {
			return err
		}
		return a.bindComputed(cc, f.Binding, &Expr{Op: "ground", Args: []Operand{op}}, types)

	default:
		return &UnsupportedPredicateError{Fn: "ground", Reason: "argument must be a literal or variable"}
	}
}

// bindComputed records an expression as a variable's binding, or
// constrains an existing binding to equal it.
func (a *algebrizer) bindComputed(cc *ConjoiningClauses, sym query.Symbol, expr *Expr, types TypeSet) error {
	if existing, ok := cc.Operand(sym); ok {
		if err := a.mergeType(cc, sym, types); err != nil {
			return err
		}
		cc.Constraints = append(cc.Constraints, Compare{Op: "=", Left: existing, Right: ExprOperand{Expr: expr}})
		return nil
	}
	if err := a.mergeType(cc, sym, types); err != nil {
		return err
	}
	cc.Computed[sym] = expr
	return nil
}

// operandFor resolves an application argument to an operand and its
// type set. Variables must already be bound.
func (a *algebrizer) operandFor(cc *ConjoiningClauses, elem query.PatternElement, context string) (Operand, TypeSet, error) {
	switch arg := elem.(type) {
	case query.Variable:
		op, ok := cc.Operand(arg.Name)
		if !ok {
			return nil, 0, &UnboundVariableError{Var: arg.Name, Context: context}
		}
		return op, cc.TypeOf(arg.Name), nil
	case query.Constant:
		return ValueOperand{Value: arg.Value}, TypeSetOf(arg.Value.Type()), nil
	default:
		return nil, 0, &UnsupportedPredicateError{Fn: context, Reason: "wildcard argument"}
	}
}
