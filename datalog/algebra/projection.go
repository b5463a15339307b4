package algebra

import (
	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/query"
)

// deriveProjection checks that every projected, carried, and ordering
// variable is bound, and records per-element type knowledge for the
// projector.
func (a *algebrizer) deriveProjection(cc *ConjoiningClauses, q *query.Query) (Projection, error) {
	elements := make([]ProjElement, 0, len(q.Find.Elements))
	for _, elem := range q.Find.Elements {
		pe, err := a.deriveElement(cc, elem)
		if err != nil {
			return Projection{}, err
		}
		elements = append(elements, pe)
	}

	for _, sym := range q.With {
		if !cc.IsBound(sym) {
			return Projection{}, &UnboundVariableError{Var: sym, Context: "with clause"}
		}
	}
	for _, ord := range q.OrderBy {
		if !cc.IsBound(ord.Variable) {
			return Projection{}, &UnboundVariableError{Var: ord.Variable, Context: "order-by"}
		}
	}

	return Projection{
		Shape:    q.Find.Shape,
		Elements: elements,
		With:     q.With,
	}, nil
}

func (a *algebrizer) deriveElement(cc *ConjoiningClauses, elem query.FindElement) (ProjElement, error) {
	switch e := elem.(type) {
	case query.FindVariable:
		if !cc.IsBound(e.Symbol) {
			return ProjElement{}, &UnboundVariableError{Var: e.Symbol, Context: "find spec"}
		}
		pe := ProjElement{Var: e.Symbol, Kind: ProjValue}
		if t, ok := cc.TypeOf(e.Symbol).Single(); ok {
			pe.FixedType = t
			pe.HasFixed = true
			if t == datalog.TypeRef {
				pe.Kind = ProjEntity
			}
		}
		return pe, nil

	case query.FindAggregate:
		if !cc.IsBound(e.Arg) {
			return ProjElement{}, &UnboundVariableError{Var: e.Arg, Context: "aggregate " + e.Fn}
		}
		pe := ProjElement{Var: e.Arg, Kind: ProjAggregate, Aggregate: e.Fn}
		if t, ok := cc.TypeOf(e.Arg).Single(); ok {
			pe.FixedType = t
			pe.HasFixed = true
		}
		return pe, nil

	case query.FindPull:
		if !cc.IsBound(e.Symbol) {
			return ProjElement{}, &UnboundVariableError{Var: e.Symbol, Context: "pull expression"}
		}
		if err := a.mergeType(cc, e.Symbol, TypeSetOf(datalog.TypeRef)); err != nil {
			return ProjElement{}, err
		}
		return ProjElement{
			Var:       e.Symbol,
			Kind:      ProjPull,
			Pull:      e.Pattern,
			FixedType: datalog.TypeRef,
			HasFixed:  true,
		}, nil

	default:
		return ProjElement{}, &UnsupportedPredicateError{Fn: "find", Reason: "unknown find element"}
	}
}
