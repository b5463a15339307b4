package parser

import (
	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/edn"
	"github.com/jmallove/datalith/datalog/query"
)

func parseWhere(forms []edn.Node) ([]query.Clause, error) {
	if len(forms) == 0 {
		return nil, &SyntaxError{Key: ":where", Msg: "empty where clause"}
	}
	clauses := make([]query.Clause, 0, len(forms))
	for i := range forms {
		clause, err := parseClause(&forms[i])
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

// parseClause dispatches on the clause's outer form: (not ...) and
// (or ...) lists, [(fn ...)] predicate vectors, [(fn ...) ?out]
// function bindings, and plain data patterns.
func parseClause(n *edn.Node) (query.Clause, error) {
	switch n.Kind {
	case edn.KindList:
		if len(n.Children) == 0 || n.Children[0].Kind != edn.KindSymbol {
			return nil, errAt(":where", n, "list clause must start with not or or")
		}
		switch n.Children[0].Text {
		case "not":
			return parseNot(n)
		case "or":
			return parseOr(n)
		default:
			return nil, errAt(":where", n, "unsupported list clause (%s ...)", n.Children[0].Text)
		}

	case edn.KindVector:
		if len(n.Children) > 0 && n.Children[0].Kind == edn.KindList {
			return parseApplicationClause(n)
		}
		return parsePattern(n)

	default:
		return nil, errAt(":where", n, "clause must be a vector or list, got %s", n.Kind)
	}
}

// parsePattern parses [e a v] or [e a v tx].
func parsePattern(n *edn.Node) (*query.Pattern, error) {
	if len(n.Children) < 3 || len(n.Children) > 4 {
		return nil, errAt(":where", n, "pattern must have 3 or 4 slots, got %d", len(n.Children))
	}

	e, err := parseSlot(&n.Children[0], slotEntity)
	if err != nil {
		return nil, err
	}
	a, err := parseSlot(&n.Children[1], slotAttribute)
	if err != nil {
		return nil, err
	}
	v, err := parseSlot(&n.Children[2], slotValue)
	if err != nil {
		return nil, err
	}

	p := &query.Pattern{E: e, A: a, V: v}
	if len(n.Children) == 4 {
		p.Tx, err = parseSlot(&n.Children[3], slotTx)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

type slotKind uint8

const (
	slotEntity slotKind = iota
	slotAttribute
	slotValue
	slotTx
)

// parseSlot parses one pattern slot. The slot position disambiguates
// integer literals: entity and tx slots hold references, value slots
// hold longs until the schema says otherwise.
func parseSlot(n *edn.Node, kind slotKind) (query.PatternElement, error) {
	if n.Kind == edn.KindSymbol {
		if n.Text == "_" {
			return query.Wildcard{}, nil
		}
		sym := query.Symbol(n.Text)
		if sym.IsVariable() {
			return query.Variable{Name: sym}, nil
		}
		return nil, errAt(":where", n, "invalid symbol %s in pattern", n.Text)
	}

	switch kind {
	case slotEntity, slotTx:
		if n.Kind == edn.KindLong {
			id, err := n.Long()
			if err != nil {
				return nil, errAt(":where", n, "malformed entity id %q", n.Text)
			}
			return query.Constant{Value: datalog.Ref(datalog.EntityID(id))}, nil
		}
		return nil, errAt(":where", n, "entity slot must be a variable, wildcard, or entity id")

	case slotAttribute:
		if n.Kind == edn.KindKeyword {
			return query.Constant{Value: datalog.KeywordValue(datalog.NewKeyword(n.Text))}, nil
		}
		return nil, errAt(":where", n, "attribute slot must be a variable, wildcard, or keyword")

	default: // slotValue
		val, err := parseLiteral(":where", n)
		if err != nil {
			return nil, err
		}
		return query.Constant{Value: val}, nil
	}
}

// parseApplicationClause parses [(fn args...)] predicates and
// [(fn args...) ?out] function bindings, validating arity against the
// builtin registry.
func parseApplicationClause(n *edn.Node) (query.Clause, error) {
	app := &n.Children[0]
	if len(app.Children) == 0 || app.Children[0].Kind != edn.KindSymbol {
		return nil, errAt(":where", app, "application must start with a function symbol")
	}
	fn := app.Children[0].Text

	meta, ok := query.DefaultRegistry.Lookup(fn)
	if !ok {
		return nil, &query.UnknownFunctionError{Fn: fn}
	}
	if err := query.DefaultRegistry.Validate(fn, len(app.Children)-1); err != nil {
		return nil, err
	}

	args := make([]query.PatternElement, 0, len(app.Children)-1)
	for i := 1; i < len(app.Children); i++ {
		arg, err := parseArgument(&app.Children[i])
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	switch len(n.Children) {
	case 1:
		if meta.Kind != query.KindPredicate {
			return nil, errAt(":where", n, "%s computes a value and requires a binding variable", fn)
		}
		return &query.Predicate{Fn: fn, Args: args}, nil

	case 2:
		binding := &n.Children[1]
		sym := query.Symbol(binding.Text)
		if binding.Kind != edn.KindSymbol || !sym.IsVariable() {
			return nil, errAt(":where", binding, "function binding must be a variable")
		}
		if meta.Kind != query.KindFunction {
			return nil, errAt(":where", n, "%s is a predicate and cannot bind a variable", fn)
		}
		return &query.FunctionBind{Fn: fn, Args: args, Binding: sym}, nil

	default:
		return nil, errAt(":where", n, "application clause must be [(fn ...)] or [(fn ...) ?out]")
	}
}

func parseArgument(n *edn.Node) (query.PatternElement, error) {
	if n.Kind == edn.KindSymbol {
		sym := query.Symbol(n.Text)
		if sym.IsVariable() {
			return query.Variable{Name: sym}, nil
		}
		return nil, errAt(":where", n, "invalid symbol %s in application", n.Text)
	}
	val, err := parseLiteral(":where", n)
	if err != nil {
		return nil, err
	}
	return query.Constant{Value: val}, nil
}

func parseNot(n *edn.Node) (*query.NotClause, error) {
	if len(n.Children) < 2 {
		return nil, errAt(":where", n, "not requires at least one sub-clause")
	}
	clauses := make([]query.Clause, 0, len(n.Children)-1)
	for i := 1; i < len(n.Children); i++ {
		c, err := parseClause(&n.Children[i])
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	return &query.NotClause{Clauses: clauses}, nil
}

func parseOr(n *edn.Node) (*query.OrClause, error) {
	if len(n.Children) < 2 {
		return nil, errAt(":where", n, "or requires at least one branch")
	}
	branches := make([][]query.Clause, 0, len(n.Children)-1)
	for i := 1; i < len(n.Children); i++ {
		b := &n.Children[i]

		// (and c1 c2 ...) groups a multi-clause branch.
		if b.Kind == edn.KindList && len(b.Children) > 0 && b.Children[0].IsSymbol("and") {
			branch := make([]query.Clause, 0, len(b.Children)-1)
			for j := 1; j < len(b.Children); j++ {
				c, err := parseClause(&b.Children[j])
				if err != nil {
					return nil, err
				}
				branch = append(branch, c)
			}
			if len(branch) == 0 {
				return nil, errAt(":where", b, "empty and branch")
			}
			branches = append(branches, branch)
			continue
		}

		c, err := parseClause(b)
		if err != nil {
			return nil, err
		}
		branches = append(branches, []query.Clause{c})
	}
	return &query.OrClause{Branches: branches}, nil
}
