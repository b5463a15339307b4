package parser

import (
	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/edn"
	"github.com/jmallove/datalith/datalog/query"
)

// parseFindSpec recognizes the four find shapes:
//
//	?a ?b        relation
//	[?a ...]     collection
//	[?a ?b]      tuple
//	?a .         scalar
func parseFindSpec(forms []edn.Node, at *edn.Node) (query.FindSpec, error) {
	if len(forms) == 0 {
		return query.FindSpec{}, errAt(":find", at, "empty find spec")
	}

	// Scalar: trailing '.' after exactly one element.
	if last := &forms[len(forms)-1]; last.IsSymbol(".") {
		if len(forms) != 2 {
			return query.FindSpec{}, errAt(":find", last, "scalar find spec takes exactly one element before '.'")
		}
		elem, err := parseFindElement(&forms[0])
		if err != nil {
			return query.FindSpec{}, err
		}
		return query.FindSpec{Shape: query.FindScalar, Elements: []query.FindElement{elem}}, nil
	}

	// Collection or tuple: a single bracketed form.
	if len(forms) == 1 && forms[0].Kind == edn.KindVector {
		inner := forms[0].Children
		if len(inner) == 0 {
			return query.FindSpec{}, errAt(":find", &forms[0], "empty find vector")
		}

		if inner[len(inner)-1].IsSymbol("...") {
			if len(inner) != 2 {
				return query.FindSpec{}, errAt(":find", &forms[0], "collection find spec takes exactly one element before '...'")
			}
			elem, err := parseFindElement(&inner[0])
			if err != nil {
				return query.FindSpec{}, err
			}
			return query.FindSpec{Shape: query.FindCollection, Elements: []query.FindElement{elem}}, nil
		}

		elems, err := parseFindElements(inner)
		if err != nil {
			return query.FindSpec{}, err
		}
		return query.FindSpec{Shape: query.FindTuple, Elements: elems}, nil
	}

	elems, err := parseFindElements(forms)
	if err != nil {
		return query.FindSpec{}, err
	}
	return query.FindSpec{Shape: query.FindRelation, Elements: elems}, nil
}

func parseFindElements(forms []edn.Node) ([]query.FindElement, error) {
	elems := make([]query.FindElement, 0, len(forms))
	for i := range forms {
		elem, err := parseFindElement(&forms[i])
		if err != nil {
			return nil, err
		}
		elems = append(elems, elem)
	}
	return elems, nil
}

func parseFindElement(n *edn.Node) (query.FindElement, error) {
	switch n.Kind {
	case edn.KindSymbol:
		sym := query.Symbol(n.Text)
		if !sym.IsVariable() {
			return nil, errAt(":find", n, "find element must be a variable, got %s", n.Text)
		}
		return query.FindVariable{Symbol: sym}, nil

	case edn.KindList:
		return parseFindApplication(n)

	default:
		return nil, errAt(":find", n, "find element must be a variable or application, got %s", n.Kind)
	}
}

// parseFindApplication handles (pull ?e [...]) and aggregates.
func parseFindApplication(n *edn.Node) (query.FindElement, error) {
	if len(n.Children) == 0 || n.Children[0].Kind != edn.KindSymbol {
		return nil, errAt(":find", n, "application must start with a function symbol")
	}
	fn := n.Children[0].Text

	if fn == "pull" {
		if len(n.Children) != 3 {
			return nil, errAt(":find", n, "pull takes a variable and an attribute pattern")
		}
		sym := query.Symbol(n.Children[1].Text)
		if n.Children[1].Kind != edn.KindSymbol || !sym.IsVariable() {
			return nil, errAt(":find", &n.Children[1], "pull subject must be a variable")
		}
		pattern, err := parsePullPattern(&n.Children[2])
		if err != nil {
			return nil, err
		}
		return query.FindPull{Symbol: sym, Pattern: pattern}, nil
	}

	meta, ok := query.DefaultRegistry.Lookup(fn)
	if !ok {
		return nil, &query.UnknownFunctionError{Fn: fn}
	}
	if meta.Kind != query.KindAggregate {
		return nil, errAt(":find", n, "%s is not usable in find position", fn)
	}
	if err := query.DefaultRegistry.Validate(fn, len(n.Children)-1); err != nil {
		return nil, err
	}
	arg := query.Symbol(n.Children[1].Text)
	if n.Children[1].Kind != edn.KindSymbol || !arg.IsVariable() {
		return nil, errAt(":find", &n.Children[1], "aggregate argument must be a variable")
	}
	return query.FindAggregate{Fn: fn, Arg: arg}, nil
}

func parsePullPattern(n *edn.Node) (query.PullPattern, error) {
	if n.Kind != edn.KindVector || len(n.Children) == 0 {
		return query.PullPattern{}, errAt(":find", n, "pull pattern must be a non-empty vector")
	}
	var pattern query.PullPattern
	for i := range n.Children {
		child := &n.Children[i]
		switch {
		case child.IsSymbol("*"):
			pattern.Wildcard = true
		case child.Kind == edn.KindKeyword:
			pattern.Attrs = append(pattern.Attrs, datalog.NewKeyword(child.Text))
		default:
			return query.PullPattern{}, errAt(":find", child, "pull pattern element must be an attribute keyword or *")
		}
	}
	return pattern, nil
}

func parseInputs(forms []edn.Node) ([]query.InputSpec, error) {
	inputs := make([]query.InputSpec, 0, len(forms))
	for i := range forms {
		n := &forms[i]
		switch {
		case n.IsSymbol("$"):
			inputs = append(inputs, query.DatabaseInput{})

		case n.Kind == edn.KindSymbol:
			sym := query.Symbol(n.Text)
			if !sym.IsVariable() {
				return nil, errAt(":in", n, "input must be $ or a variable, got %s", n.Text)
			}
			inputs = append(inputs, query.ScalarInput{Symbol: sym})

		case n.Kind == edn.KindVector:
			// Collection input [?x ...].
			if len(n.Children) != 2 || !n.Children[1].IsSymbol("...") || n.Children[0].Kind != edn.KindSymbol {
				return nil, errAt(":in", n, "input vector must have the form [?var ...]")
			}
			sym := query.Symbol(n.Children[0].Text)
			if !sym.IsVariable() {
				return nil, errAt(":in", n, "collection input must bind a variable")
			}
			inputs = append(inputs, query.CollectionInput{Symbol: sym})

		default:
			return nil, errAt(":in", n, "unsupported input form %s", n.Kind)
		}
	}
	return inputs, nil
}

func parseWith(forms []edn.Node) ([]query.Symbol, error) {
	syms := make([]query.Symbol, 0, len(forms))
	for i := range forms {
		n := &forms[i]
		sym := query.Symbol(n.Text)
		if n.Kind != edn.KindSymbol || !sym.IsVariable() {
			return nil, errAt(":with", n, "with element must be a variable")
		}
		syms = append(syms, sym)
	}
	return syms, nil
}

func parseOrderBy(forms []edn.Node, at *edn.Node) ([]query.OrderBy, error) {
	// Accept either a single vector of keys or bare keys. A two-form
	// vector [?var :dir] is itself a key, not a key list.
	keys := forms
	if len(forms) == 1 && forms[0].Kind == edn.KindVector && !isOrderPair(&forms[0]) {
		keys = forms[0].Children
	}
	if len(keys) == 0 {
		return nil, errAt(":order-by", at, "empty order-by")
	}

	out := make([]query.OrderBy, 0, len(keys))
	for i := range keys {
		n := &keys[i]
		switch n.Kind {
		case edn.KindSymbol:
			sym := query.Symbol(n.Text)
			if !sym.IsVariable() {
				return nil, errAt(":order-by", n, "order key must be a variable")
			}
			out = append(out, query.OrderBy{Variable: sym, Direction: query.OrderAsc})

		case edn.KindVector:
			if len(n.Children) != 2 || n.Children[0].Kind != edn.KindSymbol || n.Children[1].Kind != edn.KindKeyword {
				return nil, errAt(":order-by", n, "order key must be [?var :asc|:desc]")
			}
			sym := query.Symbol(n.Children[0].Text)
			var dir query.OrderDirection
			switch n.Children[1].Text {
			case ":asc":
				dir = query.OrderAsc
			case ":desc":
				dir = query.OrderDesc
			default:
				return nil, errAt(":order-by", &n.Children[1], "direction must be :asc or :desc, got %s", n.Children[1].Text)
			}
			out = append(out, query.OrderBy{Variable: sym, Direction: dir})

		default:
			return nil, errAt(":order-by", n, "order key must be a variable or [?var :dir]")
		}
	}
	return out, nil
}

func isOrderPair(n *edn.Node) bool {
	return len(n.Children) == 2 &&
		n.Children[0].Kind == edn.KindSymbol &&
		n.Children[1].Kind == edn.KindKeyword
}

func parseLimit(forms []edn.Node, at *edn.Node) (int, error) {
	if len(forms) != 1 {
		return 0, errAt(":limit", at, ":limit takes a single integer")
	}
	n, err := forms[0].Long()
	if err != nil {
		return 0, errAt(":limit", &forms[0], ":limit takes a single integer")
	}
	if n <= 0 {
		return 0, errAt(":limit", &forms[0], ":limit must be positive, got %d", n)
	}
	return int(n), nil
}
