// Package parser converts a generic structured value tree into the
// typed query AST. It is pure and deterministic: the same tree always
// yields the same AST or the same first error.
//
// Two surface forms are accepted for compatibility: the map form
// {:find [...] :in [...] :with [...] :where [...]} and the
// keyword-vector form [:find ... :where ...]. Both express the same
// query.
package parser

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/edn"
	"github.com/jmallove/datalith/datalog/query"
)

// SyntaxError reports a structurally invalid query, naming the clause
// key it occurred under when one is known.
type SyntaxError struct {
	Key  string // ":find", ":where", ... or "" when outside any clause
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("syntax error in %s at %d:%d: %s", e.Key, e.Line, e.Col, e.Msg)
	}
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Col, e.Msg)
}

func errAt(key string, n *edn.Node, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Key: key, Line: n.Line, Col: n.Col, Msg: fmt.Sprintf(format, args...)}
}

// Parse reads text and parses it into a query AST.
func Parse(text string) (*query.Query, error) {
	node, err := edn.Read(text)
	if err != nil {
		return nil, err
	}
	return ParseNode(node)
}

// ParseNode parses a structured value tree into a query AST.
func ParseNode(node *edn.Node) (*query.Query, error) {
	sections, err := splitSections(node)
	if err != nil {
		return nil, err
	}

	q := &query.Query{}
	seen := make(map[string]bool)
	for _, sec := range sections {
		if seen[sec.key] {
			return nil, errAt(sec.key, sec.at, "duplicate key %s", sec.key)
		}
		seen[sec.key] = true

		switch sec.key {
		case ":find":
			q.Find, err = parseFindSpec(sec.forms, sec.at)
		case ":in":
			q.In, err = parseInputs(sec.forms)
		case ":with":
			q.With, err = parseWith(sec.forms)
		case ":where":
			q.Where, err = parseWhere(sec.forms)
		case ":order-by":
			q.OrderBy, err = parseOrderBy(sec.forms, sec.at)
		case ":limit":
			q.Limit, err = parseLimit(sec.forms, sec.at)
		default:
			return nil, errAt(sec.key, sec.at, "unknown key %s", sec.key)
		}
		if err != nil {
			return nil, err
		}
	}

	if !seen[":find"] {
		return nil, errAt(":find", node, "missing key :find")
	}
	if !seen[":where"] {
		return nil, errAt(":where", node, "missing key :where")
	}
	return q, nil
}

// section is one keyword-headed clause and its body forms.
type section struct {
	key   string
	at    *edn.Node
	forms []edn.Node
}

// splitSections normalizes both surface forms into keyed sections. In
// map form each value is a vector of body forms; in vector form the
// body runs until the next keyword.
func splitSections(node *edn.Node) ([]section, error) {
	switch node.Kind {
	case edn.KindMap:
		entries, _ := node.MapEntries()
		sections := make([]section, 0, len(entries))
		for i := range entries {
			key := &entries[i][0]
			val := &entries[i][1]
			if key.Kind != edn.KindKeyword {
				return nil, errAt("", key, "query map key must be a keyword, got %s", key.Kind)
			}
			forms := val.Children
			if val.Kind != edn.KindVector {
				// :limit takes a bare value.
				forms = []edn.Node{*val}
			}
			sections = append(sections, section{key: key.Text, at: key, forms: forms})
		}
		return sections, nil

	case edn.KindVector:
		var sections []section
		i := 0
		for i < len(node.Children) {
			head := &node.Children[i]
			if head.Kind != edn.KindKeyword {
				return nil, errAt("", head, "expected clause keyword, got %s", head.Kind)
			}
			sec := section{key: head.Text, at: head}
			i++
			for i < len(node.Children) && node.Children[i].Kind != edn.KindKeyword {
				sec.forms = append(sec.forms, node.Children[i])
				i++
			}
			sections = append(sections, sec)
		}
		return sections, nil

	default:
		return nil, errAt("", node, "query must be a map or vector, got %s", node.Kind)
	}
}

// parseLiteral converts a literal node into a typed value. Tagged
// #inst and #uuid literals are resolved here.
func parseLiteral(key string, n *edn.Node) (datalog.TypedValue, error) {
	switch n.Kind {
	case edn.KindLong:
		i, err := n.Long()
		if err != nil {
			return datalog.TypedValue{}, errAt(key, n, "malformed integer %q", n.Text)
		}
		return datalog.Long(i), nil
	case edn.KindDouble:
		f, err := n.Double()
		if err != nil {
			return datalog.TypedValue{}, errAt(key, n, "malformed double %q", n.Text)
		}
		return datalog.Double(f), nil
	case edn.KindString:
		return datalog.String(n.Text), nil
	case edn.KindBool:
		return datalog.Boolean(n.Text == "true"), nil
	case edn.KindKeyword:
		return datalog.KeywordValue(datalog.NewKeyword(n.Text)), nil
	case edn.KindTagged:
		return parseTagged(key, n)
	default:
		return datalog.TypedValue{}, errAt(key, n, "unsupported literal %s", n.Kind)
	}
}

func parseTagged(key string, n *edn.Node) (datalog.TypedValue, error) {
	if n.Inner == nil || n.Inner.Kind != edn.KindString {
		return datalog.TypedValue{}, errAt(key, n, "#%s expects a string form", n.Tag)
	}
	switch n.Tag {
	case "inst":
		t, err := time.Parse(time.RFC3339Nano, n.Inner.Text)
		if err != nil {
			return datalog.TypedValue{}, errAt(key, n, "malformed #inst %q", n.Inner.Text)
		}
		return datalog.Instant(t), nil
	case "uuid":
		u, err := uuid.Parse(n.Inner.Text)
		if err != nil {
			return datalog.TypedValue{}, errAt(key, n, "malformed #uuid %q", n.Inner.Text)
		}
		return datalog.UUID(u), nil
	default:
		return datalog.TypedValue{}, errAt(key, n, "unknown reader tag #%s", n.Tag)
	}
}
