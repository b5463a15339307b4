// Package pull expands entities into attribute/value trees. A pull
// pattern selects attributes; component references recurse into child
// entities up to a depth bound, with cycle protection along the path.
package pull

import (
	"fmt"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/query"
	"github.com/jmallove/datalith/datalog/schema"
)

// DefaultMaxDepth bounds component recursion when no explicit bound is
// configured.
const DefaultMaxDepth = 10

// Fact is one asserted attribute/value pair of an entity.
type Fact struct {
	Attr  schema.Attribute
	Value datalog.TypedValue
}

// Backend supplies the current facts of one entity. Implementations
// read from live storage; results reflect the state at call time.
type Backend interface {
	EntityFacts(id datalog.EntityID) ([]Fact, error)
}

// Entry is one value of an attribute, with the expanded child entity
// when the attribute is a component reference.
type Entry struct {
	Value datalog.TypedValue
	Child *Node
}

// Node is the pulled form of one entity.
type Node struct {
	Entity datalog.EntityID
	Attrs  map[datalog.Keyword][]Entry
}

// Engine evaluates pull patterns against a backend.
type Engine struct {
	backend  Backend
	maxDepth int
}

// NewEngine builds an engine; maxDepth <= 0 selects DefaultMaxDepth.
func NewEngine(backend Backend, maxDepth int) *Engine {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Engine{backend: backend, maxDepth: maxDepth}
}

// Pull expands one entity through the pattern.
func (e *Engine) Pull(id datalog.EntityID, pattern query.PullPattern) (*Node, error) {
	return e.pull(id, pattern, 0, map[datalog.EntityID]bool{})
}

func (e *Engine) pull(id datalog.EntityID, pattern query.PullPattern, depth int, path map[datalog.EntityID]bool) (*Node, error) {
	facts, err := e.backend.EntityFacts(id)
	if err != nil {
		return nil, fmt.Errorf("pulling entity %d: %w", int64(id), err)
	}

	node := &Node{Entity: id, Attrs: make(map[datalog.Keyword][]Entry)}
	path[id] = true
	defer delete(path, id)

	for _, fact := range facts {
		if !pattern.Wildcard && !patternHas(pattern, fact.Attr.Ident) {
			continue
		}

		entry := Entry{Value: fact.Value}
		if fact.Attr.Component {
			if child, ok := fact.Value.Ref(); ok && depth+1 < e.maxDepth && !path[child] {
				// Components expand with a wildcard; explicit patterns
				// select top-level attributes only.
				sub, err := e.pull(child, query.PullPattern{Wildcard: true}, depth+1, path)
				if err != nil {
					return nil, err
				}
				entry.Child = sub
			}
		}
		node.Attrs[fact.Attr.Ident] = append(node.Attrs[fact.Attr.Ident], entry)
	}
	return node, nil
}

func patternHas(pattern query.PullPattern, ident datalog.Keyword) bool {
	for _, a := range pattern.Attrs {
		if a == ident {
			return true
		}
	}
	return false
}
