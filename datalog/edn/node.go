// Package edn reads interchange notation into a generic structured
// value tree. It is the "raw value parser" collaborator of the query
// pipeline: the query parser consumes Nodes, never raw text.
package edn

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the node variants.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindLong
	KindDouble
	KindString
	KindSymbol
	KindKeyword
	KindList
	KindVector
	KindMap
	KindSet
	KindTagged
)

// String returns a short name for the kind, used in error messages.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindSymbol:
		return "symbol"
	case KindKeyword:
		return "keyword"
	case KindList:
		return "list"
	case KindVector:
		return "vector"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	case KindTagged:
		return "tagged"
	default:
		return "unknown"
	}
}

// Node is one value in the tree. Atoms keep their source text in Text;
// collections hold Children (maps as alternating key/value pairs);
// tagged literals keep the tag name and the tagged form.
type Node struct {
	Kind     Kind
	Line     int
	Col      int
	Text     string
	Children []Node
	Tag      string
	Inner    *Node
}

// Long parses the node as an int64.
func (n Node) Long() (int64, error) {
	if n.Kind != KindLong {
		return 0, fmt.Errorf("node is %s, not long", n.Kind)
	}
	return strconv.ParseInt(n.Text, 10, 64)
}

// Double parses the node as a float64.
func (n Node) Double() (float64, error) {
	if n.Kind != KindDouble {
		return 0, fmt.Errorf("node is %s, not double", n.Kind)
	}
	return strconv.ParseFloat(n.Text, 64)
}

// Bool returns the node's boolean value.
func (n Node) Bool() (bool, error) {
	if n.Kind != KindBool {
		return false, fmt.Errorf("node is %s, not bool", n.Kind)
	}
	return n.Text == "true", nil
}

// IsSymbol reports whether the node is the symbol named s.
func (n Node) IsSymbol(s string) bool {
	return n.Kind == KindSymbol && n.Text == s
}

// MapEntries returns the key/value pairs of a map node.
func (n Node) MapEntries() ([][2]Node, error) {
	if n.Kind != KindMap {
		return nil, fmt.Errorf("node is %s, not map", n.Kind)
	}
	entries := make([][2]Node, 0, len(n.Children)/2)
	for i := 0; i+1 < len(n.Children); i += 2 {
		entries = append(entries, [2]Node{n.Children[i], n.Children[i+1]})
	}
	return entries, nil
}

// String renders the node back in interchange notation.
func (n Node) String() string {
	switch n.Kind {
	case KindNil:
		return "nil"
	case KindBool, KindLong, KindDouble, KindSymbol, KindKeyword:
		return n.Text
	case KindString:
		return strconv.Quote(n.Text)
	case KindList:
		return "(" + joinChildren(n.Children) + ")"
	case KindVector:
		return "[" + joinChildren(n.Children) + "]"
	case KindMap:
		return "{" + joinChildren(n.Children) + "}"
	case KindSet:
		return "#{" + joinChildren(n.Children) + "}"
	case KindTagged:
		return "#" + n.Tag + " " + n.Inner.String()
	default:
		return fmt.Sprintf("#unknown[%s]", n.Text)
	}
}

func joinChildren(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, c := range nodes {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}
