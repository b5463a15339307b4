// Package schema defines attribute schemas and the catalog snapshot
// the query pipeline compiles against. A snapshot is immutable: one
// query algebrizes, translates, and projects against exactly one
// snapshot, so a concurrent schema writer can never be observed
// mid-query.
package schema

import (
	"fmt"

	"github.com/jmallove/datalith/datalog"
)

// Cardinality says how many values an attribute may hold per entity.
type Cardinality uint8

const (
	CardinalityOne Cardinality = iota
	CardinalityMany
)

func (c Cardinality) String() string {
	if c == CardinalityMany {
		return "many"
	}
	return "one"
}

// Unique is the uniqueness constraint of an attribute.
type Unique uint8

const (
	UniqueNone Unique = iota
	// UniqueValue forbids two entities sharing a value for the attribute.
	UniqueValue
	// UniqueIdentity additionally allows lookup and upsert by value.
	UniqueIdentity
)

func (u Unique) String() string {
	switch u {
	case UniqueValue:
		return "value"
	case UniqueIdentity:
		return "identity"
	default:
		return "none"
	}
}

// Attribute is the schema record for one attribute ident.
type Attribute struct {
	ID          datalog.EntityID
	Ident       datalog.Keyword
	ValueType   datalog.ValueType
	Cardinality Cardinality
	Unique      Unique
	Indexed     bool
	Component   bool
}

// IsUnique reports whether any uniqueness constraint applies.
func (a Attribute) IsUnique() bool { return a.Unique != UniqueNone }

// Catalog resolves attribute idents against one consistent snapshot.
type Catalog interface {
	// Lookup resolves an ident, returning a NotFoundError wrapped in
	// the result when the attribute is not installed.
	Lookup(ident datalog.Keyword) (Attribute, error)

	// LookupByID resolves an attribute by its entid.
	LookupByID(id datalog.EntityID) (Attribute, error)
}

// NotFoundError reports an attribute absent from the catalog.
type NotFoundError struct {
	Ident datalog.Keyword
	ID    datalog.EntityID
}

func (e *NotFoundError) Error() string {
	if !e.Ident.IsZero() {
		return fmt.Sprintf("attribute not found: %s", e.Ident)
	}
	return fmt.Sprintf("attribute not found: entid %d", int64(e.ID))
}
