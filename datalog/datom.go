package datalog

import "fmt"

// Datom is a single immutable fact: entity, attribute, value, the
// transaction that wrote it, and whether it was asserted or retracted.
type Datom struct {
	E     EntityID
	A     EntityID // attribute entid, resolvable to a Keyword ident
	V     TypedValue
	Tx    TxID
	Added bool
}

// String returns a bracketed rendering of the datom.
func (d Datom) String() string {
	op := "+"
	if !d.Added {
		op = "-"
	}
	return fmt.Sprintf("[%s %d %d %s %d]", op, int64(d.E), int64(d.A), d.V, int64(d.Tx))
}
