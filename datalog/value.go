// Package datalog defines the core data model shared by every stage of
// the query pipeline: typed values, keywords, entity identifiers, and
// datoms. Values are an explicit tagged union because the backing store
// keeps them in a single polymorphic column discriminated by a type tag.
package datalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityID identifies an entity in the store.
type EntityID int64

// TxID identifies the transaction that asserted a datom.
type TxID int64

// ValueType is the discriminant of a TypedValue. The numeric values
// double as the on-disk type tags, so they must never be reordered.
type ValueType uint8

const (
	TypeRef     ValueType = 0
	TypeBoolean ValueType = 1
	TypeInstant ValueType = 2
	TypeLong    ValueType = 3
	TypeDouble  ValueType = 4
	TypeString  ValueType = 5
	TypeKeyword ValueType = 6
	TypeUUID    ValueType = 7
	TypeBytes   ValueType = 8
)

// String returns the schema-facing name of the value type.
func (t ValueType) String() string {
	switch t {
	case TypeRef:
		return "ref"
	case TypeBoolean:
		return "boolean"
	case TypeInstant:
		return "instant"
	case TypeLong:
		return "long"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeKeyword:
		return "keyword"
	case TypeUUID:
		return "uuid"
	case TypeBytes:
		return "bytes"
	default:
		return fmt.Sprintf("valuetype(%d)", uint8(t))
	}
}

// IsNumeric reports whether values of this type order numerically.
func (t ValueType) IsNumeric() bool {
	return t == TypeLong || t == TypeDouble
}

// TypedValue is a value together with its discriminant. Every instance
// carries an explicit ValueType; the zero value is not valid.
type TypedValue struct {
	typ     ValueType
	ref     EntityID
	boolean bool
	long    int64
	double  float64
	str     string // string, keyword
	instant time.Time
	uid     uuid.UUID
	bytes   []byte
}

// Constructors, one per variant.

func Ref(e EntityID) TypedValue        { return TypedValue{typ: TypeRef, ref: e} }
func Boolean(b bool) TypedValue        { return TypedValue{typ: TypeBoolean, boolean: b} }
func Instant(t time.Time) TypedValue   { return TypedValue{typ: TypeInstant, instant: t.UTC()} }
func Long(i int64) TypedValue          { return TypedValue{typ: TypeLong, long: i} }
func Double(f float64) TypedValue      { return TypedValue{typ: TypeDouble, double: f} }
func String(s string) TypedValue       { return TypedValue{typ: TypeString, str: s} }
func KeywordValue(k Keyword) TypedValue {
	return TypedValue{typ: TypeKeyword, str: k.String()}
}
func UUID(u uuid.UUID) TypedValue { return TypedValue{typ: TypeUUID, uid: u} }
func Bytes(b []byte) TypedValue   { return TypedValue{typ: TypeBytes, bytes: b} }

// Type returns the discriminant.
func (v TypedValue) Type() ValueType { return v.typ }

// Accessors. Each returns the variant payload and whether the value
// actually holds that variant.

func (v TypedValue) Ref() (EntityID, bool)      { return v.ref, v.typ == TypeRef }
func (v TypedValue) Boolean() (bool, bool)      { return v.boolean, v.typ == TypeBoolean }
func (v TypedValue) Instant() (time.Time, bool) { return v.instant, v.typ == TypeInstant }
func (v TypedValue) Long() (int64, bool)        { return v.long, v.typ == TypeLong }
func (v TypedValue) Double() (float64, bool)    { return v.double, v.typ == TypeDouble }
func (v TypedValue) Str() (string, bool)        { return v.str, v.typ == TypeString }
func (v TypedValue) UUID() (uuid.UUID, bool)    { return v.uid, v.typ == TypeUUID }
func (v TypedValue) Bytes() ([]byte, bool)      { return v.bytes, v.typ == TypeBytes }

// Keyword returns the keyword payload.
func (v TypedValue) Keyword() (Keyword, bool) {
	if v.typ != TypeKeyword {
		return Keyword{}, false
	}
	return NewKeyword(v.str), true
}

// Equal reports deep equality including the discriminant.
func (v TypedValue) Equal(o TypedValue) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeRef:
		return v.ref == o.ref
	case TypeBoolean:
		return v.boolean == o.boolean
	case TypeInstant:
		return v.instant.Equal(o.instant)
	case TypeLong:
		return v.long == o.long
	case TypeDouble:
		return v.double == o.double
	case TypeString, TypeKeyword:
		return v.str == o.str
	case TypeUUID:
		return v.uid == o.uid
	case TypeBytes:
		if len(v.bytes) != len(o.bytes) {
			return false
		}
		for i := range v.bytes {
			if v.bytes[i] != o.bytes[i] {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value in interchange notation.
func (v TypedValue) String() string {
	switch v.typ {
	case TypeRef:
		return fmt.Sprintf("%d", int64(v.ref))
	case TypeBoolean:
		return fmt.Sprintf("%t", v.boolean)
	case TypeInstant:
		return "#inst \"" + v.instant.Format(time.RFC3339Nano) + "\""
	case TypeLong:
		return fmt.Sprintf("%d", v.long)
	case TypeDouble:
		return fmt.Sprintf("%g", v.double)
	case TypeString:
		return fmt.Sprintf("%q", v.str)
	case TypeKeyword:
		return v.str
	case TypeUUID:
		return "#uuid \"" + v.uid.String() + "\""
	case TypeBytes:
		return fmt.Sprintf("#bytes %x", v.bytes)
	default:
		return fmt.Sprintf("#invalid(%d)", uint8(v.typ))
	}
}
