package datalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// The physical value column is polymorphic: one column holds every
// variant, discriminated by the type tag stored alongside it. The
// encoding below is total and round-trip safe per variant.
//
//	ref      -> INTEGER (entid)
//	boolean  -> INTEGER (0/1)
//	instant  -> INTEGER (microseconds since the Unix epoch, UTC)
//	long     -> INTEGER
//	double   -> REAL
//	string   -> TEXT
//	keyword  -> TEXT (canonical ":ns/name")
//	uuid     -> BLOB (16 bytes)
//	bytes    -> BLOB

// EncodeSQL returns the type tag and driver-level value for v.
func EncodeSQL(v TypedValue) (int64, interface{}) {
	switch v.typ {
	case TypeRef:
		return int64(TypeRef), int64(v.ref)
	case TypeBoolean:
		if v.boolean {
			return int64(TypeBoolean), int64(1)
		}
		return int64(TypeBoolean), int64(0)
	case TypeInstant:
		return int64(TypeInstant), v.instant.UnixMicro()
	case TypeLong:
		return int64(TypeLong), v.long
	case TypeDouble:
		return int64(TypeDouble), v.double
	case TypeString:
		return int64(TypeString), v.str
	case TypeKeyword:
		return int64(TypeKeyword), v.str
	case TypeUUID:
		b := v.uid
		return int64(TypeUUID), b[:]
	case TypeBytes:
		return int64(TypeBytes), v.bytes
	default:
		// Unreachable for values built through the constructors.
		return -1, nil
	}
}

// DecodeSQL reconstructs a TypedValue from a stored (tag, raw) cell.
// An unrecognized tag or a raw value whose shape disagrees with the
// tag indicates storage corruption, not caller misuse.
func DecodeSQL(tag int64, raw interface{}) (TypedValue, error) {
	switch ValueType(tag) {
	case TypeRef:
		i, err := decodeInt(raw)
		if err != nil {
			return TypedValue{}, fmt.Errorf("ref cell: %w", err)
		}
		return Ref(EntityID(i)), nil
	case TypeBoolean:
		i, err := decodeInt(raw)
		if err != nil {
			return TypedValue{}, fmt.Errorf("boolean cell: %w", err)
		}
		return Boolean(i != 0), nil
	case TypeInstant:
		i, err := decodeInt(raw)
		if err != nil {
			return TypedValue{}, fmt.Errorf("instant cell: %w", err)
		}
		return Instant(time.UnixMicro(i).UTC()), nil
	case TypeLong:
		i, err := decodeInt(raw)
		if err != nil {
			return TypedValue{}, fmt.Errorf("long cell: %w", err)
		}
		return Long(i), nil
	case TypeDouble:
		switch f := raw.(type) {
		case float64:
			return Double(f), nil
		case int64:
			// SQLite stores whole doubles as INTEGER affinity.
			return Double(float64(f)), nil
		}
		return TypedValue{}, fmt.Errorf("double cell: unexpected %T", raw)
	case TypeString:
		s, err := decodeText(raw)
		if err != nil {
			return TypedValue{}, fmt.Errorf("string cell: %w", err)
		}
		return String(s), nil
	case TypeKeyword:
		s, err := decodeText(raw)
		if err != nil {
			return TypedValue{}, fmt.Errorf("keyword cell: %w", err)
		}
		return KeywordValue(NewKeyword(s)), nil
	case TypeUUID:
		b, ok := raw.([]byte)
		if !ok || len(b) != 16 {
			return TypedValue{}, fmt.Errorf("uuid cell: unexpected %T", raw)
		}
		var u uuid.UUID
		copy(u[:], b)
		return UUID(u), nil
	case TypeBytes:
		b, ok := raw.([]byte)
		if !ok {
			return TypedValue{}, fmt.Errorf("bytes cell: unexpected %T", raw)
		}
		out := make([]byte, len(b))
		copy(out, b)
		return Bytes(out), nil
	default:
		return TypedValue{}, fmt.Errorf("unrecognized value type tag %d", tag)
	}
}

func decodeInt(raw interface{}) (int64, error) {
	switch i := raw.(type) {
	case int64:
		return i, nil
	case int:
		return int64(i), nil
	}
	return 0, fmt.Errorf("unexpected %T", raw)
}

func decodeText(raw interface{}) (string, error) {
	switch s := raw.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return "", fmt.Errorf("unexpected %T", raw)
}
