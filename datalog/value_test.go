package datalog

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestKeywordParts(t *testing.T) {
	k := NewKeyword(":person/name")
	if k.Namespace() != "person" {
		t.Errorf("expected namespace person, got %s", k.Namespace())
	}
	if k.Name() != "name" {
		t.Errorf("expected name, got %s", k.Name())
	}

	// Missing colon is normalized.
	if NewKeyword("person/name") != k {
		t.Errorf("expected normalized keyword to equal %s", k)
	}

	bare := NewKeyword(":doc")
	if bare.Namespace() != "" || bare.Name() != "doc" {
		t.Errorf("bare keyword parsed as %q/%q", bare.Namespace(), bare.Name())
	}
}

func TestTypedValueEqual(t *testing.T) {
	if !Long(42).Equal(Long(42)) {
		t.Error("equal longs should compare equal")
	}
	if Long(42).Equal(Double(42)) {
		t.Error("discriminant must participate in equality")
	}
	if Ref(7).Equal(Long(7)) {
		t.Error("ref and long must not compare equal")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	when := time.Date(2021, 4, 3, 11, 19, 0, 0, time.UTC)
	values := []TypedValue{
		Ref(65536),
		Boolean(true),
		Instant(when),
		Long(-9),
		Double(3.5),
		String("pelican"),
		KeywordValue(NewKeyword(":status/active")),
		UUID(uuid.MustParse("4cb3f828-752d-497a-90c9-b1fd516d5644")),
		Bytes([]byte{0x01, 0x02}),
	}

	for _, v := range values {
		tag, raw := EncodeSQL(v)
		got, err := DecodeSQL(tag, raw)
		if err != nil {
			t.Fatalf("%s: decode failed: %v", v.Type(), err)
		}
		if !got.Equal(v) {
			t.Errorf("%s: round trip changed value: %s != %s", v.Type(), got, v)
		}
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	if _, err := DecodeSQL(99, int64(1)); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}
