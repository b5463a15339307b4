package datalog

import "strings"

// Keyword is an interned-style identifier such as ":person/name". The
// leading colon is part of the canonical representation; a namespace is
// optional.
type Keyword struct {
	value string
}

// NewKeyword normalizes s into a keyword, adding the leading colon if
// it is missing.
func NewKeyword(s string) Keyword {
	if !strings.HasPrefix(s, ":") {
		s = ":" + s
	}
	return Keyword{value: s}
}

// String returns the canonical ":namespace/name" form.
func (k Keyword) String() string { return k.value }

// Namespace returns the portion before the slash, without the colon,
// or "" when the keyword has no namespace.
func (k Keyword) Namespace() string {
	body := strings.TrimPrefix(k.value, ":")
	if i := strings.IndexByte(body, '/'); i >= 0 {
		return body[:i]
	}
	return ""
}

// Name returns the portion after the slash, or the whole body when the
// keyword has no namespace.
func (k Keyword) Name() string {
	body := strings.TrimPrefix(k.value, ":")
	if i := strings.IndexByte(body, '/'); i >= 0 {
		return body[i+1:]
	}
	return body
}

// IsZero reports whether k is the zero keyword.
func (k Keyword) IsZero() bool { return k.value == "" }

// Compare orders keywords lexicographically by canonical form.
func (k Keyword) Compare(other Keyword) int {
	return strings.Compare(k.value, other.value)
}
