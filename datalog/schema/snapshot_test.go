package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmallove/datalith/datalog"
)

func nameAttr() Attribute {
	return Attribute{
		ID:        100,
		Ident:     datalog.NewKeyword(":person/name"),
		ValueType: datalog.TypeString,
		Unique:    UniqueIdentity,
		Indexed:   true,
	}
}

func TestSnapshotLookup(t *testing.T) {
	snap := NewSnapshot(nameAttr())

	a, err := snap.Lookup(datalog.NewKeyword(":person/name"))
	require.NoError(t, err)
	assert.Equal(t, datalog.TypeString, a.ValueType)

	byID, err := snap.LookupByID(100)
	require.NoError(t, err)
	assert.Equal(t, a.Ident, byID.Ident)

	_, err = snap.Lookup(datalog.NewKeyword(":person/missing"))
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, ":person/missing", notFound.Ident.String())
}

func TestSnapshotCopyOnWrite(t *testing.T) {
	base := NewSnapshot(nameAttr())
	age := Attribute{
		ID:        101,
		Ident:     datalog.NewKeyword(":person/age"),
		ValueType: datalog.TypeLong,
	}

	next := base.With(age)

	// The older snapshot never observes the new attribute.
	_, err := base.Lookup(age.Ident)
	require.Error(t, err)
	_, err = next.Lookup(age.Ident)
	require.NoError(t, err)
	assert.Greater(t, next.Version(), base.Version())
}
