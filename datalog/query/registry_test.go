package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryValidate(t *testing.T) {
	require.NoError(t, DefaultRegistry.Validate("<", 2))
	require.NoError(t, DefaultRegistry.Validate("+", 3))

	err := DefaultRegistry.Validate("<", 3)
	var arity *ArityError
	require.True(t, errors.As(err, &arity))
	assert.Equal(t, "<", arity.Fn)

	err = DefaultRegistry.Validate("str/reverse", 1)
	var unknown *UnknownFunctionError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "str/reverse", unknown.Fn)
}

func TestClauseVariables(t *testing.T) {
	p := &Pattern{
		E: Variable{Name: "?e"},
		A: Variable{Name: "?a"},
		V: Variable{Name: "?e"}, // repeated on purpose
	}
	assert.Equal(t, []Symbol{"?e", "?a"}, p.Variables())

	not := &NotClause{Clauses: []Clause{p}}
	assert.Nil(t, not.Variables(), "not binds nothing")
	assert.Equal(t, []Symbol{"?e", "?a"}, not.BodyVariables())
}
