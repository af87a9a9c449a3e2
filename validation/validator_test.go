package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	Name  string  `validate:"required"`
	Kind  string  `validate:"required,oneof=a b"`
	Ratio float64 `validate:"gt=0,lt=1"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(request{Name: "x", Kind: "a", Ratio: 0.5}))

	err := Struct(request{Kind: "c", Ratio: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Name is required")
	assert.Contains(t, err.Error(), "Kind must be one of [a b]")
	assert.Contains(t, err.Error(), "Ratio must satisfy lt=1")
}
