package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateNormalizesEntries(t *testing.T) {
	g := NewGate([]string{" Lead@Example.com ", "ops@example.com", "", "OPS@example.com"})

	assert.Len(t, g.emails, 2)
	assert.True(t, g.Allowed("lead@example.com"))
	assert.True(t, g.Allowed("  LEAD@EXAMPLE.COM"))
	assert.True(t, g.Allowed("Ops@Example.Com"))
	assert.False(t, g.Allowed("someone@example.com"))
	assert.False(t, g.Allowed(""))
	assert.False(t, g.Allowed("   "))
}

func TestGateEmptyListDeniesEveryone(t *testing.T) {
	g := NewGate(nil)
	assert.False(t, g.Allowed("lead@example.com"))
}

func TestRequire(t *testing.T) {
	g := NewGate([]string{"lead@example.com"})
	require.NoError(t, g.Require("lead@example.com", ActionDelete))

	err := g.Require("guest@example.com", ActionCreateInnovation)
	var forbidden ForbiddenError
	require.True(t, errors.As(err, &forbidden))
	assert.Equal(t, ActionCreateInnovation, forbidden.Action)
	assert.Equal(t, "not authorized to create innovation", err.Error())
}
