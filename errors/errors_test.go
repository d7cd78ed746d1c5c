package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesLocation(t *testing.T) {
	err := New("boom %d", 42)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "[errors_test.go:"), err.Error())
	assert.Contains(t, err.Error(), "boom 42")
}

func TestWrapfKeepsChain(t *testing.T) {
	base := Sentinel("not found")
	wrapped := Wrapf(base, "looking up %q", "abc")

	assert.True(t, Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), `looking up "abc": not found`)
	assert.Nil(t, Wrapf(nil, "ignored"))
}
