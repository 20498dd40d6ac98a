package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedTokenGenerator(t *testing.T) {
	gen := NewFixedTokenGenerator("run-golden")
	assert.Equal(t, "run-golden", gen.Generate())
	assert.Equal(t, "run-golden", gen.Generate())

	assert.Equal(t, "test-run", NewFixedTokenGenerator("").Generate())
}
