package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorFor_Deterministic(t *testing.T) {
	// Same name, same color, across calls (and therefore across reconnects).
	first := ColorFor("Sam")
	second := ColorFor("Sam")
	assert.Equal(t, first, second)
	assert.Equal(t, "#85C1E9", first)
}

func TestColorFor_AlwaysFromPalette(t *testing.T) {
	names := []string{"", "a", "Alice", "Bob", "日本語ユーザー", "a very long display name indeed"}
	for _, name := range names {
		color := ColorFor(name)
		assert.Contains(t, cursorPalette, color, "name %q", name)
	}
}
