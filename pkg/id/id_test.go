package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsUniqueAndOrdered(t *testing.T) {
	t.Parallel()

	a, b := New(), New()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b, "ids issued by one process sort by issue order")
}

func TestPrefixed(t *testing.T) {
	t.Parallel()

	got := Prefixed("sim")
	assert.True(t, strings.HasPrefix(got, "sim-"))
	assert.Len(t, got, len("sim-")+26)

	assert.Len(t, Prefixed(""), 26)
}
