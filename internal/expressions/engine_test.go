package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_Default(t *testing.T) {
	s, err := NewSet()
	require.NoError(t, err)
	assert.Equal(t, []string{"cel", "expr", "jq"}, s.Names())

	e, err := s.Get("jq")
	require.NoError(t, err)
	assert.Equal(t, "jq", e.Name())

	_, err = s.Get("lua")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown expression engine")
}
