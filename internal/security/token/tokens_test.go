package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, err := NumericCode(6)
		require.NoError(t, err)
		require.Len(t, c, 6)
		for _, r := range c {
			require.True(t, r >= '0' && r <= '9', c)
		}
		seen[c] = true
	}
	assert.Greater(t, len(seen), 1)

	_, err := NumericCode(0)
	assert.Error(t, err)
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey()
	require.NoError(t, err)
	b, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a, APIKeyPrefix))
	assert.NotEqual(t, a, b)
}

func TestHashCompare(t *testing.T) {
	h := SHA256Hex("123456")
	assert.Len(t, h, 64)
	assert.True(t, EqualHex(h, strings.ToUpper(h)))
	assert.False(t, EqualHex(h, SHA256Hex("123457")))
	assert.True(t, EqualSecret("k", "k"))
	assert.False(t, EqualSecret("k", "k2"))
}
