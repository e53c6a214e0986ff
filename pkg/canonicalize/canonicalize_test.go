package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJCS_SortsKeysNoHTMLEscape(t *testing.T) {
	b, err := JCS(map[string]interface{}{"c": 3, "a": 1, "b": "<x>&"})
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"b":"<x>&","c":3}`, string(b))
}

func TestCanonical_SortsArraysAfterRecursiveCanonicalization(t *testing.T) {
	a, err := Canonical([]interface{}{
		map[string]interface{}{"b": 2, "a": 1},
		map[string]interface{}{"a": 0},
	})
	require.NoError(t, err)

	// canonical form sorts the array AFTER canonicalizing each element's
	// keys, so the first element becomes {"a":1,"b":2} and {"a":0} sorts
	// before it.
	require.Equal(t, `[{"a":0},{"a":1,"b":2}]`, string(a))
}

func TestRulesHash_KeyReorderingStable(t *testing.T) {
	r1 := []interface{}{
		map[string]interface{}{"id": "one", "action": "read", "resource": "bundle"},
	}
	r2 := []interface{}{
		map[string]interface{}{"resource": "bundle", "action": "read", "id": "one"},
	}
	require.Equal(t, RulesHash(r1, ""), RulesHash(r2, ""))
}

func TestRulesHash_ArrayOrderChangesHash(t *testing.T) {
	one := map[string]interface{}{"id": "one", "action": "read", "resource": "bundle"}
	two := map[string]interface{}{"id": "two", "action": "update", "resource": "bundle"}

	h1 := RulesHash([]interface{}{one, two}, "")
	h2 := RulesHash([]interface{}{two, one}, "")
	require.NotEqual(t, h1, h2, "rule sequence order must affect the hash")
}

func TestRulesHash_Is64HexChars(t *testing.T) {
	h := RulesHash([]interface{}{map[string]interface{}{"action": "read"}}, "")
	require.Len(t, h, 64)
	for _, c := range h {
		require.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
	}
}

func TestNewToken_Unique(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.NotContains(t, a, "=")
}

func TestNewOTP_Length(t *testing.T) {
	for i := 0; i < 20; i++ {
		otp, err := NewOTP(6)
		require.NoError(t, err)
		require.Len(t, otp, 6)
	}
}
