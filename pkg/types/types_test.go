package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAccountID(t *testing.T) {
	hexID := strings.Repeat("ab", 32)

	id, err := ParseAccountID("0x" + hexID)
	require.NoError(t, err)
	require.Equal(t, hexID, id.String())
	require.Equal(t, "abababab", id.Short())

	_, err = ParseAccountID("abcd")
	require.Error(t, err)

	_, err = ParseAccountID("zz")
	require.Error(t, err)
}

func TestBalanceRoundTrip(t *testing.T) {
	b := NewBalance(1000)
	require.Equal(t, "1000", b.String())

	max := "340282366920938463463374607431768211455"
	parsed, err := ParseBalance(max)
	require.NoError(t, err)
	require.Equal(t, max, parsed.String())
	for _, x := range parsed {
		require.Equal(t, byte(0xff), x)
	}

	_, err = ParseBalance("340282366920938463463374607431768211456")
	require.Error(t, err)
	_, err = ParseBalance("-1")
	require.Error(t, err)
}
