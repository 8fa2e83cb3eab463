package substratefork

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hex32(fill string) string {
	return "0x" + strings.Repeat(fill, 32)
}

func TestDecodeAccountIDHex(t *testing.T) {
	addr := hex32("ab")
	acc, err := decodeAccountID(addr)
	require.NoError(t, err)
	assert.NotEmpty(t, acc)

	encoded, err := CanonicalAccountHex(addr)
	require.NoError(t, err)
	assert.Equal(t, addr, encoded)
}

func TestDecodeAccountIDRejectsMalformedHex(t *testing.T) {
	_, err := decodeAccountID("0xzz")
	assert.Error(t, err)
}

func TestCanonicalAccountHexIdempotentOnHexInput(t *testing.T) {
	addr := hex32("cd")
	first, err := CanonicalAccountHex(addr)
	require.NoError(t, err)
	second, err := CanonicalAccountHex(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
