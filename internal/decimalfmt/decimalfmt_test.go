package decimalfmt

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmountStripsSeparators(t *testing.T) {
	v, err := ParseAmount("1,234,567")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1234567), v)

	v, err = ParseAmount("1_000_000")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000000), v)
}

func TestParseAmountEmptyIsZero(t *testing.T) {
	v, err := ParseAmount("  ")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), v)
}

func TestParseAmountInvalid(t *testing.T) {
	_, err := ParseAmount("not-a-number")
	require.Error(t, err)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "not-a-number", parseErr.Input)
}

func TestHumanFormatSixFractionalDigits(t *testing.T) {
	// 1.5 * 10^18 wei
	amount := new(big.Int)
	amount.SetString("1500000000000000000", 10)
	assert.Equal(t, "1.500000", HumanFormat(amount, 18))
}

func TestHumanFormatZero(t *testing.T) {
	assert.Equal(t, "0.000000", HumanFormat(big.NewInt(0), 18))
	assert.Equal(t, "0.000000", HumanFormat(nil, 6))
}

func TestHumanFormatFloorsWithoutRounding(t *testing.T) {
	// 1234567 at 6 decimals => 1.234567, exact
	assert.Equal(t, "1.234567", HumanFormat(big.NewInt(1234567), 6))
	// 1 at 6 decimals => 0.000001
	assert.Equal(t, "0.000001", HumanFormat(big.NewInt(1), 6))
}

func TestHumanFormatLargeWholePart(t *testing.T) {
	amount := new(big.Int)
	amount.SetString("123456789000000000000", 10) // 123456.789 * 10^18
	assert.Equal(t, "123456.789000", HumanFormat(amount, 18))
}
