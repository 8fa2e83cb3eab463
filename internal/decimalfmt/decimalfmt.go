// Package decimalfmt formats and parses the arbitrary-precision decimal
// amounts spec.md §9 requires: thousands-separator-tolerant parsing on the
// way in, and a fixed six-fractional-digit human form on the way out.
package decimalfmt

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount strips thousands separators and parses a non-negative
// integer amount, per §9 ("Parse decimal strings allowing
// thousands-separators; emit canonical decimal strings without
// separators").
func ParseAmount(s string) (*big.Int, error) {
	cleaned := strings.ReplaceAll(strings.ReplaceAll(s, ",", ""), "_", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return big.NewInt(0), nil
	}
	out := new(big.Int)
	if _, ok := out.SetString(cleaned, 10); !ok || out.Sign() < 0 {
		return nil, &ParseError{Input: s}
	}
	return out, nil
}

// ParseError reports an amount string that could not be parsed as a
// non-negative base-10 integer after separator stripping.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return "decimalfmt: cannot parse amount " + e.Input
}

// HumanFormat renders amount/10^decimals as "<integer>.<6 fractional
// digits>", floor-divided and zero-padded, per §9. A zero numerator always
// renders as "0.000000" (the spec's "bare 0.0" example refers to the same
// floor-division rule at decimals=1; this implementation always emits
// exactly six fractional digits as the general rule states).
func HumanFormat(amount *big.Int, decimals uint8) string {
	if amount == nil {
		amount = big.NewInt(0)
	}
	// d = amount * 10^-decimals, exact, no rounding.
	d := decimal.NewFromBigInt(amount, -int32(decimals))
	whole := d.Truncate(0)
	frac := d.Sub(whole).Shift(6).Truncate(0)
	fracStr := frac.String()
	for len(fracStr) < 6 {
		fracStr = "0" + fracStr
	}
	if len(fracStr) > 6 {
		fracStr = fracStr[:6]
	}
	return whole.String() + "." + fracStr
}
