package orders

import (
	"github.com/shopspring/decimal"
	"strings"
)

// AmountTolerance is the maximum difference for two amounts to be considered equal.
var AmountTolerance = decimal.NewFromFloat(0.01)

// NormalizeReference trims whitespace and transport punctuation (trailing
// periods, stray quotes) from a gateway reference code.
func NormalizeReference(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.Trim(ref, `.,;"'`)
	return strings.TrimSpace(ref)
}

// SameReference compares references case-insensitively after normalization.
// Empty references never match.
func SameReference(a, b string) bool {
	a, b = NormalizeReference(a), NormalizeReference(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// SameAmount reports whether a and b differ by at most AmountTolerance.
func SameAmount(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(AmountTolerance)
}
