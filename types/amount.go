package types

import (
	"fmt"
	"math/bits"
	"strconv"
)

// Amount is a quantity of a fungible token in its smallest unit.
// Arithmetic is integer-only and every operation that can wrap reports
// overflow instead of wrapping.
type Amount uint64

// MaxAmount is the largest representable amount.
const MaxAmount = Amount(^uint64(0))

// Add returns a+b and false if the sum overflows.
func (a Amount) Add(b Amount) (Amount, bool) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, false
	}
	return Amount(sum), true
}

// Sub returns a-b and false if b exceeds a.
func (a Amount) Sub(b Amount) (Amount, bool) {
	diff, borrow := bits.Sub64(uint64(a), uint64(b), 0)
	if borrow != 0 {
		return 0, false
	}
	return Amount(diff), true
}

// MulDiv returns floor(a*num/den) computed over 128 bits, and false if
// den is zero or the quotient does not fit in an Amount.
func (a Amount) MulDiv(num, den uint64) (Amount, bool) {
	if den == 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), num)
	if hi >= den {
		return 0, false
	}
	quo, _ := bits.Div64(hi, lo, den)
	return Amount(quo), true
}

// Percent returns floor(a*pct/100).
func (a Amount) Percent(pct uint8) (Amount, bool) {
	return a.MulDiv(uint64(pct), 100)
}

// Sum adds all values, reporting false on overflow.
func Sum(values ...Amount) (Amount, bool) {
	var total Amount
	for _, v := range values {
		var ok bool
		if total, ok = total.Add(v); !ok {
			return 0, false
		}
	}
	return total, true
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// String returns the amount in base-10 smallest units.
func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// ParseAmount parses a base-10 amount as produced by String.
func ParseAmount(s string) (Amount, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("types: parse amount %q: %w", s, err)
	}
	return Amount(v), nil
}
