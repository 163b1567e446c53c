// Package gas implements gas accounting for actor execution.
//
// Gas is tracked in milligas (thousandths of a gas unit) so that per-instruction
// costs in the sandbox can be expressed without rounding. Whole gas is what
// appears in receipts and message gas limits.
package gas

import (
	"fmt"
	"math"
)

// MilliPrecision is the number of milligas in one unit of gas.
const MilliPrecision = 1000

// Gas is an amount of gas, stored in milligas.
type Gas int64

// Zero is the zero amount of gas.
const Zero = Gas(0)

// Max is the largest representable amount of gas.
const Max = Gas(math.MaxInt64)

// NewGas converts whole gas units to Gas, saturating on overflow.
func NewGas(whole int64) Gas {
	if whole > math.MaxInt64/MilliPrecision {
		return Max
	}
	if whole < math.MinInt64/MilliPrecision {
		return Gas(math.MinInt64)
	}
	return Gas(whole * MilliPrecision)
}

// FromMilligas wraps a raw milligas value.
func FromMilligas(milligas int64) Gas {
	return Gas(milligas)
}

// AsMilligas returns the raw milligas value.
func (g Gas) AsMilligas() int64 {
	return int64(g)
}

// Round returns whole gas, rounding partial units up.
func (g Gas) Round() int64 {
	if g <= 0 {
		return int64(g) / MilliPrecision
	}
	whole := int64(g) / MilliPrecision
	if int64(g)%MilliPrecision != 0 {
		whole++
	}
	return whole
}

// Add returns g+o, saturating at Max.
func (g Gas) Add(o Gas) Gas {
	if o > 0 && g > Max-o {
		return Max
	}
	return g + o
}

// Sub returns g-o, saturating at zero when the result would be negative.
func (g Gas) Sub(o Gas) Gas {
	if o >= g {
		return Zero
	}
	return g - o
}

// Mul returns g*n, saturating at Max.
func (g Gas) Mul(n int64) Gas {
	if n == 0 || g == 0 {
		return Zero
	}
	if n > 0 && g > 0 && g > Max/Gas(n) {
		return Max
	}
	return g * Gas(n)
}

// Min returns the smaller of a and b.
func Min(a, b Gas) Gas {
	if a < b {
		return a
	}
	return b
}

// String formats gas as whole units with a milligas fraction.
func (g Gas) String() string {
	if int64(g)%MilliPrecision == 0 {
		return fmt.Sprintf("%d", int64(g)/MilliPrecision)
	}
	return fmt.Sprintf("%d.%03d", int64(g)/MilliPrecision, abs(int64(g)%MilliPrecision))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
