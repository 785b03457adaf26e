package math

import (
	"math/big"
	"sync"
)

// Percentage rates are wad fixed-point: 18 decimals, so 1.00 == 1e18.
const (
	WadDecimals = 18

	// MinPercentage is 0.01 (1%) in wad.
	MinPercentage int64 = 10_000_000_000_000_000
	// MaxPercentage is 1.00 (100%) in wad.
	MaxPercentage int64 = 1_000_000_000_000_000_000
)

// DecimalConfig defines a fixed-point precision domain.
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// SettlementConfig is the settlement-token precision (USDC-style).
	SettlementConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	// RateConfig is the wad precision used for yield and prime rates.
	RateConfig = DecimalConfig{DecimalPrecision: WadDecimals, Scale: MaxPercentage}
)

// bigPool recycles big.Ints used for intermediate products.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

type RoundingMode int

const (
	// RoundDown truncates toward zero. This is the uniform rounding
	// direction for monetary conversions: value never leaks to the
	// paying side through rounding.
	RoundDown RoundingMode = iota
	RoundHalfEven
)

var wadScale = new(big.Int).SetInt64(MaxPercentage)

// Pow10 returns 10^n as a big.Int. n must be non-negative.
func Pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ValidPercentage reports whether a wad rate lies in [MinPercentage, MaxPercentage].
func ValidPercentage(rate int64) bool {
	return rate >= MinPercentage && rate <= MaxPercentage
}

// MulBig performs a * b using arbitrary precision to prevent overflow.
func MulBig(a, b int64) *big.Int {
	result := getBig()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivBig performs numerator / denominator with the given rounding mode
// and returns the result as int64. The numerator is returned to the pool.
func DivBig(numerator *big.Int, denominator int64, mode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getBig()
	remainder := getBig()

	quotient.QuoRem(numerator, denom, remainder)
	result := quotient.Int64()

	if mode == RoundHalfEven {
		half := big.NewInt(denominator / 2)
		cmp := remainder.CmpAbs(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 && result%2 != 0 {
			result++
		}
	}

	putBig(quotient)
	putBig(remainder)
	putBig(numerator)

	return result
}

// ApplyRate computes amount * rate where rate is a wad percentage,
// truncating toward zero. amount is in settlement-token decimals.
func ApplyRate(amount int64, rateWad int64) int64 {
	product := MulBig(amount, rateWad)
	return DivBig(product, MaxPercentage, RoundDown)
}

// Rescale converts a value between decimal precisions, truncating toward
// zero when scaling down. The returned value is freshly allocated.
func Rescale(v *big.Int, fromDecimals, toDecimals int) *big.Int {
	out := new(big.Int).Set(v)
	switch {
	case toDecimals > fromDecimals:
		out.Mul(out, Pow10(toDecimals-fromDecimals))
	case toDecimals < fromDecimals:
		out.Quo(out, Pow10(fromDecimals-toDecimals))
	}
	return out
}

// UnitValue computes the per-unit value of an instrument: totalValue is in
// native decimals, totalSupply counts whole units. Truncates toward zero.
func UnitValue(totalValue *big.Int, totalSupply int64) *big.Int {
	return new(big.Int).Quo(totalValue, big.NewInt(totalSupply))
}

// ValuePlusYield returns unitValue + unitValue * yield, where yield is a
// wad percentage. unitValue stays in its native precision.
func ValuePlusYield(unitValue *big.Int, yieldWad int64) *big.Int {
	portion := new(big.Int).Mul(unitValue, big.NewInt(yieldWad))
	portion.Quo(portion, wadScale)
	return portion.Add(portion, unitValue)
}

// RequiredAmount computes quantity * unitValue rescaled from the asset's
// native precision into settlement-token precision, truncating. Both the
// stock-cap check and the premium collection use this same truncation so
// the comparison can never under-collect. Returns false if the result
// does not fit in int64.
func RequiredAmount(unitValue *big.Int, quantity int64, nativeDecimals, settlementDecimals int) (int64, bool) {
	total := new(big.Int).Mul(unitValue, big.NewInt(quantity))
	total = Rescale(total, nativeDecimals, settlementDecimals)
	if !total.IsInt64() {
		return 0, false
	}
	return total.Int64(), true
}

// SupplyCap computes the maximum securable amount for an asset in
// settlement-token precision: principalSupply * unitValue, rescaled.
func SupplyCap(unitValue *big.Int, totalSupply int64, nativeDecimals, settlementDecimals int) (int64, bool) {
	return RequiredAmount(unitValue, totalSupply, nativeDecimals, settlementDecimals)
}
