package math

import (
	"math/big"
	"testing"
)

// ============================================================================
// Rate validation
// ============================================================================

func TestValidPercentage(t *testing.T) {
	cases := []struct {
		name string
		rate int64
		want bool
	}{
		{"min", MinPercentage, true},
		{"max", MaxPercentage, true},
		{"mid", 50_000_000_000_000_000, true},
		{"below min", MinPercentage - 1, false},
		{"above max", MaxPercentage + 1, false},
		{"zero", 0, false},
		{"negative", -MinPercentage, false},
	}

	for _, tc := range cases {
		if got := ValidPercentage(tc.rate); got != tc.want {
			t.Errorf("%s: ValidPercentage(%d) = %v, want %v", tc.name, tc.rate, got, tc.want)
		}
	}
}

// ============================================================================
// Rate application
// ============================================================================

func TestApplyRateTruncates(t *testing.T) {
	// 10% of 105 units truncates: 10.5 -> 10
	got := ApplyRate(105, MaxPercentage/10)
	if got != 10 {
		t.Errorf("ApplyRate(105, 10%%) = %d, want 10", got)
	}
}

func TestApplyRateFullRate(t *testing.T) {
	if got := ApplyRate(1_000_000, MaxPercentage); got != 1_000_000 {
		t.Errorf("ApplyRate at 100%% = %d, want 1000000", got)
	}
}

func TestApplyRateNoOverflow(t *testing.T) {
	// amount near int64 max times a wad rate overflows int64 badly;
	// the big.Int path must stay exact.
	amount := int64(9_000_000_000_000_000) // 9e15
	got := ApplyRate(amount, MaxPercentage/2)
	if got != amount/2 {
		t.Errorf("ApplyRate(%d, 50%%) = %d, want %d", amount, got, amount/2)
	}
}

func TestApplyRateZeroAmount(t *testing.T) {
	if got := ApplyRate(0, MaxPercentage); got != 0 {
		t.Errorf("ApplyRate(0) = %d, want 0", got)
	}
}

// Worked example: 100 USDC secured, 10% yield, 5% prime.
// cost = 5, yield payout = 100 + 10 - 5 = 105, default payout = 95.
func TestApplyRateWorkedExample(t *testing.T) {
	secured := int64(100_000_000) // 100 USDC at 6 decimals
	yield := MaxPercentage / 10   // 10%
	prime := MaxPercentage / 20   // 5%

	cost := ApplyRate(secured, prime)
	if cost != 5_000_000 {
		t.Fatalf("cost = %d, want 5000000", cost)
	}

	yieldPayout := secured + ApplyRate(secured, yield) - cost
	if yieldPayout != 105_000_000 {
		t.Errorf("yield payout = %d, want 105000000", yieldPayout)
	}

	defaultPayout := secured - cost
	if defaultPayout != 95_000_000 {
		t.Errorf("default payout = %d, want 95000000", defaultPayout)
	}
}

// ============================================================================
// Division rounding
// ============================================================================

func TestDivBigRoundDown(t *testing.T) {
	if got := DivBig(big.NewInt(7), 2, RoundDown); got != 3 {
		t.Errorf("7/2 down = %d, want 3", got)
	}
	if got := DivBig(big.NewInt(-7), 2, RoundDown); got != -3 {
		t.Errorf("-7/2 down = %d, want -3 (toward zero)", got)
	}
}

func TestDivBigRoundHalfEven(t *testing.T) {
	cases := []struct {
		num  int64
		den  int64
		want int64
	}{
		{7, 2, 4},  // 3.5 -> 4 (even)
		{5, 2, 2},  // 2.5 -> 2 (even)
		{9, 4, 2},  // 2.25 -> 2
		{11, 4, 3}, // 2.75 -> 3
	}
	for _, tc := range cases {
		if got := DivBig(big.NewInt(tc.num), tc.den, RoundHalfEven); got != tc.want {
			t.Errorf("%d/%d half-even = %d, want %d", tc.num, tc.den, got, tc.want)
		}
	}
}

// ============================================================================
// Precision rescaling
// ============================================================================

func TestRescale(t *testing.T) {
	// 1.5 at 18 decimals down to 6 decimals
	v := new(big.Int).Mul(big.NewInt(15), Pow10(17))
	got := Rescale(v, 18, 6)
	if got.Int64() != 1_500_000 {
		t.Errorf("Rescale 18->6 = %s, want 1500000", got)
	}

	// back up loses nothing on round numbers
	up := Rescale(got, 6, 18)
	if up.Cmp(v) != 0 {
		t.Errorf("Rescale 6->18 = %s, want %s", up, v)
	}
}

func TestRescaleTruncates(t *testing.T) {
	// 1 wei at 18 decimals is below 6-decimal resolution
	got := Rescale(big.NewInt(1), 18, 6)
	if got.Sign() != 0 {
		t.Errorf("Rescale(1 wei) = %s, want 0", got)
	}
}

func TestRescaleDoesNotMutateInput(t *testing.T) {
	v := big.NewInt(1_000_000)
	Rescale(v, 6, 18)
	if v.Int64() != 1_000_000 {
		t.Errorf("input mutated to %s", v)
	}
}

// ============================================================================
// Instrument valuation
// ============================================================================

func TestUnitValue(t *testing.T) {
	// 1000 units worth 500 native tokens: 0.5 each
	totalValue := new(big.Int).Mul(big.NewInt(500), Pow10(18))
	unit := UnitValue(totalValue, 1000)
	want := new(big.Int).Mul(big.NewInt(5), Pow10(17))
	if unit.Cmp(want) != 0 {
		t.Errorf("UnitValue = %s, want %s", unit, want)
	}
}

func TestValuePlusYield(t *testing.T) {
	unit := Pow10(18) // 1.0
	got := ValuePlusYield(unit, MaxPercentage/10)
	want := new(big.Int).Mul(big.NewInt(11), Pow10(17)) // 1.1
	if got.Cmp(want) != 0 {
		t.Errorf("ValuePlusYield = %s, want %s", got, want)
	}
}

func TestRequiredAmount(t *testing.T) {
	unit := Pow10(18) // 1.0 native
	got, ok := RequiredAmount(unit, 250, 18, 6)
	if !ok {
		t.Fatal("RequiredAmount reported overflow")
	}
	if got != 250_000_000 {
		t.Errorf("RequiredAmount = %d, want 250000000", got)
	}
}

func TestRequiredAmountOverflow(t *testing.T) {
	huge := new(big.Int).Mul(Pow10(18), Pow10(18))
	if _, ok := RequiredAmount(huge, 1_000_000, 18, 6); ok {
		t.Error("expected overflow to be reported")
	}
}

func TestSupplyCapMatchesRequiredAmountForFullSupply(t *testing.T) {
	unit := new(big.Int).Mul(big.NewInt(3), Pow10(17)) // 0.3
	capAmt, ok1 := SupplyCap(unit, 1000, 18, 6)
	reqAmt, ok2 := RequiredAmount(unit, 1000, 18, 6)
	if !ok1 || !ok2 {
		t.Fatal("unexpected overflow")
	}
	if capAmt != reqAmt {
		t.Errorf("SupplyCap = %d, RequiredAmount = %d, want equal", capAmt, reqAmt)
	}
}
