package settlement

import (
	fpmath "blockshield/internal/math"
)

// PayoutFor computes one buyer's settlement amounts.
//
// The prime is retained by the protocol in both branches. When the
// asset did not default, the buyer additionally receives the yield on
// the secured principal. All divisions truncate toward zero.
func PayoutFor(secured, primeWad, yieldWad int64, defaulted bool) (cost, payout int64) {
	cost = fpmath.ApplyRate(secured, primeWad)

	if defaulted {
		payout = secured - cost
		return cost, payout
	}

	yieldPortion := fpmath.ApplyRate(secured, yieldWad)
	payout = secured + yieldPortion - cost
	return cost, payout
}
