package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies the batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateCustodyNonNegative verifies custody never goes below zero.
// Custody is the pool of collected premiums; a negative balance means
// a payout was journaled without funds to back it.
func (v *InvariantValidator) ValidateCustodyNonNegative(assetID AssetID) error {
	key := NewSystemAccountKey(SubTypeCustody, assetID)
	return v.tracker.ValidateNonNegative(key)
}

// ValidateAllCustodyNonNegative runs the custody check for every
// settlement asset the ledger knows about.
func (v *InvariantValidator) ValidateAllCustodyNonNegative() error {
	for _, assetID := range assetToID {
		if err := v.ValidateCustodyNonNegative(assetID); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
