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

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidatePrincipalNonNegative checks every sub-account of a principal is >= 0
func (v *InvariantValidator) ValidatePrincipalNonNegative(principal string) error {
	keys := []AccountKey{
		NewUserAccountKey(principal, SubTypeEnergyFree, AssetEnergy),
		NewUserAccountKey(principal, SubTypeEnergyListed, AssetEnergy),
		NewUserAccountKey(principal, SubTypeCash, AssetCurrency),
	}
	for _, k := range keys {
		if err := v.tracker.ValidateNonNegative(k); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGlobalBalance verifies the system is zero-sum per asset
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

// ValidateReserveCeiling verifies Σ listed energy <= reserveLimit
func (v *InvariantValidator) ValidateReserveCeiling(totalListed, reserveLimit int64) error {
	if totalListed > reserveLimit {
		return fmt.Errorf("reserve ceiling breached: listed=%d, limit=%d", totalListed, reserveLimit)
	}
	return nil
}
