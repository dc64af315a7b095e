package ledger

import (
	"fmt"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// === Principal Balance Queries ===

// GetFreeEnergy returns a principal's free (unlisted) energy balance
func (bt *BalanceTracker) GetFreeEnergy(principal string) int64 {
	return bt.GetBalance(NewUserAccountKey(principal, SubTypeEnergyFree, AssetEnergy))
}

// GetListedEnergy returns a principal's escrowed (listed) energy balance
func (bt *BalanceTracker) GetListedEnergy(principal string) int64 {
	return bt.GetBalance(NewUserAccountKey(principal, SubTypeEnergyListed, AssetEnergy))
}

// GetTotalEnergy returns free + listed energy, the quantity the per-user
// cap is measured against.
func (bt *BalanceTracker) GetTotalEnergy(principal string) int64 {
	return bt.GetFreeEnergy(principal) + bt.GetListedEnergy(principal)
}

// GetCash returns a principal's currency balance
func (bt *BalanceTracker) GetCash(principal string) int64 {
	return bt.GetBalance(NewUserAccountKey(principal, SubTypeCash, AssetCurrency))
}

// === Invariant Checks ===

// ValidateSufficientFreeEnergy checks a principal can give up `required` kWh
func (bt *BalanceTracker) ValidateSufficientFreeEnergy(principal string, required int64) error {
	free := bt.GetFreeEnergy(principal)
	if free < required {
		return fmt.Errorf("insufficient free energy: have=%d, need=%d", free, required)
	}
	return nil
}

// ValidateSufficientCash checks a principal can pay `required`
func (bt *BalanceTracker) ValidateSufficientCash(principal string, required int64) error {
	cash := bt.GetCash(principal)
	if cash < required {
		return fmt.Errorf("insufficient currency balance: have=%d, need=%d", cash, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0.
// Only user-scope accounts are required to be non-negative; external
// boundary accounts track net flows and go negative by construction.
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 per asset for
// a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ComputeSystemEnergy returns the total energy held by user accounts
// (free + listed across all principals). It equals the negation of the
// external grid account and changes only through mint and burn.
func (bt *BalanceTracker) ComputeSystemEnergy() int64 {
	var total int64
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeUser && key.AssetID == AssetEnergy {
			total += balance
		}
	}
	return total
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances from a snapshot
func (bt *BalanceTracker) Restore(snapshot map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(snapshot))
	for k, v := range snapshot {
		bt.balances[k] = v
	}
}
