package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeEnergyMint    JournalType = iota // certification credit from the grid
	JournalTypeEnergyBurn                       // refund back to the grid
	JournalTypeEnergyEscrow                     // free -> listed on add-energy-for-sale
	JournalTypeEnergyRelease                    // listed -> free on remove-energy-from-sale
	JournalTypeEnergySold                       // seller listed -> buyer free on purchase
	JournalTypeTradePayment                     // buyer cash -> seller cash (net of fee)
	JournalTypeTradeFee                         // buyer cash -> owner cash
	JournalTypeCashDeposit
	JournalTypeCashWithdrawal
	JournalTypeAdjustment
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeEnergyMint:
		return "energy_mint"
	case JournalTypeEnergyBurn:
		return "energy_burn"
	case JournalTypeEnergyEscrow:
		return "energy_escrow"
	case JournalTypeEnergyRelease:
		return "energy_release"
	case JournalTypeEnergySold:
		return "energy_sold"
	case JournalTypeTradePayment:
		return "trade_payment"
	case JournalTypeTradeFee:
		return "trade_fee"
	case JournalTypeCashDeposit:
		return "cash_deposit"
	case JournalTypeCashWithdrawal:
		return "cash_withdrawal"
	case JournalTypeAdjustment:
		return "adjustment"
	default:
		return "unknown"
	}
}

// JournalTypeFromString parses the stored journal_type column back into
// its typed form. Unknown strings map to JournalTypeAdjustment.
func JournalTypeFromString(s string) JournalType {
	switch s {
	case "energy_mint":
		return JournalTypeEnergyMint
	case "energy_burn":
		return JournalTypeEnergyBurn
	case "energy_escrow":
		return JournalTypeEnergyEscrow
	case "energy_release":
		return JournalTypeEnergyRelease
	case "energy_sold":
		return JournalTypeEnergySold
	case "trade_payment":
		return JournalTypeTradePayment
	case "trade_fee":
		return JournalTypeTradeFee
	case "cash_deposit":
		return JournalTypeCashDeposit
	case "cash_withdrawal":
		return JournalTypeCashWithdrawal
	default:
		return JournalTypeAdjustment
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source transaction
	Sequence      int64       // Global transaction sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Note on balance invariant: each journal entry is a balanced transfer by construction
// (a single positive amount moves from credit account to debit account). Therefore
// Σ debits == Σ credits is guaranteed per-entry. Multi-leg batches (e.g., a purchase
// with its fee) use multiple entries under one batch_id — each individually balanced.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s moves asset %d between mismatched accounts", j.JournalID, j.AssetID)
		}
	}

	return nil
}
