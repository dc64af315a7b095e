package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from transactions
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence realigns the generator after snapshot restore
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) appendJournal(b *Batch, debit, credit AccountKey, assetID AssetID, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateEnergyMint credits a producer with certified energy.
// Moves energy: external:grid → user:energy_free. This is the sole
// path that increases total system energy.
func (jg *JournalGenerator) GenerateEnergyMint(
	producer string,
	eventRef string,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.appendJournal(batch,
		NewUserAccountKey(producer, SubTypeEnergyFree, AssetEnergy),
		NewExternalAccountKey(SubTypeExternalGrid, AssetEnergy),
		AssetEnergy, amount, JournalTypeEnergyMint)

	jg.sequence++
	return batch, nil
}

// GenerateEnergyBurn returns energy to the grid.
// Pre-check: caller must hold at least `amount` free energy.
// Moves energy: user:energy_free → external:grid.
func (jg *JournalGenerator) GenerateEnergyBurn(
	caller string,
	eventRef string,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientFreeEnergy(caller, amount); err != nil {
		return nil, fmt.Errorf("refund pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalGrid, AssetEnergy),
		NewUserAccountKey(caller, SubTypeEnergyFree, AssetEnergy),
		AssetEnergy, amount, JournalTypeEnergyBurn)

	jg.sequence++
	return batch, nil
}

// GenerateEnergyEscrow locks energy behind a sale listing.
// Pre-check: seller must hold at least `amount` free energy.
// Moves energy: user:energy_free → user:energy_listed.
func (jg *JournalGenerator) GenerateEnergyEscrow(
	seller string,
	eventRef string,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientFreeEnergy(seller, amount); err != nil {
		return nil, fmt.Errorf("escrow pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.appendJournal(batch,
		NewUserAccountKey(seller, SubTypeEnergyListed, AssetEnergy),
		NewUserAccountKey(seller, SubTypeEnergyFree, AssetEnergy),
		AssetEnergy, amount, JournalTypeEnergyEscrow)

	jg.sequence++
	return batch, nil
}

// GenerateEnergyRelease returns escrowed energy to the seller's free balance.
// Pre-check: seller must have at least `amount` listed.
// Moves energy: user:energy_listed → user:energy_free.
func (jg *JournalGenerator) GenerateEnergyRelease(
	seller string,
	eventRef string,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	listed := jg.balanceTracker.GetListedEnergy(seller)
	if listed < amount {
		return nil, fmt.Errorf("release pre-check failed: listed=%d, need=%d", listed, amount)
	}

	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.appendJournal(batch,
		NewUserAccountKey(seller, SubTypeEnergyFree, AssetEnergy),
		NewUserAccountKey(seller, SubTypeEnergyListed, AssetEnergy),
		AssetEnergy, amount, JournalTypeEnergyRelease)

	jg.sequence++
	return batch, nil
}

// GeneratePurchase creates the journals for buy-energy-from-user:
// escrowed energy moves to the buyer, the buyer pays the seller net of
// the trading fee, and the fee routes to the owner's cash account.
// Pre-checks: seller has `amount` listed, buyer can pay `totalCost`.
// fee + netToSeller must equal totalCost.
func (jg *JournalGenerator) GeneratePurchase(
	buyer string,
	seller string,
	owner string,
	eventRef string,
	amount int64,
	netToSeller int64,
	fee int64,
	timestamp int64,
) (*Batch, error) {
	totalCost := netToSeller + fee

	listed := jg.balanceTracker.GetListedEnergy(seller)
	if listed < amount {
		return nil, fmt.Errorf("purchase pre-check failed: seller listed=%d, need=%d", listed, amount)
	}
	if err := jg.balanceTracker.ValidateSufficientCash(buyer, totalCost); err != nil {
		return nil, fmt.Errorf("purchase pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, timestamp, 3)

	// Energy leg: seller escrow -> buyer free
	jg.appendJournal(batch,
		NewUserAccountKey(buyer, SubTypeEnergyFree, AssetEnergy),
		NewUserAccountKey(seller, SubTypeEnergyListed, AssetEnergy),
		AssetEnergy, amount, JournalTypeEnergySold)

	// Payment leg: buyer cash -> seller cash (net of fee)
	if netToSeller > 0 {
		jg.appendJournal(batch,
			NewUserAccountKey(seller, SubTypeCash, AssetCurrency),
			NewUserAccountKey(buyer, SubTypeCash, AssetCurrency),
			AssetCurrency, netToSeller, JournalTypeTradePayment)
	}

	// Fee leg: buyer cash -> owner cash. Skipped when the buyer is the
	// owner: the transfer would be a self-entry and a no-op.
	if fee > 0 && buyer != owner {
		jg.appendJournal(batch,
			NewUserAccountKey(owner, SubTypeCash, AssetCurrency),
			NewUserAccountKey(buyer, SubTypeCash, AssetCurrency),
			AssetCurrency, fee, JournalTypeTradeFee)
	}

	jg.sequence++
	return batch, nil
}

// GenerateCashDeposit records gateway-confirmed currency entering the ledger.
// Moves currency: external:funds → user:cash.
func (jg *JournalGenerator) GenerateCashDeposit(
	principal string,
	eventRef string,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.appendJournal(batch,
		NewUserAccountKey(principal, SubTypeCash, AssetCurrency),
		NewExternalAccountKey(SubTypeExternalFunds, AssetCurrency),
		AssetCurrency, amount, JournalTypeCashDeposit)

	jg.sequence++
	return batch, nil
}

// GenerateCashWithdrawal records currency leaving the ledger.
// Pre-check: principal must hold at least `amount`.
// Moves currency: user:cash → external:funds.
func (jg *JournalGenerator) GenerateCashWithdrawal(
	principal string,
	eventRef string,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientCash(principal, amount); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalFunds, AssetCurrency),
		NewUserAccountKey(principal, SubTypeCash, AssetCurrency),
		AssetCurrency, amount, JournalTypeCashWithdrawal)

	jg.sequence++
	return batch, nil
}
