package ledger_test

import (
	"testing"

	"wattconnect/internal/ledger"

	"github.com/google/uuid"
)

const (
	alice = "SP2ZNGJ85ENDY6QTHCVK9JFKY1W2A4GR8Y02LB2FW"
	bob   = "SP3FBR2AGK5H9QBDH3EEN6DF8EK8JY7RX8QJ5SVTE"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	key := ledger.NewUserAccountKey(alice, ledger.SubTypeEnergyFree, ledger.AssetEnergy)

	path := key.AccountPath()
	expected := "user:" + alice + ":energy_free:KWH"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalGrid, ledger.AssetEnergy)

	path := key.AccountPath()
	if path != "external:grid:KWH" {
		t.Errorf("got %q, want %q", path, "external:grid:KWH")
	}
}

func TestGetAssetID_Known(t *testing.T) {
	id, ok := ledger.GetAssetID("KWH")
	if !ok {
		t.Fatal("KWH should be a known asset")
	}
	if id != ledger.AssetEnergy {
		t.Errorf("got %d, want %d", id, ledger.AssetEnergy)
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("BTC")
	if ok {
		t.Error("BTC should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	if bt.GetTotalEnergy(alice) != 0 {
		t.Errorf("initial energy should be 0, got %d", bt.GetTotalEnergy(alice))
	}
	if bt.GetCash(alice) != 0 {
		t.Errorf("initial cash should be 0, got %d", bt.GetCash(alice))
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	// Simulate certification mint: debit user:energy_free, credit external:grid
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeEnergyFree, ledger.AssetEnergy),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalGrid, ledger.AssetEnergy),
		AssetID:       ledger.AssetEnergy,
		Amount:        500,
	}

	bt.ApplyJournal(j)

	if free := bt.GetFreeEnergy(alice); free != 500 {
		t.Errorf("free energy: got %d, want 500", free)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	// Mint
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeEnergyFree, ledger.AssetEnergy),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalGrid, ledger.AssetEnergy),
		AssetID:       ledger.AssetEnergy,
		Amount:        500,
	})

	// Escrow part of it
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeEnergyListed, ledger.AssetEnergy),
		CreditAccount: ledger.NewUserAccountKey(alice, ledger.SubTypeEnergyFree, ledger.AssetEnergy),
		AssetID:       ledger.AssetEnergy,
		Amount:        200,
	})

	totals := bt.ComputeGlobalBalance()
	for aid, total := range totals {
		if total != 0 {
			t.Errorf("asset %d has non-zero global balance: %d", aid, total)
		}
	}

	if bt.GetFreeEnergy(alice) != 300 {
		t.Errorf("free: got %d, want 300", bt.GetFreeEnergy(alice))
	}
	if bt.GetListedEnergy(alice) != 200 {
		t.Errorf("listed: got %d, want 200", bt.GetListedEnergy(alice))
	}
	if bt.GetTotalEnergy(alice) != 500 {
		t.Errorf("total: got %d, want 500", bt.GetTotalEnergy(alice))
	}
}

func TestBalanceTracker_ValidateSufficientFreeEnergy(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	// No balance — should fail
	if err := bt.ValidateSufficientFreeEnergy(alice, 100); err == nil {
		t.Error("expected error for insufficient free energy")
	}

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeEnergyFree, ledger.AssetEnergy),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalGrid, ledger.AssetEnergy),
		AssetID:       ledger.AssetEnergy,
		Amount:        1_000,
	})

	if err := bt.ValidateSufficientFreeEnergy(alice, 1_000); err != nil {
		t.Errorf("should have sufficient free energy: %v", err)
	}
	if err := bt.ValidateSufficientFreeEnergy(alice, 1_001); err == nil {
		t.Error("expected error for 1_001 > 1_000")
	}
}

func TestBalanceTracker_SnapshotAndRestore(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeCash, ledger.AssetCurrency),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunds, ledger.AssetCurrency),
		AssetID:       ledger.AssetCurrency,
		Amount:        999,
	})

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}
	if bt.GetCash(alice) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}

	// Restore into a fresh tracker
	bt2 := ledger.NewBalanceTracker()
	bt2.Restore(bt.Snapshot())
	if bt2.GetCash(alice) != 999 {
		t.Errorf("restored cash: got %d, want 999", bt2.GetCash(alice))
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeEnergyFree, ledger.AssetEnergy),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalGrid, ledger.AssetEnergy),
				AssetID:       ledger.AssetEnergy,
				Amount:        0,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_NegativeAmount_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeEnergyFree, ledger.AssetEnergy),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalGrid, ledger.AssetEnergy),
				AssetID:       ledger.AssetEnergy,
				Amount:        -100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("negative amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	sameAccount := ledger.NewUserAccountKey(alice, ledger.SubTypeEnergyFree, ledger.AssetEnergy)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  sameAccount,
				CreditAccount: sameAccount,
				AssetID:       ledger.AssetEnergy,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       uuid.New(), // Different batch ID
				DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeEnergyFree, ledger.AssetEnergy),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalGrid, ledger.AssetEnergy),
				AssetID:       ledger.AssetEnergy,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

func TestBatchValidate_AssetMismatch_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeCash, ledger.AssetCurrency),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalGrid, ledger.AssetEnergy),
				AssetID:       ledger.AssetEnergy,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("cross-asset journal should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func newGenerator() (*ledger.JournalGenerator, *ledger.BalanceTracker) {
	bt := ledger.NewBalanceTracker()
	return ledger.NewJournalGenerator(0, bt), bt
}

func mintEnergy(t *testing.T, jg *ledger.JournalGenerator, bt *ledger.BalanceTracker, principal string, amount int64) {
	t.Helper()
	batch, err := jg.GenerateEnergyMint(principal, uuid.NewString(), amount, 1)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply mint: %v", err)
	}
}

func depositCash(t *testing.T, jg *ledger.JournalGenerator, bt *ledger.BalanceTracker, principal string, amount int64) {
	t.Helper()
	batch, err := jg.GenerateCashDeposit(principal, uuid.NewString(), amount, 1)
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply deposit: %v", err)
	}
}

func TestGenerator_EscrowRequiresFreeEnergy(t *testing.T) {
	jg, bt := newGenerator()

	if _, err := jg.GenerateEnergyEscrow(alice, uuid.NewString(), 10, 1); err == nil {
		t.Fatal("escrow with no free energy should fail pre-check")
	}

	mintEnergy(t, jg, bt, alice, 50)

	batch, err := jg.GenerateEnergyEscrow(alice, uuid.NewString(), 50, 1)
	if err != nil {
		t.Fatalf("escrow failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply escrow: %v", err)
	}

	if bt.GetFreeEnergy(alice) != 0 {
		t.Errorf("free after full escrow: got %d, want 0", bt.GetFreeEnergy(alice))
	}
	if bt.GetListedEnergy(alice) != 50 {
		t.Errorf("listed after escrow: got %d, want 50", bt.GetListedEnergy(alice))
	}
}

func TestGenerator_ReleaseRequiresListed(t *testing.T) {
	jg, bt := newGenerator()
	mintEnergy(t, jg, bt, alice, 50)

	batch, err := jg.GenerateEnergyEscrow(alice, uuid.NewString(), 10, 1)
	if err != nil {
		t.Fatalf("escrow failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply escrow: %v", err)
	}

	if _, err := jg.GenerateEnergyRelease(alice, uuid.NewString(), 15, 1); err == nil {
		t.Fatal("releasing more than listed should fail pre-check")
	}

	batch, err = jg.GenerateEnergyRelease(alice, uuid.NewString(), 10, 1)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply release: %v", err)
	}

	if bt.GetFreeEnergy(alice) != 50 || bt.GetListedEnergy(alice) != 0 {
		t.Errorf("after release: free=%d listed=%d, want 50/0",
			bt.GetFreeEnergy(alice), bt.GetListedEnergy(alice))
	}
}

func TestGenerator_Purchase_MovesEnergyAndSplitsPayment(t *testing.T) {
	const owner = "SP000000000000000000002Q6VF78"
	jg, bt := newGenerator()

	// Seller lists 10, buyer funds 1000
	mintEnergy(t, jg, bt, bob, 10)
	escrow, err := jg.GenerateEnergyEscrow(bob, uuid.NewString(), 10, 1)
	if err != nil {
		t.Fatalf("escrow failed: %v", err)
	}
	if err := bt.ApplyBatch(escrow); err != nil {
		t.Fatalf("apply escrow: %v", err)
	}
	depositCash(t, jg, bt, alice, 1000)

	// Buy 5 at net=900 fee=100 (cost 1000)
	batch, err := jg.GeneratePurchase(alice, bob, owner, uuid.NewString(), 5, 900, 100, 1)
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply purchase: %v", err)
	}

	if bt.GetFreeEnergy(alice) != 5 {
		t.Errorf("buyer energy: got %d, want 5", bt.GetFreeEnergy(alice))
	}
	if bt.GetListedEnergy(bob) != 5 {
		t.Errorf("seller listed: got %d, want 5", bt.GetListedEnergy(bob))
	}
	if bt.GetCash(alice) != 0 {
		t.Errorf("buyer cash: got %d, want 0", bt.GetCash(alice))
	}
	if bt.GetCash(bob) != 900 {
		t.Errorf("seller cash: got %d, want 900", bt.GetCash(bob))
	}
	if bt.GetCash(owner) != 100 {
		t.Errorf("owner fee: got %d, want 100", bt.GetCash(owner))
	}
}

func TestGenerator_Purchase_InsufficientCash_Fails(t *testing.T) {
	const owner = "SP000000000000000000002Q6VF78"
	jg, bt := newGenerator()

	mintEnergy(t, jg, bt, bob, 10)
	escrow, _ := jg.GenerateEnergyEscrow(bob, uuid.NewString(), 10, 1)
	if err := bt.ApplyBatch(escrow); err != nil {
		t.Fatalf("apply escrow: %v", err)
	}
	depositCash(t, jg, bt, alice, 50)

	if _, err := jg.GeneratePurchase(alice, bob, owner, uuid.NewString(), 5, 900, 100, 1); err == nil {
		t.Fatal("purchase without funds should fail pre-check")
	}
}

func TestGenerator_Withdrawal_RequiresCash(t *testing.T) {
	jg, bt := newGenerator()

	if _, err := jg.GenerateCashWithdrawal(alice, uuid.NewString(), 100, 1); err == nil {
		t.Fatal("withdrawal with no cash should fail pre-check")
	}

	depositCash(t, jg, bt, alice, 100)

	batch, err := jg.GenerateCashWithdrawal(alice, uuid.NewString(), 100, 1)
	if err != nil {
		t.Fatalf("withdrawal failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply withdrawal: %v", err)
	}
	if bt.GetCash(alice) != 0 {
		t.Errorf("cash after withdrawal: got %d, want 0", bt.GetCash(alice))
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	// Empty ledger — should pass
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeEnergyFree, ledger.AssetEnergy),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalGrid, ledger.AssetEnergy),
		AssetID:       ledger.AssetEnergy,
		Amount:        1_000,
	})

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
}

func TestInvariantValidator_ReserveCeiling(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	if err := v.ValidateReserveCeiling(100, 100); err != nil {
		t.Errorf("at the limit should pass: %v", err)
	}
	if err := v.ValidateReserveCeiling(101, 100); err == nil {
		t.Error("over the limit should fail")
	}
}

func TestInvariantValidator_PrincipalNonNegative(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	if err := v.ValidatePrincipalNonNegative(alice); err != nil {
		t.Errorf("zero balances should pass: %v", err)
	}

	// Force a negative free balance
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewExternalAccountKey(ledger.SubTypeExternalGrid, ledger.AssetEnergy),
		CreditAccount: ledger.NewUserAccountKey(alice, ledger.SubTypeEnergyFree, ledger.AssetEnergy),
		AssetID:       ledger.AssetEnergy,
		Amount:        1,
	})

	if err := v.ValidatePrincipalNonNegative(alice); err == nil {
		t.Error("negative free balance should fail")
	}
}
