package persistence_test

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"testing"
	"time"

	"wattconnect/internal/ledger"
	"wattconnect/internal/persistence"
	"wattconnect/internal/state"
	"wattconnect/internal/testutil"

	"github.com/google/uuid"
)

// setupDB opens the test Postgres, runs migrations, and returns a clean DB.
// Skipped unless INTEGRATION_TEST=1 and the compose Postgres is up.
func setupDB(t *testing.T) (context.Context, *sql.DB, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	ctx := context.Background()

	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		cleanup()
		t.Fatalf("run migrations: %v", err)
	}

	return ctx, db, cleanup
}

func sampleTransactionRows(n int, startSeq int64) []persistence.TransactionRow {
	rows := make([]persistence.TransactionRow, 0, n)
	for i := 0; i < n; i++ {
		seq := startSeq + int64(i)
		hash := sha256.Sum256([]byte{byte(seq)})
		prev := sha256.Sum256([]byte{byte(seq - 1)})
		rows = append(rows, persistence.TransactionRow{
			Sequence:       seq,
			Operation:      "deposit-funds",
			IdempotencyKey: uuid.NewString(),
			Caller:         "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7",
			Payload:        []byte(`{"amount":1000}`),
			StateHash:      hash[:],
			PrevHash:       prev[:],
			BlockHeight:    100 + seq,
			SourceSequence: seq,
			Timestamp:      time.Now().UTC().Truncate(time.Microsecond),
		})
	}
	return rows
}

func TestWriteAndLoadTransactions(t *testing.T) {
	ctx, db, cleanup := setupDB(t)
	defer cleanup()

	writer := persistence.NewTxLogWriter(db)
	snapMgr := persistence.NewSnapshotManager(db)

	rows := sampleTransactionRows(5, 0)
	if err := writer.WriteTransactionBatch(ctx, db, rows); err != nil {
		t.Fatalf("write transactions: %v", err)
	}

	loaded, err := snapMgr.LoadTransactionsFrom(ctx, 0, 100)
	if err != nil {
		t.Fatalf("load transactions: %v", err)
	}
	if len(loaded) != 5 {
		t.Fatalf("loaded %d transactions, want 5", len(loaded))
	}
	for i, got := range loaded {
		want := rows[i]
		if got.Sequence != want.Sequence {
			t.Errorf("row %d: sequence = %d, want %d", i, got.Sequence, want.Sequence)
		}
		if got.Operation != want.Operation {
			t.Errorf("row %d: operation = %q, want %q", i, got.Operation, want.Operation)
		}
		if got.IdempotencyKey != want.IdempotencyKey {
			t.Errorf("row %d: idempotency key = %q, want %q", i, got.IdempotencyKey, want.IdempotencyKey)
		}
		if string(got.Payload) != string(want.Payload) {
			t.Errorf("row %d: payload = %s, want %s", i, got.Payload, want.Payload)
		}
		if got.SourceSequence != want.SourceSequence {
			t.Errorf("row %d: source sequence = %d, want %d", i, got.SourceSequence, want.SourceSequence)
		}
	}

	head, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("get latest sequence: %v", err)
	}
	if head != 4 {
		t.Errorf("latest sequence = %d, want 4", head)
	}

	// Loading from the middle skips earlier rows.
	tail, err := snapMgr.LoadTransactionsFrom(ctx, 3, 100)
	if err != nil {
		t.Fatalf("load from sequence 3: %v", err)
	}
	if len(tail) != 2 {
		t.Errorf("loaded %d transactions from sequence 3, want 2", len(tail))
	}
}

func TestWriteTransactionBatch_Idempotent(t *testing.T) {
	ctx, db, cleanup := setupDB(t)
	defer cleanup()

	writer := persistence.NewTxLogWriter(db)
	snapMgr := persistence.NewSnapshotManager(db)

	rows := sampleTransactionRows(3, 0)
	if err := writer.WriteTransactionBatch(ctx, db, rows); err != nil {
		t.Fatalf("first write: %v", err)
	}
	// Re-persisting the same sequences after a restart must be a no-op.
	if err := writer.WriteTransactionBatch(ctx, db, rows); err != nil {
		t.Fatalf("replayed write: %v", err)
	}

	loaded, err := snapMgr.LoadTransactionsFrom(ctx, 0, 100)
	if err != nil {
		t.Fatalf("load transactions: %v", err)
	}
	if len(loaded) != 3 {
		t.Errorf("loaded %d transactions after double write, want 3", len(loaded))
	}
}

func TestWriteJournalBatch(t *testing.T) {
	ctx, db, cleanup := setupDB(t)
	defer cleanup()

	writer := persistence.NewTxLogWriter(db)

	buyer := ledger.NewUserAccountKey("SP_BUYER", ledger.SubTypeCash, ledger.AssetCurrency)
	seller := ledger.NewUserAccountKey("SP_SELLER", ledger.SubTypeCash, ledger.AssetCurrency)
	batchID := uuid.New()
	journals := []persistence.JournalRow{
		{
			JournalID:     uuid.NewString(),
			BatchID:       batchID.String(),
			EventRef:      "buy-energy-from-user",
			Sequence:      7,
			DebitAccount:  seller.AccountPath(),
			CreditAccount: buyer.AccountPath(),
			AssetID:       uint16(ledger.AssetCurrency),
			Amount:        900,
			JournalType:   "trade_payment",
			Timestamp:     time.Now().UnixNano(),
		},
		{
			JournalID:     uuid.NewString(),
			BatchID:       batchID.String(),
			EventRef:      "buy-energy-from-user",
			Sequence:      7,
			DebitAccount:  ledger.NewUserAccountKey("SP_OWNER", ledger.SubTypeCash, ledger.AssetCurrency).AccountPath(),
			CreditAccount: buyer.AccountPath(),
			AssetID:       uint16(ledger.AssetCurrency),
			Amount:        100,
			JournalType:   "trade_fee",
			Timestamp:     time.Now().UnixNano(),
		},
	}

	if err := writer.WriteJournalBatch(ctx, db, journals); err != nil {
		t.Fatalf("write journals: %v", err)
	}
	// Same primary keys again: dropped, not duplicated.
	if err := writer.WriteJournalBatch(ctx, db, journals); err != nil {
		t.Fatalf("replayed journal write: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_log.journal WHERE sequence = 7`).Scan(&count); err != nil {
		t.Fatalf("count journals: %v", err)
	}
	if count != 2 {
		t.Errorf("journal rows = %d, want 2", count)
	}
}

func TestPostgresIdempotencyChecker(t *testing.T) {
	ctx, db, cleanup := setupDB(t)
	defer cleanup()

	writer := persistence.NewTxLogWriter(db)

	rows := sampleTransactionRows(1, 0)
	if err := writer.WriteTransactionBatch(ctx, db, rows); err != nil {
		t.Fatalf("write transaction: %v", err)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)

	dup, err := checker.IsDuplicate(rows[0].Operation, rows[0].IdempotencyKey)
	if err != nil {
		t.Fatalf("check committed key: %v", err)
	}
	if !dup {
		t.Error("committed key not reported as duplicate")
	}

	dup, err = checker.IsDuplicate(rows[0].Operation, uuid.NewString())
	if err != nil {
		t.Fatalf("check fresh key: %v", err)
	}
	if dup {
		t.Error("fresh key reported as duplicate")
	}

	// Same key under a different operation is a distinct submission.
	dup, err = checker.IsDuplicate("withdraw-funds", rows[0].IdempotencyKey)
	if err != nil {
		t.Fatalf("check cross-operation key: %v", err)
	}
	if dup {
		t.Error("key under different operation reported as duplicate")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx, db, cleanup := setupDB(t)
	defer cleanup()

	snapMgr := persistence.NewSnapshotManager(db)

	alice := ledger.NewUserAccountKey("SP_ALICE", ledger.SubTypeCash, ledger.AssetCurrency)
	bob := ledger.NewUserAccountKey("SP_BOB", ledger.SubTypeEnergyListed, ledger.AssetEnergy)
	grid := ledger.NewExternalAccountKey(ledger.SubTypeExternalGrid, ledger.AssetEnergy)

	hash := sha256.Sum256([]byte("snapshot-state"))
	snap := &persistence.SnapshotData{
		Sequence:  42,
		StateHash: hash[:],
		Balances: map[string]int64{
			alice.AccountPath(): 5_000,
			bob.AccountPath():   300,
			grid.AccountPath():  -300,
		},
		Config: state.ConfigSnapshot{
			Owner:             "SP_OWNER",
			CertificationFee:  100,
			TradingFeeRatePPM: 100_000,
			MaxEnergyPerUser:  10_000,
			ReserveLimit:      1_000_000,
			Certifiers:        []string{"SP_CERTIFIER"},
		},
		Certifications: map[string]state.CertificationRecord{
			"SP_BOB": {
				Producer:        "SP_BOB",
				Status:          state.StatusCertified,
				EnergyAmount:    500,
				Source:          "solar",
				AppliedAtHeight: 120,
			},
		},
		Listings: map[string]state.Listing{
			"SP_BOB": {Seller: "SP_BOB", Amount: 300, PricePerUnit: 10, UpdatedAtHeight: 130},
		},
		SequenceState:   map[string]int64{"global": 43},
		LastBlockHeight: 130,
		IdempotencyKeys: []string{"deposit-funds:" + uuid.NewString()},
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}

	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// Unverified snapshots are not eligible for restore.
	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load before verify: %v", err)
	}
	if loaded != nil {
		t.Fatal("unverified snapshot returned by LoadLatestSnapshot")
	}

	if err := snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	loaded, err = snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("verified snapshot not returned")
	}
	if loaded.Sequence != snap.Sequence {
		t.Errorf("sequence = %d, want %d", loaded.Sequence, snap.Sequence)
	}
	if len(loaded.Balances) != 3 {
		t.Errorf("balances = %d entries, want 3", len(loaded.Balances))
	}
	if loaded.Balances[alice.AccountPath()] != 5_000 {
		t.Errorf("alice balance = %d, want 5000", loaded.Balances[alice.AccountPath()])
	}
	if loaded.Config.Owner != "SP_OWNER" {
		t.Errorf("config owner = %q, want SP_OWNER", loaded.Config.Owner)
	}
	if loaded.Listings["SP_BOB"].Amount != 300 {
		t.Errorf("listing amount = %d, want 300", loaded.Listings["SP_BOB"].Amount)
	}

	restored, err := loaded.ToCoreState()
	if err != nil {
		t.Fatalf("to core state: %v", err)
	}
	if restored.Balances[alice] != 5_000 {
		t.Errorf("restored alice balance = %d, want 5000", restored.Balances[alice])
	}
	if restored.StateHash != hash {
		t.Errorf("restored state hash mismatch")
	}
	if restored.SequenceState["global"] != 43 {
		t.Errorf("restored sequence state = %d, want 43", restored.SequenceState["global"])
	}
}

func TestLoadLatestSnapshot_PicksHighestVerified(t *testing.T) {
	ctx, db, cleanup := setupDB(t)
	defer cleanup()

	snapMgr := persistence.NewSnapshotManager(db)

	for _, seq := range []int64{10, 20, 30} {
		hash := sha256.Sum256([]byte{byte(seq)})
		snap := &persistence.SnapshotData{
			Sequence:  seq,
			StateHash: hash[:],
			Balances:  map[string]int64{},
			CreatedAt: time.Now().UTC(),
		}
		if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("save snapshot %d: %v", seq, err)
		}
	}
	// Only the first two get verified; 30 stays pending.
	for _, seq := range []int64{10, 20} {
		if err := snapMgr.MarkVerified(ctx, seq); err != nil {
			t.Fatalf("mark verified %d: %v", seq, err)
		}
	}

	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("no snapshot returned")
	}
	if loaded.Sequence != 20 {
		t.Errorf("loaded sequence = %d, want 20 (highest verified)", loaded.Sequence)
	}
}
