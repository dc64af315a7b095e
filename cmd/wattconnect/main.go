package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wattconnect/internal/config"
	"wattconnect/internal/core"
	"wattconnect/internal/ingestion"
	"wattconnect/internal/observability"
	"wattconnect/internal/persistence"
	"wattconnect/internal/projection"
	"wattconnect/internal/query"
	"wattconnect/internal/server"
	"wattconnect/internal/tx"

	_ "github.com/lib/pq"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: WattConnect ledger starting...")

	configPath := flag.String("config", os.Getenv("WATT_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	// --- Run SQL migrations ---
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Println("INFO: migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Recovery: load snapshot ---
	startSequence := int64(0)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Printf("WARN: failed to load snapshot: %v", err)
	}
	if snap != nil {
		startSequence = snap.Sequence + 1
		log.Printf("INFO: loaded snapshot at sequence %d", snap.Sequence)
	} else {
		log.Println("INFO: no snapshot found, cold start from sequence 0")
	}

	// --- Channels ---
	// The persist channel blocks (backpressure), the projection channel drops.
	txChan := make(chan ingestion.RawTx, cfg.TxChanCapacity)
	persistChan := make(chan core.CoreOutput, cfg.PersistChanCapacity)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanCapacity)
	receiptChan := make(chan ingestion.Receipt, cfg.ReceiptChanCapacity)

	// --- Deterministic Core ---
	// The tier-2 dedup checker attaches after replay: replayed transactions
	// sit in the log already and would dedup against themselves.
	tradingCore := core.NewTradingCore(
		cfg.Owner,
		startSequence,
		cfg.IdempotencyLRUSize,
		persistChan,
		projectionChan,
		nil,
		metrics,
	)

	// --- Snapshot Restore + LRU Warming ---
	if snap != nil {
		coreSnap, err := snap.ToCoreState()
		if err != nil {
			log.Fatalf("FATAL: snapshot restore: %v", err)
		}
		tradingCore.RestoreFromSnapshot(coreSnap)
		log.Printf("INFO: restored in-memory state from snapshot at sequence %d", snap.Sequence)

		if len(snap.IdempotencyKeys) > 0 {
			log.Printf("INFO: warming LRU with %d keys from snapshot", len(snap.IdempotencyKeys))
			tradingCore.WarmLRU(snap.IdempotencyKeys)
		}
	}

	// --- Start persistence + projection workers ---
	// Workers start before replay so replayed outputs drain instead of
	// filling the blocking persist channel. Re-persisted rows conflict on
	// their primary key and drop; the projection watermark skips re-applies.
	errChan := make(chan error, 10)

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics)
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	// --- Transaction Replay ---
	replayStart := time.Now()
	replayCount, err := replayFromLog(ctx, snapMgr, tradingCore, startSequence, cfg.ReplayBatchSize, metrics)
	if err != nil {
		log.Fatalf("FATAL: transaction replay failed: %v", err)
	}
	if replayCount > 0 {
		metrics.ReplayDuration.Set(time.Since(replayStart).Seconds())
		log.Printf("INFO: replayed %d transactions (sequence now at %d)", replayCount, tradingCore.GetSequence())
	}

	// --- State Hash Verification ---
	// With nothing to replay, the restored state must hash to exactly what
	// the snapshot recorded.
	if snap != nil && replayCount == 0 {
		var expectedHash [32]byte
		copy(expectedHash[:], snap.StateHash)
		actualHash := tradingCore.GetStateHash()
		if expectedHash != actualHash {
			log.Fatalf("FATAL: state hash mismatch after restore — expected %x, got %x", expectedHash, actualHash)
		}
		log.Println("INFO: state hash verified after snapshot restore")
	}

	// Recovery done — enable the cold-path dedup lookup for live traffic.
	tradingCore.AttachDBChecker(persistence.NewPostgresIdempotencyChecker(db))

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Println("INFO: NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}
	if err := ingestion.EnsureReceiptStream(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure receipt stream: %v", err)
	}

	natsSubscriber := ingestion.NewNATSSubscriber(js, txChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}

	// --- Receipt publisher ---
	receiptPublisher := ingestion.NewReceiptPublisher(js, receiptChan)
	go func() {
		errChan <- receiptPublisher.Run(ctx)
	}()

	// --- Core processing loop ---
	go func() {
		runProcessingLoop(ctx, txChan, tradingCore, receiptChan, metrics)
	}()

	// --- Services + HTTP server ---
	queryService := query.NewQueryService(db, cfg.Owner)
	ingestService := ingestion.NewHTTPIngestService(txChan)

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, &server.ServerDeps{
		DB:            db,
		QueryService:  queryService,
		IngestService: ingestService,
		SnapshotMgr:   snapMgr,
		StartTime:     time.Now(),
		HealthChecker: healthChecker,
	})
	go func() {
		errChan <- httpServer.Start(ctx)
	}()

	// --- Periodic snapshots ---
	go func() {
		runPeriodicSnapshots(ctx, tradingCore, snapMgr, cfg.SnapshotInterval, metrics)
	}()

	healthChecker.SetReady(true)
	log.Printf("INFO: WattConnect ready (sequence=%d, http=%s, owner=%s)",
		tradingCore.GetSequence(), cfg.HTTPAddr, cfg.Owner)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	// --- Graceful shutdown ---
	healthChecker.SetReady(false)
	natsSubscriber.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Give workers a moment to flush their final batches.
	time.Sleep(2 * cfg.PersistFlushTimeout)

	if err := takeSnapshot(shutdownCtx, tradingCore, snapMgr, metrics); err != nil {
		log.Printf("ERROR: final snapshot failed: %v", err)
	} else {
		log.Println("INFO: final snapshot saved")
	}

	log.Println("INFO: WattConnect shutdown complete")
}

// runProcessingLoop drains submitted transactions, parses them, and runs
// them through the core one at a time. ACK/NAK semantics: parse failures
// and domain rejections ACK (redelivery cannot fix them), stream-ordering
// errors NAK so redelivery gets another chance once the gap closes.
func runProcessingLoop(
	ctx context.Context,
	txChan <-chan ingestion.RawTx,
	tradingCore *core.TradingCore,
	receiptChan chan<- ingestion.Receipt,
	metrics *observability.Metrics,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-txChan:
			if !ok {
				return
			}

			parsed, err := ingestion.ParseRawTx(raw, raw.Operation)
			if err != nil {
				log.Printf("WARN: parse failed (subject=%s): %v", raw.Subject, err)
				raw.AckFunc()
				continue
			}

			result, err := tradingCore.ProcessTx(parsed)
			if err != nil {
				// Ordering or stream error — the transaction itself may be
				// fine after redelivery.
				log.Printf("ERROR: process failed (op=%s, key=%s): %v",
					raw.Operation, parsed.IdempotencyKey(), err)
				raw.NakFunc()
				continue
			}

			raw.AckFunc()
			if metrics != nil && !raw.Timestamp.IsZero() {
				metrics.IngestToApply.WithLabelValues(raw.Operation).Observe(time.Since(raw.Timestamp).Seconds())
			}

			if result == nil {
				continue // Duplicate — receipt already went out the first time
			}

			rcpt := ingestion.Receipt{
				Operation:      raw.Operation,
				IdempotencyKey: parsed.IdempotencyKey(),
				Caller:         parsed.Caller(),
				Accepted:       result.OK,
				BlockHeight:    parsed.BlockHeight(),
				Timestamp:      parsed.Time(),
			}
			if result.OK {
				// Single-threaded loop: the core's sequence and hash still
				// belong to the transaction just applied.
				rcpt.Sequence = tradingCore.GetSequence() - 1
				hash := tradingCore.GetStateHash()
				rcpt.StateHash = hash[:]
			} else {
				rcpt.Sequence = -1
				rcpt.Error = result.Err.String()
			}

			select {
			case receiptChan <- rcpt:
			default:
				if metrics != nil {
					metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

// replayFromLog re-runs committed transactions through the core, starting
// at fromSequence. Used for warm restart (from the snapshot) and cold
// restart (the whole log).
func replayFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	tradingCore *core.TradingCore,
	fromSequence int64,
	batchSize int,
	metrics *observability.Metrics,
) (int64, error) {
	if batchSize <= 0 {
		batchSize = 10_000
	}

	var totalReplayed int64
	for {
		rows, err := snapMgr.LoadTransactionsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return totalReplayed, fmt.Errorf("load transactions from seq %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			replayTx, err := decodeLoggedTx(row.Operation, row.Payload)
			if err != nil {
				return totalReplayed, fmt.Errorf("decode seq=%d op=%s: %w", row.Sequence, row.Operation, err)
			}

			// The log holds only accepted transactions; rejected submissions
			// consumed source sequences in between, so align before each one.
			tradingCore.AlignSourceSequence("global", row.SourceSequence)

			result, err := tradingCore.ProcessTx(replayTx)
			if err != nil {
				return totalReplayed, fmt.Errorf("replay seq=%d: %w", row.Sequence, err)
			}
			if result != nil && !result.OK {
				// A logged transaction re-rejecting means the restored state
				// diverged from the state it was first applied against.
				return totalReplayed, fmt.Errorf("replay seq=%d rejected: %s", row.Sequence, result.Err)
			}

			totalReplayed++
			if metrics != nil {
				metrics.ReplayTxTotal.Inc()
			}
		}

		fromSequence = rows[len(rows)-1].Sequence + 1
	}

	return totalReplayed, nil
}

// decodeLoggedTx unmarshals a stored payload back into its typed
// transaction. Payloads are the core's JSON encoding of the transaction
// structs, so this is the exact inverse of what was written.
func decodeLoggedTx(operation string, payload []byte) (tx.Transaction, error) {
	var target tx.Transaction

	switch tx.TxTypeFromName(operation) {
	case tx.TxTypeApplyForCertification:
		target = &tx.ApplyForCertification{}
	case tx.TxTypeCertifyProducer:
		target = &tx.CertifyProducer{}
	case tx.TxTypeRejectProducer:
		target = &tx.RejectProducer{}
	case tx.TxTypeAddEnergyForSale:
		target = &tx.AddEnergyForSale{}
	case tx.TxTypeRemoveEnergyFromSale:
		target = &tx.RemoveEnergyFromSale{}
	case tx.TxTypeBuyEnergyFromUser:
		target = &tx.BuyEnergyFromUser{}
	case tx.TxTypeRefundEnergy:
		target = &tx.RefundEnergy{}
	case tx.TxTypeSetCertificationFee:
		target = &tx.SetCertificationFee{}
	case tx.TxTypeSetTradingFeeRate:
		target = &tx.SetTradingFeeRate{}
	case tx.TxTypeSetMaxEnergyPerUser:
		target = &tx.SetMaxEnergyPerUser{}
	case tx.TxTypeSetEnergyReserveLimit:
		target = &tx.SetEnergyReserveLimit{}
	case tx.TxTypeAddCertifier:
		target = &tx.AddCertifier{}
	case tx.TxTypeRemoveCertifier:
		target = &tx.RemoveCertifier{}
	case tx.TxTypeDepositFunds:
		target = &tx.DepositFunds{}
	case tx.TxTypeWithdrawFunds:
		target = &tx.WithdrawFunds{}
	default:
		return nil, fmt.Errorf("unknown operation %q", operation)
	}

	if err := json.Unmarshal(payload, target); err != nil {
		return nil, err
	}
	return target, nil
}

// runPeriodicSnapshots takes a snapshot every interval transactions,
// checked on a coarse timer.
func runPeriodicSnapshots(
	ctx context.Context,
	tradingCore *core.TradingCore,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
) {
	if interval <= 0 {
		interval = 100_000
	}

	lastSnapshotSeq := tradingCore.GetSequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentSeq := tradingCore.GetSequence()
			if currentSeq-lastSnapshotSeq >= interval {
				if err := takeSnapshot(ctx, tradingCore, snapMgr, metrics); err != nil {
					log.Printf("WARN: periodic snapshot failed: %v", err)
				} else {
					lastSnapshotSeq = currentSeq
					log.Printf("INFO: periodic snapshot at sequence %d", currentSeq)
				}
			}
		}
	}
}

// takeSnapshot captures the core's in-memory state and persists it.
func takeSnapshot(
	ctx context.Context,
	tradingCore *core.TradingCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	coreSnap := tradingCore.CreateSnapshotState()
	snapData := persistence.FromCoreState(coreSnap, time.Now())

	if err := snapMgr.SaveSnapshot(ctx, snapData); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	// Verified immediately — it was just captured from live state.
	if err := snapMgr.MarkVerified(ctx, snapData.Sequence); err != nil {
		log.Printf("WARN: mark snapshot verified failed: %v", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotLastSeq.Set(float64(snapData.Sequence))
	}

	return nil
}
