package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"wattconnect/internal/core"
	"wattconnect/internal/ledger"
	"wattconnect/internal/observability"
	"wattconnect/internal/tx"
)

// ProjectionWorker updates projection tables from committed transactions.
// The projection channel is non-blocking with drop: if projections fall
// behind, reads go stale but the core never stalls, and every table can be
// rebuilt from the transaction log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	trades    *TradeHistoryProjection
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		trades:    NewTradeHistoryProjection(),
		metrics:   metrics,
	}
}

// Trades exposes the in-memory trade history for the query service.
func (pw *ProjectionWorker) Trades() *TradeHistoryProjection {
	return pw.trades
}

// Run starts the projection worker loop. On start it loads the stored
// watermark and skips anything at or below it: startup replay routes
// every logged transaction back through this channel, and the watermark
// makes that re-delivery idempotent.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	if err := pw.loadWatermark(ctx); err != nil {
		log.Printf("WARN: load projection watermark: %v (starting from 0)", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if output.Envelope.Sequence <= pw.lastSeq {
				continue // Already projected before a restart
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Envelope.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the transaction log
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

func (pw *ProjectionWorker) loadWatermark(ctx context.Context) error {
	var seq int64
	err := pw.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	pw.lastSeq = seq
	return nil
}

// txPayload covers the union of transaction argument fields the
// projections need. Payloads are the core's JSON-encoded transaction
// structs, so fields carry their Go names.
type txPayload struct {
	Producer     string
	Seller       string
	Amount       int64
	PricePerUnit int64
	EnergyAmount int64
	Source       string
	Fee          int64
	RatePPM      int64
	Max          int64
	Limit        int64
	Certifier    string
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	env := output.Envelope

	var payload txPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload seq=%d: %w", env.Sequence, err)
	}

	dbtx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	// Balance projections follow the journal: debit increases, credit decreases.
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := pw.updateBalanceProjection(ctx, dbtx, j, env.Sequence); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	if err := pw.updateDomainProjections(ctx, dbtx, output, payload); err != nil {
		return err
	}

	// Update projection watermark
	if _, err := dbtx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return dbtx.Commit()
}

func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, dbtx *sql.Tx, j ledger.Journal, seq int64) error {
	// Debit account: balance increases
	if _, err := dbtx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount.AccountPath(), uint16(j.AssetID), j.Amount, seq); err != nil {
		return err
	}

	// Credit account: balance decreases
	if _, err := dbtx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount.AccountPath(), uint16(j.AssetID), j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *ProjectionWorker) updateDomainProjections(ctx context.Context, dbtx *sql.Tx, output core.CoreOutput, payload txPayload) error {
	env := output.Envelope

	switch env.TxType {
	case tx.TxTypeApplyForCertification:
		_, err := dbtx.ExecContext(ctx, `
			INSERT INTO projections.certifications (producer, status, energy_amount, source, applied_at_height, last_sequence)
			VALUES ($1, 'pending', $2, $3, $4, $5)
			ON CONFLICT (producer) DO UPDATE SET
				status = 'pending', energy_amount = $2, source = $3,
				applied_at_height = $4, last_sequence = $5
		`, env.Caller, payload.EnergyAmount, payload.Source, env.BlockHeight, env.Sequence)
		return err

	case tx.TxTypeCertifyProducer:
		_, err := dbtx.ExecContext(ctx, `
			UPDATE projections.certifications
			SET status = 'certified', last_sequence = $2
			WHERE producer = $1
		`, payload.Producer, env.Sequence)
		return err

	case tx.TxTypeRejectProducer:
		_, err := dbtx.ExecContext(ctx, `
			UPDATE projections.certifications
			SET status = 'rejected', last_sequence = $2
			WHERE producer = $1
		`, payload.Producer, env.Sequence)
		return err

	case tx.TxTypeAddEnergyForSale:
		_, err := dbtx.ExecContext(ctx, `
			INSERT INTO projections.listings (seller, amount, price_per_unit, updated_at_height, last_sequence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (seller) DO UPDATE SET
				amount = projections.listings.amount + $2, price_per_unit = $3,
				updated_at_height = $4, last_sequence = $5
		`, env.Caller, payload.Amount, payload.PricePerUnit, env.BlockHeight, env.Sequence)
		return err

	case tx.TxTypeRemoveEnergyFromSale:
		return pw.reduceListing(ctx, dbtx, env.Caller, payload.Amount, env.Sequence)

	case tx.TxTypeBuyEnergyFromUser:
		if err := pw.reduceListing(ctx, dbtx, payload.Seller, payload.Amount, env.Sequence); err != nil {
			return err
		}
		return pw.recordTrade(ctx, dbtx, output, payload)

	case tx.TxTypeSetCertificationFee:
		return pw.setConfigValue(ctx, dbtx, "certification_fee", payload.Fee, env.Sequence)
	case tx.TxTypeSetTradingFeeRate:
		return pw.setConfigValue(ctx, dbtx, "trading_fee_rate_ppm", payload.RatePPM, env.Sequence)
	case tx.TxTypeSetMaxEnergyPerUser:
		return pw.setConfigValue(ctx, dbtx, "max_energy_per_user", payload.Max, env.Sequence)
	case tx.TxTypeSetEnergyReserveLimit:
		return pw.setConfigValue(ctx, dbtx, "reserve_limit", payload.Limit, env.Sequence)

	case tx.TxTypeAddCertifier:
		_, err := dbtx.ExecContext(ctx, `
			INSERT INTO projections.certifiers (principal, last_sequence)
			VALUES ($1, $2)
			ON CONFLICT (principal) DO UPDATE SET last_sequence = $2
		`, payload.Certifier, env.Sequence)
		return err

	case tx.TxTypeRemoveCertifier:
		_, err := dbtx.ExecContext(ctx, `
			DELETE FROM projections.certifiers WHERE principal = $1
		`, payload.Certifier)
		return err
	}

	// refund-energy, deposit-funds, withdraw-funds touch balances only
	return nil
}

func (pw *ProjectionWorker) reduceListing(ctx context.Context, dbtx *sql.Tx, seller string, amount, seq int64) error {
	if _, err := dbtx.ExecContext(ctx, `
		UPDATE projections.listings
		SET amount = amount - $2, last_sequence = $3
		WHERE seller = $1
	`, seller, amount, seq); err != nil {
		return err
	}

	// Mirror the core: a fully drained listing is deleted
	_, err := dbtx.ExecContext(ctx, `
		DELETE FROM projections.listings WHERE seller = $1 AND amount <= 0
	`, seller)
	return err
}

func (pw *ProjectionWorker) setConfigValue(ctx context.Context, dbtx *sql.Tx, param string, value, seq int64) error {
	_, err := dbtx.ExecContext(ctx, `
		INSERT INTO projections.config (param, value, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (param) DO UPDATE SET value = $2, last_sequence = $3
	`, param, value, seq)
	return err
}

func (pw *ProjectionWorker) recordTrade(ctx context.Context, dbtx *sql.Tx, output core.CoreOutput, payload txPayload) error {
	env := output.Envelope

	// Derive amounts from the journal legs: gross = net payment + fee.
	var kwh, net, fee int64
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			switch j.JournalType {
			case ledger.JournalTypeEnergySold:
				kwh = j.Amount
			case ledger.JournalTypeTradePayment:
				net = j.Amount
			case ledger.JournalTypeTradeFee:
				fee = j.Amount
			}
		}
	}
	gross := net + fee

	var pricePerUnit int64
	if kwh > 0 {
		pricePerUnit = gross / kwh
	}

	rec := TradeRecord{
		Sequence:     env.Sequence,
		Buyer:        env.Caller,
		Seller:       payload.Seller,
		AmountKWH:    kwh,
		PricePerUnit: pricePerUnit,
		GrossCost:    gross,
		Fee:          fee,
		NetProceeds:  net,
		BlockHeight:  env.BlockHeight,
		Timestamp:    env.Timestamp.UnixMicro(),
	}
	pw.trades.Add(rec)

	_, err := dbtx.ExecContext(ctx, `
		INSERT INTO projections.trade_history
			(sequence, buyer, seller, amount_kwh, price_per_unit, gross_cost, fee, net_proceeds, block_height, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (sequence) DO NOTHING
	`, rec.Sequence, rec.Buyer, rec.Seller, rec.AmountKWH, rec.PricePerUnit,
		rec.GrossCost, rec.Fee, rec.NetProceeds, rec.BlockHeight, rec.Timestamp)
	return err
}

// RebuildProjections rebuilds every projection table from the transaction
// log: balances come from two SQL aggregates over the journal, domain
// tables from re-running each logged transaction through the projection
// logic. The watermark ends at the log head, so the live worker resumes
// from there without re-applying anything.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.listings`,
		`TRUNCATE projections.certifications`,
		`TRUNCATE projections.certifiers`,
		`TRUNCATE projections.trade_history`,
		`TRUNCATE projections.config`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Rebuild balances from journal entries: debits increase a balance
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	// Subtract credits
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	head, err := rebuildDomainTables(ctx, db)
	if err != nil {
		return fmt.Errorf("rebuild domain tables: %w", err)
	}

	if head > 0 {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
			VALUES ('main', $1, NOW())
			ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
		`, head); err != nil {
			return fmt.Errorf("set watermark: %w", err)
		}
	}

	log.Printf("INFO: projection rebuild complete (head=%d)", head)
	return nil
}

const rebuildPageSize = 5000

// rebuildDomainTables pages through the transaction log and re-applies
// each transaction's domain projection. Returns the highest sequence seen.
func rebuildDomainTables(ctx context.Context, db *sql.DB) (int64, error) {
	pw := &ProjectionWorker{db: db, trades: NewTradeHistoryProjection()}

	var head int64
	from := int64(0)

	for {
		rows, err := loadLoggedTxPage(ctx, db, from, rebuildPageSize)
		if err != nil {
			return head, err
		}
		if len(rows) == 0 {
			return head, nil
		}

		dbtx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return head, err
		}

		for _, row := range rows {
			output, err := row.toCoreOutput(ctx, db)
			if err != nil {
				dbtx.Rollback()
				return head, fmt.Errorf("seq %d: %w", row.sequence, err)
			}

			var payload txPayload
			if err := json.Unmarshal(row.payload, &payload); err != nil {
				dbtx.Rollback()
				return head, fmt.Errorf("decode payload seq=%d: %w", row.sequence, err)
			}

			if err := pw.updateDomainProjections(ctx, dbtx, output, payload); err != nil {
				dbtx.Rollback()
				return head, fmt.Errorf("project seq=%d: %w", row.sequence, err)
			}
			head = row.sequence
		}

		if err := dbtx.Commit(); err != nil {
			return head, err
		}

		from = rows[len(rows)-1].sequence + 1
	}
}

// loggedTx is the slice of a transaction row the domain rebuild needs.
type loggedTx struct {
	sequence    int64
	operation   string
	caller      string
	payload     []byte
	blockHeight int64
	timestamp   time.Time
}

func loadLoggedTxPage(ctx context.Context, db *sql.DB, from int64, limit int) ([]loggedTx, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, operation, caller, payload, block_height, timestamp
		FROM event_log.transactions
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []loggedTx
	for rows.Next() {
		var t loggedTx
		if err := rows.Scan(&t.sequence, &t.operation, &t.caller, &t.payload, &t.blockHeight, &t.timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// toCoreOutput reconstructs enough of a core output for the domain
// projection switch. Purchases also reload their journal legs, which
// recordTrade uses to derive the traded amounts.
func (t loggedTx) toCoreOutput(ctx context.Context, db *sql.DB) (core.CoreOutput, error) {
	env := &tx.Envelope{
		Sequence:    t.sequence,
		TxType:      tx.TxTypeFromName(t.operation),
		Caller:      t.caller,
		BlockHeight: t.blockHeight,
		Timestamp:   t.timestamp,
		Payload:     t.payload,
	}

	output := core.CoreOutput{Envelope: env}

	if env.TxType != tx.TxTypeBuyEnergyFromUser {
		return output, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT journal_type, amount FROM event_log.journal WHERE sequence = $1
	`, t.sequence)
	if err != nil {
		return output, err
	}
	defer rows.Close()

	batch := &ledger.Batch{Sequence: t.sequence}
	for rows.Next() {
		var journalType string
		var amount int64
		if err := rows.Scan(&journalType, &amount); err != nil {
			return output, err
		}
		batch.Journals = append(batch.Journals, ledger.Journal{
			Sequence:    t.sequence,
			Amount:      amount,
			JournalType: ledger.JournalTypeFromString(journalType),
		})
	}
	if err := rows.Err(); err != nil {
		return output, err
	}

	output.Batch = batch
	return output, nil
}
