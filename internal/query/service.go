package query

import (
	"context"
	"database/sql"
	"fmt"

	"wattconnect/internal/ledger"
	"wattconnect/internal/state"
)

// QueryService provides read-only access to projection tables. Queries are
// served over HTTP/JSON from PostgreSQL projections; all responses include
// as_of_sequence so callers can reason about freshness.
type QueryService struct {
	db    *sql.DB
	owner string
}

func NewQueryService(db *sql.DB, owner string) *QueryService {
	return &QueryService{db: db, owner: owner}
}

// GetBalance returns a principal's energy and cash balances.
func (qs *QueryService) GetBalance(ctx context.Context, principal string) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	freePath := ledger.NewUserAccountKey(principal, ledger.SubTypeEnergyFree, ledger.AssetEnergy).AccountPath()
	free, err := qs.getProjectedBalance(ctx, freePath)
	if err != nil {
		return nil, err
	}

	listedPath := ledger.NewUserAccountKey(principal, ledger.SubTypeEnergyListed, ledger.AssetEnergy).AccountPath()
	listed, err := qs.getProjectedBalance(ctx, listedPath)
	if err != nil {
		return nil, err
	}

	cashPath := ledger.NewUserAccountKey(principal, ledger.SubTypeCash, ledger.AssetCurrency).AccountPath()
	cash, err := qs.getProjectedBalance(ctx, cashPath)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Principal:    principal,
		EnergyFree:   free,
		EnergyListed: listed,
		EnergyTotal:  free + listed,
		Cash:         cash,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetListing returns a seller's active listing, or nil if none exists.
func (qs *QueryService) GetListing(ctx context.Context, seller string) (*ListingResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var l ListingResponse
	l.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT seller, amount, price_per_unit, updated_at_height
		FROM projections.listings
		WHERE seller = $1
	`, seller).Scan(&l.Seller, &l.Amount, &l.PricePerUnit, &l.UpdatedAtHeight)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetListings returns active listings ordered by seller, with cursor-based
// pagination on the seller key.
func (qs *QueryService) GetListings(ctx context.Context, limit int, afterSeller *string) ([]ListingResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT seller, amount, price_per_unit, updated_at_height
		FROM projections.listings
	`
	args := []interface{}{}
	argIdx := 1

	if afterSeller != nil {
		query += fmt.Sprintf(" WHERE seller > $%d", argIdx)
		args = append(args, *afterSeller)
		argIdx++
	}

	query += " ORDER BY seller ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []ListingResponse
	for rows.Next() {
		var l ListingResponse
		l.AsOfSequence = asOfSeq
		if err := rows.Scan(&l.Seller, &l.Amount, &l.PricePerUnit, &l.UpdatedAtHeight); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}

	return listings, rows.Err()
}

// GetCertification returns a producer's application, or nil if the
// producer never applied.
func (qs *QueryService) GetCertification(ctx context.Context, producer string) (*CertificationResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var c CertificationResponse
	c.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT producer, status, energy_amount, source, applied_at_height
		FROM projections.certifications
		WHERE producer = $1
	`, producer).Scan(&c.Producer, &c.Status, &c.EnergyAmount, &c.Source, &c.AppliedAtHeight)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCertifications lists applications, optionally filtered by status,
// ordered by producer with cursor-based pagination.
func (qs *QueryService) GetCertifications(ctx context.Context, status *string, limit int, afterProducer *string) ([]CertificationResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT producer, status, energy_amount, source, applied_at_height
		FROM projections.certifications
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}

	if afterProducer != nil {
		query += fmt.Sprintf(" AND producer > $%d", argIdx)
		args = append(args, *afterProducer)
		argIdx++
	}

	query += " ORDER BY producer ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var certs []CertificationResponse
	for rows.Next() {
		var c CertificationResponse
		c.AsOfSequence = asOfSeq
		if err := rows.Scan(&c.Producer, &c.Status, &c.EnergyAmount, &c.Source, &c.AppliedAtHeight); err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}

	return certs, rows.Err()
}

// GetConfig returns the current owner-controlled parameters. Parameters
// the owner never changed fall back to boot defaults.
func (qs *QueryService) GetConfig(ctx context.Context) (*ConfigResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &ConfigResponse{
		Owner:             qs.owner,
		CertificationFee:  state.DefaultCertificationFee,
		TradingFeeRatePPM: state.DefaultTradingFeeRatePPM,
		MaxEnergyPerUser:  state.DefaultMaxEnergyPerUser,
		ReserveLimit:      state.DefaultReserveLimit,
		Certifiers:        []string{},
		AsOfSequence:      asOfSeq,
	}

	rows, err := qs.db.QueryContext(ctx, `SELECT param, value FROM projections.config`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var param string
		var value int64
		if err := rows.Scan(&param, &value); err != nil {
			return nil, err
		}
		switch param {
		case "certification_fee":
			resp.CertificationFee = value
		case "trading_fee_rate_ppm":
			resp.TradingFeeRatePPM = value
		case "max_energy_per_user":
			resp.MaxEnergyPerUser = value
		case "reserve_limit":
			resp.ReserveLimit = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	certRows, err := qs.db.QueryContext(ctx, `SELECT principal FROM projections.certifiers ORDER BY principal`)
	if err != nil {
		return nil, err
	}
	defer certRows.Close()

	for certRows.Next() {
		var p string
		if err := certRows.Scan(&p); err != nil {
			return nil, err
		}
		resp.Certifiers = append(resp.Certifiers, p)
	}

	return resp, certRows.Err()
}

// GetTradeHistory returns completed trades a principal took part in,
// newest first, with cursor-based pagination on sequence.
func (qs *QueryService) GetTradeHistory(ctx context.Context, principal string, limit int, afterSequence *int64) ([]TradeHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, buyer, seller, amount_kwh, price_per_unit, gross_cost, fee, net_proceeds, block_height, timestamp
		FROM projections.trade_history
		WHERE (buyer = $1 OR seller = $1)
	`
	args := []interface{}{principal}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeHistoryResponse
	for rows.Next() {
		var t TradeHistoryResponse
		t.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&t.Sequence, &t.Buyer, &t.Seller, &t.AmountKWH, &t.PricePerUnit,
			&t.GrossCost, &t.Fee, &t.NetProceeds, &t.BlockHeight, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// GetJournalHistory returns journal entries touching a principal's
// accounts with pagination.
func (qs *QueryService) GetJournalHistory(ctx context.Context, principal string, limit int, afterSequence *int64) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", principal)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the transaction log and
// the global zero-sum invariant across projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT t1.sequence
		FROM event_log.transactions t1
		LEFT JOIN event_log.transactions t2 ON t2.sequence = t1.sequence - 1
		WHERE t1.sequence > 0 AND t1.prev_hash != COALESCE(t2.state_hash, t1.prev_hash)
		ORDER BY t1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Check global balance (should sum to zero across all accounts per asset)
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
