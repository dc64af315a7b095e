package projection

// TradeRecord is a completed purchase, one row per buy-energy-from-user.
// Amounts derive from the journal batch: gross = net + fee.
type TradeRecord struct {
	Sequence     int64
	Buyer        string
	Seller       string
	AmountKWH    int64
	PricePerUnit int64
	GrossCost    int64
	Fee          int64
	NetProceeds  int64
	BlockHeight  int64
	Timestamp    int64
}

// TradeHistoryProjection maintains queryable in-memory trade history
// alongside the durable projections.trade_history table.
type TradeHistoryProjection struct {
	records []TradeRecord
}

func NewTradeHistoryProjection() *TradeHistoryProjection {
	return &TradeHistoryProjection{
		records: make([]TradeRecord, 0),
	}
}

// Add records a completed trade.
func (p *TradeHistoryProjection) Add(rec TradeRecord) {
	p.records = append(p.records, rec)
}

// QueryByPrincipal returns the most recent trades a principal took part
// in, as buyer or seller, newest first.
func (p *TradeHistoryProjection) QueryByPrincipal(principal string, limit int) []TradeRecord {
	result := make([]TradeRecord, 0)

	for i := len(p.records) - 1; i >= 0 && len(result) < limit; i-- {
		if p.records[i].Buyer == principal || p.records[i].Seller == principal {
			result = append(result, p.records[i])
		}
	}

	return result
}

// Len returns the number of recorded trades.
func (p *TradeHistoryProjection) Len() int {
	return len(p.records)
}
