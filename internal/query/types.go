package query

// ListingResponse represents an active sale listing for API queries.
type ListingResponse struct {
	Seller          string `json:"seller"`
	Amount          int64  `json:"amount"`
	PricePerUnit    int64  `json:"price_per_unit"`
	UpdatedAtHeight int64  `json:"updated_at_height"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// CertificationResponse represents a producer's application state.
type CertificationResponse struct {
	Producer        string `json:"producer"`
	Status          string `json:"status"`
	EnergyAmount    int64  `json:"energy_amount"`
	Source          string `json:"source"`
	AppliedAtHeight int64  `json:"applied_at_height"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// ConfigResponse represents the owner-controlled parameters.
type ConfigResponse struct {
	Owner             string   `json:"owner"`
	CertificationFee  int64    `json:"certification_fee"`
	TradingFeeRatePPM int64    `json:"trading_fee_rate_ppm"`
	MaxEnergyPerUser  int64    `json:"max_energy_per_user"`
	ReserveLimit      int64    `json:"reserve_limit"`
	Certifiers        []string `json:"certifiers"`
	AsOfSequence      int64    `json:"as_of_sequence"`
}

// TradeHistoryResponse represents a completed purchase for API queries.
type TradeHistoryResponse struct {
	Sequence     int64  `json:"sequence"`
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	AmountKWH    int64  `json:"amount_kwh"`
	PricePerUnit int64  `json:"price_per_unit"`
	GrossCost    int64  `json:"gross_cost"`
	Fee          int64  `json:"fee"`
	NetProceeds  int64  `json:"net_proceeds"`
	BlockHeight  int64  `json:"block_height"`
	Timestamp    int64  `json:"timestamp"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
