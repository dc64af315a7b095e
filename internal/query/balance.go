package query

// BalanceResponse represents a principal's balance state for API queries.
type BalanceResponse struct {
	Principal string `json:"principal"`

	// Ledger balances (from journal entries)
	EnergyFree   int64 `json:"energy_free"`   // kWh available to list, refund, or receive
	EnergyListed int64 `json:"energy_listed"` // kWh escrowed behind the sale listing
	EnergyTotal  int64 `json:"energy_total"`  // free + listed
	Cash         int64 `json:"cash"`

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last applied transaction sequence
}
