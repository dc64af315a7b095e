package tx

// AddEnergyForSale escrows free energy behind the caller's sale listing.
// Re-listing adds to the escrowed amount and overwrites the unit price.
type AddEnergyForSale struct {
	Meta
	Amount       int64 // kWh to escrow
	PricePerUnit int64 // currency per kWh
}

func (t *AddEnergyForSale) TxType() TxType { return TxTypeAddEnergyForSale }

// RemoveEnergyFromSale returns escrowed energy to the caller's free
// balance. The listing is deleted when its amount reaches zero.
type RemoveEnergyFromSale struct {
	Meta
	Amount int64
}

func (t *RemoveEnergyFromSale) TxType() TxType { return TxTypeRemoveEnergyFromSale }

// BuyEnergyFromUser purchases escrowed energy from a seller's listing at
// the listed price. The trading fee comes out of the seller's proceeds
// and routes to the owner.
type BuyEnergyFromUser struct {
	Meta
	Seller string
	Amount int64
}

func (t *BuyEnergyFromUser) TxType() TxType { return TxTypeBuyEnergyFromUser }

// RefundEnergy returns free energy to the grid; it leaves the ledger.
// The inverse of the certification credit.
type RefundEnergy struct {
	Meta
	Amount int64
}

func (t *RefundEnergy) TxType() TxType { return TxTypeRefundEnergy }
