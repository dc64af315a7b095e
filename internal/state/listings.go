package state

import "fmt"

// Listing is a seller's active sale offer. Amount mirrors the seller's
// energy_listed ledger balance; PricePerUnit is quoted in currency per kWh.
type Listing struct {
	Seller          string `json:"seller"`
	Amount          int64  `json:"amount"`
	PricePerUnit    int64  `json:"price_per_unit"`
	UpdatedAtHeight int64  `json:"updated_at_height"`
}

// ListingBook keys at most one listing per seller and maintains the
// running total of escrowed energy for the reserve ceiling check.
type ListingBook struct {
	listings    map[string]*Listing
	totalListed int64
}

func NewListingBook() *ListingBook {
	return &ListingBook{
		listings: make(map[string]*Listing),
	}
}

// Get returns the seller's listing, if any.
func (lb *ListingBook) Get(seller string) (*Listing, bool) {
	l, ok := lb.listings[seller]
	return l, ok
}

// TotalListed returns Σ listings.amount across all sellers.
func (lb *ListingBook) TotalListed() int64 {
	return lb.totalListed
}

// Add escrows `amount` behind the seller's listing. Re-listing adds to
// the amount and overwrites the price (last-write-wins on price).
func (lb *ListingBook) Add(seller string, amount, pricePerUnit, height int64) {
	if l, ok := lb.listings[seller]; ok {
		l.Amount += amount
		l.PricePerUnit = pricePerUnit
		l.UpdatedAtHeight = height
	} else {
		lb.listings[seller] = &Listing{
			Seller:          seller,
			Amount:          amount,
			PricePerUnit:    pricePerUnit,
			UpdatedAtHeight: height,
		}
	}
	lb.totalListed += amount
}

// Reduce removes `amount` from the seller's listing, deleting it when
// the amount reaches zero.
func (lb *ListingBook) Reduce(seller string, amount int64) error {
	l, ok := lb.listings[seller]
	if !ok {
		return fmt.Errorf("no listing for %s", seller)
	}
	if l.Amount < amount {
		return fmt.Errorf("listing for %s holds %d, cannot reduce by %d", seller, l.Amount, amount)
	}

	l.Amount -= amount
	lb.totalListed -= amount
	if l.Amount == 0 {
		delete(lb.listings, seller)
	}
	return nil
}

// Snapshot returns a copy of every listing for state hashing and persistence.
func (lb *ListingBook) Snapshot() map[string]Listing {
	snap := make(map[string]Listing, len(lb.listings))
	for k, v := range lb.listings {
		snap[k] = *v
	}
	return snap
}

func (lb *ListingBook) Restore(snap map[string]Listing) {
	lb.listings = make(map[string]*Listing, len(snap))
	lb.totalListed = 0
	for k, v := range snap {
		l := v
		lb.listings[k] = &l
		lb.totalListed += l.Amount
	}
}

// Len returns the number of active listings.
func (lb *ListingBook) Len() int {
	return len(lb.listings)
}
