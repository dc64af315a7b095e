package state_test

import (
	"testing"

	"wattconnect/internal/state"
)

const (
	owner = "SP000000000000000000002Q6VF78"
	carol = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"
	dave  = "SP1P72Z3704VMT3DMHPP2CB8TGQWGDBHD3RPR9GZS"
)

// ============================================================================
// Test: ConfigStore
// ============================================================================

func TestConfigStore_Defaults(t *testing.T) {
	cs := state.NewConfigStore(owner)

	if cs.Owner() != owner {
		t.Errorf("owner: got %q, want %q", cs.Owner(), owner)
	}
	if cs.TradingFeeRatePPM() != state.DefaultTradingFeeRatePPM {
		t.Errorf("fee rate: got %d, want %d", cs.TradingFeeRatePPM(), state.DefaultTradingFeeRatePPM)
	}
	if cs.MaxEnergyPerUser() != state.DefaultMaxEnergyPerUser {
		t.Errorf("max energy: got %d, want %d", cs.MaxEnergyPerUser(), state.DefaultMaxEnergyPerUser)
	}
	if cs.ReserveLimit() != state.DefaultReserveLimit {
		t.Errorf("reserve limit: got %d, want %d", cs.ReserveLimit(), state.DefaultReserveLimit)
	}
}

func TestConfigStore_OwnerIsCertifier(t *testing.T) {
	cs := state.NewConfigStore(owner)

	if !cs.IsCertifier(owner) {
		t.Error("owner must always be a certifier")
	}
	if cs.IsCertifier(carol) {
		t.Error("arbitrary principal should not be a certifier")
	}

	cs.AddCertifier(carol)
	if !cs.IsCertifier(carol) {
		t.Error("added certifier should qualify")
	}

	cs.RemoveCertifier(carol)
	if cs.IsCertifier(carol) {
		t.Error("removed certifier should not qualify")
	}
}

func TestConfigStore_SettersRejectNegatives(t *testing.T) {
	cs := state.NewConfigStore(owner)

	if err := cs.SetCertificationFee(-1); err == nil {
		t.Error("negative certification fee should be rejected")
	}
	if err := cs.SetMaxEnergyPerUser(-1); err == nil {
		t.Error("negative max energy should be rejected")
	}
	if err := cs.SetReserveLimit(-1); err == nil {
		t.Error("negative reserve limit should be rejected")
	}
	if err := cs.SetTradingFeeRatePPM(1_000_001); err == nil {
		t.Error("fee rate above 100% should be rejected")
	}

	if err := cs.SetReserveLimit(500); err != nil {
		t.Fatalf("valid reserve limit rejected: %v", err)
	}
	if cs.ReserveLimit() != 500 {
		t.Errorf("reserve limit: got %d, want 500", cs.ReserveLimit())
	}
}

func TestConfigStore_SnapshotRestore(t *testing.T) {
	cs := state.NewConfigStore(owner)
	cs.AddCertifier(carol)
	if err := cs.SetCertificationFee(250); err != nil {
		t.Fatal(err)
	}

	snap := cs.Snapshot()

	cs2 := state.NewConfigStore("SPPLACEHOLDER")
	cs2.Restore(snap)

	if cs2.Owner() != owner {
		t.Errorf("restored owner: got %q, want %q", cs2.Owner(), owner)
	}
	if cs2.CertificationFee() != 250 {
		t.Errorf("restored fee: got %d, want 250", cs2.CertificationFee())
	}
	if !cs2.IsCertifier(carol) {
		t.Error("restored certifier set should contain carol")
	}
}

// ============================================================================
// Test: CertificationRegistry
// ============================================================================

func TestCertificationStatus_Transitions(t *testing.T) {
	cases := []struct {
		from, to state.CertificationStatus
		ok       bool
	}{
		{state.StatusPending, state.StatusCertified, true},
		{state.StatusPending, state.StatusRejected, true},
		{state.StatusCertified, state.StatusPending, false},
		{state.StatusCertified, state.StatusRejected, false},
		{state.StatusRejected, state.StatusPending, false},
		{state.StatusRejected, state.StatusCertified, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestCertificationRegistry_SubmitAndTransition(t *testing.T) {
	r := state.NewCertificationRegistry()

	r.SubmitApplication(carol, 500, "solar", 1000)

	rec, ok := r.Get(carol)
	if !ok {
		t.Fatal("record should exist after submission")
	}
	if rec.Status != state.StatusPending {
		t.Errorf("status: got %s, want pending", rec.Status)
	}
	if rec.EnergyAmount != 500 || rec.Source != "solar" || rec.AppliedAtHeight != 1000 {
		t.Errorf("record fields wrong: %+v", rec)
	}

	if err := r.Transition(carol, state.StatusCertified); err != nil {
		t.Fatalf("certify failed: %v", err)
	}

	// Certified is absorbing
	if err := r.Transition(carol, state.StatusRejected); err == nil {
		t.Error("transition out of certified should fail")
	}
}

func TestCertificationRegistry_TransitionUnknownProducer(t *testing.T) {
	r := state.NewCertificationRegistry()
	if err := r.Transition(dave, state.StatusCertified); err == nil {
		t.Error("transition for unknown producer should fail")
	}
}

func TestCertificationRegistry_SnapshotRestore(t *testing.T) {
	r := state.NewCertificationRegistry()
	r.SubmitApplication(carol, 500, "solar", 1000)
	r.SubmitApplication(dave, 300, "wind", 1001)
	if err := r.Transition(dave, state.StatusRejected); err != nil {
		t.Fatal(err)
	}

	r2 := state.NewCertificationRegistry()
	r2.Restore(r.Snapshot())

	if r2.Len() != 2 {
		t.Fatalf("restored registry has %d records, want 2", r2.Len())
	}
	rec, _ := r2.Get(dave)
	if rec.Status != state.StatusRejected {
		t.Errorf("restored status: got %s, want rejected", rec.Status)
	}
}

// ============================================================================
// Test: ListingBook
// ============================================================================

func TestListingBook_AddCreatesListing(t *testing.T) {
	lb := state.NewListingBook()

	lb.Add(carol, 50, 10, 1000)

	l, ok := lb.Get(carol)
	if !ok {
		t.Fatal("listing should exist")
	}
	if l.Amount != 50 || l.PricePerUnit != 10 {
		t.Errorf("listing: got %+v, want amount=50 price=10", l)
	}
	if lb.TotalListed() != 50 {
		t.Errorf("total listed: got %d, want 50", lb.TotalListed())
	}
}

func TestListingBook_ReAddAccumulatesAndOverwritesPrice(t *testing.T) {
	lb := state.NewListingBook()

	lb.Add(carol, 50, 10, 1000)
	lb.Add(carol, 25, 12, 1001)

	l, _ := lb.Get(carol)
	if l.Amount != 75 {
		t.Errorf("amount: got %d, want 75", l.Amount)
	}
	if l.PricePerUnit != 12 {
		t.Errorf("price should be last-write-wins: got %d, want 12", l.PricePerUnit)
	}
	if lb.TotalListed() != 75 {
		t.Errorf("total listed: got %d, want 75", lb.TotalListed())
	}
}

func TestListingBook_ReduceDeletesAtZero(t *testing.T) {
	lb := state.NewListingBook()
	lb.Add(carol, 50, 10, 1000)

	if err := lb.Reduce(carol, 20); err != nil {
		t.Fatalf("reduce failed: %v", err)
	}
	if l, _ := lb.Get(carol); l.Amount != 30 {
		t.Errorf("amount after reduce: got %d, want 30", l.Amount)
	}

	if err := lb.Reduce(carol, 30); err != nil {
		t.Fatalf("reduce to zero failed: %v", err)
	}
	if _, ok := lb.Get(carol); ok {
		t.Error("listing should be deleted at zero")
	}
	if lb.TotalListed() != 0 {
		t.Errorf("total listed: got %d, want 0", lb.TotalListed())
	}
}

func TestListingBook_ReduceBeyondAmount_Fails(t *testing.T) {
	lb := state.NewListingBook()
	lb.Add(carol, 10, 10, 1000)

	if err := lb.Reduce(carol, 15); err == nil {
		t.Error("reducing beyond listed amount should fail")
	}
	if err := lb.Reduce(dave, 1); err == nil {
		t.Error("reducing a missing listing should fail")
	}
}

func TestListingBook_SnapshotRestore(t *testing.T) {
	lb := state.NewListingBook()
	lb.Add(carol, 50, 10, 1000)
	lb.Add(dave, 30, 8, 1001)

	lb2 := state.NewListingBook()
	lb2.Restore(lb.Snapshot())

	if lb2.Len() != 2 {
		t.Fatalf("restored book has %d listings, want 2", lb2.Len())
	}
	if lb2.TotalListed() != 80 {
		t.Errorf("restored total: got %d, want 80", lb2.TotalListed())
	}
	l, _ := lb2.Get(dave)
	if l.PricePerUnit != 8 {
		t.Errorf("restored price: got %d, want 8", l.PricePerUnit)
	}
}
