package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"wattconnect/internal/ingestion"
	"wattconnect/internal/tx"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawTx {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawTx{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseApplyForCertification(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":         "550e8400-e29b-41d4-a716-446655440000",
		"caller":        "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7",
		"block_height":  int64(1042),
		"sequence":      int64(7),
		"timestamp_us":  int64(1700000000000000),
		"energy_amount": int64(500),
		"source":        "solar",
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawTx(raw, "apply-for-certification")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	app, ok := parsed.(*tx.ApplyForCertification)
	if !ok {
		t.Fatalf("expected *tx.ApplyForCertification, got %T", parsed)
	}

	if app.Caller() != "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7" {
		t.Errorf("caller: got %s", app.Caller())
	}
	if app.EnergyAmount != 500 {
		t.Errorf("energy_amount: got %d, want 500", app.EnergyAmount)
	}
	if app.Source != "solar" {
		t.Errorf("source: got %s, want solar", app.Source)
	}
	if app.BlockHeight() != 1042 {
		t.Errorf("block_height: got %d, want 1042", app.BlockHeight())
	}
	if app.SourceSequence() != 7 {
		t.Errorf("sequence: got %d, want 7", app.SourceSequence())
	}
	if app.Time() != time.UnixMicro(1700000000000000) {
		t.Errorf("timestamp: got %v", app.Time())
	}
	if app.TxType() != tx.TxTypeApplyForCertification {
		t.Errorf("tx type: got %v", app.TxType())
	}
}

func TestParseCertifyProducer(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":        "660e8400-e29b-41d4-a716-446655440001",
		"caller":       "SP3FBR2AGK5H9QBDH3EEN6DF8EK8JY7RX8QJ5SVTE",
		"block_height": int64(1043),
		"sequence":     int64(8),
		"timestamp_us": int64(1700000001000000),
		"producer":     "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7",
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawTx(raw, "certify-producer")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cp, ok := parsed.(*tx.CertifyProducer)
	if !ok {
		t.Fatalf("expected *tx.CertifyProducer, got %T", parsed)
	}
	if cp.Producer != "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7" {
		t.Errorf("producer: got %s", cp.Producer)
	}
}

func TestParseAddEnergyForSale(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":          "770e8400-e29b-41d4-a716-446655440002",
		"caller":         "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7",
		"block_height":   int64(1044),
		"sequence":       int64(9),
		"timestamp_us":   int64(1700000002000000),
		"amount":         int64(100),
		"price_per_unit": int64(250),
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawTx(raw, "add-energy-for-sale")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ae, ok := parsed.(*tx.AddEnergyForSale)
	if !ok {
		t.Fatalf("expected *tx.AddEnergyForSale, got %T", parsed)
	}
	if ae.Amount != 100 {
		t.Errorf("amount: got %d, want 100", ae.Amount)
	}
	if ae.PricePerUnit != 250 {
		t.Errorf("price_per_unit: got %d, want 250", ae.PricePerUnit)
	}
}

func TestParseBuyEnergyFromUser(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":        "880e8400-e29b-41d4-a716-446655440003",
		"caller":       "SP3FBR2AGK5H9QBDH3EEN6DF8EK8JY7RX8QJ5SVTE",
		"block_height": int64(1045),
		"sequence":     int64(10),
		"timestamp_us": int64(1700000003000000),
		"seller":       "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7",
		"amount":       int64(25),
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawTx(raw, "buy-energy-from-user")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	buy, ok := parsed.(*tx.BuyEnergyFromUser)
	if !ok {
		t.Fatalf("expected *tx.BuyEnergyFromUser, got %T", parsed)
	}
	if buy.Seller != "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7" {
		t.Errorf("seller: got %s", buy.Seller)
	}
	if buy.Amount != 25 {
		t.Errorf("amount: got %d, want 25", buy.Amount)
	}
}

func TestParseSetTradingFeeRate(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":        "990e8400-e29b-41d4-a716-446655440004",
		"caller":       "SP1G9QR4S4MW1A1HB4FPYERCVHS88BDGV3J39M2Z4",
		"block_height": int64(1046),
		"sequence":     int64(11),
		"timestamp_us": int64(1700000004000000),
		"rate_ppm":     int64(50_000),
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawTx(raw, "set-trading-fee-rate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	sr, ok := parsed.(*tx.SetTradingFeeRate)
	if !ok {
		t.Fatalf("expected *tx.SetTradingFeeRate, got %T", parsed)
	}
	if sr.RatePPM != 50_000 {
		t.Errorf("rate_ppm: got %d, want 50_000", sr.RatePPM)
	}
}

func TestParseDepositFunds(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":        "aa0e8400-e29b-41d4-a716-446655440005",
		"caller":       "SP3FBR2AGK5H9QBDH3EEN6DF8EK8JY7RX8QJ5SVTE",
		"block_height": int64(1047),
		"sequence":     int64(12),
		"timestamp_us": int64(1700000005000000),
		"amount":       int64(10_000),
	}

	raw := rawFromJSON(t, payload)
	parsed, err := ingestion.ParseRawTx(raw, "deposit-funds")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := parsed.(*tx.DepositFunds)
	if !ok {
		t.Fatalf("expected *tx.DepositFunds, got %T", parsed)
	}
	if dep.Amount != 10_000 {
		t.Errorf("amount: got %d, want 10_000", dep.Amount)
	}
}

func TestParseUnknownOperation_Fails(t *testing.T) {
	raw := ingestion.RawTx{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawTx(raw, "non-existent-operation")
	if err == nil {
		t.Fatal("expected error for unknown operation")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawTx{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawTx(raw, "deposit-funds")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidTxID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":        "not-a-uuid",
		"caller":       "SP3FBR2AGK5H9QBDH3EEN6DF8EK8JY7RX8QJ5SVTE",
		"block_height": int64(1),
		"sequence":     int64(1),
		"timestamp_us": int64(0),
		"amount":       int64(1),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawTx(raw, "deposit-funds")
	if err == nil {
		t.Fatal("expected error for invalid tx_id")
	}
}

func TestParseMissingCaller_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":        "550e8400-e29b-41d4-a716-446655440000",
		"block_height": int64(1),
		"sequence":     int64(1),
		"timestamp_us": int64(0),
		"producer":     "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7",
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawTx(raw, "certify-producer")
	if err == nil {
		t.Fatal("expected error for missing caller")
	}
}
