package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"wattconnect/internal/tx"

	"github.com/google/uuid"
)

// ParseRawTx converts a RawTx (JSON bytes + operation name) into a typed
// tx.Transaction. The ingestion shell validates and parses before anything
// reaches the deterministic core.
func ParseRawTx(raw RawTx, operation string) (tx.Transaction, error) {
	switch operation {
	case "apply-for-certification":
		return parseApplyForCertification(raw.Data)
	case "certify-producer":
		return parseCertifyProducer(raw.Data)
	case "reject-producer":
		return parseRejectProducer(raw.Data)
	case "add-energy-for-sale":
		return parseAddEnergyForSale(raw.Data)
	case "remove-energy-from-sale":
		return parseRemoveEnergyFromSale(raw.Data)
	case "buy-energy-from-user":
		return parseBuyEnergyFromUser(raw.Data)
	case "refund-energy":
		return parseRefundEnergy(raw.Data)
	case "set-certification-fee":
		return parseSetCertificationFee(raw.Data)
	case "set-trading-fee-rate":
		return parseSetTradingFeeRate(raw.Data)
	case "set-max-energy-per-user":
		return parseSetMaxEnergyPerUser(raw.Data)
	case "set-energy-reserve-limit":
		return parseSetEnergyReserveLimit(raw.Data)
	case "add-certifier":
		return parseAddCertifier(raw.Data)
	case "remove-certifier":
		return parseRemoveCertifier(raw.Data)
	case "deposit-funds":
		return parseDepositFunds(raw.Data)
	case "withdraw-funds":
		return parseWithdrawFunds(raw.Data)
	default:
		return nil, fmt.Errorf("unknown operation: %s", operation)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match the submission gateway.

type txMetaJSON struct {
	TxID        string `json:"tx_id"`
	Caller      string `json:"caller"`
	BlockHeight int64  `json:"block_height"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j txMetaJSON) meta() (tx.Meta, error) {
	txID, err := uuid.Parse(j.TxID)
	if err != nil {
		return tx.Meta{}, fmt.Errorf("parse tx_id: %w", err)
	}
	if j.Caller == "" {
		return tx.Meta{}, fmt.Errorf("missing caller")
	}
	return tx.Meta{
		TxID:      txID,
		Origin:    j.Caller,
		Height:    j.BlockHeight,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type applyForCertificationJSON struct {
	txMetaJSON
	EnergyAmount int64  `json:"energy_amount"`
	Source       string `json:"source"`
}

func parseApplyForCertification(data []byte) (*tx.ApplyForCertification, error) {
	var j applyForCertificationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse apply-for-certification: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse apply-for-certification: %w", err)
	}
	return &tx.ApplyForCertification{
		Meta:         meta,
		EnergyAmount: j.EnergyAmount,
		Source:       j.Source,
	}, nil
}

// producerJSON is shared by certify-producer and reject-producer.
type producerJSON struct {
	txMetaJSON
	Producer string `json:"producer"`
}

func parseCertifyProducer(data []byte) (*tx.CertifyProducer, error) {
	var j producerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse certify-producer: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse certify-producer: %w", err)
	}
	if j.Producer == "" {
		return nil, fmt.Errorf("parse certify-producer: missing producer")
	}
	return &tx.CertifyProducer{Meta: meta, Producer: j.Producer}, nil
}

func parseRejectProducer(data []byte) (*tx.RejectProducer, error) {
	var j producerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse reject-producer: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse reject-producer: %w", err)
	}
	if j.Producer == "" {
		return nil, fmt.Errorf("parse reject-producer: missing producer")
	}
	return &tx.RejectProducer{Meta: meta, Producer: j.Producer}, nil
}

type addEnergyForSaleJSON struct {
	txMetaJSON
	Amount       int64 `json:"amount"`
	PricePerUnit int64 `json:"price_per_unit"`
}

func parseAddEnergyForSale(data []byte) (*tx.AddEnergyForSale, error) {
	var j addEnergyForSaleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse add-energy-for-sale: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse add-energy-for-sale: %w", err)
	}
	return &tx.AddEnergyForSale{
		Meta:         meta,
		Amount:       j.Amount,
		PricePerUnit: j.PricePerUnit,
	}, nil
}

// amountJSON is shared by the operations whose only argument is an amount:
// remove-energy-from-sale, refund-energy, deposit-funds, withdraw-funds.
type amountJSON struct {
	txMetaJSON
	Amount int64 `json:"amount"`
}

func parseRemoveEnergyFromSale(data []byte) (*tx.RemoveEnergyFromSale, error) {
	var j amountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse remove-energy-from-sale: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse remove-energy-from-sale: %w", err)
	}
	return &tx.RemoveEnergyFromSale{Meta: meta, Amount: j.Amount}, nil
}

type buyEnergyJSON struct {
	txMetaJSON
	Seller string `json:"seller"`
	Amount int64  `json:"amount"`
}

func parseBuyEnergyFromUser(data []byte) (*tx.BuyEnergyFromUser, error) {
	var j buyEnergyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse buy-energy-from-user: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse buy-energy-from-user: %w", err)
	}
	if j.Seller == "" {
		return nil, fmt.Errorf("parse buy-energy-from-user: missing seller")
	}
	return &tx.BuyEnergyFromUser{Meta: meta, Seller: j.Seller, Amount: j.Amount}, nil
}

func parseRefundEnergy(data []byte) (*tx.RefundEnergy, error) {
	var j amountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse refund-energy: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse refund-energy: %w", err)
	}
	return &tx.RefundEnergy{Meta: meta, Amount: j.Amount}, nil
}

type setCertificationFeeJSON struct {
	txMetaJSON
	Fee int64 `json:"fee"`
}

func parseSetCertificationFee(data []byte) (*tx.SetCertificationFee, error) {
	var j setCertificationFeeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse set-certification-fee: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse set-certification-fee: %w", err)
	}
	return &tx.SetCertificationFee{Meta: meta, Fee: j.Fee}, nil
}

type setTradingFeeRateJSON struct {
	txMetaJSON
	RatePPM int64 `json:"rate_ppm"`
}

func parseSetTradingFeeRate(data []byte) (*tx.SetTradingFeeRate, error) {
	var j setTradingFeeRateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse set-trading-fee-rate: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse set-trading-fee-rate: %w", err)
	}
	return &tx.SetTradingFeeRate{Meta: meta, RatePPM: j.RatePPM}, nil
}

type setMaxEnergyJSON struct {
	txMetaJSON
	Max int64 `json:"max"`
}

func parseSetMaxEnergyPerUser(data []byte) (*tx.SetMaxEnergyPerUser, error) {
	var j setMaxEnergyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse set-max-energy-per-user: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse set-max-energy-per-user: %w", err)
	}
	return &tx.SetMaxEnergyPerUser{Meta: meta, Max: j.Max}, nil
}

type setReserveLimitJSON struct {
	txMetaJSON
	Limit int64 `json:"limit"`
}

func parseSetEnergyReserveLimit(data []byte) (*tx.SetEnergyReserveLimit, error) {
	var j setReserveLimitJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse set-energy-reserve-limit: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse set-energy-reserve-limit: %w", err)
	}
	return &tx.SetEnergyReserveLimit{Meta: meta, Limit: j.Limit}, nil
}

// certifierJSON is shared by add-certifier and remove-certifier.
type certifierJSON struct {
	txMetaJSON
	Certifier string `json:"certifier"`
}

func parseAddCertifier(data []byte) (*tx.AddCertifier, error) {
	var j certifierJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse add-certifier: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse add-certifier: %w", err)
	}
	if j.Certifier == "" {
		return nil, fmt.Errorf("parse add-certifier: missing certifier")
	}
	return &tx.AddCertifier{Meta: meta, Certifier: j.Certifier}, nil
}

func parseRemoveCertifier(data []byte) (*tx.RemoveCertifier, error) {
	var j certifierJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse remove-certifier: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse remove-certifier: %w", err)
	}
	if j.Certifier == "" {
		return nil, fmt.Errorf("parse remove-certifier: missing certifier")
	}
	return &tx.RemoveCertifier{Meta: meta, Certifier: j.Certifier}, nil
}

func parseDepositFunds(data []byte) (*tx.DepositFunds, error) {
	var j amountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse deposit-funds: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse deposit-funds: %w", err)
	}
	return &tx.DepositFunds{Meta: meta, Amount: j.Amount}, nil
}

func parseWithdrawFunds(data []byte) (*tx.WithdrawFunds, error) {
	var j amountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse withdraw-funds: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, fmt.Errorf("parse withdraw-funds: %w", err)
	}
	return &tx.WithdrawFunds{Meta: meta, Amount: j.Amount}, nil
}
