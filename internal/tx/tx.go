package tx

import (
	"time"

	"github.com/google/uuid"
)

// TxType discriminator for transaction payloads
type TxType int32

const (
	TxTypeUnknown TxType = iota
	TxTypeApplyForCertification
	TxTypeCertifyProducer
	TxTypeRejectProducer
	TxTypeAddEnergyForSale
	TxTypeRemoveEnergyFromSale
	TxTypeBuyEnergyFromUser
	TxTypeRefundEnergy
	TxTypeSetCertificationFee
	TxTypeSetTradingFeeRate
	TxTypeSetMaxEnergyPerUser
	TxTypeSetEnergyReserveLimit
	TxTypeAddCertifier
	TxTypeRemoveCertifier
	TxTypeDepositFunds
	TxTypeWithdrawFunds
)

// Transaction is the interface every inbound transaction implements.
// Transactions arrive already authenticated: Caller is trusted.
type Transaction interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// TxType returns the discriminator
	TxType() TxType

	// Caller returns the authenticated principal submitting the transaction
	Caller() string

	// BlockHeight returns the chain height the transaction was anchored at
	BlockHeight() int64

	// SourceSequence returns the gateway ordering key
	SourceSequence() int64

	// Time returns the versioned input timestamp (NOT wall-clock)
	Time() time.Time
}

// TxTypeFromName maps a wire operation name back to its discriminator.
func TxTypeFromName(name string) TxType {
	switch name {
	case "apply-for-certification":
		return TxTypeApplyForCertification
	case "certify-producer":
		return TxTypeCertifyProducer
	case "reject-producer":
		return TxTypeRejectProducer
	case "add-energy-for-sale":
		return TxTypeAddEnergyForSale
	case "remove-energy-from-sale":
		return TxTypeRemoveEnergyFromSale
	case "buy-energy-from-user":
		return TxTypeBuyEnergyFromUser
	case "refund-energy":
		return TxTypeRefundEnergy
	case "set-certification-fee":
		return TxTypeSetCertificationFee
	case "set-trading-fee-rate":
		return TxTypeSetTradingFeeRate
	case "set-max-energy-per-user":
		return TxTypeSetMaxEnergyPerUser
	case "set-energy-reserve-limit":
		return TxTypeSetEnergyReserveLimit
	case "add-certifier":
		return TxTypeAddCertifier
	case "remove-certifier":
		return TxTypeRemoveCertifier
	case "deposit-funds":
		return TxTypeDepositFunds
	case "withdraw-funds":
		return TxTypeWithdrawFunds
	default:
		return TxTypeUnknown
	}
}

// Meta carries the fields common to every transaction. Concrete
// transaction types embed it and add their operation arguments.
type Meta struct {
	TxID      uuid.UUID // Idempotency key
	Origin    string    // Authenticated caller principal
	Height    int64     // Block height at submission
	Sequence  int64     // Gateway submission order
	Timestamp time.Time // Versioned input timestamp (NOT wall-clock)
}

func (m *Meta) IdempotencyKey() string { return m.TxID.String() }
func (m *Meta) Caller() string        { return m.Origin }
func (m *Meta) BlockHeight() int64    { return m.Height }
func (m *Meta) SourceSequence() int64 { return m.Sequence }
func (m *Meta) Time() time.Time       { return m.Timestamp }

// String returns the wire operation name.
func (t TxType) String() string {
	switch t {
	case TxTypeApplyForCertification:
		return "apply-for-certification"
	case TxTypeCertifyProducer:
		return "certify-producer"
	case TxTypeRejectProducer:
		return "reject-producer"
	case TxTypeAddEnergyForSale:
		return "add-energy-for-sale"
	case TxTypeRemoveEnergyFromSale:
		return "remove-energy-from-sale"
	case TxTypeBuyEnergyFromUser:
		return "buy-energy-from-user"
	case TxTypeRefundEnergy:
		return "refund-energy"
	case TxTypeSetCertificationFee:
		return "set-certification-fee"
	case TxTypeSetTradingFeeRate:
		return "set-trading-fee-rate"
	case TxTypeSetMaxEnergyPerUser:
		return "set-max-energy-per-user"
	case TxTypeSetEnergyReserveLimit:
		return "set-energy-reserve-limit"
	case TxTypeAddCertifier:
		return "add-certifier"
	case TxTypeRemoveCertifier:
		return "remove-certifier"
	case TxTypeDepositFunds:
		return "deposit-funds"
	case TxTypeWithdrawFunds:
		return "withdraw-funds"
	default:
		return "unknown"
	}
}
