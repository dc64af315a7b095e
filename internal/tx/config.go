package tx

// Config setters are owner-only. Values take effect immediately: limit
// checks always evaluate against the configuration current at call time.

type SetCertificationFee struct {
	Meta
	Fee int64
}

func (t *SetCertificationFee) TxType() TxType { return TxTypeSetCertificationFee }

type SetTradingFeeRate struct {
	Meta
	RatePPM int64 // parts per million; 100_000 = 10%
}

func (t *SetTradingFeeRate) TxType() TxType { return TxTypeSetTradingFeeRate }

type SetMaxEnergyPerUser struct {
	Meta
	Max int64
}

func (t *SetMaxEnergyPerUser) TxType() TxType { return TxTypeSetMaxEnergyPerUser }

type SetEnergyReserveLimit struct {
	Meta
	Limit int64
}

func (t *SetEnergyReserveLimit) TxType() TxType { return TxTypeSetEnergyReserveLimit }

// AddCertifier grants a principal the right to certify and reject
// producers. The owner is always a certifier.
type AddCertifier struct {
	Meta
	Certifier string
}

func (t *AddCertifier) TxType() TxType { return TxTypeAddCertifier }

type RemoveCertifier struct {
	Meta
	Certifier string
}

func (t *RemoveCertifier) TxType() TxType { return TxTypeRemoveCertifier }
