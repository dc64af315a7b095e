package tx

// ApplyForCertification registers (or re-registers, after rejection) a
// producer's pending certification application.
type ApplyForCertification struct {
	Meta
	EnergyAmount int64  // kWh claimed for certification
	Source       string // free-form production source tag ("solar", "wind", ...)
}

func (t *ApplyForCertification) TxType() TxType { return TxTypeApplyForCertification }

// CertifyProducer transitions a pending application to Certified and
// credits the producer's free energy balance. Certifier-only.
type CertifyProducer struct {
	Meta
	Producer string
}

func (t *CertifyProducer) TxType() TxType { return TxTypeCertifyProducer }

// RejectProducer transitions a pending application to Rejected.
// No balance change. Certifier-only.
type RejectProducer struct {
	Meta
	Producer string
}

func (t *RejectProducer) TxType() TxType { return TxTypeRejectProducer }
