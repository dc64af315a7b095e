package state

import "fmt"

// CertificationStatus is the lifecycle state of a producer's application.
// Transitions are monotonic: Pending→Certified or Pending→Rejected only.
// Certified is absorbing; a rejected producer may submit a fresh
// application, which overwrites the record back to Pending.
type CertificationStatus int32

const (
	StatusPending CertificationStatus = iota
	StatusCertified
	StatusRejected
)

func (s CertificationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCertified:
		return "certified"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// CanTransitionTo accepts only the two legal edges.
func (s CertificationStatus) CanTransitionTo(to CertificationStatus) bool {
	return s == StatusPending && (to == StatusCertified || to == StatusRejected)
}

// CertificationRecord is a producer's application.
type CertificationRecord struct {
	Producer        string              `json:"producer"`
	Status          CertificationStatus `json:"status"`
	EnergyAmount    int64               `json:"energy_amount"`
	Source          string              `json:"source"`
	AppliedAtHeight int64               `json:"applied_at_height"`
}

// CertificationRegistry keys applications by producer principal.
type CertificationRegistry struct {
	records map[string]*CertificationRecord
}

func NewCertificationRegistry() *CertificationRegistry {
	return &CertificationRegistry{
		records: make(map[string]*CertificationRecord),
	}
}

// Get returns the record for a producer, if any.
func (r *CertificationRegistry) Get(producer string) (*CertificationRecord, bool) {
	rec, ok := r.records[producer]
	return rec, ok
}

// SubmitApplication creates or overwrites the producer's record with a
// fresh Pending application. The caller is responsible for rejecting
// submissions from producers whose current status forbids it.
func (r *CertificationRegistry) SubmitApplication(producer string, energyAmount int64, source string, height int64) {
	r.records[producer] = &CertificationRecord{
		Producer:        producer,
		Status:          StatusPending,
		EnergyAmount:    energyAmount,
		Source:          source,
		AppliedAtHeight: height,
	}
}

// Transition moves a producer's record along one of the legal edges.
// Illegal transitions are an error here regardless of what the caller
// already checked; monotonicity is enforced at the data structure.
func (r *CertificationRegistry) Transition(producer string, to CertificationStatus) error {
	rec, ok := r.records[producer]
	if !ok {
		return fmt.Errorf("no certification record for %s", producer)
	}
	if !rec.Status.CanTransitionTo(to) {
		return fmt.Errorf("illegal certification transition for %s: %s -> %s", producer, rec.Status, to)
	}
	rec.Status = to
	return nil
}

// Snapshot returns a copy of every record for state hashing and persistence.
func (r *CertificationRegistry) Snapshot() map[string]CertificationRecord {
	snap := make(map[string]CertificationRecord, len(r.records))
	for k, v := range r.records {
		snap[k] = *v
	}
	return snap
}

func (r *CertificationRegistry) Restore(snap map[string]CertificationRecord) {
	r.records = make(map[string]*CertificationRecord, len(snap))
	for k, v := range snap {
		rec := v
		r.records[k] = &rec
	}
}

// Len returns the number of records.
func (r *CertificationRegistry) Len() int {
	return len(r.records)
}
