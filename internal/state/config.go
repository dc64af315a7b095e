package state

import "fmt"

// Default parameters a fresh ledger boots with. The owner adjusts them
// through the config setter transactions.
const (
	DefaultCertificationFee  int64 = 100
	DefaultTradingFeeRatePPM int64 = 100_000 // 10%
	DefaultMaxEnergyPerUser  int64 = 10_000
	DefaultReserveLimit      int64 = 1_000_000
)

// ConfigStore holds the owner-controlled parameters every handler reads
// at call time. The owner principal is fixed at construction and never
// changes; the owner is implicitly a certifier.
type ConfigStore struct {
	owner             string
	certificationFee  int64
	tradingFeeRatePPM int64
	maxEnergyPerUser  int64
	reserveLimit      int64
	certifiers        map[string]struct{}
}

func NewConfigStore(owner string) *ConfigStore {
	return &ConfigStore{
		owner:             owner,
		certificationFee:  DefaultCertificationFee,
		tradingFeeRatePPM: DefaultTradingFeeRatePPM,
		maxEnergyPerUser:  DefaultMaxEnergyPerUser,
		reserveLimit:      DefaultReserveLimit,
		certifiers:        make(map[string]struct{}),
	}
}

func (cs *ConfigStore) Owner() string            { return cs.owner }
func (cs *ConfigStore) CertificationFee() int64  { return cs.certificationFee }
func (cs *ConfigStore) TradingFeeRatePPM() int64 { return cs.tradingFeeRatePPM }
func (cs *ConfigStore) MaxEnergyPerUser() int64  { return cs.maxEnergyPerUser }
func (cs *ConfigStore) ReserveLimit() int64      { return cs.reserveLimit }

// IsOwner is the authorization guard for config setters.
func (cs *ConfigStore) IsOwner(principal string) bool {
	return principal == cs.owner
}

// IsCertifier reports whether a principal may certify or reject
// producers. The owner always qualifies.
func (cs *ConfigStore) IsCertifier(principal string) bool {
	if principal == cs.owner {
		return true
	}
	_, ok := cs.certifiers[principal]
	return ok
}

func (cs *ConfigStore) AddCertifier(principal string) {
	cs.certifiers[principal] = struct{}{}
}

func (cs *ConfigStore) RemoveCertifier(principal string) {
	delete(cs.certifiers, principal)
}

// Setters assume the core has already authorized the caller and
// validated the value; they reject negatives as a last line of defense.

func (cs *ConfigStore) SetCertificationFee(v int64) error {
	if v < 0 {
		return fmt.Errorf("certification fee must be >= 0, got %d", v)
	}
	cs.certificationFee = v
	return nil
}

func (cs *ConfigStore) SetTradingFeeRatePPM(v int64) error {
	if v < 0 || v > 1_000_000 {
		return fmt.Errorf("trading fee rate must be in [0, 1_000_000] ppm, got %d", v)
	}
	cs.tradingFeeRatePPM = v
	return nil
}

func (cs *ConfigStore) SetMaxEnergyPerUser(v int64) error {
	if v < 0 {
		return fmt.Errorf("max energy per user must be >= 0, got %d", v)
	}
	cs.maxEnergyPerUser = v
	return nil
}

func (cs *ConfigStore) SetReserveLimit(v int64) error {
	if v < 0 {
		return fmt.Errorf("reserve limit must be >= 0, got %d", v)
	}
	cs.reserveLimit = v
	return nil
}

// ConfigSnapshot is the serializable form used by snapshots and the
// config projection.
type ConfigSnapshot struct {
	Owner             string   `json:"owner"`
	CertificationFee  int64    `json:"certification_fee"`
	TradingFeeRatePPM int64    `json:"trading_fee_rate_ppm"`
	MaxEnergyPerUser  int64    `json:"max_energy_per_user"`
	ReserveLimit      int64    `json:"reserve_limit"`
	Certifiers        []string `json:"certifiers"`
}

func (cs *ConfigStore) Snapshot() ConfigSnapshot {
	certifiers := make([]string, 0, len(cs.certifiers))
	for p := range cs.certifiers {
		certifiers = append(certifiers, p)
	}
	return ConfigSnapshot{
		Owner:             cs.owner,
		CertificationFee:  cs.certificationFee,
		TradingFeeRatePPM: cs.tradingFeeRatePPM,
		MaxEnergyPerUser:  cs.maxEnergyPerUser,
		ReserveLimit:      cs.reserveLimit,
		Certifiers:        certifiers,
	}
}

func (cs *ConfigStore) Restore(snap ConfigSnapshot) {
	cs.owner = snap.Owner
	cs.certificationFee = snap.CertificationFee
	cs.tradingFeeRatePPM = snap.TradingFeeRatePPM
	cs.maxEnergyPerUser = snap.MaxEnergyPerUser
	cs.reserveLimit = snap.ReserveLimit
	cs.certifiers = make(map[string]struct{}, len(snap.Certifiers))
	for _, p := range snap.Certifiers {
		cs.certifiers[p] = struct{}{}
	}
}
