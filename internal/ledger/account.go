package ledger

import (
	"fmt"
	"strings"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeEnergyFree AccountSubType = iota
	SubTypeEnergyListed
	SubTypeCash

	// External sub-types
	SubTypeExternalGrid
	SubTypeExternalFunds
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	AssetEnergy   AssetID = 1 // kWh
	AssetCurrency AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"KWH":      AssetEnergy,
		"CURRENCY": AssetCurrency,
	}
	idToAsset = map[AssetID]string{
		AssetEnergy:   "KWH",
		AssetCurrency: "CURRENCY",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking. Principals are the
// opaque addresses delivered by the authentication boundary; they key user
// accounts directly. The key is comparable and usable as a map key.
type AccountKey struct {
	Scope     AccountScope
	Principal string // empty for external accounts
	SubType   AccountSubType
	AssetID   AssetID
}

// NewUserAccountKey creates a key for a principal's sub-account
func NewUserAccountKey(principal string, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:     AccountScopeUser,
		Principal: principal,
		SubType:   subType,
		AssetID:   assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts.
// external:grid is the mint/burn counterparty for energy; external:funds
// is the gateway counterparty for currency deposits and withdrawals.
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Principal, k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath, used when restoring
// snapshots and rebuilding projections. Principals never contain ':'.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 4 && parts[0] == "user":
		subType, ok := subTypeFromName(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown sub-type in account path %q", path)
		}
		assetID, ok := GetAssetID(parts[3])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown asset in account path %q", path)
		}
		return NewUserAccountKey(parts[1], subType, assetID), nil

	case len(parts) == 3 && parts[0] == "external":
		subType, ok := subTypeFromName(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown sub-type in account path %q", path)
		}
		assetID, ok := GetAssetID(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown asset in account path %q", path)
		}
		return NewExternalAccountKey(subType, assetID), nil
	}
	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}

func subTypeFromName(name string) (AccountSubType, bool) {
	switch name {
	case "energy_free":
		return SubTypeEnergyFree, true
	case "energy_listed":
		return SubTypeEnergyListed, true
	case "cash":
		return SubTypeCash, true
	case "grid":
		return SubTypeExternalGrid, true
	case "funds":
		return SubTypeExternalFunds, true
	}
	return 0, false
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeEnergyFree:
		return "energy_free"
	case SubTypeEnergyListed:
		return "energy_listed"
	case SubTypeCash:
		return "cash"
	case SubTypeExternalGrid:
		return "grid"
	case SubTypeExternalFunds:
		return "funds"
	default:
		return "unknown"
	}
}
