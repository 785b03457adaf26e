package ledger

import (
	"fmt"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeBuyer AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Buyer sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeCustody
	SubTypePremiumRevenue

	// External sub-types
	SubTypeBridgeOut
	SubTypeIssuerRepayment
)

// AssetID maps settlement-asset strings to numeric IDs
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDC": 1,
		"USDT": 2,
		"LINK": 3,
	}
	idToAsset = map[AssetID]string{
		1: "USDC",
		2: "USDT",
		3: "LINK",
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

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // buyer address hash; zero for system/external accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewBuyerAccountKey creates a key for a buyer's wallet account
func NewBuyerAccountKey(buyer string, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeBuyer,
		EntityID: entityHash(buyer),
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

func entityHash(name string) [16]byte {
	var id [16]byte
	copy(id[:], []byte(name))
	return id
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeBuyer:
		return fmt.Sprintf("buyer:%x:%s:%s", k.EntityID, k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeCustody:
		return "custody"
	case SubTypePremiumRevenue:
		return "premium_revenue"
	case SubTypeBridgeOut:
		return "bridge_out"
	case SubTypeIssuerRepayment:
		return "issuer_repayment"
	default:
		return "unknown"
	}
}
