package asset

import (
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"

	fpmath "blockshield/internal/math"
)

// PolicyPrefix namespaces insurance receipt symbols.
const PolicyPrefix = "blockshield."

// Validation errors surfaced at creation time.
var (
	ErrEmptyName          = errors.New("asset name must not be empty")
	ErrSymbolTooShort     = errors.New("asset symbol must be longer than 3 characters")
	ErrZeroSupply         = errors.New("total supply must be greater than zero")
	ErrZeroValue          = errors.New("total value must be greater than zero")
	ErrDueDateNotFuture   = errors.New("due date must be in the future")
	ErrInvalidPercentage  = errors.New("percentage must be between 1% and 100% in wad")
	ErrPrimeNotBelowYield = errors.New("prime must be strictly below asset yield")
	ErrDuplicateSymbol    = errors.New("symbol already registered")
	ErrDuplicatePolicy    = errors.New("asset already has a policy")
	ErrUnknownAsset       = errors.New("unknown asset")
	ErrUnknownPolicy      = errors.New("unknown policy")
	ErrNotConfigured      = errors.New("policy settlement token or route not configured")
)

// Asset is a tokenized RWA debt instrument. Immutable after creation
// except for the display name, which admins may correct.
type Asset struct {
	ID          uuid.UUID
	Name        string
	Symbol      string
	TotalSupply int64    // whole principal units
	TotalValue  *big.Int // native 18-decimal precision
	UnitValue   *big.Int // TotalValue / TotalSupply, truncated
	DueDate     time.Time
	Yield       int64 // wad percentage owed at maturity
	Decimals    int
	CreatedAt   time.Time
}

// ValuePlusYield returns the per-unit repayment value at maturity.
func (a *Asset) ValuePlusYield() *big.Int {
	return fpmath.ValuePlusYield(a.UnitValue, a.Yield)
}

// Route is the cross-chain payout destination for a policy.
type Route struct {
	ChainSelector    uint64
	DestinationToken string
	FeeToken         string
}

// Policy is the insurance product sold against one asset.
type Policy struct {
	AssetID         uuid.UUID
	Name            string
	Symbol          string // PolicyPrefix + asset symbol
	Prime           int64  // wad percentage retained by the protocol
	SettlementToken string
	Route           *Route
	CreatedAt       time.Time
}

// Configured reports whether the policy can sell insurance yet.
// Both the settlement token and the payout route are admin-set after creation.
func (p *Policy) Configured() bool {
	return p.SettlementToken != "" && p.Route != nil
}
