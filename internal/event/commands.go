package event

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// CreateAsset registers a new RWA debt instrument.
type CreateAsset struct {
	RequestID   uuid.UUID
	Name        string
	Symbol      string
	TotalSupply int64
	TotalValue  *big.Int // native 18-decimal precision
	DueDate     time.Time
	Yield       int64 // wad percentage
	Timestamp   time.Time
}

func (c *CreateAsset) IdempotencyKey() string    { return c.RequestID.String() }
func (c *CreateAsset) EventType() EventType      { return EventTypeCreateAsset }
func (c *CreateAsset) PolicySymbol() *string     { return nil }
func (c *CreateAsset) EventTimestamp() time.Time { return c.Timestamp }

// CreatePolicy attaches an insurance policy to an existing asset.
type CreatePolicy struct {
	RequestID   uuid.UUID
	AssetSymbol string
	Name        string
	Prime       int64 // wad percentage, must be below asset yield
	Timestamp   time.Time
}

func (c *CreatePolicy) IdempotencyKey() string    { return c.RequestID.String() }
func (c *CreatePolicy) EventType() EventType      { return EventTypeCreatePolicy }
func (c *CreatePolicy) PolicySymbol() *string     { return nil }
func (c *CreatePolicy) EventTimestamp() time.Time { return c.Timestamp }

// SetSettlementToken configures which token premiums and payouts settle in.
type SetSettlementToken struct {
	RequestID uuid.UUID
	Policy    string
	Token     string
	Timestamp time.Time
}

func (c *SetSettlementToken) IdempotencyKey() string    { return c.RequestID.String() }
func (c *SetSettlementToken) EventType() EventType      { return EventTypeSetSettlementToken }
func (c *SetSettlementToken) PolicySymbol() *string     { return &c.Policy }
func (c *SetSettlementToken) EventTimestamp() time.Time { return c.Timestamp }

// SetCrossChainRoute configures the payout destination chain and token.
type SetCrossChainRoute struct {
	RequestID        uuid.UUID
	Policy           string
	ChainSelector    uint64
	DestinationToken string
	FeeToken         string
	Timestamp        time.Time
}

func (c *SetCrossChainRoute) IdempotencyKey() string    { return c.RequestID.String() }
func (c *SetCrossChainRoute) EventType() EventType      { return EventTypeSetCrossChainRoute }
func (c *SetCrossChainRoute) PolicySymbol() *string     { return &c.Policy }
func (c *SetCrossChainRoute) EventTimestamp() time.Time { return c.Timestamp }

// HireInsurance is a buyer's request to secure quantity units of an asset.
type HireInsurance struct {
	RequestID uuid.UUID
	Policy    string
	Buyer     string
	Quantity  int64
	Timestamp time.Time
}

func (c *HireInsurance) IdempotencyKey() string    { return c.RequestID.String() }
func (c *HireInsurance) EventType() EventType      { return EventTypeHireInsurance }
func (c *HireInsurance) PolicySymbol() *string     { return &c.Policy }
func (c *HireInsurance) EventTimestamp() time.Time { return c.Timestamp }

// PerformUpkeep is the keeper's request to begin settlement for a due policy.
type PerformUpkeep struct {
	RequestID uuid.UUID
	Policy    string
	Now       time.Time
}

func (c *PerformUpkeep) IdempotencyKey() string    { return c.RequestID.String() }
func (c *PerformUpkeep) EventType() EventType      { return EventTypePerformUpkeep }
func (c *PerformUpkeep) PolicySymbol() *string     { return &c.Policy }
func (c *PerformUpkeep) EventTimestamp() time.Time { return c.Now }

// LiquidationResult is the oracle's answer to a pending default query.
// Payload is a big-endian unsigned integer: zero means not defaulted.
// ErrMsg non-empty means the oracle run failed and carries no verdict.
type LiquidationResult struct {
	OracleRequestID uuid.UUID
	Payload         []byte
	ErrMsg          string
	Timestamp       time.Time
}

func (c *LiquidationResult) IdempotencyKey() string {
	return fmt.Sprintf("%s:result", c.OracleRequestID)
}
func (c *LiquidationResult) EventType() EventType      { return EventTypeLiquidationResult }
func (c *LiquidationResult) PolicySymbol() *string     { return nil }
func (c *LiquidationResult) EventTimestamp() time.Time { return c.Timestamp }
