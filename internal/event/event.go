package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota

	// Inbound commands
	EventTypeCreateAsset
	EventTypeCreatePolicy
	EventTypeSetSettlementToken
	EventTypeSetCrossChainRoute
	EventTypeHireInsurance
	EventTypePerformUpkeep
	EventTypeLiquidationResult

	// Outbound settlement events
	EventTypeInsuranceHired
	EventTypeUpkeepPerformed
	EventTypeRWAYieldPaid
	EventTypeInsurancePaid
	EventTypeInsuranceTotalPayment
	EventTypeInsuranceWithoutClients
	EventTypePayoutDispatched
)

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Policy context (nullable for global events)
	PolicySymbol *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte
}

// Event is the interface all inbound commands must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// PolicySymbol returns the policy context (nil for global events)
	PolicySymbol() *string

	// EventTimestamp returns the versioned input timestamp
	EventTimestamp() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeCreateAsset:
		return "CreateAsset"
	case EventTypeCreatePolicy:
		return "CreatePolicy"
	case EventTypeSetSettlementToken:
		return "SetSettlementToken"
	case EventTypeSetCrossChainRoute:
		return "SetCrossChainRoute"
	case EventTypeHireInsurance:
		return "HireInsurance"
	case EventTypePerformUpkeep:
		return "PerformUpkeep"
	case EventTypeLiquidationResult:
		return "LiquidationResult"
	case EventTypeInsuranceHired:
		return "InsuranceHired"
	case EventTypeUpkeepPerformed:
		return "UpkeepPerformed"
	case EventTypeRWAYieldPaid:
		return "RWAYieldPaid"
	case EventTypeInsurancePaid:
		return "InsurancePaid"
	case EventTypeInsuranceTotalPayment:
		return "InsuranceTotalPayment"
	case EventTypeInsuranceWithoutClients:
		return "InsuranceWithoutClients"
	case EventTypePayoutDispatched:
		return "PayoutDispatched"
	default:
		return "Unknown"
	}
}
