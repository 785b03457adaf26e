package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Outbound payloads emitted by the core after a command is applied.
// They are JSON-encoded into the envelope payload column and published
// to downstream consumers.

// InsuranceHired confirms a completed purchase.
type InsuranceHired struct {
	CorrelationID string    `json:"correlation_id"`
	AssetID       uuid.UUID `json:"asset_id"`
	Policy        string    `json:"policy"`
	Buyer         string    `json:"buyer"`
	Quantity      int64     `json:"quantity"`
	Paid          int64     `json:"paid"`
}

// HireCorrelationID derives a stable content hash for a purchase so
// downstream consumers can dedupe across redeliveries.
func HireCorrelationID(policy, buyer string, quantity, paid int64, requestID uuid.UUID) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d|%s", policy, buyer, quantity, paid, requestID)))
	return hex.EncodeToString(sum[:])
}

// UpkeepPerformed marks the completion of the oracle callback for a policy.
type UpkeepPerformed struct {
	AssetID   uuid.UUID `json:"asset_id"`
	Policy    string    `json:"policy"`
	Defaulted bool      `json:"defaulted"`
}

// RWAYieldPaid is emitted per buyer when the asset did NOT default:
// the buyer receives principal plus yield, minus the retained prime.
type RWAYieldPaid struct {
	AssetID uuid.UUID `json:"asset_id"`
	Policy  string    `json:"policy"`
	Buyer   string    `json:"buyer"`
	Secured int64     `json:"secured"`
	Payout  int64     `json:"payout"`
}

// InsurancePaid is emitted per buyer when the asset defaulted:
// the buyer recovers principal minus the retained prime.
type InsurancePaid struct {
	AssetID uuid.UUID `json:"asset_id"`
	Policy  string    `json:"policy"`
	Buyer   string    `json:"buyer"`
	Secured int64     `json:"secured"`
	Payout  int64     `json:"payout"`
}

// InsuranceTotalPayment accompanies every per-buyer settlement with the
// full breakdown of the transfer.
type InsuranceTotalPayment struct {
	AssetID uuid.UUID `json:"asset_id"`
	Policy  string    `json:"policy"`
	Buyer   string    `json:"buyer"`
	Secured int64     `json:"secured"`
	Cost    int64     `json:"cost"`
	Payout  int64     `json:"payout"`
}

// InsuranceWithoutClients is emitted when settlement runs for an asset
// that nobody insured. No transfers occur.
type InsuranceWithoutClients struct {
	AssetID uuid.UUID `json:"asset_id"`
	Policy  string    `json:"policy"`
}

// PayoutDispatched records a cross-chain payment handed to the bridge.
type PayoutDispatched struct {
	AssetID   uuid.UUID `json:"asset_id"`
	Policy    string    `json:"policy"`
	Buyer     string    `json:"buyer"`
	Amount    int64     `json:"amount"`
	MessageID uuid.UUID `json:"message_id"`
}
