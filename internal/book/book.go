package book

import (
	"fmt"

	"github.com/google/uuid"
)

// Record is one buyer's accumulated coverage on one asset. Repeat
// purchases accumulate into the same record; only settlement zeroes it.
type Record struct {
	AssetID       uuid.UUID
	Buyer         string
	SecuredAmount int64 // settlement-token decimals
	Quantity      int64 // whole principal units
	Seq           int64 // registration order within the asset
}

// Book tracks hired-insurance records per asset with a running total.
// Not thread-safe: mutations only come from the single-threaded core.
type Book struct {
	records map[uuid.UUID]map[string]*Record
	order   map[uuid.UUID][]string // buyers in first-purchase order
	totals  map[uuid.UUID]int64
}

func NewBook() *Book {
	return &Book{
		records: make(map[uuid.UUID]map[string]*Record),
		order:   make(map[uuid.UUID][]string),
		totals:  make(map[uuid.UUID]int64),
	}
}

// Add accumulates a purchase into the buyer's record for the asset.
func (b *Book) Add(assetID uuid.UUID, buyer string, quantity, secured int64) *Record {
	byBuyer := b.records[assetID]
	if byBuyer == nil {
		byBuyer = make(map[string]*Record)
		b.records[assetID] = byBuyer
	}

	rec, ok := byBuyer[buyer]
	if !ok {
		rec = &Record{
			AssetID: assetID,
			Buyer:   buyer,
			Seq:     int64(len(b.order[assetID])),
		}
		byBuyer[buyer] = rec
		b.order[assetID] = append(b.order[assetID], buyer)
	}

	rec.Quantity += quantity
	rec.SecuredAmount += secured
	b.totals[assetID] += secured

	b.verifyTotal(assetID)
	return rec
}

// Record returns the buyer's record for an asset, if present.
func (b *Book) Record(assetID uuid.UUID, buyer string) (*Record, bool) {
	rec, ok := b.records[assetID][buyer]
	return rec, ok
}

// Records returns all records for an asset in ascending registration order.
func (b *Book) Records(assetID uuid.UUID) []*Record {
	buyers := b.order[assetID]
	out := make([]*Record, 0, len(buyers))
	for _, buyer := range buyers {
		rec := b.records[assetID][buyer]
		if rec != nil && rec.SecuredAmount > 0 {
			out = append(out, rec)
		}
	}
	return out
}

// TotalSecured returns the running total of secured amounts for an asset.
func (b *Book) TotalSecured(assetID uuid.UUID) int64 {
	return b.totals[assetID]
}

// HasClients reports whether anyone currently insures the asset.
func (b *Book) HasClients(assetID uuid.UUID) bool {
	return b.totals[assetID] > 0
}

// Drain returns all live records in registration order and zeroes the
// asset's book. Called exactly once per asset, at settlement.
func (b *Book) Drain(assetID uuid.UUID) []*Record {
	out := b.Records(assetID)

	drained := make([]*Record, len(out))
	for i, rec := range out {
		cp := *rec
		drained[i] = &cp
		rec.SecuredAmount = 0
		rec.Quantity = 0
	}
	b.totals[assetID] = 0

	b.verifyTotal(assetID)
	return drained
}

// verifyTotal cross-checks the running total against the arithmetic sum.
func (b *Book) verifyTotal(assetID uuid.UUID) {
	var sum int64
	for _, rec := range b.records[assetID] {
		sum += rec.SecuredAmount
	}
	if sum != b.totals[assetID] {
		panic(fmt.Sprintf("FATAL: book total mismatch for asset %s: running=%d sum=%d",
			assetID, b.totals[assetID], sum))
	}
}
