package sale

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"blockshield/internal/asset"
	"blockshield/internal/book"
	"blockshield/internal/event"
	"blockshield/internal/ledger"
	fpmath "blockshield/internal/math"
	"blockshield/internal/token"
)

var (
	ErrInvalidQuantity       = errors.New("quantity must be greater than zero")
	ErrQuantityExceedsSupply = errors.New("quantity exceeds asset total supply")
	ErrInsufficientStock     = errors.New("not enough unsecured supply left")
	ErrInsufficientFunds     = errors.New("buyer balance or allowance too low")
	ErrAmountOutOfRange      = errors.New("required amount does not fit the settlement precision")
)

// Desk sells insurance. It owns the pricing checks and the custody
// side effects of a purchase; the core serializes calls into it.
type Desk struct {
	registry *asset.Registry
	book     *book.Book
	bank     *token.Bank
	custody  string // custody address holding collected premiums
}

// Result is the outcome of a completed purchase.
type Result struct {
	Batch *ledger.Batch
	Hired *event.InsuranceHired
}

func NewDesk(registry *asset.Registry, bk *book.Book, bank *token.Bank, custody string) *Desk {
	return &Desk{
		registry: registry,
		book:     bk,
		bank:     bank,
		custody:  custody,
	}
}

// Hire processes a purchase. Preconditions are checked in a fixed
// order so rejections are deterministic regardless of caller.
func (d *Desk) Hire(cmd *event.HireInsurance, seq int64) (*Result, error) {
	pol, ok := d.registry.Policy(cmd.Policy)
	if !ok {
		return nil, fmt.Errorf("%s: %w", cmd.Policy, asset.ErrUnknownPolicy)
	}
	if !pol.Configured() {
		return nil, fmt.Errorf("%s: %w", cmd.Policy, asset.ErrNotConfigured)
	}

	a, ok := d.registry.Asset(pol.AssetID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", pol.AssetID, asset.ErrUnknownAsset)
	}

	if cmd.Quantity <= 0 {
		return nil, fmt.Errorf("quantity %d: %w", cmd.Quantity, ErrInvalidQuantity)
	}
	if cmd.Quantity > a.TotalSupply {
		return nil, fmt.Errorf("quantity %d > supply %d: %w", cmd.Quantity, a.TotalSupply, ErrQuantityExceedsSupply)
	}

	settlement, err := d.bank.Token(pol.SettlementToken)
	if err != nil {
		return nil, err
	}

	required, ok := fpmath.RequiredAmount(a.UnitValue, cmd.Quantity, a.Decimals, settlement.Decimals())
	if !ok {
		return nil, ErrAmountOutOfRange
	}

	// Sellout check: the cap and the running total use the same
	// truncation, so the comparison never under-collects.
	supplyCap, ok := fpmath.SupplyCap(a.UnitValue, a.TotalSupply, a.Decimals, settlement.Decimals())
	if !ok {
		return nil, ErrAmountOutOfRange
	}
	if d.book.TotalSecured(a.ID)+required > supplyCap {
		return nil, fmt.Errorf("secured %d + %d > cap %d: %w",
			d.book.TotalSecured(a.ID), required, supplyCap, ErrInsufficientStock)
	}

	if settlement.BalanceOf(cmd.Buyer) < required || settlement.Allowance(cmd.Buyer, d.custody) < required {
		return nil, fmt.Errorf("need %d %s: %w", required, pol.SettlementToken, ErrInsufficientFunds)
	}

	// Effects. TransferFrom re-checks balance and allowance atomically.
	if err := settlement.TransferFrom(d.custody, cmd.Buyer, d.custody, required); err != nil {
		return nil, fmt.Errorf("collect premium: %w", err)
	}

	receipt := d.bank.Register(pol.Symbol, 0)
	if err := receipt.Mint(cmd.Buyer, cmd.Quantity); err != nil {
		panic(fmt.Sprintf("FATAL: receipt mint failed after premium collected: %v", err))
	}

	d.book.Add(a.ID, cmd.Buyer, cmd.Quantity, required)

	settlementAssetID, ok := ledger.GetAssetID(pol.SettlementToken)
	if !ok {
		panic(fmt.Sprintf("FATAL: settlement token %s has no ledger asset id", pol.SettlementToken))
	}

	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID:   batchID,
		EventRef:  cmd.IdempotencyKey(),
		Sequence:  seq,
		Timestamp: cmd.Timestamp.UnixMicro(),
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				EventRef:      cmd.IdempotencyKey(),
				Sequence:      seq,
				DebitAccount:  ledger.NewSystemAccountKey(ledger.SubTypeCustody, settlementAssetID),
				CreditAccount: ledger.NewBuyerAccountKey(cmd.Buyer, settlementAssetID),
				AssetID:       settlementAssetID,
				Amount:        required,
				JournalType:   ledger.JournalTypePremiumCollect,
				Timestamp:     cmd.Timestamp.UnixMicro(),
			},
		},
	}

	hired := &event.InsuranceHired{
		CorrelationID: event.HireCorrelationID(cmd.Policy, cmd.Buyer, cmd.Quantity, required, cmd.RequestID),
		AssetID:       a.ID,
		Policy:        cmd.Policy,
		Buyer:         cmd.Buyer,
		Quantity:      cmd.Quantity,
		Paid:          required,
	}

	return &Result{Batch: batch, Hired: hired}, nil
}
