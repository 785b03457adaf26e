package persistence

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"blockshield/internal/event"
	"blockshield/internal/ledger"
)

func strPtr(s string) *string { return &s }

func TestBuildOutputEventRow(t *testing.T) {
	env := &event.Envelope{
		Sequence:       42,
		IdempotencyKey: "key-1",
		EventType:      event.EventTypeCreateAsset,
		Timestamp:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:        []byte(`{"symbol":"PREC105"}`),
	}

	out := BuildOutput(env, nil, nil)
	if out.Event.Sequence != 42 || out.Event.EventType != "CreateAsset" || out.Event.IdempotencyKey != "key-1" {
		t.Errorf("event row = %+v", out.Event)
	}
	if out.Event.PolicySymbol != nil {
		t.Error("policy set on global event")
	}
	if len(out.Journals) != 0 || len(out.Records) != 0 || len(out.Statuses) != 0 {
		t.Error("unexpected derived rows")
	}
}

func TestBuildOutputJournals(t *testing.T) {
	batchID := uuid.New()
	custody := ledger.NewSystemAccountKey(ledger.SubTypeCustody, 1)
	buyer := ledger.NewBuyerAccountKey("alice", 1)
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      "key-1",
			Sequence:      7,
			DebitAccount:  custody,
			CreditAccount: buyer,
			AssetID:       1,
			Amount:        100_000_000,
			JournalType:   ledger.JournalTypePremiumCollect,
			Timestamp:     1,
		}},
	}
	env := &event.Envelope{Sequence: 7, EventType: event.EventTypeInsuranceHired}

	out := BuildOutput(env, batch, nil)
	if len(out.Journals) != 1 {
		t.Fatalf("journals = %d", len(out.Journals))
	}
	j := out.Journals[0]
	if j.DebitAccount != "system:custody:USDC" {
		t.Errorf("debit = %s", j.DebitAccount)
	}
	if j.Amount != 100_000_000 || j.Sequence != 7 {
		t.Errorf("journal = %+v", j)
	}
}

func TestBuildOutputHiredProjection(t *testing.T) {
	assetID := uuid.New()
	hired := &event.InsuranceHired{
		AssetID:  assetID,
		Policy:   "blockshield.PREC105",
		Buyer:    "alice",
		Quantity: 100,
		Paid:     100_000_000,
	}
	env := &event.Envelope{
		EventType:    event.EventTypeInsuranceHired,
		PolicySymbol: strPtr("blockshield.PREC105"),
	}

	out := BuildOutput(env, nil, hired)
	if len(out.Records) != 1 {
		t.Fatalf("records = %d", len(out.Records))
	}
	r := out.Records[0]
	if r.Buyer != "alice" || r.QuantityDelta != 100 || r.SecuredDelta != 100_000_000 || r.Settled {
		t.Errorf("record = %+v", r)
	}
	if r.AssetID != assetID.String() {
		t.Errorf("asset id = %s", r.AssetID)
	}
}

func TestBuildOutputStatusProjections(t *testing.T) {
	policy := "blockshield.PREC105"

	// Upkeep dispatch: awaiting oracle.
	out := BuildOutput(&event.Envelope{
		EventType:    event.EventTypePerformUpkeep,
		PolicySymbol: strPtr(policy),
	}, nil, nil)
	if len(out.Statuses) != 1 || out.Statuses[0].Phase != "awaiting_oracle" {
		t.Errorf("upkeep statuses = %+v", out.Statuses)
	}

	// Oracle fault: reopened.
	out = BuildOutput(&event.Envelope{
		EventType:    event.EventTypeLiquidationResult,
		PolicySymbol: strPtr(policy),
	}, nil, nil)
	if len(out.Statuses) != 1 || out.Statuses[0].Phase != "open" {
		t.Errorf("reopen statuses = %+v", out.Statuses)
	}

	// Completed settlement: terminal, records zeroed.
	out = BuildOutput(&event.Envelope{
		EventType:    event.EventTypeUpkeepPerformed,
		PolicySymbol: strPtr(policy),
	}, nil, &event.UpkeepPerformed{Policy: policy, Defaulted: true})
	if len(out.Statuses) != 1 || out.Statuses[0].Phase != "settled" {
		t.Fatalf("settled statuses = %+v", out.Statuses)
	}
	if out.Statuses[0].Defaulted == nil || !*out.Statuses[0].Defaulted {
		t.Error("defaulted verdict lost")
	}
	if len(out.Records) != 1 || !out.Records[0].Settled {
		t.Errorf("settle records = %+v", out.Records)
	}
}
