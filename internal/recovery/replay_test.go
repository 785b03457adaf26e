package recovery

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"blockshield/internal/asset"
	"blockshield/internal/book"
	"blockshield/internal/event"
	"blockshield/internal/settlement"
	"blockshield/internal/token"
)

const custody = "shield-custody"

type fixture struct {
	replayer    *Replayer
	registry    *asset.Registry
	book        *book.Book
	bank        *token.Bank
	settlements *settlement.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	bank := token.NewBank()
	bank.Register("USDC", 6)

	registry := asset.NewRegistry()
	bk := book.NewBook()
	settlements := settlement.NewManager()

	return &fixture{
		replayer:    NewReplayer(nil, registry, bk, bank, settlements, custody),
		registry:    registry,
		book:        bk,
		bank:        bank,
		settlements: settlements,
	}
}

func mustApply(t *testing.T, f *fixture, eventType string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.replayer.apply(eventType, data, time.Now()); err != nil {
		t.Fatalf("apply %s: %v", eventType, err)
	}
}

// replayConfiguredPolicy applies the four admin events that set up a
// sellable policy and returns the asset id.
func replayConfiguredPolicy(t *testing.T, f *fixture) uuid.UUID {
	t.Helper()
	assetID := uuid.New()

	mustApply(t, f, "CreateAsset", map[string]interface{}{
		"asset_id":     assetID,
		"name":         "Precatorio 105",
		"symbol":       "PREC105",
		"total_supply": 1000,
		"total_value":  "1000000000000000000000",
		"due_date":     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		"yield":        100_000_000_000_000_000,
	})
	mustApply(t, f, "CreatePolicy", map[string]interface{}{
		"asset_id": assetID,
		"name":     "Precatorio 105 Insurance",
		"policy":   "blockshield.PREC105",
		"prime":    50_000_000_000_000_000,
	})
	mustApply(t, f, "SetSettlementToken", map[string]interface{}{
		"policy": "blockshield.PREC105",
		"token":  "USDC",
	})
	mustApply(t, f, "SetCrossChainRoute", map[string]interface{}{
		"policy":            "blockshield.PREC105",
		"chain_selector":    uint64(16015286601757825753),
		"destination_token": "0xdest",
		"fee_token":         "LINK",
	})
	return assetID
}

func TestReplayRestoresOpenPolicy(t *testing.T) {
	f := newFixture(t)
	assetID := replayConfiguredPolicy(t, f)

	mustApply(t, f, "InsuranceHired", &event.InsuranceHired{
		AssetID:  assetID,
		Policy:   "blockshield.PREC105",
		Buyer:    "alice",
		Quantity: 100,
		Paid:     100_000_000,
	})

	a, ok := f.registry.Asset(assetID)
	if !ok {
		t.Fatal("asset not restored")
	}
	if a.Symbol != "PREC105" || a.TotalSupply != 1000 {
		t.Errorf("asset = %+v", a)
	}
	if a.UnitValue.String() != "1000000000000000000" {
		t.Errorf("unit value = %s", a.UnitValue)
	}

	pol, ok := f.registry.Policy("blockshield.PREC105")
	if !ok {
		t.Fatal("policy not restored")
	}
	if !pol.Configured() {
		t.Error("policy not configured after token and route replay")
	}
	if pol.Route.ChainSelector != 16015286601757825753 || pol.Route.FeeToken != "LINK" {
		t.Errorf("route = %+v", pol.Route)
	}

	usdc, err := f.bank.Token("USDC")
	if err != nil {
		t.Fatal(err)
	}
	if got := usdc.BalanceOf(custody); got != 100_000_000 {
		t.Errorf("custody = %d, want 100000000", got)
	}

	receipt, err := f.bank.Token("blockshield.PREC105")
	if err != nil {
		t.Fatal("receipt token not restored")
	}
	if got := receipt.BalanceOf("alice"); got != 100 {
		t.Errorf("receipt = %d, want 100", got)
	}

	if got := f.book.TotalSecured(assetID); got != 100_000_000 {
		t.Errorf("secured = %d, want 100000000", got)
	}

	phase, err := f.settlements.PhaseOf("blockshield.PREC105")
	if err != nil {
		t.Fatal(err)
	}
	if phase != settlement.PhaseOpen {
		t.Errorf("phase = %s, want Open", phase)
	}
}

func TestReplayRestoresSettledPolicy(t *testing.T) {
	f := newFixture(t)
	assetID := replayConfiguredPolicy(t, f)

	mustApply(t, f, "InsuranceHired", &event.InsuranceHired{
		AssetID:  assetID,
		Policy:   "blockshield.PREC105",
		Buyer:    "alice",
		Quantity: 100,
		Paid:     100_000_000,
	})
	mustApply(t, f, "UpkeepPerformed", &event.UpkeepPerformed{
		AssetID:   assetID,
		Policy:    "blockshield.PREC105",
		Defaulted: false,
	})

	// Custody keeps only the retained prime: 5% of 100 USDC.
	usdc, err := f.bank.Token("USDC")
	if err != nil {
		t.Fatal(err)
	}
	if got := usdc.BalanceOf(custody); got != 5_000_000 {
		t.Errorf("custody = %d, want 5000000", got)
	}

	receipt, err := f.bank.Token("blockshield.PREC105")
	if err != nil {
		t.Fatal(err)
	}
	if got := receipt.BalanceOf("alice"); got != 0 {
		t.Errorf("receipt = %d, want 0", got)
	}

	if f.book.HasClients(assetID) {
		t.Error("book not drained")
	}

	phase, err := f.settlements.PhaseOf("blockshield.PREC105")
	if err != nil {
		t.Fatal(err)
	}
	if phase != settlement.PhaseSettled {
		t.Errorf("phase = %s, want Settled", phase)
	}
}

func TestReplayCustodyUnwindOnDefault(t *testing.T) {
	f := newFixture(t)
	assetID := replayConfiguredPolicy(t, f)

	mustApply(t, f, "InsuranceHired", &event.InsuranceHired{
		AssetID:  assetID,
		Policy:   "blockshield.PREC105",
		Buyer:    "alice",
		Quantity: 100,
		Paid:     100_000_000,
	})
	mustApply(t, f, "UpkeepPerformed", &event.UpkeepPerformed{
		AssetID:   assetID,
		Policy:    "blockshield.PREC105",
		Defaulted: true,
	})

	// The custody residue is the same on both verdict branches.
	usdc, err := f.bank.Token("USDC")
	if err != nil {
		t.Fatal(err)
	}
	if got := usdc.BalanceOf(custody); got != 5_000_000 {
		t.Errorf("custody = %d, want 5000000", got)
	}
}

func TestReplayIgnoresInformationalEvents(t *testing.T) {
	f := newFixture(t)

	for _, eventType := range []string{
		"PerformUpkeep", "LiquidationResult", "RWAYieldPaid",
		"InsurancePaid", "InsuranceTotalPayment", "PayoutDispatched",
		"InsuranceWithoutClients",
	} {
		if err := f.replayer.apply(eventType, []byte(`{"anything":"goes"}`), time.Now()); err != nil {
			t.Errorf("apply %s: %v", eventType, err)
		}
	}
}

func TestReplayRejectsCorruptPayloads(t *testing.T) {
	f := newFixture(t)

	if err := f.replayer.apply("CreateAsset", []byte(`{broken`), time.Now()); err == nil {
		t.Error("malformed JSON accepted")
	}

	data, _ := json.Marshal(map[string]interface{}{
		"asset_id":    uuid.New(),
		"total_value": "not-a-number",
	})
	if err := f.replayer.apply("CreateAsset", data, time.Now()); err == nil {
		t.Error("non-numeric total_value accepted")
	}

	// A hire against a policy the log never created is corruption.
	hire, _ := json.Marshal(&event.InsuranceHired{Policy: "blockshield.GHOST", Buyer: "alice", Quantity: 1, Paid: 1})
	if err := f.replayer.apply("InsuranceHired", hire, time.Now()); err == nil {
		t.Error("hire against unknown policy accepted")
	}
}
