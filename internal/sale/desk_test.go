package sale

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"blockshield/internal/asset"
	"blockshield/internal/book"
	"blockshield/internal/event"
	fpmath "blockshield/internal/math"
	"blockshield/internal/token"
)

const custody = "shield-custody"

var (
	testNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	testDue = testNow.Add(30 * 24 * time.Hour)
)

type fixture struct {
	registry *asset.Registry
	book     *book.Book
	bank     *token.Bank
	desk     *Desk
	asset    *asset.Asset
	policy   *asset.Policy
	usdc     token.Token
}

// newFixture builds a configured policy over a 1000-unit asset worth
// 1.0 native per unit, so one unit costs exactly 1 USDC.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := asset.NewRegistry()
	totalValue := new(big.Int).Mul(big.NewInt(1000), fpmath.Pow10(18))
	a, err := registry.CreateAsset("Precatorio 105", "PREC105", 1000, totalValue, testDue, fpmath.MaxPercentage/10, testNow)
	if err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	p, err := registry.CreatePolicy("PREC105", "default cover", fpmath.MaxPercentage/20, testNow)
	if err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	if err := registry.SetSettlementToken(p.Symbol, "USDC"); err != nil {
		t.Fatal(err)
	}
	if err := registry.SetRoute(p.Symbol, asset.Route{ChainSelector: 1, DestinationToken: "0xdest", FeeToken: "LINK"}); err != nil {
		t.Fatal(err)
	}

	bank := token.NewBank()
	usdc := bank.Register("USDC", 6)
	bk := book.NewBook()

	return &fixture{
		registry: registry,
		book:     bk,
		bank:     bank,
		desk:     NewDesk(registry, bk, bank, custody),
		asset:    a,
		policy:   p,
		usdc:     usdc,
	}
}

func (f *fixture) fund(buyer string, amount int64) {
	f.usdc.Mint(buyer, amount)
	f.usdc.Approve(buyer, custody, amount)
}

func hireCmd(policy, buyer string, quantity int64) *event.HireInsurance {
	return &event.HireInsurance{
		RequestID: uuid.New(),
		Policy:    policy,
		Buyer:     buyer,
		Quantity:  quantity,
		Timestamp: testNow,
	}
}

func TestHireSuccess(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 100_000_000)

	res, err := f.desk.Hire(hireCmd(f.policy.Symbol, "alice", 100), 7)
	if err != nil {
		t.Fatalf("Hire: %v", err)
	}

	// Premium moved to custody.
	if got := f.usdc.BalanceOf(custody); got != 100_000_000 {
		t.Errorf("custody = %d, want 100000000", got)
	}
	if got := f.usdc.BalanceOf("alice"); got != 0 {
		t.Errorf("alice = %d, want 0", got)
	}

	// Receipt minted 1:1 with quantity.
	receipt, err := f.bank.Token(f.policy.Symbol)
	if err != nil {
		t.Fatalf("receipt token: %v", err)
	}
	if got := receipt.BalanceOf("alice"); got != 100 {
		t.Errorf("receipt = %d, want 100", got)
	}
	if receipt.Decimals() != 0 {
		t.Errorf("receipt decimals = %d, want 0", receipt.Decimals())
	}

	// Book recorded the purchase.
	rec, ok := f.book.Record(f.asset.ID, "alice")
	if !ok || rec.Quantity != 100 || rec.SecuredAmount != 100_000_000 {
		t.Errorf("record = %+v", rec)
	}

	// Journal batch is balanced and carries the premium.
	if err := res.Batch.Validate(); err != nil {
		t.Errorf("batch invalid: %v", err)
	}
	if len(res.Batch.Journals) != 1 || res.Batch.Journals[0].Amount != 100_000_000 {
		t.Errorf("journals = %+v", res.Batch.Journals)
	}
	if res.Batch.Sequence != 7 {
		t.Errorf("sequence = %d, want 7", res.Batch.Sequence)
	}

	if res.Hired.Paid != 100_000_000 || res.Hired.Quantity != 100 || res.Hired.CorrelationID == "" {
		t.Errorf("hired payload = %+v", res.Hired)
	}
}

func TestHireUnknownPolicy(t *testing.T) {
	f := newFixture(t)
	_, err := f.desk.Hire(hireCmd("blockshield.NOPE", "alice", 1), 0)
	if !errors.Is(err, asset.ErrUnknownPolicy) {
		t.Errorf("got %v, want ErrUnknownPolicy", err)
	}
}

func TestHireUnconfiguredPolicy(t *testing.T) {
	f := newFixture(t)
	if _, err := f.registry.CreateAsset("other", "PREC106", 100,
		new(big.Int).Mul(big.NewInt(100), fpmath.Pow10(18)), testDue, fpmath.MaxPercentage/10, testNow); err != nil {
		t.Fatal(err)
	}
	p, err := f.registry.CreatePolicy("PREC106", "bare", fpmath.MaxPercentage/20, testNow)
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.desk.Hire(hireCmd(p.Symbol, "alice", 1), 0)
	if !errors.Is(err, asset.ErrNotConfigured) {
		t.Errorf("got %v, want ErrNotConfigured", err)
	}
}

func TestHireInvalidQuantity(t *testing.T) {
	f := newFixture(t)
	for _, q := range []int64{0, -5} {
		_, err := f.desk.Hire(hireCmd(f.policy.Symbol, "alice", q), 0)
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Errorf("quantity %d: got %v, want ErrInvalidQuantity", q, err)
		}
	}
}

func TestHireQuantityExceedsSupply(t *testing.T) {
	f := newFixture(t)
	_, err := f.desk.Hire(hireCmd(f.policy.Symbol, "alice", 1001), 0)
	if !errors.Is(err, ErrQuantityExceedsSupply) {
		t.Errorf("got %v, want ErrQuantityExceedsSupply", err)
	}
}

func TestHireSelloutAcrossBuyers(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 600_000_000)
	f.fund("bob", 600_000_000)

	if _, err := f.desk.Hire(hireCmd(f.policy.Symbol, "alice", 600), 0); err != nil {
		t.Fatalf("alice: %v", err)
	}

	// bob's 600 would push the total over the 1000-unit cap even though
	// his quantity alone is within supply.
	_, err := f.desk.Hire(hireCmd(f.policy.Symbol, "bob", 600), 1)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("got %v, want ErrInsufficientStock", err)
	}

	// The remaining 400 still sells.
	if _, err := f.desk.Hire(hireCmd(f.policy.Symbol, "bob", 400), 2); err != nil {
		t.Errorf("remaining stock rejected: %v", err)
	}
}

func TestHireExactSelloutThenReject(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 1_000_000_000)
	f.fund("bob", 1_000_000)

	// Buying the entire supply lands exactly on the cap.
	if _, err := f.desk.Hire(hireCmd(f.policy.Symbol, "alice", 1000), 0); err != nil {
		t.Fatalf("full sellout: %v", err)
	}
	if got := f.book.TotalSecured(f.asset.ID); got != 1_000_000_000 {
		t.Fatalf("secured = %d, want 1000000000", got)
	}

	// A single further unit has no stock left to secure it.
	_, err := f.desk.Hire(hireCmd(f.policy.Symbol, "bob", 1), 1)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("got %v, want ErrInsufficientStock", err)
	}
}

func TestHireInsufficientFunds(t *testing.T) {
	f := newFixture(t)

	// Balance too low.
	f.usdc.Mint("alice", 1_000_000)
	f.usdc.Approve("alice", custody, 100_000_000)
	_, err := f.desk.Hire(hireCmd(f.policy.Symbol, "alice", 100), 0)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("low balance: got %v", err)
	}

	// Allowance too low.
	f.usdc.Mint("bob", 100_000_000)
	f.usdc.Approve("bob", custody, 1_000_000)
	_, err = f.desk.Hire(hireCmd(f.policy.Symbol, "bob", 100), 0)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("low allowance: got %v", err)
	}

	// Nothing was moved or recorded on the failed paths.
	if f.book.HasClients(f.asset.ID) {
		t.Error("failed hire left book records")
	}
	if f.usdc.BalanceOf(custody) != 0 {
		t.Error("failed hire moved funds")
	}
}

func TestHireRepeatPurchaseAccumulates(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 300_000_000)

	if _, err := f.desk.Hire(hireCmd(f.policy.Symbol, "alice", 100), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.desk.Hire(hireCmd(f.policy.Symbol, "alice", 200), 1); err != nil {
		t.Fatal(err)
	}

	rec, _ := f.book.Record(f.asset.ID, "alice")
	if rec.Quantity != 300 || rec.SecuredAmount != 300_000_000 {
		t.Errorf("record = %+v", rec)
	}
	receipt, _ := f.bank.Token(f.policy.Symbol)
	if got := receipt.BalanceOf("alice"); got != 300 {
		t.Errorf("receipt = %d, want 300", got)
	}
}
