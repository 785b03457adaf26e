package settlement

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	fpmath "blockshield/internal/math"
)

var (
	now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	due = now.Add(-time.Hour) // already due
)

const policy = "blockshield.PREC105"

func dueManager() *Manager {
	m := NewManager()
	m.Register(policy, due)
	return m
}

// ============================================================================
// State machine
// ============================================================================

func TestCheckUpkeep(t *testing.T) {
	m := NewManager()
	m.Register(policy, now.Add(time.Hour))

	if m.CheckUpkeep(policy, now) {
		t.Error("upkeep before due date")
	}
	if !m.CheckUpkeep(policy, now.Add(time.Hour)) {
		t.Error("no upkeep at due date")
	}
	if m.CheckUpkeep("blockshield.NOPE", now) {
		t.Error("upkeep for unknown policy")
	}
}

func TestBeginUpkeepTransitions(t *testing.T) {
	m := dueManager()

	id, err := m.BeginUpkeep(policy, now)
	if err != nil {
		t.Fatalf("BeginUpkeep: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("nil request id")
	}

	phase, _ := m.PhaseOf(policy)
	if phase != PhaseAwaitingOracle {
		t.Errorf("phase = %s, want AwaitingOracle", phase)
	}
	if m.CheckUpkeep(policy, now) {
		t.Error("upkeep still signaled while awaiting oracle")
	}
}

func TestBeginUpkeepGuards(t *testing.T) {
	m := dueManager()

	if _, err := m.BeginUpkeep("blockshield.NOPE", now); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("unknown policy: got %v", err)
	}
	if _, err := m.BeginUpkeep(policy, due.Add(-time.Minute)); !errors.Is(err, ErrUpkeepNotDue) {
		t.Errorf("not due: got %v", err)
	}

	// A pending request blocks a second dispatch.
	id, _ := m.BeginUpkeep(policy, now)
	if _, err := m.BeginUpkeep(policy, now); !errors.Is(err, ErrRequestPending) {
		t.Errorf("pending: got %v", err)
	}

	// Settled is terminal.
	if err := m.MarkSettled(id); err != nil {
		t.Fatalf("MarkSettled: %v", err)
	}
	if _, err := m.BeginUpkeep(policy, now); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("settled: got %v", err)
	}
}

func TestPendingSinceTracksDispatch(t *testing.T) {
	m := dueManager()

	if _, ok := m.PendingSince(uuid.New()); ok {
		t.Error("unknown id reported pending")
	}

	id, _ := m.BeginUpkeep(policy, now)
	since, ok := m.PendingSince(id)
	if !ok {
		t.Fatal("pending request not found")
	}
	if !since.Equal(now) {
		t.Errorf("since = %s, want %s", since, now)
	}

	// The dispatch time is consumed with the request id.
	if err := m.MarkSettled(id); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.PendingSince(id); ok {
		t.Error("consumed id still reported pending")
	}
}

func TestResolveConsumesOnSettle(t *testing.T) {
	m := dueManager()
	id, _ := m.BeginUpkeep(policy, now)

	sym, err := m.Resolve(id)
	if err != nil || sym != policy {
		t.Fatalf("Resolve = %s/%v", sym, err)
	}

	if err := m.MarkSettled(id); err != nil {
		t.Fatal(err)
	}

	// A duplicate oracle callback finds the id consumed.
	if _, err := m.Resolve(id); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("resolve after settle: got %v", err)
	}
	if err := m.MarkSettled(id); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("settle twice: got %v", err)
	}
}

func TestReopenAllowsRetry(t *testing.T) {
	m := dueManager()
	id, _ := m.BeginUpkeep(policy, now)

	if err := m.Reopen(id); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	phase, _ := m.PhaseOf(policy)
	if phase != PhaseOpen {
		t.Errorf("phase = %s, want Open", phase)
	}

	// The stale id is gone; a fresh upkeep gets a new one.
	if _, err := m.Resolve(id); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("stale id resolved: %v", err)
	}
	id2, err := m.BeginUpkeep(policy, now)
	if err != nil {
		t.Fatalf("retry BeginUpkeep: %v", err)
	}
	if id2 == id {
		t.Error("request id reused after reopen")
	}
}

// ============================================================================
// Payout math
// ============================================================================

func TestPayoutForNoDefault(t *testing.T) {
	secured := int64(100_000_000)      // 100 USDC
	prime := fpmath.MaxPercentage / 20 // 5%
	yield := fpmath.MaxPercentage / 10 // 10%

	cost, payout := PayoutFor(secured, prime, yield, false)
	if cost != 5_000_000 {
		t.Errorf("cost = %d, want 5000000", cost)
	}
	if payout != 105_000_000 {
		t.Errorf("payout = %d, want 105000000", payout)
	}
}

func TestPayoutForDefault(t *testing.T) {
	secured := int64(100_000_000)
	prime := fpmath.MaxPercentage / 20
	yield := fpmath.MaxPercentage / 10

	cost, payout := PayoutFor(secured, prime, yield, true)
	if cost != 5_000_000 {
		t.Errorf("cost = %d, want 5000000", cost)
	}
	if payout != 95_000_000 {
		t.Errorf("payout = %d, want 95000000", payout)
	}
}

func TestPayoutForTruncation(t *testing.T) {
	// 3 units at 1% prime: cost truncates 0.03 -> 0
	cost, payout := PayoutFor(3, fpmath.MinPercentage, fpmath.MaxPercentage/10, true)
	if cost != 0 {
		t.Errorf("cost = %d, want 0", cost)
	}
	if payout != 3 {
		t.Errorf("payout = %d, want 3", payout)
	}
}
