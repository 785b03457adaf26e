package settlement

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the settlement lifecycle of one policy.
type Phase uint8

const (
	// PhaseOpen: selling insurance, upkeep not yet performed.
	PhaseOpen Phase = iota
	// PhaseAwaitingOracle: upkeep dispatched, oracle verdict pending.
	PhaseAwaitingOracle
	// PhaseSettled: verdict received and payouts executed. Terminal.
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "Open"
	case PhaseAwaitingOracle:
		return "AwaitingOracle"
	case PhaseSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

var (
	ErrUpkeepNotDue    = errors.New("upkeep not needed yet")
	ErrAlreadyExecuted = errors.New("settlement already executed")
	ErrRequestPending  = errors.New("oracle request already pending")
	ErrUnknownRequest  = errors.New("unknown oracle request id")
	ErrUnknownPolicy   = errors.New("no settlement state for policy")
)

// StateMachine tracks one policy's progress toward settlement.
type StateMachine struct {
	PolicySymbol string
	DueDate      time.Time
	Phase        Phase
	RequestID    *uuid.UUID // pending oracle request, nil unless AwaitingOracle
	RequestedAt  time.Time  // when the pending request was dispatched
}

// Manager owns the settlement state machines. Writes come from the
// core; the keeper reads concurrently, hence the RWMutex.
type Manager struct {
	mu        sync.RWMutex
	machines  map[string]*StateMachine
	byRequest map[uuid.UUID]string
}

func NewManager() *Manager {
	return &Manager{
		machines:  make(map[string]*StateMachine),
		byRequest: make(map[uuid.UUID]string),
	}
}

// Register creates the state machine for a newly created policy.
func (m *Manager) Register(policySymbol string, dueDate time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.machines[policySymbol] = &StateMachine{
		PolicySymbol: policySymbol,
		DueDate:      dueDate,
		Phase:        PhaseOpen,
	}
}

// CheckUpkeep reports whether settlement should begin. Pure: no mutation.
func (m *Manager) CheckUpkeep(policySymbol string, now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sm, ok := m.machines[policySymbol]
	if !ok {
		return false
	}
	return sm.Phase == PhaseOpen && sm.RequestID == nil && !now.Before(sm.DueDate)
}

// BeginUpkeep re-validates the upkeep conditions and, if they hold,
// allocates an oracle request id and transitions Open -> AwaitingOracle.
// Keepers are adversarial: every condition CheckUpkeep tested is
// re-tested here so stale or malicious callers cannot double-dispatch.
func (m *Manager) BeginUpkeep(policySymbol string, now time.Time) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.machines[policySymbol]
	if !ok {
		return uuid.Nil, fmt.Errorf("%s: %w", policySymbol, ErrUnknownPolicy)
	}
	if sm.Phase == PhaseSettled {
		return uuid.Nil, fmt.Errorf("%s: %w", policySymbol, ErrAlreadyExecuted)
	}
	if sm.RequestID != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", policySymbol, ErrRequestPending)
	}
	if now.Before(sm.DueDate) {
		return uuid.Nil, fmt.Errorf("%s due %s: %w", policySymbol, sm.DueDate.Format(time.RFC3339), ErrUpkeepNotDue)
	}

	id := uuid.New()
	sm.RequestID = &id
	sm.RequestedAt = now
	sm.Phase = PhaseAwaitingOracle
	m.byRequest[id] = policySymbol
	return id, nil
}

// PendingSince returns the dispatch time of a pending oracle request.
func (m *Manager) PendingSince(requestID uuid.UUID) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	symbol, ok := m.byRequest[requestID]
	if !ok {
		return time.Time{}, false
	}
	return m.machines[symbol].RequestedAt, true
}

// Resolve maps an oracle request id back to its policy. Unknown or
// already-consumed ids are rejected without mutation.
func (m *Manager) Resolve(requestID uuid.UUID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	symbol, ok := m.byRequest[requestID]
	if !ok {
		return "", fmt.Errorf("%s: %w", requestID, ErrUnknownRequest)
	}
	return symbol, nil
}

// Reopen clears the pending request after an oracle-reported error so
// a later performUpkeep can retry. The request id is consumed.
func (m *Manager) Reopen(requestID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbol, ok := m.byRequest[requestID]
	if !ok {
		return fmt.Errorf("%s: %w", requestID, ErrUnknownRequest)
	}
	delete(m.byRequest, requestID)

	sm := m.machines[symbol]
	sm.RequestID = nil
	sm.Phase = PhaseOpen
	return nil
}

// MarkSettled consumes the request id and makes the policy terminal.
func (m *Manager) MarkSettled(requestID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbol, ok := m.byRequest[requestID]
	if !ok {
		return fmt.Errorf("%s: %w", requestID, ErrUnknownRequest)
	}
	delete(m.byRequest, requestID)

	sm := m.machines[symbol]
	sm.RequestID = nil
	sm.Phase = PhaseSettled
	return nil
}

// RestoreSettled forces a policy terminal during startup replay. The
// oracle request id that settled it is not reconstructed.
func (m *Manager) RestoreSettled(policySymbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.machines[policySymbol]
	if !ok {
		return fmt.Errorf("%s: %w", policySymbol, ErrUnknownPolicy)
	}
	sm.RequestID = nil
	sm.Phase = PhaseSettled
	return nil
}

// PhaseOf returns the current phase for a policy.
func (m *Manager) PhaseOf(policySymbol string) (Phase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sm, ok := m.machines[policySymbol]
	if !ok {
		return PhaseOpen, fmt.Errorf("%s: %w", policySymbol, ErrUnknownPolicy)
	}
	return sm.Phase, nil
}

// Policies returns the registered policy symbols.
func (m *Manager) Policies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.machines))
	for sym := range m.machines {
		out = append(out, sym)
	}
	return out
}
