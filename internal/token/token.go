package token

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Errors surfaced by token operations.
var (
	ErrZeroAmount            = errors.New("amount must be greater than zero")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrUnknownToken          = errors.New("unknown token")
	ErrOverflow              = errors.New("balance overflow")
)

// Token is the standard fungible-token surface the engine settles
// against. The settlement token and insurance receipts both implement it.
type Token interface {
	Symbol() string
	Decimals() int
	TotalSupply() int64
	BalanceOf(holder string) int64
	Allowance(owner, spender string) int64
	Approve(owner, spender string, amount int64) error
	Transfer(from, to string, amount int64) error
	TransferFrom(spender, from, to string, amount int64) error
	Mint(to string, amount int64) error
	Burn(from string, amount int64) error
}

// ledgerToken is an in-memory Token used for custody plumbing and tests.
type ledgerToken struct {
	mu          sync.RWMutex
	symbol      string
	decimals    int
	totalSupply int64
	balances    map[string]int64
	allowances  map[string]map[string]int64
}

func newLedgerToken(symbol string, decimals int) *ledgerToken {
	return &ledgerToken{
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[string]int64),
		allowances: make(map[string]map[string]int64),
	}
}

func (t *ledgerToken) Symbol() string { return t.symbol }
func (t *ledgerToken) Decimals() int  { return t.decimals }

func (t *ledgerToken) TotalSupply() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalSupply
}

func (t *ledgerToken) BalanceOf(holder string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[holder]
}

func (t *ledgerToken) Allowance(owner, spender string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowances[owner][spender]
}

func (t *ledgerToken) Approve(owner, spender string, amount int64) error {
	if amount < 0 {
		return ErrZeroAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[string]int64)
	}
	t.allowances[owner][spender] = amount
	return nil
}

func (t *ledgerToken) Transfer(from, to string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferLocked(from, to, amount)
}

func (t *ledgerToken) TransferFrom(spender, from, to string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount <= 0 {
		return ErrZeroAmount
	}
	allowed := t.allowances[from][spender]
	if allowed < amount {
		return fmt.Errorf("%s: spender %s allowed %d, need %d: %w",
			t.symbol, spender, allowed, amount, ErrInsufficientAllowance)
	}
	if err := t.transferLocked(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][spender] = allowed - amount
	return nil
}

func (t *ledgerToken) transferLocked(from, to string, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	if t.balances[from] < amount {
		return fmt.Errorf("%s: %s has %d, need %d: %w",
			t.symbol, from, t.balances[from], amount, ErrInsufficientBalance)
	}
	if t.balances[to] > math.MaxInt64-amount {
		return ErrOverflow
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

func (t *ledgerToken) Mint(to string, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.totalSupply > math.MaxInt64-amount {
		return ErrOverflow
	}
	t.balances[to] += amount
	t.totalSupply += amount
	return nil
}

func (t *ledgerToken) Burn(from string, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[from] < amount {
		return fmt.Errorf("%s: burn %d from %s with balance %d: %w",
			t.symbol, amount, from, t.balances[from], ErrInsufficientBalance)
	}
	t.balances[from] -= amount
	t.totalSupply -= amount
	return nil
}
