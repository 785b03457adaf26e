package token

import (
	"fmt"
	"sync"
)

// Bank is the collection of tokens the engine knows about: the
// settlement token plus one receipt token per policy.
type Bank struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

func NewBank() *Bank {
	return &Bank{tokens: make(map[string]Token)}
}

// Register creates a new in-memory token. Registering an existing
// symbol returns the existing token unchanged.
func (b *Bank) Register(symbol string, decimals int) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.tokens[symbol]; ok {
		return t
	}
	t := newLedgerToken(symbol, decimals)
	b.tokens[symbol] = t
	return t
}

// Token looks up a registered token by symbol.
func (b *Bank) Token(symbol string) (Token, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tokens[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrUnknownToken)
	}
	return t, nil
}
