package asset

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	fpmath "blockshield/internal/math"
)

// Registry holds all assets and policies. Writes come from the
// single-threaded core; reads also come from the keeper and query
// surface, hence the RWMutex.
type Registry struct {
	mu       sync.RWMutex
	assets   map[uuid.UUID]*Asset
	bySymbol map[string]uuid.UUID
	policies map[string]*Policy // keyed by policy symbol
}

func NewRegistry() *Registry {
	return &Registry{
		assets:   make(map[uuid.UUID]*Asset),
		bySymbol: make(map[string]uuid.UUID),
		policies: make(map[string]*Policy),
	}
}

// CreateAsset validates and registers a new instrument.
func (r *Registry) CreateAsset(name, symbol string, totalSupply int64, totalValue *big.Int, dueDate time.Time, yield int64, now time.Time) (*Asset, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if len(symbol) <= 3 {
		return nil, ErrSymbolTooShort
	}
	if totalSupply <= 0 {
		return nil, ErrZeroSupply
	}
	if totalValue == nil || totalValue.Sign() <= 0 {
		return nil, ErrZeroValue
	}
	if !dueDate.After(now) {
		return nil, ErrDueDateNotFuture
	}
	if !fpmath.ValidPercentage(yield) {
		return nil, fmt.Errorf("yield %d: %w", yield, ErrInvalidPercentage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySymbol[symbol]; exists {
		return nil, fmt.Errorf("%s: %w", symbol, ErrDuplicateSymbol)
	}

	a := &Asset{
		ID:          uuid.New(),
		Name:        name,
		Symbol:      symbol,
		TotalSupply: totalSupply,
		TotalValue:  new(big.Int).Set(totalValue),
		UnitValue:   fpmath.UnitValue(totalValue, totalSupply),
		DueDate:     dueDate,
		Yield:       yield,
		Decimals:    fpmath.WadDecimals,
		CreatedAt:   now,
	}

	r.assets[a.ID] = a
	r.bySymbol[symbol] = a.ID
	return a, nil
}

// CreatePolicy validates and attaches an insurance policy to an asset.
// Prime must be a valid percentage strictly below the asset's yield,
// otherwise selling insurance would be unprofitable for the buyer.
func (r *Registry) CreatePolicy(assetSymbol, name string, prime int64, now time.Time) (*Policy, error) {
	if !fpmath.ValidPercentage(prime) {
		return nil, fmt.Errorf("prime %d: %w", prime, ErrInvalidPercentage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bySymbol[assetSymbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", assetSymbol, ErrUnknownAsset)
	}
	a := r.assets[id]

	if prime >= a.Yield {
		return nil, fmt.Errorf("prime %d >= yield %d: %w", prime, a.Yield, ErrPrimeNotBelowYield)
	}

	symbol := PolicyPrefix + assetSymbol
	if _, exists := r.policies[symbol]; exists {
		return nil, fmt.Errorf("%s: %w", symbol, ErrDuplicatePolicy)
	}

	p := &Policy{
		AssetID:   a.ID,
		Name:      name,
		Symbol:    symbol,
		Prime:     prime,
		CreatedAt: now,
	}
	r.policies[symbol] = p
	return p, nil
}

// SetSettlementToken configures the token premiums and payouts settle in.
func (r *Registry) SetSettlementToken(policySymbol, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.policies[policySymbol]
	if !ok {
		return fmt.Errorf("%s: %w", policySymbol, ErrUnknownPolicy)
	}
	p.SettlementToken = token
	return nil
}

// SetRoute configures the cross-chain payout destination.
func (r *Registry) SetRoute(policySymbol string, route Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.policies[policySymbol]
	if !ok {
		return fmt.Errorf("%s: %w", policySymbol, ErrUnknownPolicy)
	}
	p.Route = &route
	return nil
}

// UpdateAssetName corrects the display name of an asset. Everything
// else on an asset is immutable after creation.
func (r *Registry) UpdateAssetName(assetSymbol, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bySymbol[assetSymbol]
	if !ok {
		return fmt.Errorf("%s: %w", assetSymbol, ErrUnknownAsset)
	}
	r.assets[id].Name = name
	return nil
}

// RestoreAsset reinstates an asset from the event log during startup
// replay. Creation-time validation already ran when the event was first
// applied; the due date may legitimately be in the past by now.
func (r *Registry) RestoreAsset(id uuid.UUID, name, symbol string, totalSupply int64, totalValue *big.Int, dueDate time.Time, yield int64, createdAt time.Time) *Asset {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := &Asset{
		ID:          id,
		Name:        name,
		Symbol:      symbol,
		TotalSupply: totalSupply,
		TotalValue:  new(big.Int).Set(totalValue),
		UnitValue:   fpmath.UnitValue(totalValue, totalSupply),
		DueDate:     dueDate,
		Yield:       yield,
		Decimals:    fpmath.WadDecimals,
		CreatedAt:   createdAt,
	}
	r.assets[id] = a
	r.bySymbol[symbol] = id
	return a
}

// RestorePolicy reinstates a policy from the event log during startup replay.
func (r *Registry) RestorePolicy(assetID uuid.UUID, name, symbol string, prime int64, createdAt time.Time) *Policy {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &Policy{
		AssetID:   assetID,
		Name:      name,
		Symbol:    symbol,
		Prime:     prime,
		CreatedAt: createdAt,
	}
	r.policies[symbol] = p
	return p
}

// Asset returns the asset by id.
func (r *Registry) Asset(id uuid.UUID) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[id]
	return a, ok
}

// AssetBySymbol returns the asset by its symbol.
func (r *Registry) AssetBySymbol(symbol string) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySymbol[symbol]
	if !ok {
		return nil, false
	}
	return r.assets[id], true
}

// Policy returns the policy by its symbol.
func (r *Registry) Policy(symbol string) (*Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[symbol]
	return p, ok
}

// PolicyForAsset returns the policy attached to an asset, if any.
func (r *Registry) PolicyForAsset(assetID uuid.UUID) (*Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.policies {
		if p.AssetID == assetID {
			return p, true
		}
	}
	return nil, false
}

// Policies returns all registered policy symbols.
func (r *Registry) Policies() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.policies))
	for sym := range r.policies {
		out = append(out, sym)
	}
	return out
}
