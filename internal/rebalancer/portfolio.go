package rebalancer

import (
	"sync"

	"github.com/aristath/helmsman/internal/domain"
)

// Portfolio tracks the current holdings of one engine instance. The daemon
// applies each committed rebalance result to it; the holdings map is the
// input to the next rebalance.
type Portfolio struct {
	mu       sync.RWMutex
	holdings map[string]float64
}

// NewPortfolio creates a portfolio, optionally seeded with holdings.
func NewPortfolio(holdings map[string]float64) *Portfolio {
	p := &Portfolio{holdings: make(map[string]float64, len(holdings))}
	for asset, alloc := range holdings {
		p.holdings[asset] = alloc
	}
	return p
}

// Holdings returns a copy of the current allocations.
func (p *Portfolio) Holdings() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]float64, len(p.holdings))
	for asset, alloc := range p.holdings {
		out[asset] = alloc
	}
	return out
}

// SetHoldings replaces the current allocations.
func (p *Portfolio) SetHoldings(holdings map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.holdings = make(map[string]float64, len(holdings))
	for asset, alloc := range holdings {
		p.holdings[asset] = alloc
	}
}

// ApplyTargets moves the portfolio to the target allocations: closes remove
// the position, every other action sets the target size. The synthetic cash
// target is not a holding.
func (p *Portfolio) ApplyTargets(targets []domain.RebalancingTarget) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range targets {
		if t.Asset == domain.CashAsset {
			continue
		}
		if t.Action == domain.ActionClose || t.TargetAllocation <= 0 {
			delete(p.holdings, t.Asset)
			continue
		}
		p.holdings[t.Asset] = t.TargetAllocation
	}
}
