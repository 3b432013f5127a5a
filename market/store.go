package market

import (
	"fmt"
	"sync"
)

// ErrNoPrice is returned when a symbol has no quote in the store. A missing
// price is a defect to surface, never a zero-value quote.
var ErrNoPrice = fmt.Errorf("market: no price for symbol")

// PriceStore is the live price cache shared between the bar-processing path
// and the fill-handling path. All updates go through Set on the one shared
// instance; the map itself is never handed out.
type PriceStore struct {
	mu     sync.RWMutex
	prices map[string]Price
}

func NewPriceStore() *PriceStore {
	return &PriceStore{prices: make(map[string]Price)}
}

func (ps *PriceStore) Set(p Price) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.prices[p.Symbol] = p
}

func (ps *PriceStore) Get(symbol string) (Price, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.prices[symbol]
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return p, nil
}

// Last returns the mid price for symbol, or an error if no quote exists.
func (ps *PriceStore) Last(symbol string) (float64, error) {
	p, err := ps.Get(symbol)
	if err != nil {
		return 0, err
	}
	return p.Mid(), nil
}

// Snapshot copies the current mid prices. The copy is safe to pass across
// component boundaries without holding any store lock.
func (ps *PriceStore) Snapshot() map[string]float64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make(map[string]float64, len(ps.prices))
	for sym, p := range ps.prices {
		out[sym] = p.Mid()
	}
	return out
}
