// Package portfolio is the internal ledger of record: cash, per-symbol
// positions with volume-weighted cost basis, and realized P/L. Pure state
// and arithmetic; it performs no I/O and never calls other components.
package portfolio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrMissingPrice is returned when equity is requested while an open
// position has no current price. Substituting zero would corrupt every
// downstream risk calculation, so the ledger refuses instead.
var ErrMissingPrice = fmt.Errorf("portfolio: missing price for open position")

// Position is a per-symbol snapshot. AvgCost is meaningful only while
// Units != 0; a reversal through zero resets it to the reversal fill price.
type Position struct {
	Symbol     string
	Units      float64
	AvgCost    float64
	RealizedPL float64
}

// Notional is the absolute cash value of the position at price.
func (p Position) Notional(price float64) float64 {
	return math.Abs(p.Units * price)
}

// Ledger owns cash and positions behind a single mutex. Methods hand out
// copies, never live references, so callers can work with snapshots after
// the lock is released.
type Ledger struct {
	mu        sync.Mutex
	cash      float64
	initial   float64
	positions map[string]*Position
	log       *logrus.Logger
}

func NewLedger(initialCapital float64, log *logrus.Logger) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{
		cash:      initialCapital,
		initial:   initialCapital,
		positions: make(map[string]*Position),
		log:       log,
	}
}

// ApplyFill applies one signed fill to the ledger and returns the realized
// P/L of the fill. The position mutation and the cash update commit
// together: on any error the ledger is left exactly as it was.
//
// Cost-basis rules, for current units q and fill units d:
//   - q == 0: opening, basis = fill price.
//   - same sign: add, basis = volume-weighted average.
//   - opposite sign, |d| <= |q|: reduce, realize (price-basis) on |d| units,
//     basis unchanged.
//   - opposite sign, |d| > |q|: reversal. Realize on the |q| closing units at
//     the OLD basis first, then reset basis to the fill price.
func (l *Ledger) ApplyFill(symbol string, units, price, commission float64, ts time.Time) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := validateFill(symbol, units, price, commission); err != nil {
		l.log.WithFields(logrus.Fields{
			"symbol":     symbol,
			"units":      units,
			"price":      price,
			"commission": commission,
			"time":       ts,
		}).WithError(err).Error("rejecting invalid fill")
		return 0, err
	}

	// Work on a scratch copy so a failed branch leaves the ledger untouched.
	cur := Position{Symbol: symbol}
	if p, ok := l.positions[symbol]; ok {
		cur = *p
	}

	next, realized, err := applyToPosition(cur, units, price)
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"symbol": symbol,
			"units":  units,
			"price":  price,
			"held":   cur.Units,
			"basis":  cur.AvgCost,
		}).WithError(err).Error("fill application failed, ledger unchanged")
		return 0, err
	}

	// Commit: position and cash move together.
	l.positions[symbol] = &next
	l.cash += -(units * price) - commission

	return realized, nil
}

func validateFill(symbol string, units, price, commission float64) error {
	if symbol == "" {
		return fmt.Errorf("portfolio: fill with empty symbol")
	}
	if units == 0 {
		return fmt.Errorf("portfolio: fill with zero units for %s", symbol)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("portfolio: fill with invalid price %v for %s", price, symbol)
	}
	if commission < 0 {
		return fmt.Errorf("portfolio: negative commission %v for %s", commission, symbol)
	}
	return nil
}

func applyToPosition(cur Position, units, price float64) (Position, float64, error) {
	q, d := cur.Units, units
	next := cur

	switch {
	case q == 0:
		next.Units = d
		next.AvgCost = price
		return next, 0, nil

	case (q > 0) == (d > 0):
		denom := math.Abs(q) + math.Abs(d)
		if denom == 0 {
			// Unreachable with q != 0 and d != 0; refuse rather than divide.
			return cur, 0, fmt.Errorf("portfolio: zero divisor adding %v to %v units", d, q)
		}
		next.AvgCost = (math.Abs(q)*cur.AvgCost + math.Abs(d)*price) / denom
		next.Units = q + d
		return next, 0, nil

	case math.Abs(d) <= math.Abs(q):
		closed := math.Abs(d)
		realized := realizedOnClose(q, closed, cur.AvgCost, price)
		next.Units = q + d
		next.RealizedPL += realized
		if next.Units == 0 {
			next.AvgCost = 0
		}
		return next, realized, nil

	default:
		// Reversal through zero: realize the closing leg at the old basis
		// BEFORE the new basis overwrites it.
		closed := math.Abs(q)
		realized := realizedOnClose(q, closed, cur.AvgCost, price)
		next.Units = q + d
		next.AvgCost = price
		next.RealizedPL += realized
		return next, realized, nil
	}
}

// realizedOnClose computes P/L for closing `closed` absolute units of a
// position currently holding q signed units at basis avg.
func realizedOnClose(q, closed, avg, price float64) float64 {
	if q > 0 {
		return closed * (price - avg)
	}
	return closed * (avg - price)
}

// Position returns a copy of the position for symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of all positions, including flat ones that still
// carry realized P/L.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

func (l *Ledger) InitialCapital() float64 {
	return l.initial
}

// RealizedPL sums realized P/L across all symbols.
func (l *Ledger) RealizedPL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, p := range l.positions {
		total += p.RealizedPL
	}
	return total
}

// TotalEquity marks every open position at the supplied prices. A missing
// price for a nonzero position is an error, never a zero-valued position.
func (l *Ledger) TotalEquity(prices map[string]float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	equity := l.cash
	for sym, p := range l.positions {
		if p.Units == 0 {
			continue
		}
		price, ok := prices[sym]
		if !ok {
			l.log.WithFields(logrus.Fields{
				"symbol": sym,
				"units":  p.Units,
			}).Error("equity requested with no price for open position")
			return 0, fmt.Errorf("%w: %s (%v units)", ErrMissingPrice, sym, p.Units)
		}
		equity += p.Units * price
	}
	return equity, nil
}

// State is the serializable form of the ledger used by checkpoints.
type State struct {
	Cash           float64    `json:"cash"`
	InitialCapital float64    `json:"initial_capital"`
	Positions      []Position `json:"positions"`
}

func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := State{Cash: l.cash, InitialCapital: l.initial}
	for _, p := range l.positions {
		st.Positions = append(st.Positions, *p)
	}
	return st
}

// Restore replaces the ledger contents from a checkpointed state.
func (l *Ledger) Restore(st State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = st.Cash
	if st.InitialCapital != 0 {
		l.initial = st.InitialCapital
	}
	l.positions = make(map[string]*Position, len(st.Positions))
	for _, p := range st.Positions {
		p := p
		l.positions[p.Symbol] = &p
	}
}
