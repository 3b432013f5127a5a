// Package sim is an in-memory broker used by the demo CLI and the test
// suite. It fills market orders against a price store, keeps its own
// position book so reconciliation has a real counterparty, and delivers
// execution reports asynchronously from its own goroutine the way a live
// broker connection would.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/sessiond/broker"
	"github.com/rustyeddy/sessiond/market"
	"github.com/rustyeddy/sessiond/pkg/id"
)

type Config struct {
	// Latency delays fill delivery after Submit returns.
	Latency time.Duration

	// CommissionPerUnit is charged per absolute unit filled.
	CommissionPerUnit float64

	// MaxFillUnits, when > 0, splits an order into partial fills of at most
	// this many absolute units each.
	MaxFillUnits float64
}

type position struct {
	units float64
	avg   float64
}

type Broker struct {
	mu      sync.Mutex
	cfg     Config
	prices  *market.PriceStore
	book    map[string]*position
	pending map[string]broker.Order
	handler broker.FillHandler
	started bool

	// posErr, when set, is returned by the next Positions call. Used to
	// exercise timeout handling in the reconciler.
	posErr error

	wg sync.WaitGroup
}

var _ broker.Broker = (*Broker)(nil)

func New(cfg Config, prices *market.PriceStore) *Broker {
	return &Broker{
		cfg:     cfg,
		prices:  prices,
		book:    make(map[string]*position),
		pending: make(map[string]broker.Order),
	}
}

func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("sim broker: already started")
	}
	b.started = true
	return nil
}

func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sim broker: stop: %w", ctx.Err())
	}
}

func (b *Broker) SetFillHandler(h broker.FillHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

func (b *Broker) Submit(ctx context.Context, o broker.Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return "", fmt.Errorf("sim broker: not started")
	}
	if o.Units == 0 {
		b.mu.Unlock()
		return "", fmt.Errorf("sim broker: zero-unit order %s", o.ClientOrderID)
	}

	p, err := b.prices.Get(o.Symbol)
	if err != nil {
		b.mu.Unlock()
		return "", fmt.Errorf("sim broker: submit %s: %w", o.Symbol, err)
	}

	// Longs lift the ask, shorts hit the bid.
	fillPrice := p.Ask
	if o.Units < 0 {
		fillPrice = p.Bid
	}

	orderID := id.Prefixed("sim")
	b.pending[orderID] = o
	fills := b.splitFills(o, orderID, fillPrice)
	handler := b.handler
	latency := b.cfg.Latency
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if latency > 0 {
			time.Sleep(latency)
		}
		// A cancel that lands inside the latency window wins: the order is
		// gone from pending and no fills are delivered.
		b.mu.Lock()
		_, live := b.pending[orderID]
		delete(b.pending, orderID)
		b.mu.Unlock()
		if !live {
			return
		}
		for _, rep := range fills {
			b.applyFill(rep)
			if handler != nil {
				handler(rep)
			}
		}
	}()

	return orderID, nil
}

// splitFills builds the execution reports for an order, honoring
// MaxFillUnits. Called with the lock held.
func (b *Broker) splitFills(o broker.Order, orderID string, price float64) []broker.ExecutionReport {
	chunk := b.cfg.MaxFillUnits
	remaining := o.Units
	if remaining < 0 {
		remaining = -remaining
	}
	if chunk <= 0 || chunk >= remaining {
		chunk = remaining
	}

	sign := 1.0
	if o.Units < 0 {
		sign = -1.0
	}

	var reps []broker.ExecutionReport
	var cum float64
	now := time.Now()
	for remaining > 0 {
		units := chunk
		if units > remaining {
			units = remaining
		}
		remaining -= units
		cum += sign * units
		reps = append(reps, broker.ExecutionReport{
			OrderID:       orderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Units:         sign * units,
			Price:         price,
			Commission:    units * b.cfg.CommissionPerUnit,
			Time:          now,
			CumUnits:      cum,
			Final:         remaining == 0,
		})
	}
	return reps
}

func (b *Broker) applyFill(rep broker.ExecutionReport) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.book[rep.Symbol]
	if !ok {
		pos = &position{}
		b.book[rep.Symbol] = pos
	}

	q, d := pos.units, rep.Units
	switch {
	case q == 0:
		pos.avg = rep.Price
	case (q > 0) == (d > 0):
		pos.avg = (abs(q)*pos.avg + abs(d)*rep.Price) / (abs(q) + abs(d))
	case abs(d) > abs(q):
		pos.avg = rep.Price
	}
	pos.units = q + d
	if pos.units == 0 {
		delete(b.book, rep.Symbol)
	}
}

func (b *Broker) Cancel(ctx context.Context, orderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[orderID]; ok {
		delete(b.pending, orderID)
		return true, nil
	}
	return false, nil
}

func (b *Broker) Positions(ctx context.Context) (map[string]broker.PositionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.posErr != nil {
		err := b.posErr
		b.posErr = nil
		return nil, err
	}
	out := make(map[string]broker.PositionReport, len(b.book))
	for sym, pos := range b.book {
		out[sym] = broker.PositionReport{Symbol: sym, Units: pos.units, AvgPrice: pos.avg}
	}
	return out, nil
}

// FailNextPositions makes the next Positions call return err.
func (b *Broker) FailNextPositions(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.posErr = err
}

// AdjustPosition shifts the broker-side book for symbol by units, simulating
// a fill the session never saw. Test hook for reconciliation drift.
func (b *Broker) AdjustPosition(symbol string, units, price float64) {
	b.applyFill(broker.ExecutionReport{Symbol: symbol, Units: units, Price: price, Time: time.Now()})
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
