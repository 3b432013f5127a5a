package broker

import (
	"context"
	"fmt"
	"time"
)

// OrderType is the execution style requested for an order.
type OrderType string

const (
	Market OrderType = "MARKET"
)

// Order is an immutable intent to trade. Units is signed: positive buys,
// negative sells. ClientOrderID is deterministic for a given
// (symbol, timestamp, units) so a retry of the same logical decision maps to
// the same idempotency fingerprint.
type Order struct {
	Symbol        string
	Units         float64
	Type          OrderType
	ClientOrderID string
	SubmittedAt   time.Time
}

// Notional returns the absolute cash value of the order at price.
func (o Order) Notional(price float64) float64 {
	n := o.Units * price
	if n < 0 {
		n = -n
	}
	return n
}

// Flattening reports whether the order reduces the magnitude of an existing
// position (current signed units) without crossing through zero.
func (o Order) Flattening(current float64) bool {
	if current == 0 || o.Units == 0 {
		return false
	}
	if (current > 0) == (o.Units > 0) {
		return false
	}
	after := current + o.Units
	if current > 0 {
		return after >= 0
	}
	return after <= 0
}

// ExecutionReport is the broker's answer to an Order. Units is the signed
// quantity of this fill; CumUnits the cumulative signed quantity filled so
// far; Final marks the terminal report for the order.
type ExecutionReport struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Units         float64
	Price         float64
	Commission    float64
	Time          time.Time
	CumUnits      float64
	Final         bool
}

// PositionReport is the broker's view of one open position.
type PositionReport struct {
	Symbol   string
	Units    float64
	AvgPrice float64
}

// ErrTimeout is returned by brokers when a call exceeds its deadline. A
// timed-out position query must surface as this error, never as an empty
// position map.
var ErrTimeout = fmt.Errorf("broker: request timed out")

// FillHandler receives execution reports asynchronously, on the broker's own
// goroutine. Handlers must be safe to call concurrently with order submission.
type FillHandler func(ExecutionReport)

// Broker is the execution backend the session coordinator drives. The
// coordinator assumes nothing about the wire protocol beneath this surface.
type Broker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Submit hands an order to the broker and returns the broker-side order
	// id. Fills arrive later through the registered FillHandler.
	Submit(ctx context.Context, o Order) (string, error)

	// Cancel requests cancellation of an open order. It reports whether the
	// order was still open and is now cancelled.
	Cancel(ctx context.Context, orderID string) (bool, error)

	// Positions returns the broker's book. Implementations must return an
	// error on timeout or partial data rather than an empty map.
	Positions(ctx context.Context) (map[string]PositionReport, error)

	SetFillHandler(h FillHandler)
}
