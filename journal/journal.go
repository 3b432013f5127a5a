// Package journal records what the session did: fills applied, equity
// marks, reconciliation alerts, and risk halts. Backends: SQLite, CSV, and
// a no-op for tests.
package journal

import "time"

type FillRecord struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Units         float64
	Price         float64
	Commission    float64
	RealizedPL    float64
	Time          time.Time
}

type EquitySnapshot struct {
	Time     time.Time
	Cash     float64
	Equity   float64
	Realized float64
}

type AlertRecord struct {
	Symbol        string
	InternalUnits float64
	BrokerUnits   float64
	Delta         float64
	Time          time.Time
}

type HaltRecord struct {
	Reason string
	Time   time.Time
}

type Journal interface {
	RecordFill(FillRecord) error
	RecordEquity(EquitySnapshot) error
	RecordAlert(AlertRecord) error
	RecordHalt(HaltRecord) error
	Close() error
}

// Nop discards everything. The default when no journal is configured.
type Nop struct{}

func (Nop) RecordFill(FillRecord) error       { return nil }
func (Nop) RecordEquity(EquitySnapshot) error { return nil }
func (Nop) RecordAlert(AlertRecord) error     { return nil }
func (Nop) RecordHalt(HaltRecord) error       { return nil }
func (Nop) Close() error                      { return nil }
