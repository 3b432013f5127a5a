package risk

import "time"

// Policy holds the static risk limits for a session.
type Policy struct {
	// Circuit breakers
	MaxDailyLossPct float64 // fraction of start-of-day equity, e.g. 0.02
	MaxDrawdownPct  float64 // fraction off the equity high-water mark, e.g. 0.10

	// Exposure limits
	MaxNotional float64 // cap on post-order exposure across all symbols

	// Rate limit
	MaxOrdersPerWindow int
	RateWindow         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxDailyLossPct:    0.02,
		MaxDrawdownPct:     0.10,
		MaxNotional:        250000,
		MaxOrdersPerWindow: 10,
		RateWindow:         time.Minute,
	}
}

// Snapshot is the immutable portfolio view a pre-trade check runs against.
// The gate never calls back into the ledger; the coordinator assembles this
// after releasing the ledger lock.
type Snapshot struct {
	Equity    float64
	Cash      float64
	Positions map[string]float64 // symbol -> signed units
	Prices    map[string]float64 // symbol -> mark price
}
