package market

import "time"

// Bar is one aggregated market-data candle for a symbol.
type Bar struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Price converts the bar close into a quote for the live price cache.
func (b Bar) Price() Price {
	return FromLast(b.Symbol, b.Close, b.Time)
}
