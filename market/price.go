package market

import "time"

// Price is a single quote for a symbol. Fills and bars both feed the
// live price cache as Prices.
type Price struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

func (p Price) Mid() float64 {
	return (p.Bid + p.Ask) / 2
}

func (p Price) Spread() float64 {
	return p.Ask - p.Bid
}

// FromLast builds a Price from a single traded/last price, used when the
// source (a bar close, a fill) has no bid/ask split.
func FromLast(symbol string, last float64, t time.Time) Price {
	return Price{Symbol: symbol, Bid: last, Ask: last, Time: t}
}
