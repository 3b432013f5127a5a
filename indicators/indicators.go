// Package indicators provides streaming technical indicators over bars.
// Indicators hold their own rolling state so decision engines can update
// them incrementally instead of recomputing over full history every bar.
package indicators

import (
	"fmt"

	"github.com/rustyeddy/sessiond/market"
)

// Indicator is a streaming indicator over a bar series.
type Indicator interface {
	Name() string
	Warmup() int
	Update(b market.Bar)
	Ready() bool
	Value() float64
	Reset()
}

// SimpleMA is a streaming simple moving average over bar closes.
type SimpleMA struct {
	period int
	closes []float64
}

func NewMA(period int) *SimpleMA {
	if period < 1 {
		period = 1
	}
	return &SimpleMA{
		period: period,
		closes: make([]float64, 0, period),
	}
}

func (m *SimpleMA) Name() string {
	return fmt.Sprintf("MA(%d)", m.period)
}

func (m *SimpleMA) Warmup() int {
	return m.period
}

func (m *SimpleMA) Reset() {
	m.closes = m.closes[:0]
}

func (m *SimpleMA) Update(b market.Bar) {
	m.closes = append(m.closes, b.Close)
	if len(m.closes) > m.period {
		m.closes = m.closes[1:]
	}
}

func (m *SimpleMA) Ready() bool {
	return len(m.closes) >= m.period
}

func (m *SimpleMA) Value() float64 {
	if !m.Ready() {
		return 0
	}
	sum := 0.0
	for _, c := range m.closes {
		sum += c
	}
	return sum / float64(len(m.closes))
}

// ExponentialMA is a streaming exponential moving average, seeded with an
// SMA over the first period closes.
type ExponentialMA struct {
	period     int
	multiplier float64
	ema        float64
	count      int
	warmupSum  float64
}

func NewEMA(period int) *ExponentialMA {
	if period < 1 {
		period = 1
	}
	return &ExponentialMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *ExponentialMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *ExponentialMA) Warmup() int {
	return e.period
}

func (e *ExponentialMA) Reset() {
	e.ema = 0
	e.count = 0
	e.warmupSum = 0
}

func (e *ExponentialMA) Update(b market.Bar) {
	if e.count < e.period {
		e.warmupSum += b.Close
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum / float64(e.period)
		}
		return
	}
	e.ema = (b.Close-e.ema)*e.multiplier + e.ema
}

func (e *ExponentialMA) Ready() bool {
	return e.count >= e.period
}

func (e *ExponentialMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}

// State captures an EMA's internals for checkpointing.
type State struct {
	Period    int     `json:"period"`
	EMA       float64 `json:"ema"`
	Count     int     `json:"count"`
	WarmupSum float64 `json:"warmup_sum"`
}

func (e *ExponentialMA) State() State {
	return State{Period: e.period, EMA: e.ema, Count: e.count, WarmupSum: e.warmupSum}
}

// RestoreEMA rebuilds an EMA from checkpointed state.
func RestoreEMA(st State) *ExponentialMA {
	e := NewEMA(st.Period)
	e.ema = st.EMA
	e.count = st.Count
	e.warmupSum = st.WarmupSum
	return e
}
