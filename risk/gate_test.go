package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sessiond/broker"
)

var now = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func snap(equity float64, positions, prices map[string]float64) Snapshot {
	if positions == nil {
		positions = map[string]float64{}
	}
	if prices == nil {
		prices = map[string]float64{}
	}
	return Snapshot{Equity: equity, Positions: positions, Prices: prices}
}

func order(sym string, units float64) broker.Order {
	return broker.Order{Symbol: sym, Units: units, Type: broker.Market}
}

func TestAllowsWithinLimits(t *testing.T) {
	t.Parallel()

	g := NewGate(DefaultPolicy(), nil)
	g.ResetDaily(now, 100000)
	g.UpdateDailyMetrics(100000, now)

	d := g.CheckPreTrade(order("AAPL", 100), snap(100000, nil, map[string]float64{"AAPL": 50}), now)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Violations)
}

func TestDailyLossHalts(t *testing.T) {
	t.Parallel()

	g := NewGate(DefaultPolicy(), nil) // 2% daily loss limit
	var haltReason string
	g.SetHaltFunc(func(reason string, _ time.Time) { haltReason = reason })

	g.ResetDaily(now, 100000)
	g.UpdateDailyMetrics(100000, now)
	g.UpdateDailyMetrics(97000, now) // -3%

	halted, reason := g.Halted()
	assert.True(t, halted)
	assert.Equal(t, CodeDailyLoss, reason)
	assert.Equal(t, CodeDailyLoss, haltReason)
}

func TestDrawdownHalts(t *testing.T) {
	t.Parallel()

	g := NewGate(DefaultPolicy(), nil) // 10% drawdown limit
	g.ResetDaily(now, 100000)
	g.UpdateDailyMetrics(120000, now) // high-water mark
	// New day starting already well off the peak, so the daily loss limit
	// stays clear while the drawdown limit trips.
	g.ResetDaily(now.Add(24*time.Hour), 104000)
	g.UpdateDailyMetrics(103000, now.Add(24*time.Hour)) // ~14% off the 120k peak

	halted, reason := g.Halted()
	assert.True(t, halted)
	assert.Equal(t, CodeDrawdown, reason)
}

func TestHaltedAllowsOnlyFlattening(t *testing.T) {
	t.Parallel()

	g := NewGate(DefaultPolicy(), nil)
	g.ResetDaily(now, 100000)
	g.Halt("operator", now)

	positions := map[string]float64{"AAPL": 100}
	prices := map[string]float64{"AAPL": 50}

	// Increasing exposure: rejected.
	d := g.CheckPreTrade(order("AAPL", 10), snap(100000, positions, prices), now)
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeHalted, d.Reason())

	// Reversal through zero: rejected, it opens new exposure.
	d = g.CheckPreTrade(order("AAPL", -150), snap(100000, positions, prices), now)
	assert.False(t, d.Allowed)

	// Opening a fresh symbol: rejected.
	d = g.CheckPreTrade(order("MSFT", 10), snap(100000, positions, prices), now)
	assert.False(t, d.Allowed)

	// Reducing toward zero: allowed.
	d = g.CheckPreTrade(order("AAPL", -60), snap(100000, positions, prices), now)
	assert.True(t, d.Allowed)

	// Flattening exactly to zero: allowed.
	d = g.CheckPreTrade(order("AAPL", -100), snap(100000, positions, prices), now)
	assert.True(t, d.Allowed)
}

func TestAggregateNotionalCap(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.MaxNotional = 10000
	g := NewGate(p, nil)
	g.ResetDaily(now, 100000)
	g.UpdateDailyMetrics(100000, now)

	positions := map[string]float64{"MSFT": 80}
	prices := map[string]float64{"MSFT": 100, "AAPL": 50}

	// Order alone (5000) fits the cap, but open MSFT notional (8000) pushes
	// the aggregate over.
	d := g.CheckPreTrade(order("AAPL", 100), snap(100000, positions, prices), now)
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeNotional, d.Reason())

	d = g.CheckPreTrade(order("AAPL", 30), snap(100000, positions, prices), now)
	assert.True(t, d.Allowed)
}

func TestNotionalCapNetsCandidateSymbol(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.MaxNotional = 10000
	g := NewGate(p, nil)
	g.ResetDaily(now, 100000)
	g.UpdateDailyMetrics(100000, now)

	positions := map[string]float64{"MSFT": 90}
	prices := map[string]float64{"MSFT": 100}

	// Selling down 90 -> 40 leaves 4000 of exposure against the 10000 cap,
	// even though position and order legs sum to 13000 on their own.
	d := g.CheckPreTrade(order("MSFT", -50), snap(100000, positions, prices), now)
	assert.True(t, d.Allowed, "reducing an open position must pass the cap")

	// Flattening to zero always fits.
	d = g.CheckPreTrade(order("MSFT", -90), snap(100000, positions, prices), now)
	assert.True(t, d.Allowed)

	// Adding to the position counts the resulting 110 units: 11000 > cap.
	d = g.CheckPreTrade(order("MSFT", 20), snap(100000, positions, prices), now)
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeNotional, d.Reason())

	// Reversing 90 long into 120 short is 12000 of resulting exposure.
	d = g.CheckPreTrade(order("MSFT", -210), snap(100000, positions, prices), now)
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeNotional, d.Reason())
}

func TestMissingMarkPriceRejects(t *testing.T) {
	t.Parallel()

	g := NewGate(DefaultPolicy(), nil)
	g.ResetDaily(now, 100000)
	g.UpdateDailyMetrics(100000, now)

	d := g.CheckPreTrade(order("AAPL", 100), snap(100000, nil, nil), now)
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeNoPrice, d.Reason())
}

func TestOrderRateLimit(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.MaxOrdersPerWindow = 3
	g := NewGate(p, nil)
	g.ResetDaily(now, 100000)
	g.UpdateDailyMetrics(100000, now)

	prices := map[string]float64{"AAPL": 50}
	for i := 0; i < 3; i++ {
		g.RecordOrder(now.Add(time.Duration(i) * time.Second))
	}

	d := g.CheckPreTrade(order("AAPL", 1), snap(100000, nil, prices), now.Add(3*time.Second))
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeOrderRate, d.Reason())

	// Window slides: a minute later the old submissions age out.
	d = g.CheckPreTrade(order("AAPL", 1), snap(100000, nil, prices), now.Add(70*time.Second))
	assert.True(t, d.Allowed)
}

func TestEquityKillSwitchIsIrreversible(t *testing.T) {
	t.Parallel()

	g := NewGate(DefaultPolicy(), nil)
	g.ResetDaily(now, 100000)
	g.UpdateDailyMetrics(-50, now)

	halted, reason := g.Halted()
	require.True(t, halted)
	assert.Equal(t, CodeKilledEquity, reason)

	assert.Error(t, g.ClearHalt())
	g.ResetDaily(now.Add(24*time.Hour), 100000)
	halted, _ = g.Halted()
	assert.True(t, halted, "kill switch must survive a daily reset")
}

func TestClearHaltAndDailyReset(t *testing.T) {
	t.Parallel()

	g := NewGate(DefaultPolicy(), nil)
	g.ResetDaily(now, 100000)
	g.Halt("operator", now)

	require.NoError(t, g.ClearHalt())
	halted, _ := g.Halted()
	assert.False(t, halted)

	g.Halt("operator", now)
	g.ResetDaily(now.Add(24*time.Hour), 100000)
	halted, _ = g.Halted()
	assert.False(t, halted, "plain halt clears at daily reset")
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()

	g := NewGate(DefaultPolicy(), nil)
	g.ResetDaily(now, 100000)
	g.UpdateDailyMetrics(97000, now)

	st := g.State()

	g2 := NewGate(DefaultPolicy(), nil)
	g2.Restore(st)

	halted, reason := g2.Halted()
	assert.True(t, halted)
	assert.Equal(t, CodeDailyLoss, reason)
	assert.InDelta(t, -3000, g2.State().DailyPL, 1e-9)
}
