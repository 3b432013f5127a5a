// Package risk is the pre-trade gate and session circuit breaker: daily
// loss limit, drawdown limit, aggregate notional cap, order-rate limit, and
// the halted/kill-switch state they feed. Pure state and arithmetic behind
// one mutex; the coordinator passes immutable snapshots in.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/sessiond/broker"
)

// Violation codes reported by CheckPreTrade.
const (
	CodeHalted       = "HALTED"
	CodeDailyLoss    = "DAILY_LOSS_LIMIT"
	CodeDrawdown     = "DRAWDOWN_LIMIT"
	CodeNotional     = "NOTIONAL_CAP"
	CodeOrderRate    = "ORDER_RATE_LIMIT"
	CodeNoPrice      = "NO_MARK_PRICE"
	CodeKilledEquity = "EQUITY_KILL_SWITCH"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason returns the first violation code, or "" when allowed.
func (d Decision) Reason() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return d.Violations[0].Code
}

// HaltFunc is notified when the gate transitions to halted. Called after
// the gate's lock is released.
type HaltFunc func(reason string, at time.Time)

// Gate owns the per-session risk state. One mutex guards everything; no
// method calls outside the package while holding it.
type Gate struct {
	mu sync.Mutex

	policy Policy
	log    *logrus.Logger
	onHalt HaltFunc

	sessionDate      time.Time
	startOfDayEquity float64
	dailyPL          float64
	peakEquity       float64

	halted     bool
	haltReason string
	haltTime   time.Time
	killed     bool // equity kill switch: not clearable until restart

	orderTimes []time.Time
}

func NewGate(policy Policy, log *logrus.Logger) *Gate {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if policy.RateWindow <= 0 {
		policy.RateWindow = time.Minute
	}
	return &Gate{policy: policy, log: log}
}

// SetHaltFunc registers the operator notification hook.
func (g *Gate) SetHaltFunc(f HaltFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onHalt = f
}

// CheckPreTrade evaluates a candidate order against the gate's state and an
// immutable portfolio snapshot. Checks run in order and short-circuit on the
// first failure: halt state, daily loss, drawdown, aggregate notional, order
// rate.
func (g *Gate) CheckPreTrade(o broker.Order, snap Snapshot, now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := Decision{Allowed: true}

	if g.halted {
		// While halted only exposure-reducing orders pass.
		if !o.Flattening(snap.Positions[o.Symbol]) {
			d.add(CodeHalted, fmt.Sprintf("halted (%s); order would not flatten %s", g.haltReason, o.Symbol))
			return d
		}
		// Flattening is allowed, but still rate-limited below.
	}

	if !g.halted {
		limit := -g.policy.MaxDailyLossPct * g.startOfDayEquity
		if g.startOfDayEquity > 0 && g.dailyPL < limit {
			d.add(CodeDailyLoss, fmt.Sprintf("daily P/L %.2f below limit %.2f", g.dailyPL, limit))
			return d
		}

		if g.peakEquity > 0 {
			dd := (g.peakEquity - snap.Equity) / g.peakEquity
			if dd > g.policy.MaxDrawdownPct {
				d.add(CodeDrawdown, fmt.Sprintf("drawdown %.2f%% exceeds max %.2f%%",
					100*dd, 100*g.policy.MaxDrawdownPct))
				return d
			}
		}

		// Notional cap applies to the exposure the book would carry after
		// this order fills: the candidate symbol nets against its open
		// position, every other open position counts at its mark. A
		// position-reducing order must not look bigger than the position
		// it shrinks.
		mark, ok := snap.Prices[o.Symbol]
		if !ok {
			d.add(CodeNoPrice, fmt.Sprintf("no mark price for %s", o.Symbol))
			return d
		}
		total := math.Abs((snap.Positions[o.Symbol] + o.Units) * mark)
		for sym, units := range snap.Positions {
			if sym == o.Symbol || units == 0 {
				continue
			}
			p, ok := snap.Prices[sym]
			if !ok {
				d.add(CodeNoPrice, fmt.Sprintf("no mark price for open position %s", sym))
				return d
			}
			total += math.Abs(units * p)
		}
		if g.policy.MaxNotional > 0 && total > g.policy.MaxNotional {
			d.add(CodeNotional, fmt.Sprintf("aggregate notional %.2f exceeds cap %.2f",
				total, g.policy.MaxNotional))
			return d
		}
	}

	g.pruneWindowLocked(now)
	if g.policy.MaxOrdersPerWindow > 0 && len(g.orderTimes) >= g.policy.MaxOrdersPerWindow {
		d.add(CodeOrderRate, fmt.Sprintf("%d orders in trailing %s (max %d)",
			len(g.orderTimes), g.policy.RateWindow, g.policy.MaxOrdersPerWindow))
		return d
	}

	return d
}

// RecordOrder notes a submitted order in the rate window.
func (g *Gate) RecordOrder(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orderTimes = append(g.orderTimes, t)
	g.pruneWindowLocked(t)
}

func (g *Gate) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-g.policy.RateWindow)
	keep := g.orderTimes[:0]
	for _, t := range g.orderTimes {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	g.orderTimes = keep
}

// UpdateDailyMetrics folds a fresh equity mark into the daily P/L, the
// high-water mark, and the breach checks. Limit breaches transition the gate
// to halted; equity at or below zero trips the irreversible kill switch.
func (g *Gate) UpdateDailyMetrics(equity float64, now time.Time) {
	g.mu.Lock()

	if g.startOfDayEquity == 0 {
		g.startOfDayEquity = equity
	}
	g.dailyPL = equity - g.startOfDayEquity
	if equity > g.peakEquity {
		g.peakEquity = equity
	}

	var reason string
	switch {
	case equity <= 0:
		reason = CodeKilledEquity
		g.killed = true
	case g.startOfDayEquity > 0 && g.dailyPL < -g.policy.MaxDailyLossPct*g.startOfDayEquity:
		reason = CodeDailyLoss
	case g.peakEquity > 0 && (g.peakEquity-equity)/g.peakEquity > g.policy.MaxDrawdownPct:
		reason = CodeDrawdown
	}

	var notify HaltFunc
	if reason != "" && !g.halted {
		g.halted = true
		g.haltReason = reason
		g.haltTime = now
		notify = g.onHalt
		g.log.WithFields(logrus.Fields{
			"reason":  reason,
			"equity":  equity,
			"dailyPL": g.dailyPL,
			"peak":    g.peakEquity,
		}).Warn("risk gate halted")
	}
	g.mu.Unlock()

	if notify != nil {
		notify(reason, now)
	}
}

// ResetDaily starts a new trading day: daily P/L and the rate window reset,
// and a plain halt clears. The equity kill switch survives resets.
func (g *Gate) ResetDaily(date time.Time, equity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionDate = date
	g.startOfDayEquity = equity
	g.dailyPL = 0
	g.orderTimes = nil
	if g.halted && !g.killed {
		g.halted = false
		g.haltReason = ""
	}
}

// Halt trips the gate from outside (operator or coordinator action).
func (g *Gate) Halt(reason string, now time.Time) {
	g.mu.Lock()
	if g.halted {
		g.mu.Unlock()
		return
	}
	g.halted = true
	g.haltReason = reason
	g.haltTime = now
	notify := g.onHalt
	g.mu.Unlock()

	if notify != nil {
		notify(reason, now)
	}
}

// ClearHalt is the operator action to resume trading. The equity kill
// switch cannot be cleared; restart the session instead.
func (g *Gate) ClearHalt() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.killed {
		return fmt.Errorf("risk: equity kill switch cannot be cleared without restart")
	}
	g.halted = false
	g.haltReason = ""
	return nil
}

// Halted reports the halt flag and its reason.
func (g *Gate) Halted() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted, g.haltReason
}

// State is the serializable gate state carried in checkpoints.
type State struct {
	SessionDate      time.Time `json:"session_date"`
	StartOfDayEquity float64   `json:"start_of_day_equity"`
	DailyPL          float64   `json:"daily_pl"`
	PeakEquity       float64   `json:"peak_equity"`
	Halted           bool      `json:"halted"`
	HaltReason       string    `json:"halt_reason,omitempty"`
	HaltTime         time.Time `json:"halt_time,omitempty"`
	Killed           bool      `json:"killed"`
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		SessionDate:      g.sessionDate,
		StartOfDayEquity: g.startOfDayEquity,
		DailyPL:          g.dailyPL,
		PeakEquity:       g.peakEquity,
		Halted:           g.halted,
		HaltReason:       g.haltReason,
		HaltTime:         g.haltTime,
		Killed:           g.killed,
	}
}

func (g *Gate) Restore(st State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionDate = st.SessionDate
	g.startOfDayEquity = st.StartOfDayEquity
	g.dailyPL = st.DailyPL
	g.peakEquity = st.PeakEquity
	g.halted = st.Halted
	g.haltReason = st.HaltReason
	g.haltTime = st.HaltTime
	g.killed = st.Killed
}
