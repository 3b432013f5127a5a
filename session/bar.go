package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/sessiond/broker"
	"github.com/rustyeddy/sessiond/decision"
	"github.com/rustyeddy/sessiond/dedupe"
	"github.com/rustyeddy/sessiond/market"
	"github.com/rustyeddy/sessiond/metrics"
	"github.com/rustyeddy/sessiond/risk"
	"github.com/rustyeddy/sessiond/telemetry"
)

// OnBar processes one market-data bar. Bars are delivered sequentially by a
// single caller; fills may arrive concurrently on the broker's goroutine.
// An error means this bar was not acted on; the session itself stays up.
func (c *Coordinator) OnBar(ctx context.Context, bar market.Bar) error {
	c.mu.Lock()
	if c.state != Running {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: bar ignored in state %s", state)
	}
	if last, ok := c.lastBar[bar.Symbol]; ok && !bar.Time.After(last) {
		c.mu.Unlock()
		return fmt.Errorf("session: stale bar for %s: %s not after %s", bar.Symbol, bar.Time, last)
	}
	c.lastBar[bar.Symbol] = bar.Time

	hist := append(c.history[bar.Symbol], bar)
	if len(hist) > c.cfg.HistoryWindow {
		hist = hist[len(hist)-c.cfg.HistoryWindow:]
	}
	c.history[bar.Symbol] = hist
	history := make([]market.Bar, len(hist))
	copy(history, hist)

	newDay := c.day.IsZero() || !sameDay(c.day, bar.Time)
	if newDay {
		c.day = dayOf(bar.Time)
	}
	c.mu.Unlock()

	// The bar close is a live price update like any other.
	c.prices.Set(bar.Price())

	prices := c.prices.Snapshot()
	equity, err := c.ledger.TotalEquity(prices)
	if err != nil {
		// Missing price for an open position is an invariant violation:
		// surfaced, never papered over with zero.
		c.log.WithField("symbol", bar.Symbol).WithError(err).Error("equity unavailable on bar")
		return fmt.Errorf("session: bar %s: %w", bar.Symbol, err)
	}
	c.met.Equity.Set(equity)
	c.met.CheckpointQueue.Set(float64(c.pipeline.QueueDepth()))

	if newDay {
		c.gate.ResetDaily(dayOf(bar.Time), equity)
		c.tracker.PruneExpired(bar.Time)
	}
	c.gate.UpdateDailyMetrics(equity, bar.Time)

	c.checkOrphans(bar.Time)

	pos, _ := c.ledger.Position(bar.Symbol)
	view := decision.PortfolioView{
		Cash:   c.ledger.Cash(),
		Equity: equity,
		Units:  pos.Units,
	}

	action, err := c.engine.Decide(ctx, bar.Symbol, history, view)
	if err != nil {
		c.log.WithField("symbol", bar.Symbol).WithError(err).Error("decision engine error")
		return fmt.Errorf("session: decide %s: %w", bar.Symbol, err)
	}
	if action.Type == decision.Hold || action.Units == 0 {
		return nil
	}

	return c.submit(ctx, bar, action, equity, prices)
}

// submit runs a candidate action through the risk gate, the idempotency
// tracker, and the broker, in that order. The fingerprint is durably marked
// BEFORE the broker sees the order: a crash in between costs us a blocked
// retry until the TTL expires, never a duplicate submission.
func (c *Coordinator) submit(ctx context.Context, bar market.Bar, action decision.Action, equity float64, prices map[string]float64) error {
	units := action.SignedUnits()
	order := broker.Order{
		Symbol:        bar.Symbol,
		Units:         units,
		Type:          broker.Market,
		ClientOrderID: dedupe.Fingerprint(bar.Symbol, bar.Time, units),
		SubmittedAt:   bar.Time,
	}

	positions := make(map[string]float64)
	for _, p := range c.ledger.Positions() {
		positions[p.Symbol] = p.Units
	}
	snap := risk.Snapshot{
		Equity:    equity,
		Cash:      c.ledger.Cash(),
		Positions: positions,
		Prices:    prices,
	}

	d := c.gate.CheckPreTrade(order, snap, bar.Time)
	if !d.Allowed {
		c.met.Rejects.WithLabelValues(d.Reason()).Inc()
		c.log.WithFields(logrus.Fields{
			"symbol": order.Symbol,
			"units":  order.Units,
			"code":   d.Reason(),
		}).Info("order rejected by risk gate")
		return nil
	}

	now := time.Now()
	if c.tracker.IsDuplicate(order.ClientOrderID, now) {
		c.log.WithField("fingerprint", order.ClientOrderID).Info("duplicate order suppressed")
		return nil
	}
	if err := c.tracker.MarkSubmitted(order.ClientOrderID, now); err != nil {
		// The durable mark failed, so the order must not go out.
		return fmt.Errorf("session: idempotency mark: %w", err)
	}

	orderID, err := c.submitWithRetry(ctx, order)
	if err != nil {
		// The fingerprint stays marked and self-heals at TTL expiry.
		c.met.Rejects.WithLabelValues("SUBMIT_FAILED").Inc()
		c.log.WithFields(logrus.Fields{
			"symbol": order.Symbol,
			"units":  order.Units,
		}).WithError(err).Error("broker submission failed")
		c.notify.Publish(telemetry.Event{
			Kind:      telemetry.KindOrderFailed,
			Symbol:    order.Symbol,
			Reason:    err.Error(),
			Magnitude: order.Units,
			Time:      now,
		})
		return nil
	}

	c.mu.Lock()
	c.open[order.ClientOrderID] = openOrder{
		orderID: orderID,
		symbol:  order.Symbol,
		units:   order.Units,
		// Orphan age is measured in bar time, so replayed sessions detect
		// orphans the same way live ones do.
		submitted: order.SubmittedAt,
	}
	openCount := len(c.open)
	c.mu.Unlock()

	c.gate.RecordOrder(bar.Time)
	c.met.Orders.WithLabelValues(metrics.SideLabel(order.Units)).Inc()
	c.met.OpenOrders.Set(float64(openCount))

	c.log.WithFields(logrus.Fields{
		"symbol":  order.Symbol,
		"units":   order.Units,
		"orderID": orderID,
		"reason":  action.Reason,
	}).Info("order submitted")
	return nil
}

// submitWithRetry bounds each attempt with SubmitTimeout and retries
// transient failures with backoff. The bar path never waits on the network
// without a deadline.
func (c *Coordinator) submitWithRetry(ctx context.Context, order broker.Order) (string, error) {
	attempts := c.cfg.SubmitRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && c.cfg.RetryBackoff > 0 {
			select {
			case <-time.After(c.cfg.RetryBackoff * time.Duration(i)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		sctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
		orderID, err := c.brk.Submit(sctx, order)
		cancel()
		if err == nil {
			return orderID, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// checkOrphans flags submitted orders with no terminal fill inside the
// configured horizon. Flagged once, surfaced to the operator, and left in
// place for reconciliation rather than silently forgotten.
func (c *Coordinator) checkOrphans(now time.Time) {
	if c.cfg.OrderTimeout <= 0 {
		return
	}
	var orphans []openOrder
	c.mu.Lock()
	for clientID, oo := range c.open {
		if !oo.orphaned && now.Sub(oo.submitted) > c.cfg.OrderTimeout {
			oo.orphaned = true
			c.open[clientID] = oo
			orphans = append(orphans, oo)
		}
	}
	c.mu.Unlock()

	for _, oo := range orphans {
		c.log.WithFields(logrus.Fields{
			"symbol":    oo.symbol,
			"units":     oo.units,
			"orderID":   oo.orderID,
			"submitted": oo.submitted,
		}).Warn("order orphaned: no terminal fill inside horizon")
		c.notify.Publish(telemetry.Event{
			Kind:      telemetry.KindOrderOrphaned,
			Symbol:    oo.symbol,
			Reason:    fmt.Sprintf("order %s unfilled since %s", oo.orderID, oo.submitted.Format(time.RFC3339)),
			Magnitude: oo.units,
			Time:      now,
		})
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
