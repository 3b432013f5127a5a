package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/sessiond/broker"
	"github.com/rustyeddy/sessiond/dedupe"
	"github.com/rustyeddy/sessiond/telemetry"
)

// Stop shuts the session down in a fixed order: stop accepting bars, cancel
// open orders, optionally flatten remaining positions, drain the checkpoint
// queue and take one final blocking save, and only then stop the broker.
// Fills arriving during the slow parts are still funneled through OnFill,
// so the final save captures them. If cancels or liquidation cannot be
// confirmed inside the retry bounds, the report says "partially closed"
// instead of pretending otherwise.
func (c *Coordinator) Stop(ctx context.Context) (StopReport, error) {
	var report StopReport

	c.mu.Lock()
	switch c.state {
	case Stopped:
		c.mu.Unlock()
		return report, nil
	case Idle:
		c.state = Stopped
		c.mu.Unlock()
		return report, nil
	case Stopping:
		c.mu.Unlock()
		return report, fmt.Errorf("session: stop already in progress")
	}
	c.state = Stopping
	pending := make([]openOrder, 0, len(c.open))
	for _, oo := range c.open {
		pending = append(pending, oo)
	}
	c.mu.Unlock()

	c.notify.Publish(telemetry.Event{
		Kind: telemetry.KindSessionState, Reason: "STOPPING", Time: time.Now(),
	})

	report.CancelFailures = c.cancelAll(ctx, pending)

	if c.cfg.LiquidateOnStop {
		report.OpenPositions = c.liquidate(ctx)
	}

	// Drain + final blocking save happen BEFORE the broker stops: fills
	// from cancels and liquidation above are already applied, and the final
	// save is the last word on session state.
	final := c.snapshot(time.Now())
	if err := c.pipeline.Shutdown(ctx, &final); err != nil {
		c.log.WithError(err).Error("final checkpoint failed during shutdown")
		report.PartiallyClosed = true
	}

	if err := c.brk.Stop(ctx); err != nil {
		c.log.WithError(err).Warn("broker stop failed")
		report.PartiallyClosed = true
	}

	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()

	if len(report.CancelFailures) > 0 || len(report.OpenPositions) > 0 {
		report.PartiallyClosed = true
	}
	c.notify.Publish(telemetry.Event{
		Kind: telemetry.KindSessionState,
		Reason: map[bool]string{
			true:  "PARTIALLY_CLOSED",
			false: "STOPPED",
		}[report.PartiallyClosed],
		Time: time.Now(),
	})
	return report, nil
}

// cancelAll cancels every open order, polling for confirmation within the
// configured retry bounds.
func (c *Coordinator) cancelAll(ctx context.Context, pending []openOrder) []string {
	var failures []string
	retries := c.cfg.CancelRetries
	if retries < 1 {
		retries = 1
	}

	for _, oo := range pending {
		var done bool
		var lastErr error
		for i := 0; i < retries && !done; i++ {
			if i > 0 && c.cfg.CancelPoll > 0 {
				select {
				case <-time.After(c.cfg.CancelPoll):
				case <-ctx.Done():
					failures = append(failures, oo.orderID)
					return failures
				}
			}
			ok, err := c.brk.Cancel(ctx, oo.orderID)
			if err != nil {
				lastErr = err
				continue
			}
			// ok=false means the order already reached a terminal state,
			// which is as final as a cancel.
			done = true
			_ = ok
		}
		if !done {
			c.log.WithFields(logrus.Fields{
				"orderID": oo.orderID,
				"symbol":  oo.symbol,
			}).WithError(lastErr).Warn("cancel unconfirmed during shutdown")
			failures = append(failures, oo.orderID)
		}
	}
	return failures
}

// liquidate submits flattening orders for every open position and polls the
// ledger until flat or out of retries. Flattening orders are exactly what a
// halted gate still permits, so no risk bypass is needed.
func (c *Coordinator) liquidate(ctx context.Context) []string {
	now := time.Now()
	for _, p := range c.ledger.Positions() {
		if p.Units == 0 {
			continue
		}
		units := -p.Units
		order := broker.Order{
			Symbol:        p.Symbol,
			Units:         units,
			Type:          broker.Market,
			ClientOrderID: dedupe.Fingerprint(p.Symbol, now, units),
			SubmittedAt:   now,
		}
		if c.tracker.IsDuplicate(order.ClientOrderID, now) {
			continue
		}
		if err := c.tracker.MarkSubmitted(order.ClientOrderID, now); err != nil {
			c.log.WithField("symbol", p.Symbol).WithError(err).Error("liquidation mark failed")
			continue
		}
		if _, err := c.submitWithRetry(ctx, order); err != nil {
			c.log.WithFields(logrus.Fields{
				"symbol": p.Symbol,
				"units":  units,
			}).WithError(err).Error("liquidation order failed")
		}
	}

	// Poll for the flattening fills to land.
	retries := c.cfg.CancelRetries
	if retries < 1 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		if c.openSymbols() == nil {
			return nil
		}
		select {
		case <-time.After(c.cfg.CancelPoll):
		case <-ctx.Done():
			return c.openSymbols()
		}
	}
	return c.openSymbols()
}

func (c *Coordinator) openSymbols() []string {
	var out []string
	for _, p := range c.ledger.Positions() {
		if p.Units != 0 {
			out = append(out, p.Symbol)
		}
	}
	return out
}
