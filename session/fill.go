package session

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/sessiond/broker"
	"github.com/rustyeddy/sessiond/checkpoint"
	"github.com/rustyeddy/sessiond/decision"
	"github.com/rustyeddy/sessiond/journal"
	"github.com/rustyeddy/sessiond/market"
)

// OnFill is the single funnel for broker execution reports. It runs on the
// broker's goroutine, concurrently with OnBar, and must therefore touch
// shared state only through the components' own locks. Fills are still
// processed while STOPPING so a slow shutdown loses nothing before the
// final checkpoint.
func (c *Coordinator) OnFill(rep broker.ExecutionReport) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != Running && state != Stopping {
		c.log.WithField("orderID", rep.OrderID).Warn("fill ignored outside session")
		return
	}

	// 1. The fill price updates the one shared price cache directly.
	// Mutating a local copy of the cache would silently lose the update.
	c.prices.Set(market.FromLast(rep.Symbol, rep.Price, rep.Time))

	// 2. Apply to the ledger. A failure here touches money-state
	// consistency: log with full context and halt the gate so no new
	// exposure opens on top of a ledger we no longer trust.
	realized, err := c.ledger.ApplyFill(rep.Symbol, rep.Units, rep.Price, rep.Commission, rep.Time)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"symbol":  rep.Symbol,
			"units":   rep.Units,
			"price":   rep.Price,
			"orderID": rep.OrderID,
		}).WithError(err).Error("fill application failed")
		c.gate.Halt("FILL_APPLY_FAILED", rep.Time)
		return
	}
	c.met.Fills.Inc()

	// 3. Fold the fresh equity into the daily risk metrics.
	equity, eqErr := c.ledger.TotalEquity(c.prices.Snapshot())
	if eqErr != nil {
		c.log.WithError(eqErr).Error("equity unavailable after fill")
	} else {
		c.gate.UpdateDailyMetrics(equity, rep.Time)
		c.met.Equity.Set(equity)
	}

	// 4. Let the decision engine learn from the outcome.
	c.engine.OnFill(rep.Symbol, decision.Outcome{
		Symbol:     rep.Symbol,
		Units:      rep.Units,
		Price:      rep.Price,
		RealizedPL: realized,
		Time:       rep.Time,
	})

	// 5. Journal, then checkpoint asynchronously.
	if err := c.jrnl.RecordFill(journal.FillRecord{
		OrderID:       rep.OrderID,
		ClientOrderID: rep.ClientOrderID,
		Symbol:        rep.Symbol,
		Units:         rep.Units,
		Price:         rep.Price,
		Commission:    rep.Commission,
		RealizedPL:    realized,
		Time:          rep.Time,
	}); err != nil {
		c.log.WithError(err).Warn("journal fill record failed")
	}
	if eqErr == nil {
		if err := c.jrnl.RecordEquity(journal.EquitySnapshot{
			Time:     rep.Time,
			Cash:     c.ledger.Cash(),
			Equity:   equity,
			Realized: c.ledger.RealizedPL(),
		}); err != nil {
			c.log.WithError(err).Warn("journal equity record failed")
		}
	}
	c.pipeline.SaveAsync(c.snapshot(rep.Time))
	c.met.CheckpointQueue.Set(float64(c.pipeline.QueueDepth()))
	if d := c.pipeline.Drops(); d > 0 {
		c.mu.Lock()
		if d > c.ckDrops {
			c.met.CheckpointDrops.Add(float64(d - c.ckDrops))
			c.ckDrops = d
		}
		c.mu.Unlock()
	}

	// 6. Terminal fills release the idempotency record and close out the
	// submission-time entry.
	if rep.Final {
		c.tracker.Release(rep.ClientOrderID)
		c.mu.Lock()
		delete(c.open, rep.ClientOrderID)
		openCount := len(c.open)
		c.mu.Unlock()
		c.met.OpenOrders.Set(float64(openCount))
	}
}

// snapshot assembles a checkpoint from component state copies.
func (c *Coordinator) snapshot(at time.Time) checkpoint.Snapshot {
	var blob json.RawMessage
	if data, err := c.engine.Save(); err != nil {
		c.log.WithError(err).Warn("decision engine state not captured in checkpoint")
	} else {
		blob = data
	}
	return checkpoint.Snapshot{
		SessionID: c.cfg.SessionID,
		Time:      at,
		Portfolio: c.ledger.State(),
		Risk:      c.gate.State(),
		Engine:    blob,
	}
}
