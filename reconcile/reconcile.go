// Package reconcile periodically diffs the internal ledger against the
// broker's reported positions. Drift is alerted, never auto-corrected:
// silently patching the ledger could mask a duplicate or missed fill, so a
// human stays in the loop.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/sessiond/broker"
	"github.com/rustyeddy/sessiond/journal"
	"github.com/rustyeddy/sessiond/portfolio"
	"github.com/rustyeddy/sessiond/telemetry"
)

// DefaultHistoryCap bounds the alert history. The bound is part of the
// type: drift on a busy session must not grow into a leak.
const DefaultHistoryCap = 256

// Alert records one nonzero position delta.
type Alert struct {
	Symbol        string
	InternalUnits float64
	BrokerUnits   float64
	Delta         float64
	Time          time.Time
}

// Ledger is the slice of the portfolio the reconciler reads.
type Ledger interface {
	Positions() []portfolio.Position
}

type Reconciler struct {
	mu      sync.Mutex
	broker  broker.Broker
	ledger  Ledger
	notify  telemetry.Notifier
	log     *logrus.Logger
	history []Alert
	cap     int

	// Interval between background runs.
	Interval time.Duration
	// Timeout bounds each broker position query.
	Timeout time.Duration
	// Journal receives a durable record of every alert.
	Journal journal.Journal
}

func New(b broker.Broker, l Ledger, notify telemetry.Notifier, historyCap int, log *logrus.Logger) *Reconciler {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if notify == nil {
		notify = telemetry.LogNotifier{Log: log}
	}
	return &Reconciler{
		broker:   b,
		ledger:   l,
		notify:   notify,
		log:      log,
		cap:      historyCap,
		Interval: time.Hour,
		Timeout:  30 * time.Second,
		Journal:  journal.Nop{},
	}
}

// Reconcile queries the broker and diffs both books over the union of
// symbols. A failed or timed-out query propagates as an error; it is never
// read as "no positions", which would raise a storm of false drift alerts.
func (r *Reconciler) Reconcile(ctx context.Context, now time.Time) ([]Alert, error) {
	qctx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	brokerBook, err := r.broker.Positions(qctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: broker positions: %w", err)
	}

	internal := make(map[string]float64)
	for _, p := range r.ledger.Positions() {
		if p.Units != 0 {
			internal[p.Symbol] = p.Units
		}
	}

	symbols := make(map[string]struct{}, len(internal)+len(brokerBook))
	for sym := range internal {
		symbols[sym] = struct{}{}
	}
	for sym := range brokerBook {
		symbols[sym] = struct{}{}
	}

	var alerts []Alert
	for sym := range symbols {
		internalUnits := internal[sym]
		brokerUnits := brokerBook[sym].Units
		delta := brokerUnits - internalUnits
		if delta == 0 {
			continue
		}
		a := Alert{
			Symbol:        sym,
			InternalUnits: internalUnits,
			BrokerUnits:   brokerUnits,
			Delta:         delta,
			Time:          now,
		}
		alerts = append(alerts, a)
		r.record(a)
	}
	return alerts, nil
}

func (r *Reconciler) record(a Alert) {
	r.mu.Lock()
	r.history = append(r.history, a)
	if len(r.history) > r.cap {
		// Drop oldest; the cap converts unbounded growth into a window.
		r.history = r.history[len(r.history)-r.cap:]
	}
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"symbol":   a.Symbol,
		"internal": a.InternalUnits,
		"broker":   a.BrokerUnits,
		"delta":    a.Delta,
	}).Warn("position drift detected")

	r.notify.Publish(telemetry.Event{
		Kind:      telemetry.KindReconcileDrift,
		Symbol:    a.Symbol,
		Reason:    fmt.Sprintf("internal %v vs broker %v", a.InternalUnits, a.BrokerUnits),
		Magnitude: a.Delta,
		Time:      a.Time,
	})

	if err := r.Journal.RecordAlert(journal.AlertRecord{
		Symbol:        a.Symbol,
		InternalUnits: a.InternalUnits,
		BrokerUnits:   a.BrokerUnits,
		Delta:         a.Delta,
		Time:          a.Time,
	}); err != nil {
		r.log.WithError(err).Warn("journal alert record failed")
	}
}

// Alerts returns a copy of the bounded alert history.
func (r *Reconciler) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.history))
	copy(out, r.history)
	return out
}

// Run reconciles on the configured interval until ctx is cancelled. Errors
// are logged and the loop continues; a transient broker outage must not
// kill the monitor.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := r.Reconcile(ctx, now); err != nil {
				r.log.WithError(err).Warn("reconciliation pass failed")
			}
		}
	}
}
