// Package telemetry carries operator-facing signals out of the session:
// risk halts, reconciliation drift, failed and orphaned orders. The core
// defines only the event shape; transports (log sink, websocket hub) are
// pluggable notifiers.
package telemetry

import (
	"time"

	"github.com/sirupsen/logrus"
)

type Kind string

const (
	KindRiskHalt       Kind = "risk_halt"
	KindReconcileDrift Kind = "reconcile_drift"
	KindOrderFailed    Kind = "order_failed"
	KindOrderOrphaned  Kind = "order_orphaned"
	KindSessionState   Kind = "session_state"
)

// Event is the structured operator signal: what happened, to which symbol,
// why, and how big.
type Event struct {
	Kind      Kind      `json:"kind"`
	Symbol    string    `json:"symbol,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Magnitude float64   `json:"magnitude,omitempty"`
	Time      time.Time `json:"time"`
}

// Notifier receives operator events. Publish must not block the caller.
type Notifier interface {
	Publish(Event)
}

// LogNotifier writes every event as a structured log line.
type LogNotifier struct {
	Log *logrus.Logger
}

func (n LogNotifier) Publish(e Event) {
	log := n.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithFields(logrus.Fields{
		"kind":      e.Kind,
		"symbol":    e.Symbol,
		"reason":    e.Reason,
		"magnitude": e.Magnitude,
		"time":      e.Time,
	})
	switch e.Kind {
	case KindRiskHalt, KindReconcileDrift:
		entry.Warn("operator event")
	default:
		entry.Info("operator event")
	}
}

// Multi fans one event out to several notifiers.
type Multi []Notifier

func (m Multi) Publish(e Event) {
	for _, n := range m {
		n.Publish(e)
	}
}

// Func adapts a function to the Notifier interface.
type Func func(Event)

func (f Func) Publish(e Event) { f(e) }
