// Package session is the orchestrator: it owns the session lifecycle,
// serializes bar processing, funnels broker fill callbacks through one
// handler, and drives the ledger, risk gate, idempotency tracker,
// checkpoint pipeline and reconciler in the right order.
//
// Lock order contract: the Coordinator's own mutex comes first and is the
// only lock ever held in this package. Every collaborator (ledger, gate,
// tracker, pipeline, price store) owns exactly one internal lock, and the
// coordinator always releases its mutex before calling into any of them,
// passing immutable snapshots across the boundary. No call path in the
// subsystem holds two component locks at once, so there is no cross-lock
// cycle to reason about.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/sessiond/broker"
	"github.com/rustyeddy/sessiond/checkpoint"
	"github.com/rustyeddy/sessiond/decision"
	"github.com/rustyeddy/sessiond/dedupe"
	"github.com/rustyeddy/sessiond/journal"
	"github.com/rustyeddy/sessiond/market"
	"github.com/rustyeddy/sessiond/metrics"
	"github.com/rustyeddy/sessiond/portfolio"
	"github.com/rustyeddy/sessiond/risk"
	"github.com/rustyeddy/sessiond/telemetry"
)

type State int32

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Config tunes the coordinator's timeouts and retry bounds.
type Config struct {
	SessionID string

	// HistoryWindow is how many bars per symbol the decision engine sees.
	HistoryWindow int

	// SubmitTimeout bounds each broker submission; SubmitRetries and
	// RetryBackoff bound the retry loop around transient failures.
	SubmitTimeout time.Duration
	SubmitRetries int
	RetryBackoff  time.Duration

	// OrderTimeout is the orphan horizon: an order with no terminal fill
	// after this long is flagged for reconciliation.
	OrderTimeout time.Duration

	// LiquidateOnStop flattens remaining positions during Stop.
	LiquidateOnStop bool

	// CancelRetries and CancelPoll bound the cancel-confirmation loop
	// during shutdown.
	CancelRetries int
	CancelPoll    time.Duration
}

func DefaultConfig() Config {
	return Config{
		HistoryWindow: 64,
		SubmitTimeout: 5 * time.Second,
		SubmitRetries: 3,
		RetryBackoff:  250 * time.Millisecond,
		OrderTimeout:  2 * time.Minute,
		CancelRetries: 5,
		CancelPoll:    200 * time.Millisecond,
	}
}

type openOrder struct {
	orderID   string
	symbol    string
	units     float64
	submitted time.Time
	orphaned  bool
}

// StopReport summarizes how cleanly a session shut down.
type StopReport struct {
	CancelFailures  []string // broker order ids that never confirmed cancel
	OpenPositions   []string // symbols still open after liquidation attempts
	PartiallyClosed bool
}

type Coordinator struct {
	mu      sync.Mutex
	state   State
	open    map[string]openOrder // client order id -> submission record
	history map[string][]market.Bar
	lastBar map[string]time.Time
	day     time.Time
	ckDrops int // pipeline drops already counted into metrics

	cfg      Config
	brk      broker.Broker
	engine   decision.Engine
	ledger   *portfolio.Ledger
	gate     *risk.Gate
	tracker  *dedupe.Tracker
	pipeline *checkpoint.Pipeline
	jrnl     journal.Journal
	notify   telemetry.Notifier
	met      *metrics.Metrics
	prices   *market.PriceStore
	log      *logrus.Logger
}

// Deps carries the coordinator's collaborators; all are injected, none are
// constructed internally, so lifecycle stays explicit.
type Deps struct {
	Broker   broker.Broker
	Engine   decision.Engine
	Ledger   *portfolio.Ledger
	Gate     *risk.Gate
	Tracker  *dedupe.Tracker
	Pipeline *checkpoint.Pipeline
	Journal  journal.Journal
	Notify   telemetry.Notifier
	Metrics  *metrics.Metrics
	Prices   *market.PriceStore
	Log      *logrus.Logger
}

func New(cfg Config, d Deps) (*Coordinator, error) {
	switch {
	case d.Broker == nil:
		return nil, fmt.Errorf("session: broker is required")
	case d.Engine == nil:
		return nil, fmt.Errorf("session: decision engine is required")
	case d.Ledger == nil:
		return nil, fmt.Errorf("session: ledger is required")
	case d.Gate == nil:
		return nil, fmt.Errorf("session: risk gate is required")
	case d.Tracker == nil:
		return nil, fmt.Errorf("session: idempotency tracker is required")
	case d.Pipeline == nil:
		return nil, fmt.Errorf("session: checkpoint pipeline is required")
	case d.Prices == nil:
		return nil, fmt.Errorf("session: price store is required")
	}
	if d.Journal == nil {
		d.Journal = journal.Nop{}
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Notify == nil {
		d.Notify = telemetry.LogNotifier{Log: d.Log}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 64
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 5 * time.Second
	}

	c := &Coordinator{
		state:    Idle,
		open:     make(map[string]openOrder),
		history:  make(map[string][]market.Bar),
		lastBar:  make(map[string]time.Time),
		cfg:      cfg,
		brk:      d.Broker,
		engine:   d.Engine,
		ledger:   d.Ledger,
		gate:     d.Gate,
		tracker:  d.Tracker,
		pipeline: d.Pipeline,
		jrnl:     d.Journal,
		notify:   d.Notify,
		met:      d.Metrics,
		prices:   d.Prices,
		log:      d.Log,
	}

	c.gate.SetHaltFunc(func(reason string, at time.Time) {
		c.met.Halts.WithLabelValues(reason).Inc()
		if err := c.jrnl.RecordHalt(journal.HaltRecord{Reason: reason, Time: at}); err != nil {
			c.log.WithError(err).Warn("journal halt record failed")
		}
		c.notify.Publish(telemetry.Event{
			Kind:   telemetry.KindRiskHalt,
			Reason: reason,
			Time:   at,
		})
	})

	return c, nil
}

// Start registers the fill funnel and starts the broker connection.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: start from %s", state)
	}
	c.state = Running
	c.mu.Unlock()

	c.brk.SetFillHandler(c.OnFill)
	if err := c.brk.Start(ctx); err != nil {
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()
		return fmt.Errorf("session: broker start: %w", err)
	}

	c.notify.Publish(telemetry.Event{
		Kind: telemetry.KindSessionState, Reason: "RUNNING", Time: time.Now(),
	})
	return nil
}

// Resume restores ledger, risk and engine state from a checkpoint. Call
// before Start.
func (c *Coordinator) Resume(snap checkpoint.Snapshot) error {
	c.mu.Lock()
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: resume from %s", state)
	}
	c.mu.Unlock()

	c.ledger.Restore(snap.Portfolio)
	c.gate.Restore(snap.Risk)
	if err := c.engine.Load(snap.Engine); err != nil {
		return fmt.Errorf("session: restore engine state: %w", err)
	}
	c.log.WithFields(logrus.Fields{
		"session": snap.SessionID,
		"time":    snap.Time,
	}).Info("resumed from checkpoint")
	return nil
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
