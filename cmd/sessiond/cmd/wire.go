package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/sessiond/broker/sim"
	"github.com/rustyeddy/sessiond/checkpoint"
	"github.com/rustyeddy/sessiond/config"
	"github.com/rustyeddy/sessiond/decision"
	"github.com/rustyeddy/sessiond/dedupe"
	"github.com/rustyeddy/sessiond/journal"
	"github.com/rustyeddy/sessiond/market"
	"github.com/rustyeddy/sessiond/metrics"
	"github.com/rustyeddy/sessiond/portfolio"
	"github.com/rustyeddy/sessiond/reconcile"
	"github.com/rustyeddy/sessiond/risk"
	"github.com/rustyeddy/sessiond/session"
	"github.com/rustyeddy/sessiond/telemetry"
)

// runtime bundles every wired component of one session process.
type runtime struct {
	cfg    *config.Config
	log    *logrus.Logger
	coord  *session.Coordinator
	brk    *sim.Broker
	prices *market.PriceStore
	hub    *telemetry.Hub
	met    *metrics.Metrics
	rec    *reconcile.Reconciler
	jrnl   journal.Journal
	srv    *http.Server
}

// buildRuntime assembles the full session from a validated config.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	prices := market.NewPriceStore()
	ledger := portfolio.NewLedger(cfg.Account.Capital, log)

	rateWindow, _ := config.Duration(cfg.Risk.RateWindow, time.Minute)
	gate := risk.NewGate(risk.Policy{
		MaxDailyLossPct:    cfg.Risk.MaxDailyLossPct,
		MaxDrawdownPct:     cfg.Risk.MaxDrawdownPct,
		MaxNotional:        cfg.Risk.MaxNotional,
		MaxOrdersPerWindow: cfg.Risk.MaxOrdersPerWindow,
		RateWindow:         rateWindow,
	}, log)

	ttl, _ := config.Duration(cfg.Dedupe.TTL, dedupe.DefaultTTL)
	tracker, err := dedupe.NewTracker(cfg.Dedupe.StorePath, ttl, log)
	if err != nil {
		return nil, fmt.Errorf("idempotency tracker: %w", err)
	}

	pipe := checkpoint.NewPipeline(cfg.Checkpoint.Path, cfg.Checkpoint.QueueDepth, log)

	var jrnl journal.Journal
	switch cfg.Journal.Type {
	case "csv":
		jrnl, err = journal.NewCSV(cfg.Journal.FillsFile, cfg.Journal.EquityFile)
	case "sqlite":
		jrnl, err = journal.NewSQLite(cfg.Journal.DBPath)
	default:
		jrnl = journal.Nop{}
	}
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	engine, err := buildEngine(cfg.Decision)
	if err != nil {
		return nil, err
	}

	latency, _ := config.Duration(cfg.Broker.Latency, 0)
	brk := sim.New(sim.Config{
		Latency:           latency,
		CommissionPerUnit: cfg.Broker.CommissionPerUnit,
		MaxFillUnits:      cfg.Broker.MaxFillUnits,
	}, prices)

	met := metrics.New()
	hub := telemetry.NewHub(64, log)
	notify := telemetry.Multi{
		telemetry.LogNotifier{Log: log},
		hub,
		telemetry.Func(func(e telemetry.Event) {
			if e.Kind == telemetry.KindReconcileDrift {
				met.ReconcileDrift.Inc()
			}
		}),
	}

	submitTimeout, _ := config.Duration(cfg.Session.SubmitTimeout, 5*time.Second)
	retryBackoff, _ := config.Duration(cfg.Session.RetryBackoff, 250*time.Millisecond)
	orderTimeout, _ := config.Duration(cfg.Session.OrderTimeout, 2*time.Minute)

	sessCfg := session.DefaultConfig()
	sessCfg.SessionID = cfg.Session.ID
	sessCfg.HistoryWindow = cfg.Session.HistoryWindow
	sessCfg.SubmitTimeout = submitTimeout
	sessCfg.RetryBackoff = retryBackoff
	sessCfg.OrderTimeout = orderTimeout
	sessCfg.LiquidateOnStop = cfg.Session.LiquidateOnStop
	if cfg.Session.SubmitRetries > 0 {
		sessCfg.SubmitRetries = cfg.Session.SubmitRetries
	}

	coord, err := session.New(sessCfg, session.Deps{
		Broker:   brk,
		Engine:   engine,
		Ledger:   ledger,
		Gate:     gate,
		Tracker:  tracker,
		Pipeline: pipe,
		Journal:  jrnl,
		Notify:   notify,
		Metrics:  met,
		Prices:   prices,
		Log:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	rec := reconcile.New(brk, ledger, notify, reconcile.DefaultHistoryCap, log)
	rec.Journal = jrnl
	if interval, derr := config.Duration(cfg.Reconcile.Interval, time.Hour); derr == nil {
		rec.Interval = interval
	}
	if timeout, derr := config.Duration(cfg.Reconcile.Timeout, 30*time.Second); derr == nil {
		rec.Timeout = timeout
	}

	rt := &runtime{
		cfg:    cfg,
		log:    log,
		coord:  coord,
		brk:    brk,
		prices: prices,
		hub:    hub,
		met:    met,
		rec:    rec,
		jrnl:   jrnl,
	}

	if cfg.Telemetry.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", met.Handler())
		mux.Handle("/ws", hub.Handler())
		rt.srv = &http.Server{Addr: cfg.Telemetry.Listen, Handler: mux}
	}
	return rt, nil
}

func buildEngine(cfg config.DecisionConfig) (decision.Engine, error) {
	switch cfg.Engine {
	case "meanrev":
		return decision.NewMeanRev(cfg.Window, cfg.Threshold, cfg.Units), nil
	case "emacross":
		return decision.NewEmaCross(cfg.Window, 0, cfg.Units), nil
	default:
		return decision.ByName(cfg.Engine)
	}
}

// start brings up the telemetry hub, the HTTP listener, the reconciler loop
// and the session itself. The returned cancel tears the background loops
// down; call shutdown for the orderly stop.
func (rt *runtime) start(ctx context.Context) (context.CancelFunc, error) {
	loopCtx, cancel := context.WithCancel(ctx)

	go rt.hub.Run()
	if rt.srv != nil {
		go func() {
			if err := rt.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				rt.log.WithError(err).Error("telemetry listener failed")
			}
		}()
		rt.log.WithField("addr", rt.cfg.Telemetry.Listen).Info("serving /metrics and /ws")
	}
	if rt.cfg.Reconcile.Enabled {
		go rt.rec.Run(loopCtx)
	}

	if err := rt.coord.Start(ctx); err != nil {
		cancel()
		return nil, err
	}
	return cancel, nil
}

// shutdown stops the session and releases every background resource.
func (rt *runtime) shutdown(ctx context.Context) (session.StopReport, error) {
	report, err := rt.coord.Stop(ctx)

	if rt.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := rt.srv.Shutdown(sctx); serr != nil {
			rt.log.WithError(serr).Warn("telemetry listener shutdown failed")
		}
		cancel()
	}
	rt.hub.Close()
	if cerr := rt.jrnl.Close(); cerr != nil {
		rt.log.WithError(cerr).Warn("journal close failed")
	}
	return report, err
}
