// Package app wires the configured transport, session, recorder and metrics
// surface into the streamd daemon.
package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"brokersync/internal/alerts"
	"brokersync/internal/broker"
	"brokersync/internal/config"
	"brokersync/internal/metrics"
	"brokersync/internal/recorder"
	"brokersync/internal/session"
	"brokersync/internal/wire"
)

type App struct {
	cfg    *config.Config
	log    *zap.Logger
	sess   *session.Client
	rec    *recorder.Recorder
	prom   *metrics.Prometheus
	notify *alerts.Telegram
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	transport := wire.New(wire.Options{
		URL:               cfg.Broker.URL,
		ClientID:          cfg.Broker.ClientID,
		DialTimeout:       cfg.Broker.DialTimeout,
		MaxDialBackoff:    cfg.Broker.MaxDialBackoff,
		RequestsPerSecond: cfg.Broker.RequestsPerSecond,
	}, log)

	sess := session.New(transport, session.Options{
		Timeout:              cfg.Session.Timeout,
		IdleTimeout:          cfg.Session.IdleTimeout,
		Account:              cfg.Session.Account,
		ReadOnly:             cfg.Session.ReadOnly,
		RaiseRequestErrors:   cfg.Session.RaiseRequestErrors,
		RaiseSyncErrors:      cfg.Session.RaiseSyncErrors,
		MaxSyncedSubAccounts: cfg.Session.MaxSyncedSubAccounts,
	}, log, m)

	var rec *recorder.Recorder
	if cfg.Recorder.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Recorder.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		var err error
		rec, err = recorder.New(cfg.Recorder.SQLitePath, log)
		if err != nil {
			return nil, err
		}
	}

	return &App{
		cfg:    cfg,
		log:    log,
		sess:   sess,
		rec:    rec,
		prom:   prom,
		notify: alerts.NewTelegram(cfg.Telegram, log),
	}, nil
}

// Session exposes the live session (used by tests and embedding callers).
func (a *App) Session() *session.Client { return a.sess }

func fetchFlags(names []string) session.FetchFlag {
	var f session.FetchFlag
	for _, name := range names {
		switch name {
		case "openOrders":
			f |= session.FetchOpenOrders
		case "completedOrders":
			f |= session.FetchCompletedOrders
		case "accountUpdates":
			f |= session.FetchAccountUpdates
		case "subAccountUpdates":
			f |= session.FetchSubAccountUpdates
		case "accountSummary":
			f |= session.FetchAccountSummary
		case "executions":
			f |= session.FetchExecutions
		}
	}
	return f
}

func (a *App) Run(ctx context.Context) error {
	defer a.rec.Close()
	a.rec.Start(ctx)

	if a.prom != nil {
		srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: a.prom.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Warn("metrics server ended", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	// consumers subscribe before connect so no startup event is missed
	go a.consume(ctx)

	if err := a.sess.Connect(ctx, fetchFlags(a.cfg.Session.Fetch)); err != nil {
		return err
	}
	defer a.sess.Disconnect()

	if err := a.watch(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return ctx.Err()
}

// watch qualifies the configured instruments and starts their streams.
func (a *App) watch(ctx context.Context) error {
	if len(a.cfg.Watch.Instruments) == 0 {
		a.log.Info("no instruments configured, session idle")
		return nil
	}
	contracts := make([]*broker.Contract, 0, len(a.cfg.Watch.Instruments))
	for _, ins := range a.cfg.Watch.Instruments {
		c := broker.Contract{
			Symbol:   ins.Symbol,
			SecType:  ins.SecType,
			Exchange: ins.Exchange,
			Currency: ins.Currency,
		}
		contracts = append(contracts, &c)
	}
	if err := a.sess.QualifyContracts(ctx, contracts...); err != nil {
		return err
	}
	for _, c := range contracts {
		if _, err := a.sess.ReqMktData(*c, ""); err != nil {
			return err
		}
		if a.cfg.Watch.Depth {
			if _, err := a.sess.ReqMktDepth(*c, a.cfg.Watch.DepthRows, false); err != nil {
				return err
			}
		}
		if a.cfg.Watch.TickByTick {
			if _, err := a.sess.ReqTickByTickData(*c, "Last"); err != nil {
				return err
			}
		}
		a.log.Info("watching", zap.String("contract", c.String()))
	}
	return nil
}
