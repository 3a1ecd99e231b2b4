package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hypehub/task-escrow/catalog"
	"github.com/hypehub/task-escrow/config"
	"github.com/hypehub/task-escrow/escrow"
	"github.com/hypehub/task-escrow/notify"
	"github.com/hypehub/task-escrow/store/postgres"
	"github.com/hypehub/task-escrow/store/sqlite"
	"github.com/spf13/cobra"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg        config.Config
	log        *slog.Logger
	store      escrow.Store
	engine     *escrow.Engine
	dispatcher *notify.Dispatcher

	// closers run in reverse order on Close.
	closers []func(context.Context) error
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// newApp opens the store and builds the engine. With withNotify the
// configured notification sinks are connected and the dispatcher started.
func newApp(ctx context.Context, cfg config.Config, withNotify bool) (*app, error) {
	a := &app{cfg: cfg, log: config.NewLogger(cfg.Log)}
	slog.SetDefault(a.log)

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	a.store, err = openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })

	var notifier escrow.Notifier = escrow.NopNotifier{}
	if withNotify {
		if err := a.startNotifications(ctx); err != nil {
			a.Close(ctx)
			return nil, err
		}
		notifier = a.dispatcher
	}

	a.engine = escrow.NewEngine(a.store, cat, escrow.Options{
		Notifier:            notifier,
		Logger:              a.log,
		TxTimeout:           cfg.Ledger.TxTimeout,
		SignupPoints:        cfg.Ledger.SignupPoints,
		RecoveryConcurrency: cfg.Ledger.RecoveryConcurrency,
	})
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (escrow.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		driver := cfg.SQLite.Driver
		if driver == "" {
			driver = sqlite.DriverCGO
		}
		s, err := sqlite.Open(cfg.SQLite.Path, driver)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *app) startNotifications(ctx context.Context) error {
	n := a.cfg.Notify
	var sinks []notify.Sink
	if n.Log {
		sinks = append(sinks, notify.NewLogSink(a.log))
	}
	if n.Redis.Addr != "" {
		rc, err := notify.DialRedis(ctx, n.Redis.Addr, n.Redis.Password)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
		sinks = append(sinks, notify.NewRedisSink(rc, n.Redis.Channel))
	}
	if n.Mongo.URI != "" {
		client, sink, err := notify.ConnectMongo(ctx, n.Mongo.URI, n.Mongo.Database, n.Mongo.Collection)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Disconnect)
		sinks = append(sinks, sink)
	}

	a.dispatcher = notify.NewDispatcher(notify.Options{QueueSize: n.QueueSize, Logger: a.log}, sinks...)
	a.dispatcher.Start()
	a.closers = append(a.closers, a.dispatcher.Close)

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	a.log.Info("notifications enabled", "sinks", names)
	return nil
}

// Close releases everything newApp opened, newest first.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
