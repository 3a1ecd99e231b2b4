package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hypehub/task-escrow/api"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}

	if cfg.Catalog.SeedOfficial {
		report, err := a.engine.SeedOfficialTasks(ctx)
		if err != nil {
			a.log.Warn("seeding official tasks failed", "error", err)
		} else if report.Created > 0 {
			a.log.Info("seeded official tasks", "created", report.Created)
		}
	}

	auth, err := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, a.engine, cfg.Auth.AccountCacheSize)
	if err != nil {
		a.Close(context.Background())
		return err
	}
	auth.Log = a.log
	handler := api.NewHandler(a.engine, a.log, cfg.Ledger.ETHUSDRate)
	router := api.NewRouter(handler, auth, api.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins})

	scheduler := api.NewRecoveryScheduler(a.engine, a.log)
	scheduler.CheckInterval = cfg.Ledger.RecoveryInterval
	scheduler.Batch = cfg.Ledger.RecoveryBatch
	scheduler.Enabled = cfg.Ledger.RecoveryInterval > 0
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutting down server")
	case err := <-serveErr:
		if err != nil {
			a.log.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.Server.ShutdownTimeout))
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	scheduler.Stop()
	if err := a.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	a.log.Info("server stopped")
	return errors.Join(errs...)
}

func shutdownTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
