// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielhkuo/chainballot/cliparse"
	"github.com/danielhkuo/chainballot/db"
	"github.com/danielhkuo/chainballot/invites"
	"github.com/danielhkuo/chainballot/jobs"
	"github.com/danielhkuo/chainballot/middleware"
	"github.com/danielhkuo/chainballot/reconcile"
	"github.com/danielhkuo/chainballot/relay"
	_ "github.com/danielhkuo/chainballot/relay/polygon"
	"github.com/danielhkuo/chainballot/router"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	// Connect to the database
	dbConn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	// Create schema (tables)
	if err := db.CreateSchema(dbConn); err != nil {
		return err
	}
	slog.Info("Database schema ready", "type", cfg.DatabaseType)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// External ledger
	backend, err := relay.NewBackend(ctx, cfg.LedgerBackend, relay.Config{
		RPCURL:          cfg.PolygonRPC,
		PrivateKey:      cfg.PrivateKey,
		ContractAddress: cfg.ContractAddress,
	})
	if err != nil {
		return err
	}
	if c, ok := backend.(io.Closer); ok {
		defer c.Close()
	}
	slog.Info("External ledger ready", "backend", cfg.LedgerBackend)

	relayer := relay.NewRelayer(dbConn, backend, relay.Options{
		Interval:    cfg.RelayInterval,
		MaxAttempts: cfg.RelayMaxAttempts,
	})
	reconciler := reconcile.New(dbConn, relayer, nil)

	scheduler := jobs.New(reconciler, invites.NewLedger(dbConn), nil)
	if err := scheduler.Schedule(ctx, cfg.ReconcileSchedule, cfg.ExpireSchedule); err != nil {
		return err
	}

	// Create server
	mux := router.NewRouter(dbConn, cfg, relayer, reconciler)
	server := http.Server{
		Handler:           middleware.CORS(mux),
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relayer.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		slog.Info("Listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("Server closed", "error", err)
	return err
}
