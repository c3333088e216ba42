// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// votectl is the operator CLI: it reconciles the external ledger, sweeps
// stale invites and verifies ledger tallies against the local database.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/danielhkuo/chainballot/db"
	"github.com/danielhkuo/chainballot/invites"
	"github.com/danielhkuo/chainballot/reconcile"
	"github.com/danielhkuo/chainballot/relay"
	_ "github.com/danielhkuo/chainballot/relay/polygon"
)

var errOutOfSync = errors.New("ledger out of sync")

// backendFunc builds the external ledger backend; tests substitute their own.
type backendFunc func(ctx context.Context, name string, cfg relay.Config) (relay.Backend, error)

func main() {
	_ = godotenv.Load()

	if err := newApp(relay.NewBackend).Run(os.Args); err != nil {
		slog.Error("votectl failed", "error", err)
		os.Exit(1)
	}
}

func newApp(newBackend backendFunc) *cli.App {
	return &cli.App{
		Name:  "votectl",
		Usage: "operate a chainballot deployment",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Aliases:  []string{"d"},
				Usage:    "database location",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "database-type",
				Aliases: []string{"t"},
				Usage:   "sqlite or postgres",
				EnvVars: []string{"DATABASE_TYPE"},
				Value:   db.TypeSQLite,
			},
			&cli.StringFlag{
				Name:    "ledger",
				Usage:   "external ledger backend (" + strings.Join(relay.Backends(), ", ") + ")",
				EnvVars: []string{"LEDGER_BACKEND"},
				Value:   "memory",
			},
			&cli.StringFlag{
				Name:    "rpc",
				Usage:   "Polygon JSON-RPC endpoint",
				EnvVars: []string{"POLYGON_RPC"},
			},
			&cli.StringFlag{
				Name:    "contract",
				Usage:   "voting contract address",
				EnvVars: []string{"CONTRACT_ADDRESS"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "reconcile",
				Usage: "republish local tallies to the external ledger",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "election", Aliases: []string{"e"}, Usage: "election to reconcile"},
					&cli.BoolFlag{Name: "all", Usage: "reconcile every election"},
				},
				Action: func(c *cli.Context) error {
					electionID, all := c.String("election"), c.Bool("all")
					if (electionID == "") == !all {
						return errors.New("exactly one of --election or --all is required")
					}
					return withReconciler(c, newBackend, func(r *reconcile.Reconciler) error {
						if all {
							reports, err := r.ReconcileAll(c.Context)
							if err != nil {
								return err
							}
							return printJSON(c.App.Writer, reports)
						}
						report, err := r.Reconcile(c.Context, electionID)
						if err != nil {
							return err
						}
						return printJSON(c.App.Writer, report)
					})
				},
			},
			{
				Name:  "verify",
				Usage: "compare local tallies with the external ledger",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "election", Aliases: []string{"e"}, Usage: "election to verify", Required: true},
				},
				Action: func(c *cli.Context) error {
					return withReconciler(c, newBackend, func(r *reconcile.Reconciler) error {
						report, err := r.Verify(c.Context, c.String("election"))
						if err != nil {
							return err
						}
						if err := printJSON(c.App.Writer, report); err != nil {
							return err
						}
						if !report.InSync {
							return errOutOfSync
						}
						return nil
					})
				},
			},
			{
				Name:  "expire-invites",
				Usage: "expire pending invites past their expiry",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "election", Aliases: []string{"e"}, Usage: "limit the sweep to one election"},
				},
				Action: func(c *cli.Context) error {
					conn, err := openDB(c)
					if err != nil {
						return err
					}
					defer conn.Close()

					n, err := invites.NewLedger(conn).ExpireStale(c.Context, c.String("election"))
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, map[string]int64{"expired": n})
				},
			},
		},
	}
}

func openDB(c *cli.Context) (*sql.DB, error) {
	conn, err := db.Open(c.String("database-type"), c.String("database-url"))
	if err != nil {
		return nil, err
	}
	if err := db.CreateSchema(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// withReconciler opens the database and ledger backend for the duration of
// fn. Publications go straight to the ledger; no relay worker runs.
func withReconciler(c *cli.Context, newBackend backendFunc, fn func(*reconcile.Reconciler) error) error {
	conn, err := openDB(c)
	if err != nil {
		return err
	}
	defer conn.Close()

	backend, err := newBackend(c.Context, c.String("ledger"), relay.Config{
		RPCURL:          c.String("rpc"),
		PrivateKey:      os.Getenv("PRIVATE_KEY"),
		ContractAddress: c.String("contract"),
	})
	if err != nil {
		return err
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}

	relayer := relay.NewRelayer(conn, backend, relay.Options{})
	return fn(reconcile.New(conn, relayer, nil))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
