package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"lifeauto/internal/app"
	"lifeauto/internal/routines"
	logx "lifeauto/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, the HTTP API and the in-process scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(opts.configPath)
		},
	}
}

func runServe(cfgPath string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	log := a.Logger()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.Start(context.Background()); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("systemd.notify_failed", logx.Err(err))
	} else if ok {
		log.Debug("systemd.ready")
	}

	var reason app.StopReason
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}
	fatal := a.Err()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil && fatal == nil {
		return err
	}
	return fatal
}

func newTickCommand(opts *rootOptions) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduled pass and wait for its actions",
		Long: `Run one scheduled pass: every enabled routine with a SCHEDULED_TIME
trigger due in the current minute fires once. Meant for an external cron
that runs the process instead of calling the HTTP endpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t
			}
			a, err := app.New(opts.configPath)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rep, tickErr := a.Tick(ctx, now)
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			stopErr := a.Close(stopCtx)
			if tickErr != nil {
				return tickErr
			}
			if err := printJSON(cmd, rep); err != nil {
				return err
			}
			return stopErr
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this RFC3339 time instead of now")
	return cmd
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var userID, file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Install the default routines (or a routines file) for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID = strings.TrimSpace(userID)
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			a, err := app.New(opts.configPath)
			if err != nil {
				return err
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			defer func() { _ = a.Close(stopCtx) }()

			var res app.SeedResult
			if file == "" {
				res, err = a.Seed(cmd.Context(), userID)
			} else {
				recs, lerr := routines.LoadFile(file)
				if lerr != nil {
					return lerr
				}
				for i := range recs {
					recs[i].UserID = userID
				}
				res, err = a.Install(cmd.Context(), recs)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id that owns the routines")
	cmd.Flags().StringVar(&file, "file", "", "routines file (yaml or json); defaults to the built-in set")
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <routines-file>",
		Short: "Check a routines file without installing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := routines.LoadFile(args[0])
			if err != nil {
				return err
			}
			if err := routines.Check(recs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d routine(s) ok\n", args[0], len(recs))
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
