package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"jobsched/internal/app"
	"jobsched/internal/config"
)

const stopTimeout = 15 * time.Second

func runCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until SIGINT or SIGTERM",
		Long: `Run the scheduler until SIGINT or SIGTERM.

SIGHUP reopens the log file; config changes are picked up from the file
itself without a signal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigs)

			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := a.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}

			var reason app.StopReason
		wait:
			for {
				select {
				case s := <-sigs:
					switch s {
					case syscall.SIGHUP:
						if err := a.ReopenLogs(); err != nil {
							fmt.Fprintf(cmd.ErrOrStderr(), "reopen logs: %v\n", err)
						}
						continue
					case syscall.SIGTERM:
						reason = app.StopSIGTERM
					default:
						reason = app.StopSIGINT
					}
				case <-a.Done():
					reason = app.StopFatalError
				}
				break wait
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./schedd.yaml", "path to config file (YAML or JSON)")
	return cmd
}

func validateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(cfgPath).Load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d jobs, %d batches)\n", cfgPath, len(cfg.Jobs), len(cfg.Batches))
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./schedd.yaml", "path to config file (YAML or JSON)")
	return cmd
}
