package commands

import (
	"time"

	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run reconciliation on a local interval",
		Long: `Run reconciliation passes continuously until interrupted.

This replaces the scheduler trigger for local development and for
deployments without one: one pass runs immediately, then one per interval.
The metrics endpoint is served when enabled in the configuration.`,
		Example: `  # Reconcile every five minutes (config default)
  codepool serve

  # Tighter loop against a local emulator
  codepool serve --interval 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if interval <= 0 {
				interval = rt.cfg.Reconcile.Interval.Std()
			}
			logger := rt.tel.Logger.NewComponentLogger("serve")
			if err := rt.tel.StartMetricsServer(); err != nil {
				return err
			}

			reconciler := rt.reconciler()
			runPass := func() {
				summary, err := reconciler.Run(cmd.Context())
				if err != nil {
					logger.WithError(err).Error("reconcile pass failed")
					return
				}
				logger.WithField("processed", summary.Processed).
					WithField("failed", len(summary.Errors)).
					WithField("remaining", summary.Remaining).
					Info("reconcile pass finished")
			}

			logger.WithField("interval", interval.String()).Info("starting reconcile loop")
			runPass()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					logger.Info("shutting down")
					return nil
				case <-ticker.C:
					runPass()
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "time between passes (defaults to the configured interval)")

	return cmd
}
