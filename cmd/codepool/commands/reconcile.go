package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReconcileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass",
		Long: `Compare every linked code against the resource manager and correct drift.

Each record is handled independently: a stack's observed status overwrites
the stored one, deleted stacks release their code back to AVAILABLE, and a
record whose stack has vanished is reset. When the pass leaves nothing
linked, the scheduler trigger is disabled. A failing record never aborts the
pass; its error is reported in the summary.`,
		Example: `  # One pass, human-readable summary
  codepool reconcile

  # One pass, machine-readable
  codepool reconcile --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			summary, err := rt.reconciler().Run(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(summary, func() {
				fmt.Printf("Reconciled %d codes: %d ok, %d failed, %d still linked\n",
					summary.Processed, summary.Succeeded, len(summary.Errors), summary.Remaining)
				for _, re := range summary.Errors {
					fmt.Printf("  %s: %s\n", re.ID, re.Err)
				}
				if summary.TriggerDisable.Attempted {
					if summary.TriggerDisable.Err != nil {
						fmt.Println("  warning: trigger could not be disabled")
					} else {
						fmt.Println("  pool drained, trigger disabled")
					}
				}
			})
		},
	}

	return cmd
}
