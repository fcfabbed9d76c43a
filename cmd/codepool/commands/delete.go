package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newDeleteCommand() *cobra.Command {
	var deleteAll bool

	cmd := &cobra.Command{
		Use:   "delete [code-id]",
		Short: "Delete the stack linked to a code",
		Long: `Request deletion of the stack linked to a code, or of every linked stack
with --all.

Deletion is asynchronous: the command initiates it and returns immediately;
the reconciler observes completion and releases the code back to AVAILABLE.
A deletion already in flight is reported, not retried. Codes mid-creation or
mid-update are refused so deletion never races another transition; with
--all those codes are skipped instead.`,
		Example: `  # Delete one code's stack
  codepool delete 03

  # Delete every linked stack
  codepool delete --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if deleteAll == (len(args) == 1) {
				return fmt.Errorf("provide exactly one code id or --all")
			}

			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if deleteAll {
				summary, err := rt.deleter().DeleteAll(cmd.Context())
				if err != nil {
					return err
				}
				return printResult(summary, func() {
					fmt.Printf("Deletion initiated for %d of %d codes (%d already deleting, %d skipped, %d failed)\n",
						summary.Initiated, summary.Total, summary.AlreadyDeleting, summary.SkippedInProgress, summary.Failed)
					ids := make([]string, 0, len(summary.Outcomes))
					for id := range summary.Outcomes {
						ids = append(ids, id)
					}
					sort.Strings(ids)
					for _, id := range ids {
						o := summary.Outcomes[id]
						fmt.Printf("  %s  %s\n", id, o.Message)
					}
				})
			}

			outcome, err := rt.deleter().DeleteOne(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(outcome, func() {
				fmt.Printf("%s: %s\n", outcome.ID, outcome.Message)
			})
		},
	}

	cmd.Flags().BoolVar(&deleteAll, "all", false, "delete every linked stack")

	return cmd
}
