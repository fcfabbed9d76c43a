package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codepool/codepool/pkg/engine"
)

func newAllocateCommand() *cobra.Command {
	var (
		count int
		ids   []string
	)

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate codes and create their stacks",
		Long: `Assign available codes to a new batch and create one stack per code.

Codes are taken in ascending id order unless --ids names an explicit
selection. Creation is sequential; a failed creation releases its code back
to AVAILABLE, and when more than half the batch fails the remainder is
aborted. The reconciliation trigger is enabled after the first successful
creation.`,
		Example: `  # Allocate three codes
  codepool allocate --count 3

  # Allocate specific codes
  codepool allocate --ids 02,05`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			n := count
			if len(ids) > 0 {
				n = len(ids)
			}
			result, err := rt.allocator().Allocate(cmd.Context(), n, ids)
			if err != nil && result == nil {
				return err
			}

			printErr := printResult(result, func() {
				fmt.Printf("Batch %s: %d/%d created\n", result.BatchID, result.Succeeded(), len(result.AssignedIDs))
				for _, o := range result.Outcomes {
					if o.Status == engine.StatusCreatePending {
						fmt.Printf("  %s  %s  %s\n", o.ID, o.Status, o.ResourceName)
					} else {
						fmt.Printf("  %s  %s  %s\n", o.ID, o.Status, o.Reason)
					}
				}
				if result.TriggerEnable.Attempted && result.TriggerEnable.Err != nil {
					fmt.Println("  warning: reconciliation trigger could not be enabled")
				}
			})
			if err != nil {
				// Partial failure: the result above already names the failed
				// codes, so surface the batch error as the exit status.
				return errors.Join(err, printErr)
			}
			return printErr
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of codes to allocate")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "explicit code ids to allocate (overrides --count)")

	return cmd
}
