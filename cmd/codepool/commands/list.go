package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codepool/codepool/pkg/engine"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the pool's codes",
		Long: `Render the pool read model: one line per code with its link state,
lifecycle status, and stack name, followed by availability counts.`,
		Example: `  codepool list
  codepool list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			pool := rt.pool()
			codes, err := pool.ListAllCodes(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := pool.Counts(cmd.Context())
			if err != nil {
				return err
			}

			type listing struct {
				Codes  []engine.CodeSummary `json:"codes"`
				Counts *engine.PoolCounts   `json:"counts"`
			}
			return printResult(listing{Codes: codes, Counts: counts}, func() {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tLINKED\tSTATUS\tSTACK")
				for _, c := range codes {
					linked := "-"
					if c.Linked {
						linked = "yes"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, linked, c.Status, c.ResourceName)
				}
				w.Flush()
				fmt.Printf("\n%d total, %d available, %d linked\n", counts.Total, counts.Available, counts.Linked)
			})
		},
	}

	return cmd
}
