package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [code-id]",
		Short: "Show deletion progress",
		Long: `Project deletion progress for one code, or for every code without an
argument.

The projection is read-only and safe to poll: it reports the stored
lifecycle state with a fixed human-readable message and a completion flag.`,
		Example: `  # Progress of one code
  codepool status 03

  # Progress of the whole pool
  codepool status`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if len(args) == 1 {
				status, err := rt.deleter().Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printResult(status, func() {
					fmt.Printf("%s  %s  %s\n", status.ID, status.Status, status.Progress)
				})
			}

			all, err := rt.deleter().StatusAll(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(all, func() {
				ids := make([]string, 0, len(all))
				for id := range all {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					s := all[id]
					fmt.Printf("%s  %-18s  %s\n", s.ID, s.Status, s.Progress)
				}
			})
		},
	}

	return cmd
}
