package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codepool/codepool/pkg/engine"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the code pool",
		Long: `Create the pool records in the configured store.

Every code starts out AVAILABLE. The pool's membership is fixed at
initialization: a store that already holds records is refused, because the
pool never grows or shrinks afterwards.`,
		Example: `  # Initialize with generated ids ("01".."10")
  codepool init

  # Initialize against a specific config file
  codepool init --config codepool.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			ids := rt.cfg.Pool.IDs
			if len(ids) == 0 {
				ids = engine.GenerateIDs(rt.cfg.Pool.Size)
			}
			if err := rt.pool().Initialize(cmd.Context(), ids); err != nil {
				return err
			}

			return printResult(map[string]interface{}{"initialized": len(ids), "ids": ids}, func() {
				fmt.Printf("Initialized pool with %d codes (%s..%s)\n", len(ids), ids[0], ids[len(ids)-1])
			})
		},
	}

	return cmd
}
