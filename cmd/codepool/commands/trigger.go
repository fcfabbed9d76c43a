package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTriggerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Control the reconciliation trigger",
		Long: `Toggle or inspect the scheduler rule that drives periodic reconciliation.

The engine toggles the rule automatically: on when a stack is created, off
when the pool drains. These commands exist for operators to override or
inspect that state.`,
	}

	cmd.AddCommand(newTriggerEnableCommand())
	cmd.AddCommand(newTriggerDisableCommand())
	cmd.AddCommand(newTriggerStatusCommand())

	return cmd
}

func newTriggerEnableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Enable the reconciliation trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.trigger.Enable(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Trigger enabled")
			return nil
		},
	}
}

func newTriggerDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable the reconciliation trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.trigger.Disable(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Trigger disabled")
			return nil
		},
	}
}

func newTriggerStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the trigger's current state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			state, err := rt.trigger.CurrentState(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(state, func() {
				enabled := "disabled"
				if state.Enabled {
					enabled = "enabled"
				}
				fmt.Printf("%s: %s", state.Name, enabled)
				if state.ScheduleExpression != "" {
					fmt.Printf(" (%s)", state.ScheduleExpression)
				}
				fmt.Println()
			})
		},
	}
}
