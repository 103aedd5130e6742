package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/perusta/executor"
	"github.com/yairfalse/perusta/planner"
)

var (
	destroyAutoApprove bool
	destroyContinue    bool
	destroyTimeout     time.Duration
)

// destroyCmd represents the destroy command
var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Tear the stack down",
	Long: `Delete every recorded resource of the stack, newest first:
the instance goes before the security group, the security group
before the role. Resources already gone are dropped from state.`,
	Example: `  perusta destroy                  # Destroy with confirmation
  perusta destroy --auto-approve   # Destroy without prompting`,
	RunE: runDestroy,
}

func init() {
	rootCmd.AddCommand(destroyCmd)

	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip the confirmation prompt")
	destroyCmd.Flags().BoolVar(&destroyContinue, "continue-on-failure", false, "Keep deleting after a failed step")
	destroyCmd.Flags().DurationVar(&destroyTimeout, "timeout", 15*time.Minute, "Overall destroy timeout")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	stack, err := loadStack()
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	walInstance, err := openWAL()
	if err != nil {
		return err
	}
	defer func() { _ = walInstance.Close() }()

	provisioner, err := newProvisioner(ctx, stack)
	if err != nil {
		return err
	}

	plan, err := planner.New(store, provisioner).PlanDestroy(ctx, stack)
	if err != nil {
		return fmt.Errorf("failed to build destroy plan: %w", err)
	}

	printPlan(os.Stdout, plan)

	if plan.IsNoop() {
		fmt.Println("\nNothing recorded for this stack.")
		return nil
	}

	if !destroyAutoApprove {
		prompt := fmt.Sprintf("\nDestroy %d resources of stack %s?", plan.Deletes(), stack.Name)
		if !confirm(os.Stdin, os.Stdout, prompt) {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	engine := executor.NewEngine(provisioner, store, walInstance, executor.Options{
		Timeout:           destroyTimeout,
		AllowDestructive:  true,
		ContinueOnFailure: destroyContinue,
	}, log.Logger)

	result, err := engine.Destroy(ctx, plan)
	if err != nil {
		return err
	}

	fmt.Println()
	printResult(os.Stdout, result)

	if result.Failed() {
		return fmt.Errorf("destroy finished with %d failed steps", result.FailedCount)
	}
	return nil
}
