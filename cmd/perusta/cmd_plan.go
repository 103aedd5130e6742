package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/perusta/planner"
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what apply would change",
	Long: `Diff the stack file against recorded state and the cloud,
and print the steps an apply would run. Nothing is changed.`,
	Example: `  perusta plan                        # Plan the default stack.yaml
  perusta plan --stack prod.yaml      # Plan another stack file`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
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

	provisioner, err := newProvisioner(ctx, stack)
	if err != nil {
		return err
	}

	plan, err := planner.New(store, provisioner).PlanApply(ctx, stack)
	if err != nil {
		return fmt.Errorf("failed to build plan: %w", err)
	}

	printPlan(os.Stdout, plan)

	engine, err := newPolicyEngine(ctx)
	if err != nil {
		return err
	}
	check, err := engine.Check(ctx, stack, plan)
	if err != nil {
		return err
	}
	if !check.Allowed {
		fmt.Println()
		printDenials(os.Stdout, check)
	}

	return nil
}
