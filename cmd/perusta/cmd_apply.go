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
	applyDryRun      bool
	applyAutoApprove bool
	applyRollback    bool
	applyContinue    bool
	applyTimeout     time.Duration
)

// applyCmd represents the apply command
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Provision the stack",
	Long: `Build the plan, check it against policy, and execute it.
Resources that already exist are left alone, so re-applying a
healthy stack is a no-op.`,
	Example: `  perusta apply                          # Apply stack.yaml
  perusta apply --auto-approve           # Skip the confirmation prompt
  perusta apply --rollback-on-failure    # Undo this run's creations on failure
  perusta apply --dry-run                # Walk the plan without touching AWS`,
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Walk the plan without creating anything")
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip the confirmation prompt")
	applyCmd.Flags().BoolVar(&applyRollback, "rollback-on-failure", false, "Delete this run's creations if a step fails")
	applyCmd.Flags().BoolVar(&applyContinue, "continue-on-failure", false, "Keep going after a failed step")
	applyCmd.Flags().DurationVar(&applyTimeout, "timeout", 15*time.Minute, "Overall apply timeout")
}

func runApply(cmd *cobra.Command, args []string) error {
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

	plan, err := planner.New(store, provisioner).PlanApply(ctx, stack)
	if err != nil {
		return fmt.Errorf("failed to build plan: %w", err)
	}

	printPlan(os.Stdout, plan)

	if plan.IsNoop() || plan.Creates() == 0 {
		fmt.Println("\nNothing to do.")
		return nil
	}

	guard, err := newPolicyEngine(ctx)
	if err != nil {
		return err
	}
	check, err := guard.Check(ctx, stack, plan)
	if err != nil {
		return err
	}
	if !check.Allowed {
		printDenials(os.Stderr, check)
		return fmt.Errorf("plan denied by policy")
	}

	if !applyAutoApprove && !applyDryRun {
		if !confirm(os.Stdin, os.Stdout, "\nApply these changes?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	tel, err := newTelemetry(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(ctx) }()

	engine := executor.NewEngine(provisioner, store, walInstance, executor.Options{
		DryRun:            applyDryRun,
		Timeout:           applyTimeout,
		ContinueOnFailure: applyContinue,
		RollbackOnFailure: applyRollback,
	}, log.Logger)

	spanCtx, span := tel.StartSpan(ctx, "apply")
	result, err := engine.Apply(spanCtx, stack, plan)
	span.End()
	if err != nil {
		return err
	}

	tel.RecordApplyDuration(ctx, stack.Name, stack.Region, result.Duration)
	tel.RecordResourcesProvisioned(ctx, stack.Name, stack.Region, result.SuccessfulCount)
	for _, stepResult := range result.Results {
		if stepResult.Status == executor.StatusFailed {
			tel.RecordProvisionError(ctx, stack.Name, stack.Region, string(stepResult.Step.Kind))
		}
	}

	fmt.Println()
	printResult(os.Stdout, result)

	if result.Failed() {
		return fmt.Errorf("apply finished with %d failed steps", result.FailedCount)
	}
	return nil
}
