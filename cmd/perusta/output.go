package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/yairfalse/perusta/executor"
	"github.com/yairfalse/perusta/policy"
	"github.com/yairfalse/perusta/types"
)

// printPlan writes the plan as a table
func printPlan(w io.Writer, plan *types.Plan) {
	fmt.Fprintf(w, "Stack %s (%s)\n\n", plan.Stack, plan.Region)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tKIND\tNAME\tREASON")
	for _, step := range plan.Steps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", step.Action, step.Kind, step.Name, step.Reason)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\nPlan: %d to create, %d to delete, %d unchanged\n",
		plan.Creates(), plan.Deletes(), plan.Skips())
}

// printResult writes per-step outcomes after a run
func printResult(w io.Writer, result *executor.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tSTATUS\tDURATION")
	for _, stepResult := range result.Results {
		line := string(stepResult.Status)
		if stepResult.Error != "" {
			line = fmt.Sprintf("%s (%s)", stepResult.Status, stepResult.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			stepResult.Step.Kind, stepResult.Step.Name, line, stepResult.Duration.Round(1e6))
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%d succeeded, %d failed, %d skipped",
		result.SuccessfulCount, result.FailedCount, result.SkippedCount)
	if result.RolledBack {
		fmt.Fprintf(w, ", %d rolled back", result.RolledBackCount)
	}
	fmt.Fprintf(w, " in %s\n", result.Duration.Round(1e6))
}

// printDenials writes policy violations
func printDenials(w io.Writer, result *policy.CheckResult) {
	fmt.Fprintln(w, "Plan blocked by policy:")
	for _, denial := range result.Denials {
		fmt.Fprintf(w, "  [%s] %s\n", denial.Policy, denial.Message)
	}
}

// confirm asks the user to type yes before proceeding
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [yes/no]: ", prompt)
	reader := bufio.NewReader(in)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(answer)) == "yes"
}
