package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live status of recorded resources",
	Long: `List every recorded resource of the stack with its live status
read back from the cloud.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	recorded := store.ListStack(stack.Name)
	if len(recorded) == 0 {
		fmt.Printf("Nothing recorded for stack %s.\n", stack.Name)
		return nil
	}

	provisioner, err := newProvisioner(ctx, stack)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tID\tSTATUS")
	for _, resource := range recorded {
		status, err := provisioner.Status(ctx, &resource)
		if err != nil {
			status = fmt.Sprintf("error: %v", err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", resource.Kind, resource.Name, resource.ID, status)
	}
	return tw.Flush()
}
