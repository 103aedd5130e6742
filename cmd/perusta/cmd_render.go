package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/perusta/userdata"
)

var (
	renderAgentConfig bool
	renderOutput      string
)

// renderCmd represents the render command
var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the instance boot script",
	Long: `Render the user-data boot script the instance would run, or the
CloudWatch agent configuration embedded in it, without touching AWS.
Useful for reviewing what a stack change does to the instance.`,
	Example: `  perusta render                     # Print the boot script
  perusta render --agent-config      # Print only the agent JSON
  perusta render -o userdata.sh      # Write the script to a file`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().BoolVar(&renderAgentConfig, "agent-config", false, "Render the CloudWatch agent config instead")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "Write to a file instead of stdout")
}

func runRender(cmd *cobra.Command, args []string) error {
	stack, err := loadStack()
	if err != nil {
		return err
	}

	var rendered string
	if renderAgentConfig {
		rendered, err = userdata.RenderAgentConfig(stack)
	} else {
		rendered, err = userdata.RenderBootScript(stack)
	}
	if err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if renderOutput == "" {
		fmt.Print(rendered)
		return nil
	}
	return os.WriteFile(renderOutput, []byte(rendered), 0o644)
}
