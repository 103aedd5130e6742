package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/perusta/providers"
	"github.com/yairfalse/perusta/watch"
)

var (
	watchInterval    time.Duration
	watchMetricsAddr string
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the running stack",
	Long: `Poll the stack's resources on an interval, tail the CloudWatch
log group, and serve Prometheus metrics while running. Stops on
SIGINT or SIGTERM.`,
	Example: `  perusta watch                         # Poll every 30s, metrics on :9090
  perusta watch --interval 10s
  perusta watch --metrics 127.0.0.1:9091`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchInterval, "interval", 30*time.Second, "Poll interval")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics", ":9090", "Metrics server address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	// The AWS provisioner can read logs back; others may not
	tailer, _ := provisioner.(providers.LogTailer)

	watcher, err := watch.New(store, provisioner, tailer, watch.Config{
		Interval:    watchInterval,
		MetricsAddr: watchMetricsAddr,
	})
	if err != nil {
		return err
	}

	return watcher.Run(ctx, stack)
}
