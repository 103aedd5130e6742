package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/policy"
	"github.com/yairfalse/perusta/providers"
	_ "github.com/yairfalse/perusta/providers/aws"
	"github.com/yairfalse/perusta/state"
	"github.com/yairfalse/perusta/telemetry"
	"github.com/yairfalse/perusta/wal"
)

var (
	version = "0.1.0"

	stackPath    string
	dataDir      string
	policyDir    string
	otelEndpoint string
	debug        bool

	rootCmd = &cobra.Command{
		Use:   "perusta",
		Short: "Single-VM web stack provisioner",
		Long: `Perusta - Single-VM Web Stack Provisioner

Perusta provisions a complete single-VM web stack on AWS from one
YAML file: an EC2 instance running nginx with a static site, an IAM
role wired to CloudWatch, a log group receiving nginx and boot logs,
and the security group around it. Optional extras: an S3-hosted site
archive and a Route53 record pointing at the instance.

Applies are idempotent and recorded, so re-running converges the
stack instead of duplicating it.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		},
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Perusta {{.Version}} - Single-VM Web Stack Provisioner
`)
	rootCmd.PersistentFlags().StringVarP(&stackPath, "stack", "s", "stack.yaml", "Path to the stack file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", ".perusta", "Directory for state and write-ahead log")
	rootCmd.PersistentFlags().StringVar(&policyDir, "policy-dir", "", "Directory with extra .rego policies")
	rootCmd.PersistentFlags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP gRPC endpoint for traces and metrics")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// loadStack reads and validates the stack file
func loadStack() (*config.Stack, error) {
	stack, err := config.Load(stackPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load stack %s: %w", stackPath, err)
	}
	return stack, nil
}

// openStore opens the state store under the data dir
func openStore() (*state.Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dataDir, err)
	}
	return state.Open(dataDir)
}

// openWAL opens the write-ahead log under the data dir
func openWAL() (*wal.WAL, error) {
	walDir := filepath.Join(dataDir, "wal")
	if err := os.MkdirAll(walDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create wal dir %s: %w", walDir, err)
	}
	return wal.Open(walDir)
}

// newProvisioner builds the cloud provisioner for the stack's region
func newProvisioner(ctx context.Context, stack *config.Stack) (providers.StackProvisioner, error) {
	return providers.GetProvider(ctx, "aws", providers.ProviderConfig{Region: stack.Region})
}

// newPolicyEngine loads the builtin guardrails plus any extra policies
func newPolicyEngine(ctx context.Context) (*policy.Engine, error) {
	engine := policy.NewEngine()
	if err := engine.LoadBuiltin(ctx); err != nil {
		return nil, err
	}
	if policyDir != "" {
		if err := engine.LoadDir(ctx, policyDir); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// newTelemetry sets up tracing and metrics export
func newTelemetry(ctx context.Context) (*telemetry.Provider, error) {
	return telemetry.NewProvider(ctx, telemetry.Config{
		Endpoint:    otelEndpoint,
		Insecure:    true,
		ServiceName: "perusta",
	})
}
