package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/types"
)

// Created carries the resources provisioned so far in a run, keyed by
// kind, so later steps can reference earlier ones (the instance needs
// the security group ID and profile name, the DNS record needs the
// instance public IP).
type Created map[types.Kind]*types.Resource

// StackProvisioner provisions and tears down the resources of one stack.
type StackProvisioner interface {
	// Create provisions the resource of the given kind for the stack.
	Create(ctx context.Context, stack *config.Stack, kind types.Kind, prior Created) (*types.Resource, error)

	// Delete removes a previously provisioned resource.
	Delete(ctx context.Context, resource *types.Resource) error

	// Exists checks whether a recorded resource is still present.
	Exists(ctx context.Context, resource *types.Resource) (bool, error)

	// Status returns the live status string for a recorded resource.
	Status(ctx context.Context, resource *types.Resource) (string, error)

	// Provider info
	Name() string
	Region() string
	AccountID() string
}

// LogEvent is one log line read back from the cloud
type LogEvent struct {
	Stream    string
	Message   string
	Timestamp time.Time
}

// LogTailer reads recent log events from a log group. Provisioners
// that support log tailing implement it alongside StackProvisioner.
type LogTailer interface {
	TailLogs(ctx context.Context, group string, since time.Time) ([]LogEvent, error)
}

// ProviderConfig holds provider configuration
type ProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// ProviderFactory creates a provisioner instance
type ProviderFactory func(ctx context.Context, config ProviderConfig) (StackProvisioner, error)

// Registry of available providers
var providers = make(map[string]ProviderFactory)

// RegisterProvider registers a new provider factory
func RegisterProvider(name string, factory ProviderFactory) {
	providers[name] = factory
}

// GetProvider creates a provisioner instance by name
func GetProvider(ctx context.Context, name string, config ProviderConfig) (StackProvisioner, error) {
	factory, exists := providers[name]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", name)
	}
	return factory(ctx, config)
}

// ListProviders returns available provider names
func ListProviders() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	return names
}
