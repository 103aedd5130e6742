package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderNoExporter(t *testing.T) {
	ctx := context.Background()

	provider, err := NewProvider(ctx, Config{ServiceName: "perusta-test"})
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(ctx) }()

	assert.NotNil(t, provider.Tracer())
	assert.NotNil(t, provider.Meter())

	spanCtx, span := provider.StartSpan(ctx, "test-span")
	assert.NotNil(t, spanCtx)
	span.End()

	// Metric recording should not panic without an exporter
	provider.RecordApplyDuration(ctx, "webstack", "us-east-1", 2*time.Second)
	provider.RecordResourcesProvisioned(ctx, "webstack", "us-east-1", 6)
	provider.RecordProvisionError(ctx, "webstack", "us-east-1", "instance")
}

func TestNewProviderDefaults(t *testing.T) {
	ctx := context.Background()

	provider, err := NewProvider(ctx, Config{})
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(ctx) }()

	assert.NotNil(t, provider.tracer)
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test")
	require.NotNil(t, logger)

	ctxLogger := logger.WithContext(context.Background())
	assert.NotNil(t, ctxLogger)
	ctxLogger.Debug().Msg("context logger works")
}
