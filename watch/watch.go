// Package watch polls a provisioned stack: instance state, resource
// status, and the tail of its CloudWatch log group. Metrics are served
// on a Prometheus endpoint while the watcher runs.
package watch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/providers"
	"github.com/yairfalse/perusta/state"
	"github.com/yairfalse/perusta/telemetry"
	"github.com/yairfalse/perusta/types"
)

// Config holds watcher configuration
type Config struct {
	Interval    time.Duration
	MetricsAddr string
}

// Watcher polls stack resources on an interval
type Watcher struct {
	store       *state.Store
	provisioner providers.StackProvisioner
	tailer      providers.LogTailer
	metrics     *Metrics
	logger      *telemetry.Logger
	config      Config
	lastTail    time.Time
}

// New creates a watcher. The tailer may be nil when the provisioner
// cannot read logs back.
func New(store *state.Store, provisioner providers.StackProvisioner, tailer providers.LogTailer, cfg Config) (*Watcher, error) {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}

	// Bridge OTEL metrics into the registry promhttp serves
	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter)))

	metrics, err := NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create watch metrics: %w", err)
	}

	return &Watcher{
		store:       store,
		provisioner: provisioner,
		tailer:      tailer,
		metrics:     metrics,
		logger:      telemetry.NewLogger("watch"),
		config:      cfg,
		lastTail:    time.Now(),
	}, nil
}

// Run polls until the context is cancelled, serving metrics alongside
func (w *Watcher) Run(ctx context.Context, stack *config.Stack) error {
	var group run.Group

	pollCtx, cancel := context.WithCancel(ctx)
	group.Add(func() error {
		return w.pollLoop(pollCtx, stack)
	}, func(error) {
		cancel()
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: w.config.MetricsAddr, Handler: mux}
	group.Add(func() error {
		w.logger.Info().Str("addr", w.config.MetricsAddr).Msg("starting metrics server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	})

	return group.Run()
}

// pollLoop polls immediately and then on the interval
func (w *Watcher) pollLoop(ctx context.Context, stack *config.Stack) error {
	w.poll(ctx, stack)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll(ctx, stack)
		}
	}
}

// poll reports the status of every recorded resource and tails logs
func (w *Watcher) poll(ctx context.Context, stack *config.Stack) {
	w.metrics.RecordPoll(ctx, stack.Name)

	for _, resource := range w.store.ListStack(stack.Name) {
		status, err := w.provisioner.Status(ctx, &resource)
		if err != nil {
			w.metrics.RecordPollError(ctx, stack.Name)
			w.logger.WithContext(ctx).Error().Err(err).
				Str("kind", string(resource.Kind)).
				Str("id", resource.ID).
				Msg("status check failed")
			continue
		}

		w.logger.WithContext(ctx).Info().
			Str("kind", string(resource.Kind)).
			Str("name", resource.Name).
			Str("status", status).
			Msg("resource status")

		if resource.Kind == types.KindInstance {
			w.metrics.RecordInstanceUp(ctx, stack.Name, strings.HasPrefix(status, "running"))
		}
	}

	w.tail(ctx, stack)
}

// tail reads log events since the last poll
func (w *Watcher) tail(ctx context.Context, stack *config.Stack) {
	if w.tailer == nil {
		return
	}

	since := w.lastTail
	events, err := w.tailer.TailLogs(ctx, stack.Logging.Group, since)
	if err != nil {
		w.metrics.RecordPollError(ctx, stack.Name)
		w.logger.WithContext(ctx).Error().Err(err).
			Str("group", stack.Logging.Group).
			Msg("log tail failed")
		return
	}

	for _, event := range events {
		w.logger.WithContext(ctx).Info().
			Str("stream", event.Stream).
			Time("event_time", event.Timestamp).
			Msg(event.Message)
		if event.Timestamp.After(w.lastTail) {
			w.lastTail = event.Timestamp.Add(time.Millisecond)
		}
	}

	w.metrics.RecordLogEvents(ctx, stack.Name, len(events))
}
