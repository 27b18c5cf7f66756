package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects what the metrics pipeline exports.
type Config struct {
	ServiceName    string
	RuntimeMetrics bool
}

// Bundle owns the meter provider and the registry behind /metrics.
type Bundle struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
	logger   zerolog.Logger
}

type otelErrorHandler struct {
	logger zerolog.Logger
}

func (h otelErrorHandler) Handle(err error) {
	if err == nil {
		return
	}
	h.logger.Warn().Err(err).Msg("telemetry.exporter.error")
}

// Setup builds a Prometheus-backed meter provider and installs it as the
// global provider so otel.Meter calls elsewhere record into it.
func Setup(ctx context.Context, cfg Config, logger zerolog.Logger) (*Bundle, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "serial-reservation"
	}
	logger = logger.With().Str("component", "telemetry").Logger()

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceName(name)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	exporterOpts := []otelprometheus.Option{otelprometheus.WithRegisterer(registry)}
	if cfg.RuntimeMetrics {
		exporterOpts = append(exporterOpts, otelprometheus.WithProducer(otelruntime.NewProducer()))
	}
	exporter, err := otelprometheus.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	if cfg.RuntimeMetrics {
		if err := otelruntime.Start(otelruntime.WithMeterProvider(provider)); err != nil {
			_ = provider.Shutdown(ctx)
			return nil, fmt.Errorf("telemetry: runtime metrics: %w", err)
		}
	}

	otel.SetMeterProvider(provider)
	otel.SetErrorHandler(otelErrorHandler{logger: logger})
	logger.Info().Str("service", name).Bool("runtime_metrics", cfg.RuntimeMetrics).Msg("telemetry.metrics.enabled")
	return &Bundle{provider: provider, registry: registry, logger: logger}, nil
}

// Handler serves the Prometheus exposition format.
func (b *Bundle) Handler() http.Handler {
	if b == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (b *Bundle) Shutdown(ctx context.Context) error {
	if b == nil || b.provider == nil {
		return nil
	}
	if err := b.provider.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Warn().Err(err).Msg("telemetry.shutdown.metric_failure")
		return fmt.Errorf("metric shutdown: %w", err)
	}
	return nil
}
