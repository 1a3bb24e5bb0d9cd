package exporters

import (
	"context"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"

	"smallbiznis-rewardclaim/pkg/config"
)

// NewMetricExporter pushes metrics over OTLP/HTTP regardless of the span
// exporter transport.
func NewMetricExporter(cfg *config.Config) (*otlpmetrichttp.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression),
	}
	if cfg.Otel.MetricEndpoint != "" {
		opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Otel.MetricEndpoint))
	}
	if cfg.Otel.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	return otlpmetrichttp.New(ctx, opts...)
}
