package diag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"pushgate/pkg/logx"
)

type ExportConfig struct {
	Endpoint string
	Interval time.Duration
	Insecure bool
	Service  string
	Version  string
}

// Exporter pushes the global meter provider's metrics to an OTLP collector.
type Exporter struct {
	mp  *sdkmetric.MeterProvider
	log logx.Logger
}

// StartExporter installs an OTLP-backed meter provider as the global provider.
func StartExporter(ctx context.Context, cfg ExportConfig, log logx.Logger) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("diag: otlp endpoint is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Service == "" {
		cfg.Service = "pushgated"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("diag: metric exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.Service),
		attribute.String("service.version", cfg.Version),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.Interval))),
	)
	otel.SetMeterProvider(mp)
	log.Info("metrics export enabled", logx.String("endpoint", cfg.Endpoint), logx.Duration("interval", cfg.Interval))
	return &Exporter{mp: mp, log: log}, nil
}

func (e *Exporter) Shutdown(ctx context.Context) error {
	if e == nil || e.mp == nil {
		return nil
	}
	if err := e.mp.Shutdown(ctx); err != nil {
		e.log.Warn("metrics shutdown failed", logx.Err(err))
		return err
	}
	return nil
}
