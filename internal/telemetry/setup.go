// Package telemetry wires the OpenTelemetry meter provider and the auth
// counters recorded by the guard, the session manager and the audit recorder.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"github.com/astrodesk/sessiongate/internal/config"
)

// Provider owns the meter provider and its shutdown
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Shutdown      func(context.Context) error
}

// NewProvider exports metrics over OTLP gRPC when an endpoint is configured;
// otherwise metrics are recorded in-process and never exported.
func NewProvider(ctx context.Context, cfg *config.TelemetryConfig) (*Provider, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		mp := sdkmetric.NewMeterProvider()
		return &Provider{MeterProvider: mp, Shutdown: mp.Shutdown}, nil
	}

	target, insecure, err := grpcTarget(endpoint, cfg.Insecure)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(target)}
	if insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	return &Provider{MeterProvider: mp, Shutdown: mp.Shutdown}, nil
}

// SetGlobal makes the provider the process-wide meter provider
func (p *Provider) SetGlobal() {
	otel.SetMeterProvider(p.MeterProvider)
}

// grpcTarget reduces an endpoint URL to host:port. Plain http and bare
// host:port endpoints are insecure.
func grpcTarget(endpoint string, insecureOverride bool) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return u.Host, insecureOverride || u.Scheme != "https", nil
}
