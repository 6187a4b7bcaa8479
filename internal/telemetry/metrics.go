package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName scopes every instrument this service records
const MeterName = "github.com/astrodesk/sessiongate"

// Metrics records auth outcomes. It satisfies the observer interfaces of the
// guard, the session manager and the audit recorder.
type Metrics struct {
	decisions     metric.Int64Counter
	created       metric.Int64Counter
	revoked       metric.Int64Counter
	auditFailures metric.Int64Counter
}

// NewMetrics creates the instruments on provider's meter
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(MeterName)

	decisions, err := meter.Int64Counter("sessiongate.guard.decisions",
		metric.WithDescription("Guard decisions by outcome, class and category"))
	if err != nil {
		return nil, err
	}
	created, err := meter.Int64Counter("sessiongate.sessions.created",
		metric.WithDescription("Sessions created, split by whether a device session was superseded"))
	if err != nil {
		return nil, err
	}
	revoked, err := meter.Int64Counter("sessiongate.sessions.revoked",
		metric.WithDescription("Sessions revoked by logout or forced sign-out"))
	if err != nil {
		return nil, err
	}
	auditFailures, err := meter.Int64Counter("sessiongate.audit.write_failures",
		metric.WithDescription("Auth events that could not be persisted"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		decisions:     decisions,
		created:       created,
		revoked:       revoked,
		auditFailures: auditFailures,
	}, nil
}

func (m *Metrics) GuardDecision(ctx context.Context, allowed bool, class, category string) {
	if allowed {
		m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "allowed")))
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", "denied"),
		attribute.String("class", class),
		attribute.String("category", category),
	))
}

func (m *Metrics) SessionCreated(ctx context.Context, superseded bool) {
	m.created.Add(ctx, 1, metric.WithAttributes(attribute.Bool("superseded", superseded)))
}

func (m *Metrics) SessionsRevoked(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	m.revoked.Add(ctx, int64(count))
}

func (m *Metrics) AuditWriteFailed(ctx context.Context, eventType string) {
	m.auditFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
