package websocket

import (
	"context"

	"chat-core/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "chat-core/gateway"

type gatewayMetrics struct {
	active metric.Int64UpDownCounter
	events metric.Int64Counter
	opened metric.Int64Counter
}

// newGatewayMetrics records to provider, or to the global provider when nil.
func newGatewayMetrics(provider metric.MeterProvider) *gatewayMetrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	m := &gatewayMetrics{}

	var err error
	if m.active, err = meter.Int64UpDownCounter("gateway.connections.active",
		metric.WithDescription("Open gateway connections")); err != nil {
		logger.Warn("gateway metric: %v", err)
	}
	if m.opened, err = meter.Int64Counter("gateway.connections.total",
		metric.WithDescription("Accepted gateway connections")); err != nil {
		logger.Warn("gateway metric: %v", err)
	}
	if m.events, err = meter.Int64Counter("gateway.events.relayed",
		metric.WithDescription("Events fanned out to local connections")); err != nil {
		logger.Warn("gateway metric: %v", err)
	}
	return m
}

func (m *gatewayMetrics) connected(ctx context.Context) {
	if m.active != nil {
		m.active.Add(ctx, 1)
	}
	if m.opened != nil {
		m.opened.Add(ctx, 1)
	}
}

func (m *gatewayMetrics) disconnected(ctx context.Context) {
	if m.active != nil {
		m.active.Add(ctx, -1)
	}
}

func (m *gatewayMetrics) relayed(ctx context.Context, event string) {
	if m.events != nil {
		m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	}
}
