package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments recorded by the sign in flows and
// token lifecycle operations.
type Metrics struct {
	// FlowsStarted counts sign in attempts, by delivery channel.
	FlowsStarted metric.Int64Counter

	// FlowsCompleted counts settled sign in attempts, by result.
	FlowsCompleted metric.Int64Counter

	// FlowsSuperseded counts attempts displaced by a newer one.
	FlowsSuperseded metric.Int64Counter

	// TokenRequests counts calls to the provider's token endpoint, by
	// grant type and result.
	TokenRequests metric.Int64Counter

	// TokenRequestDuration measures token endpoint round trip times.
	TokenRequestDuration metric.Float64Histogram
}

// NewMetrics registers the instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.FlowsStarted, err = meter.Int64Counter(
		"chainauth.flows.started",
		metric.WithDescription("Number of sign in attempts started."),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create flows started counter: %w", err)
	}

	m.FlowsCompleted, err = meter.Int64Counter(
		"chainauth.flows.completed",
		metric.WithDescription("Number of sign in attempts that settled."),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create flows completed counter: %w", err)
	}

	m.FlowsSuperseded, err = meter.Int64Counter(
		"chainauth.flows.superseded",
		metric.WithDescription("Number of sign in attempts displaced by a newer attempt."),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create flows superseded counter: %w", err)
	}

	m.TokenRequests, err = meter.Int64Counter(
		"chainauth.token.requests",
		metric.WithDescription("Number of token endpoint requests."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create token requests counter: %w", err)
	}

	m.TokenRequestDuration, err = meter.Float64Histogram(
		"chainauth.token.request.duration",
		metric.WithDescription("Token endpoint request duration."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create token request duration histogram: %w", err)
	}

	return m, nil
}

// RecordFlowStarted records the start of a sign in attempt on the given
// delivery channel. Safe to call on a nil receiver.
func (m *Metrics) RecordFlowStarted(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	m.FlowsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
	))
}

// RecordFlowCompleted records a settled sign in attempt. The result is
// "ok" for a successful authorization, "error" otherwise. Safe to call on
// a nil receiver.
func (m *Metrics) RecordFlowCompleted(ctx context.Context, channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FlowsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("result", result),
	))
}

// RecordFlowSuperseded records an attempt displaced by a newer one. Safe
// to call on a nil receiver.
func (m *Metrics) RecordFlowSuperseded(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	m.FlowsSuperseded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
	))
}

// RecordTokenRequest records one round trip to the provider's token
// endpoint. Safe to call on a nil receiver.
func (m *Metrics) RecordTokenRequest(ctx context.Context, grantType string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("result", result),
	)
	m.TokenRequests.Add(ctx, 1, attrs)
	m.TokenRequestDuration.Record(ctx, duration.Seconds(), attrs)
}
