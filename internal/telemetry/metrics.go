package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds scan metrics using OTEL semantic conventions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	scans        metric.Int64Counter
	scanDuration metric.Float64Histogram
	issues       metric.Int64Counter
	artifacts    metric.Int64Counter
	activeRules  metric.Int64Gauge
}

// NewMetrics creates scan metrics on meter, or on the global meter
// provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter("balscan.scan")
	}

	scans, err := meter.Int64Counter(
		"balscan.scans",
		metric.WithDescription("Number of scan runs"),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram(
		"balscan.scan.duration",
		metric.WithDescription("Duration of scan runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	issues, err := meter.Int64Counter(
		"balscan.issues",
		metric.WithDescription("Number of issues reported after filtering"),
		metric.WithUnit("{issue}"),
	)
	if err != nil {
		return nil, err
	}

	artifacts, err := meter.Int64Counter(
		"balscan.artifact.operations",
		metric.WithDescription("Artifact cache lookups and downloads"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	activeRules, err := meter.Int64Gauge(
		"balscan.rules.active",
		metric.WithDescription("Number of rules left active by the rule filter"),
		metric.WithUnit("{rule}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		scans:        scans,
		scanDuration: scanDuration,
		issues:       issues,
		artifacts:    artifacts,
		activeRules:  activeRules,
	}, nil
}

// RecordScan records a finished scan with its status.
func (m *Metrics) RecordScan(ctx context.Context, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.scans.Add(ctx, 1, attrs)
	m.scanDuration.Record(ctx, durationSeconds, attrs)
}

// RecordIssues records reported issues of one kind and source.
func (m *Metrics) RecordIssues(ctx context.Context, kind, source string, count int64) {
	if m == nil || count == 0 {
		return
	}
	m.issues.Add(ctx, count,
		metric.WithAttributes(
			attribute.String("rule.kind", kind),
			attribute.String("issue.source", source),
		),
	)
}

// RecordArtifact records a cache operation: hit, download or failure.
func (m *Metrics) RecordArtifact(ctx context.Context, operation, name string) {
	if m == nil {
		return
	}
	m.artifacts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("artifact.name", name),
		),
	)
}

// RecordActiveRules records how many rules survive filtering.
func (m *Metrics) RecordActiveRules(ctx context.Context, count int64) {
	if m == nil {
		return
	}
	m.activeRules.Record(ctx, count)
}
