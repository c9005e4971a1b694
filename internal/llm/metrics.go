package llm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const costMeterName = "github.com/dossier-io/dossier/internal/llm"

var (
	costRequestHistogram  metric.Float64Histogram
	costMetricsOnce       sync.Once
	costMetricsRegistered bool
)

func initCostMetrics() {
	meter := otel.Meter(costMeterName)
	var err error
	costRequestHistogram, err = meter.Float64Histogram(
		"dossier.cost.request",
		metric.WithDescription("Cost in EUR per hosted model invocation"),
		metric.WithUnit("eur"),
	)
	if err != nil {
		return
	}
	costMetricsRegistered = true
}

// RecordCostMetrics records cost per invocation. Attributes org, model, and
// escalated allow filtering in observability backends.
func RecordCostMetrics(ctx context.Context, costEUR float64, orgID, model string, escalated bool) {
	costMetricsOnce.Do(initCostMetrics)
	if !costMetricsRegistered {
		return
	}
	costRequestHistogram.Record(ctx, costEUR, metric.WithAttributes(
		attribute.String("org", orgID),
		attribute.String("model", model),
		attribute.Bool("escalated", escalated),
	))
}
