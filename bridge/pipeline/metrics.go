package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/pipeline"

type instruments struct {
	tracer     trace.Tracer
	quotes     metric.Int64Counter
	executions metric.Int64Counter
	duration   metric.Float64Histogram
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)

	quotes, err := meter.Int64Counter("bridge_quotes_total",
		metric.WithDescription("Bridge quote requests by outcome"))
	if err != nil {
		return nil, err
	}
	executions, err := meter.Int64Counter("bridge_executions_total",
		metric.WithDescription("Bridge executions by outcome and failure kind"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("bridge_execution_seconds",
		metric.WithDescription("Wall time of a bridge execution, including finality"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &instruments{
		tracer:     otel.Tracer(instrumentationName),
		quotes:     quotes,
		executions: executions,
		duration:   duration,
	}, nil
}

func (i *instruments) recordQuote(ctx context.Context, outcome string) {
	i.quotes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (i *instruments) recordExecution(ctx context.Context, outcome, kind string, started time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("kind", kind),
	)
	i.executions.Add(ctx, 1, attrs)
	i.duration.Record(ctx, time.Since(started).Seconds(), attrs)
}
