package coordinator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cartsync/internal/model"
	"cartsync/internal/telemetry"
)

const meterName = "cartsync/coordinator"

// Mutation outcomes recorded on cart.mutations.
const (
	outcomeConfirmed  = "confirmed"
	outcomeRolledBack = "rolled_back"
	outcomeKept       = "kept"
	outcomeSuperseded = "superseded"
)

type metrics struct {
	mutations metric.Int64Counter
	rollbacks metric.Int64Counter
	stale     metric.Int64Counter
	duration  metric.Float64Histogram
}

// newMetrics creates the coordinator instruments. Creation failures are
// logged once; the otel API still hands back usable instruments.
func newMetrics(meter metric.Meter, logger *slog.Logger) *metrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &metrics{}
	var errs [4]error
	m.mutations, errs[0] = meter.Int64Counter("cart.mutations",
		metric.WithDescription("Optimistic cart mutations by kind and outcome"))
	m.rollbacks, errs[1] = meter.Int64Counter("cart.rollbacks",
		metric.WithDescription("Predictions rolled back by error kind"))
	m.stale, errs[2] = meter.Int64Counter("cart.stale_responses",
		metric.WithDescription("Platform responses discarded because a newer call or mutation overtook them"))
	m.duration, errs[3] = meter.Float64Histogram("cart.mutation.duration",
		metric.WithDescription("Time from prediction to resolution"),
		metric.WithUnit("ms"))
	_ = telemetry.ReportInstrumentErrors(logger, meterName, errs[:]...)
	return m
}

func (m *metrics) record(kind, outcome string, err error, started time.Time) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.mutations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(time.Since(started).Microseconds())/1000, attrs)

	switch outcome {
	case outcomeRolledBack:
		m.rollbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("error_kind", string(model.KindOf(err))),
		))
	case outcomeSuperseded:
		m.stale.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}
