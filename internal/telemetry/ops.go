package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder counts engine operations for the serving adapters. All instruments
// come from the global meter provider, so a disabled provider makes every
// call a no-op.
type Recorder struct {
	ops  metric.Int64Counter
	dur  metric.Float64Histogram
	errs metric.Int64Counter
}

// NewRecorder builds the operation instruments in the given scope
func NewRecorder(scope string) *Recorder {
	m := Meter(scope)
	ops, _ := m.Int64Counter("filigree.operations",
		metric.WithDescription("Engine operations executed"))
	dur, _ := m.Float64Histogram("filigree.operation.duration",
		metric.WithDescription("Engine operation duration in milliseconds"),
		metric.WithUnit("ms"))
	errs, _ := m.Int64Counter("filigree.operation.errors",
		metric.WithDescription("Engine operations that returned an error"))
	return &Recorder{ops: ops, dur: dur, errs: errs}
}

// Observe records one operation with its duration and outcome
func (r *Recorder) Observe(ctx context.Context, op string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	r.ops.Add(ctx, 1, attrs)
	r.dur.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	if err != nil {
		r.errs.Add(ctx, 1, attrs)
	}
}
