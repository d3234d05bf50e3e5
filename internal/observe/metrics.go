// internal/observe/metrics.go

// Package observe builds the logger and OpenTelemetry metrics used by the
// detection pipeline. Metrics are exported through a Prometheus bridge set up
// by [InitProvider]; tests should call [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ColonelBlimp/notedetect"

// Metrics holds the instruments recorded by the engine. Safe for concurrent use.
type Metrics struct {
	// Frames counts every frame handed to the engine.
	Frames metric.Int64Counter

	// PitchedFrames counts frames for which the estimator produced a frequency
	// inside the configured key range.
	PitchedFrames metric.Int64Counter

	// Notes counts confirmed NoteDetected events. Use with attribute:
	//   attribute.String("note", ...)
	Notes metric.Int64Counter

	// Silences counts SilenceDetected events.
	Silences metric.Int64Counter

	// EstimateDuration tracks time spent in one pitch estimate.
	EstimateDuration metric.Float64Histogram
}

// estimateBuckets are histogram boundaries in seconds. A 2048-sample frame at
// 44.1 kHz lasts ~46 ms, so anything near the top bucket is falling behind.
var estimateBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates the instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter("notedetect.frames",
		metric.WithDescription("Total sample frames processed."),
	); err != nil {
		return nil, err
	}
	if met.PitchedFrames, err = m.Int64Counter("notedetect.frames.pitched",
		metric.WithDescription("Frames that produced an in-range pitch estimate."),
	); err != nil {
		return nil, err
	}
	if met.Notes, err = m.Int64Counter("notedetect.notes",
		metric.WithDescription("Confirmed note events by note name."),
	); err != nil {
		return nil, err
	}
	if met.Silences, err = m.Int64Counter("notedetect.silences",
		metric.WithDescription("Silence events after a confirmed note."),
	); err != nil {
		return nil, err
	}
	if met.EstimateDuration, err = m.Float64Histogram("notedetect.estimate.duration",
		metric.WithDescription("Latency of a single pitch estimate."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(estimateBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level instance bound to the global
// MeterProvider. Call it after [InitProvider] so the Prometheus bridge is
// the provider in use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordFrame counts one processed frame and its estimate latency.
func (m *Metrics) RecordFrame(ctx context.Context, elapsed time.Duration, pitched bool) {
	m.Frames.Add(ctx, 1)
	m.EstimateDuration.Record(ctx, elapsed.Seconds())
	if pitched {
		m.PitchedFrames.Add(ctx, 1)
	}
}

// RecordNote counts a confirmed note.
func (m *Metrics) RecordNote(ctx context.Context, name string) {
	m.Notes.Add(ctx, 1, metric.WithAttributes(attribute.String("note", name)))
}

// RecordSilence counts a silence event.
func (m *Metrics) RecordSilence(ctx context.Context) {
	m.Silences.Add(ctx, 1)
}
