// Package observe turns stage and queue events into structured log lines and
// OpenTelemetry metrics.
//
// Components report what happened through small Observer interfaces
// (metadata.Observer, transform.Observer); [Recorder] implements both so the
// control flow in those packages never touches a logger or a meter directly.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/zachmartin/gaming-capture/host/canvas-transform"

// Metrics holds the metric instruments of the service. All fields are safe
// for concurrent use.
type Metrics struct {
	// MetadataMessages counts inbound metadata by outcome
	// ("accepted", "rejected", "malformed", "evicted").
	MetadataMessages metric.Int64Counter

	// MetadataResolutions counts resolve calls by result ("match", "miss").
	MetadataResolutions metric.Int64Counter

	// MetadataPruned counts records discarded because a newer timestamp was
	// resolved.
	MetadataPruned metric.Int64Counter

	// QueueDepth is the number of pending records after the last append.
	QueueDepth metric.Int64Gauge

	// Frames counts frames by outcome ("transformed", "dropped", "emitted",
	// "emit_failed", "cancelled").
	Frames metric.Int64Counter

	// TransformDuration tracks the time spent rendering one frame.
	TransformDuration metric.Float64Histogram

	// EmitWait tracks the time between scheduling and emitting a frame.
	EmitWait metric.Float64Histogram
}

// frameBuckets are histogram boundaries in seconds, from sub-millisecond
// renders up to a multi-second emission delay.
var frameBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2.5,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.MetadataMessages, err = m.Int64Counter("canvas_transform.metadata.messages",
		metric.WithDescription("Inbound metadata messages by outcome."),
	); err != nil {
		return nil, err
	}
	if met.MetadataResolutions, err = m.Int64Counter("canvas_transform.metadata.resolutions",
		metric.WithDescription("Metadata lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.MetadataPruned, err = m.Int64Counter("canvas_transform.metadata.pruned",
		metric.WithDescription("Pending records discarded by a newer match."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64Gauge("canvas_transform.metadata.queue_depth",
		metric.WithDescription("Pending metadata records."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("canvas_transform.frames",
		metric.WithDescription("Frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TransformDuration, err = m.Float64Histogram("canvas_transform.transform.duration",
		metric.WithDescription("Time spent rendering a frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmitWait, err = m.Float64Histogram("canvas_transform.emit.wait",
		metric.WithDescription("Delay between scheduling and emitting a frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

func (m *Metrics) countMetadata(ctx context.Context, outcome string) {
	m.MetadataMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) countFrame(ctx context.Context, outcome string, attrs ...attribute.KeyValue) {
	attrs = append(attrs, attribute.String("outcome", outcome))
	m.Frames.Add(ctx, 1, metric.WithAttributes(attrs...))
}
