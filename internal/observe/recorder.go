package observe

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/media"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/metadata"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/transform"
)

var (
	_ metadata.Observer  = (*Recorder)(nil)
	_ transform.Observer = (*Recorder)(nil)
)

// Recorder logs each event as a structured line with an "event" field and
// updates the matching metric.
type Recorder struct {
	log     zerolog.Logger
	metrics *Metrics
}

// NewRecorder creates a Recorder. m may be nil to log only.
func NewRecorder(log zerolog.Logger, m *Metrics) *Recorder {
	return &Recorder{log: log, metrics: m}
}

func (r *Recorder) event(level zerolog.Level, name string) *zerolog.Event {
	return r.log.WithLevel(level).Str("event", name)
}

func recordFields(e *zerolog.Event, rec metadata.Record) *zerolog.Event {
	e = e.Int64("timestamp", rec.Timestamp)
	if rec.Alpha != nil {
		e = e.Float64("alpha", *rec.Alpha)
	}
	if rec.BackgroundColor != nil {
		e = e.Str("background_color", *rec.BackgroundColor)
	}
	return e
}

func frameFields(e *zerolog.Event, info transform.FrameInfo) *zerolog.Event {
	return e.Int64("timestamp", info.Timestamp).
		Str("trace_id", info.TraceID).
		Int("width", info.Width).
		Int("height", info.Height)
}

// MetadataAccepted implements metadata.Observer.
func (r *Recorder) MetadataAccepted(rec metadata.Record, depth int) {
	recordFields(r.event(zerolog.DebugLevel, "metadata.accepted"), rec).Int("depth", depth).Send()
	if r.metrics != nil {
		ctx := context.Background()
		r.metrics.countMetadata(ctx, "accepted")
		r.metrics.QueueDepth.Record(ctx, int64(depth))
	}
}

// MetadataRejected implements metadata.Observer.
func (r *Recorder) MetadataRejected(rec metadata.Record, last int64) {
	recordFields(r.event(zerolog.WarnLevel, "metadata.rejected"), rec).
		Int64("last_timestamp", last).
		Msg("metadata timestamp is not newer than the last pending record")
	if r.metrics != nil {
		r.metrics.countMetadata(context.Background(), "rejected")
	}
}

// MetadataEvicted implements metadata.Observer.
func (r *Recorder) MetadataEvicted(rec metadata.Record) {
	recordFields(r.event(zerolog.WarnLevel, "metadata.evicted"), rec).Msg("metadata queue full, oldest record evicted")
	if r.metrics != nil {
		r.metrics.countMetadata(context.Background(), "evicted")
	}
}

// MetadataMalformed implements metadata.Observer.
func (r *Recorder) MetadataMalformed(err error) {
	r.event(zerolog.WarnLevel, "metadata.malformed").Err(err).Msg("metadata message discarded")
	if r.metrics != nil {
		r.metrics.countMetadata(context.Background(), "malformed")
	}
}

// MetadataResolved implements metadata.Observer.
func (r *Recorder) MetadataResolved(rec metadata.Record, pruned int) {
	recordFields(r.event(zerolog.DebugLevel, "metadata.resolved"), rec).Int("pruned", pruned).Send()
	if r.metrics != nil {
		ctx := context.Background()
		r.metrics.MetadataResolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "match")))
		if pruned > 0 {
			r.metrics.MetadataPruned.Add(ctx, int64(pruned))
		}
	}
}

// MetadataMissed implements metadata.Observer.
func (r *Recorder) MetadataMissed(ts int64) {
	r.event(zerolog.DebugLevel, "metadata.miss").Int64("timestamp", ts).Send()
	if r.metrics != nil {
		r.metrics.MetadataResolutions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", "miss")))
	}
}

// StageInitialized implements transform.Observer.
func (r *Recorder) StageInitialized(emitDelay time.Duration) {
	r.event(zerolog.InfoLevel, "stage.initialized").Dur("emit_delay", emitDelay).Msg("transform stage ready")
}

// FrameDropped implements transform.Observer.
func (r *Recorder) FrameDropped(info transform.FrameInfo, reason string) {
	frameFields(r.event(zerolog.WarnLevel, "frame.dropped"), info).Str("reason", reason).Send()
	if r.metrics != nil {
		r.metrics.countFrame(context.Background(), "dropped", attribute.String("reason", reason))
	}
}

// FrameTransformed implements transform.Observer.
func (r *Recorder) FrameTransformed(info transform.FrameInfo, matched bool, opacity float64, elapsed time.Duration) {
	frameFields(r.event(zerolog.DebugLevel, "frame.transformed"), info).
		Bool("matched", matched).
		Float64("opacity", opacity).
		Dur("elapsed", elapsed).
		Send()
	if r.metrics != nil {
		ctx := context.Background()
		r.metrics.countFrame(ctx, "transformed", attribute.Bool("matched", matched))
		r.metrics.TransformDuration.Record(ctx, elapsed.Seconds())
	}
}

// FrameEmitted implements transform.Observer.
func (r *Recorder) FrameEmitted(info transform.FrameInfo, waited time.Duration, err error) {
	if errors.Is(err, media.ErrNoReader) {
		frameFields(r.event(zerolog.DebugLevel, "frame.unread"), info).Dur("waited", waited).Send()
		if r.metrics != nil {
			r.metrics.countFrame(context.Background(), "no_reader")
		}
		return
	}
	if err != nil {
		frameFields(r.event(zerolog.WarnLevel, "frame.emit_failed"), info).Err(err).Dur("waited", waited).Send()
		if r.metrics != nil {
			r.metrics.countFrame(context.Background(), "emit_failed")
		}
		return
	}
	frameFields(r.event(zerolog.DebugLevel, "frame.emitted"), info).Dur("waited", waited).Send()
	if r.metrics != nil {
		ctx := context.Background()
		r.metrics.countFrame(ctx, "emitted")
		r.metrics.EmitWait.Record(ctx, waited.Seconds())
	}
}

// EmissionsCancelled implements transform.Observer.
func (r *Recorder) EmissionsCancelled(n int) {
	r.event(zerolog.InfoLevel, "stage.emissions_cancelled").Int("count", n).Msg("pending emissions discarded on teardown")
	if r.metrics != nil {
		r.metrics.Frames.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("outcome", "cancelled")))
	}
}

// StageDestroyed implements transform.Observer.
func (r *Recorder) StageDestroyed() {
	r.event(zerolog.InfoLevel, "stage.destroyed").Msg("transform stage released")
}
