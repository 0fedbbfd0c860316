package transform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/media"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/metadata"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/render"
)

// fakeSurface records the drawing calls made by the stage.
type fakeSurface struct {
	mu     sync.Mutex
	calls  []string
	w, h   int
	alpha  float64
	op     render.Op
	closed bool
}

func (f *fakeSurface) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeSurface) Resize(w, h int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w <= 0 || h <= 0 {
		return render.ErrInvalidSize
	}
	f.w, f.h, f.alpha, f.op = w, h, 1, render.SourceOver
	f.record("resize %dx%d", w, h)
	return nil
}

func (f *fakeSurface) Size() (int, int) { return f.w, f.h }

func (f *fakeSurface) SetGlobalAlpha(a float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alpha = a
	f.record("alpha %.1f", a)
}

func (f *fakeSurface) SetCompositeOperation(op render.Op) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.op = op
	f.record("op %s", op)
}

func (f *fakeSurface) DrawImage(src image.Image, x, y int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("draw alpha=%.1f op=%s", f.alpha, f.op)
}

func (f *fakeSurface) StrokeRect(r image.Rectangle, s render.Stroke) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stroke %v width=%.0f blur=%.0f", r, s.Width, s.ShadowBlur)
}

func (f *fakeSurface) Snapshot() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, f.w, f.h))
}

func (f *fakeSurface) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSurface) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func fakeFactory(s *fakeSurface) render.Factory {
	return func(w, h int, opts render.Options) (render.Surface, error) {
		s.w, s.h = w, h
		return s, nil
	}
}

// sink collects emitted frames.
type sink struct {
	mu     sync.Mutex
	frames []*media.Frame
}

func (s *sink) Enqueue(f *media.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *sink) Timestamps() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Timestamp
	}
	return out
}

// countingObserver counts stage events.
type countingObserver struct {
	NopObserver
	mu        sync.Mutex
	dropped   []string
	delays    []time.Duration
	matched   []bool
	emitted   int
	cancelled int
	destroyed int
}

func (o *countingObserver) StageInitialized(delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delays = append(o.delays, delay)
}

func (o *countingObserver) FrameDropped(_ FrameInfo, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, reason)
}

func (o *countingObserver) FrameTransformed(_ FrameInfo, matched bool, _ float64, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.matched = append(o.matched, matched)
}

func (o *countingObserver) FrameEmitted(FrameInfo, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emitted++
}

func (o *countingObserver) EmissionsCancelled(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled += n
}

func (o *countingObserver) StageDestroyed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.destroyed++
}

func alpha(v float64) *float64 { return &v }

func solidFrame(ts int64, w, h int, c color.RGBA) (*media.Frame, *int) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	f := media.NewFrame(ts, img)
	f.TraceID = fmt.Sprintf("trace-%d", ts)
	releases := new(int)
	f.OnRelease(func() { *releases++ })
	return f, releases
}

func TestStageAlphaScaling(t *testing.T) {
	q := metadata.NewQueue(0, nil)
	q.Append(metadata.Record{Timestamp: 100, Alpha: alpha(7)})

	surface := &fakeSurface{}
	out := &sink{}
	stage := New(q, Options{Surface: fakeFactory(surface), Border: DefaultBorder})
	require.NoError(t, stage.Init(context.Background()))
	defer stage.Destroy()

	frame, releases := solidFrame(100, 4, 2, color.RGBA{A: 255})
	stage.Transform(frame, out)

	assert.Equal(t, []string{
		"resize 4x2",
		"alpha 0.7",
		"op lighter",
		"draw alpha=0.7 op=lighter",
		"stroke (0,0)-(4,2) width=50 blur=20",
	}, surface.Calls())
	assert.Equal(t, 1, *releases)
	require.Equal(t, []int64{100}, out.Timestamps())
	assert.Equal(t, "trace-100", out.frames[0].TraceID)
	assert.Equal(t, 4, out.frames[0].DisplayWidth)
	assert.Equal(t, 2, out.frames[0].DisplayHeight)
}

func TestStageNoMatchKeepsDefaultOpacity(t *testing.T) {
	q := metadata.NewQueue(0, nil)
	q.Append(metadata.Record{Timestamp: 200, Alpha: alpha(3)})

	surface := &fakeSurface{}
	obs := &countingObserver{}
	stage := New(q, Options{Surface: fakeFactory(surface), Observer: obs})
	require.NoError(t, stage.Init(context.Background()))
	defer stage.Destroy()

	frame, releases := solidFrame(150, 2, 2, color.RGBA{A: 255})
	stage.Transform(frame, &sink{})

	assert.NotContains(t, surface.Calls(), "alpha 0.3")
	assert.Contains(t, surface.Calls(), "draw alpha=1.0 op=lighter")
	assert.Equal(t, 1, *releases)
	assert.Equal(t, []bool{false}, obs.matched)
	assert.Equal(t, 1, q.Len(), "a miss must not prune the queue")
}

func TestStageMatchWithoutAlpha(t *testing.T) {
	q := metadata.NewQueue(0, nil)
	bg := "red"
	q.Append(metadata.Record{Timestamp: 10, BackgroundColor: &bg})

	surface := &fakeSurface{}
	obs := &countingObserver{}
	stage := New(q, Options{Surface: fakeFactory(surface), Observer: obs})
	require.NoError(t, stage.Init(context.Background()))
	defer stage.Destroy()

	frame, _ := solidFrame(10, 2, 2, color.RGBA{A: 255})
	stage.Transform(frame, &sink{})

	assert.Contains(t, surface.Calls(), "draw alpha=1.0 op=lighter")
	assert.Equal(t, []bool{true}, obs.matched)
	assert.Equal(t, 0, q.Len())
}

func TestStageResetsOpacityBetweenFrames(t *testing.T) {
	q := metadata.NewQueue(0, nil)
	q.Append(metadata.Record{Timestamp: 1, Alpha: alpha(2)})

	surface := &fakeSurface{}
	stage := New(q, Options{Surface: fakeFactory(surface)})
	require.NoError(t, stage.Init(context.Background()))
	defer stage.Destroy()

	f1, _ := solidFrame(1, 2, 2, color.RGBA{A: 255})
	f2, _ := solidFrame(2, 2, 2, color.RGBA{A: 255})
	stage.Transform(f1, &sink{})
	stage.Transform(f2, &sink{})

	calls := surface.Calls()
	assert.Contains(t, calls, "draw alpha=0.2 op=lighter")
	assert.Equal(t, "draw alpha=1.0 op=lighter", calls[len(calls)-2])
}

func TestStageReleasesFrameExactlyOnceOnEveryPath(t *testing.T) {
	tests := []struct {
		name   string
		init   bool
		queue  []metadata.Record
		ts     int64
		width  int
		empty  bool
		reason string
	}{
		{name: "match", init: true, queue: []metadata.Record{{Timestamp: 5, Alpha: alpha(5)}}, ts: 5, width: 2},
		{name: "no match", init: true, ts: 5, width: 2},
		{name: "missing context", init: false, ts: 5, width: 2, reason: DropNoContext},
		{name: "invalid size", init: true, ts: 5, width: 0, reason: DropInvalidSize},
		{name: "empty frame", init: true, ts: 5, width: 2, empty: true, reason: DropEmptyFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := metadata.NewQueue(0, nil)
			for _, rec := range tt.queue {
				q.Append(rec)
			}
			obs := &countingObserver{}
			stage := New(q, Options{Surface: fakeFactory(&fakeSurface{}), Observer: obs})
			if tt.init {
				require.NoError(t, stage.Init(context.Background()))
				defer stage.Destroy()
			}

			frame, releases := solidFrame(tt.ts, 2, 2, color.RGBA{A: 255})
			frame.DisplayWidth = tt.width
			if tt.empty {
				frame.Image = nil
			}
			out := &sink{}
			stage.Transform(frame, out)

			assert.Equal(t, 1, *releases)
			assert.True(t, frame.Released())
			if tt.reason != "" {
				assert.Equal(t, []string{tt.reason}, obs.dropped)
				assert.Empty(t, out.Timestamps())
			} else {
				assert.Empty(t, obs.dropped)
				assert.Equal(t, []int64{tt.ts}, out.Timestamps())
			}
		})
	}
}

func TestStageReportsEmitDelayOnInit(t *testing.T) {
	obs := &countingObserver{}
	stage := New(metadata.NewQueue(0, nil), Options{
		Surface:   fakeFactory(&fakeSurface{}),
		EmitDelay: 250 * time.Millisecond,
		Observer:  obs,
	})
	require.NoError(t, stage.Init(context.Background()))
	defer stage.Destroy()
	require.NoError(t, stage.Init(context.Background()))

	assert.Equal(t, []time.Duration{250 * time.Millisecond}, obs.delays)
}

func TestStageAfterDestroyDropsFrames(t *testing.T) {
	obs := &countingObserver{}
	stage := New(metadata.NewQueue(0, nil), Options{Surface: fakeFactory(&fakeSurface{}), Observer: obs})
	require.NoError(t, stage.Init(context.Background()))
	stage.Destroy()

	frame, releases := solidFrame(1, 2, 2, color.RGBA{A: 255})
	stage.Transform(frame, &sink{})

	assert.Equal(t, 1, *releases)
	assert.Equal(t, []string{DropNoContext}, obs.dropped)
}

func TestStageInitFailure(t *testing.T) {
	cause := errors.New("no 2d context")
	stage := New(metadata.NewQueue(0, nil), Options{
		Surface: func(int, int, render.Options) (render.Surface, error) { return nil, cause },
	})

	err := stage.Init(context.Background())
	require.Error(t, err)

	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.ErrorIs(t, err, cause)
}

func TestStageInitNilSurface(t *testing.T) {
	stage := New(metadata.NewQueue(0, nil), Options{
		Surface: func(int, int, render.Options) (render.Surface, error) { return nil, nil },
	})
	assert.ErrorIs(t, stage.Init(context.Background()), ErrNoSurface)
}

func TestStageInitCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stage := New(metadata.NewQueue(0, nil), Options{Surface: fakeFactory(&fakeSurface{})})

	var initErr *InitializationError
	assert.ErrorAs(t, stage.Init(ctx), &initErr)
}

func TestStageDestroyCancelsPendingEmissions(t *testing.T) {
	surface := &fakeSurface{}
	obs := &countingObserver{}
	out := &sink{}
	stage := New(metadata.NewQueue(0, nil), Options{
		Surface:                fakeFactory(surface),
		EmitDelay:              time.Hour,
		CancelPendingOnDestroy: true,
		Observer:               obs,
	})
	require.NoError(t, stage.Init(context.Background()))

	frame, _ := solidFrame(1, 2, 2, color.RGBA{A: 255})
	stage.Transform(frame, out)
	assert.Equal(t, 1, stage.PendingEmissions())

	stage.Destroy()
	stage.Destroy()

	assert.Empty(t, out.Timestamps())
	assert.Equal(t, 1, obs.cancelled)
	assert.Equal(t, 1, obs.destroyed)
	assert.True(t, surface.closed)
	assert.Equal(t, 0, stage.PendingEmissions())
}

func TestStageDestroyFlushesPendingEmissions(t *testing.T) {
	out := &sink{}
	stage := New(metadata.NewQueue(0, nil), Options{
		Surface:   fakeFactory(&fakeSurface{}),
		EmitDelay: 20 * time.Millisecond,
	})
	require.NoError(t, stage.Init(context.Background()))

	for _, ts := range []int64{1, 2, 3} {
		frame, _ := solidFrame(ts, 2, 2, color.RGBA{A: 255})
		stage.Transform(frame, out)
	}
	stage.Destroy()

	assert.Equal(t, []int64{1, 2, 3}, out.Timestamps())
}

func TestStageDestroyBeforeInit(t *testing.T) {
	obs := &countingObserver{}
	stage := New(metadata.NewQueue(0, nil), Options{Observer: obs})
	stage.Destroy()
	assert.Equal(t, 0, obs.destroyed)
}

// End to end with the software canvas: metadata {100, alpha 5} is accepted,
// {90} is rejected, and frame 100 is emitted at half intensity after the
// delay with its original timestamp.
func TestStageEndToEnd(t *testing.T) {
	q := metadata.NewQueue(0, nil)
	listener := metadata.NewListener(nil, q, nil)

	result, err := listener.Handle([]byte(`{"timestamp": 100, "alpha": 5}`))
	require.NoError(t, err)
	require.Equal(t, metadata.Accepted, result)
	result, err = listener.Handle([]byte(`{"timestamp": 90}`))
	require.NoError(t, err)
	require.Equal(t, metadata.Rejected, result)
	require.Equal(t, 1, q.Len())

	out := &sink{}
	stage := New(q, Options{Border: DefaultBorder, EmitDelay: 20 * time.Millisecond})
	require.NoError(t, stage.Init(context.Background()))
	defer stage.Destroy()

	frame, releases := solidFrame(100, 120, 120, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	stage.Transform(frame, out)
	assert.Equal(t, 1, *releases)
	assert.Empty(t, out.Timestamps(), "emission is deferred")

	require.Eventually(t, func() bool { return len(out.Timestamps()) == 1 }, 2*time.Second, 5*time.Millisecond)

	emitted := out.frames[0]
	assert.Equal(t, int64(100), emitted.Timestamp)
	// The default border is black and drawn additively, so the centre pixel
	// only reflects the halved input.
	assert.Equal(t, color.RGBA{R: 100, G: 50, B: 25, A: 255}, emitted.Image.RGBAAt(60, 60))
	assert.True(t, q.Resolve(100).IsNoMatch(), "metadata 100 was consumed")
}
