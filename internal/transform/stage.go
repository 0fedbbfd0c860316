// Package transform implements the per-frame stage that matches frames to
// pending metadata, renders the picture-frame effect and hands the result
// downstream after a fixed delay.
package transform

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/emit"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/media"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/metadata"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/render"
)

// DefaultEmitDelay is the delay between processing a frame and emitting it.
const DefaultEmitDelay = time.Second

// Drop reasons reported to the Observer.
const (
	DropNoContext   = "no_context"
	DropInvalidSize = "invalid_size"
	DropEmptyFrame  = "empty_frame"
)

// ErrNoSurface is wrapped in an InitializationError when the surface factory
// returns neither a surface nor an error.
var ErrNoSurface = errors.New("surface factory returned no surface")

// InitializationError reports that the stage could not acquire its drawing
// surface. The stage cannot process frames after it.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return "initialize transform stage: " + e.Err.Error()
}

func (e *InitializationError) Unwrap() error { return e.Err }

// Controller accepts finished frames. Enqueue takes ownership of the frame.
type Controller interface {
	Enqueue(frame *media.Frame) error
}

// ControllerFunc adapts a function to Controller.
type ControllerFunc func(frame *media.Frame) error

// Enqueue implements Controller.
func (f ControllerFunc) Enqueue(frame *media.Frame) error { return f(frame) }

// Transformer is the capability a pipeline driver needs from a stage.
type Transformer interface {
	Init(ctx context.Context) error
	// Transform processes one frame and always releases it.
	Transform(frame *media.Frame, ctrl Controller)
	Destroy()
}

// Border is the decorative outline drawn around every frame.
type Border struct {
	Color color.NRGBA
	Width float64
	Blur  float64
}

// DefaultBorder is a black 50px outline with a 20px black shadow.
var DefaultBorder = Border{Color: color.NRGBA{A: 0xff}, Width: 50, Blur: 20}

// Options configures a Stage.
type Options struct {
	// Surface creates the drawing surface. Default render.NewCanvasSurface.
	Surface render.Factory
	Border  Border
	// EmitDelay defers each emission. Zero emits synchronously inside Transform.
	EmitDelay time.Duration
	// CancelPendingOnDestroy discards emissions still waiting when Destroy is
	// called. When false, Destroy waits until they have been emitted.
	CancelPendingOnDestroy bool
	Observer               Observer
}

type emission struct {
	frame       *media.Frame
	info        FrameInfo
	ctrl        Controller
	scheduledAt time.Time
}

// Stage is the metadata-driven frame transform. Transform must be called from
// one goroutine at a time, in frame arrival order.
type Stage struct {
	queue *metadata.Queue
	opts  Options
	obs   Observer

	mu        sync.Mutex
	surface   render.Surface
	scheduler *emit.Scheduler[emission]
}

// New creates a stage resolving frames against queue.
func New(queue *metadata.Queue, opts Options) *Stage {
	if opts.Surface == nil {
		opts.Surface = render.NewCanvasSurface
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	return &Stage{queue: queue, opts: opts, obs: opts.Observer}
}

// Init acquires a 1x1 opaque surface. It is a no-op when already initialized.
func (s *Stage) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.surface != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &InitializationError{Err: err}
	}

	surface, err := s.opts.Surface(1, 1, render.Options{Opaque: true})
	if err != nil {
		return &InitializationError{Err: err}
	}
	if surface == nil {
		return &InitializationError{Err: ErrNoSurface}
	}

	s.surface = surface
	s.scheduler = emit.New(s.opts.EmitDelay, s.emit, s.discard)
	s.obs.StageInitialized(s.scheduler.Delay())
	return nil
}

// Transform implements Transformer.
func (s *Stage) Transform(frame *media.Frame, ctrl Controller) {
	start := time.Now()
	info := infoOf(frame)

	s.mu.Lock()
	defer s.mu.Unlock()

	surface := s.surface
	if surface == nil {
		frame.Release()
		s.obs.FrameDropped(info, DropNoContext)
		return
	}
	if frame.Image == nil {
		frame.Release()
		s.obs.FrameDropped(info, DropEmptyFrame)
		return
	}

	width, height := frame.DisplayWidth, frame.DisplayHeight
	if err := surface.Resize(width, height); err != nil {
		frame.Release()
		s.obs.FrameDropped(info, DropInvalidSize)
		return
	}

	opacity := 1.0
	rec := s.queue.Resolve(frame.Timestamp)
	matched := !rec.IsNoMatch() && rec.Timestamp == frame.Timestamp
	if matched {
		if a, ok := rec.Opacity(); ok {
			surface.SetGlobalAlpha(a)
			opacity = a
		}
	}

	surface.SetCompositeOperation(render.Lighter)
	surface.DrawImage(frame.Image, 0, 0)
	frame.Release()

	border := s.opts.Border
	surface.StrokeRect(image.Rect(0, 0, width, height), render.Stroke{
		Color:       border.Color,
		Width:       border.Width,
		ShadowColor: border.Color,
		ShadowBlur:  border.Blur,
	})

	out := media.NewFrame(info.Timestamp, surface.Snapshot())
	out.DisplayWidth, out.DisplayHeight = width, height
	out.TraceID = info.TraceID

	s.obs.FrameTransformed(info, matched, opacity, time.Since(start))
	s.scheduler.Schedule(emission{frame: out, info: info, ctrl: ctrl, scheduledAt: time.Now()})
}

// Destroy releases the surface and stops the emission scheduler. It is
// idempotent and a no-op before Init.
func (s *Stage) Destroy() {
	s.mu.Lock()
	surface, scheduler := s.surface, s.scheduler
	s.surface, s.scheduler = nil, nil
	s.mu.Unlock()

	if surface == nil {
		return
	}

	if n := scheduler.Close(!s.opts.CancelPendingOnDestroy); n > 0 {
		s.obs.EmissionsCancelled(n)
	}
	surface.Close()
	s.obs.StageDestroyed()
}

// PendingEmissions returns the number of frames waiting to be emitted.
func (s *Stage) PendingEmissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler == nil {
		return 0
	}
	return s.scheduler.Pending()
}

func (s *Stage) emit(e emission) {
	err := e.ctrl.Enqueue(e.frame)
	s.obs.FrameEmitted(e.info, time.Since(e.scheduledAt), err)
}

func (s *Stage) discard(e emission) {
	e.frame.Release()
}

func infoOf(f *media.Frame) FrameInfo {
	return FrameInfo{
		Timestamp: f.Timestamp,
		TraceID:   f.TraceID,
		Width:     f.DisplayWidth,
		Height:    f.DisplayHeight,
	}
}
