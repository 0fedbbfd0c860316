package media

import (
	"errors"
	"image"
	"sync/atomic"
)

// FrameType identifies the pixel layout of a frame on the wire
type FrameType byte

const (
	FrameTypeRGBA FrameType = 0x01
)

// FrameFlags contains frame metadata flags
type FrameFlags byte

const (
	// FlagOpaque marks frames whose alpha channel should be ignored downstream.
	FlagOpaque FrameFlags = 0x01
)

// HeaderSize is the size of the IPC frame header in bytes
// Type(1) + Flags(1) + PTS(8) + Width(2) + Height(2) + Length(4) = 18
const HeaderSize = 18

// ErrFrameReleased is returned when a frame is released more than once.
var ErrFrameReleased = errors.New("frame already released")

func (t FrameType) String() string {
	switch t {
	case FrameTypeRGBA:
		return "RGBA"
	default:
		return "Unknown"
	}
}

// Frame is one timestamped raw picture owned by the pipeline.
//
// Whoever holds a frame owns it until Release is called. Release must be called
// exactly once; the pixel buffer must not be touched afterwards.
type Frame struct {
	Timestamp     int64 // presentation timestamp in microseconds
	DisplayWidth  int
	DisplayHeight int
	Image         *image.RGBA
	Opaque        bool
	TraceID       string

	released  atomic.Bool
	onRelease func()
}

// NewFrame wraps img as a frame whose display size matches the image bounds.
func NewFrame(timestamp int64, img *image.RGBA) *Frame {
	b := img.Bounds()
	return &Frame{
		Timestamp:     timestamp,
		DisplayWidth:  b.Dx(),
		DisplayHeight: b.Dy(),
		Image:         img,
	}
}

// OnRelease registers fn to run when the frame is released. It replaces any
// previously registered hook.
func (f *Frame) OnRelease(fn func()) {
	f.onRelease = fn
}

// Release hands the frame's buffer back. A second call returns
// ErrFrameReleased and does not run the release hook again.
func (f *Frame) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return ErrFrameReleased
	}
	f.Image = nil
	if f.onRelease != nil {
		f.onRelease()
	}
	return nil
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	return f.released.Load()
}
