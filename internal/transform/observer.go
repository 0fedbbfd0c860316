package transform

import "time"

// FrameInfo identifies a frame in observer events. It stays valid after the
// frame has been released.
type FrameInfo struct {
	Timestamp int64
	TraceID   string
	Width     int
	Height    int
}

// Observer receives structured events from the stage. Implementations must be
// safe for concurrent use; emission events arrive from the scheduler goroutine.
type Observer interface {
	StageInitialized(emitDelay time.Duration)
	FrameDropped(info FrameInfo, reason string)
	FrameTransformed(info FrameInfo, matched bool, opacity float64, elapsed time.Duration)
	FrameEmitted(info FrameInfo, waited time.Duration, err error)
	EmissionsCancelled(n int)
	StageDestroyed()
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) StageInitialized(time.Duration)                           {}
func (NopObserver) FrameDropped(FrameInfo, string)                           {}
func (NopObserver) FrameTransformed(FrameInfo, bool, float64, time.Duration) {}
func (NopObserver) FrameEmitted(FrameInfo, time.Duration, error)             {}
func (NopObserver) EmissionsCancelled(int)                                   {}
func (NopObserver) StageDestroyed()                                          {}
