package transform

import (
	"context"

	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/media"
)

// Run drives t with frames from src until src is closed or ctx is done.
// Frames are transformed one at a time in arrival order. t is destroyed on
// return; frames still buffered in src when ctx ends are released.
func Run(ctx context.Context, src <-chan *media.Frame, t Transformer, ctrl Controller) error {
	if err := t.Init(ctx); err != nil {
		return err
	}
	defer t.Destroy()

	for {
		select {
		case <-ctx.Done():
			drain(src)
			return ctx.Err()
		case frame, ok := <-src:
			if !ok {
				return nil
			}
			t.Transform(frame, ctrl)
		}
	}
}

func drain(src <-chan *media.Frame) {
	for {
		select {
		case frame, ok := <-src:
			if !ok {
				return
			}
			frame.Release()
		default:
			return
		}
	}
}
