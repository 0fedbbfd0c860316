package metadata

import "context"

// Listener drains raw host messages from an inbound channel into a Queue.
type Listener struct {
	in    <-chan []byte
	queue *Queue
	obs   Observer
}

// NewListener creates a Listener reading from in. A nil observer is replaced
// by NopObserver.
func NewListener(in <-chan []byte, queue *Queue, obs Observer) *Listener {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Listener{in: in, queue: queue, obs: obs}
}

// Run consumes messages until ctx is cancelled or the channel is closed.
// It returns ctx.Err() on cancellation and nil when the channel closes.
func (l *Listener) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-l.in:
			if !ok {
				return nil
			}
			l.Handle(raw)
		}
	}
}

// Handle decodes one message and appends it to the queue. Malformed messages
// are reported to the observer and discarded.
func (l *Listener) Handle(raw []byte) (AppendResult, error) {
	rec, err := Decode(raw)
	if err != nil {
		l.obs.MetadataMalformed(err)
		return Rejected, err
	}
	return l.queue.Append(rec), nil
}
