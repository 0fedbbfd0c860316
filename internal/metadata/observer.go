package metadata

// Observer receives structured events from the queue and the listener.
// Implementations must be safe for concurrent use and must not call back into
// the Queue.
type Observer interface {
	MetadataAccepted(rec Record, depth int)
	MetadataRejected(rec Record, lastTimestamp int64)
	MetadataEvicted(rec Record)
	MetadataMalformed(err error)
	// MetadataResolved reports a match; pruned is the number of older
	// records discarded along with it.
	MetadataResolved(rec Record, pruned int)
	MetadataMissed(timestamp int64)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) MetadataAccepted(Record, int)   {}
func (NopObserver) MetadataRejected(Record, int64) {}
func (NopObserver) MetadataEvicted(Record)         {}
func (NopObserver) MetadataMalformed(error)        {}
func (NopObserver) MetadataResolved(Record, int)   {}
func (NopObserver) MetadataMissed(int64)           {}
